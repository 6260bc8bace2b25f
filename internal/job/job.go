// Package job implements the unit of work dispatched through a pool to a
// worker: a query string or recognized control verb, a status guarded by
// compare-and-swap transitions, a result slot, and a completion notifier.
package job

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the one-way-forward lifecycle of a Job.
type Status int

const (
	// StatusPending is the initial state: queued, not yet claimed by a worker.
	StatusPending Status = iota
	// StatusProcessing means a worker has claimed the job and is executing it.
	StatusProcessing
	// StatusComplete means the job has a final result (rows, affected-rows, or error).
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies a Job by an exact match of the incoming query string
// (trailing whitespace trimmed) against the reserved control-verb table.
type Kind int

const (
	KindNormal Kind = iota
	KindGlobalStats
	KindLocalStats
	KindStartup
	KindShutdown
	KindGlobalShutdown
)

// controlVerbs maps exact (whitespace-trimmed) query text to its Kind.
// Matching is exact, not prefix, per the REDESIGN FLAG in spec.md §9:
// the original squale used has_prefix, so "squale_shutdownXYZ" also
// matched "squale_shutdown" — judged unintended and fixed here.
var controlVerbs = map[string]Kind{
	"squale_global_stats":    KindGlobalStats,
	"squale_local_stats":     KindLocalStats,
	"squale_startup":         KindStartup,
	"squale_shutdown":        KindShutdown,
	"squale_global_shutdown": KindGlobalShutdown,
}

// Result holds the mutually exclusive outcomes of a Job.
type Result struct {
	Rows         *RowSet
	AffectedRows int64
	HasAffected  bool
	Err          error
}

// RowSet is a row-oriented resultset with named columns and raw cell
// bytes; the Client encodes it to wire format when it sends the reply.
type RowSet struct {
	Columns []string
	Rows    [][][]byte
	Warning string
}

// Job is a single client request executed against one backend.
type Job struct {
	ID    string
	Query string
	Kind  Kind

	CreatedAt   time.Time
	AssignedAt  time.Time
	CompletedAt time.Time

	// done is the completion notifier: it receives exactly one value, sent
	// by whichever transition moves the Job to StatusComplete. A buffered channel of
	// size 1 plays the role the reference design gives a socketpair byte.
	done chan struct{}

	mu     sync.Mutex
	status Status
	result Result
}

// New creates a Job for the given raw query string, already classified.
func New(query string) *Job {
	j := &Job{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		status:    StatusPending,
		done:      make(chan struct{}, 1),
	}
	j.SetQuery(query)
	return j
}

// SetQuery classifies the job by exact-match against the control verb
// table (trimmed of trailing whitespace) and stores the raw query. It is
// idempotent until the job's first status transition.
func (j *Job) SetQuery(query string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return
	}
	j.Query = query
	trimmed := strings.TrimRight(query, " \t\r\n")
	if kind, ok := controlVerbs[trimmed]; ok {
		j.Kind = kind
	} else {
		j.Kind = KindNormal
	}
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done returns the completion notifier channel. It becomes readable
// exactly once, after the transition to StatusComplete, and must be
// drained before the caller inspects Result().
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Transition attempts an atomic CAS from `from` to `to` under the job
// mutex. Only PENDING->PROCESSING, PENDING->COMPLETE, PROCESSING->COMPLETE,
// and PROCESSING->PENDING (used by giveup) are valid; any other pair
// always fails. Returns whether the transition happened.
func (j *Job) Transition(from, to Status) bool {
	if !validTransition(from, to) {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != from {
		return false
	}
	j.status = to

	now := time.Now()
	switch to {
	case StatusProcessing:
		j.AssignedAt = now
	case StatusComplete:
		j.CompletedAt = now
		j.notifyLocked()
	}
	return true
}

func validTransition(from, to Status) bool {
	switch {
	case from == StatusPending && to == StatusProcessing:
		return true
	case from == StatusPending && to == StatusComplete:
		return true
	case from == StatusProcessing && to == StatusComplete:
		return true
	case from == StatusProcessing && to == StatusPending:
		return true
	default:
		return false
	}
}

// notifyLocked writes the single completion signal. Must be called with
// j.mu held. A non-blocking send keeps this safe even if Done() is never
// read (e.g. the Client already disconnected).
func (j *Job) notifyLocked() {
	select {
	case j.done <- struct{}{}:
	default:
	}
}

// SetResult installs the job's outcome. Callers must hold no expectation
// about ordering relative to Transition: the convention used throughout
// this codebase is SetResult followed immediately by Transition(...,
// StatusComplete), both performed by the same goroutine (the worker, or
// the Client for a synchronously-handled control verb).
func (j *Job) SetResult(r Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = r
}

// Result returns a copy of the job's result slot. Only meaningful once
// Status() == StatusComplete.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// AssignationDelayMs returns the milliseconds between creation and
// assignment, truncated to int32 range per the wire format.
func (j *Job) AssignationDelayMs() int32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.AssignedAt.IsZero() {
		return 0
	}
	return int32(j.AssignedAt.Sub(j.CreatedAt).Milliseconds())
}

// ProcessingTimeMs returns the milliseconds between assignment and
// completion, truncated to int32 range per the wire format.
func (j *Job) ProcessingTimeMs() int32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.CompletedAt.IsZero() || j.AssignedAt.IsZero() {
		return 0
	}
	return int32(j.CompletedAt.Sub(j.AssignedAt).Milliseconds())
}

// CompleteFromKeyValueMap emits a 2-column ("Name", "Value") resultset
// from m (sorted for determinism) and transitions PENDING->COMPLETE.
func (j *Job) CompleteFromKeyValueMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][][]byte, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, [][]byte{[]byte(k), []byte(m[k])})
	}

	j.SetResult(Result{Rows: &RowSet{Columns: []string{"Name", "Value"}, Rows: rows}})
	j.Transition(StatusPending, StatusComplete)
}
