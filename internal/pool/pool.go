// Package pool implements the JobList: a named FIFO queue of jobs plus its
// attached workers, admission control, and per-cycle statistics, guarded by
// a mutex/condition-variable pair per spec.md §4.3.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/squaled/squaled/internal/job"
)

// Status is the open/closed lifecycle of a Pool.
type Status int

const (
	StatusOpened Status = iota
	StatusClosed
)

// ErrBlocked is returned by Add when admission control rejects a job
// because the pending count has reached max_pending_block.
type ErrBlocked struct {
	Pending int
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("pool blocked: %d pending jobs at or above admission threshold", e.Pending)
}

// ErrClosedOrNoWorkers is returned by Add when the pool is CLOSED or has no
// currently running worker.
var ErrClosedOrNoWorkers = fmt.Errorf("pool is closed or has no running workers")

// WorkerInfo is the minimal read-only view a Pool needs from its attached
// workers to answer stats queries and to know whether admission should
// succeed, without the pool package depending on the worker package
// (workers depend on pools, not the reverse).
type WorkerInfo interface {
	Running() bool
	Status() string
	Processed() int64
	Errors() int64
	ReconnectCycles() int64
}

// Stats is a snapshot of a Pool's counters, per spec.md §4.3 get_stats.
type Stats struct {
	Name              string
	Backend           string
	NumWorkers        int
	Pending           int
	TotalSize         int
	ProcessedJobs     int64
	ErrorJobs         int64
	AvgAssignMs       float64
	AvgProcessMs      float64
	UptimeSeconds     float64
	Workers           []WorkerStat
}

// WorkerStat is one attached worker's contribution to Stats.
type WorkerStat struct {
	Status           string
	Processed        int64
	Errors           int64
	ReconnectCycles  int64
}

// Pool is a named group of workers sharing a job queue and backend.
type Pool struct {
	name    string
	backend string

	maxPendingWarn  int
	maxPendingBlock int

	mu     sync.Mutex
	cond   *sync.Cond
	status Status
	jobs   []*job.Job

	workers []WorkerInfo

	shutdownRequested bool

	sumAssignMs   int64
	countAssign   int64
	sumProcessMs  int64
	countProcess  int64
	countErrors   int64
	startedAt     time.Time
}

// New creates an OPENED pool.
func New(name, backend string, maxPendingWarn, maxPendingBlock int) *Pool {
	p := &Pool{
		name:            name,
		backend:         backend,
		maxPendingWarn:  maxPendingWarn,
		maxPendingBlock: maxPendingBlock,
		status:          StatusOpened,
		startedAt:       time.Now(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// Backend returns the pool's backend tag.
func (p *Pool) Backend() string { return p.backend }

// AttachWorker registers a worker for stats reporting and running-worker
// admission checks.
func (p *Pool) AttachWorker(w WorkerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, w)
}

// ReplaceWorkers swaps the pool's entire worker set in one step, used when
// squale_startup relaunches a closed pool with a freshly built generation
// of workers rather than appending to the stale, already-exited one.
func (p *Pool) ReplaceWorkers(workers []WorkerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = workers
}

// runningWorkerCountLocked must be called with p.mu held.
func (p *Pool) runningWorkerCountLocked() int {
	n := 0
	for _, w := range p.workers {
		if w.Running() {
			n++
		}
	}
	return n
}

func (p *Pool) pendingCountLocked() int {
	n := 0
	for _, j := range p.jobs {
		if j.Status() == job.StatusPending {
			n++
		}
	}
	return n
}

// Add admits a job to the pool. On success, ownership of the job is
// considered transferred to the pool and exactly one waiter is signaled.
func (p *Pool) Add(j *job.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusClosed || p.runningWorkerCountLocked() == 0 {
		return ErrClosedOrNoWorkers
	}

	pending := p.pendingCountLocked()

	if p.maxPendingBlock > 0 && pending >= p.maxPendingBlock {
		return &ErrBlocked{Pending: pending}
	}

	if p.maxPendingWarn > 0 && pending >= p.maxPendingWarn {
		// Reaching the warn threshold has no effect: Add admits the job,
		// logs nothing, and Stats does not record that the threshold was
		// crossed.
		_ = pending
	}

	p.jobs = append(p.jobs, j)
	p.cond.Signal()
	return nil
}

// Remove deletes job j from the pool if present, updating statistics.
// Returns whether the job was found.
func (p *Pool) Remove(j *job.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(j)
}

func (p *Pool) removeLocked(j *job.Job) bool {
	for i, cur := range p.jobs {
		if cur == j {
			p.jobs = append(p.jobs[:i], p.jobs[i+1:]...)
			p.sumAssignMs += int64(j.AssignationDelayMs())
			p.countAssign++
			if j.Status() == job.StatusComplete {
				p.sumProcessMs += int64(j.ProcessingTimeMs())
				p.countProcess++
				if j.Result().Err != nil {
					p.countErrors++
				}
			}
			return true
		}
	}
	return false
}

// AssignPending scans the FIFO in arrival order for a PENDING job and
// attempts a CAS to PROCESSING on each candidate until one succeeds.
//
// If keepLocked is true and no transition succeeded, AssignPending
// returns with the pool mutex still held, so the caller can atomically
// move to waiting on the condition variable without a lost-wakeup race
// against a concurrent Add or shutdown broadcast. The caller MUST call
// Unlock() in that case, after Wait() if it chooses to wait.
func (p *Pool) AssignPending(keepLocked bool) (j *job.Job, heldLocked bool) {
	p.mu.Lock()

	for _, cand := range p.jobs {
		if cand.Status() != job.StatusPending {
			continue
		}
		if cand.Transition(job.StatusPending, job.StatusProcessing) {
			p.mu.Unlock()
			return cand, false
		}
	}

	if keepLocked {
		return nil, true
	}
	p.mu.Unlock()
	return nil, false
}

// Wait blocks on the pool's condition variable. The caller must hold the
// mutex (i.e. have just received heldLocked=true from AssignPending); Wait
// releases it atomically and re-acquires before returning.
func (p *Pool) Wait() {
	p.cond.Wait()
}

// Unlock releases the mutex held after AssignPending(true) returned
// heldLocked=true without a job, when the caller decides not to wait.
func (p *Pool) Unlock() {
	p.mu.Unlock()
}

// ShutdownRequestedLocked reports the shutdown flag; must be called with
// the mutex held (i.e. from inside the AssignPending(true)/Wait() loop).
func (p *Pool) ShutdownRequestedLocked() bool {
	return p.shutdownRequested
}

// BroadcastShutdown sets the shutdown flag and wakes every waiter.
func (p *Pool) BroadcastShutdown() {
	p.mu.Lock()
	p.shutdownRequested = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Giveup returns an in-progress job to PENDING after its worker's backend
// connection died mid-flight. If the job cannot be re-added (pool closed
// in the interim), it is instead marked COMPLETE with an admission error.
func (p *Pool) Giveup(j *job.Job) {
	p.mu.Lock()
	p.removeLocked(j)
	ok := j.Transition(job.StatusProcessing, job.StatusPending)
	p.mu.Unlock()

	if !ok {
		return
	}

	if err := p.Add(j); err != nil {
		j.SetResult(job.Result{Err: fmt.Errorf("job could not be reassigned after backend loss: %w", err)})
		j.Transition(job.StatusPending, job.StatusComplete)
	}
}

// Clear drops all jobs from the pool. A job a client still references
// survives (the client owns the only remaining reference) but is no
// longer schedulable.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = nil
}

// GetStatus returns the pool's current open/closed status.
func (p *Pool) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus changes the pool's status. Setting CLOSED also sets the
// shutdown flag and wakes every waiting worker, so idle workers leave
// their run loops. Transitioning CLOSED->OPENED resets the statistics
// block, startup timestamp and shutdown flag, matching spec.md §4.3; an
// OPENED->OPENED call does nothing further.
func (p *Pool) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusClosed && s == StatusOpened {
		p.sumAssignMs = 0
		p.countAssign = 0
		p.sumProcessMs = 0
		p.countProcess = 0
		p.countErrors = 0
		p.startedAt = time.Now()
		p.shutdownRequested = false
	}
	if s == StatusClosed {
		p.shutdownRequested = true
		p.cond.Broadcast()
	}
	p.status = s
}

// GetStats assembles a snapshot per spec.md §4.3: pending/size counted
// under the lock, then worker stats gathered without it.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	pending := p.pendingCountLocked()
	total := len(p.jobs)
	var avgAssign, avgProcess float64
	if p.countAssign > 0 {
		avgAssign = float64(p.sumAssignMs) / float64(p.countAssign)
	}
	if p.countProcess > 0 {
		avgProcess = float64(p.sumProcessMs) / float64(p.countProcess)
	}
	errs := p.countErrors
	uptime := time.Since(p.startedAt).Seconds()
	workers := make([]WorkerInfo, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	stats := Stats{
		Name:          p.name,
		Backend:       p.backend,
		NumWorkers:    len(workers),
		Pending:       pending,
		TotalSize:     total,
		AvgAssignMs:   avgAssign,
		AvgProcessMs:  avgProcess,
		UptimeSeconds: uptime,
		ErrorJobs:     errs,
	}

	var processed int64
	for _, w := range workers {
		stats.Workers = append(stats.Workers, WorkerStat{
			Status:          w.Status(),
			Processed:       w.Processed(),
			Errors:          w.Errors(),
			ReconnectCycles: w.ReconnectCycles(),
		})
		processed += w.Processed()
	}
	stats.ProcessedJobs = processed

	return stats
}

// MaxPendingWarn returns the configured warn threshold (0 = disabled).
func (p *Pool) MaxPendingWarn() int { return p.maxPendingWarn }

// MaxPendingBlock returns the configured block threshold (0 = disabled).
func (p *Pool) MaxPendingBlock() int { return p.maxPendingBlock }
