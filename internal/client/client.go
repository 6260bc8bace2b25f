// Package client implements the per-connection state machine described in
// spec.md §4.4: read a pool name and a query under a protocol timeout,
// dispatch to a pool or handle a control verb synchronously, then write
// back the wire-encoded result.
//
// The reference design is a single-threaded non-blocking reactor
// (AWAIT_POOL/AWAIT_QUERY/PROCESSING/SENDING states driven by readiness
// events). Go's goroutine-per-connection model with blocking I/O and
// read deadlines reaches the same externally observable behavior —
// including the 1000ms protocol timeout — without needing partial-read
// bookkeeping, so Client.Serve runs synchronously on its own goroutine
// instead of being driven by an external dispatcher loop.
package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/squaled/squaled/internal/job"
	"github.com/squaled/squaled/internal/pool"
	"github.com/squaled/squaled/internal/wire"
)

// protocolTimeout is the deadline from accept to end of query read,
// per spec.md §5.
const protocolTimeout = 1000 * time.Millisecond

// Registry is the server root's surface a Client needs: pool lookup by
// case-insensitive name, global stats, and pool/process lifecycle verbs.
// Declared here (rather than importing the server root package) so the
// dependency runs squaled -> client, not the reverse.
type Registry interface {
	LookupPool(name string) (*pool.Pool, bool)
	GlobalStats() map[string]string
	StartupPool(name string) error
	ShutdownPool(name string) error
	TriggerGlobalShutdown()
}

// Logger is the minimal logging surface a Client needs; satisfied by
// *logging.Manager.
type Logger interface {
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Client owns one accepted connection end to end.
type Client struct {
	conn     net.Conn
	registry Registry
	log      Logger
}

// New wraps an accepted connection.
func New(conn net.Conn, registry Registry, log Logger) *Client {
	return &Client{conn: conn, registry: registry, log: log}
}

// Serve runs the client to completion: reads pool name and query under
// the protocol timeout, dispatches, writes the result, and closes the
// connection. It returns once the connection is done, successfully or
// not; callers run it on its own goroutine.
func (c *Client) Serve(ctx context.Context) {
	defer c.conn.Close()

	if err := c.conn.SetReadDeadline(time.Now().Add(protocolTimeout)); err != nil {
		return
	}

	poolName, err := wire.ReadLengthPrefixed(c.conn)
	if err != nil {
		return
	}
	query, err := wire.ReadLengthPrefixed(c.conn)
	if err != nil {
		return
	}
	// Cancel the protocol timeout: queries may run arbitrarily long.
	_ = c.conn.SetReadDeadline(time.Time{})

	j := c.dispatch(ctx, poolName, query)

	select {
	case <-j.Done():
	case <-ctx.Done():
		return
	}

	// Take the finished job out of its pool's queue; Remove folds its
	// timings and error into the pool's statistics.
	if p, ok := c.registry.LookupPool(poolName); ok {
		p.Remove(j)
	}

	payload := c.encode(j)
	_ = c.conn.SetWriteDeadline(time.Now().Add(protocolTimeout))
	_, _ = c.conn.Write(payload)

	if j.Kind == job.KindGlobalShutdown {
		c.registry.TriggerGlobalShutdown()
	}
}

// dispatch classifies the query and either hands it to the named pool's
// FIFO or handles a control verb synchronously, returning an
// already-or-eventually-COMPLETE Job either way.
func (c *Client) dispatch(ctx context.Context, poolName, query string) *job.Job {
	j := job.New(query)

	if j.Kind == job.KindNormal {
		c.dispatchNormal(j, poolName)
		return j
	}

	c.dispatchControlVerb(j, poolName)
	return j
}

func (c *Client) dispatchNormal(j *job.Job, poolName string) {
	p, ok := c.registry.LookupPool(poolName)
	if !ok {
		j.SetResult(job.Result{Err: fmt.Errorf("pool %q does not exist", poolName)})
		j.Transition(job.StatusPending, job.StatusComplete)
		return
	}

	if err := p.Add(j); err != nil {
		if c.log != nil {
			c.log.Warnf("pool %q rejected job: %v", poolName, err)
		}
		j.SetResult(job.Result{Err: err})
		j.Transition(job.StatusPending, job.StatusComplete)
	}
}

func (c *Client) dispatchControlVerb(j *job.Job, poolName string) {
	switch j.Kind {
	case job.KindGlobalStats:
		j.CompleteFromKeyValueMap(c.registry.GlobalStats())

	case job.KindLocalStats:
		p, ok := c.registry.LookupPool(poolName)
		if !ok {
			j.SetResult(job.Result{Err: fmt.Errorf("pool %q does not exist", poolName)})
			j.Transition(job.StatusPending, job.StatusComplete)
			return
		}
		j.CompleteFromKeyValueMap(statsToMap(p.GetStats()))

	case job.KindStartup:
		if _, ok := c.registry.LookupPool(poolName); !ok {
			j.SetResult(job.Result{Err: fmt.Errorf("pool %q does not exist", poolName)})
			j.Transition(job.StatusPending, job.StatusComplete)
			return
		}
		if err := c.registry.StartupPool(poolName); err != nil {
			j.SetResult(job.Result{Err: err})
			j.Transition(job.StatusPending, job.StatusComplete)
			return
		}
		j.CompleteFromKeyValueMap(map[string]string{"Status": "OK"})

	case job.KindShutdown:
		if _, ok := c.registry.LookupPool(poolName); !ok {
			j.SetResult(job.Result{Err: fmt.Errorf("pool %q does not exist", poolName)})
			j.Transition(job.StatusPending, job.StatusComplete)
			return
		}
		if err := c.registry.ShutdownPool(poolName); err != nil {
			j.SetResult(job.Result{Err: err})
			j.Transition(job.StatusPending, job.StatusComplete)
			return
		}
		j.CompleteFromKeyValueMap(map[string]string{"Status": "OK"})

	case job.KindGlobalShutdown:
		// Pool name mismatches are irrelevant for global verbs (spec.md §4.5).
		j.CompleteFromKeyValueMap(map[string]string{"Status": "OK"})

	default:
		j.CompleteFromKeyValueMap(map[string]string{"Error": "unrecognized control verb"})
	}
}

func statsToMap(s pool.Stats) map[string]string {
	m := map[string]string{
		"pool_name":        s.Name,
		"backend":          s.Backend,
		"num_workers":      strconv.Itoa(s.NumWorkers),
		"pending_jobs":     strconv.Itoa(s.Pending),
		"total_size":       strconv.Itoa(s.TotalSize),
		"processed_jobs":   strconv.FormatInt(s.ProcessedJobs, 10),
		"error_jobs":       strconv.FormatInt(s.ErrorJobs, 10),
		"avg_assign_ms":    strconv.FormatFloat(s.AvgAssignMs, 'f', 2, 64),
		"avg_process_ms":   strconv.FormatFloat(s.AvgProcessMs, 'f', 2, 64),
		"uptime_seconds":   strconv.FormatFloat(s.UptimeSeconds, 'f', 2, 64),
	}
	for i, w := range s.Workers {
		prefix := fmt.Sprintf("worker_%d_", i)
		m[prefix+"status"] = w.Status
		m[prefix+"processed"] = strconv.FormatInt(w.Processed, 10)
		m[prefix+"errors"] = strconv.FormatInt(w.Errors, 10)
		m[prefix+"reconnects"] = strconv.FormatInt(w.ReconnectCycles, 10)
	}
	return m
}

// encode serializes a COMPLETE job's result to wire format.
func (c *Client) encode(j *job.Job) []byte {
	assignMs := j.AssignationDelayMs()
	processMs := j.ProcessingTimeMs()
	result := j.Result()

	switch {
	case result.Err != nil:
		return wire.EncodeError(assignMs, processMs, result.Err.Error())
	case result.HasAffected:
		return wire.EncodeAffectedRows(assignMs, processMs, result.AffectedRows)
	case result.Rows != nil:
		return wire.EncodeResultSet(wire.ResultSet{
			AssignationMs: assignMs,
			ProcessingMs:  processMs,
			Columns:       result.Rows.Columns,
			Rows:          result.Rows.Rows,
			Warning:       result.Rows.Warning,
			HasWarning:    result.Rows.Warning != "",
		})
	default:
		return wire.EncodeError(assignMs, processMs, "no result produced")
	}
}
