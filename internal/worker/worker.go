// Package worker implements the run loop bound to one pool: connect with
// retry, claim pending jobs, execute them against a backend, and apply
// the cycle-after reconnect policy, per spec.md §4.6.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squaled/squaled/internal/backend"
	"github.com/squaled/squaled/internal/job"
)

// reconnectInterval is how long the run loop waits between connect
// attempts while a backend is unreachable.
const reconnectInterval = time.Second

// Pool is the subset of *pool.Pool a Worker needs. Declared locally
// (rather than importing squaled/internal/pool) so neither package
// imports the other, matching spec.md's layering (JobList does not know
// about workers beyond the WorkerInfo it polls for stats).
type Pool interface {
	AssignPending(keepLocked bool) (*job.Job, bool)
	Wait()
	Unlock()
	ShutdownRequestedLocked() bool
	Giveup(j *job.Job)
}

// Worker runs one backend connection against one Pool.
type Worker struct {
	name    string
	pool    Pool
	backend backend.Backend

	cycleAfter int64

	mu               sync.Mutex
	status           string
	running          bool
	shutdownComplete bool

	processed       int64
	errors          int64
	reconnectCycles int64
	cyclesSinceConn int64

	shutdownRequested int32
}

// New creates a Worker bound to pool, driving b, with the given
// cycle-after threshold (0 disables periodic reconnection).
func New(name string, p Pool, b backend.Backend, cycleAfter int) *Worker {
	return &Worker{
		name:       name,
		pool:       p,
		backend:    b,
		cycleAfter: int64(cycleAfter),
		status:     "Starting",
	}
}

// Name returns the worker's configured name (used in stats/logs).
func (w *Worker) Name() string { return w.name }

// Running reports whether the worker has completed its initial connect
// and is actively participating in job assignment.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Status returns the worker's current human-readable state.
func (w *Worker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Processed returns the lifetime count of completed jobs.
func (w *Worker) Processed() int64 { return atomic.LoadInt64(&w.processed) }

// Errors returns the lifetime count of jobs that completed with a driver error.
func (w *Worker) Errors() int64 { return atomic.LoadInt64(&w.errors) }

// ReconnectCycles returns the lifetime count of forced or liveness-driven reconnects.
func (w *Worker) ReconnectCycles() int64 { return atomic.LoadInt64(&w.reconnectCycles) }

func (w *Worker) setStatus(s string) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// RequestShutdown asks the run loop to exit after its current job, if any.
func (w *Worker) RequestShutdown() {
	atomic.StoreInt32(&w.shutdownRequested, 1)
}

func (w *Worker) shutdownRequestedFlag() bool {
	return atomic.LoadInt32(&w.shutdownRequested) == 1
}

// ShutdownComplete reports whether the run loop has fully exited.
func (w *Worker) ShutdownComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shutdownComplete
}

// Run is the worker's run loop; it blocks until shutdown is requested and
// the current job (if any) finishes. Intended to run on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.setStatus("Connecting")
	if !w.connectUntilReadyOrShutdown(ctx) {
		w.finish()
		return
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	w.setStatus("Sleeping")

	for {
		if w.shutdownRequestedFlag() {
			break
		}

		j, held := w.pool.AssignPending(true)
		if j == nil {
			if !held {
				continue
			}
			if w.pool.ShutdownRequestedLocked() || w.shutdownRequestedFlag() {
				w.pool.Unlock()
				break
			}
			w.pool.Wait()
			w.pool.Unlock()
			continue
		}

		w.processJob(ctx, j)
		w.setStatus("Sleeping")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	_ = w.backend.Disconnect(ctx)
	w.finish()
}

func (w *Worker) finish() {
	w.mu.Lock()
	w.shutdownComplete = true
	w.mu.Unlock()
}

// connectUntilReadyOrShutdown retries backend.Connect every
// reconnectInterval until it succeeds or shutdown is requested. Returns
// false if shutdown won the race.
func (w *Worker) connectUntilReadyOrShutdown(ctx context.Context) bool {
	for {
		if w.shutdownRequestedFlag() {
			return false
		}
		if err := w.backend.Connect(ctx); err == nil {
			return true
		}
		select {
		case <-time.After(reconnectInterval):
		case <-ctx.Done():
			return false
		}
	}
}

// processJob runs one claimed job to completion, including the liveness
// check, giveup-and-reconnect path, and cycle-after policy.
func (w *Worker) processJob(ctx context.Context, j *job.Job) {
	w.setStatus(j.Query)

	if !w.backend.IsAlive(ctx) {
		w.pool.Giveup(j)
		_ = w.backend.Disconnect(ctx)
		atomic.AddInt64(&w.reconnectCycles, 1)
		w.cyclesSinceConn = 0
		w.connectUntilReadyOrShutdown(ctx)
		return
	}

	result, err := w.backend.Execute(ctx, j.Query)
	if err != nil {
		j.SetResult(job.Result{Err: err})
		atomic.AddInt64(&w.errors, 1)
	} else if result.HasAffected {
		j.SetResult(job.Result{AffectedRows: result.AffectedRows, HasAffected: true})
	} else {
		j.SetResult(job.Result{Rows: &job.RowSet{
			Columns: result.Columns,
			Rows:    result.Rows,
			Warning: result.Warning,
		}})
	}

	j.Transition(job.StatusProcessing, job.StatusComplete)
	atomic.AddInt64(&w.processed, 1)

	w.cyclesSinceConn++
	if w.cycleAfter > 0 && w.cyclesSinceConn >= w.cycleAfter {
		w.cycleReconnect(ctx)
	}
}

func (w *Worker) cycleReconnect(ctx context.Context) {
	_ = w.backend.Disconnect(ctx)
	atomic.AddInt64(&w.reconnectCycles, 1)
	w.cyclesSinceConn = 0
	w.connectUntilReadyOrShutdown(ctx)
}
