package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squaled/squaled/internal/job"
)

type fakeWorker struct {
	running bool
}

func (f *fakeWorker) Running() bool          { return f.running }
func (f *fakeWorker) Status() string         { return "RUNNING" }
func (f *fakeWorker) Processed() int64       { return 0 }
func (f *fakeWorker) Errors() int64          { return 0 }
func (f *fakeWorker) ReconnectCycles() int64 { return 0 }

func TestAdd_RejectsWithoutRunningWorker(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	err := p.Add(job.New("SELECT 1"))
	assert.ErrorIs(t, err, ErrClosedOrNoWorkers)
}

func TestAdd_RejectsWhenClosed(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})
	p.SetStatus(StatusClosed)

	err := p.Add(job.New("SELECT 1"))
	assert.ErrorIs(t, err, ErrClosedOrNoWorkers)
}

func TestAdd_BlocksAtThreshold(t *testing.T) {
	p := New("p1", "stub", 0, 1)
	p.AttachWorker(&fakeWorker{running: true})

	require.NoError(t, p.Add(job.New("SELECT 1")))

	err := p.Add(job.New("SELECT 2"))
	var blocked *ErrBlocked
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 1, blocked.Pending)
}

func TestAssignPending_FIFOOrder(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})

	j1 := job.New("SELECT 1")
	j2 := job.New("SELECT 2")
	require.NoError(t, p.Add(j1))
	require.NoError(t, p.Add(j2))

	got, held := p.AssignPending(false)
	require.False(t, held)
	require.Same(t, j1, got)
	assert.Equal(t, job.StatusProcessing, got.Status())

	got2, held2 := p.AssignPending(false)
	require.False(t, held2)
	require.Same(t, j2, got2)
}

func TestAssignPending_KeepLockedWhenEmpty(t *testing.T) {
	p := New("p1", "stub", 0, 0)

	got, held := p.AssignPending(true)
	assert.Nil(t, got)
	assert.True(t, held)
	p.Unlock()
}

func TestAssignPending_WaitWakesOnAdd(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})

	var wg sync.WaitGroup
	wg.Add(1)
	var got *job.Job

	go func() {
		defer wg.Done()
		for {
			j, held := p.AssignPending(true)
			if j != nil {
				got = j
				return
			}
			if held {
				if p.ShutdownRequestedLocked() {
					p.Unlock()
					return
				}
				p.Wait()
				p.Unlock()
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	newJob := job.New("SELECT 1")
	require.NoError(t, p.Add(newJob))

	wg.Wait()
	assert.Same(t, newJob, got)
}

func TestAssignPending_ShutdownBroadcastWakesWaiter(t *testing.T) {
	p := New("p1", "stub", 0, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			j, held := p.AssignPending(true)
			if j != nil {
				p.Unlock()
				return
			}
			if held {
				if p.ShutdownRequestedLocked() {
					p.Unlock()
					return
				}
				p.Wait()
				p.Unlock()
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	p.BroadcastShutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown broadcast did not wake waiter")
	}
}

func TestRemove_UpdatesStatsOnCompletion(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})

	j := job.New("SELECT 1")
	require.NoError(t, p.Add(j))
	got, _ := p.AssignPending(false)
	require.Same(t, j, got)
	require.True(t, j.Transition(job.StatusProcessing, job.StatusComplete))

	require.True(t, p.Remove(j))
	stats := p.GetStats()
	assert.Equal(t, 0, stats.TotalSize)
}

func TestGiveup_ReturnsJobToPendingAndReassigns(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})

	j := job.New("SELECT 1")
	require.NoError(t, p.Add(j))
	got, _ := p.AssignPending(false)
	require.Same(t, j, got)

	p.Giveup(j)
	assert.Equal(t, job.StatusPending, j.Status())

	got2, _ := p.AssignPending(false)
	require.Same(t, j, got2)
}

func TestClear_DropsQueuedJobs(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})
	require.NoError(t, p.Add(job.New("SELECT 1")))

	p.Clear()
	stats := p.GetStats()
	assert.Equal(t, 0, stats.TotalSize)
}

func TestSetStatus_ReopenResetsStats(t *testing.T) {
	p := New("p1", "stub", 0, 0)
	p.AttachWorker(&fakeWorker{running: true})

	j := job.New("SELECT 1")
	require.NoError(t, p.Add(j))
	got, _ := p.AssignPending(false)
	require.True(t, got.Transition(job.StatusProcessing, job.StatusComplete))
	require.True(t, p.Remove(got))

	before := p.GetStats()
	assert.Equal(t, int64(0), before.ErrorJobs)

	p.SetStatus(StatusClosed)
	p.SetStatus(StatusOpened)

	after := p.GetStats()
	assert.Equal(t, float64(0), after.AvgAssignMs)
	assert.Equal(t, float64(0), after.AvgProcessMs)
}

func TestGetStats_AggregatesWorkerCounters(t *testing.T) {
	p := New("p1", "stub", 5, 10)
	p.AttachWorker(&fakeWorker{running: true})
	p.AttachWorker(&fakeWorker{running: false})

	stats := p.GetStats()
	assert.Equal(t, "p1", stats.Name)
	assert.Equal(t, "stub", stats.Backend)
	assert.Equal(t, 2, stats.NumWorkers)
	assert.Len(t, stats.Workers, 2)
}
