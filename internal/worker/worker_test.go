package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squaled/squaled/internal/backend/stub"
	"github.com/squaled/squaled/internal/job"
	"github.com/squaled/squaled/internal/pool"
)

func newTestPool(t *testing.T, maxWarn, maxBlock int) *pool.Pool {
	t.Helper()
	return pool.New("test", "stub", maxWarn, maxBlock)
}

func TestWorker_ConnectsAndProcessesJob(t *testing.T) {
	p := newTestPool(t, 0, 0)
	b := stub.New()
	w := New("w1", p, b, 0)
	p.AttachWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	j := job.New("SELECT 1")
	require.NoError(t, p.Add(j))

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}

	result := j.Result()
	require.NotNil(t, result.Rows)
	assert.Equal(t, []string{"Echo"}, result.Rows.Columns)
	assert.EqualValues(t, 1, w.Processed())

	w.RequestShutdown()
	p.BroadcastShutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not shut down")
	}
	assert.True(t, w.ShutdownComplete())
	assert.False(t, w.Running())
}

func TestWorker_AffectedRowsResult(t *testing.T) {
	p := newTestPool(t, 0, 0)
	b := stub.New()
	w := New("w1", p, b, 0)
	p.AttachWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	j := job.New("AFFECTED 7")
	require.NoError(t, p.Add(j))
	<-j.Done()

	result := j.Result()
	assert.True(t, result.HasAffected)
	assert.EqualValues(t, 7, result.AffectedRows)

	w.RequestShutdown()
	p.BroadcastShutdown()
}

func TestWorker_DriverErrorIncrementsCounter(t *testing.T) {
	p := newTestPool(t, 0, 0)
	b := stub.New()
	w := New("w1", p, b, 0)
	p.AttachWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	j := job.New("FAIL boom")
	require.NoError(t, p.Add(j))
	<-j.Done()

	result := j.Result()
	require.Error(t, result.Err)
	assert.EqualValues(t, 1, w.Errors())

	w.RequestShutdown()
	p.BroadcastShutdown()
}

func TestWorker_GiveupOnDeadBackendReassigns(t *testing.T) {
	p := newTestPool(t, 0, 0)
	b := stub.New()
	w := New("w1", p, b, 0)
	p.AttachWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	b.Kill()
	j := job.New("SELECT 1")
	require.NoError(t, p.Add(j))

	require.Eventually(t, func() bool {
		return w.ReconnectCycles() >= 1
	}, time.Second, time.Millisecond)

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not eventually complete after reconnect")
	}

	w.RequestShutdown()
	p.BroadcastShutdown()
}

func TestWorker_CycleAfterForcesReconnect(t *testing.T) {
	p := newTestPool(t, 0, 0)
	b := stub.New()
	w := New("w1", p, b, 2)
	p.AttachWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		j := job.New("SELECT 1")
		require.NoError(t, p.Add(j))
		<-j.Done()
	}

	require.Eventually(t, func() bool {
		return w.ReconnectCycles() >= 1
	}, time.Second, time.Millisecond)

	w.RequestShutdown()
	p.BroadcastShutdown()
}
