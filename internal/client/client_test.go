package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squaled/squaled/internal/backend/stub"
	"github.com/squaled/squaled/internal/pool"
	"github.com/squaled/squaled/internal/wire"
	"github.com/squaled/squaled/internal/worker"
)

type fakeWorkerInfo struct{ running bool }

func (f *fakeWorkerInfo) Running() bool          { return f.running }
func (f *fakeWorkerInfo) Status() string         { return "RUNNING" }
func (f *fakeWorkerInfo) Processed() int64       { return 0 }
func (f *fakeWorkerInfo) Errors() int64          { return 0 }
func (f *fakeWorkerInfo) ReconnectCycles() int64 { return 0 }

type fakeRegistry struct {
	pools             map[string]*pool.Pool
	shutdownTriggered bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{pools: map[string]*pool.Pool{}}
}

func (r *fakeRegistry) LookupPool(name string) (*pool.Pool, bool) {
	p, ok := r.pools[name]
	return p, ok
}

func (r *fakeRegistry) GlobalStats() map[string]string {
	return map[string]string{"version": "test", "connected_clients": "0"}
}

func (r *fakeRegistry) StartupPool(name string) error {
	p := r.pools[name]
	p.SetStatus(pool.StatusOpened)
	return nil
}

func (r *fakeRegistry) ShutdownPool(name string) error {
	p := r.pools[name]
	p.SetStatus(pool.StatusClosed)
	return nil
}

func (r *fakeRegistry) TriggerGlobalShutdown() {
	r.shutdownTriggered = true
}

func runClientRoundTrip(t *testing.T, reg *fakeRegistry, poolName, query string) []byte {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	c := New(serverConn, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Serve(ctx)

	require.NoError(t, wire.WriteLengthPrefixed(clientConn, poolName))
	require.NoError(t, wire.WriteLengthPrefixed(clientConn, query))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestClient_NormalQueryRoundTrip(t *testing.T) {
	reg := newFakeRegistry()
	p := pool.New("reporting", "stub", 0, 0)
	b := stub.New()
	w := worker.New("w1", p, b, 0)
	p.AttachWorker(w)
	go w.Run(context.Background())
	require.Eventually(t, w.Running, time.Second, time.Millisecond)
	reg.pools["reporting"] = p

	raw := runClientRoundTrip(t, reg, "reporting", "SELECT 1")
	decoded, err := wire.DecodeResultSet(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo"}, decoded.Columns)

	w.RequestShutdown()
	p.BroadcastShutdown()
}

func TestClient_UnknownPoolReturnsError(t *testing.T) {
	reg := newFakeRegistry()
	raw := runClientRoundTrip(t, reg, "missing", "SELECT 1")
	_, _, msg, err := wire.DecodeError(raw)
	require.NoError(t, err)
	assert.Regexp(t, `.*missing.* does not exist.*`, msg)
}

func TestClient_GlobalStatsControlVerb(t *testing.T) {
	reg := newFakeRegistry()
	raw := runClientRoundTrip(t, reg, "anything", "squale_global_stats")
	decoded, err := wire.DecodeResultSet(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Value"}, decoded.Columns)
}

func TestClient_GlobalShutdownTriggersRegistry(t *testing.T) {
	reg := newFakeRegistry()
	raw := runClientRoundTrip(t, reg, "anything", "squale_global_shutdown")
	decoded, err := wire.DecodeResultSet(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Value"}, decoded.Columns)

	require.Eventually(t, func() bool { return reg.shutdownTriggered }, time.Second, time.Millisecond)
}

func TestClient_LocalStatsUnknownPool(t *testing.T) {
	reg := newFakeRegistry()
	raw := runClientRoundTrip(t, reg, "missing", "squale_local_stats")
	_, _, msg, err := wire.DecodeError(raw)
	require.NoError(t, err)
	assert.Regexp(t, `.*missing.* does not exist.*`, msg)
}

func TestClient_StartupAndShutdownControlVerbs(t *testing.T) {
	reg := newFakeRegistry()
	p := pool.New("reporting", "stub", 0, 0)
	p.AttachWorker(&fakeWorkerInfo{running: true})
	p.SetStatus(pool.StatusClosed)
	reg.pools["reporting"] = p

	raw := runClientRoundTrip(t, reg, "reporting", "squale_startup")
	decoded, err := wire.DecodeResultSet(raw)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(decoded.Rows[0][1]))
	assert.Equal(t, pool.StatusOpened, p.GetStatus())

	raw2 := runClientRoundTrip(t, reg, "reporting", "squale_shutdown")
	decoded2, err := wire.DecodeResultSet(raw2)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(decoded2.Rows[0][1]))
	assert.Equal(t, pool.StatusClosed, p.GetStatus())
}
