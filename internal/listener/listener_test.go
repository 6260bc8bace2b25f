package listener

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "squaled.sock")
}

func TestNew_CleansUpStaleSocketAndSetsMode(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	l, err := New(path, 0o777)
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())
}

func TestServe_DispatchesAcceptedConnections(t *testing.T) {
	path := socketPath(t)
	l, err := New(path, 0o777)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	go l.Serve(ctx, func(ctx context.Context, conn net.Conn) {
		buf := make([]byte, 4)
		conn.Read(buf)
		handled <- struct{}{}
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	conn.Write([]byte("ping"))

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("listener did not dispatch accepted connection")
	}

	l.Close()
}

func TestClose_RemovesSocketFileAndTrackedConns(t *testing.T) {
	path := socketPath(t)
	l, err := New(path, 0o777)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx, func(ctx context.Context, conn net.Conn) {
		<-ctx.Done()
	})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return l.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
