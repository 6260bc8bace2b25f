// Package listener implements the unix-domain socket accept loop of
// spec.md §4.7: a stale-file-cleaning, permission-setting listener that
// hands each accepted connection to a per-connection goroutine and tracks
// the live set for orderly shutdown.
//
// Go's net package already gives a blocking, EINTR-free Accept loop, so
// this adapts the non-blocking-reactor shape of the reference design
// (and of the nabbar-golib unix socket server this is grounded on) into
// one goroutine per accept plus one goroutine per connection, rather than
// a single-threaded readiness loop.
package listener

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
)

// ClientHandler runs one accepted connection to completion. Implemented
// by *client.Client's Serve method (bound at call time via a closure so
// this package does not import internal/client).
type ClientHandler func(ctx context.Context, conn net.Conn)

// Listener owns the unix-domain socket and the set of live connections.
type Listener struct {
	path string
	mode os.FileMode

	ln net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// New creates a Listener bound to path with the given socket file mode
// (spec.md defaults to 0777). Any stale file at path is removed first.
func New(path string, mode os.FileMode) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("listener: removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listener: listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("listener: chmod %s: %w", path, err)
	}

	return &Listener{
		path:  path,
		mode:  mode,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}, nil
}

// Serve runs the accept loop until Close is called or Accept fails,
// dispatching each accepted connection to handle on its own goroutine.
// Cancelling ctx does not stop the loop; ctx is passed on to each handler.
func (l *Listener) Serve(ctx context.Context, handle ClientHandler) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}

		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		go func() {
			defer l.forget(conn)
			handle(ctx, conn)
		}()
	}
}

func (l *Listener) forget(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

// ConnectionCount returns the number of currently tracked live connections.
func (l *Listener) ConnectionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close stops accepting new connections, closes every tracked connection,
// and removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closing = true
	conns := make([]net.Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	err := l.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	os.Remove(l.path)
	return err
}
