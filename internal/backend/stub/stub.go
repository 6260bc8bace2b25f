// Package stub implements an in-memory backend.Backend for deterministic
// tests of the pool/worker/client machinery, per spec.md §8 scenarios
// S1, S2, S5, S6.
package stub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/squaled/squaled/internal/backend"
)

// Backend is a fully in-memory backend.Backend. Connect/Disconnect/IsAlive
// are controlled by mutex-guarded flags a test can flip (Kill, ConnectErr)
// to simulate connection loss; Execute interprets a tiny fixed grammar:
//
//   - "FAIL <msg>"   -> returns an error with the given message
//   - "AFFECTED <n>" -> returns AffectedRows = n
//   - anything else  -> returns a single-row, single-column resultset
//     echoing the query text back as "Echo".
type Backend struct {
	mu        sync.Mutex
	connected bool
	alive     bool

	// ConnectErr, when non-nil, is returned by every Connect call until
	// cleared, simulating a backend that never comes up.
	ConnectErr error
}

// New returns a Backend with Connect/IsAlive ready to succeed.
func New() *Backend {
	return &Backend{alive: true}
}

// Factory builds a stub Backend, ignoring properties. Registered under
// the "stub" backend tag so topology tests and local experimentation can
// exercise the pool/worker engine without a real database.
func Factory(properties map[string]string) (backend.Backend, error) {
	return New(), nil
}

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConnectErr != nil {
		return b.ConnectErr
	}
	b.connected = true
	b.alive = true
	return nil
}

func (b *Backend) IsAlive(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && b.alive
}

// Kill marks the backend connection dead, as if the network dropped.
func (b *Backend) Kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alive = false
}

func (b *Backend) Execute(ctx context.Context, query string) (backend.ExecResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || !b.alive {
		return backend.ExecResult{}, fmt.Errorf("stub backend: not connected")
	}

	trimmed := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(trimmed, "FAIL "):
		return backend.ExecResult{}, fmt.Errorf("%s", strings.TrimPrefix(trimmed, "FAIL "))
	case strings.HasPrefix(trimmed, "AFFECTED "):
		var n int64
		fmt.Sscanf(strings.TrimPrefix(trimmed, "AFFECTED "), "%d", &n)
		return backend.ExecResult{AffectedRows: n, HasAffected: true}, nil
	default:
		return backend.ExecResult{
			Columns: []string{"Echo"},
			Rows:    [][][]byte{{[]byte(trimmed)}},
		}, nil
	}
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}
