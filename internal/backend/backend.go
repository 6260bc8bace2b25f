// Package backend defines the capability set a concrete database driver
// must expose to a Worker: connect, liveness check, query execution, and
// disconnect, per spec.md §4.6.
package backend

import (
	"context"
	"database/sql"
	"strings"
)

// ExecResult is the outcome of a single Execute call. Exactly one of Rows
// or HasAffected is meaningful on success; Warning may accompany Rows.
type ExecResult struct {
	Columns      []string
	Rows         [][][]byte
	Warning      string
	AffectedRows int64
	HasAffected  bool
}

// Backend is the per-pool concrete driver variant. Implementations must be
// safe for use by exactly one Worker goroutine at a time; no internal
// locking is required.
type Backend interface {
	// Connect establishes the underlying connection. A returned error is
	// always treated as transient by the Worker run loop: it retries on a
	// fixed interval until shutdown. There are no fatal errors at this
	// layer.
	Connect(ctx context.Context) error

	// IsAlive reports whether the connection is still usable. A false
	// result triggers giveup + reconnect in the Worker run loop.
	IsAlive(ctx context.Context) bool

	// Execute runs a single query to completion.
	Execute(ctx context.Context, query string) (ExecResult, error)

	// Disconnect releases the connection, best-effort. Backends that
	// batch commits (see CommitEvery) flush outstanding work here.
	Disconnect(ctx context.Context) error
}

// CommitEvery is implemented by backends with a commit-every-N policy for
// drivers that do not auto-commit each statement. Such a backend calls
// Commit itself from Execute (every N statements) and from Disconnect;
// the Worker run loop does not call it.
type CommitEvery interface {
	// Commit flushes the backend's outstanding transaction. A failure
	// here surfaces as the triggering job's error.
	Commit(ctx context.Context) error
}

// Factory builds a fresh Backend instance for one worker, from the
// pool-level configuration properties (connection string fragments,
// credentials, etc.).
type Factory func(properties map[string]string) (Backend, error)

// selectLikeVerbs classifies a query as row-returning by its leading
// keyword. Anything else goes through Exec and reports affected rows.
var selectLikeVerbs = []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "PRAGMA", "DESCRIBE"}

func looksLikeSelect(query string) bool {
	trimmed := strings.TrimSpace(query)
	upperPrefix := strings.ToUpper(trimmed)
	for _, verb := range selectLikeVerbs {
		if strings.HasPrefix(upperPrefix, verb) {
			return true
		}
	}
	return false
}

// ExecuteSQL runs query against db, the shared database/sql plumbing for
// every concrete SQL backend (sqlite, postgres, mysql): row-returning
// statements are classified by leading keyword and marshalled into an
// ExecResult.Rows/Columns pair of raw bytes; everything else goes through
// Exec and reports RowsAffected.
func ExecuteSQL(ctx context.Context, db *sql.DB, query string) (ExecResult, error) {
	if !looksLikeSelect(query) {
		res, err := db.ExecContext(ctx, query)
		if err != nil {
			return ExecResult{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return ExecResult{}, err
		}
		return ExecResult{AffectedRows: affected, HasAffected: true}, nil
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return ExecResult{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ExecResult{}, err
	}

	var out [][][]byte
	scanTargets := make([]sql.RawBytes, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range scanTargets {
		scanArgs[i] = &scanTargets[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return ExecResult{}, err
		}
		row := make([][]byte, len(columns))
		for i, raw := range scanTargets {
			cell := make([]byte, len(raw))
			copy(cell, raw)
			row[i] = cell
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return ExecResult{}, err
	}

	return ExecResult{Columns: columns, Rows: out}, nil
}
