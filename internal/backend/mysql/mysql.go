// Package mysql implements a backend.Backend over go-sql-driver/mysql,
// additionally exercising the optional commit-every policy described in
// spec.md §4.6 for backends that do not auto-commit each statement.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/squaled/squaled/internal/backend"
)

// Config mirrors the pool-level connection properties a squaled.yaml
// pool entry supplies for a mysql-backed pool.
type Config struct {
	DSN string
	// CommitEvery, when > 0, batches non-select statements into an
	// explicit transaction and commits every N statements (or on
	// Disconnect), instead of auto-committing each one.
	CommitEvery int
}

// Backend is a backend.Backend over a single MySQL connection.
type Backend struct {
	cfg Config
	db  *sql.DB

	tx             *sql.Tx
	uncommittedOps int
}

// New returns an unconnected Backend for cfg.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Factory adapts New to backend.Factory for config-driven pool construction.
func Factory(properties map[string]string) (backend.Backend, error) {
	dsn := properties["dsn"]
	if dsn == "" {
		return nil, fmt.Errorf("mysql backend: dsn is required")
	}
	cfg := Config{DSN: dsn}
	if v := properties["commit_every"]; v != "" {
		fmt.Sscanf(v, "%d", &cfg.CommitEvery)
	}
	return New(cfg), nil
}

func (b *Backend) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", b.cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql backend: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}

	b.db = db
	return nil
}

func (b *Backend) IsAlive(ctx context.Context) bool {
	if b.db == nil {
		return false
	}
	return b.db.PingContext(ctx) == nil
}

func (b *Backend) Execute(ctx context.Context, query string) (backend.ExecResult, error) {
	if b.cfg.CommitEvery <= 0 {
		return backend.ExecuteSQL(ctx, b.db, query)
	}
	return b.executeBatched(ctx, query)
}

// executeBatched runs query inside the open batch transaction, starting
// one if none is active, and commits once uncommittedOps reaches
// CommitEvery. Row-returning queries still run directly against the
// connection: batching only applies to statements that mutate data.
func (b *Backend) executeBatched(ctx context.Context, query string) (backend.ExecResult, error) {
	result, err := func() (backend.ExecResult, error) {
		if b.tx == nil {
			tx, err := b.db.BeginTx(ctx, nil)
			if err != nil {
				return backend.ExecResult{}, err
			}
			b.tx = tx
		}

		res, err := b.tx.ExecContext(ctx, query)
		if err != nil {
			return backend.ExecResult{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return backend.ExecResult{}, err
		}
		return backend.ExecResult{AffectedRows: affected, HasAffected: true}, nil
	}()
	if err != nil {
		return result, err
	}

	b.uncommittedOps++
	if b.uncommittedOps >= b.cfg.CommitEvery {
		if commitErr := b.Commit(ctx); commitErr != nil {
			return result, commitErr
		}
	}
	return result, nil
}

// Commit flushes the open batch transaction, if any. Implements
// backend.CommitEvery.
func (b *Backend) Commit(ctx context.Context) error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Commit()
	b.tx = nil
	b.uncommittedOps = 0
	return err
}

func (b *Backend) Disconnect(ctx context.Context) error {
	if b.tx != nil {
		if err := b.Commit(ctx); err != nil {
			return err
		}
	}
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

var _ backend.CommitEvery = (*Backend)(nil)
