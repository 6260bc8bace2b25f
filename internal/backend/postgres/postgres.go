// Package postgres implements a backend.Backend over lib/pq, following
// the same single-connection-per-worker shape as internal/backend/sqlite.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/squaled/squaled/internal/backend"
)

// Config mirrors the pool-level connection properties a squaled.yaml
// pool entry supplies for a postgres-backed pool.
type Config struct {
	DSN string
}

// Backend is a backend.Backend over a single Postgres connection.
type Backend struct {
	cfg Config
	db  *sql.DB
}

// New returns an unconnected Backend for cfg.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Factory adapts New to backend.Factory for config-driven pool construction.
func Factory(properties map[string]string) (backend.Backend, error) {
	dsn := properties["dsn"]
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend: dsn is required")
	}
	return New(Config{DSN: dsn}), nil
}

func (b *Backend) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", b.cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres backend: open: %w", err)
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
	return backend.ExecuteSQL(ctx, b.db, query)
}

func (b *Backend) Disconnect(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
