// Package sqlite implements a SQLite query-execution
// idiom into a live query-execution backend.Backend: a single
// database/sql connection per worker, driven by mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/squaled/squaled/internal/backend"
)

// Config mirrors the pool-level connection properties a squaled.yaml
// pool entry supplies for a sqlite-backed pool.
type Config struct {
	DatabasePath string
	EnableWAL    bool
	ReadOnly     bool
}

// Backend is a backend.Backend over a single SQLite connection.
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
	path := properties["database_path"]
	if path == "" {
		return nil, fmt.Errorf("sqlite backend: database_path is required")
	}
	return New(Config{
		DatabasePath: path,
		EnableWAL:    properties["wal"] == "true",
		ReadOnly:     properties["read_only"] == "true",
	}), nil
}

func (b *Backend) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(b.cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("sqlite backend: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", b.buildConnectionString())
	if err != nil {
		return fmt.Errorf("sqlite backend: open: %w", err)
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

func (b *Backend) buildConnectionString() string {
	params := []string{b.cfg.DatabasePath}
	var query []string
	if b.cfg.EnableWAL {
		query = append(query, "_journal_mode=WAL")
	}
	if b.cfg.ReadOnly {
		query = append(query, "mode=ro")
	}
	if len(query) > 0 {
		params = append(params, "?"+strings.Join(query, "&"))
	}
	return strings.Join(params, "")
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
