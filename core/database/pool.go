// Package database wraps SQLite connection pools, schema migrations and the
// dataset store that persists generated borrower graphs.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/adalundhe/nexus/core/storage"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type Pool struct {
	db     *sql.DB
	path   string
	config PoolConfig
	mu     sync.RWMutex
}

type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	EnableWAL   bool
	ForeignKeys bool
	CacheSize   int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     4,
		MaxIdle:     2,
		MaxLifetime: time.Hour,
		BusyTimeout: 30 * time.Second,
		EnableWAL:   true,
		ForeignKeys: true,
		CacheSize:   -2000,
	}
}

// OpenFile opens a pool on the database file at path, creating the file and
// its directory when missing.
func OpenFile(path string, config PoolConfig) (*Pool, error) {
	if err := storage.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	db, err := sql.Open(driverName, dsn(path, config))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{
		db:     db,
		path:   path,
		config: config,
	}, nil
}

func dsn(path string, config PoolConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()))
	if config.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Add("_pragma", fmt.Sprintf("foreign_keys(%d)", boolToInt(config.ForeignKeys)))
	if config.CacheSize != 0 {
		q.Add("_pragma", fmt.Sprintf("cache_size(%d)", config.CacheSize))
	}
	q.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

func (p *Pool) Path() string {
	return p.path
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p *Pool) Begin(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, nil)
}

// Transaction runs fn inside a transaction, rolling back when fn fails.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Version reads the schema version from PRAGMA user_version.
func (p *Pool) Version(ctx context.Context) (int, error) {
	var version int
	err := p.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// IntegrityCheck runs PRAGMA integrity_check and reports the first problem.
func (p *Pool) IntegrityCheck(ctx context.Context) error {
	var result string
	err := p.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
