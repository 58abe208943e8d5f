// Package sqlite is the local mirror: an embedded SQLite copy of the
// application tables that also holds the pending operation log.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds local mirror configuration.
type Config struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Migrate     bool          `yaml:"migrate"`
}

// DB wraps the SQLite connection. SQLite allows a single writer, so the pool
// holds one connection and every transaction is serialised.
type DB struct {
	*sqlx.DB
	path string
}

// Open opens (creating if needed) the mirror database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local mirror path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open local mirror: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping local mirror: %w", err)
	}

	out := &DB{DB: sqlx.NewDb(db, "sqlite3"), path: cfg.Path}
	if cfg.Migrate {
		if err := out.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return out, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Migrate applies the embedded mirror schema.
func (db *DB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to create mirror migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate local mirror: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied local mirror migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Health checks if the database is usable.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
