// Package storage persists everything the bot must not forget across a
// restart: feed snapshots, notification subscriptions, the delivery ledger
// and operator-visible logs.
//
// Two drivers share one implementation over database/sql:
//   - "sqlite" (modernc.org/sqlite), the default single-file deployment
//   - "postgres" (pgx stdlib), for installs that already run a database
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	// ErrAlreadyRegistered is returned when a guild or channel that already
	// has a subscription row attempts to register another one.
	ErrAlreadyRegistered = errors.New("subscription already registered")

	// ErrNotFound is returned by point lookups with no matching row.
	ErrNotFound = errors.New("not found")
)

// Config selects and tunes the driver.
type Config struct {
	Driver      string
	Path        string        // sqlite file
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Store struct {
	db       *sql.DB
	driver   string
	path     string // sqlite file path, for backups
	log      zerolog.Logger
	postgres bool
}

// Open connects, applies pragmas and creates missing tables.
func Open(cfg Config, log zerolog.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, driver: "sqlite", path: cfg.Path, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func openPostgres(cfg Config, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &Store{db: db, driver: "postgres", log: log, postgres: true}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Driver reports the active driver name ("sqlite" or "postgres").
func (s *Store) Driver() string { return s.driver }

// Path returns the sqlite database file path, or "" on postgres.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $1..$n for the postgres dialect.
// Queries in this package never contain a literal question mark.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
