// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// The driver is modernc.org/sqlite, a pure Go translation of SQLite, so the
// binary builds without CGo.
//
// CONNECTIONS AND TRANSACTIONS:
// The pool is capped at a single open connection. SQLite allows one writer
// at a time anyway, and with one connection every transaction started by
// WithTx runs strictly after the previous one commits. A ":memory:" database
// also lives per connection, so the cap keeps tests on one database.
//
// One consequence: code running inside WithTx must only use the Tx it was
// handed. Calling a DB method from inside fn would wait for the connection
// the transaction holds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sakif/vibehub/internal/repository"
)

var _ repository.Transactor = (*DB)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx, so row helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn  *sql.DB
	clock clockwork.Clock
	seq   atomic.Uint64
}

// Option configures a DB.
type Option func(*DB)

// WithClock sets the clock that stamps created_at and updated_at. The
// default is the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(db *DB) { db.clock = clock }
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/vibehub.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) now() time.Time {
	return db.clock.Now().UTC()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent so it runs on
// each start.
//
// counters (boost_count, chill_count, vibe_score, points) are denormalised;
// see the Tx methods in tx.go for how they stay in step with the votes table.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE,
			username      TEXT NOT NULL,
			handle        TEXT NOT NULL UNIQUE,
			avatar        TEXT NOT NULL DEFAULT '',
			bio           TEXT NOT NULL DEFAULT '',
			points        INTEGER NOT NULL DEFAULT 0,
			vibe_score    INTEGER NOT NULL DEFAULT 0,
			faction       TEXT NOT NULL DEFAULT 'neutral'
			              CHECK (faction IN ('fire', 'ice', 'neutral')),
			password_hash TEXT NOT NULL DEFAULT '',
			github_id     INTEGER UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_vibe_score ON users(vibe_score DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS vibes (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			image       TEXT NOT NULL DEFAULT '',
			visibility  TEXT NOT NULL DEFAULT 'public'
			            CHECK (visibility IN ('public', 'private')),
			boost_count INTEGER NOT NULL DEFAULT 0 CHECK (boost_count >= 0),
			chill_count INTEGER NOT NULL DEFAULT 0 CHECK (chill_count >= 0),
			author_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_vibes_created_at ON vibes(created_at);
		CREATE INDEX IF NOT EXISTS idx_vibes_author_id ON vibes(author_id);
		CREATE INDEX IF NOT EXISTS idx_vibes_boost_count ON vibes(boost_count);
	`)
	if err != nil {
		return fmt.Errorf("creating vibes table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS votes (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			vibe_id    TEXT NOT NULL REFERENCES vibes(id) ON DELETE CASCADE,
			type       TEXT NOT NULL CHECK (type IN ('boost', 'chill')),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, vibe_id)
		);
		CREATE INDEX IF NOT EXISTS idx_votes_vibe_id ON votes(vibe_id);
	`)
	if err != nil {
		return fmt.Errorf("creating votes table: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction. A non-nil error from fn rolls back.
//
// BeginTx only returns once the single connection is free, so numbering
// transactions here numbers them in commit order. A rolled-back transaction
// leaves a gap.
func (db *DB) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	tx := &Tx{q: sqlTx, now: db.now, seq: db.seq.Add(1)}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure, optionally on a specific column ("users.email").
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return column == "" || strings.Contains(sqliteErr.Error(), column)
		}
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, strings.ToLower(column))
}

// nullString maps "" to NULL so optional UNIQUE columns (email) allow many
// empty values.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
