// Package store is the single source of truth for tasks, agents,
// workspaces, sessions and audit events, backed by SQLite. Correctness
// under concurrent callers comes from database constraints, not
// in-process locks: the unique index over (source, external_request_id)
// is the enforcement point of the idempotency contract.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store wraps the SQLite database with an explicit open/close lifecycle
// so handlers receive a constructed object rather than reaching for a
// module-level singleton.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode lets readers proceed while the single writer commits.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			slug            TEXT NOT NULL UNIQUE,
			master_agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'idle',
			is_master    INTEGER NOT NULL DEFAULT 0,
			session_key  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id                  TEXT PRIMARY KEY,
			title               TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			priority            TEXT NOT NULL,
			assigned_agent_id   TEXT,
			created_by_agent_id TEXT,
			workspace_id        TEXT NOT NULL,
			initiative_id       TEXT,
			external_request_id TEXT,
			source              TEXT NOT NULL DEFAULT 'mission-control',
			task_type           TEXT NOT NULL,
			task_type_config    TEXT NOT NULL DEFAULT '{}',
			parent_task_id      TEXT,
			evaluation_status   TEXT NOT NULL DEFAULT '',
			due_at              TEXT,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_request
			ON tasks(source, external_request_id)
			WHERE external_request_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_initiative ON tasks(initiative_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			session_type TEXT NOT NULL,
			status       TEXT NOT NULL,
			task_id      TEXT,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, status)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			agent_id   TEXT,
			task_id    TEXT,
			message    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL,
			type        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deliverables (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL,
			path        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id      TEXT PRIMARY KEY,
			task_id TEXT,
			title   TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// rejection, the signal that a concurrent caller already won the insert.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// tx runs fn inside a transaction.
func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
