// Package history records sessions and task events in a SQLite database
// under .grill/var/. It is a convenience record for `grill history`; failures
// here are never allowed to disturb a live session.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Event names recorded in task_events.
const (
	EventSwitch = "switch"
	EventInit   = "init"
	EventDelete = "delete"
)

// Session is one recorded proxy session.
type Session struct {
	ID        string
	Task      string
	CLI       string
	StartedAt time.Time
	EndedAt   time.Time // zero if the session has no recorded end
	ExitCode  int       // meaningful only when EndedAt is set
}

// TaskEvent is one recorded task operation within a session.
type TaskEvent struct {
	SessionID string
	Event     string
	Task      string
	At        time.Time
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create var directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			task       TEXT NOT NULL,
			cli        TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at   TEXT,
			exit_code  INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS task_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event      TEXT NOT NULL,
			task       TEXT NOT NULL,
			at         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_session ON task_events(session_id)`,
	}
	for _, stmt := range tables {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordSessionStart inserts a session row.
func (s *Store) RecordSessionStart(id, taskName, cli string, startedAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, task, cli, started_at) VALUES (?, ?, ?, ?)",
		id, taskName, cli, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordSessionEnd marks a session finished with the child's exit code.
func (s *Store) RecordSessionEnd(id string, endedAt time.Time, exitCode int) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET ended_at = ?, exit_code = ? WHERE id = ?",
		endedAt.UTC().Format(time.RFC3339Nano), exitCode, id,
	)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// RecordTaskEvent appends a task event for a session.
func (s *Store) RecordTaskEvent(sessionID, event, taskName string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO task_events (session_id, event, task, at) VALUES (?, ?, ?, ?)",
		sessionID, event, taskName, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record task event: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first. Session IDs are
// ULIDs, so ordering by id is ordering by creation time.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, task, cli, started_at, ended_at, exit_code FROM sessions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var (
			sess     Session
			started  string
			ended    sql.NullString
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.Task, &sess.CLI, &started, &ended, &exitCode); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if ended.Valid {
			if sess.EndedAt, err = time.Parse(time.RFC3339Nano, ended.String); err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
		}
		if exitCode.Valid {
			sess.ExitCode = int(exitCode.Int64)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SessionEvents returns the task events of one session, oldest first.
func (s *Store) SessionEvents(sessionID string) ([]TaskEvent, error) {
	rows, err := s.db.Query(
		"SELECT session_id, event, task, at FROM task_events WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []TaskEvent
	for rows.Next() {
		var (
			ev TaskEvent
			at string
		)
		if err := rows.Scan(&ev.SessionID, &ev.Event, &ev.Task, &at); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task events: %w", err)
	}
	return events, nil
}
