// Package eventlog keeps the most recent sense events of each session in a
// local SQLite database for the dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/upstream"
)

// DefaultRetain is the number of events kept per session.
const DefaultRetain = 100

// ErrInvalidRetain is returned for a non-positive retention count.
var ErrInvalidRetain = errors.New("eventlog: retain must be positive")

const schema = `CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	sense TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session ON events (session_id, id);`

// Entry is a stored event.
type Entry struct {
	ID int64 `json:"id"`
	upstream.SenseEvent
}

// Store persists events.
type Store struct {
	db     *sql.DB
	retain int
	logger *slog.Logger
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string, retain int) (*Store, error) {
	if retain <= 0 {
		return nil, ErrInvalidRetain
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return &Store{db: db, retain: retain, logger: log.Component("eventlog")}, nil
}

// Append stores ev and trims its session to the retention count.
func (s *Store) Append(ctx context.Context, ev upstream.SenseEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events (session_id, sense, message, timestamp) VALUES (?, ?, ?, ?)",
		ev.SessionID, ev.Sense, ev.Message, ev.Timestamp); err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE session_id = ? AND id NOT IN (
			SELECT id FROM events WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
		ev.SessionID, ev.SessionID, s.retain); err != nil {
		return fmt.Errorf("eventlog: trim: %w", err)
	}
	return tx.Commit()
}

// Record is an upstream.Listener that stores events, logging failures.
func (s *Store) Record(ctx context.Context, ev upstream.SenseEvent) {
	if err := s.Append(ctx, ev); err != nil {
		s.logger.Warn("event not stored", "sense", ev.Sense, "error", err)
	}
}

// Recent returns up to limit events of session, newest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.retain {
		limit = s.retain
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sense, message, timestamp FROM events
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Sense, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns the stored session ids, most recently active first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM events GROUP BY session_id ORDER BY MAX(id) DESC")
	if err != nil {
		return nil, fmt.Errorf("eventlog: query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
