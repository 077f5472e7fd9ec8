// Package sqlite stores events in a sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/sink"
)

// timeLayout is fixed width, so timestamps sort as text in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is an append-only event log in sqlite.
type Store struct {
	db *sql.DB
}

// Ensure Store implements sink.Backend.
var _ sink.Backend = (*Store)(nil)

// Open creates or opens the database at path, creating the events table if
// needed.
func Open(path string) (store *Store, rerr error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	defer func() {
		if rerr != nil {
			db.Close()
		}
	}()

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  mode TEXT NOT NULL,
  message TEXT NOT NULL,
  category TEXT NOT NULL,
  subject_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

// Write inserts ev. Events are never updated.
func (s *Store) Write(ctx context.Context, ev kidwatch.EventRecord) error {
	const stmt = `
INSERT INTO events (id, timestamp, mode, message, category, subject_id)
VALUES (?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, stmt,
		ev.ID,
		ev.Timestamp.UTC().Format(timeLayout),
		string(ev.Mode),
		ev.Message,
		ev.Category,
		ev.SubjectID,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns up to limit events, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]kidwatch.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, timestamp, mode, message, category, subject_id
FROM events
ORDER BY timestamp DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []kidwatch.EventRecord{}
	for rows.Next() {
		var ev kidwatch.EventRecord
		var ts, mode string
		if err := rows.Scan(&ev.ID, &ts, &mode, &ev.Message, &ev.Category, &ev.SubjectID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Mode = kidwatch.Mode(mode)
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
