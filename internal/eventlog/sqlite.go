package eventlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const defaultQueueSize = 1024

// SQLiteSink writes events to a SQLite database through a buffered queue so
// that slow disk writes never stall turn processing. When the queue is full,
// events are dropped and counted.
type SQLiteSink struct {
	db      *sql.DB
	queue   chan Event
	done    chan struct{}
	dropped int64
	mu      sync.Mutex
	closed  bool
}

// NewSQLite creates a SQLite-backed event sink.
func NewSQLite(dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps readers (ad-hoc diagnosis queries) off the writer's back.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteSink{
		db:    db,
		queue: make(chan Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	go s.writeLoop()
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Log enqueues an event. It never blocks; events are dropped when the queue
// is full or the sink is closed.
func (s *SQLiteSink) Log(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.queue <- event:
	default:
		s.dropped++
		if s.dropped%100 == 1 {
			slog.Warn("Event log queue full, dropping events", "dropped_total", s.dropped)
		}
	}
	s.mu.Unlock()
}

func (s *SQLiteSink) writeLoop() {
	defer close(s.done)
	for event := range s.queue {
		_, err := s.db.Exec(
			`INSERT INTO events (ts, session_id, kind, payload) VALUES (?, ?, ?, ?)`,
			event.Time.UnixMilli(), event.SessionID, string(event.Kind), event.Payload,
		)
		if err != nil {
			slog.Warn("Failed to write event", "kind", event.Kind, "session_id", event.SessionID, "error", err)
		}
	}
}

// SessionEvents returns the recorded events for one session in insertion
// order. Intended for tests and ad-hoc diagnosis.
func (s *SQLiteSink) SessionEvents(sessionID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT ts, session_id, kind, payload FROM events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Debug("Failed to close event rows", "error", closeErr)
		}
	}()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var payload sql.NullString
		if err := rows.Scan(&ts, &e.SessionID, (*string)(&e.Kind), &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.Payload = payload.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close drains the queue and closes the database.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}
