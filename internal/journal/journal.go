// Package journal is the on-gateway diagnostics journal: every safety event
// of every boot session, kept in a local SQLite file so it survives loss of
// the uplink to the fleet databases.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"can-safety-gateway/internal/database"
	"can-safety-gateway/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const insertEventSQL = `INSERT INTO events (session_id, ts, clock_us, mode, kind, reason, bus, can_id, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Journal stores safety events in SQLite.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return New(db), nil
}

// New wraps an already initialized database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Session is one gateway boot.
type Session struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	UnsafeMode uint16    `json:"unsafe_mode"`
	StartedAt  time.Time `json:"started_at"`
}

// StartSession records a new boot session keyed by a time-ordered UUID.
func (j *Journal) StartSession(ctx context.Context, mode string, unsafeMode uint16, now time.Time) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	s := Session{ID: id.String(), Mode: mode, UnsafeMode: unsafeMode, StartedAt: now.UTC()}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, unsafe_mode, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Mode, s.UnsafeMode, s.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Record inserts events in one transaction.
func (j *Journal) Record(ctx context.Context, events []models.SafetyEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, e := range events {
		_, err := tx.ExecContext(ctx, insertEventSQL,
			e.Session, e.Timestamp.UTC().Format(time.RFC3339Nano), int64(e.ClockUS),
			e.Mode, e.Kind, e.Reason, e.Bus, int64(e.CANID), e.Value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Events returns the most recent events of a session, newest first. An empty
// session selects every session.
func (j *Journal) Events(ctx context.Context, session string, limit int) ([]models.SafetyEvent, error) {
	query := `SELECT session_id, ts, clock_us, mode, kind, reason, bus, can_id, value FROM events`
	var args []any
	if session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.SafetyEvent{}
	for rows.Next() {
		var (
			e       models.SafetyEvent
			ts      string
			clockUS int64
			canID   int64
		)
		if err := rows.Scan(&e.Session, &ts, &clockUS, &e.Mode, &e.Kind, &e.Reason, &e.Bus, &canID, &e.Value); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", ts, err)
		}
		e.ClockUS = uint32(clockUS)
		e.CANID = uint32(canID)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Sessions returns the most recent boot sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, mode, unsafe_mode, started_at FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			s  Session
			ts string
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.UnsafeMode, &ts); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.StartedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse session time %q: %w", ts, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Writer batches events into the journal off the caller's goroutine.
type Writer struct {
	*database.Batcher[models.SafetyEvent]
}

var _ database.Writer[models.SafetyEvent] = (*Writer)(nil)

// NewWriter creates a batched writer over j.
func (j *Journal) NewWriter(batchSize int, logger *slog.Logger) *Writer {
	return &Writer{
		Batcher: database.NewBatcher("journal", batchSize, 250*time.Millisecond, j.Record, logger),
	}
}
