package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// Schema is the SQL DDL for the detection_events table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS detection_events (
    id         TEXT PRIMARY KEY,
    source     TEXT NOT NULL,
    stream_id  TEXT NOT NULL DEFAULT '',
    label      TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    energy     DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_detection_events_source ON detection_events(source);
CREATE INDEX IF NOT EXISTS idx_detection_events_created ON detection_events(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the detection_events table and
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Insert records one event, assigning ID and CreatedAt if unset.
func (s *PostgresStore) Insert(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO detection_events (id, source, stream_id, label, confidence, energy, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := s.db.Exec(ctx, query,
		ev.ID, ev.Source, ev.StreamID, string(ev.Label), ev.Confidence, ev.Energy, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events ordered newest first, optionally filtered
// by source.
func (s *PostgresStore) Recent(ctx context.Context, source string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if source == "" {
		const query = `
			SELECT id, source, stream_id, label, confidence, energy, created_at
			FROM detection_events
			ORDER BY created_at DESC
			LIMIT $1`
		rows, err = s.db.Query(ctx, query, limit)
	} else {
		const query = `
			SELECT id, source, stream_id, label, confidence, energy, created_at
			FROM detection_events
			WHERE source = $1
			ORDER BY created_at DESC
			LIMIT $2`
		rows, err = s.db.Query(ctx, query, source, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev    Event
			label string
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.StreamID, &label, &ev.Confidence, &ev.Energy, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		ev.Label = detector.Label(label)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return events, nil
}
