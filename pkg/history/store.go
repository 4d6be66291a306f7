// Package history persists detection events so operators can review what the
// classifier decided after a call or session has ended.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// Event is one recorded classifier decision.
type Event struct {
	// ID is assigned on insert when empty.
	ID string `json:"id"`

	// Source names the ingest surface: "session", "call" or "voip".
	Source string `json:"source"`

	// StreamID identifies the session, room or listener the audio came from.
	StreamID string `json:"stream_id"`

	Label      detector.Label `json:"label"`
	Confidence float64        `json:"confidence"`

	// Energy is the mean-square energy of the analysed window.
	Energy float64 `json:"energy"`

	// CreatedAt is assigned on insert when zero.
	CreatedAt time.Time `json:"created_at"`
}

// Store records detection events and serves recent ones, newest first.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert records one event, assigning ID and CreatedAt if unset.
	Insert(ctx context.Context, ev *Event) error

	// Recent returns up to limit events ordered newest first, optionally
	// filtered by source. An empty source returns events from all surfaces.
	Recent(ctx context.Context, source string, limit int) ([]Event, error)
}

// defaultRecentLimit caps Recent when the caller passes limit <= 0.
const defaultRecentLimit = 50

// MemoryStore is an in-process Store. Events are kept in insertion order and
// capped at maxEvents, discarding the oldest. It is the default when no
// database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	max    int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore retaining at most maxEvents entries.
// maxEvents <= 0 selects a default of 1000.
func NewMemoryStore(maxEvents int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &MemoryStore{max: maxEvents}
}

// Insert records ev, evicting the oldest entry when the cap is reached.
func (s *MemoryStore) Insert(_ context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *MemoryStore) Recent(_ context.Context, source string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if source != "" && s.events[i].Source != source {
			continue
		}
		out = append(out, s.events[i])
	}
	return out, nil
}
