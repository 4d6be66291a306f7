// Package hub provides best-effort fan-out of asynchronously produced
// detection results to every currently-listening connection.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// queueSize is the per-listener buffer depth. A listener whose queue is full
// at publish time is considered stalled and dropped on the spot.
const queueSize = 16

// sendTimeout bounds one delivery attempt made by a listener's forwarder.
const sendTimeout = 5 * time.Second

// Sink is one registered listener. WebSocket sessions implement Sink over
// their connection; tests implement it directly.
type Sink interface {
	// Send delivers one message to the listener. A non-nil error marks the
	// listener unusable.
	Send(ctx context.Context, payload []byte) error
}

// Hub is a set of Sinks with at-most-once delivery: no retries, no ordering
// guarantee across listeners, no backpressure. Each listener gets its own
// buffered queue drained by a dedicated forwarder goroutine, so a stalled
// consumer never delays publishing or delivery to the others. All methods
// are safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	listeners map[Sink]*queue

	// OnDrop, when non-nil, is invoked for every listener removed because its
	// queue overflowed or a send failed. Used to feed metrics. Set it before
	// the first Register.
	OnDrop func(Sink)
}

// queue carries payloads from Publish to one listener's forwarder. The
// channel is closed exactly once, under the hub lock, when the listener is
// removed.
type queue struct {
	ch chan []byte
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{listeners: make(map[Sink]*queue)}
}

// Register adds s to the listener set and starts its forwarder. Registering
// twice is a no-op.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[s]; ok {
		return
	}
	q := &queue{ch: make(chan []byte, queueSize)}
	h.listeners[s] = q
	go h.forward(s, q)
}

// Unregister removes s from the listener set and stops its forwarder after
// any queued payloads are discarded. Removing an absent listener is a no-op.
func (h *Hub) Unregister(s Sink) {
	h.remove(s, false)
}

// Len returns the current number of registered listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Publish enqueues payload for every registered listener and returns without
// waiting on any of them. A listener whose queue is full is dropped
// immediately instead of being waited on.
func (h *Hub) Publish(_ context.Context, payload []byte) {
	h.mu.Lock()
	var dropped []Sink
	for s, q := range h.listeners {
		select {
		case q.ch <- payload:
		default:
			dropped = append(dropped, s)
		}
	}
	for _, s := range dropped {
		close(h.listeners[s].ch)
		delete(h.listeners, s)
	}
	h.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	slog.Debug("dropped stalled broadcast listeners", "count", len(dropped))
	if h.OnDrop != nil {
		for _, s := range dropped {
			h.OnDrop(s)
		}
	}
}

// forward drains one listener's queue. A send error removes the listener;
// queue closure (removal elsewhere) ends the forwarder.
func (h *Hub) forward(s Sink, q *queue) {
	for payload := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.Send(ctx, payload)
		cancel()
		if err != nil {
			h.remove(s, true)
			return
		}
	}
}

// remove deletes s from the listener set, closing its queue so the forwarder
// exits. The close happens under the hub lock; Publish sends under the same
// lock, so a send on a closed queue cannot happen.
func (h *Hub) remove(s Sink, dropped bool) {
	h.mu.Lock()
	q, ok := h.listeners[s]
	if ok {
		close(q.ch)
		delete(h.listeners, s)
	}
	h.mu.Unlock()

	if ok && dropped {
		slog.Debug("dropped broadcast listener after failed send")
		if h.OnDrop != nil {
			h.OnDrop(s)
		}
	}
}
