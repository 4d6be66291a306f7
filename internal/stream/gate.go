package stream

import "time"

// Gate throttles detector invocations independently of packet-arrival jitter.
// A full sliding window reports ready on every subsequent chunk, so without
// an elapsed-time gate the detector would run per packet; the gate is
// therefore mandatory on every path that reads a buffer.
//
// The zero MinInterval disables throttling (final-verdict sessions predict on
// every ready chunk because the goal is an averaged verdict, not a live feed).
type Gate struct {
	// MinInterval is the minimum time between detector dispatches.
	MinInterval time.Duration

	// now is the clock source, injectable for tests.
	now func() time.Time

	last time.Time
}

// NewGate creates a Gate with the given minimum interval between dispatches.
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{MinInterval: minInterval, now: time.Now}
}

// ShouldPredict reports whether a prediction should be dispatched now: the
// buffer has enough audio and MinInterval has elapsed since the last
// dispatch. On a true result the gate records the dispatch time immediately
// (not the result-arrival time), so a slow detector cannot cause pile-up.
func (g *Gate) ShouldPredict(b *Buffer) bool {
	if !b.IsReady() {
		return false
	}
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.MinInterval {
		return false
	}
	g.last = now
	return true
}
