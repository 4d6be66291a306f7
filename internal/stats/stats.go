// Package stats tracks rolling per-call risk statistics derived from chunk
// classifications. Calls live for the process lifetime; external expiry is a
// caller concern.
package stats

import (
	"sync"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// Verdict is the rolling call-level classification.
type Verdict string

const (
	// VerdictHuman means the call's risk score is below the AI threshold.
	VerdictHuman Verdict = "HUMAN"

	// VerdictLikelyAI means at least riskThreshold of analysed chunks were
	// classified FAKE.
	VerdictLikelyAI Verdict = "LIKELY_AI"
)

// riskThreshold is the risk score at or above which a call is flagged.
const riskThreshold = 0.30

// Snapshot is an immutable view of one call's statistics.
type Snapshot struct {
	CallID      string  `json:"call_id"`
	TotalChunks uint64  `json:"total_chunks"`
	AIChunks    uint64  `json:"ai_chunks"`
	HumanChunks uint64  `json:"human_chunks"`
	RiskScore   float64 `json:"risk_score"`
	Verdict     Verdict `json:"verdict"`
}

// callEntry holds one call's counters behind its own lock so that updates to
// different calls never contend.
type callEntry struct {
	mu    sync.Mutex
	total uint64
	ai    uint64
	human uint64
}

// Aggregator maintains per-call counters. All methods are safe for concurrent
// use; updates to the same call are serialised, updates to different calls
// proceed independently.
type Aggregator struct {
	mu    sync.Mutex
	calls map[string]*callEntry
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{calls: make(map[string]*callEntry)}
}

// Update applies one chunk classification to callID's counters and returns
// the updated snapshot. The confidence accompanies the label on the wire but
// does not weight the counters; risk is the exact ratio of FAKE chunks. The
// first update for an unseen call initialises all counters to zero before
// applying. Counters only ever increase.
func (a *Aggregator) Update(callID string, label detector.Label, confidence float64) Snapshot {
	a.mu.Lock()
	entry, ok := a.calls[callID]
	if !ok {
		entry = &callEntry{}
		a.calls[callID] = entry
	}
	a.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.total++
	if label == detector.LabelFake {
		entry.ai++
	} else {
		entry.human++
	}
	return entry.snapshot(callID)
}

// Get returns the current snapshot for callID, or a zero snapshot when the
// call has never been seen. Never fails.
func (a *Aggregator) Get(callID string) Snapshot {
	a.mu.Lock()
	entry, ok := a.calls[callID]
	a.mu.Unlock()
	if !ok {
		return Snapshot{CallID: callID, Verdict: VerdictHuman}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot(callID)
}

// snapshot builds a Snapshot from the entry's counters. Caller holds entry.mu.
func (e *callEntry) snapshot(callID string) Snapshot {
	var risk float64
	if e.total > 0 {
		risk = float64(e.ai) / float64(e.total)
	}
	verdict := VerdictHuman
	if risk >= riskThreshold {
		verdict = VerdictLikelyAI
	}
	return Snapshot{
		CallID:      callID,
		TotalChunks: e.total,
		AIChunks:    e.ai,
		HumanChunks: e.human,
		RiskScore:   risk,
		Verdict:     verdict,
	}
}
