package resilience

import (
	"context"
	"errors"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// errBackendResult marks a prediction whose backend reported failure. The
// detector interface surfaces failures as ERROR results rather than errors,
// so this sentinel translates them for circuit-breaker accounting.
var errBackendResult = errors.New("resilience: backend returned error result")

// FallbackDetector composes one or more classifier backends with per-entry
// circuit breakers. The primary is tried first; when it fails or its breaker
// is open, the next healthy fallback answers instead. With a single entry it
// degenerates to a plain circuit-broken detector.
//
// FallbackDetector is safe for concurrent use.
type FallbackDetector struct {
	group *FallbackGroup[detector.Detector]
}

var _ detector.Detector = (*FallbackDetector)(nil)

// NewFallbackDetector creates a FallbackDetector with primary as the first
// entry. Additional backends are registered via
// [FallbackDetector.AddFallback].
func NewFallbackDetector(primary detector.Detector, name string, cfg FallbackConfig) *FallbackDetector {
	return &FallbackDetector{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends a fallback backend, tried after the primary in
// registration order.
func (d *FallbackDetector) AddFallback(name string, det detector.Detector) {
	d.group.AddFallback(name, det)
}

// Healthy reports whether at least one backend's breaker admits calls.
// Readiness probes use this to surface a fully tripped classifier.
func (d *FallbackDetector) Healthy() bool {
	for i := range d.group.entries {
		if d.group.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Predict implements [detector.Detector]. An ERROR result counts as a backend
// failure: it trips that entry's breaker and advances to the next backend.
// When every backend fails or is open, the result is ERROR with zero
// confidence.
func (d *FallbackDetector) Predict(ctx context.Context, samples []float32) detector.Result {
	res, err := ExecuteWithResult(d.group, func(det detector.Detector) (detector.Result, error) {
		r := det.Predict(ctx, samples)
		if r.Label == detector.LabelError {
			return r, errBackendResult
		}
		return r, nil
	})
	if err != nil {
		return detector.ErrorResult()
	}
	return res
}
