// Package mock provides a deterministic test double for the detector package.
//
// Use Detector to script a sequence of results and inspect the sample windows
// that were submitted for classification:
//
//	det := &mock.Detector{Results: []detector.Result{
//	    {Label: detector.LabelFake, Confidence: 0.9},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

// PredictCall records a single invocation of Detector.Predict.
type PredictCall struct {
	// Samples is a copy of the window passed to Predict.
	Samples []float32
}

// Detector is a scripted implementation of [detector.Detector]. Results are
// returned in order; once exhausted, the last entry repeats. A zero-value
// Detector returns REAL with confidence 1 on every call.
type Detector struct {
	mu sync.Mutex

	// Results is the scripted sequence of results to return.
	Results []detector.Result

	// Calls records every Predict invocation in order.
	Calls []PredictCall

	next int
}

// Predict records the call and returns the next scripted result.
func (d *Detector) Predict(_ context.Context, samples []float32) detector.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := make([]float32, len(samples))
	copy(window, samples)
	d.Calls = append(d.Calls, PredictCall{Samples: window})

	if len(d.Results) == 0 {
		return detector.Result{Label: detector.LabelReal, Confidence: 1}
	}
	res := d.Results[d.next]
	if d.next < len(d.Results)-1 {
		d.next++
	}
	return res
}

// CallCount returns the number of Predict invocations so far. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Reset clears all recorded calls and rewinds the script. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = nil
	d.next = 0
}

// Ensure Detector implements detector.Detector at compile time.
var _ detector.Detector = (*Detector)(nil)
