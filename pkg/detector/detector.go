// Package detector defines the boundary between the streaming pipeline and
// the deepfake-voice classification model. The pipeline only ever sees the
// [Detector] interface; whether predictions come from an in-process model, a
// remote model server, or a test double is invisible to it.
package detector

import (
	"context"

	"github.com/frostbyte-ai/voiceguard/pkg/audio"
)

// Label is the classification outcome for one audio window.
type Label string

const (
	// LabelReal indicates the window sounds like a genuine human voice.
	LabelReal Label = "REAL"

	// LabelFake indicates the window sounds synthetically generated.
	LabelFake Label = "FAKE"

	// LabelError indicates the detector could not produce a classification.
	LabelError Label = "ERROR"

	// LabelInconclusive is used for session verdicts when too little audio
	// arrived to make any prediction at all.
	LabelInconclusive Label = "INCONCLUSIVE"
)

// Result is one classification of a window of audio.
type Result struct {
	// Label is the classification outcome.
	Label Label

	// Confidence is the score backing the label, in [0, 1].
	Confidence float64

	// Energy is the mean-square energy of the analysed window. Diagnostic.
	Energy float64

	// Artifacts is a synthesis-artifact score reported by the model, when
	// available. Diagnostic.
	Artifacts float64
}

// Detector classifies a window of mono float32 PCM samples.
//
// Implementations must never panic and never return an error: any internal
// failure is reported as a Result with [LabelError] and zero confidence so
// that streaming sessions degrade instead of disconnecting.
type Detector interface {
	Predict(ctx context.Context, samples []float32) Result
}

// ErrorResult is the sentinel returned when classification is impossible.
func ErrorResult() Result {
	return Result{Label: LabelError, Confidence: 0}
}

// SilenceGate wraps a Detector with an energy pre-filter: windows whose
// mean-square energy falls below Threshold short-circuit to REAL with zero
// confidence without invoking the underlying model. This keeps idle lines
// from burning inference cycles and from being flagged on noise.
type SilenceGate struct {
	// Inner is the detector invoked for non-silent windows.
	Inner Detector

	// Threshold is the mean-square energy below which a window counts as
	// silence.
	Threshold float64
}

// Predict implements [Detector].
func (g *SilenceGate) Predict(ctx context.Context, samples []float32) Result {
	energy := audio.MeanSquareEnergy(samples)
	if energy < g.Threshold {
		return Result{Label: LabelReal, Confidence: 0, Energy: energy}
	}
	res := g.Inner.Predict(ctx, samples)
	if res.Energy == 0 {
		res.Energy = energy
	}
	return res
}

var _ Detector = (*SilenceGate)(nil)
