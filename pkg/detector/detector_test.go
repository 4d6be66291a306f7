package detector_test

import (
	"context"
	"testing"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/detector/mock"
)

func TestSilenceGate_ShortCircuitsOnSilence(t *testing.T) {
	inner := &mock.Detector{Results: []detector.Result{
		{Label: detector.LabelFake, Confidence: 0.9},
	}}
	gate := &detector.SilenceGate{Inner: inner, Threshold: 1e-4}

	res := gate.Predict(context.Background(), make([]float32, 1600))

	if res.Label != detector.LabelReal {
		t.Errorf("label = %q, want REAL", res.Label)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
	if inner.CallCount() != 0 {
		t.Errorf("inner detector called %d times, want 0", inner.CallCount())
	}
}

func TestSilenceGate_ForwardsLoudAudio(t *testing.T) {
	inner := &mock.Detector{Results: []detector.Result{
		{Label: detector.LabelFake, Confidence: 0.9},
	}}
	gate := &detector.SilenceGate{Inner: inner, Threshold: 1e-4}

	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 0.5
	}
	res := gate.Predict(context.Background(), loud)

	if res.Label != detector.LabelFake {
		t.Errorf("label = %q, want FAKE", res.Label)
	}
	if inner.CallCount() != 1 {
		t.Errorf("inner detector called %d times, want 1", inner.CallCount())
	}
	if res.Energy == 0 {
		t.Error("energy diagnostic should be populated")
	}
}

func TestMockDetector_RepeatsLastResult(t *testing.T) {
	det := &mock.Detector{Results: []detector.Result{
		{Label: detector.LabelReal, Confidence: 0.2},
		{Label: detector.LabelFake, Confidence: 0.8},
	}}

	ctx := context.Background()
	first := det.Predict(ctx, nil)
	second := det.Predict(ctx, nil)
	third := det.Predict(ctx, nil)

	if first.Label != detector.LabelReal {
		t.Errorf("first label = %q, want REAL", first.Label)
	}
	if second.Label != detector.LabelFake || third.Label != detector.LabelFake {
		t.Errorf("later labels = %q, %q, want FAKE, FAKE", second.Label, third.Label)
	}
}
