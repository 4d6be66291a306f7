package remote_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/detector/remote"
)

func TestPredict_DecodesServerVerdict(t *testing.T) {
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("path = %q, want /predict", r.URL.Path)
		}
		if r.URL.Query().Get("rate") != "16000" {
			t.Errorf("rate = %q, want 16000", r.URL.Query().Get("rate"))
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = len(body)
		json.NewEncoder(w).Encode(map[string]any{
			"label":      "FAKE",
			"confidence": 0.91,
			"energy":     0.02,
			"artifacts":  0.4,
		})
	}))
	defer srv.Close()

	det := remote.New(srv.URL)
	res := det.Predict(context.Background(), make([]float32, 100))

	if res.Label != detector.LabelFake {
		t.Errorf("label = %q, want FAKE", res.Label)
	}
	if res.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", res.Confidence)
	}
	if gotBody != 400 {
		t.Errorf("request body = %d bytes, want 400", gotBody)
	}
}

func TestPredict_ServerErrorDegradesToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	det := remote.New(srv.URL)
	res := det.Predict(context.Background(), make([]float32, 10))

	if res.Label != detector.LabelError {
		t.Errorf("label = %q, want ERROR", res.Label)
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", res.Confidence)
	}
}

func TestPredict_UnreachableServerDegradesToSentinel(t *testing.T) {
	det := remote.New("http://127.0.0.1:1")
	res := det.Predict(context.Background(), make([]float32, 10))
	if res.Label != detector.LabelError {
		t.Errorf("label = %q, want ERROR", res.Label)
	}
}

func TestPredict_UnknownLabelIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"label": "MAYBE", "confidence": 0.5})
	}))
	defer srv.Close()

	det := remote.New(srv.URL)
	if res := det.Predict(context.Background(), nil); res.Label != detector.LabelError {
		t.Errorf("label = %q, want ERROR", res.Label)
	}
}
