// Package remote implements detector.Detector against an out-of-process model
// server. The server owns the neural network and feature extraction; this
// client only ships windows of PCM and decodes the verdict.
//
// Protocol: POST {baseURL}/predict with the window as raw little-endian
// float32 PCM (Content-Type application/octet-stream) and a `rate` query
// parameter. The server answers with JSON:
//
//	{"label": "REAL"|"FAKE", "confidence": 0.87, "energy": 0.01, "artifacts": 0.3}
package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/frostbyte-ai/voiceguard/pkg/detector"
)

const defaultTimeout = 10 * time.Second

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithHTTPClient overrides the HTTP client. Primarily used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

// WithSampleRate sets the sample rate reported to the model server.
// Default: 16000.
func WithSampleRate(rate int) Option {
	return func(d *Detector) { d.sampleRate = rate }
}

// Detector is an HTTP client for a remote classification model.
// It never returns errors to callers: every failure path degrades to the
// ERROR sentinel so streaming sessions stay alive.
type Detector struct {
	baseURL    string
	sampleRate int
	client     *http.Client
}

// New creates a remote Detector pointed at baseURL.
func New(baseURL string, opts ...Option) *Detector {
	d := &Detector{
		baseURL:    baseURL,
		sampleRate: 16000,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// prediction is the JSON response body from the model server.
type prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Energy     float64 `json:"energy"`
	Artifacts  float64 `json:"artifacts"`
}

// Predict implements [detector.Detector].
func (d *Detector) Predict(ctx context.Context, samples []float32) detector.Result {
	res, err := d.predict(ctx, samples)
	if err != nil {
		slog.Warn("remote detector unavailable", "err", err)
		return detector.ErrorResult()
	}
	return res
}

func (d *Detector) predict(ctx context.Context, samples []float32) (detector.Result, error) {
	body := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(s))
	}

	url := d.baseURL + "/predict?rate=" + strconv.Itoa(d.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return detector.Result{}, fmt.Errorf("remote detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return detector.Result{}, fmt.Errorf("remote detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return detector.Result{}, fmt.Errorf("remote detector: unexpected status %d", resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return detector.Result{}, fmt.Errorf("remote detector: decode response: %w", err)
	}

	label := detector.Label(p.Label)
	if label != detector.LabelReal && label != detector.LabelFake {
		return detector.Result{}, fmt.Errorf("remote detector: unknown label %q", p.Label)
	}

	return detector.Result{
		Label:      label,
		Confidence: p.Confidence,
		Energy:     p.Energy,
		Artifacts:  p.Artifacts,
	}, nil
}

var _ detector.Detector = (*Detector)(nil)
