// Package stream implements the real-time analysis pipeline: the sliding
// audio window, the inference-rate gate, and the per-connection WebSocket
// session loops that feed the detector.
package stream

import (
	"fmt"
	"log/slog"

	"github.com/frostbyte-ai/voiceguard/pkg/audio"
)

// Buffer is a fixed-capacity sliding window over mono float32 PCM samples.
// Once full, every append evicts the oldest samples so the window always
// holds the most recent audio. Sliding, not consuming: reading a snapshot
// does not drain it.
//
// A Buffer is owned by a single connection goroutine and is not safe for
// concurrent use.
type Buffer struct {
	data   []float32
	start  int
	length int

	ready  int
	format audio.SampleFormat
}

// NewBuffer creates a Buffer holding capacity samples that reports ready once
// readyThreshold samples have accumulated. readyThreshold must not exceed
// capacity; pass readyThreshold == capacity for full-window semantics, or a
// lower value to start predicting before the window fills (e.g. 5 s of a
// 10 s window). Inbound bytes are decoded per format.
func NewBuffer(capacity, readyThreshold int, format audio.SampleFormat) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("stream: buffer capacity must be positive, got %d", capacity)
	}
	if readyThreshold <= 0 || readyThreshold > capacity {
		readyThreshold = capacity
	}
	if !format.IsValid() {
		return nil, fmt.Errorf("stream: unknown sample format %q", format)
	}
	return &Buffer{
		data:   make([]float32, capacity),
		ready:  readyThreshold,
		format: format,
	}, nil
}

// Add decodes raw PCM bytes and appends the samples to the window. Malformed
// chunks (byte length not a multiple of the sample width) are dropped with a
// log line; the stream stays alive.
func (b *Buffer) Add(raw []byte) {
	samples, err := audio.Decode(raw, b.format)
	if err != nil {
		slog.Warn("dropping malformed audio chunk", "err", err)
		return
	}
	b.AddSamples(samples)
}

// AddSamples appends already-decoded samples, evicting the oldest once the
// window is full. Used by paths that decode upstream (resampling, Opus).
func (b *Buffer) AddSamples(samples []float32) {
	capacity := len(b.data)
	if len(samples) >= capacity {
		// The chunk alone fills the window; keep only its tail.
		copy(b.data, samples[len(samples)-capacity:])
		b.start = 0
		b.length = capacity
		return
	}

	for _, s := range samples {
		idx := (b.start + b.length) % capacity
		b.data[idx] = s
		if b.length < capacity {
			b.length++
		} else {
			b.start = (b.start + 1) % capacity
		}
	}
}

// Len returns the number of samples currently buffered. Never exceeds capacity.
func (b *Buffer) Len() int { return b.length }

// Cap returns the window capacity in samples.
func (b *Buffer) Cap() int { return len(b.data) }

// IsReady reports whether enough audio has accumulated to predict. Once the
// window fills it stays ready forever; rate control is the Gate's job, not
// the buffer's.
func (b *Buffer) IsReady() bool { return b.length >= b.ready }

// Snapshot returns a copy of the current window contents in arrival order,
// most recent last. The buffer is left untouched.
func (b *Buffer) Snapshot() []float32 {
	out := make([]float32, b.length)
	head := copy(out, b.data[b.start:min(b.start+b.length, len(b.data))])
	if head < b.length {
		copy(out[head:], b.data[:b.length-head])
	}
	return out
}
