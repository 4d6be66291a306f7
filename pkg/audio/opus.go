package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameSize is the largest frame a single Opus packet may carry:
// 120 ms at 48 kHz. Decoding with this bound accepts every legal frame
// duration without knowing the sender's framing in advance.
const maxOpusFrameSize = 5760

// OpusDecoder decodes mono Opus packets into normalised float32 PCM. Each
// logical stream needs its own decoder so that inter-frame prediction state
// is maintained correctly.
type OpusDecoder struct {
	dec  *gopus.Decoder
	rate int
}

// NewOpusDecoder creates a mono Opus decoder for the given sample rate.
func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, rate: sampleRate}, nil
}

// Decode decodes one Opus packet into float32 samples.
func (d *OpusDecoder) Decode(packet []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(packet, maxOpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16ToFloat32(pcm), nil
}
