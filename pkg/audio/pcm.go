// Package audio provides PCM decoding, resampling, and energy primitives for
// the VoiceGuard streaming pipeline. The pipeline's native representation is
// mono float32 samples in [-1.0, 1.0]; everything arriving over the wire is
// converted into that form at the edge.
package audio

import (
	"fmt"
	"math"
)

// SampleFormat identifies the wire encoding of inbound PCM bytes.
type SampleFormat string

const (
	// FormatFloat32 is little-endian IEEE 754 32-bit float PCM.
	FormatFloat32 SampleFormat = "float32"

	// FormatInt16 is little-endian signed 16-bit integer PCM, normalised by
	// dividing by 32768.
	FormatInt16 SampleFormat = "int16"
)

// IsValid reports whether f is a recognised sample format.
func (f SampleFormat) IsValid() bool {
	return f == FormatFloat32 || f == FormatInt16
}

// Width returns the size of one encoded sample in bytes.
func (f SampleFormat) Width() int {
	if f == FormatInt16 {
		return 2
	}
	return 4
}

// Decode converts raw little-endian PCM bytes into mono float32 samples
// according to f. It returns an error when the byte length is not a multiple
// of the sample width; callers drop the chunk and keep the stream alive.
func Decode(raw []byte, f SampleFormat) ([]float32, error) {
	switch f {
	case FormatInt16:
		return DecodeInt16LE(raw)
	default:
		return DecodeFloat32LE(raw)
	}
}

// DecodeFloat32LE reinterprets raw as little-endian float32 samples.
func DecodeFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("audio: float32 chunk length %d is not a multiple of 4", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		bits := uint32(raw[i*4]) |
			uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 |
			uint32(raw[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// DecodeInt16LE converts little-endian int16 PCM into float32 samples scaled
// to [-1.0, 1.0) by dividing by 32768.
func DecodeInt16LE(raw []byte) ([]float32, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio: int16 chunk length %d is not a multiple of 2", len(raw))
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// Int16ToFloat32 converts decoded int16 samples (e.g. from an Opus decoder)
// into normalised float32 samples.
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ResampleFloat32 resamples mono float32 PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// NormalizePeak scales samples so the largest absolute value becomes 1.0,
// matching the volume conditions the detector's model was trained under.
// Silent input (all zeros) is returned unchanged. The input slice is not
// modified.
func NormalizePeak(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// MeanSquareEnergy returns the mean of squared sample values. Used by the
// detector's silence pre-filter; zero-length input yields 0.
func MeanSquareEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}
