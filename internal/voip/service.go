// Package voip bridges raw VoIP datagrams into the analysis pipeline. Each
// configured port gets one background listener that decodes packets into a
// shared sliding window and broadcasts gated predictions to every registered
// result listener.
//
// The single shared buffer per port means concurrent senders on one port mix
// their audio together; keying buffers per source address would change
// observable behaviour and is deliberately not done here.
package voip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/frostbyte-ai/voiceguard/internal/hub"
	"github.com/frostbyte-ai/voiceguard/internal/observe"
	"github.com/frostbyte-ai/voiceguard/internal/stream"
	"github.com/frostbyte-ai/voiceguard/pkg/audio"
	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/history"
)

// maxDatagramSize bounds one read. 64 KiB covers any UDP payload.
const maxDatagramSize = 65536

// Codec identifies the payload encoding of inbound datagrams.
type Codec string

const (
	// CodecPCM16 is little-endian signed 16-bit PCM, normalised by /32768.
	CodecPCM16 Codec = "pcm16"

	// CodecFloat32 is little-endian 32-bit float PCM.
	CodecFloat32 Codec = "float32"

	// CodecOpus is Opus-encoded mono frames, decoded via gopus.
	CodecOpus Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	switch c {
	case CodecPCM16, CodecFloat32, CodecOpus:
		return true
	}
	return false
}

// Config describes one UDP listener.
type Config struct {
	// Host is the bind address (e.g. "0.0.0.0").
	Host string

	// Port is the UDP port to listen on.
	Port int

	// Codec is the payload encoding.
	Codec Codec

	// SampleRate of the inbound stream in Hz.
	SampleRate int

	// Window is the sliding-window span.
	Window time.Duration

	// Ready is how much audio must accumulate before the first prediction.
	// Zero means a full window.
	Ready time.Duration

	// MinInterval throttles detector dispatches.
	MinInterval time.Duration
}

// Service is one UDP ingest listener. Create with New, then call Run; the
// listener stops and its socket is closed when the Run context is cancelled.
type Service struct {
	cfg     Config
	det     detector.Detector
	results *hub.Hub
	metrics *observe.Metrics
	store   history.Store

	buf  *stream.Buffer
	gate *stream.Gate
	opus *audio.OpusDecoder

	// inflight tracks dispatched predictions so Run can wait for them
	// before releasing the history store and hub on shutdown.
	inflight sync.WaitGroup

	mu   sync.Mutex
	conn *net.UDPConn
}

// New validates cfg and creates a Service publishing results to results.
func New(cfg Config, det detector.Detector, results *hub.Hub, metrics *observe.Metrics) (*Service, error) {
	if !cfg.Codec.IsValid() {
		return nil, fmt.Errorf("voip: unknown codec %q", cfg.Codec)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("voip: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	capacity := int(cfg.Window.Seconds() * float64(cfg.SampleRate))
	ready := int(cfg.Ready.Seconds() * float64(cfg.SampleRate))
	buf, err := stream.NewBuffer(capacity, ready, audio.FormatFloat32)
	if err != nil {
		return nil, fmt.Errorf("voip: buffer: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		det:     det,
		results: results,
		metrics: metrics,
		buf:     buf,
		gate:    stream.NewGate(cfg.MinInterval),
	}
	if cfg.Codec == CodecOpus {
		dec, err := audio.NewOpusDecoder(cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("voip: %w", err)
		}
		s.opus = dec
	}
	return s, nil
}

// Run binds the socket and receives datagrams until ctx is cancelled. The
// socket is closed before Run returns; cancellation never leaks a listener.
// Decode and predict failures are swallowed so one bad packet can never take
// the listener down.
func (s *Service) Run(ctx context.Context) error {
	addr, err := netip.ParseAddr(s.cfg.Host)
	if err != nil {
		return fmt.Errorf("voip: parse host %q: %w", s.cfg.Host, err)
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(
		netip.AddrPortFrom(addr, uint16(s.cfg.Port))))
	if err != nil {
		return fmt.Errorf("voip: listen %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// Unblock the read loop when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer s.inflight.Wait()

	slog.Info("voip listener started",
		"addr", conn.LocalAddr().String(),
		"codec", s.cfg.Codec,
		"sample_rate", s.cfg.SampleRate,
	)

	packet := make([]byte, maxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(packet)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("voip listener stopped", "addr", conn.LocalAddr().String())
				return ctx.Err()
			}
			return fmt.Errorf("voip: read: %w", err)
		}
		s.handleDatagram(ctx, packet[:n])
	}
}

// RecordTo persists every listener prediction to store. Persistence is best
// effort; a failing store never interrupts ingestion.
func (s *Service) RecordTo(store history.Store) {
	s.store = store
}

// LocalAddr returns the bound socket address, or nil before Run has bound it.
// Configuring port 0 and reading the address back here is how tests (and any
// caller that wants an ephemeral port) discover where the listener landed.
func (s *Service) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// handleDatagram decodes one packet into the shared window and dispatches a
// gated prediction. Every failure path drops the packet and keeps listening.
func (s *Service) handleDatagram(ctx context.Context, packet []byte) {
	samples, err := s.decode(packet)
	if err != nil {
		slog.Debug("dropping malformed datagram", "err", err)
		s.metrics.RecordDroppedChunk(ctx, "voip")
		return
	}
	s.buf.AddSamples(samples)
	s.metrics.RecordChunk(ctx, "voip")

	if !s.gate.ShouldPredict(s.buf) {
		return
	}

	window := s.buf.Snapshot()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.predict(context.WithoutCancel(ctx), window)
	}()
}

func (s *Service) decode(packet []byte) ([]float32, error) {
	switch s.cfg.Codec {
	case CodecPCM16:
		return audio.DecodeInt16LE(packet)
	case CodecOpus:
		return s.opus.Decode(packet)
	default:
		return audio.DecodeFloat32LE(packet)
	}
}

// broadcastResult is the JSON shape published to hub listeners.
type broadcastResult struct {
	Source     string         `json:"source"`
	Status     string         `json:"status"`
	Label      detector.Label `json:"label"`
	Confidence float64        `json:"confidence"`
}

// predict classifies one window and fans the result out to all listeners.
func (s *Service) predict(ctx context.Context, window []float32) {
	ctx, span := observe.StartPrediction(ctx, "voip", len(window))
	defer span.End()

	start := time.Now()
	res := s.det.Predict(ctx, audio.NormalizePeak(window))
	s.metrics.RecordPrediction(ctx, "voip", string(res.Label), time.Since(start))

	if s.store != nil {
		err := s.store.Insert(ctx, &history.Event{
			Source:     "voip",
			StreamID:   fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
			Label:      res.Label,
			Confidence: res.Confidence,
			Energy:     res.Energy,
		})
		if err != nil {
			slog.Warn("recording voip prediction failed", "err", err)
		}
	}

	payload, err := json.Marshal(broadcastResult{
		Source:     "voip",
		Status:     "processed",
		Label:      res.Label,
		Confidence: math.Round(res.Confidence*100) / 100,
	})
	if err != nil {
		slog.Error("marshal voip result", "err", err)
		return
	}
	s.results.Publish(ctx, payload)
}
