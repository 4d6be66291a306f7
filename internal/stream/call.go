package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/frostbyte-ai/voiceguard/internal/observe"
	"github.com/frostbyte-ai/voiceguard/internal/room"
	"github.com/frostbyte-ai/voiceguard/internal/stats"
	"github.com/frostbyte-ai/voiceguard/pkg/audio"
	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/history"
)

// CallConfig holds the tuning of the call-room endpoint.
type CallConfig struct {
	// SampleRate is the pipeline's native rate in Hz. Client audio arriving
	// at a different rate (the sampleRate query parameter) is resampled.
	SampleRate int

	// Window is the sliding-window span for call audio.
	Window time.Duration

	// Ready is how much audio must accumulate before the first prediction.
	Ready time.Duration

	// MinInterval throttles detector dispatches on the call path.
	MinInterval time.Duration
}

// CallHandler serves the multi-peer call-room endpoint: WebRTC signaling
// relay between peers plus deepfake analysis of the tapped call audio.
// The room ID doubles as the call ID for rolling statistics.
type CallHandler struct {
	cfg      CallConfig
	det      detector.Detector
	registry *room.Registry
	stats    *stats.Aggregator
	metrics  *observe.Metrics
	store    history.Store
}

// NewCallHandler creates a CallHandler.
func NewCallHandler(cfg CallConfig, det detector.Detector, registry *room.Registry, agg *stats.Aggregator, metrics *observe.Metrics) *CallHandler {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &CallHandler{cfg: cfg, det: det, registry: registry, stats: agg, metrics: metrics}
}

// RecordTo persists every call prediction to store. Persistence is best
// effort and never disturbs the call protocol.
func (h *CallHandler) RecordTo(store history.Store) {
	h.store = store
}

// signal is the envelope of a signaling text frame. Payloads are opaque;
// only the type is inspected for routing.
type signal struct {
	Type string `json:"type"`
}

// joinMessage greets a freshly joined peer.
type joinMessage struct {
	Type        string `json:"type"`
	ClientID    string `json:"client_id"`
	IsInitiator bool   `json:"is_initiator"`
}

// callInference is sent to the analysing client on every gated prediction.
type callInference struct {
	Type       string         `json:"type"`
	Label      detector.Label `json:"label"`
	Confidence float64        `json:"confidence"`
	Energy     float64        `json:"energy"`
	Timestamp  int64          `json:"timestamp"`
}

// ServeHTTP implements http.Handler for GET /ws/call/{roomID}?sampleRate=N.
func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	clientRate := h.cfg.SampleRate
	if v := r.URL.Query().Get("sampleRate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			http.Error(w, "invalid sampleRate", http.StatusBadRequest)
			return
		}
		clientRate = rate
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("call websocket accept failed", "room", roomID, "err", err)
		return
	}

	capacity := int(h.cfg.Window.Seconds() * float64(h.cfg.SampleRate))
	ready := int(h.cfg.Ready.Seconds() * float64(h.cfg.SampleRate))
	buf, err := NewBuffer(capacity, ready, audio.FormatFloat32)
	if err != nil {
		slog.Error("call buffer setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "setup failed")
		return
	}

	peer := &callPeer{
		handler:    h,
		roomID:     roomID,
		clientRate: clientRate,
		buf:        buf,
		gate:       NewGate(h.cfg.MinInterval),
		sink:       &wsSink{conn: conn},
	}
	peer.serve(r.Context())
}

// callPeer is the per-connection state of one room participant.
type callPeer struct {
	handler    *CallHandler
	roomID     string
	clientID   string
	clientRate int
	buf        *Buffer
	gate       *Gate
	sink       *wsSink
	log        *slog.Logger

	inflight sync.WaitGroup
}

// Send implements [room.Peer]; relayed signaling goes out as text frames.
func (p *callPeer) Send(ctx context.Context, payload []byte) error {
	return p.sink.Send(ctx, payload)
}

func (p *callPeer) serve(ctx context.Context) {
	h := p.handler
	res := h.registry.Join(p.roomID, p)
	p.clientID = res.ClientID
	p.log = observe.Logger(ctx).With("room", p.roomID, "client_id", p.clientID)

	h.metrics.ActiveParticipants.Add(ctx, 1)
	if res.IsInitiator {
		h.metrics.ActiveRooms.Add(ctx, 1)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if h.registry.Leave(p.roomID, p.clientID) {
			h.metrics.ActiveRooms.Add(cleanupCtx, -1)
		}
		h.metrics.ActiveParticipants.Add(cleanupCtx, -1)
		p.inflight.Wait()
		p.sink.conn.CloseNow()
		p.log.Info("peer left room")
	}()

	greeting := joinMessage{Type: "room_joined", ClientID: p.clientID}
	if res.IsInitiator {
		greeting.Type = "room_created"
		greeting.IsInitiator = true
	}
	payload, _ := json.Marshal(greeting)
	if err := p.sink.Send(ctx, payload); err != nil {
		p.log.Warn("greeting failed", "err", err)
		return
	}
	p.log.Info("peer joined room", "initiator", res.IsInitiator, "sample_rate", p.clientRate)

	for {
		typ, data, err := p.sink.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				p.log.Warn("peer disconnected abruptly", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			p.handleSignal(ctx, data)
		case websocket.MessageBinary:
			p.handleAudio(ctx, data)
		}
	}
}

// handleSignal routes one signaling frame to the other peers in the room.
// Protocol violations are dropped and logged; the connection stays up.
func (p *callPeer) handleSignal(ctx context.Context, data []byte) {
	var sig signal
	if err := json.Unmarshal(data, &sig); err != nil {
		p.log.Warn("dropping malformed signaling frame", "err", err)
		return
	}

	switch sig.Type {
	case "offer", "answer", "candidate":
		if err := p.handler.registry.Relay(ctx, p.roomID, p.clientID, data); err != nil {
			p.log.Warn("signal relay failed", "type", sig.Type, "err", err)
			return
		}
		p.handler.metrics.SignalsRelayed.Add(ctx, 1)
	default:
		p.log.Debug("ignoring signaling frame", "type", sig.Type)
	}
}

// handleAudio ingests one tapped-audio frame, resampling to the native rate
// when the client streams at a different one, and dispatches a gated
// prediction off the receive path.
func (p *callPeer) handleAudio(ctx context.Context, data []byte) {
	h := p.handler

	samples, err := audio.DecodeFloat32LE(data)
	if err != nil {
		p.log.Warn("dropping malformed audio frame", "err", err)
		h.metrics.RecordDroppedChunk(ctx, "call")
		return
	}
	if p.clientRate != h.cfg.SampleRate {
		samples = audio.ResampleFloat32(samples, p.clientRate, h.cfg.SampleRate)
	}
	p.buf.AddSamples(samples)
	h.metrics.RecordChunk(ctx, "call")

	if !p.gate.ShouldPredict(p.buf) {
		return
	}

	window := p.buf.Snapshot()
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.predict(context.WithoutCancel(ctx), window)
	}()
}

// predict classifies one window, folds the result into the call's rolling
// statistics, and reports it back to this client.
func (p *callPeer) predict(ctx context.Context, window []float32) {
	h := p.handler

	ctx, span := observe.StartPrediction(ctx, "call", len(window))
	defer span.End()

	start := time.Now()
	res := h.det.Predict(ctx, audio.NormalizePeak(window))
	h.metrics.RecordPrediction(ctx, "call", string(res.Label), time.Since(start))

	h.stats.Update(p.roomID, res.Label, res.Confidence)

	if h.store != nil {
		err := h.store.Insert(ctx, &history.Event{
			Source:     "call",
			StreamID:   p.roomID,
			Label:      res.Label,
			Confidence: res.Confidence,
			Energy:     res.Energy,
		})
		if err != nil {
			p.log.Warn("recording call prediction failed", "err", err)
		}
	}

	payload, err := json.Marshal(callInference{
		Type:       "call_inference",
		Label:      res.Label,
		Confidence: round2(res.Confidence),
		Energy:     res.Energy,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Error("marshal call inference", "err", err)
		return
	}
	if err := p.sink.Send(ctx, payload); err != nil {
		p.log.Debug("dropping call inference, send failed", "err", err)
	}
}
