package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/frostbyte-ai/voiceguard/internal/hub"
	"github.com/frostbyte-ai/voiceguard/internal/observe"
	"github.com/frostbyte-ai/voiceguard/pkg/audio"
	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/history"
)

// Mode selects how a session reports predictions to its client.
type Mode string

const (
	// ModeContinuous sends every gated prediction to the client immediately
	// as a "processing" update.
	ModeContinuous Mode = "continuous"

	// ModeFinalVerdict accumulates predictions silently and answers with a
	// single aggregate verdict when the client sends the "STOP" control
	// frame.
	ModeFinalVerdict Mode = "final_verdict"
)

// stopControl is the text frame that requests finalization.
const stopControl = "STOP"

// SessionConfig holds the per-endpoint tuning of a session handler.
type SessionConfig struct {
	// Mode selects continuous or final-verdict reporting.
	Mode Mode

	// SampleRate is the pipeline's native rate in Hz.
	SampleRate int

	// Format is the wire encoding of inbound binary frames.
	Format audio.SampleFormat

	// Window is the sliding-window span.
	Window time.Duration

	// Ready is how much audio must accumulate before the first prediction.
	// Zero means a full window.
	Ready time.Duration

	// MinInterval throttles detector dispatches. Zero predicts on every
	// ready chunk.
	MinInterval time.Duration
}

// SessionHandler upgrades HTTP requests to WebSocket audio-analysis sessions.
// Each connection gets its own sliding window, gate, and verdict history;
// detector calls are dispatched off the receive path so a slow model never
// stalls ingestion.
type SessionHandler struct {
	cfg     SessionConfig
	det     detector.Detector
	results *hub.Hub
	metrics *observe.Metrics
	store   history.Store
}

// NewSessionHandler creates a SessionHandler. The hub is optional: when
// non-nil, each session is registered as a listener for the duration of its
// connection so it also receives broadcast results (e.g. from the VoIP
// ingest path).
func NewSessionHandler(cfg SessionConfig, det detector.Detector, results *hub.Hub, metrics *observe.Metrics) *SessionHandler {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionHandler{cfg: cfg, det: det, results: results, metrics: metrics}
}

// RecordTo persists each session's terminal verdict to store. Persistence is
// best effort; a failing store never disturbs the client-facing protocol.
func (h *SessionHandler) RecordTo(store history.Store) {
	h.store = store
}

// ServeHTTP implements http.Handler.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	ctx := r.Context()
	sess, err := h.newSession(ctx, conn)
	if err != nil {
		slog.Error("session setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	h.metrics.ActiveSessions.Add(ctx, 1)
	if h.results != nil {
		h.results.Register(sess.sink)
	}
	defer func() {
		if h.results != nil {
			h.results.Unregister(sess.sink)
		}
		h.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		conn.CloseNow()
	}()

	sess.log.Info("session opened", "mode", h.cfg.Mode)
	if err := sess.run(ctx); err != nil {
		status := websocket.CloseStatus(err)
		if status == -1 {
			// Transport became unusable mid-session; best-effort close with a
			// non-normal status before releasing resources.
			sess.log.Warn("session ended abruptly", "err", err)
			conn.Close(websocket.StatusInternalError, "session error")
			return
		}
		sess.log.Info("session closed by client", "status", status)
		return
	}
	sess.log.Info("session finalized")
}

// wsSink adapts a WebSocket connection to [hub.Sink]. coder/websocket allows
// only one concurrent writer, and results arrive both from this session's
// own prediction goroutines and from hub broadcasts, so writes are
// serialised here.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send implements [hub.Sink].
func (s *wsSink) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// session is the per-connection state: OPEN → STREAMING → FINALIZING →
// CLOSED, with an abrupt-disconnect path from any state.
type session struct {
	id   string
	mode Mode
	buf  *Buffer
	gate *Gate
	sink  *wsSink
	det   detector.Detector
	store history.Store
	log   *slog.Logger

	metrics *observe.Metrics

	// inflight tracks dispatched predictions so finalization can wait for
	// results that are still being computed.
	inflight sync.WaitGroup

	mu        sync.Mutex
	fakeFlags []int
}

func (h *SessionHandler) newSession(ctx context.Context, conn *websocket.Conn) (*session, error) {
	capacity := int(h.cfg.Window.Seconds() * float64(h.cfg.SampleRate))
	ready := int(h.cfg.Ready.Seconds() * float64(h.cfg.SampleRate))
	buf, err := NewBuffer(capacity, ready, h.cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("stream: session buffer: %w", err)
	}

	id := uuid.NewString()
	return &session{
		id:      id,
		mode:    h.cfg.Mode,
		buf:     buf,
		gate:    NewGate(h.cfg.MinInterval),
		sink:    &wsSink{conn: conn},
		det:     h.det,
		store:   h.store,
		log:     observe.Logger(ctx).With("session_id", id),
		metrics: h.metrics,
	}, nil
}

// run is the STREAMING loop. It returns nil after a clean finalization and
// the read error on disconnect.
func (s *session) run(ctx context.Context) error {
	defer s.inflight.Wait()

	for {
		typ, data, err := s.sink.conn.Read(ctx)
		if err != nil {
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			s.handleChunk(ctx, data)
		case websocket.MessageText:
			if string(data) == stopControl {
				return s.finalize(ctx)
			}
			s.log.Debug("ignoring unexpected text frame", "len", len(data))
		}
	}
}

// handleChunk ingests one binary frame and dispatches a prediction when the
// gate allows. Malformed frames are dropped by the buffer; nothing here may
// terminate the session.
func (s *session) handleChunk(ctx context.Context, data []byte) {
	s.buf.Add(data)
	s.metrics.RecordChunk(ctx, "session")

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

// predict classifies one window and delivers the result according to the
// session mode.
func (s *session) predict(ctx context.Context, window []float32) {
	ctx, span := observe.StartPrediction(ctx, "session", len(window))
	defer span.End()

	start := time.Now()
	res := s.det.Predict(ctx, window)
	s.metrics.RecordPrediction(ctx, "session", string(res.Label), time.Since(start))

	switch s.mode {
	case ModeFinalVerdict:
		flag := 0
		if res.Label == detector.LabelFake {
			flag = 1
		}
		s.mu.Lock()
		s.fakeFlags = append(s.fakeFlags, flag)
		s.mu.Unlock()
	default:
		payload, err := json.Marshal(resultMessage{
			Status:     "processing",
			Label:      res.Label,
			Confidence: round2(res.Confidence),
			Energy:     res.Energy,
			Artifacts:  res.Artifacts,
		})
		if err != nil {
			s.log.Error("marshal result", "err", err)
			return
		}
		if err := s.sink.Send(ctx, payload); err != nil {
			s.log.Debug("dropping result, send failed", "err", err)
		}
	}
}

// finalize waits for in-flight predictions, computes the aggregate verdict,
// sends exactly one terminal message, and closes the connection normally.
func (s *session) finalize(ctx context.Context) error {
	s.inflight.Wait()

	s.mu.Lock()
	flags := s.fakeFlags
	s.mu.Unlock()

	label, confidence := FinalVerdict(flags)
	s.log.Info("final verdict", "label", label, "confidence", confidence, "predictions", len(flags))

	if s.store != nil {
		err := s.store.Insert(ctx, &history.Event{
			Source:     "session",
			StreamID:   s.id,
			Label:      label,
			Confidence: confidence,
		})
		if err != nil {
			s.log.Warn("recording verdict failed", "err", err)
		}
	}

	payload, err := json.Marshal(resultMessage{
		Status:     "complete",
		Label:      label,
		Confidence: confidence,
	})
	if err != nil {
		return fmt.Errorf("stream: marshal final verdict: %w", err)
	}
	if err := s.sink.Send(ctx, payload); err != nil {
		return fmt.Errorf("stream: send final verdict: %w", err)
	}
	return s.sink.conn.Close(websocket.StatusNormalClosure, "analysis complete")
}

// resultMessage is the JSON wire shape for both per-chunk updates and the
// terminal verdict. Confidence is always present; zero is meaningful
// (INCONCLUSIVE).
type resultMessage struct {
	Status     string         `json:"status"`
	Label      detector.Label `json:"label,omitempty"`
	Confidence float64        `json:"confidence"`
	Energy     float64        `json:"energy,omitempty"`
	Artifacts  float64        `json:"artifacts,omitempty"`
}

// FinalVerdict aggregates a session's fake/real flags into a terminal
// verdict. With no predictions the session is INCONCLUSIVE with zero
// confidence; otherwise the label follows the majority and the confidence is
// the winning share, rounded to two decimal places.
func FinalVerdict(fakeFlags []int) (detector.Label, float64) {
	if len(fakeFlags) == 0 {
		return detector.LabelInconclusive, 0
	}
	var sum int
	for _, f := range fakeFlags {
		sum += f
	}
	avg := float64(sum) / float64(len(fakeFlags))
	if avg > 0.5 {
		return detector.LabelFake, round2(avg)
	}
	return detector.LabelReal, round2(1 - avg)
}

// round2 rounds to two decimal places for wire output.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
