// Package app wires all VoiceGuard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves traffic until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/frostbyte-ai/voiceguard/internal/config"
	"github.com/frostbyte-ai/voiceguard/internal/health"
	"github.com/frostbyte-ai/voiceguard/internal/hub"
	"github.com/frostbyte-ai/voiceguard/internal/observe"
	"github.com/frostbyte-ai/voiceguard/internal/resilience"
	"github.com/frostbyte-ai/voiceguard/internal/room"
	"github.com/frostbyte-ai/voiceguard/internal/stats"
	"github.com/frostbyte-ai/voiceguard/internal/stream"
	"github.com/frostbyte-ai/voiceguard/internal/voip"
	"github.com/frostbyte-ai/voiceguard/pkg/audio"
	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/history"
)

// shutdownTimeout bounds the HTTP server drain when the run context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the VoiceGuard server.
type App struct {
	cfg *config.Config

	// det is the full classification pipeline handed to every ingest
	// surface: silence gate over circuit-broken backend(s).
	det      detector.Detector
	fallback *resilience.FallbackDetector

	registry *room.Registry
	stats    *stats.Aggregator
	results  *hub.Hub
	store    history.Store
	metrics  *observe.Metrics

	server    *http.Server
	listeners []*voip.Service

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics bundle instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The backend is the
// raw classifier created by main via the config registry; New wraps it in the
// configured silence gate and circuit breaker before it reaches any ingest
// surface.
func New(ctx context.Context, cfg *config.Config, backend detector.Detector, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initDetector(backend)

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	a.registry = room.NewRegistry()
	a.stats = stats.NewAggregator()
	a.results = hub.New()
	a.results.OnDrop = func(hub.Sink) {
		a.metrics.BroadcastDrops.Add(context.Background(), 1)
	}

	if err := a.initVoIP(); err != nil {
		return nil, fmt.Errorf("app: init voip: %w", err)
	}

	a.initHTTP()

	return a, nil
}

// initDetector assembles the classification pipeline around the raw backend.
func (a *App) initDetector(backend detector.Detector) {
	var fbCfg resilience.FallbackConfig
	if b := a.cfg.Detector.Breaker; b != nil {
		fbCfg.CircuitBreaker = resilience.CircuitBreakerConfig{
			MaxFailures:  b.FailureThreshold,
			ResetTimeout: b.Cooldown.Std(),
		}
	}
	a.fallback = resilience.NewFallbackDetector(backend, a.cfg.Detector.Name, fbCfg)

	var det detector.Detector = a.fallback
	if th := a.cfg.Detector.SilenceThreshold; th > 0 {
		det = &detector.SilenceGate{Inner: det, Threshold: th}
	}
	a.det = det
}

// initHistory connects the PostgreSQL event store, or falls back to the
// bounded in-memory store when no DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.store = history.NewMemoryStore(a.cfg.History.MaxEvents)
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	pg := history.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.store = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("history store connected", "backend", "postgres")
	return nil
}

// initVoIP builds one ingest service per configured listener. Sockets are
// bound later, in Run.
func (a *App) initVoIP() error {
	for i, l := range a.cfg.VoIP.Listeners {
		svc, err := voip.New(voip.Config{
			Host:        l.Host,
			Port:        l.Port,
			Codec:       voip.Codec(l.Codec),
			SampleRate:  l.SampleRate,
			Window:      l.Window.Std(),
			Ready:       l.Ready.Std(),
			MinInterval: l.MinInterval.Std(),
		}, a.det, a.results, a.metrics)
		if err != nil {
			return fmt.Errorf("listener %d: %w", i, err)
		}
		svc.RecordTo(a.store)
		a.listeners = append(a.listeners, svc)
	}
	return nil
}

// initHTTP assembles the route table and the server around it.
func (a *App) initHTTP() {
	analyze := stream.NewSessionHandler(stream.SessionConfig{
		Mode:        stream.Mode(a.cfg.Analyze.Mode),
		SampleRate:  a.cfg.Audio.SampleRate,
		Format:      audio.SampleFormat(a.cfg.Audio.Format),
		Window:      a.cfg.Analyze.Window.Std(),
		Ready:       a.cfg.Analyze.Ready.Std(),
		MinInterval: a.cfg.Analyze.MinInterval.Std(),
	}, a.det, a.results, a.metrics)
	analyze.RecordTo(a.store)

	call := stream.NewCallHandler(stream.CallConfig{
		SampleRate:  a.cfg.Audio.SampleRate,
		Window:      a.cfg.Call.Window.Std(),
		Ready:       a.cfg.Call.Ready.Std(),
		MinInterval: a.cfg.Call.MinInterval.Std(),
	}, a.det, a.registry, a.stats, a.metrics)
	call.RecordTo(a.store)

	mux := http.NewServeMux()
	health.New(
		health.StoreChecker(a.store),
		health.ReadyChecker("detector", a.fallback),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/analyze", analyze)
	mux.Handle("GET /ws/call/{roomID}", call)
	mux.HandleFunc("GET /calls/{callID}/stats", a.handleCallStats)
	mux.HandleFunc("GET /history", a.handleHistory)
	mux.HandleFunc("GET /status", a.handleStatus)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler. Exposed for tests that serve the
// app through httptest instead of a real listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and UDP traffic until ctx is cancelled or a subsystem
// fails. The HTTP server is drained gracefully on cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	for _, svc := range a.listeners {
		g.Go(func() error {
			if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// handleCallStats serves the rolling statistics of one call. Unknown calls
// answer with a zero snapshot rather than 404: a call that has produced no
// predictions yet is indistinguishable from one that never existed.
func (a *App) handleCallStats(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")
	if callID == "" {
		http.Error(w, "call id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, a.stats.Get(callID))
}

// handleHistory serves recent detection events, newest first. Optional query
// parameters: source (session|call|voip) and limit.
func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := a.store.Recent(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		slog.Error("history query failed", "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(w, map[string]any{"events": events})
}

// statusResponse is the JSON shape of the /status endpoint.
type statusResponse struct {
	Rooms         int `json:"rooms"`
	Listeners     int `json:"voip_listeners"`
	ResultClients int `json:"result_clients"`
}

// handleStatus reports coarse liveness counters for operators.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, statusResponse{
		Rooms:         a.registry.Rooms(),
		Listeners:     len(a.listeners),
		ResultClients: a.results.Len(),
	})
}

// writeJSON encodes v as JSON with a 200 status. On encoding failure the
// response is already partially written, so the error is only logged.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
