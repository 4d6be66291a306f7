// Command voiceguard is the main entry point for the VoiceGuard deepfake
// voice detection server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostbyte-ai/voiceguard/internal/app"
	"github.com/frostbyte-ai/voiceguard/internal/config"
	"github.com/frostbyte-ai/voiceguard/internal/observe"
	"github.com/frostbyte-ai/voiceguard/pkg/detector"
	"github.com/frostbyte-ai/voiceguard/pkg/detector/mock"
	"github.com/frostbyte-ai/voiceguard/pkg/detector/remote"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceguard: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceguard: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiceguard starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceguard",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinDetectors(reg)

	backend, err := reg.Create(cfg.Detector)
	if err != nil {
		slog.Error("failed to create detector backend", "name", cfg.Detector.Name, "err", err)
		return 1
	}
	slog.Info("detector backend created", "name", cfg.Detector.Name)

	application, err := app.New(ctx, cfg, backend)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinDetectors wires the detector backends that ship with
// VoiceGuard into reg.
func registerBuiltinDetectors(reg *config.Registry) {
	// mock answers REAL on every window. Useful for wiring checks and load
	// tests without an inference service.
	reg.Register("mock", func(config.DetectorConfig) (detector.Detector, error) {
		return &mock.Detector{}, nil
	})

	reg.Register("remote", func(entry config.DetectorConfig) (detector.Detector, error) {
		var opts []remote.Option
		if entry.SampleRate > 0 {
			opts = append(opts, remote.WithSampleRate(entry.SampleRate))
		}
		return remote.New(entry.BaseURL, opts...), nil
	})
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
