package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidDetectorNames lists known detector backends. Used by [Validate] to
// warn about unrecognised names, which may still resolve against a [Registry]
// populated by the embedding application.
var ValidDetectorNames = []string{"mock", "remote"}

// validCodecs lists recognised VoIP datagram encodings.
var validCodecs = []string{"pcm16", "float32", "opus"}

// validFormats lists recognised binary-frame encodings.
var validFormats = []string{"float32", "int16"}

// validModes lists recognised analysis reporting modes.
var validModes = []string{"continuous", "final_verdict"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Format == "" {
		cfg.Audio.Format = "float32"
	}
	if cfg.Detector.Name == "" {
		cfg.Detector.Name = "mock"
	}
	if cfg.Detector.SampleRate == 0 {
		cfg.Detector.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Analyze.Mode == "" {
		cfg.Analyze.Mode = "final_verdict"
	}
	if cfg.Analyze.Window == 0 {
		cfg.Analyze.Window = Duration(2500 * time.Millisecond)
	}
	if cfg.Call.Window == 0 {
		cfg.Call.Window = Duration(10 * time.Second)
	}
	if cfg.Call.Ready == 0 {
		cfg.Call.Ready = Duration(5 * time.Second)
	}
	if cfg.Call.MinInterval == 0 {
		cfg.Call.MinInterval = Duration(2 * time.Second)
	}
	for i := range cfg.VoIP.Listeners {
		l := &cfg.VoIP.Listeners[i]
		if l.Host == "" {
			l.Host = "0.0.0.0"
		}
		if l.Codec == "" {
			l.Codec = "pcm16"
		}
		if l.SampleRate == 0 {
			l.SampleRate = cfg.Audio.SampleRate
		}
		if l.Window == 0 {
			l.Window = cfg.Call.Window
		}
		if l.Ready == 0 {
			l.Ready = cfg.Call.Ready
		}
		if l.MinInterval == 0 {
			l.MinInterval = cfg.Call.MinInterval
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if !slices.Contains(validFormats, cfg.Audio.Format) {
		errs = append(errs, fmt.Errorf("audio.format %q is invalid; valid values: float32, int16", cfg.Audio.Format))
	}

	if cfg.Detector.Name != "" && !slices.Contains(ValidDetectorNames, cfg.Detector.Name) {
		slog.Warn("unknown detector name, may be a typo or an application-registered backend",
			"name", cfg.Detector.Name,
			"known", ValidDetectorNames,
		)
	}
	if cfg.Detector.Name == "remote" && cfg.Detector.BaseURL == "" {
		errs = append(errs, errors.New("detector.base_url is required when detector.name is remote"))
	}
	if cfg.Detector.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("detector.silence_threshold %g must not be negative", cfg.Detector.SilenceThreshold))
	}
	if b := cfg.Detector.Breaker; b != nil {
		if b.FailureThreshold <= 0 {
			errs = append(errs, fmt.Errorf("detector.breaker.failure_threshold %d must be positive", b.FailureThreshold))
		}
		if b.Cooldown <= 0 {
			errs = append(errs, errors.New("detector.breaker.cooldown must be positive"))
		}
	}

	if !slices.Contains(validModes, cfg.Analyze.Mode) {
		errs = append(errs, fmt.Errorf("analyze.mode %q is invalid; valid values: continuous, final_verdict", cfg.Analyze.Mode))
	}
	if cfg.Analyze.Window <= 0 {
		errs = append(errs, errors.New("analyze.window must be positive"))
	}
	if cfg.Call.Window <= 0 {
		errs = append(errs, errors.New("call.window must be positive"))
	}

	portsSeen := make(map[int]int, len(cfg.VoIP.Listeners))
	for i, l := range cfg.VoIP.Listeners {
		prefix := fmt.Sprintf("voip.listeners[%d]", i)
		if l.Port <= 0 || l.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range [1, 65535]", prefix, l.Port))
		} else {
			if prev, ok := portsSeen[l.Port]; ok {
				errs = append(errs, fmt.Errorf("%s.port %d is a duplicate of voip.listeners[%d]", prefix, l.Port, prev))
			}
			portsSeen[l.Port] = i
		}
		if !slices.Contains(validCodecs, l.Codec) {
			errs = append(errs, fmt.Errorf("%s.codec %q is invalid; valid values: pcm16, float32, opus", prefix, l.Codec))
		}
		if l.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate %d must be positive", prefix, l.SampleRate))
		}
		if l.Window <= 0 {
			errs = append(errs, fmt.Errorf("%s.window must be positive", prefix))
		}
	}

	if cfg.History.PostgresDSN == "" && cfg.History.MaxEvents < 0 {
		errs = append(errs, fmt.Errorf("history.max_events %d must not be negative", cfg.History.MaxEvents))
	}

	return errors.Join(errs...)
}
