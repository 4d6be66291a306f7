package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
audio:
  sample_rate: 16000
  format: float32
detector:
  name: remote
  base_url: http://inference:8000
  silence_threshold: 0.0001
  breaker:
    failure_threshold: 5
    cooldown: 30s
analyze:
  mode: final_verdict
  window: 2.5s
call:
  window: 10s
  ready: 5s
  min_interval: 2s
voip:
  listeners:
    - port: 5004
      codec: pcm16
    - port: 5006
      codec: opus
      sample_rate: 48000
history:
  postgres_dsn: postgres://vg:vg@localhost:5432/voiceguard
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Detector.Name != "remote" || cfg.Detector.BaseURL != "http://inference:8000" {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if got := cfg.Analyze.Window.Std(); got != 2500*time.Millisecond {
		t.Errorf("analyze.window = %v, want 2.5s", got)
	}
	if got := cfg.Detector.Breaker.Cooldown.Std(); got != 30*time.Second {
		t.Errorf("breaker.cooldown = %v, want 30s", got)
	}
	if len(cfg.VoIP.Listeners) != 2 {
		t.Fatalf("got %d voip listeners, want 2", len(cfg.VoIP.Listeners))
	}
	if cfg.VoIP.Listeners[1].SampleRate != 48000 {
		t.Errorf("listener sample_rate = %d, want 48000", cfg.VoIP.Listeners[1].SampleRate)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Format != "float32" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Detector.Name != "mock" {
		t.Errorf("detector.name = %q, want mock", cfg.Detector.Name)
	}
	if cfg.Analyze.Mode != "final_verdict" {
		t.Errorf("analyze.mode = %q, want final_verdict", cfg.Analyze.Mode)
	}
	if got := cfg.Call.Window.Std(); got != 10*time.Second {
		t.Errorf("call.window = %v, want 10s", got)
	}
	if got := cfg.Call.Ready.Std(); got != 5*time.Second {
		t.Errorf("call.ready = %v, want 5s", got)
	}
	if got := cfg.Call.MinInterval.Std(); got != 2*time.Second {
		t.Errorf("call.min_interval = %v, want 2s", got)
	}
}

func TestListenerInheritsPipelineDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
voip:
  listeners:
    - port: 5004
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	l := cfg.VoIP.Listeners[0]
	if l.Host != "0.0.0.0" || l.Codec != "pcm16" {
		t.Errorf("listener = %+v", l)
	}
	if l.SampleRate != cfg.Audio.SampleRate {
		t.Errorf("listener sample_rate = %d, want inherited %d", l.SampleRate, cfg.Audio.SampleRate)
	}
	if l.Window != cfg.Call.Window {
		t.Errorf("listener window = %v, want inherited %v", l.Window, cfg.Call.Window)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("serverr:\n  listen_addr: ':1'\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
server:
  log_level: loud
detector:
  name: remote
voip:
  listeners:
    - port: 5004
      codec: g711
    - port: 5004
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if cfg != nil {
		t.Error("config returned despite validation failure")
	}
	for _, want := range []string{"log_level", "base_url", "codec", "duplicate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidateRejectsBadBreaker(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
detector:
  breaker:
    failure_threshold: 0
    cooldown: 10s
`))
	if err == nil || !strings.Contains(err.Error(), "failure_threshold") {
		t.Fatalf("expected failure_threshold error, got %v", err)
	}
}

func TestDurationRejectsMalformedValue(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("analyze:\n  window: fast\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}
