package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenNothingSet(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if !cfg.EnableRealtime {
		t.Fatalf("realtime should default on")
	}
	if cfg.LatencyMin.Std() != 300*time.Millisecond || cfg.LatencyMax.Std() != 800*time.Millisecond {
		t.Fatalf("unexpected latency defaults: %v..%v", cfg.LatencyMin, cfg.LatencyMax)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "moodtrace" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
app_name: moodtrace-dev
listen_addr: ":9090"
state_backend_dsn: "memory://"
enable_realtime: false
latency_min: 10ms
latency_max: 20ms
rate_limit_per_minute: 60
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "moodtrace-dev" || cfg.ListenAddr != ":9090" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.EnableRealtime {
		t.Fatalf("yaml false must override the default true")
	}
	if cfg.LatencyMin.Std() != 10*time.Millisecond || cfg.LatencyMax.Std() != 20*time.Millisecond {
		t.Fatalf("unexpected latency bounds: %v..%v", cfg.LatencyMin, cfg.LatencyMax)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Fatalf("unexpected rate limit: %d", cfg.RateLimitPerMinute)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MOODTRACE_ADDR", ":7070")
	t.Setenv("MOODTRACE_AUTH_TOKEN", "hunter2")
	t.Setenv("MOODTRACE_ENABLE_REALTIME", "false")
	t.Setenv("MOODTRACE_LATENCY_MIN", "5ms")
	t.Setenv("MOODTRACE_LATENCY_MAX", "9ms")
	t.Setenv("MOODTRACE_RATE_LIMIT_BURST", "7")
	t.Setenv("MOODTRACE_ENABLE_ANALYTICS", "true")
	t.Setenv("MOODTRACE_DEFAULT_THEME", "dark")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env must override the file, got %q", cfg.ListenAddr)
	}
	if cfg.AuthToken != "hunter2" || cfg.EnableRealtime {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.LatencyMin.Std() != 5*time.Millisecond || cfg.LatencyMax.Std() != 9*time.Millisecond {
		t.Fatalf("latency env overrides not applied: %v..%v", cfg.LatencyMin, cfg.LatencyMax)
	}
	if cfg.RateLimitBurst != 7 {
		t.Fatalf("unexpected burst: %d", cfg.RateLimitBurst)
	}
	if !cfg.EnableAnalytics || cfg.DefaultTheme != "dark" {
		t.Fatalf("client overrides not applied: analytics=%v theme=%q", cfg.EnableAnalytics, cfg.DefaultTheme)
	}
}

func TestLoadRejectsInvertedLatencyBounds(t *testing.T) {
	t.Setenv("MOODTRACE_LATENCY_MIN", "1s")
	t.Setenv("MOODTRACE_LATENCY_MAX", "100ms")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected an error for latency_max < latency_min")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [:::\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a parse error")
	}
}
