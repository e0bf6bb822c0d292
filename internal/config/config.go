// Package config loads runtime configuration from an optional YAML file with
// MOODTRACE_* environment overrides. Environment always wins so deployments
// can tweak a shared file per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML scalars like "300ms" or plain nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(nanos)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	AppName string `yaml:"app_name"`

	// Server side.
	ListenAddr      string `yaml:"listen_addr"`
	AuthToken       string `yaml:"auth_token"`
	StateBackendDSN string `yaml:"state_backend_dsn"`
	StateFile       string `yaml:"state_file"`
	WatchStateFile  bool   `yaml:"watch_state_file"`

	// Client side.
	APIBaseURL      string `yaml:"api_base_url"`
	WebSocketURL    string `yaml:"websocket_url"`
	EnableRealtime  bool   `yaml:"enable_realtime"`
	EnableAnalytics bool   `yaml:"enable_analytics"`
	DefaultTheme    string `yaml:"default_theme"`
	DataDir         string `yaml:"data_dir"`

	// Simulated backend latency, used when no API base URL is set.
	LatencyMin Duration `yaml:"latency_min"`
	LatencyMax Duration `yaml:"latency_max"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`
}

func Default() Config {
	return Config{
		AppName:            "moodtrace",
		ListenAddr:         ":8080",
		EnableRealtime:     true,
		DefaultTheme:       "system",
		LatencyMin:         Duration(300 * time.Millisecond),
		LatencyMax:         Duration(800 * time.Millisecond),
		RateLimitPerMinute: 120,
		RateLimitBurst:     30,
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.AppName, "MOODTRACE_APP_NAME")
	setString(&c.ListenAddr, "MOODTRACE_ADDR")
	setString(&c.AuthToken, "MOODTRACE_AUTH_TOKEN")
	setString(&c.StateBackendDSN, "MOODTRACE_STATE_BACKEND_DSN")
	setString(&c.StateFile, "MOODTRACE_STATE_FILE")
	setBool(&c.WatchStateFile, "MOODTRACE_WATCH_STATE_FILE")
	setString(&c.APIBaseURL, "MOODTRACE_API_BASE_URL")
	setString(&c.WebSocketURL, "MOODTRACE_WEBSOCKET_URL")
	setBool(&c.EnableRealtime, "MOODTRACE_ENABLE_REALTIME")
	setBool(&c.EnableAnalytics, "MOODTRACE_ENABLE_ANALYTICS")
	setString(&c.DefaultTheme, "MOODTRACE_DEFAULT_THEME")
	setString(&c.DataDir, "MOODTRACE_DATA_DIR")
	setDuration((*time.Duration)(&c.LatencyMin), "MOODTRACE_LATENCY_MIN")
	setDuration((*time.Duration)(&c.LatencyMax), "MOODTRACE_LATENCY_MAX")
	setInt(&c.RateLimitPerMinute, "MOODTRACE_RATE_LIMIT_PER_MINUTE")
	setInt(&c.RateLimitBurst, "MOODTRACE_RATE_LIMIT_BURST")
}

func (c Config) validate() error {
	if c.LatencyMin < 0 || c.LatencyMax < 0 {
		return fmt.Errorf("latency bounds must be non-negative")
	}
	if c.LatencyMax < c.LatencyMin {
		return fmt.Errorf("latency_max %v is below latency_min %v", c.LatencyMax, c.LatencyMin)
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must be non-negative")
	}
	return nil
}

func setString(target *string, name string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*target = value
	}
}

func setBool(target *bool, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := strconv.ParseBool(raw); err == nil {
		*target = parsed
	}
}

func setInt(target *int, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		*target = parsed
	}
}

func setDuration(target *time.Duration, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*target = parsed
	}
}
