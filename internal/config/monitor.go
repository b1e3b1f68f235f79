package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wlproto/internal/display"
)

// MonitorConfig drives cmd/wlmon.
type MonitorConfig struct {
	Socket       string
	AdminAddr    string
	PollInterval time.Duration
	Reconnect    bool
	Debug        bool
	CorsOrigins  []string
	// Retry covers both the connects of one session and the wait
	// between sessions.
	Retry        display.RetryPolicy
}

type monitorFile struct {
	Socket       string   `toml:"socket"`
	AdminAddr    string   `toml:"admin_addr"`
	PollInterval string   `toml:"poll_interval"`
	Reconnect    bool     `toml:"reconnect"`
	Debug        bool     `toml:"debug"`
	CorsOrigins  []string `toml:"cors_origins"`
	DialAttempts int      `toml:"dial_attempts"`
	BackoffMax   string   `toml:"backoff_max"`
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		AdminAddr:    "127.0.0.1:7070",
		PollInterval: time.Second,
		Reconnect:    true,
		Retry:        display.DefaultRetryPolicy(),
	}
}

// LoadMonitorConfig applies the keys present in path over the defaults.
func LoadMonitorConfig(path string) (MonitorConfig, error) {
	cfg := DefaultMonitorConfig()

	var raw monitorFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return MonitorConfig{}, fmt.Errorf("load monitor config: %w", err)
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return MonitorConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("dial_attempts") {
		cfg.Retry.Attempts = raw.DialAttempts
	}
	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return MonitorConfig{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Retry.Max = d
	}

	if err := ValidateMonitorConfig(cfg); err != nil {
		return MonitorConfig{}, err
	}
	return cfg, nil
}

func ValidateMonitorConfig(cfg MonitorConfig) error {
	if cfg.Socket == "" {
		return fmt.Errorf("monitor config missing socket")
	}
	if cfg.AdminAddr == "" {
		return fmt.Errorf("monitor config missing admin_addr")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if cfg.Retry.Attempts < 1 {
		return fmt.Errorf("dial_attempts must be at least 1")
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
