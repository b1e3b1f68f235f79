package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConnectionConfig is the on-disk description of one protocol endpoint.
type ConnectionConfig struct {
	Socket     string     `toml:"socket"`
	Side       string     `toml:"side"`
	Debug      bool       `toml:"debug"`
	EagerFlush bool       `toml:"eager_flush"`
	Dial       DialConfig `toml:"dial"`
}

type DialConfig struct {
	Attempts     int     `toml:"attempts"`
	InitialDelay string  `toml:"initial_delay"`
	MaxDelay     string  `toml:"max_delay"`
	Multiplier   float64 `toml:"multiplier"`
	Jitter       bool    `toml:"jitter"`
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Side: "client",
		Dial: DialConfig{
			Attempts:     5,
			InitialDelay: "100ms",
			MaxDelay:     "2s",
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

func LoadConnectionConfig(path string) (ConnectionConfig, error) {
	cfg := DefaultConnectionConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ConnectionConfig{}, err
	}
	cfg.Socket = strings.TrimSpace(cfg.Socket)
	cfg.Side = strings.ToLower(strings.TrimSpace(cfg.Side))
	if err := ValidateConnectionConfig(cfg); err != nil {
		return ConnectionConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateConnectionConfig(cfg ConnectionConfig) error {
	if cfg.Socket == "" {
		return fmt.Errorf("connection config missing socket")
	}
	switch cfg.Side {
	case "client", "server":
	default:
		return fmt.Errorf("connection config side must be client or server, got %q", cfg.Side)
	}
	if cfg.Dial.Attempts < 0 {
		return fmt.Errorf("dial attempts must not be negative")
	}
	if cfg.Dial.Multiplier != 0 && cfg.Dial.Multiplier < 1 {
		return fmt.Errorf("dial multiplier must be at least 1")
	}
	for key, value := range map[string]string{
		"dial.initial_delay": cfg.Dial.InitialDelay,
		"dial.max_delay":     cfg.Dial.MaxDelay,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}
	return nil
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
