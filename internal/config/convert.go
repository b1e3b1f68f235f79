package config

import (
	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/display"
	"github.com/danmuck/wlproto/internal/logging"
	"github.com/danmuck/wlproto/internal/objmap"
)

// Connection builds the runtime connection settings. Protocol tracing is
// on when the file asks for it or WLPROTO_DEBUG is set.
func (c ConnectionConfig) Connection() connection.Config {
	side := objmap.Client
	if c.Side == "server" {
		side = objmap.Server
	}
	cfg := connection.DefaultConfig(side)
	cfg.Debug = c.Debug || logging.ProtocolDebug()
	cfg.EagerFlush = c.EagerFlush
	return cfg
}

// Retry builds the dial retry policy. Values were checked by
// ValidateConnectionConfig.
func (c ConnectionConfig) Retry() display.RetryPolicy {
	initial, _ := parseDuration(c.Dial.InitialDelay)
	maxDelay, _ := parseDuration(c.Dial.MaxDelay)
	return display.RetryPolicy{
		Attempts:   c.Dial.Attempts,
		Initial:    initial,
		Max:        maxDelay,
		Multiplier: c.Dial.Multiplier,
		Jitter:     c.Dial.Jitter,
	}
}
