package main

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/wlproto/internal/config"
	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/display"
	"github.com/danmuck/wlproto/internal/logging"
	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/rs/zerolog/log"
)

// monitor keeps one client connection open, follows the registry and
// pings the server every poll interval.
type monitor struct {
	cfg config.MonitorConfig

	mu        sync.Mutex
	conn      *connection.Connection
	registry  *display.Registry
	started   time.Time
	connected time.Time
	lastErr   error
	sessions  int
}

type status struct {
	Connected bool      `json:"connected"`
	Since     time.Time `json:"since,omitempty"`
	Sessions  int       `json:"sessions"`
	LastError string    `json:"last_error,omitempty"`
}

func newMonitor(cfg config.MonitorConfig) *monitor {
	return &monitor{cfg: cfg, started: time.Now()}
}

// Run connects and follows the server until ctx ends. Without reconnect
// the first lost session ends Run.
func (m *monitor) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.setErr(err)
		if !m.cfg.Reconnect {
			return err
		}
		delay := m.cfg.Retry.Delay(attempt, rng)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("session lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *monitor) session(ctx context.Context) error {
	connCfg := connection.DefaultConfig(objmap.Client)
	connCfg.Debug = m.cfg.Debug || logging.ProtocolDebug()
	conn, err := display.Dial(ctx, m.cfg.Socket, connCfg, m.cfg.Retry)
	if err != nil {
		return err
	}
	defer conn.Close()

	reg, err := display.GetRegistry(conn, nil)
	if err != nil {
		return err
	}
	reg.OnGlobal = func(g protocol.Global) {
		log.Info().Uint32("name", g.Name).Str("interface", g.Interface).Uint32("version", g.Version).Msg("global added")
	}
	reg.OnRemove = func(g protocol.Global) {
		log.Info().Uint32("name", g.Name).Str("interface", g.Interface).Msg("global removed")
	}
	if err := display.Roundtrip(ctx, conn, nil); err != nil {
		return err
	}
	m.attach(conn, reg)
	defer m.attach(nil, nil)

	for {
		pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval)
		_, err := display.Dispatch(pollCtx, conn, nil)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := display.Roundtrip(ctx, conn, nil); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (m *monitor) attach(conn *connection.Connection, reg *display.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	m.registry = reg
	if conn != nil {
		m.connected = time.Now()
		m.sessions++
		m.lastErr = nil
	}
}

func (m *monitor) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *monitor) Status() status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := status{Connected: m.conn != nil, Sessions: m.sessions}
	if m.conn != nil {
		st.Since = m.connected
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *monitor) Objects() []connection.ObjectInfo {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Objects()
}

func (m *monitor) Globals() []protocol.Global {
	m.mu.Lock()
	reg := m.registry
	m.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Globals()
}
