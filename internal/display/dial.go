package display

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/socket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Dial connects to the compositor socket at path, retrying failed
// connects as retry allows.
func Dial(ctx context.Context, path string, cfg connection.Config, retry RetryPolicy) (*connection.Connection, error) {
	attempts := retry.attempts()
	cfg.Side = objmap.Client
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var d net.Dialer
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			fd, err := detach(conn.(*net.UnixConn))
			if err != nil {
				return nil, err
			}
			log.Debug().Str("socket", path).Int("attempt", attempt).Msg("connected")
			return connection.FromFD(fd, cfg), nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		delay := retry.Delay(attempt, rng)
		log.Warn().Err(err).Str("socket", path).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("display: dial %s: %w", path, err)
	}
	return nil, fmt.Errorf("display: dial %s after %d attempts: %w", path, attempts, lastErr)
}

// Pair returns a client and a server connection joined by a socketpair.
func Pair(clientCfg, serverCfg connection.Config) (*connection.Connection, *connection.Connection, error) {
	a, b, err := socket.Socketpair()
	if err != nil {
		return nil, nil, err
	}
	clientCfg.Side = objmap.Client
	serverCfg.Side = objmap.Server
	client := connection.New(socket.NewBuffered(a), clientCfg)
	server := connection.New(socket.NewBuffered(b), serverCfg)
	return client, server, nil
}

// Listener accepts client connections on a unix socket path.
type Listener struct {
	ln  *net.UnixListener
	cfg connection.Config
}

// Listen binds path. The socket file is removed when the listener closes.
func Listen(path string, cfg connection.Config) (*Listener, error) {
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("display: listen %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	cfg.Side = objmap.Server
	return &Listener{ln: ln, cfg: cfg}, nil
}

func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Accept waits for the next client and wraps it in a server connection.
func (l *Listener) Accept(ctx context.Context) (*connection.Connection, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.ln.SetDeadline(time.Now().Add(pollSlice)); err != nil {
			return nil, fmt.Errorf("display: accept: %w", err)
		}
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("display: accept: %w", err)
		}
		fd, err := detach(conn)
		if err != nil {
			return nil, err
		}
		return connection.FromFD(fd, l.cfg), nil
	}
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// detach duplicates the descriptor behind conn and closes conn, so the
// protocol transport owns a plain fd outside the runtime poller.
func detach(conn *net.UnixConn) (int, error) {
	defer conn.Close()
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("display: raw conn: %w", err)
	}
	fd := -1
	var dupErr error
	err = raw.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	})
	if err == nil {
		err = dupErr
	}
	if err != nil {
		return -1, fmt.Errorf("display: dup socket: %w", err)
	}
	return fd, nil
}
