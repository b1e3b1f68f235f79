package display

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"golang.org/x/sys/unix"
)

// pollSlice bounds each poll(2) call so context cancellation is noticed.
const pollSlice = 100 * time.Millisecond

// Flush writes everything buffered, waiting for the socket to drain when
// the kernel buffer is full.
func Flush(ctx context.Context, conn *connection.Connection) error {
	for {
		err := conn.Flush()
		if !errors.Is(err, connection.ErrWouldBlock) {
			return err
		}
		if err := waitFD(ctx, conn.FD(), unix.POLLOUT); err != nil {
			return err
		}
	}
}

// Dispatch delivers the messages pending on q, blocking for more input
// only when none were delivered.
func Dispatch(ctx context.Context, conn *connection.Connection, q *connection.EventQueue) (int, error) {
	if q == nil {
		q = conn.DefaultQueue()
	}
	for {
		n, err := q.DispatchPending()
		if err != nil || n > 0 {
			return n, err
		}
		if err := Flush(ctx, conn); err != nil {
			return 0, err
		}
		if err := waitFD(ctx, conn.FD(), unix.POLLIN); err != nil {
			return 0, err
		}
		if _, err := conn.ReadEvents(); err != nil && !errors.Is(err, connection.ErrWouldBlock) {
			return 0, err
		}
	}
}

// Roundtrip sends a sync request and dispatches q until the server answers
// it. Everything the server sent before the answer has been handled by
// then.
func Roundtrip(ctx context.Context, conn *connection.Connection, q *connection.EventQueue) error {
	if q == nil {
		q = conn.DefaultQueue()
	}
	wrapper, err := conn.Display().MakeWrapper(q)
	if err != nil {
		return err
	}
	done := false
	_, err = wrapper.SendConstructor(connection.HandlerFunc(func(wire.Message, connection.Meta) {
		done = true
	}), protocol.DisplaySync, wire.NewID{})
	if err != nil {
		return err
	}
	for !done {
		if _, err := Dispatch(ctx, conn, q); err != nil {
			return err
		}
	}
	return nil
}

func waitFD(ctx context.Context, fd int, events int16) error {
	if fd < 0 {
		return connection.ErrConnectionClosed
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, int(pollSlice/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return connection.ErrConnectionClosed
		}
		// POLLHUP and POLLERR surface through the next read or write.
		return nil
	}
}
