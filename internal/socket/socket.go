package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// MaxFDsOut bounds the descriptors attached to one sendmsg call.
	MaxFDsOut = 28
	// MaxBytesOut is the write-buffer size that triggers an eager flush.
	MaxBytesOut = 4096
	readChunk   = 4096
)

var (
	ErrWouldBlock       = errors.New("socket: operation would block")
	ErrConnectionClosed = errors.New("socket: connection closed")
)

// Socket is a non-blocking view of a connected unix stream socket.
type Socket struct {
	fd int
}

func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Socketpair returns two connected sockets.
func Socketpair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socket: socketpair: %w", err)
	}
	return NewSocket(fds[0]), NewSocket(fds[1]), nil
}

func (s *Socket) FD() int {
	return s.fd
}

// SendMsg writes data with fds attached as SCM_RIGHTS.
func (s *Socket) SendMsg(data []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	for {
		n, err := unix.SendmsgN(s.fd, data, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return n, mapErr("sendmsg", err)
		}
		return n, nil
	}
}

// RecvMsg reads into buf and returns any descriptors that came with the bytes.
// A zero count with a nil error means the peer shut down.
func (s *Socket) RecvMsg(buf []byte) (int, []int, error) {
	oob := make([]byte, unix.CmsgSpace(MaxFDsOut*4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, nil, mapErr("recvmsg", err)
		}
		fds, err := parseRights(oob[:oobn])
		if err != nil {
			return 0, nil, err
		}
		return n, fds, nil
	}
}

func (s *Socket) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("socket: close: %w", err)
	}
	return nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("socket: parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			CloseFDs(fds)
			return nil, fmt.Errorf("socket: parse rights: %w", err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return ErrWouldBlock
	case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
		return fmt.Errorf("%w: %s: %v", ErrConnectionClosed, op, err)
	default:
		return fmt.Errorf("socket: %s: %w", op, err)
	}
}

// CloseFDs closes every descriptor in fds, ignoring errors.
func CloseFDs(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
