package socket

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/wlproto/internal/protocol/wire"
	"golang.org/x/sys/unix"
)

// BufferedSocket frames messages on top of a Socket. It is not safe for
// concurrent use; the owning connection serializes access.
type BufferedSocket struct {
	sock   *Socket
	in     []byte
	inFDs  []int
	out    []byte
	outFDs []int
	closed bool
	// released is set once the descriptor itself has been closed.
	released bool
}

func NewBuffered(s *Socket) *BufferedSocket {
	return &BufferedSocket{
		sock: s,
		in:   make([]byte, 0, readChunk),
		out:  make([]byte, 0, MaxBytesOut),
	}
}

func (b *BufferedSocket) FD() int {
	if b.released {
		return -1
	}
	return b.sock.FD()
}

func (b *BufferedSocket) Closed() bool {
	return b.closed
}

// Buffered reports how many unparsed bytes and fds are held.
func (b *BufferedSocket) Buffered() (int, int) {
	return len(b.in), len(b.inFDs)
}

// Pending reports how many bytes and fds wait for Flush.
func (b *BufferedSocket) Pending() (int, int) {
	return len(b.out), len(b.outFDs)
}

// TryRead appends whatever the socket has to the read buffer.
func (b *BufferedSocket) TryRead() (int, error) {
	if b.closed {
		return 0, ErrConnectionClosed
	}
	b.in = slices.Grow(b.in, readChunk)
	tail := b.in[len(b.in) : len(b.in)+readChunk]
	n, fds, err := b.sock.RecvMsg(tail)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			b.closed = true
		}
		return 0, err
	}
	b.inFDs = append(b.inFDs, fds...)
	if n == 0 {
		b.closed = true
		return 0, ErrConnectionClosed
	}
	b.in = b.in[:len(b.in)+n]
	return n, nil
}

// PopMessage decodes the message at the front of the read buffer and drops
// the consumed bytes and fds. Messages buffered before a hangup can still be
// popped.
func (b *BufferedSocket) PopMessage(codec wire.Codec, resolve wire.Resolver) (wire.Message, error) {
	h, err := wire.PeekHeader(b.in)
	if err != nil {
		return wire.Message{}, err
	}
	if len(b.in) < int(h.Size) {
		return wire.Message{}, wire.ErrIncomplete
	}
	sig, err := resolve(h.Sender, h.Opcode)
	if err != nil {
		return wire.Message{}, err
	}
	msg, n, nfd, err := codec.Decode(b.in, b.inFDs, sig)
	if err != nil {
		return wire.Message{}, err
	}
	b.in = append(b.in[:0], b.in[n:]...)
	b.inFDs = append(b.inFDs[:0], b.inFDs[nfd:]...)
	return msg, nil
}

// QueueWrite buffers data and duplicates of fds. The caller keeps ownership
// of the descriptors it passed in.
func (b *BufferedSocket) QueueWrite(data []byte, fds []int) error {
	if b.closed {
		return ErrConnectionClosed
	}
	dups := make([]int, 0, len(fds))
	for _, fd := range fds {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			CloseFDs(dups)
			return fmt.Errorf("socket: dup fd %d: %w", fd, err)
		}
		dups = append(dups, dup)
	}
	b.out = append(b.out, data...)
	b.outFDs = append(b.outFDs, dups...)
	return nil
}

// Flush sends buffered bytes. Queued fds go out with the first send that has
// any pending. On ErrWouldBlock the unsent remainder stays queued.
func (b *BufferedSocket) Flush() error {
	if b.closed {
		return ErrConnectionClosed
	}
	for len(b.out) > 0 {
		fds := b.outFDs
		if len(fds) > MaxFDsOut {
			fds = fds[:MaxFDsOut]
		}
		data := b.out
		if len(b.outFDs) > len(fds) {
			// keep bytes back so the remaining fds have something to ride on
			data = data[:1]
		}
		n, err := b.sock.SendMsg(data, fds)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				b.closed = true
			}
			return err
		}
		CloseFDs(fds)
		b.outFDs = append(b.outFDs[:0], b.outFDs[len(fds):]...)
		b.out = append(b.out[:0], b.out[n:]...)
	}
	return nil
}

// Close closes the socket and every descriptor still buffered in either
// direction.
func (b *BufferedSocket) Close() error {
	CloseFDs(b.inFDs)
	CloseFDs(b.outFDs)
	b.inFDs = nil
	b.outFDs = nil
	b.in = b.in[:0]
	b.out = b.out[:0]
	b.closed = true
	if b.released {
		return nil
	}
	b.released = true
	return b.sock.Close()
}
