package connection

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlproto/internal/socket"
)

var (
	ErrInvalidObject     = errors.New("connection: invalid object")
	ErrProtocol          = errors.New("connection: protocol error")
	ErrQueueClosed       = errors.New("connection: event queue closed")
	ErrForeignQueue      = errors.New("connection: queue belongs to another connection")
	ErrRootQueue         = errors.New("connection: root object events stay on the control queue")
	ErrReentrantDispatch = errors.New("connection: queue is already dispatching")

	// Re-exported so callers need not import the transport package.
	ErrConnectionClosed = socket.ErrConnectionClosed
	ErrWouldBlock       = socket.ErrWouldBlock
)

// ProtocolError is a fatal error the peer reported through wl_display.error.
// It is recorded on the connection and returned by the next operation.
type ProtocolError struct {
	Code      uint32
	ObjectID  uint32
	Interface string
	Message   string
}

func (e *ProtocolError) Error() string {
	iface := e.Interface
	if iface == "" {
		iface = "<unknown>"
	}
	return fmt.Sprintf("connection: protocol error %d on %s@%d: %s", e.Code, iface, e.ObjectID, e.Message)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}
