package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlproto/internal/protocol/wire"
)

var ErrUnexpectedMessage = errors.New("protocol: unexpected message")

// DisplayError is the payload of wl_display.error.
type DisplayError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

// Global is the payload of wl_registry.global.
type Global struct {
	Name      uint32 `json:"name"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
}

func ParseDisplayError(msg wire.Message) (DisplayError, error) {
	if err := expect(msg, DisplayEventError, 3); err != nil {
		return DisplayError{}, err
	}
	obj, ok1 := msg.Args[0].(wire.Object)
	code, ok2 := msg.Args[1].(wire.Uint)
	text, ok3 := msg.Args[2].(wire.String)
	if !ok1 || !ok2 || !ok3 {
		return DisplayError{}, fmt.Errorf("%w: wl_display.error argument types", ErrUnexpectedMessage)
	}
	return DisplayError{ObjectID: uint32(obj), Code: uint32(code), Message: string(text)}, nil
}

func ParseDeleteID(msg wire.Message) (uint32, error) {
	return singleUint(msg, DisplayEventDeleteID)
}

func ParseGlobal(msg wire.Message) (Global, error) {
	if err := expect(msg, RegistryEventGlobal, 3); err != nil {
		return Global{}, err
	}
	name, ok1 := msg.Args[0].(wire.Uint)
	iface, ok2 := msg.Args[1].(wire.String)
	version, ok3 := msg.Args[2].(wire.Uint)
	if !ok1 || !ok2 || !ok3 {
		return Global{}, fmt.Errorf("%w: wl_registry.global argument types", ErrUnexpectedMessage)
	}
	return Global{Name: uint32(name), Interface: string(iface), Version: uint32(version)}, nil
}

func ParseGlobalRemove(msg wire.Message) (uint32, error) {
	return singleUint(msg, RegistryEventGlobalRemove)
}

func ParseCallbackDone(msg wire.Message) (uint32, error) {
	return singleUint(msg, CallbackEventDone)
}

// ErrorArgs builds the arguments of a wl_display.error event.
func ErrorArgs(e DisplayError) []wire.Argument {
	return []wire.Argument{wire.Object(e.ObjectID), wire.Uint(e.Code), wire.String(e.Message)}
}

// GlobalArgs builds the arguments of a wl_registry.global event.
func GlobalArgs(g Global) []wire.Argument {
	return []wire.Argument{wire.Uint(g.Name), wire.String(g.Interface), wire.Uint(g.Version)}
}

func expect(msg wire.Message, opcode uint16, argc int) error {
	if msg.Opcode != opcode || len(msg.Args) != argc {
		return fmt.Errorf("%w: opcode %d with %d args", ErrUnexpectedMessage, msg.Opcode, len(msg.Args))
	}
	return nil
}

func singleUint(msg wire.Message, opcode uint16) (uint32, error) {
	if err := expect(msg, opcode, 1); err != nil {
		return 0, err
	}
	v, ok := msg.Args[0].(wire.Uint)
	if !ok {
		return 0, fmt.Errorf("%w: want uint, got %T", ErrUnexpectedMessage, msg.Args[0])
	}
	return uint32(v), nil
}
