package wire

import "errors"

var (
	// ErrIncomplete reports that more bytes (or fds) are needed; it is not fatal.
	ErrIncomplete        = errors.New("wire: incomplete message")
	ErrMalformedMessage  = errors.New("wire: malformed message")
	ErrSignatureMismatch = errors.New("wire: arguments do not match signature")
	ErrMessageTooLarge   = errors.New("wire: message too large")
	ErrUnknownOpcode     = errors.New("wire: unknown opcode")
)
