package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	HeaderSize uint16 = 8
	// MaxMessageSize is bounded by the 16-bit size field.
	MaxMessageSize = 1<<16 - 1
)

var order = binary.NativeEndian

// Header is the fixed 8-byte message header.
type Header struct {
	Sender uint32
	Opcode uint16
	Size   uint16
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	order.PutUint32(buf[0:4], h.Sender)
	order.PutUint32(buf[4:8], uint32(h.Size)<<16|uint32(h.Opcode))
}

// PeekHeader reads the header at the start of data without consuming anything.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < int(HeaderSize) {
		return Header{}, ErrIncomplete
	}
	word := order.Uint32(data[4:8])
	h := Header{
		Sender: order.Uint32(data[0:4]),
		Opcode: uint16(word & 0xffff),
		Size:   uint16(word >> 16),
	}
	if h.Size < HeaderSize || h.Size%4 != 0 {
		return Header{}, fmt.Errorf("%w: invalid size %d", ErrMalformedMessage, h.Size)
	}
	if h.Sender == 0 {
		return Header{}, fmt.Errorf("%w: null sender", ErrMalformedMessage)
	}
	return h, nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
