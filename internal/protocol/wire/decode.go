package wire

import (
	"bytes"
	"fmt"
)

// Decode parses one message from the front of data. It returns the number of
// bytes and fds consumed. A short buffer yields ErrIncomplete; anything that
// cannot be a valid message yields ErrMalformedMessage.
func Decode(data []byte, fds []int, sig Signature) (Message, int, int, error) {
	h, err := PeekHeader(data)
	if err != nil {
		return Message{}, 0, 0, err
	}
	if len(data) < int(h.Size) {
		return Message{}, 0, 0, ErrIncomplete
	}

	r := argReader{body: data[HeaderSize:h.Size]}
	args := make([]Argument, 0, len(sig))
	usedFDs := 0
	for i, spec := range sig {
		var arg Argument
		switch spec.Type {
		case ArgInt:
			v, err := r.u32()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = Int(int32(v))
		case ArgUint:
			v, err := r.u32()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = Uint(v)
		case ArgFixed:
			v, err := r.u32()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = Fixed(int32(v))
		case ArgObject:
			v, err := r.u32()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = Object(v)
		case ArgString:
			s, err := r.str()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = String(s)
		case ArgArray:
			b, err := r.blob()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			arg = Array(b)
		case ArgNewID:
			var id NewID
			if spec.Interface == nil {
				name, err := r.str()
				if err != nil {
					return Message{}, 0, 0, argError(h, i, err)
				}
				version, err := r.u32()
				if err != nil {
					return Message{}, 0, 0, argError(h, i, err)
				}
				id.Interface = name
				id.Version = version
			}
			v, err := r.u32()
			if err != nil {
				return Message{}, 0, 0, argError(h, i, err)
			}
			id.ID = v
			arg = id
		case ArgFD:
			if usedFDs >= len(fds) {
				return Message{}, 0, 0, ErrIncomplete
			}
			arg = FD(fds[usedFDs])
			usedFDs++
		default:
			return Message{}, 0, 0, fmt.Errorf("%w: arg %d has unknown type %s", ErrSignatureMismatch, i, spec.Type)
		}
		args = append(args, arg)
	}
	if r.off != len(r.body) {
		return Message{}, 0, 0, fmt.Errorf("%w: %d trailing bytes on %d/%d",
			ErrMalformedMessage, len(r.body)-r.off, h.Sender, h.Opcode)
	}
	return Message{Sender: h.Sender, Opcode: h.Opcode, Args: args}, int(h.Size), usedFDs, nil
}

func argError(h Header, i int, err error) error {
	return fmt.Errorf("%w: object %d opcode %d arg %d: %v", ErrMalformedMessage, h.Sender, h.Opcode, i, err)
}

type argReader struct {
	body []byte
	off  int
}

func (r *argReader) u32() (uint32, error) {
	if len(r.body)-r.off < 4 {
		return 0, fmt.Errorf("short argument")
	}
	v := order.Uint32(r.body[r.off:])
	r.off += 4
	return v, nil
}

// blob reads a length-prefixed, zero-padded byte run.
func (r *argReader) blob() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	remaining := len(r.body) - r.off
	if uint64(n) > uint64(remaining) {
		return nil, fmt.Errorf("length %d exceeds message", n)
	}
	padded := pad4(int(n))
	if padded > remaining {
		return nil, fmt.Errorf("padding of %d exceeds message", n)
	}
	for _, b := range r.body[r.off+int(n) : r.off+padded] {
		if b != 0 {
			return nil, fmt.Errorf("non-zero padding")
		}
	}
	var out []byte
	if n > 0 {
		out = make([]byte, n)
		copy(out, r.body[r.off:r.off+int(n)])
	}
	r.off += padded
	return out, nil
}

func (r *argReader) str() (string, error) {
	b, err := r.blob()
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	if b[len(b)-1] != 0 {
		return "", fmt.Errorf("string missing terminator")
	}
	b = b[:len(b)-1]
	if bytes.IndexByte(b, 0) >= 0 {
		return "", fmt.Errorf("string with embedded nul")
	}
	return string(b), nil
}
