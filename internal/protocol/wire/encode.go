package wire

import "fmt"

// Encode serializes msg according to sig. File descriptors are returned in
// argument order and are not part of the bytes.
func Encode(msg Message, sig Signature) ([]byte, []int, error) {
	if len(msg.Args) != len(sig) {
		return nil, nil, fmt.Errorf("%w: %d args for %d entries", ErrSignatureMismatch, len(msg.Args), len(sig))
	}
	buf := make([]byte, HeaderSize, 64)
	var fds []int
	for i, spec := range sig {
		arg := msg.Args[i]
		if arg == nil || arg.Type() != spec.Type {
			return nil, nil, fmt.Errorf("%w: arg %d want %s", ErrSignatureMismatch, i, spec.Type)
		}
		switch a := arg.(type) {
		case Int:
			buf = appendU32(buf, uint32(a))
		case Uint:
			buf = appendU32(buf, uint32(a))
		case Fixed:
			buf = appendU32(buf, uint32(a))
		case Object:
			buf = appendU32(buf, uint32(a))
		case String:
			buf = appendString(buf, string(a))
		case Array:
			buf = appendBlob(buf, a)
		case NewID:
			if spec.Interface == nil {
				if a.Interface == "" {
					return nil, nil, fmt.Errorf("%w: arg %d untyped new_id without interface", ErrSignatureMismatch, i)
				}
				buf = appendString(buf, a.Interface)
				buf = appendU32(buf, a.Version)
			}
			buf = appendU32(buf, a.ID)
		case FD:
			fds = append(fds, int(a))
		}
		if len(buf) > MaxMessageSize {
			return nil, nil, ErrMessageTooLarge
		}
	}
	putHeader(buf, Header{Sender: msg.Sender, Opcode: msg.Opcode, Size: uint16(len(buf))})
	return buf, fds, nil
}

func appendU32(buf []byte, v uint32) []byte {
	return order.AppendUint32(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)+1))
	buf = append(buf, s...)
	buf = append(buf, 0)
	return appendPadding(buf)
}

func appendBlob(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	buf = append(buf, b...)
	return appendPadding(buf)
}

func appendPadding(buf []byte) []byte {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
