package wire

// Codec turns messages into bytes plus out-of-band fds and back. NativeCodec
// is the in-tree implementation; another backend can provide its own.
type Codec interface {
	Encode(msg Message, sig Signature) ([]byte, []int, error)
	Decode(data []byte, fds []int, sig Signature) (Message, int, int, error)
}

// Resolver maps a sender id and opcode to the signature used to decode it.
type Resolver func(sender uint32, opcode uint16) (Signature, error)

// NativeCodec implements Codec with Encode and Decode.
type NativeCodec struct{}

func (NativeCodec) Encode(msg Message, sig Signature) ([]byte, []int, error) {
	return Encode(msg, sig)
}

func (NativeCodec) Decode(data []byte, fds []int, sig Signature) (Message, int, int, error) {
	return Decode(data, fds, sig)
}
