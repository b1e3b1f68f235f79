package wire

// Argument is one decoded message argument. The concrete type carries the value.
type Argument interface {
	Type() ArgType
}

type (
	Int    int32
	Uint   uint32
	String string
	Array  []byte
	// Object references another object by id; 0 is the null object.
	Object uint32
	// FD is carried out of band, never in the byte payload.
	FD int
)

// NewID names a fresh object. Interface and Version are only put on the wire
// when the signature does not fix the interface.
type NewID struct {
	ID        uint32
	Interface string
	Version   uint32
}

func (Int) Type() ArgType    { return ArgInt }
func (Uint) Type() ArgType   { return ArgUint }
func (Fixed) Type() ArgType  { return ArgFixed }
func (String) Type() ArgType { return ArgString }
func (Array) Type() ArgType  { return ArgArray }
func (Object) Type() ArgType { return ArgObject }
func (NewID) Type() ArgType  { return ArgNewID }
func (FD) Type() ArgType     { return ArgFD }

// Message is one decoded protocol message.
type Message struct {
	Sender uint32
	Opcode uint16
	Args   []Argument
}

// FDs returns the file descriptors carried by m, in argument order.
func (m Message) FDs() []int {
	var out []int
	for _, arg := range m.Args {
		if fd, ok := arg.(FD); ok {
			out = append(out, int(fd))
		}
	}
	return out
}

// NewIDs returns the new-id arguments of m in order.
func (m Message) NewIDs() []NewID {
	var out []NewID
	for _, arg := range m.Args {
		if id, ok := arg.(NewID); ok {
			out = append(out, id)
		}
	}
	return out
}
