package wire

import "fmt"

// ArgType is the declared type of one signature entry.
type ArgType uint8

const (
	ArgInt ArgType = iota + 1
	ArgUint
	ArgFixed
	ArgString
	ArgObject
	ArgNewID
	ArgArray
	ArgFD
)

func (t ArgType) String() string {
	switch t {
	case ArgInt:
		return "int"
	case ArgUint:
		return "uint"
	case ArgFixed:
		return "fixed"
	case ArgString:
		return "string"
	case ArgObject:
		return "object"
	case ArgNewID:
		return "new_id"
	case ArgArray:
		return "array"
	case ArgFD:
		return "fd"
	default:
		return fmt.Sprintf("argtype(%d)", uint8(t))
	}
}

// ArgSpec declares one argument. Interface is set for typed object and
// new-id arguments; a new-id with a nil Interface is untyped.
type ArgSpec struct {
	Name      string
	Type      ArgType
	Interface *Interface
	Nullable  bool
}

// Signature is the ordered argument list of one message.
type Signature []ArgSpec

// MessageDesc describes one request or event.
type MessageDesc struct {
	Name       string
	Since      uint32
	Destructor bool
	Args       Signature
}

// NewIDSpec returns the new-id entry of the signature, if any.
func (d *MessageDesc) NewIDSpec() (ArgSpec, bool) {
	for _, spec := range d.Args {
		if spec.Type == ArgNewID {
			return spec, true
		}
	}
	return ArgSpec{}, false
}

// Interface describes the messages valid on an object. Generated code
// provides these; the core only reads them.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageDesc
	Events   []MessageDesc
}

// AnonymousInterface stands for an object whose interface is not known.
var AnonymousInterface = &Interface{}

func (i *Interface) Request(opcode uint16) (*MessageDesc, error) {
	if i == nil || int(opcode) >= len(i.Requests) {
		return nil, fmt.Errorf("%w: request %d on %s", ErrUnknownOpcode, opcode, i.name())
	}
	return &i.Requests[opcode], nil
}

func (i *Interface) Event(opcode uint16) (*MessageDesc, error) {
	if i == nil || int(opcode) >= len(i.Events) {
		return nil, fmt.Errorf("%w: event %d on %s", ErrUnknownOpcode, opcode, i.name())
	}
	return &i.Events[opcode], nil
}

func (i *Interface) name() string {
	if i == nil || i.Name == "" {
		return "<anonymous>"
	}
	return i.Name
}

// SameInterface compares descriptors by identity, falling back to the name.
func SameInterface(a, b *Interface) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Name == b.Name
}
