package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatMessage renders a message the way protocol traces print it:
//
//	-> wl_display@1.sync(new id wl_callback@2)
//
// Outgoing messages carry the "->" prefix. desc may be nil when the message
// could not be resolved.
func FormatMessage(iface string, id uint32, desc *MessageDesc, args []Argument, outgoing bool) string {
	var b strings.Builder
	if outgoing {
		b.WriteString("-> ")
	}
	if iface == "" {
		iface = "<anonymous>"
	}
	fmt.Fprintf(&b, "%s@%d.", iface, id)
	if desc != nil {
		b.WriteString(desc.Name)
	} else {
		b.WriteString("<unknown>")
	}
	b.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		var spec ArgSpec
		if desc != nil && i < len(desc.Args) {
			spec = desc.Args[i]
		}
		b.WriteString(formatArg(arg, spec))
	}
	b.WriteByte(')')
	return b.String()
}

func formatArg(arg Argument, spec ArgSpec) string {
	switch a := arg.(type) {
	case Int:
		return strconv.FormatInt(int64(a), 10)
	case Uint:
		return strconv.FormatUint(uint64(a), 10)
	case Fixed:
		return strconv.FormatFloat(a.Float64(), 'f', -1, 64)
	case String:
		return strconv.Quote(string(a))
	case Array:
		return fmt.Sprintf("array[%d]", len(a))
	case Object:
		if a == 0 {
			return "nil"
		}
		if spec.Interface != nil {
			return fmt.Sprintf("%s@%d", spec.Interface.Name, uint32(a))
		}
		return fmt.Sprintf("@%d", uint32(a))
	case NewID:
		name := a.Interface
		if spec.Interface != nil {
			name = spec.Interface.Name
		}
		if name == "" {
			name = "[unknown]"
		}
		return fmt.Sprintf("new id %s@%d", name, a.ID)
	case FD:
		return fmt.Sprintf("fd %d", int(a))
	default:
		return "?"
	}
}
