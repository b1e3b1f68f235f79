package connection

import (
	"maps"

	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
)

// Config selects the endpoint role and the pieces a connection is built from.
type Config struct {
	Side objmap.Side
	// Codec defaults to wire.NativeCodec.
	Codec wire.Codec
	// Interfaces resolves interface names carried by untyped new-id
	// arguments on incoming messages.
	Interfaces map[string]*wire.Interface
	// Debug logs every sent and dispatched message.
	Debug bool
	// EagerFlush flushes after every send instead of when the buffer fills.
	EagerFlush bool
}

func DefaultConfig(side objmap.Side) Config {
	return Config{
		Side:       side,
		Codec:      wire.NativeCodec{},
		Interfaces: protocol.CoreInterfaces(),
	}
}

func (c Config) withDefaults() Config {
	if c.Codec == nil {
		c.Codec = wire.NativeCodec{}
	}
	if c.Interfaces == nil {
		c.Interfaces = protocol.CoreInterfaces()
	} else {
		c.Interfaces = maps.Clone(c.Interfaces)
	}
	return c
}
