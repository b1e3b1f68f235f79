package connection

import "github.com/danmuck/wlproto/internal/protocol/wire"

// Handler receives the messages addressed to one object. A concrete handler
// can be recovered later with a type assertion on Proxy.Handler().
type Handler interface {
	Receive(msg wire.Message, meta Meta)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg wire.Message, meta Meta)

func (f HandlerFunc) Receive(msg wire.Message, meta Meta) {
	f(msg, meta)
}

// Meta identifies where a dispatched message came from.
type Meta struct {
	Conn      *Connection
	Proxy     *Proxy
	Interface *wire.Interface
	Desc      *wire.MessageDesc
}
