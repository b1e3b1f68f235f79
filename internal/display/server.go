package display

import (
	"context"
	"fmt"

	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// CoreServer answers the core requests of one client: sync, get_registry
// and bind. Bound objects are handed to OnBind; without it they have no
// handler and their requests are dropped.
type CoreServer struct {
	Globals []protocol.Global
	OnBind  func(g protocol.Global, obj *connection.Proxy)

	serial uint32
}

// Attach makes s the handler of conn's root object.
func (s *CoreServer) Attach(conn *connection.Connection) error {
	_, err := conn.Implement(protocol.DisplayID, s, nil)
	return err
}

func (s *CoreServer) Receive(msg wire.Message, meta connection.Meta) {
	var err error
	switch {
	case meta.Interface == protocol.DisplayInterface && msg.Opcode == protocol.DisplaySync:
		err = s.sync(meta.Conn, msg)
	case meta.Interface == protocol.DisplayInterface && msg.Opcode == protocol.DisplayGetRegistry:
		err = s.registry(meta.Conn, msg)
	case meta.Interface == protocol.RegistryInterface && msg.Opcode == protocol.RegistryBind:
		err = s.bind(meta.Conn, meta.Proxy, msg)
	}
	if err != nil {
		log.Warn().Err(err).Str("request", meta.Desc.Name).Msg("core request failed")
	}
}

func (s *CoreServer) sync(conn *connection.Connection, msg wire.Message) error {
	cb, err := conn.Implement(msg.NewIDs()[0].ID, nil, nil)
	if err != nil {
		return err
	}
	s.serial++
	_, err = cb.Send(protocol.CallbackEventDone, wire.Uint(s.serial))
	return err
}

func (s *CoreServer) registry(conn *connection.Connection, msg wire.Message) error {
	reg, err := conn.Implement(msg.NewIDs()[0].ID, s, nil)
	if err != nil {
		return err
	}
	for _, g := range s.Globals {
		if _, err := reg.Send(protocol.RegistryEventGlobal, protocol.GlobalArgs(g)...); err != nil {
			return err
		}
	}
	return nil
}

func (s *CoreServer) bind(conn *connection.Connection, reg *connection.Proxy, msg wire.Message) error {
	name := uint32(msg.Args[0].(wire.Uint))
	nid := msg.NewIDs()[0]
	for _, g := range s.Globals {
		if g.Name != name {
			continue
		}
		if g.Interface != nid.Interface || nid.Version == 0 || nid.Version > g.Version {
			return conn.PostError(reg.ID(), protocol.ErrorInvalidObject,
				fmt.Sprintf("invalid bind of %s v%d to global %d", nid.Interface, nid.Version, name))
		}
		obj, err := conn.Implement(nid.ID, nil, nil)
		if err != nil {
			return err
		}
		if s.OnBind != nil {
			s.OnBind(g, obj)
		}
		return nil
	}
	return conn.PostError(reg.ID(), protocol.ErrorInvalidObject, fmt.Sprintf("invalid global %d", name))
}

// Serve dispatches conn's default queue until ctx ends or the connection
// fails.
func Serve(ctx context.Context, conn *connection.Connection) error {
	for {
		if _, err := Dispatch(ctx, conn, conn.DefaultQueue()); err != nil {
			return err
		}
		if err := Flush(ctx, conn); err != nil {
			return err
		}
	}
}
