package display

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Registry tracks the globals a server advertises.
type Registry struct {
	mu      sync.Mutex
	proxy   *connection.Proxy
	globals map[uint32]protocol.Global

	// OnGlobal and OnRemove run on the dispatching goroutine.
	OnGlobal func(protocol.Global)
	OnRemove func(protocol.Global)
}

// GetRegistry creates the registry object. Its events are delivered on q;
// call Roundtrip to receive the initial globals.
func GetRegistry(conn *connection.Connection, q *connection.EventQueue) (*Registry, error) {
	if q == nil {
		q = conn.DefaultQueue()
	}
	wrapper, err := conn.Display().MakeWrapper(q)
	if err != nil {
		return nil, err
	}
	r := &Registry{globals: make(map[uint32]protocol.Global)}
	proxy, err := wrapper.SendConstructor(r, protocol.DisplayGetRegistry, wire.NewID{})
	if err != nil {
		return nil, err
	}
	r.proxy = proxy
	return r, nil
}

func (r *Registry) Proxy() *connection.Proxy {
	return r.proxy
}

func (r *Registry) Receive(msg wire.Message, _ connection.Meta) {
	switch msg.Opcode {
	case protocol.RegistryEventGlobal:
		g, err := protocol.ParseGlobal(msg)
		if err != nil {
			log.Warn().Err(err).Msg("registry: bad global")
			return
		}
		r.mu.Lock()
		r.globals[g.Name] = g
		r.mu.Unlock()
		if r.OnGlobal != nil {
			r.OnGlobal(g)
		}
	case protocol.RegistryEventGlobalRemove:
		name, err := protocol.ParseGlobalRemove(msg)
		if err != nil {
			log.Warn().Err(err).Msg("registry: bad global_remove")
			return
		}
		r.mu.Lock()
		g, ok := r.globals[name]
		delete(r.globals, name)
		r.mu.Unlock()
		if ok && r.OnRemove != nil {
			r.OnRemove(g)
		}
	}
}

// Globals returns the advertised globals ordered by name.
func (r *Registry) Globals() []protocol.Global {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the first global implementing iface.
func (r *Registry) Find(iface string) (protocol.Global, bool) {
	for _, g := range r.Globals() {
		if g.Interface == iface {
			return g, true
		}
	}
	return protocol.Global{}, false
}

// Bind creates an object for global name. version is capped at what the
// server advertised.
func (r *Registry) Bind(name uint32, iface *wire.Interface, version uint32, h connection.Handler) (*connection.Proxy, error) {
	r.mu.Lock()
	g, ok := r.globals[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("display: no global %d", name)
	}
	if g.Interface != iface.Name {
		return nil, fmt.Errorf("display: global %d is %s, not %s", name, g.Interface, iface.Name)
	}
	if version > g.Version {
		version = g.Version
	}
	r.proxy.Conn().RegisterInterface(iface)
	return r.proxy.SendConstructor(h, protocol.RegistryBind,
		wire.Uint(name), wire.NewID{Interface: iface.Name, Version: version})
}
