package connection

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/socket"
)

// Proxy is the local handle of one protocol object. A proxy outlives its
// object; once the object is destroyed every operation fails with
// ErrInvalidObject.
type Proxy struct {
	conn    *Connection
	id      uint32
	iface   *wire.Interface
	version uint32
	meta    *objectMeta
	// queue, when set, is where objects created through this proxy are
	// bound. Only wrappers set it.
	queue *EventQueue
}

func (p *Proxy) ID() uint32 {
	return p.id
}

func (p *Proxy) Interface() *wire.Interface {
	return p.iface
}

func (p *Proxy) Version() uint32 {
	return p.version
}

func (p *Proxy) Conn() *Connection {
	return p.conn
}

// Alive reports whether the object behind p still exists.
func (p *Proxy) Alive() bool {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked(p) == nil
}

// Equal reports whether p and o refer to the same object.
func (p *Proxy) Equal(o *Proxy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.conn == o.conn && p.id == o.id && p.meta == o.meta
}

func (p *Proxy) String() string {
	name := "<anonymous>"
	if p.iface != nil && p.iface.Name != "" {
		name = p.iface.Name
	}
	return fmt.Sprintf("%s@%d", name, p.id)
}

// Handler returns the handler bound to the object. Callers recover their
// concrete type with a type assertion.
func (p *Proxy) Handler() Handler {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.meta.handler
}

// Implement sets the handler that receives the object's messages.
func (p *Proxy) Implement(h Handler) error {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validLocked(p); err != nil {
		return err
	}
	if c.isClientRoot(p.id) {
		return ErrRootQueue
	}
	p.meta.handler = h
	return nil
}

// Queue returns the queue the object's messages are delivered on.
func (p *Proxy) Queue() *EventQueue {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return p.meta.queue
}

// SetQueue moves the object and its undelivered messages to q. Called from
// a handler running on the object's current queue, the move happens once
// that batch is done.
func (p *Proxy) SetQueue(q *EventQueue) error {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validLocked(p); err != nil {
		return err
	}
	if c.isClientRoot(p.id) {
		return ErrRootQueue
	}
	if q == nil {
		q = c.defaultQueue
	}
	if err := c.checkQueueLocked(q); err != nil {
		return err
	}
	c.requestRebindLocked(p.meta, q)
	return nil
}

// Detach stops delivery for the object. Its messages are dropped from then
// on.
func (p *Proxy) Detach() error {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validLocked(p); err != nil {
		return err
	}
	if c.isClientRoot(p.id) {
		return ErrRootQueue
	}
	c.requestDetachLocked(p.meta)
	return nil
}

// MakeWrapper returns a proxy for the same object whose new children are
// bound to q. The object's own messages stay on its queue. This lets a
// caller wait on a private queue for the reply to a request sent on a
// shared object.
func (p *Proxy) MakeWrapper(q *EventQueue) (*Proxy, error) {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validLocked(p); err != nil {
		return nil, err
	}
	if q == nil {
		q = c.defaultQueue
	}
	if err := c.checkQueueLocked(q); err != nil {
		return nil, err
	}
	w := *p
	w.queue = q
	return &w, nil
}

// Send marshals one message on the object. Zero ids in new-id arguments are
// filled from the local range; the returned proxy is the first object the
// message created, or nil.
func (p *Proxy) Send(opcode uint16, args ...wire.Argument) (*Proxy, error) {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(p, opcode, args)
}

// SendConstructor sends a message carrying one new id and binds handler to
// the created object.
func (p *Proxy) SendConstructor(handler Handler, opcode uint16, args ...wire.Argument) (*Proxy, error) {
	c := p.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	child, err := c.sendLocked(p, opcode, args)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("%w: message creates no object", wire.ErrSignatureMismatch)
	}
	child.meta.handler = handler
	return child, nil
}

// validLocked checks that p still names the object it was made for.
func (c *Connection) validLocked(p *Proxy) error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if p == nil || p.conn != c {
		return ErrInvalidObject
	}
	obj, ok := c.objects.Find(p.id)
	if !ok || obj.Data != p.meta || p.meta.dead {
		return fmt.Errorf("%w: %s", ErrInvalidObject, p)
	}
	return nil
}

type created struct {
	id      uint32
	iface   *wire.Interface
	version uint32
}

func (c *Connection) sendLocked(p *Proxy, opcode uint16, args []wire.Argument) (*Proxy, error) {
	if err := c.validLocked(p); err != nil {
		return nil, err
	}
	desc, err := c.outgoingDesc(p.iface, opcode)
	if err != nil {
		return nil, err
	}
	if desc.Since > p.version {
		return nil, fmt.Errorf("%w: %s.%s needs version %d", ErrInvalidObject, p, desc.Name, desc.Since)
	}

	msg := wire.Message{Sender: p.id, Opcode: opcode, Args: append([]wire.Argument(nil), args...)}
	var children []created
	for i, spec := range desc.Args {
		if spec.Type != wire.ArgNewID || i >= len(msg.Args) {
			continue
		}
		nid, ok := msg.Args[i].(wire.NewID)
		if !ok {
			// the codec reports the mismatch
			continue
		}
		if nid.ID == 0 {
			id, err := c.objects.AllocateLocalID()
			if err != nil {
				return nil, err
			}
			nid.ID = id
		} else if err := c.checkLocalIDLocked(nid.ID, children); err != nil {
			return nil, err
		}
		msg.Args[i] = nid
		iface, version := c.childInterface(spec, nid, p.version)
		children = append(children, created{id: nid.ID, iface: iface, version: version})
	}

	data, fds, err := c.cfg.Codec.Encode(msg, desc.Args)
	if err != nil {
		return nil, err
	}
	if err := c.transport.QueueWrite(data, fds); err != nil {
		if errors.Is(err, socket.ErrConnectionClosed) {
			c.failLocked(err)
			return nil, c.usableLocked()
		}
		return nil, err
	}
	c.trace(p.iface, p.id, desc, msg, true)
	observability.RecordWireMessage("out", p.iface.Name, len(fds))

	var first *Proxy
	for _, ch := range children {
		meta := &objectMeta{queue: c.childQueue(p.meta, p.queue)}
		if err := c.objects.Insert(ch.id, objmap.Object[*objectMeta]{
			Interface: ch.iface,
			Version:   ch.version,
			Alive:     true,
			Data:      meta,
		}); err != nil {
			return first, err
		}
		if first == nil {
			first = c.proxyLocked(ch.id, ch.iface, ch.version, meta)
		}
	}
	if len(children) > 0 {
		c.updateLiveLocked()
	}

	if desc.Destructor {
		if err := c.destroyOutgoingLocked(p); err != nil {
			return first, err
		}
	}

	bytes, _ := c.transport.Pending()
	if c.cfg.EagerFlush || bytes >= socket.MaxBytesOut {
		if err := c.flushLocked(); err != nil && !errors.Is(err, ErrWouldBlock) {
			return first, err
		}
	}
	return first, nil
}

// checkLocalIDLocked validates a caller-chosen id for a new object.
func (c *Connection) checkLocalIDLocked(id uint32, pending []created) error {
	if objmap.SideOf(id) != c.side {
		return fmt.Errorf("%w: %d", objmap.ErrOutOfRange, id)
	}
	if _, ok := c.objects.Find(id); ok {
		return fmt.Errorf("%w: %d", objmap.ErrIDInUse, id)
	}
	for _, ch := range pending {
		if ch.id == id {
			return fmt.Errorf("%w: %d", objmap.ErrIDInUse, id)
		}
	}
	return nil
}

// destroyOutgoingLocked retires an object after a destructor was sent.
// Client ids stay in the map as zombies so late messages from the peer are
// dropped instead of treated as errors: on the client until delete_id
// arrives, on the server until the client reuses the id. A server id the
// server destroys is released at once, since no delete_id follows it.
func (c *Connection) destroyOutgoingLocked(p *Proxy) error {
	p.meta.dead = true
	_ = c.objects.MarkDead(p.id)
	defer c.updateLiveLocked()
	if c.side != objmap.Server {
		return nil
	}
	if objmap.SideOf(p.id) == objmap.Server {
		_ = c.objects.Remove(p.id)
		return nil
	}
	return c.sendDeleteIDLocked(p.id)
}
