package connection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/socket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport moves framed bytes and fds. *socket.BufferedSocket is the
// in-tree implementation; another backend can be passed to New.
type Transport interface {
	FD() int
	TryRead() (int, error)
	PopMessage(codec wire.Codec, resolve wire.Resolver) (wire.Message, error)
	QueueWrite(data []byte, fds []int) error
	Flush() error
	Pending() (int, int)
	Close() error
}

// objectMeta is what the connection keeps per object. Its pointer identity
// tells a reused id apart from the object a proxy or queue entry refers to.
type objectMeta struct {
	handler Handler
	queue   *EventQueue
	// dead survives removal from the map, so entries already queued for a
	// reclaimed id still see the right state.
	dead     bool
	detached bool

	pendingQueue  *EventQueue
	pendingDetach bool
}

// Connection is one endpoint of a protocol socket.
type Connection struct {
	mu        sync.Mutex
	cfg       Config
	side      objmap.Side
	transport Transport
	objects   *objmap.Map[*objectMeta]
	lastErr   error
	closed    bool

	control      *EventQueue
	defaultQueue *EventQueue
	queues       []*EventQueue
	nextQueueID  uint32

	display *Proxy
	log     zerolog.Logger
}

// New builds a connection over an already connected transport. The root
// object (id 1) exists from the start.
func New(transport Transport, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		cfg:       cfg,
		side:      cfg.Side,
		transport: transport,
		objects:   objmap.New[*objectMeta](cfg.Side),
		log:       log.With().Str("side", cfg.Side.String()).Logger(),
	}
	c.control = c.newQueueLocked()
	c.defaultQueue = c.newQueueLocked()

	rootQueue := c.defaultQueue
	if c.side == objmap.Client {
		rootQueue = c.control
	}
	meta := &objectMeta{queue: rootQueue}
	_ = c.objects.Insert(protocol.DisplayID, objmap.Object[*objectMeta]{
		Interface: protocol.DisplayInterface,
		Version:   protocol.DisplayInterface.Version,
		Alive:     true,
		Data:      meta,
	})
	c.display = c.proxyLocked(protocol.DisplayID, protocol.DisplayInterface, protocol.DisplayInterface.Version, meta)
	c.updateLiveLocked()
	return c
}

// FromFD wraps a connected unix stream socket descriptor.
func FromFD(fd int, cfg Config) *Connection {
	return New(socket.NewBuffered(socket.NewSocket(fd)), cfg)
}

func (c *Connection) Side() objmap.Side {
	return c.side
}

// FD is the descriptor the caller should poll for readiness.
func (c *Connection) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport.FD()
}

// Display returns the root object.
func (c *Connection) Display() *Proxy {
	return c.display
}

func (c *Connection) DefaultQueue() *EventQueue {
	return c.defaultQueue
}

func (c *Connection) NewQueue() *EventQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newQueueLocked()
}

// LastError returns the error that stopped the connection, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Flush sends buffered outgoing messages. ErrWouldBlock means the caller
// should wait for the socket to become writable.
func (c *Connection) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.flushLocked()
}

// ReadEvents reads what the socket has, decodes every complete message and
// routes each onto the queue of the object it targets. It never blocks.
func (c *Connection) ReadEvents() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return 0, err
	}
	_, readErr := c.transport.TryRead()
	if readErr != nil && !errors.Is(readErr, socket.ErrConnectionClosed) {
		if errors.Is(readErr, socket.ErrWouldBlock) {
			return 0, ErrWouldBlock
		}
		c.failLocked(readErr)
		return 0, c.usableLocked()
	}
	n, err := c.decodeLocked()
	if err != nil {
		return n, err
	}
	if readErr != nil {
		// A peer usually reports a fatal error right before hanging up;
		// record it before tearing the connection down.
		c.dispatchControlLocked()
		c.failLocked(readErr)
		return n, c.usableLocked()
	}
	return n, nil
}

// Close shuts the connection. Every object becomes dead and later
// operations fail with ErrConnectionClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.shutdownLocked(ErrConnectionClosed)
}

// PostError sends wl_display.error to the peer. Server side only.
func (c *Connection) PostError(objectID, code uint32, message string) error {
	if c.side != objmap.Server {
		return fmt.Errorf("%w: only a server posts errors", ErrInvalidObject)
	}
	_, err := c.display.Send(protocol.DisplayEventError, protocol.ErrorArgs(protocol.DisplayError{
		ObjectID: objectID,
		Code:     code,
		Message:  message,
	})...)
	return err
}

// ObjectInfo is a snapshot of one map entry.
type ObjectInfo struct {
	ID        uint32 `json:"id"`
	Interface string `json:"interface"`
	Version   uint32 `json:"version"`
	Alive     bool   `json:"alive"`
	Queue     uint32 `json:"queue"`
	Handler   bool   `json:"handler"`
}

// Objects lists the object map in id order.
func (c *Connection) Objects() []ObjectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ObjectInfo, 0, c.objects.Len())
	c.objects.Range(func(id uint32, obj objmap.Object[*objectMeta]) bool {
		info := ObjectInfo{ID: id, Version: obj.Version, Alive: obj.Alive}
		if obj.Interface != nil {
			info.Interface = obj.Interface.Name
		}
		if obj.Data != nil {
			info.Handler = obj.Data.handler != nil
			if obj.Data.queue != nil {
				info.Queue = obj.Data.queue.id
			}
		}
		out = append(out, info)
		return true
	})
	return out
}

// RegisterInterface makes iface known by name for untyped new ids.
func (c *Connection) RegisterInterface(iface *wire.Interface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Interfaces[iface.Name] = iface
}

// Implement binds handler and queue to a live object. A nil queue means the
// default queue.
func (c *Connection) Implement(id uint32, handler Handler, q *EventQueue) (*Proxy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	obj, err := c.objects.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	if c.isClientRoot(id) {
		return nil, ErrRootQueue
	}
	if q == nil {
		q = c.defaultQueue
	}
	if err := c.checkQueueLocked(q); err != nil {
		return nil, err
	}
	meta := obj.Data
	meta.handler = handler
	c.requestRebindLocked(meta, q)
	return c.proxyLocked(id, obj.Interface, obj.Version, meta), nil
}

func (c *Connection) newQueueLocked() *EventQueue {
	c.nextQueueID++
	q := &EventQueue{conn: c, id: c.nextQueueID}
	c.queues = append(c.queues, q)
	return q
}

func (c *Connection) proxyLocked(id uint32, iface *wire.Interface, version uint32, meta *objectMeta) *Proxy {
	return &Proxy{conn: c, id: id, iface: iface, version: version, meta: meta}
}

func (c *Connection) isClientRoot(id uint32) bool {
	return c.side == objmap.Client && id == protocol.DisplayID
}

func (c *Connection) checkQueueLocked(q *EventQueue) error {
	if q.conn != c {
		return ErrForeignQueue
	}
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// usableLocked reports why the connection cannot be used, if it cannot.
func (c *Connection) usableLocked() error {
	if c.closed {
		if c.lastErr == nil || errors.Is(c.lastErr, ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("%w: %w", ErrConnectionClosed, c.lastErr)
	}
	return c.lastErr
}

func (c *Connection) flushLocked() error {
	err := c.transport.Flush()
	if err == nil {
		return nil
	}
	if errors.Is(err, socket.ErrWouldBlock) {
		return ErrWouldBlock
	}
	c.failLocked(err)
	return c.usableLocked()
}

// failLocked poisons the connection after a transport or framing failure.
func (c *Connection) failLocked(err error) {
	if c.closed {
		return
	}
	c.log.Error().Err(err).Msg("connection failed")
	_ = c.shutdownLocked(err)
}

func (c *Connection) shutdownLocked(cause error) error {
	c.closed = true
	if c.lastErr == nil {
		c.lastErr = cause
	}
	c.objects.Range(func(_ uint32, obj objmap.Object[*objectMeta]) bool {
		if obj.Data != nil {
			obj.Data.dead = true
		}
		return true
	})
	c.objects.KillAll()
	for _, q := range c.queues {
		c.dropEntriesLocked(q.pending, "closed")
		q.pending = nil
	}
	c.updateLiveLocked()
	return c.transport.Close()
}

func (c *Connection) killLocked(id uint32, meta *objectMeta) {
	meta.dead = true
	if obj, ok := c.objects.Find(id); ok && obj.Data == meta {
		_ = c.objects.MarkDead(id)
	}
}

func (c *Connection) updateLiveLocked() {
	observability.SetLiveObjects(c.side.String(), c.objects.Live())
}

func (c *Connection) trace(iface *wire.Interface, id uint32, desc *wire.MessageDesc, msg wire.Message, outgoing bool) {
	if !c.cfg.Debug {
		return
	}
	name := ""
	if iface != nil {
		name = iface.Name
	}
	c.log.Debug().Msg(wire.FormatMessage(name, id, desc, msg.Args, outgoing))
}
