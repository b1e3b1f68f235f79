package connection

import (
	"errors"
	"fmt"

	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/observability"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/socket"
)

// entry is one decoded message waiting on a queue. meta pins the object the
// message was addressed to even if its id is reused before dispatch.
type entry struct {
	msg     wire.Message
	id      uint32
	iface   *wire.Interface
	version uint32
	desc    *wire.MessageDesc
	meta    *objectMeta
}

func (c *Connection) decodeLocked() (int, error) {
	n := 0
	for !c.closed {
		var (
			target objmap.Object[*objectMeta]
			desc   *wire.MessageDesc
		)
		resolve := func(sender uint32, opcode uint16) (wire.Signature, error) {
			obj, ok := c.objects.Find(sender)
			if !ok {
				return nil, fmt.Errorf("%w: message for unknown object %d", wire.ErrMalformedMessage, sender)
			}
			d, err := c.incomingDesc(obj.Interface, opcode)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", wire.ErrMalformedMessage, err)
			}
			target, desc = obj, d
			return d.Args, nil
		}
		msg, err := c.transport.PopMessage(c.cfg.Codec, resolve)
		if errors.Is(err, wire.ErrIncomplete) {
			return n, nil
		}
		if err != nil {
			c.failLocked(err)
			return n, c.usableLocked()
		}
		n++
		observability.RecordWireMessage("in", target.Interface.Name, len(msg.FDs()))
		if err := c.routeLocked(msg, target, desc); err != nil {
			socket.CloseFDs(msg.FDs())
			c.failLocked(err)
			return n, c.usableLocked()
		}
	}
	return n, c.usableLocked()
}

func (c *Connection) incomingDesc(iface *wire.Interface, opcode uint16) (*wire.MessageDesc, error) {
	if c.side == objmap.Client {
		return iface.Event(opcode)
	}
	return iface.Request(opcode)
}

func (c *Connection) outgoingDesc(iface *wire.Interface, opcode uint16) (*wire.MessageDesc, error) {
	if c.side == objmap.Client {
		return iface.Request(opcode)
	}
	return iface.Event(opcode)
}

// routeLocked registers objects the message introduces and puts the message
// on the queue its target is bound to.
func (c *Connection) routeLocked(msg wire.Message, target objmap.Object[*objectMeta], desc *wire.MessageDesc) error {
	meta := target.Data
	dead := !target.Alive || meta == nil || meta.dead
	if err := c.registerChildrenLocked(msg, target, desc, dead); err != nil {
		return err
	}
	if dead {
		c.dropLocked(msg, target.Interface, desc, "dead")
		return nil
	}
	q := meta.queue
	if meta.detached || q == nil || q.closed {
		c.dropLocked(msg, target.Interface, desc, "detached")
		if desc.Destructor {
			// No handler will see it, but the object still ends here.
			if r, ok := c.destroyIncomingLocked(entry{id: msg.Sender, meta: meta}); ok {
				c.reapLocked(r)
			}
			c.updateLiveLocked()
		}
		return nil
	}
	if desc.Destructor && c.side == objmap.Client && objmap.SideOf(msg.Sender) == objmap.Server {
		// The server may hand this id out again before the batch runs;
		// the queued entry keeps the old object deliverable.
		_ = c.objects.MarkDead(msg.Sender)
	}
	q.pending = append(q.pending, entry{
		msg:     msg,
		id:      msg.Sender,
		iface:   target.Interface,
		version: target.Version,
		desc:    desc,
		meta:    meta,
	})
	return nil
}

func (c *Connection) registerChildrenLocked(msg wire.Message, parent objmap.Object[*objectMeta], desc *wire.MessageDesc, dead bool) error {
	for i, spec := range desc.Args {
		if spec.Type != wire.ArgNewID {
			continue
		}
		nid, ok := msg.Args[i].(wire.NewID)
		if !ok {
			return fmt.Errorf("%w: argument %d is not a new id", wire.ErrMalformedMessage, i)
		}
		if err := c.objects.AllocatePeerID(nid.ID); err != nil {
			return fmt.Errorf("%w: new id %d: %w", wire.ErrMalformedMessage, nid.ID, err)
		}
		iface, version := c.childInterface(spec, nid, parent.Version)
		meta := &objectMeta{queue: c.childQueue(parent.Data, nil), dead: dead}
		_ = c.objects.Update(nid.ID, func(obj *objmap.Object[*objectMeta]) {
			*obj = objmap.Object[*objectMeta]{
				Interface: iface,
				Version:   version,
				Alive:     !dead,
				Data:      meta,
			}
		})
		if dead && c.side == objmap.Server {
			// The client waits for delete_id before reusing the id.
			_ = c.objects.Remove(nid.ID)
			if err := c.sendDeleteIDLocked(nid.ID); err != nil {
				return err
			}
		}
	}
	c.updateLiveLocked()
	return nil
}

// childInterface picks the descriptor for a new object. Typed new ids take
// the parent's version; untyped ones carry their own.
func (c *Connection) childInterface(spec wire.ArgSpec, nid wire.NewID, parentVersion uint32) (*wire.Interface, uint32) {
	if spec.Interface != nil {
		return spec.Interface, parentVersion
	}
	if iface, ok := c.cfg.Interfaces[nid.Interface]; ok {
		return iface, nid.Version
	}
	return &wire.Interface{Name: nid.Interface, Version: nid.Version}, nid.Version
}

// childQueue is where a new object's messages go: the explicit queue if
// set, otherwise the parent's, never the control queue.
func (c *Connection) childQueue(parent *objectMeta, explicit *EventQueue) *EventQueue {
	if explicit != nil {
		return explicit
	}
	if parent == nil || parent.queue == nil || parent.queue == c.control {
		return c.defaultQueue
	}
	return parent.queue
}

// removesOnDestroy reports whether a destroyed object's id is released
// without waiting for delete_id. Only client-allocated ids on the client
// wait for the server's acknowledgement.
func (c *Connection) removesOnDestroy(id uint32) bool {
	return !(c.side == objmap.Client && objmap.SideOf(id) == objmap.Client)
}

func (c *Connection) dropLocked(msg wire.Message, iface *wire.Interface, desc *wire.MessageDesc, reason string) {
	socket.CloseFDs(msg.FDs())
	observability.RecordDropped(reason)
	name := ""
	if iface != nil {
		name = iface.Name
	}
	ev := c.log.Debug().Str("reason", reason).Uint32("object", msg.Sender).Str("interface", name)
	if desc != nil {
		ev = ev.Str("message", desc.Name)
	}
	ev.Msg("dropping message")
}

func (c *Connection) dropEntriesLocked(entries []entry, reason string) {
	for _, e := range entries {
		c.dropLocked(e.msg, e.iface, e.desc, reason)
	}
}

// dispatchControlLocked handles root object events on the client. They
// run under the lock and before any user queue's batch.
func (c *Connection) dispatchControlLocked() {
	batch := c.control.pending
	c.control.pending = nil
	for _, e := range batch {
		c.trace(e.iface, e.id, e.desc, e.msg, false)
		switch e.msg.Opcode {
		case protocol.DisplayEventError:
			perr, err := protocol.ParseDisplayError(e.msg)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad error event")
				continue
			}
			pe := &ProtocolError{Code: perr.Code, ObjectID: perr.ObjectID, Message: perr.Message}
			if obj, ok := c.objects.Find(perr.ObjectID); ok && obj.Interface != nil {
				pe.Interface = obj.Interface.Name
			}
			c.log.Error().Err(pe).Msg("peer reported protocol error")
			if c.lastErr == nil {
				c.lastErr = pe
			}
		case protocol.DisplayEventDeleteID:
			id, err := protocol.ParseDeleteID(e.msg)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad delete_id event")
				continue
			}
			c.deleteIDLocked(id)
		}
	}
}

// deleteIDLocked releases a client id the server has finished with. A
// proxy still alive keeps its queued messages but loses the id.
func (c *Connection) deleteIDLocked(id uint32) {
	obj, ok := c.objects.Find(id)
	if !ok || objmap.SideOf(id) != objmap.Client || id == protocol.DisplayID {
		c.log.Warn().Uint32("id", id).Msg("delete_id for unknown object")
		return
	}
	if obj.Data != nil && !obj.Data.dead {
		c.log.Debug().Uint32("id", id).Msg("delete_id for live object")
	}
	_ = c.objects.MarkDead(id)
	_ = c.objects.Remove(id)
	c.updateLiveLocked()
}

func (c *Connection) sendDeleteIDLocked(id uint32) error {
	_, err := c.sendLocked(c.display, protocol.DisplayEventDeleteID, []wire.Argument{wire.Uint(id)})
	return err
}
