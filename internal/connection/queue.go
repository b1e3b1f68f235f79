package connection

import "github.com/danmuck/wlproto/internal/objmap"

// EventQueue holds decoded messages for the objects bound to it until the
// owner dispatches them. Each queue is meant to be dispatched from one
// goroutine at a time.
type EventQueue struct {
	conn        *Connection
	id          uint32
	pending     []entry
	// deferred lists objects with a rebind or detach waiting for the
	// current batch to finish.
	deferred    []*objectMeta
	closed      bool
	dispatching bool
}

// ID is a small per-connection number, useful in logs.
func (q *EventQueue) ID() uint32 {
	return q.id
}

// Len reports how many messages are waiting.
func (q *EventQueue) Len() int {
	q.conn.mu.Lock()
	defer q.conn.mu.Unlock()
	return len(q.pending)
}

type reaped struct {
	id         uint32
	meta       *objectMeta
	announceID bool
}

// DispatchPending delivers every message queued so far in arrival order.
// Messages that arrive while handlers run wait for the next call. Root
// object events are handled first.
func (q *EventQueue) DispatchPending() (n int, err error) {
	c := q.conn
	c.mu.Lock()
	if q.dispatching {
		c.mu.Unlock()
		return 0, ErrReentrantDispatch
	}
	if q.closed {
		c.mu.Unlock()
		return 0, ErrQueueClosed
	}
	c.dispatchControlLocked()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	batch := q.pending
	q.pending = nil
	q.dispatching = true
	c.mu.Unlock()

	var reap []reaped
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		q.finishBatchLocked(reap)
		if err == nil {
			err = c.usableLocked()
		}
	}()

	for i, e := range batch {
		c.mu.Lock()
		if c.closed {
			c.dropEntriesLocked(batch[i:], "closed")
			c.mu.Unlock()
			return n, nil
		}
		if e.meta.dead {
			c.dropLocked(e.msg, e.iface, e.desc, "dead")
			c.mu.Unlock()
			continue
		}
		handler := e.meta.handler
		deliver := handler != nil && !e.meta.detached
		if deliver {
			c.trace(e.iface, e.id, e.desc, e.msg, false)
		} else {
			c.dropLocked(e.msg, e.iface, e.desc, "unhandled")
		}
		c.mu.Unlock()

		if deliver {
			handler.Receive(e.msg, Meta{
				Conn:      c,
				Proxy:     &Proxy{conn: c, id: e.id, iface: e.iface, version: e.version, meta: e.meta},
				Interface: e.iface,
				Desc:      e.desc,
			})
			n++
		}

		if e.desc.Destructor {
			c.mu.Lock()
			if !e.meta.dead {
				if r, ok := c.destroyIncomingLocked(e); ok {
					reap = append(reap, r)
				}
			}
			c.mu.Unlock()
		}
	}
	return n, nil
}

// destroyIncomingLocked applies a destructor message after its handler ran.
func (c *Connection) destroyIncomingLocked(e entry) (reaped, bool) {
	e.meta.dead = true
	if !c.removesOnDestroy(e.id) {
		c.killLocked(e.id, e.meta)
		return reaped{}, false
	}
	return reaped{
		id:         e.id,
		meta:       e.meta,
		announceID: c.side == objmap.Server && objmap.SideOf(e.id) == objmap.Client,
	}, true
}

// reapLocked frees the id of a destroyed object unless it was already
// handed to a new one.
func (c *Connection) reapLocked(r reaped) {
	if obj, ok := c.objects.Find(r.id); ok && obj.Data == r.meta {
		_ = c.objects.MarkDead(r.id)
		_ = c.objects.Remove(r.id)
	}
	if r.announceID && !c.closed {
		if err := c.sendDeleteIDLocked(r.id); err != nil {
			c.log.Warn().Err(err).Uint32("id", r.id).Msg("delete_id not sent")
		}
	}
}

// finishBatchLocked removes objects destroyed during the batch and applies
// queue changes handlers asked for.
func (q *EventQueue) finishBatchLocked(reap []reaped) {
	c := q.conn
	q.dispatching = false
	for _, r := range reap {
		c.reapLocked(r)
	}
	deferred := q.deferred
	q.deferred = nil
	for _, meta := range deferred {
		switch {
		case meta.pendingDetach:
			meta.pendingDetach = false
			c.detachLocked(meta)
		case meta.pendingQueue != nil:
			next := meta.pendingQueue
			meta.pendingQueue = nil
			if next.closed {
				c.detachLocked(meta)
			} else {
				c.rebindLocked(meta, next)
			}
		}
	}
	if len(reap) > 0 {
		c.updateLiveLocked()
	}
}

// Close detaches every object bound to q. Their later messages are
// dropped; q cannot be dispatched again.
func (q *EventQueue) Close() {
	c := q.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	c.objects.Range(func(_ uint32, obj objmap.Object[*objectMeta]) bool {
		if obj.Data != nil && obj.Data.queue == q {
			obj.Data.detached = true
		}
		return true
	})
	c.dropEntriesLocked(q.pending, "detached")
	q.pending = nil
}

// requestRebindLocked moves meta to q now, or at the end of the batch if
// its current queue is dispatching.
func (c *Connection) requestRebindLocked(meta *objectMeta, q *EventQueue) {
	if meta.queue != nil && meta.queue.dispatching && meta.queue != q {
		c.deferLocked(meta)
		meta.pendingQueue = q
		meta.pendingDetach = false
		return
	}
	meta.pendingQueue = nil
	meta.pendingDetach = false
	c.rebindLocked(meta, q)
}

func (c *Connection) requestDetachLocked(meta *objectMeta) {
	if meta.queue != nil && meta.queue.dispatching {
		c.deferLocked(meta)
		meta.pendingDetach = true
		meta.pendingQueue = nil
		return
	}
	c.detachLocked(meta)
}

func (c *Connection) deferLocked(meta *objectMeta) {
	if meta.pendingQueue == nil && !meta.pendingDetach {
		meta.queue.deferred = append(meta.queue.deferred, meta)
	}
}

// rebindLocked moves meta and its undelivered messages to q, keeping their
// order.
func (c *Connection) rebindLocked(meta *objectMeta, q *EventQueue) {
	meta.detached = false
	old := meta.queue
	meta.queue = q
	if old == nil || old == q {
		return
	}
	kept := old.pending[:0]
	for _, e := range old.pending {
		if e.meta == meta {
			q.pending = append(q.pending, e)
			continue
		}
		kept = append(kept, e)
	}
	old.pending = kept
}

func (c *Connection) detachLocked(meta *objectMeta) {
	meta.detached = true
	q := meta.queue
	if q == nil {
		return
	}
	kept := q.pending[:0]
	for _, e := range q.pending {
		if e.meta == meta {
			c.dropLocked(e.msg, e.iface, e.desc, "detached")
			continue
		}
		kept = append(kept, e)
	}
	q.pending = kept
}
