// Package objmap tracks live protocol objects by id across the two id
// ranges of a connection. It does no locking of its own.
package objmap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/wlproto/internal/protocol/wire"
)

const (
	// ServerIDLimit is the first id of the server-allocated range.
	ServerIDLimit uint32 = 0xFF000000
	MaxID         uint32 = 0xFFFFFFFF
)

var (
	ErrNullID       = errors.New("objmap: id 0 is reserved")
	ErrIDsExhausted = errors.New("objmap: ids exhausted")
	ErrIDInUse      = errors.New("objmap: id already in use")
	ErrOutOfRange   = errors.New("objmap: id outside allocation range")
	ErrUnknownID    = errors.New("objmap: unknown id")
	ErrDeadObject   = errors.New("objmap: object is dead")
	ErrStillAlive   = errors.New("objmap: object still alive")
)

// Side selects which id range an endpoint allocates from.
type Side int

const (
	Client Side = iota
	Server
)

func (s Side) Peer() Side {
	if s == Client {
		return Server
	}
	return Client
}

func (s Side) String() string {
	if s == Client {
		return "client"
	}
	return "server"
}

// SideOf reports which endpoint allocates id.
func SideOf(id uint32) Side {
	if id >= ServerIDLimit {
		return Server
	}
	return Client
}

func bounds(s Side) (uint32, uint32) {
	if s == Client {
		return 1, ServerIDLimit - 1
	}
	return ServerIDLimit, MaxID
}

// Object is one entry of the map.
type Object[D any] struct {
	Interface *wire.Interface
	Version   uint32
	Alive     bool
	Data      D
}

// Map binds ids to objects for one connection.
type Map[D any] struct {
	side    Side
	objects map[uint32]*Object[D]
	// next is the monotonic cursor into the local range; wide enough to step
	// past MaxID without wrapping.
	next    uint64
	wrapped bool
}

func New[D any](side Side) *Map[D] {
	lo, _ := bounds(side)
	return &Map[D]{
		side:    side,
		objects: make(map[uint32]*Object[D]),
		next:    uint64(lo),
	}
}

func (m *Map[D]) Side() Side {
	return m.side
}

// AllocateLocalID returns the next unused id in this endpoint's range. Ids
// are handed out in increasing order; once the range end is reached the
// lowest free id is reused.
func (m *Map[D]) AllocateLocalID() (uint32, error) {
	lo, hi := bounds(m.side)
	for !m.wrapped {
		if m.next > uint64(hi) {
			m.wrapped = true
			break
		}
		id := uint32(m.next)
		m.next++
		if _, ok := m.objects[id]; !ok {
			return id, nil
		}
	}
	for id := lo; ; id++ {
		if _, ok := m.objects[id]; !ok {
			return id, nil
		}
		if id == hi {
			break
		}
	}
	return 0, fmt.Errorf("%w: %s range", ErrIDsExhausted, m.side)
}

// AllocatePeerID reserves an id introduced by the peer. A dead entry at
// that id is replaced; an alive one is an error.
func (m *Map[D]) AllocatePeerID(id uint32) error {
	if id == 0 {
		return ErrNullID
	}
	if SideOf(id) != m.side.Peer() {
		return fmt.Errorf("%w: %d is not a %s id", ErrOutOfRange, id, m.side.Peer())
	}
	if obj, ok := m.objects[id]; ok && obj.Alive {
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	}
	m.objects[id] = &Object[D]{Interface: wire.AnonymousInterface, Alive: true}
	return nil
}

// Insert stores obj under id. A dead entry is replaced; an alive one is
// an error.
func (m *Map[D]) Insert(id uint32, obj Object[D]) error {
	if id == 0 {
		return ErrNullID
	}
	if old, ok := m.objects[id]; ok && old.Alive {
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	}
	stored := obj
	m.objects[id] = &stored
	return nil
}

// Lookup returns the alive object at id.
func (m *Map[D]) Lookup(id uint32) (Object[D], error) {
	obj, ok := m.objects[id]
	if !ok {
		return Object[D]{}, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	if !obj.Alive {
		return *obj, fmt.Errorf("%w: %d", ErrDeadObject, id)
	}
	return *obj, nil
}

// Find returns the entry at id whether or not it is alive.
func (m *Map[D]) Find(id uint32) (Object[D], bool) {
	obj, ok := m.objects[id]
	if !ok {
		return Object[D]{}, false
	}
	return *obj, true
}

// Update applies fn to the entry at id in place.
func (m *Map[D]) Update(id uint32, fn func(*Object[D])) error {
	obj, ok := m.objects[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	fn(obj)
	return nil
}

func (m *Map[D]) MarkDead(id uint32) error {
	obj, ok := m.objects[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	obj.Alive = false
	return nil
}

// Remove deletes a dead entry, making the id free again.
func (m *Map[D]) Remove(id uint32) error {
	obj, ok := m.objects[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	if obj.Alive {
		return fmt.Errorf("%w: %d", ErrStillAlive, id)
	}
	delete(m.objects, id)
	return nil
}

// KillAll marks every object dead.
func (m *Map[D]) KillAll() {
	for _, obj := range m.objects {
		obj.Alive = false
	}
}

func (m *Map[D]) Len() int {
	return len(m.objects)
}

// Live counts alive objects.
func (m *Map[D]) Live() int {
	n := 0
	for _, obj := range m.objects {
		if obj.Alive {
			n++
		}
	}
	return n
}

// Range calls fn for each entry in id order until fn returns false.
func (m *Map[D]) Range(fn func(id uint32, obj Object[D]) bool) {
	ids := make([]uint32, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(id, *m.objects[id]) {
			return
		}
	}
}
