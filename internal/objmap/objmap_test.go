package objmap

import (
	"testing"

	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var testIface = &wire.Interface{Name: "wl_surface", Version: 6}

func TestAllocateLocalIDsStartAtOne(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	for _, want := range []uint32{1, 2, 3} {
		id, err := m.AllocateLocalID()
		require.NoError(t, err)
		require.Equal(t, want, id)
		require.NoError(t, m.Insert(id, Object[int]{Interface: testIface, Alive: true}))
	}
}

func TestAllocateLocalIDServerRange(t *testing.T) {
	testlog.Start(t)
	m := New[int](Server)
	id, err := m.AllocateLocalID()
	require.NoError(t, err)
	require.Equal(t, ServerIDLimit, id)
}

func TestAllocateSkipsInsertedIDs(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	require.NoError(t, m.Insert(1, Object[int]{Alive: true}))
	id, err := m.AllocateLocalID()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)
}

func TestPeerIDRegistration(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	require.NoError(t, m.AllocatePeerID(0xff000001))
	require.ErrorIs(t, m.AllocatePeerID(0xff000001), ErrIDInUse)

	require.NoError(t, m.MarkDead(0xff000001))
	require.NoError(t, m.Remove(0xff000001))
	require.NoError(t, m.AllocatePeerID(0xff000001))
}

func TestPeerIDReplacesDeadEntry(t *testing.T) {
	testlog.Start(t)
	m := New[int](Server)
	require.NoError(t, m.AllocatePeerID(7))
	require.NoError(t, m.MarkDead(7))
	require.NoError(t, m.AllocatePeerID(7))
	obj, err := m.Lookup(7)
	require.NoError(t, err)
	require.True(t, obj.Alive)
}

func TestPeerIDRangeChecks(t *testing.T) {
	testlog.Start(t)
	client := New[int](Client)
	require.ErrorIs(t, client.AllocatePeerID(5), ErrOutOfRange)
	require.ErrorIs(t, client.AllocatePeerID(0), ErrNullID)

	server := New[int](Server)
	require.ErrorIs(t, server.AllocatePeerID(0xff000000), ErrOutOfRange)
	require.NoError(t, server.AllocatePeerID(0xfeffffff))
}

func TestLookupDistinguishesUnknownAndDead(t *testing.T) {
	testlog.Start(t)
	m := New[string](Client)
	_, err := m.Lookup(4)
	require.ErrorIs(t, err, ErrUnknownID)

	require.NoError(t, m.Insert(4, Object[string]{Interface: testIface, Version: 3, Alive: true, Data: "meta"}))
	obj, err := m.Lookup(4)
	require.NoError(t, err)
	require.Equal(t, "meta", obj.Data)
	require.Equal(t, uint32(3), obj.Version)

	require.NoError(t, m.MarkDead(4))
	_, err = m.Lookup(4)
	require.ErrorIs(t, err, ErrDeadObject)
	found, ok := m.Find(4)
	require.True(t, ok)
	require.False(t, found.Alive)

	require.NoError(t, m.Remove(4))
	_, err = m.Lookup(4)
	require.ErrorIs(t, err, ErrUnknownID)
}

func TestRemoveRequiresMarkDead(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	require.NoError(t, m.Insert(2, Object[int]{Alive: true}))
	require.ErrorIs(t, m.Remove(2), ErrStillAlive)
	require.ErrorIs(t, m.Remove(3), ErrUnknownID)
	require.ErrorIs(t, m.MarkDead(3), ErrUnknownID)
	require.ErrorIs(t, m.Insert(0, Object[int]{}), ErrNullID)
}

func TestNoTwoAliveObjectsShareAnID(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	seen := make(map[uint32]bool)
	for i := 0; i < 500; i++ {
		id, err := m.AllocateLocalID()
		require.NoError(t, err)
		require.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
		require.NoError(t, m.Insert(id, Object[int]{Alive: true}))
		if i%3 == 0 {
			require.NoError(t, m.MarkDead(id))
		}
	}
	require.Equal(t, 500, m.Len())
	require.Equal(t, 333, m.Live())
}

func TestExhaustionReusesFreedIDs(t *testing.T) {
	testlog.Start(t)
	m := New[int](Server)
	m.next = uint64(MaxID) - 1
	a, err := m.AllocateLocalID()
	require.NoError(t, err)
	require.Equal(t, MaxID-1, a)
	require.NoError(t, m.Insert(a, Object[int]{Alive: true}))
	b, err := m.AllocateLocalID()
	require.NoError(t, err)
	require.Equal(t, MaxID, b)
	require.NoError(t, m.Insert(b, Object[int]{Alive: true}))

	c, err := m.AllocateLocalID()
	require.NoError(t, err)
	require.Equal(t, ServerIDLimit, c)
}

func TestRangeIsOrdered(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	for _, id := range []uint32{9, 1, 0xff000003, 4} {
		require.NoError(t, m.Insert(id, Object[int]{Alive: true}))
	}
	var got []uint32
	m.Range(func(id uint32, _ Object[int]) bool {
		got = append(got, id)
		return true
	})
	require.Equal(t, []uint32{1, 4, 9, 0xff000003}, got)
}

func TestUpdateEditsInPlace(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	require.NoError(t, m.Insert(3, Object[int]{Alive: true, Data: 1}))
	require.NoError(t, m.Update(3, func(o *Object[int]) { o.Data = 7 }))
	obj, err := m.Lookup(3)
	require.NoError(t, err)
	require.Equal(t, 7, obj.Data)
	require.ErrorIs(t, m.Update(4, func(*Object[int]) {}), ErrUnknownID)
}

func TestInsertRefusesAliveEntry(t *testing.T) {
	testlog.Start(t)
	m := New[int](Client)
	require.NoError(t, m.Insert(5, Object[int]{Alive: true, Data: 1}))
	require.ErrorIs(t, m.Insert(5, Object[int]{Alive: true, Data: 2}), ErrIDInUse)

	obj, err := m.Lookup(5)
	require.NoError(t, err)
	require.Equal(t, 1, obj.Data)

	require.NoError(t, m.MarkDead(5))
	require.NoError(t, m.Insert(5, Object[int]{Alive: true, Data: 3}))
	obj, err = m.Lookup(5)
	require.NoError(t, err)
	require.Equal(t, 3, obj.Data)
}
