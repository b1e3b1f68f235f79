package connection

import (
	"errors"
	"testing"

	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/wire"
	"github.com/danmuck/wlproto/internal/socket"
	"github.com/danmuck/wlproto/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	surfaceSet     uint16 = 0
	surfaceDestroy uint16 = 1
	surfaceAttach  uint16 = 2

	surfacePing uint16 = 0
)

var testSurface = &wire.Interface{
	Name:    "test_surface",
	Version: 1,
	Requests: []wire.MessageDesc{
		{Name: "set", Args: wire.Signature{{Name: "value", Type: wire.ArgUint}}},
		{Name: "destroy", Destructor: true},
		{Name: "attach", Args: wire.Signature{{Name: "fd", Type: wire.ArgFD}}},
	},
	Events: []wire.MessageDesc{
		{Name: "ping", Args: wire.Signature{{Name: "serial", Type: wire.ArgUint}}},
	},
}

const (
	factoryChild uint16 = 0
	childGone    uint16 = 0
)

var testChild = &wire.Interface{
	Name:    "test_child",
	Version: 1,
	Events: []wire.MessageDesc{
		{Name: "gone", Destructor: true},
	},
}

// testFactory is a global whose objects the server creates.
var testFactory = &wire.Interface{
	Name:    "test_factory",
	Version: 1,
	Events: []wire.MessageDesc{
		{Name: "child", Args: wire.Signature{{Name: "id", Type: wire.ArgNewID, Interface: testChild}}},
	},
}

func testConfig(side objmap.Side) Config {
	cfg := DefaultConfig(side)
	cfg.Interfaces[testSurface.Name] = testSurface
	cfg.Interfaces[testFactory.Name] = testFactory
	cfg.Debug = true
	return cfg
}

type recorder struct {
	msgs []wire.Message
	hook func(wire.Message, Meta)
}

func (r *recorder) Receive(msg wire.Message, meta Meta) {
	r.msgs = append(r.msgs, msg)
	if r.hook != nil {
		r.hook(msg, meta)
	}
}

func (r *recorder) serials() []uint32 {
	out := make([]uint32, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, uint32(m.Args[0].(wire.Uint)))
	}
	return out
}

// serverSide implements every object the client creates and answers sync.
type serverSide struct {
	t        *testing.T
	objects  map[uint32]*Proxy
	received []wire.Message
}

func (s *serverSide) Receive(msg wire.Message, meta Meta) {
	s.received = append(s.received, msg)
	for _, nid := range msg.NewIDs() {
		p, err := meta.Conn.Implement(nid.ID, s, nil)
		require.NoError(s.t, err)
		s.objects[nid.ID] = p
	}
	if meta.Interface == protocol.DisplayInterface && msg.Opcode == protocol.DisplaySync {
		cb := s.objects[msg.NewIDs()[0].ID]
		_, err := cb.Send(protocol.CallbackEventDone, wire.Uint(0))
		require.NoError(s.t, err)
	}
}

type fixture struct {
	t      *testing.T
	client *Connection
	server *Connection
	srv    *serverSide
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a, b, err := socket.Socketpair()
	require.NoError(t, err)
	f := &fixture{
		t:      t,
		client: New(socket.NewBuffered(a), testConfig(objmap.Client)),
		server: New(socket.NewBuffered(b), testConfig(objmap.Server)),
		srv:    &serverSide{t: t, objects: map[uint32]*Proxy{}},
	}
	t.Cleanup(func() {
		_ = f.client.Close()
		_ = f.server.Close()
	})
	_, err = f.server.Implement(protocol.DisplayID, f.srv, nil)
	require.NoError(t, err)
	return f
}

func pump(t *testing.T, from, to *Connection) {
	t.Helper()
	require.NoError(t, from.Flush())
	for {
		_, err := to.ReadEvents()
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		require.NoError(t, err)
	}
}

// serve delivers client requests, lets the server handle them and delivers
// the replies back.
func (f *fixture) serve() {
	f.t.Helper()
	pump(f.t, f.client, f.server)
	_, err := f.server.DefaultQueue().DispatchPending()
	require.NoError(f.t, err)
	pump(f.t, f.server, f.client)
}

func (f *fixture) registry(rec *recorder) *Proxy {
	f.t.Helper()
	reg, err := f.client.Display().SendConstructor(rec, protocol.DisplayGetRegistry, wire.NewID{})
	require.NoError(f.t, err)
	f.serve()
	return reg
}

func (f *fixture) surface(reg *Proxy, rec *recorder) (*Proxy, *Proxy) {
	f.t.Helper()
	surf, err := reg.SendConstructor(rec, protocol.RegistryBind, wire.Uint(1), wire.NewID{Interface: testSurface.Name, Version: 1})
	require.NoError(f.t, err)
	require.Same(f.t, testSurface, surf.Interface())
	f.serve()
	remote := f.srv.objects[surf.ID()]
	require.NotNil(f.t, remote)
	require.Same(f.t, testSurface, remote.Interface())
	return surf, remote
}

func (f *fixture) ping(remote *Proxy, serials ...uint32) {
	f.t.Helper()
	for _, s := range serials {
		_, err := remote.Send(surfacePing, wire.Uint(s))
		require.NoError(f.t, err)
	}
	pump(f.t, f.server, f.client)
}

func TestSyncRoundTrip(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	done := &recorder{}
	cb, err := f.client.Display().SendConstructor(done, protocol.DisplaySync, wire.NewID{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), cb.ID())
	require.Same(t, f.client.DefaultQueue(), cb.Queue())

	f.serve()
	n, err := f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, done.msgs, 1)
	require.False(t, cb.Alive())

	for _, info := range f.client.Objects() {
		require.NotEqual(t, uint32(2), info.ID, "delete_id releases the callback id")
	}
}

func TestLocalIDsAreMonotonic(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	var ids []uint32
	for i := 0; i < 3; i++ {
		p, err := f.client.Display().Send(protocol.DisplaySync, wire.NewID{})
		require.NoError(t, err)
		ids = append(ids, p.ID())
	}
	require.Equal(t, []uint32{2, 3, 4}, ids)
}

func TestPerObjectOrderSurvivesRebind(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	rec := &recorder{}
	surf, remote := f.surface(reg, rec)

	f.ping(remote, 0, 1, 2)
	q2 := f.client.NewQueue()
	require.NoError(t, surf.SetQueue(q2))
	f.ping(remote, 3, 4)

	n, err := f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = q2.DispatchPending()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, rec.serials())
}

func TestRebindInsideBatchIsDeferred(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	q2 := f.client.NewQueue()
	rec := &recorder{}
	rec.hook = func(msg wire.Message, meta Meta) {
		if len(rec.msgs) == 1 {
			require.NoError(t, meta.Proxy.SetQueue(q2))
		}
	}
	surf, remote := f.surface(reg, rec)

	f.ping(remote, 0, 1, 2)
	n, err := f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, 3, n, "the rest of the batch stays on the old queue")
	require.Same(t, q2, surf.Queue())

	f.ping(remote, 3)
	n, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = q2.DispatchPending()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uint32{0, 1, 2, 3}, rec.serials())
}

func TestDetachDropsLaterMessages(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	rec := &recorder{}
	rec.hook = func(msg wire.Message, meta Meta) {
		if len(rec.msgs) == 1 {
			require.NoError(t, meta.Proxy.Detach())
		}
	}
	_, remote := f.surface(reg, rec)

	f.ping(remote, 0, 1)
	_, err := f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, rec.serials())

	f.ping(remote, 2)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, rec.serials())
}

func TestClosedQueueDetachesObjects(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	rec := &recorder{}
	surf, remote := f.surface(reg, rec)
	q2 := f.client.NewQueue()
	require.NoError(t, surf.SetQueue(q2))

	f.ping(remote, 0)
	q2.Close()
	require.Zero(t, q2.Len())
	_, err := q2.DispatchPending()
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, surf.SetQueue(q2), ErrQueueClosed)

	f.ping(remote, 1)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Empty(t, rec.msgs)

	require.NoError(t, surf.SetQueue(nil))
	f.ping(remote, 2)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, rec.serials())
}

func TestDestructorIsFinal(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	rec := &recorder{}
	surf, remote := f.surface(reg, rec)

	// in flight when the client destroys the object
	_, err := remote.Send(surfacePing, wire.Uint(9))
	require.NoError(t, err)

	_, err = surf.Send(surfaceDestroy)
	require.NoError(t, err)
	require.False(t, surf.Alive())
	_, err = surf.Send(surfaceSet, wire.Uint(1))
	require.ErrorIs(t, err, ErrInvalidObject)

	pump(t, f.server, f.client)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Empty(t, rec.msgs, "events for a destroyed object are dropped")

	f.serve()
	last := f.srv.received[len(f.srv.received)-1]
	require.Equal(t, surfaceDestroy, last.Opcode)
	require.False(t, remote.Alive())

	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	for _, info := range f.client.Objects() {
		require.NotEqual(t, surf.ID(), info.ID)
	}
	for _, info := range f.server.Objects() {
		require.NotEqual(t, surf.ID(), info.ID)
	}
}

func TestProtocolErrorSurfaces(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})

	require.NoError(t, f.server.PostError(reg.ID(), protocol.ErrorInvalidMethod, "bad registry"))
	pump(t, f.server, f.client)

	_, err := f.client.DefaultQueue().DispatchPending()
	require.ErrorIs(t, err, ErrProtocol)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, reg.ID(), pe.ObjectID)
	require.Equal(t, protocol.ErrorInvalidMethod, pe.Code)
	require.Equal(t, "wl_registry", pe.Interface)
	require.Equal(t, "bad registry", pe.Message)

	_, err = reg.Send(protocol.RegistryBind, wire.Uint(1), wire.NewID{Interface: "x", Version: 1})
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, f.client.LastError(), ErrProtocol)
}

func TestClientCannotPostErrors(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	require.Error(t, f.client.PostError(1, 0, "nope"))
}

func TestPeerHangupPoisonsConnection(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})

	require.NoError(t, f.server.Close())
	_, err := f.client.ReadEvents()
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.False(t, reg.Alive())
	_, err = reg.Send(protocol.RegistryBind, wire.Uint(1), wire.NewID{Interface: "x", Version: 1})
	require.ErrorIs(t, err, ErrConnectionClosed)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.Equal(t, -1, f.client.FD())
}

func TestErrorBeforeHangupIsKept(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	require.NoError(t, f.server.PostError(protocol.DisplayID, protocol.ErrorImplementation, "bye"))
	require.NoError(t, f.server.Flush())
	require.NoError(t, f.server.Close())

	var err error
	for i := 0; i < 4 && (err == nil || errors.Is(err, ErrWouldBlock)); i++ {
		_, err = f.client.ReadEvents()
	}
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestUnknownSenderIsMalformed(t *testing.T) {
	testlog.Start(t)
	a, b, err := socket.Socketpair()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	conn := New(socket.NewBuffered(b), testConfig(objmap.Client))
	t.Cleanup(func() { _ = conn.Close() })

	frame, _, err := wire.Encode(wire.Message{Sender: 77, Args: []wire.Argument{wire.Uint(1)}}, wire.Signature{{Type: wire.ArgUint}})
	require.NoError(t, err)
	_, err = a.SendMsg(frame, nil)
	require.NoError(t, err)

	_, err = conn.ReadEvents()
	require.ErrorIs(t, err, wire.ErrMalformedMessage)
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, conn.LastError(), wire.ErrMalformedMessage)
}

func TestFDCrossesConnection(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	surf, _ := f.surface(reg, &recorder{})

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})

	_, err := surf.Send(surfaceAttach, wire.FD(p[1]))
	require.NoError(t, err)
	f.serve()

	last := f.srv.received[len(f.srv.received)-1]
	require.Equal(t, surfaceAttach, last.Opcode)
	fd := int(last.Args[0].(wire.FD))
	require.NotEqual(t, p[1], fd)
	_, err = unix.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, unix.Close(fd))

	buf := make([]byte, 1)
	n, err := unix.Read(p[0], buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('x'), buf[0])
}

func TestReentrantDispatchIsRejected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	var inner error
	rec := &recorder{hook: func(_ wire.Message, meta Meta) {
		_, inner = meta.Conn.DefaultQueue().DispatchPending()
	}}
	_, err := f.client.Display().SendConstructor(rec, protocol.DisplaySync, wire.NewID{})
	require.NoError(t, err)
	f.serve()
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrReentrantDispatch)
}

func TestWrapperBindsChildrenToItsQueue(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	q2 := f.client.NewQueue()

	w, err := f.client.Display().MakeWrapper(q2)
	require.NoError(t, err)
	require.True(t, w.Equal(f.client.Display()))

	done := &recorder{}
	cb, err := w.SendConstructor(done, protocol.DisplaySync, wire.NewID{})
	require.NoError(t, err)
	require.Same(t, q2, cb.Queue())

	f.serve()
	n, err := f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = q2.DispatchPending()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, done.msgs, 1)
}

func TestRootObjectStaysOnControlQueue(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	require.ErrorIs(t, f.client.Display().SetQueue(f.client.NewQueue()), ErrRootQueue)
	_, err := f.client.Implement(protocol.DisplayID, &recorder{}, nil)
	require.ErrorIs(t, err, ErrRootQueue)
}

func TestForeignQueueIsRejected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	g := newFixture(t)
	reg := f.registry(&recorder{})
	require.ErrorIs(t, reg.SetQueue(g.client.NewQueue()), ErrForeignQueue)
}

func TestHandlerTypeRecovery(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	rec := &recorder{}
	reg := f.registry(rec)
	got, ok := reg.Handler().(*recorder)
	require.True(t, ok)
	require.Same(t, rec, got)
}

func TestDestructorReachesUndeliverableObject(t *testing.T) {
	cases := map[string]func(f *fixture, remote *Proxy){
		"detached": func(f *fixture, remote *Proxy) {
			require.NoError(f.t, remote.Detach())
		},
		"closed queue": func(f *fixture, remote *Proxy) {
			q := f.server.NewQueue()
			require.NoError(f.t, remote.SetQueue(q))
			q.Close()
		},
	}
	for name, unbind := range cases {
		t.Run(name, func(t *testing.T) {
			testlog.Start(t)
			f := newFixture(t)
			reg := f.registry(&recorder{})
			surf, remote := f.surface(reg, &recorder{})
			unbind(f, remote)

			_, err := surf.Send(surfaceDestroy)
			require.NoError(t, err)
			f.serve()
			require.False(t, remote.Alive())
			for _, info := range f.server.Objects() {
				require.NotEqual(t, surf.ID(), info.ID)
			}

			_, err = f.client.DefaultQueue().DispatchPending()
			require.NoError(t, err)
			for _, info := range f.client.Objects() {
				require.NotEqual(t, surf.ID(), info.ID, "delete_id releases the id")
			}
		})
	}
}

func TestIncomingDestructorKillsAfterHandler(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	surf, remote := f.surface(reg, &recorder{})

	_, err := surf.Send(surfaceDestroy)
	require.NoError(t, err)
	pump(t, f.client, f.server)

	require.True(t, remote.Alive(), "queued but not yet handled")
	_, err = f.server.Implement(surf.ID(), f.srv, nil)
	require.NoError(t, err)

	_, err = f.server.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	require.Equal(t, surfaceDestroy, f.srv.received[len(f.srv.received)-1].Opcode)
	require.False(t, remote.Alive())
}

func TestServerReleasesIDsItDestroys(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	reg := f.registry(&recorder{})
	factory, err := reg.SendConstructor(&recorder{}, protocol.RegistryBind, wire.Uint(2), wire.NewID{Interface: testFactory.Name, Version: 1})
	require.NoError(t, err)
	f.serve()
	remote := f.srv.objects[factory.ID()]
	require.NotNil(t, remote)

	for i := uint32(0); i < 3; i++ {
		child, err := remote.Send(factoryChild, wire.NewID{})
		require.NoError(t, err)
		require.Equal(t, objmap.ServerIDLimit+i, child.ID())
		_, err = child.Send(childGone)
		require.NoError(t, err)
		require.False(t, child.Alive())
	}
	for _, info := range f.server.Objects() {
		require.Less(t, info.ID, objmap.ServerIDLimit, "server id %#x still mapped", info.ID)
	}

	pump(t, f.server, f.client)
	_, err = f.client.DefaultQueue().DispatchPending()
	require.NoError(t, err)
	for _, info := range f.client.Objects() {
		require.Less(t, info.ID, objmap.ServerIDLimit, "server id %#x still mapped", info.ID)
	}
}
