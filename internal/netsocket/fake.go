package netsocket

import (
	"errors"
	"sync"
)

// ErrFakeSocketClosed is returned by a fake socket's Recv/RecvFrom once it
// has been closed.
var ErrFakeSocketClosed = errors.New("netsocket: fake socket closed")

// FakeNetwork is a shared, address-keyed mailbox table used to connect
// fake sockets in tests: unordered delivery that is lossless until an
// address's 64-datagram mailbox is full (further datagrams are then
// dropped, like a saturated OS socket buffer), with sends to an
// address that no longer has a bound or connected socket silently
// discarded rather than erroring — this mirrors the real UDP error
// policy (send failures are ignored) and the donor test harness's
// pattern of a weak reference from socket to network table. Go has no
// implicit destructors, so the "weak reference that doesn't keep the
// table alive" becomes an explicit Close-time unregistration instead:
// a closed fake socket removes its own mailbox, and the table itself is
// owned by whoever constructed it, not by any socket.
type FakeNetwork[A comparable] struct {
	mu       sync.Mutex
	mailbox  map[A]chan fakeDatagram[A]
	closedCh chan struct{}
}

type fakeDatagram[A comparable] struct {
	data []byte
	from A
}

// NewFakeNetwork returns an empty fake network.
func NewFakeNetwork[A comparable]() *FakeNetwork[A] {
	return &FakeNetwork[A]{
		mailbox: make(map[A]chan fakeDatagram[A]),
	}
}

func (n *FakeNetwork[A]) register(addr A) chan fakeDatagram[A] {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan fakeDatagram[A], 64)
	n.mailbox[addr] = ch
	return ch
}

func (n *FakeNetwork[A]) unregister(addr A) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.mailbox, addr)
}

func (n *FakeNetwork[A]) deliver(to A, dg fakeDatagram[A]) {
	n.mu.Lock()
	ch, ok := n.mailbox[to]
	n.mu.Unlock()
	if !ok {
		return // destination gone; send failures are ignored
	}
	select {
	case ch <- dg:
	default:
		// Mailbox full: drop, same as a saturated OS socket buffer.
	}
}

// Bind returns a BoundSocket serving local on this network.
func (n *FakeNetwork[A]) Bind(local A) *FakeBoundSocket[A] {
	return &FakeBoundSocket[A]{
		net:   n,
		local: local,
		inbox: n.register(local),
		done:  make(chan struct{}),
	}
}

// Connect returns a ConnectedSocket bound to local and pre-addressed to
// remote on this network.
func (n *FakeNetwork[A]) Connect(local, remote A) *FakeConnectedSocket[A] {
	return &FakeConnectedSocket[A]{
		net:    n,
		local:  local,
		remote: remote,
		inbox:  n.register(local),
		done:   make(chan struct{}),
	}
}

// FakeBoundSocket is an in-memory BoundSocket[A] for tests.
type FakeBoundSocket[A comparable] struct {
	net    *FakeNetwork[A]
	local  A
	inbox  chan fakeDatagram[A]
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func (s *FakeBoundSocket[A]) RecvFrom(buf []byte) (int, A, error) {
	select {
	case dg, ok := <-s.inbox:
		if !ok {
			var zero A
			return 0, zero, ErrFakeSocketClosed
		}
		n := copy(buf, dg.data)
		return n, dg.from, nil
	case <-s.done:
		var zero A
		return 0, zero, ErrFakeSocketClosed
	}
}

func (s *FakeBoundSocket[A]) SendTo(buf []byte, addr A) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.net.deliver(addr, fakeDatagram[A]{data: cp, from: s.local})
	return nil
}

func (s *FakeBoundSocket[A]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.net.unregister(s.local)
	return nil
}

// FakeConnectedSocket is an in-memory ConnectedSocket for tests. It only
// ever delivers datagrams addressed to it from its configured remote
// peer's perspective; like the real socket it carries no sender address.
type FakeConnectedSocket[A comparable] struct {
	net    *FakeNetwork[A]
	local  A
	remote A
	inbox  chan fakeDatagram[A]
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func (s *FakeConnectedSocket[A]) Recv(buf []byte) (int, error) {
	select {
	case dg, ok := <-s.inbox:
		if !ok {
			return 0, ErrFakeSocketClosed
		}
		return copy(buf, dg.data), nil
	case <-s.done:
		return 0, ErrFakeSocketClosed
	}
}

func (s *FakeConnectedSocket[A]) Send(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.net.deliver(s.remote, fakeDatagram[A]{data: cp, from: s.local})
	return nil
}

func (s *FakeConnectedSocket[A]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.net.unregister(s.local)
	return nil
}
