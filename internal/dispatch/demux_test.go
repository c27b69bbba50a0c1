package dispatch

import (
	"net"
	"testing"

	"puicbridge/internal/udpnet"
)

type fakeRegistry struct {
	sessions map[uint64]Session
}

func (r *fakeRegistry) Lookup(id uint64) (Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

type recordingSession struct {
	got [][]byte
}

func (s *recordingSession) Deliver(addr *net.UDPAddr, b []byte) {
	s.got = append(s.got, append([]byte(nil), b...))
}

func TestDispatchUnknownSessionGoesToOnUnknown(t *testing.T) {
	ep, err := udpnet.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	reg := &fakeRegistry{sessions: map[uint64]Session{}}
	var unknownCalls int
	d := NewDemux(ep, reg, func(id uint64, addr *net.UDPAddr, b []byte) { unknownCalls++ })

	datagram := make([]byte, 9)
	datagram[0] = eightByteConnIDFlag
	d.Dispatch(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}, datagram)

	if unknownCalls != 1 {
		t.Fatalf("unknownCalls = %d, want 1", unknownCalls)
	}
}

func TestDispatchKnownSessionRoutesExactlyOnce(t *testing.T) {
	ep, err := udpnet.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	sess := &recordingSession{}
	reg := &fakeRegistry{sessions: map[uint64]Session{42: sess}}
	d := NewDemux(ep, reg, nil)

	datagram := make([]byte, 9)
	datagram[0] = eightByteConnIDFlag
	datagram[8] = 42

	d.Dispatch(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}, datagram)

	if len(sess.got) != 1 {
		t.Fatalf("session received %d datagrams, want 1", len(sess.got))
	}
}

func TestUnblockOrderIsFIFO(t *testing.T) {
	ep, err := udpnet.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	reg := &fakeRegistry{sessions: map[uint64]Session{}}
	d := NewDemux(ep, reg, nil)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	w1 := d.WriterFor(1, addr)
	w2 := d.WriterFor(2, addr)
	w3 := d.WriterFor(3, addr)

	var order []uint64
	w1.mu.Lock()
	w1.blocked = true
	w1.mu.Unlock()
	d.markBlocked(1)
	w1.OnReady(func() { order = append(order, 1) })

	w2.mu.Lock()
	w2.blocked = true
	w2.mu.Unlock()
	d.markBlocked(2)
	w2.OnReady(func() { order = append(order, 2) })

	w3.mu.Lock()
	w3.blocked = true
	w3.mu.Unlock()
	d.markBlocked(3)
	w3.OnReady(func() { order = append(order, 3) })

	d.unblockNext()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unblock order = %v, want [1 2 3]", order)
	}
}
