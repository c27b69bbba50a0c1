// Package dispatch implements the PUIC transport adapter (C2): routing
// inbound UDP datagrams to sessions by id, and per-session packet
// writers whose blocked/unblocked state is tracked in insertion order
// so a UDP-writable signal is fanned out fairly (spec §4.2).
package dispatch

import (
	"net"
	"sync"

	"puicbridge/internal/udpnet"
)

// Session is anything that can receive a raw datagram payload once its
// session id has been resolved.
type Session interface {
	Deliver(addr *net.UDPAddr, b []byte)
}

// Registry resolves a session id to a Session. Implemented by
// internal/session.Manager.
type Registry interface {
	Lookup(id uint64) (Session, bool)
}

// Demux reads from a single udpnet.Endpoint and routes datagrams to
// registered sessions by the session id parsed from the wire (§6.1).
type Demux struct {
	ep       *udpnet.Endpoint
	registry Registry

	// onUnknown is invoked, with the parsed session id, for a datagram
	// whose session id has no registry entry. The agent-dialer role
	// leaves this nil (drop); the proxy-listener role sets it to mint
	// a new session for that id from the triggering datagram.
	onUnknown func(id uint64, addr *net.UDPAddr, b []byte)

	mu           sync.Mutex
	writers      map[uint64]*PerSessionWriter
	blockedOrder []uint64
	blockedIdx   map[uint64]int
}

// NewDemux creates a demultiplexer over ep, resolving session ids
// through registry. onUnknown may be nil.
func NewDemux(ep *udpnet.Endpoint, registry Registry, onUnknown func(id uint64, addr *net.UDPAddr, b []byte)) *Demux {
	d := &Demux{
		ep:         ep,
		registry:   registry,
		onUnknown:  onUnknown,
		writers:    make(map[uint64]*PerSessionWriter),
		blockedIdx: make(map[uint64]int),
	}
	ep.OnWake(d.unblockNext)
	return d
}

// Dispatch routes one inbound datagram (spec §4.2, steps 1-4).
func (d *Demux) Dispatch(addr *net.UDPAddr, b []byte) {
	id, ok := ParseSessionID(b)
	if !ok {
		return
	}

	if sess, found := d.registry.Lookup(id); found {
		sess.Deliver(addr, b)
		return
	}

	if d.onUnknown != nil {
		d.onUnknown(id, addr, b)
	}
	// agent-dialer role (onUnknown == nil): silently dropped.
}

// WriterFor returns (creating if needed) the per-session writer used to
// send datagrams to addr for session id.
func (d *Demux) WriterFor(id uint64, addr *net.UDPAddr) *PerSessionWriter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.writers[id]; ok {
		return w
	}
	w := &PerSessionWriter{id: id, addr: addr, ep: d.ep, demux: d}
	d.writers[id] = w
	return w
}

// Forget removes the per-session writer for id, e.g. on session close.
func (d *Demux) Forget(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.writers, id)
	d.removeBlockedLocked(id)
}

func (d *Demux) markBlocked(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blockedIdx[id]; ok {
		return
	}
	d.blockedIdx[id] = len(d.blockedOrder)
	d.blockedOrder = append(d.blockedOrder, id)
}

func (d *Demux) removeBlockedLocked(id uint64) {
	idx, ok := d.blockedIdx[id]
	if !ok {
		return
	}
	delete(d.blockedIdx, id)
	d.blockedOrder = append(d.blockedOrder[:idx], d.blockedOrder[idx+1:]...)
	for i := idx; i < len(d.blockedOrder); i++ {
		d.blockedIdx[d.blockedOrder[i]] = i
	}
}

// unblockNext is the UDP endpoint's wake callback: it notifies every
// blocked session, oldest first, until either the blocked set empties
// or the UDP endpoint reports blocked again.
func (d *Demux) unblockNext() {
	for {
		d.mu.Lock()
		if len(d.blockedOrder) == 0 {
			d.mu.Unlock()
			return
		}
		id := d.blockedOrder[0]
		w := d.writers[id]
		d.removeBlockedLocked(id)
		d.mu.Unlock()

		if w == nil {
			continue
		}
		if !w.notifyUnblocked() {
			// UDP became blocked again handling this session; stop.
			return
		}
	}
}

// PerSessionWriter wraps the shared udpnet.Endpoint so write-blocked
// state is tracked per session (spec §4.2).
type PerSessionWriter struct {
	id    uint64
	addr  *net.UDPAddr
	ep    *udpnet.Endpoint
	demux *Demux

	mu      sync.Mutex
	blocked bool
	onReady func()
}

// OnReady registers the callback invoked once this session is no
// longer write-blocked.
func (w *PerSessionWriter) OnReady(cb func()) {
	w.mu.Lock()
	w.onReady = cb
	w.mu.Unlock()
}

// Send writes b to the session's peer address. Returns udpnet.ErrBlocked
// if the session is (or becomes) write-blocked.
func (w *PerSessionWriter) Send(b []byte) error {
	w.mu.Lock()
	if w.blocked {
		w.mu.Unlock()
		return udpnet.ErrBlocked
	}
	w.mu.Unlock()

	err := w.ep.Send(w.addr, b)
	if err != nil {
		w.mu.Lock()
		w.blocked = true
		w.mu.Unlock()
		w.demux.markBlocked(w.id)
	}
	return err
}

// Blocked reports whether this session is currently write-blocked.
func (w *PerSessionWriter) Blocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked
}

// notifyUnblocked clears the blocked latch and invokes onReady. It
// returns false if the underlying UDP endpoint is itself blocked again
// (signalled by onReady re-triggering a Send that fails), so the caller
// (unblockNext) knows to stop walking the queue.
func (w *PerSessionWriter) notifyUnblocked() bool {
	w.mu.Lock()
	w.blocked = false
	cb := w.onReady
	w.mu.Unlock()

	if cb == nil {
		return true
	}
	cb()

	w.mu.Lock()
	stillOk := !w.blocked
	w.mu.Unlock()
	return stillOk
}
