// Package udpnet implements the UDP endpoint (C1): a single bound
// datagram socket with a fixed pool of pending-send slots and
// write-blocked/writable signalling, per spec §4.1.
package udpnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"puicbridge/internal/assert"
	"puicbridge/internal/flog"
)

const (
	// PoolSize is the fixed number of pending-send slots (N).
	PoolSize = 1024
	// SlotSize is the per-slot packet buffer size in bytes (M).
	SlotSize = 1500
	// MaxPacketSize is PUIC's kMaxPacketSize; payloads at or above this
	// trip a debug assertion.
	MaxPacketSize = 1350

	recvBufSize = 8 << 20
	sendBufSize = 8 << 20
)

var ErrBind = errors.New("udpnet: bind failed")

// ErrBlocked is returned by Send when the pending-send pool is
// exhausted, and afterwards while the endpoint stays latched
// write-blocked. Kernel send errors, including would-block, are only
// logged by the asynchronous sender and never surface as ErrBlocked.
var ErrBlocked = errors.New("udpnet: write blocked")

// Endpoint owns a single bound UDP socket plus its pending-send pool.
type Endpoint struct {
	conn *net.UDPConn

	mu          sync.Mutex
	free        []*sendSlot
	blocked     bool
	wakeCb      func()
	inFlight    int
}

type sendSlot struct {
	buf [SlotSize]byte
}

// Bind creates a datagram socket bound to addr with address reuse and
// 8 MiB socket buffers in both directions. Fails with ErrBind.
func Bind(addr string) (*Endpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrBind, addr, err)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrBind, addr, err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(recvBufSize); err != nil {
		flog.Debugf("udpnet: SetReadBuffer failed on %s: %v", addr, err)
	}
	if err := conn.SetWriteBuffer(sendBufSize); err != nil {
		flog.Debugf("udpnet: SetWriteBuffer failed on %s: %v", addr, err)
	}

	e := &Endpoint{conn: conn}
	e.free = make([]*sendSlot, 0, PoolSize)
	for i := 0; i < PoolSize; i++ {
		e.free = append(e.free, &sendSlot{})
	}
	return e, nil
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// OnWake registers the callback invoked when the endpoint transitions
// from write-blocked back to writable. Invoked only from a
// send-completion context.
func (e *Endpoint) OnWake(cb func()) {
	e.mu.Lock()
	e.wakeCb = cb
	e.mu.Unlock()
}

// RecvLoop continuously delivers (peerAddr, payload) to deliver until ctx
// is done or the socket is closed. Zero/negative-length reads are
// ignored; read errors are logged but never stop the loop.
func (e *Endpoint) RecvLoop(ctx context.Context, deliver func(addr *net.UDPAddr, b []byte)) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			flog.Errorf("udpnet: read error on %s: %v", e.conn.LocalAddr(), err)
			continue
		}
		if n <= 0 {
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		deliver(addr, pkt)
	}
}

// Send attempts a non-blocking send. If the pending-send pool is
// exhausted it returns ErrBlocked and latches write-blocked. Payloads
// must be below MaxPacketSize (checked by a debug assertion only).
func (e *Endpoint) Send(addr *net.UDPAddr, b []byte) error {
	assert.That(len(b) < MaxPacketSize, "udpnet: packet exceeds kMaxPacketSize")

	e.mu.Lock()
	if e.blocked || len(e.free) == 0 {
		e.blocked = true
		e.mu.Unlock()
		return ErrBlocked
	}
	slot := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]
	e.inFlight++
	e.mu.Unlock()

	n := copy(slot.buf[:], b)

	go e.asyncSend(addr, slot, n)
	return nil
}

func (e *Endpoint) asyncSend(addr *net.UDPAddr, slot *sendSlot, n int) {
	_, err := e.conn.WriteToUDP(slot.buf[:n], addr)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		flog.Debugf("udpnet: send to %s failed: %v", addr, err)
	}

	e.mu.Lock()
	e.inFlight--
	wasBlocked := e.blocked
	e.free = append(e.free, slot)
	full := len(e.free) == PoolSize
	if wasBlocked && full {
		e.blocked = false
	}
	cb := e.wakeCb
	e.mu.Unlock()

	if wasBlocked && full && cb != nil {
		cb()
	}
}

// FreeSlots reports the current size of the free pool (for tests).
func (e *Endpoint) FreeSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.free)
}

// InFlight reports the number of sends currently outstanding (for tests).
func (e *Endpoint) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Close shuts down the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
