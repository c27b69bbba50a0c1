package dispatch

import (
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// VirtualConn presents one PUIC session's datagrams as a net.PacketConn
// so internal/puic can hand it straight to quic-go's Dial/Listen, while
// the physical UDP socket (internal/udpnet) and the 9-byte session
// header (internal/dispatch/wire.go) stay shared across every session
// multiplexed on that socket. This is what makes C1 (UDP pool) and C2
// (session demux) do real work underneath C7 rather than duplicating
// logic quic-go already has for a 1:1 socket.
type VirtualConn struct {
	id     uint64
	peer   *net.UDPAddr
	local  net.Addr
	writer *PerSessionWriter
	demux  *Demux

	recvCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewVirtualConn creates a virtual PacketConn for session id, backed
// by d's physical socket. The caller is responsible for registering
// the returned VirtualConn (as a Session) with the Registry that d was
// built with, so Dispatch can route inbound datagrams to it.
func (d *Demux) NewVirtualConn(id uint64, peer *net.UDPAddr) *VirtualConn {
	return &VirtualConn{
		id:     id,
		peer:   peer,
		local:  d.ep.LocalAddr(),
		writer: d.WriterFor(id, peer),
		demux:  d,
		recvCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Deliver satisfies the Session interface: it strips the 9-byte PUIC
// session header and hands the raw payload to whatever is reading
// from this virtual conn (quic-go's packet handler goroutine).
func (vc *VirtualConn) Deliver(_ *net.UDPAddr, b []byte) {
	if len(b) <= sessionHeaderLen {
		return
	}
	payload := append([]byte(nil), b[sessionHeaderLen:]...)
	select {
	case vc.recvCh <- payload:
	case <-vc.closed:
	default:
		// Receive buffer full: drop, same as a real UDP socket would
		// under backpressure.
	}
}

func (vc *VirtualConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case b := <-vc.recvCh:
		n := copy(p, b)
		return n, vc.peer, nil
	case <-vc.closed:
		return 0, nil, net.ErrClosed
	}
}

func (vc *VirtualConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	datagram := make([]byte, sessionHeaderLen+len(p))
	datagram[0] = eightByteConnIDFlag
	binary.BigEndian.PutUint64(datagram[1:sessionHeaderLen], vc.id)
	copy(datagram[sessionHeaderLen:], p)

	if err := vc.writer.Send(datagram); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close unregisters the session's writer and wakes any blocked reader.
func (vc *VirtualConn) Close() error {
	vc.closeOnce.Do(func() {
		close(vc.closed)
		vc.demux.Forget(vc.id)
	})
	return nil
}

func (vc *VirtualConn) LocalAddr() net.Addr              { return vc.local }
func (vc *VirtualConn) SetDeadline(time.Time) error      { return nil }
func (vc *VirtualConn) SetReadDeadline(time.Time) error  { return nil }
func (vc *VirtualConn) SetWriteDeadline(time.Time) error { return nil }
