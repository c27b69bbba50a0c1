// Package tcpnet implements the TCP endpoint (C3): per-connection
// accept/connect, read/write with half-close, socket option setup, and
// an at-most-one-write-in-flight discipline, per spec §4.3.
package tcpnet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	readBufSize     = 16 * 1024
	socketBufSize   = 512 * 1024
	keepAlivePeriod = time.Second
)

// ErrWriteInFlight is returned by Write when a previous write has not
// yet completed (violating I1).
var ErrWriteInFlight = errors.New("tcpnet: write already in flight")

// Callbacks mirrors the event surface of the original libuv-based TCP
// connection: at most one of these fires per event. OnRcvd, OnEOF and
// read errors fire on the endpoint's read goroutine; OnSent and write
// errors fire on its write goroutine, so callbacks from the two groups
// may run concurrently. A shutdown error is reported on the goroutine
// that called Shutdown, and OnBound on the goroutine that called
// Connect.
type Callbacks struct {
	OnRcvd  func(b []byte)
	OnEOF   func()
	OnErr   func(op string, err error)
	OnSent  func(n int)
	OnBound func(local *net.TCPAddr)
}

// Endpoint wraps one net.TCPConn.
type Endpoint struct {
	conn *net.TCPConn
	cb   Callbacks

	readStarted bool
	readEnabled bool
	resumeCh    chan struct{}

	writeCh chan net.Buffers
	writing bool

	mu        sync.Mutex
	readOF    bool
	writeOF   bool
	closeOnce sync.Once
	shutOnce  sync.Once
}

func newEndpoint(conn *net.TCPConn, cb Callbacks) *Endpoint {
	e := &Endpoint{
		conn:     conn,
		cb:       cb,
		resumeCh: make(chan struct{}),
		writeCh:  make(chan net.Buffers, 1),
	}
	go e.writeLoop()
	return e
}

func applySocketOptions(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	if err := conn.SetKeepAlive(true); err != nil {
		return fmt.Errorf("set keepalive: %w", err)
	}
	if err := conn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		return fmt.Errorf("set keepalive period: %w", err)
	}
	if err := conn.SetReadBuffer(socketBufSize); err != nil {
		return fmt.Errorf("set read buffer: %w", err)
	}
	if err := conn.SetWriteBuffer(socketBufSize); err != nil {
		return fmt.Errorf("set write buffer: %w", err)
	}
	return nil
}

// Accept completes acceptance of an already-established connection
// (the agent role: the listener's Accept() has already returned conn).
func Accept(conn *net.TCPConn, cb Callbacks) (*Endpoint, *net.TCPAddr, error) {
	if err := applySocketOptions(conn); err != nil {
		return nil, nil, err
	}
	peer, _ := conn.RemoteAddr().(*net.TCPAddr)
	return newEndpoint(conn, cb), peer, nil
}

// Connect dials addr, blocking the caller until the connection is
// established, applies the same socket options, then raises OnBound
// with the locally bound address before returning (the proxy role,
// spec §4.3).
func Connect(addr string, cb Callbacks) (*Endpoint, error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: resolve %s: %w", addr, err)
	}

	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: connect %s: %w", addr, err)
	}
	if err := applySocketOptions(conn); err != nil {
		conn.Close()
		return nil, err
	}

	e := newEndpoint(conn, cb)
	local, _ := conn.LocalAddr().(*net.TCPAddr)
	if cb.OnBound != nil {
		cb.OnBound(local)
	}
	return e, nil
}

// StartRead begins (or resumes) draining inbound data. Idempotent.
func (e *Endpoint) StartRead() {
	e.mu.Lock()
	if e.readEnabled || e.readOF {
		e.mu.Unlock()
		return
	}
	wasEnabled := e.readEnabled
	e.readEnabled = true
	first := !e.readStarted
	e.readStarted = true
	resume := e.resumeCh
	if !first && !wasEnabled {
		e.resumeCh = make(chan struct{})
	}
	e.mu.Unlock()

	if first {
		go e.readLoop()
		return
	}
	if !wasEnabled {
		close(resume)
	}
}

// StopRead pauses draining inbound data. Idempotent.
func (e *Endpoint) StopRead() {
	e.mu.Lock()
	if !e.readEnabled || e.readOF {
		e.mu.Unlock()
		return
	}
	e.readEnabled = false
	e.mu.Unlock()
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		e.mu.Lock()
		enabled := e.readEnabled
		resume := e.resumeCh
		e.mu.Unlock()
		if !enabled {
			<-resume
			continue
		}

		n, err := e.conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			if e.cb.OnRcvd != nil {
				e.cb.OnRcvd(cp)
			}
			continue
		}
		if err != nil {
			e.mu.Lock()
			e.readEnabled = false
			e.readOF = true
			writeDone := e.writeOF
			e.mu.Unlock()

			if errors.Is(err, io.EOF) {
				if e.cb.OnEOF != nil {
					e.cb.OnEOF()
				}
				if writeDone {
					e.Close()
				}
				return
			}
			if e.cb.OnErr != nil {
				e.cb.OnErr("tcp_read", err)
			}
			return
		}
	}
}

// Write issues the only in-flight write for this endpoint. A second
// call before OnSent/OnErr fires for the first returns
// ErrWriteInFlight.
func (e *Endpoint) Write(bufs net.Buffers) error {
	e.mu.Lock()
	if e.writing {
		e.mu.Unlock()
		return ErrWriteInFlight
	}
	if e.writeOF {
		e.mu.Unlock()
		return nil
	}
	e.writing = true
	e.mu.Unlock()

	e.writeCh <- bufs
	return nil
}

func (e *Endpoint) writeLoop() {
	for bufs := range e.writeCh {
		n, err := bufs.WriteTo(e.conn)

		e.mu.Lock()
		e.writing = false
		e.mu.Unlock()

		if err != nil {
			if e.cb.OnErr != nil {
				e.cb.OnErr("tcp_write", err)
			}
			continue
		}
		if e.cb.OnSent != nil {
			e.cb.OnSent(int(n))
		}
	}
}

// Shutdown half-closes the write side (sends FIN). Idempotent.
func (e *Endpoint) Shutdown() {
	e.shutOnce.Do(func() {
		if err := e.conn.CloseWrite(); err != nil {
			if e.cb.OnErr != nil {
				e.cb.OnErr("tcp_shutdown", err)
			}
			return
		}
		e.mu.Lock()
		e.writeOF = true
		readOF := e.readOF
		e.mu.Unlock()
		if readOF {
			e.Close()
		}
	})
}

// Close releases the underlying socket. Idempotent.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
		close(e.writeCh)
	})
	return err
}

