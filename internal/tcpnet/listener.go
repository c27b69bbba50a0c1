package tcpnet

import (
	"fmt"
	"net"
)

// Listener wraps a *net.TCPListener for the agent role's inbound TCP
// accept loop (spec §4.3 "accept(listener)").
type Listener struct {
	ln *net.TCPListener
}

// Listen binds a TCP listener on addr.
func Listen(addr string) (*Listener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: resolve listen addr %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() *net.TCPAddr { return l.ln.Addr().(*net.TCPAddr) }

// AcceptLoop accepts connections until the listener is closed, handing
// each raw connection to onAccept. Accept errors are terminal (the
// listener is assumed closed) and stop the loop.
func (l *Listener) AcceptLoop(onAccept func(conn *net.TCPConn)) error {
	for {
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			return err
		}
		onAccept(conn)
	}
}

// Close closes the listener.
func (l *Listener) Close() error { return l.ln.Close() }
