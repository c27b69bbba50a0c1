package puic

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Listener accepts inbound PUIC sessions (the proxy role, spec §4.1).
type Listener struct {
	ql *quic.Listener
}

// Listen binds a PUIC listener on pconn. The server presents a
// throwaway self-signed certificate; PUIC has no certificate
// validation on either side (Non-goal, spec §6.4).
func Listen(pconn net.PacketConn) (*Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}

	ql, err := quic.Listen(pconn, tlsConf, &quic.Config{
		HandshakeIdleTimeout:           handshakeIdleTimeout,
		MaxIdleTimeout:                 serverIdleTimeout,
		InitialStreamReceiveWindow:     initialStreamWindow,
		MaxStreamReceiveWindow:         maxStreamWindow,
		InitialConnectionReceiveWindow: initialConnWindow,
		MaxConnectionReceiveWindow:     maxConnWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("puic: listen: %w", err)
	}
	return &Listener{ql: ql}, nil
}

// Accept blocks until a new session arrives.
func (l *Listener) Accept(ctx context.Context) (Session, error) {
	qconn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("puic: accept session: %w", err)
	}
	return &session{qconn: qconn}, nil
}

func (l *Listener) Close() error { return l.ql.Close() }

func (l *Listener) Addr() net.Addr { return l.ql.Addr() }
