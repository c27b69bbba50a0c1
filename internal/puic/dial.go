package puic

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// Dial opens a PUIC session to addr over pconn (the agent role's
// outbound leg, spec §4.1). Grounded on Dragon-Born-paqet's
// internal/tnet/quic.Dial, which calls quic.Dial directly against a
// raw PacketConn rather than letting quic-go own the socket.
func Dial(ctx context.Context, pconn net.PacketConn, addr net.Addr) (Session, error) {
	qconn, err := quic.Dial(ctx, pconn, addr, clientTLSConfig(), &quic.Config{
		HandshakeIdleTimeout:           handshakeIdleTimeout,
		MaxIdleTimeout:                 clientMaxIdleTimeout,
		InitialStreamReceiveWindow:     initialStreamWindow,
		MaxStreamReceiveWindow:         maxStreamWindow,
		InitialConnectionReceiveWindow: initialConnWindow,
		MaxConnectionReceiveWindow:     maxConnWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("puic: dial %s: %w", addr, err)
	}
	return &session{qconn: qconn, pconn: pconn}, nil
}

type session struct {
	qconn *quic.Conn
	pconn net.PacketConn

	udMu     sync.Mutex
	udSlab   Slab
	udHandle Handle
	udSet    bool
}

func (s *session) OpenStream(ctx context.Context) (Stream, error) {
	st, err := s.qconn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("puic: open stream: %w", err)
	}
	return newStream(st), nil
}

func (s *session) AcceptStream(ctx context.Context) (Stream, error) {
	st, err := s.qconn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("puic: accept stream: %w", err)
	}
	return newStream(st), nil
}

func (s *session) LocalAddr() net.Addr  { return s.qconn.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.qconn.RemoteAddr() }

// SetUserData associates v with this session, replacing any value set
// by a previous call. See Clear for the stale-handle guarantee.
func (s *session) SetUserData(v any) {
	s.udMu.Lock()
	defer s.udMu.Unlock()
	if s.udSet {
		s.udSlab.Free(s.udHandle)
	}
	s.udHandle = s.udSlab.Alloc(v)
	s.udSet = true
}

// UserData returns the value set by SetUserData, or ok=false if none
// is set or it was already Clear'd.
func (s *session) UserData() (any, bool) {
	s.udMu.Lock()
	h, set := s.udHandle, s.udSet
	s.udMu.Unlock()
	if !set {
		return nil, false
	}
	return s.udSlab.Get(h)
}

// Clear invalidates the current user data handle. A goroutine that
// captured the handle before Clear ran (e.g. a stream-reject loop
// racing the owning job's teardown) observes ok=false on its next
// UserData call rather than a dangling reference.
func (s *session) Clear() {
	s.udMu.Lock()
	defer s.udMu.Unlock()
	if s.udSet {
		s.udSlab.Free(s.udHandle)
		s.udSet = false
	}
}

func (s *session) Close() error {
	s.Clear()
	err := s.qconn.CloseWithError(0, "close")
	if s.pconn != nil {
		s.pconn.Close()
	}
	return err
}
