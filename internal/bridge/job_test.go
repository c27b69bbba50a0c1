package bridge

import (
	"net"
	"sync"
	"testing"
	"time"

	"puicbridge/internal/tcpnet"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      [][]byte
	buffered  uint64
	ring      []byte
	atEOF     bool
	readable  func()
	closeWrit bool
	closed    bool
}

func (s *fakeStream) Submit(b []byte, onSent func(int), onErr func(error)) {
	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), b...))
	s.mu.Unlock()
	if onSent != nil {
		onSent(len(b))
	}
}

func (s *fakeStream) SetReadable(cb func()) {
	s.mu.Lock()
	s.readable = cb
	s.mu.Unlock()
}

func (s *fakeStream) ReadableRegions() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring
}

func (s *fakeStream) MarkConsumed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.ring) {
		s.ring = nil
		return
	}
	s.ring = s.ring[n:]
}

func (s *fakeStream) AtEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atEOF && len(s.ring) == 0
}

func (s *fakeStream) Buffered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *fakeStream) CloseWrite() error {
	s.mu.Lock()
	s.closeWrit = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) push(b []byte) {
	s.mu.Lock()
	s.ring = append(s.ring, b...)
	cb := s.readable
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func tcpPipe(t *testing.T) (client, server *net.TCPConn) {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var srv *net.TCPConn
	go func() {
		defer wg.Done()
		srv, _ = ln.AcceptTCP()
	}()
	cli, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	wg.Wait()
	return cli, srv
}

func TestJobForwardsTCPToPUIC(t *testing.T) {
	cliConn, srvConn := tcpPipe(t)
	defer srvConn.Close()

	j := NewJob(1, nil)
	stream := &fakeStream{}
	j.AttachPUIC(stream)

	ep, _, err := tcpnet.Accept(srvConn, j.TCPCallbacks())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	j.AttachTCP(ep)
	j.Start()

	cli, _, err := tcpnet.Accept(cliConn, tcpnet.Callbacks{})
	if err != nil {
		t.Fatalf("Accept client: %v", err)
	}
	defer cli.Close()

	if err := cli.Write(net.Buffers{[]byte("payload")}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stream.mu.Lock()
		n := len(stream.sent)
		stream.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.sent) != 1 || string(stream.sent[0]) != "payload" {
		t.Fatalf("stream.sent = %v, want [\"payload\"]", stream.sent)
	}
}

func TestJobForwardsPUICToTCP(t *testing.T) {
	cliConn, srvConn := tcpPipe(t)
	defer cliConn.Close()

	j := NewJob(2, nil)
	stream := &fakeStream{}
	j.AttachPUIC(stream)

	ep, _, err := tcpnet.Accept(srvConn, j.TCPCallbacks())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	j.AttachTCP(ep)
	j.Start()

	got := make(chan []byte, 1)
	cli, _, err := tcpnet.Accept(cliConn, tcpnet.Callbacks{
		OnRcvd: func(b []byte) { got <- b },
	})
	if err != nil {
		t.Fatalf("Accept client: %v", err)
	}
	defer cli.Close()
	cli.StartRead()

	stream.push([]byte("from-puic"))

	select {
	case b := <-got:
		if string(b) != "from-puic" {
			t.Fatalf("received %q, want %q", b, "from-puic")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded data")
	}
}

func TestJobCleanupIsIdempotent(t *testing.T) {
	cliConn, srvConn := tcpPipe(t)
	defer cliConn.Close()

	var closedCount int
	j := NewJob(3, func(*Job) { closedCount++ })
	stream := &fakeStream{}
	j.AttachPUIC(stream)

	ep, _, err := tcpnet.Accept(srvConn, j.TCPCallbacks())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	j.AttachTCP(ep)
	j.Start()

	j.Close()
	j.Close()

	if closedCount != 1 {
		t.Fatalf("onClosed called %d times, want 1", closedCount)
	}
	if j.State() != StateDead {
		t.Fatalf("state = %v, want StateDead", j.State())
	}
}
