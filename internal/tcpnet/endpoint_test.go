package tcpnet

import (
	"net"
	"sync"
	"testing"
	"time"
)

func pipe(t *testing.T) (client, server *net.TCPConn) {
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

func TestRoundTrip(t *testing.T) {
	cliConn, srvConn := pipe(t)

	got := make(chan []byte, 1)
	srv, _, err := Accept(srvConn, Callbacks{
		OnRcvd: func(b []byte) { got <- b },
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer srv.Close()
	srv.StartRead()

	cli, _, err := Accept(cliConn, Callbacks{})
	if err != nil {
		t.Fatalf("Accept client: %v", err)
	}
	defer cli.Close()

	sent := make(chan int, 1)
	if err := cli.Write(net.Buffers{[]byte("hello, world!")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cli.cb.OnSent = func(n int) { sent <- n }

	select {
	case b := <-got:
		if string(b) != "hello, world!" {
			t.Fatalf("received %q, want %q", b, "hello, world!")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestWriteInFlightRejectsSecondWrite(t *testing.T) {
	cliConn, srvConn := pipe(t)
	defer srvConn.Close()

	cli, _, err := Accept(cliConn, Callbacks{})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer cli.Close()

	cli.mu.Lock()
	cli.writing = true
	cli.mu.Unlock()

	if err := cli.Write(net.Buffers{[]byte("x")}); err != ErrWriteInFlight {
		t.Fatalf("Write while in flight = %v, want ErrWriteInFlight", err)
	}
}

func TestHalfClose(t *testing.T) {
	cliConn, srvConn := pipe(t)

	eofCh := make(chan struct{}, 1)
	srv, _, err := Accept(srvConn, Callbacks{
		OnEOF: func() { eofCh <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer srv.Close()
	srv.StartRead()

	cli, _, err := Accept(cliConn, Callbacks{})
	if err != nil {
		t.Fatalf("Accept client: %v", err)
	}
	defer cli.Close()

	cli.Shutdown()

	select {
	case <-eofCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EOF")
	}
}
