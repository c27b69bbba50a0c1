package udpnet

import (
	"net"
	"testing"
	"time"
)

func TestPoolAccounting(t *testing.T) {
	ep, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	dst, err := net.ResolveUDPAddr("udp", ep.LocalAddr().String())
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}

	const n = 16
	for i := 0; i < n; i++ {
		if err := ep.Send(dst, []byte("hello")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for ep.FreeSlots()+ep.InFlight() != PoolSize && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := ep.FreeSlots() + ep.InFlight(); got != PoolSize {
		t.Fatalf("free+inflight = %d, want %d", got, PoolSize)
	}
	if ep.FreeSlots() < PoolSize-n {
		t.Fatalf("free slots %d should not drop below %d while %d in flight", ep.FreeSlots(), PoolSize-n, n)
	}
}

func TestSendBlockedWhenPoolExhausted(t *testing.T) {
	ep, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	ep.mu.Lock()
	ep.free = ep.free[:0]
	ep.mu.Unlock()

	dst, _ := net.ResolveUDPAddr("udp", ep.LocalAddr().String())
	if err := ep.Send(dst, []byte("x")); err != ErrBlocked {
		t.Fatalf("Send with empty pool = %v, want ErrBlocked", err)
	}
}

func TestWakeCallbackFiresOnceWritable(t *testing.T) {
	ep, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	woke := make(chan struct{}, 1)
	ep.OnWake(func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})

	ep.mu.Lock()
	full := ep.free
	ep.free = ep.free[:0]
	ep.blocked = true
	ep.mu.Unlock()

	// Simulate one in-flight send completing and refilling the pool.
	ep.mu.Lock()
	e := ep
	e.free = full
	wasBlocked := e.blocked
	fullNow := len(e.free) == PoolSize
	if wasBlocked && fullNow {
		e.blocked = false
	}
	cb := e.wakeCb
	ep.mu.Unlock()
	if wasBlocked && fullNow && cb != nil {
		cb()
	}

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("wake callback was not invoked")
	}
}
