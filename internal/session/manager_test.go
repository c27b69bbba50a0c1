package session

import (
	"net"
	"testing"
	"time"

	"puicbridge/internal/bridge"
	"puicbridge/internal/dispatch"
	"puicbridge/internal/udpnet"
)

func TestRegisterLookupForget(t *testing.T) {
	ep, err := udpnet.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	d := dispatch.NewDemux(ep, nil, nil)
	vc := d.NewVirtualConn(7, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	job := bridge.NewJob(7, nil)

	m := NewManager()
	defer m.Close()

	m.Register(7, vc, job)
	if m.Count() != 1 {
		t.Fatalf("Count = %d, want 1", m.Count())
	}

	sess, ok := m.Lookup(7)
	if !ok || sess != dispatch.Session(vc) {
		t.Fatalf("Lookup(7) = %v, %v, want vc, true", sess, ok)
	}

	m.Forget(7)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session not reaped, Count = %d", m.Count())
}
