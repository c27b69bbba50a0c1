package dispatch

import (
	"encoding/binary"
	"testing"
)

func TestParseSessionID(t *testing.T) {
	good := make([]byte, 9)
	good[0] = eightByteConnIDFlag
	binary.BigEndian.PutUint64(good[1:], 0xdeadbeefcafef00d)

	id, ok := ParseSessionID(good)
	if !ok || id != 0xdeadbeefcafef00d {
		t.Fatalf("ParseSessionID(good) = (%x, %v), want (deadbeefcafef00d, true)", id, ok)
	}

	noFlag := make([]byte, 9)
	binary.BigEndian.PutUint64(noFlag[1:], 1)
	if _, ok := ParseSessionID(noFlag); ok {
		t.Fatal("ParseSessionID without flag bit should be ok=false")
	}

	if _, ok := ParseSessionID([]byte{1, 2, 3}); ok {
		t.Fatal("ParseSessionID on short datagram should be ok=false")
	}
}
