package bridge

import "testing"

func TestDecideThresholds(t *testing.T) {
	cases := []struct {
		buffered uint64
		want     ReadAction
	}{
		{0, ReadStart},
		{LowWater, ReadStart},
		{LowWater + 1, ReadNoChange},
		{HighWater - 1, ReadNoChange},
		{HighWater, ReadStop},
		{HighWater * 2, ReadStop},
	}
	for _, c := range cases {
		if got := Decide(c.buffered); got != c.want {
			t.Errorf("Decide(%d) = %v, want %v", c.buffered, got, c.want)
		}
	}
}

func TestDecideNoOscillationInBand(t *testing.T) {
	// Values strictly between LowWater and HighWater must never
	// themselves trigger a state change; callers rely on this to
	// avoid flapping StartRead/StopRead every few bytes.
	for b := LowWater + 1; b < HighWater; b += 512 {
		if got := Decide(b); got != ReadNoChange {
			t.Fatalf("Decide(%d) = %v, want ReadNoChange", b, got)
		}
	}
}
