// Package bridge implements the bridging job (C5): the per-connection
// state machine that pumps bytes TCP->PUIC and PUIC->TCP, enforcing
// the at-most-one-write-in-flight and flow-control hysteresis
// invariants (spec §4.5, I1, I2).
package bridge

// ReadAction is the decision a backpressure check makes about the TCP
// read side, keyed off how many bytes are buffered waiting to be
// flushed to the PUIC stream.
type ReadAction int

const (
	// ReadNoChange leaves the TCP read side as it is.
	ReadNoChange ReadAction = iota
	// ReadStop pauses TCP reads (buffered has crossed HighWater).
	ReadStop
	// ReadStart resumes TCP reads (buffered has drained to LowWater
	// or below).
	ReadStart
)

// HighWater and LowWater are the PUIC write-buffer hysteresis
// thresholds, grounded on puic_agent.cc's PUICCONN_WRITEBUF_UPPER /
// PUICCONN_WRITEBUF_LOWER (spec §4.5 "8KiB / 4KiB").
const (
	HighWater uint64 = 8 << 10
	LowWater  uint64 = 4 << 10
)

// Decide is the pure hysteresis function behind may_tcp_to_puic: once
// buffered crosses HighWater, reads stop; they only resume once
// buffered has drained to LowWater or below, never immediately upon
// dropping below HighWater. This is I2.
func Decide(buffered uint64) ReadAction {
	switch {
	case buffered >= HighWater:
		return ReadStop
	case buffered <= LowWater:
		return ReadStart
	default:
		return ReadNoChange
	}
}
