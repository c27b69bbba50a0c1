// Package puic is the shim (C7) over github.com/quic-go/quic-go that
// presents the narrow surface the bridge actually needs: a dialed or
// accepted Session carrying exactly one Stream per bridged TCP
// connection, with the async submit/drain and readable-region shape
// the original libuv-based PUIC client library exposed.
//
// Grounded on Dragon-Born-paqet's internal/tnet/quic (Conn/Strm
// wrapping quic-go directly) and internal/conf/quic.go (flow-control
// window defaults), generalized because the retrieved teacher package
// never defined its own Listen side or its tnet.Conn/Strm interfaces.
package puic

import (
	"context"
	"net"
)

// Session is one PUIC connection (one QUIC connection) between an
// agent and a proxy.
type Session interface {
	// OpenStream opens a new bridged stream (agent role: one per
	// accepted TCP connection).
	OpenStream(ctx context.Context) (Stream, error)
	// AcceptStream blocks until the peer opens a new stream (proxy
	// role: one per job to bridge to a real TCP destination).
	AcceptStream(ctx context.Context) (Stream, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// SetUserData, UserData and Clear are the tagged-handle resolution
	// of spec §9's open design note: a slab-backed (internal/puic/slab.go)
	// slot that a goroutine racing a Clear() sees as absent (ok=false)
	// rather than following a stale reference, replacing the original
	// C++ library's null-userdata-pointer trick.
	SetUserData(v any)
	UserData() (v any, ok bool)
	Clear()

	Close() error
}

// Stream is one bridged byte-stream within a Session. Streams carry no
// generation-tagged handle of their own; the slab-backed user data
// (internal/puic/slab.go) lives on Session.
type Stream interface {
	// Submit queues b for async send; onSent fires once the data has
	// been handed to the QUIC stream's write buffer, onErr on failure.
	// At most one Submit may be outstanding at a time (mirrors I1 on
	// the TCP side).
	Submit(b []byte, onSent func(n int), onErr func(error))
	// SetReadable registers the callback invoked whenever new bytes
	// are available via ReadableRegions.
	SetReadable(cb func())
	// ReadableRegions returns the currently buffered, unconsumed
	// bytes. The returned slice is only valid until the next
	// MarkConsumed call.
	ReadableRegions() []byte
	// MarkConsumed releases the first n bytes returned by the most
	// recent ReadableRegions call.
	MarkConsumed(n int)
	// AtEOF reports whether the peer has finished sending on this
	// stream and every buffered byte has already been delivered
	// through ReadableRegions/MarkConsumed.
	AtEOF() bool
	// Buffered reports the number of bytes queued for send but not
	// yet flushed to the wire, used to drive the High/Low water
	// backpressure decision (spec §4.5).
	Buffered() uint64
	// CloseWrite half-closes the stream's send side, forwarding an
	// EOF to the peer while reads remain open (mirrors
	// PUICCLIENT_ConnWrite's eof=true argument).
	CloseWrite() error
	// Close fully tears the stream down.
	Close() error
}
