// Package proxyproto emits a PROXY protocol v1 header (C4), the single
// line the proxy writes ahead of the bridged TCP stream so the far end
// recovers the original client's source address (spec §4.4, §6.2).
package proxyproto

import (
	"fmt"
	"io"
	"net/netip"
)

// WriteHeader writes the PROXY protocol v1 text header for a connection
// from src to dst, choosing TCP4 or TCP6 by src's address family.
// Grounded on the original TCPConn::SendPPH, which formats exactly:
//
//	"PROXY TCP4 %s %s %d %d\r\n"  (or TCP6)
func WriteHeader(w io.Writer, src, dst netip.AddrPort) error {
	proto := "TCP4"
	if !src.Addr().Is4() {
		proto = "TCP6"
	}
	_, err := fmt.Fprintf(w, "PROXY %s %s %s %d %d\r\n",
		proto, src.Addr().String(), dst.Addr().String(), src.Port(), dst.Port())
	if err != nil {
		return fmt.Errorf("proxyproto: write header: %w", err)
	}
	return nil
}
