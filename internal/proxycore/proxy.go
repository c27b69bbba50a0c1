// Package proxycore is the proxy role's composition root (spec §4.1,
// the proxy side): it accepts inbound PUIC sessions and bridges each
// one's preset stream to a freshly dialed TCP connection at Forward,
// optionally prefixed with a PROXY protocol v1 header (spec §6.2).
package proxycore

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"puicbridge/internal/bridge"
	"puicbridge/internal/dispatch"
	"puicbridge/internal/flog"
	"puicbridge/internal/proxyproto"
	"puicbridge/internal/puic"
	"puicbridge/internal/session"
	"puicbridge/internal/tcpnet"
	"puicbridge/internal/udpnet"
)

// Config is the proxy's resolved flag set.
type Config struct {
	Listen       []string
	Forward      string
	ProxyProtoV1 bool
}

// Proxy accepts inbound PUIC sessions on every Listen address and
// bridges each to a TCP connection dialed at Forward.
type Proxy struct {
	cfg Config
	mgr *session.Manager

	mu        sync.Mutex
	listeners []*listenerSet
}

type listenerSet struct {
	udp   *udpnet.Endpoint
	demux *dispatch.Demux
}

// New constructs a proxy; listeners are bound in Run.
func New(cfg Config) *Proxy {
	return &Proxy{cfg: cfg, mgr: session.NewManager()}
}

// Run binds every listen address and blocks until ctx is cancelled.
func (p *Proxy) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, addr := range p.cfg.Listen {
		udp, err := udpnet.Bind(addr)
		if err != nil {
			p.shutdown()
			return fmt.Errorf("proxycore: bind %s: %w", addr, err)
		}

		ls := &listenerSet{udp: udp}
		ls.demux = dispatch.NewDemux(udp, p.mgr, func(id uint64, peer *net.UDPAddr, b []byte) {
			p.onNewSession(ctx, ls, id, peer, b)
		})

		p.mu.Lock()
		p.listeners = append(p.listeners, ls)
		p.mu.Unlock()

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			flog.Infof("proxy listening on %s", addr)
			udp.RecvLoop(ctx, ls.demux.Dispatch)
		}(addr)
	}

	<-ctx.Done()
	p.shutdown()
	wg.Wait()
	flog.Infof("proxy shutdown complete")
	return nil
}

func (p *Proxy) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ls := range p.listeners {
		ls.udp.Close()
	}
	p.mgr.Close()
}

// onNewSession mirrors OnAgentConnAccept: a brand-new session id
// appeared for the first time, so a PUIC listener is stood up over a
// virtual conn scoped to that single session to complete its
// handshake, and the resulting stream is bridged to a dialed TCP
// connection.
func (p *Proxy) onNewSession(ctx context.Context, ls *listenerSet, id uint64, peer *net.UDPAddr, first []byte) {
	vc := ls.demux.NewVirtualConn(id, peer)

	job := bridge.NewJob(id, func(j *bridge.Job) { p.mgr.Forget(j.ID) })
	p.mgr.Register(id, vc, job)
	job.Src = peer

	// Deliver the triggering datagram so the handshake packet that
	// announced this session is not lost.
	vc.Deliver(peer, first)

	go func() {
		ln, err := puic.Listen(vc)
		if err != nil {
			flog.Errorf("proxy: listen job=%d: %v", id, err)
			job.Close()
			return
		}

		sess, err := ln.Accept(ctx)
		if err != nil {
			flog.Errorf("proxy: accept session job=%d: %v", id, err)
			job.Close()
			return
		}
		job.AttachSession(sess)

		stream, err := sess.AcceptStream(ctx)
		if err != nil {
			flog.Errorf("proxy: accept stream job=%d: %v", id, err)
			job.Close()
			return
		}
		job.AttachPUIC(stream)

		go rejectExtraStreams(ctx, sess)

		tcp, err := p.dialForward(peer, ls.udp.LocalAddr(), job.TCPCallbacks())
		if err != nil {
			flog.Errorf("proxy: dial forward job=%d: %v", id, err)
			job.Close()
			return
		}
		job.AttachTCP(tcp)
		job.Dst = ls.udp.LocalAddr()
		job.Start()

		flog.Infof("proxy new, client=%s, local=%s", peer, ls.udp.LocalAddr())
	}()
}

// rejectExtraStreams mirrors spec §6.4: exactly one stream per
// session is meaningful; any further incoming stream is cancelled.
// Before acting on each extra stream it checks the session's user
// data (set to the owning job by bridge.Job.AttachSession): once the
// job clears it during teardown, this loop stops touching a session
// whose job no longer exists instead of racing job.clean().
func rejectExtraStreams(ctx context.Context, sess puic.Session) {
	for {
		extra, err := sess.AcceptStream(ctx)
		if err != nil {
			return
		}
		if _, ok := sess.UserData(); !ok {
			extra.Close()
			return
		}
		extra.Close()
	}
}

// dialForward opens the outbound TCP connection and, if enabled,
// writes the PROXY protocol v1 header ahead of any bridged bytes.
// src/localListen are the session's PUIC peer address and the
// proxy's own listen address; per spec §6.2 the header's dst fields
// are the proxy's listening address, not the forward target.
//
// The header is written on the raw connection before it is handed to
// tcpnet.Accept, so the job's OnSent callback — which treats every
// completed write as a PUIC->TCP forward and calls stream.MarkConsumed
// — never sees it.
func (p *Proxy) dialForward(src *net.UDPAddr, localListen net.Addr, cb tcpnet.Callbacks) (*tcpnet.Endpoint, error) {
	raddr, err := net.ResolveTCPAddr("tcp", p.cfg.Forward)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", p.cfg.Forward, err)
	}
	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.cfg.Forward, err)
	}

	if p.cfg.ProxyProtoV1 {
		if srcAP, ok1 := addrPortFromUDP(src); ok1 {
			if dstAP, ok2 := addrPortFromNet(localListen); ok2 {
				if err := proxyproto.WriteHeader(conn, srcAP, dstAP); err != nil {
					conn.Close()
					return nil, fmt.Errorf("write proxyproto header: %w", err)
				}
			}
		}
	}

	tcp, _, err := tcpnet.Accept(conn, cb)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tcp, nil
}

func addrPortFromUDP(a *net.UDPAddr) (netip.AddrPort, bool) {
	ip, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(a.Port)), true
}

func addrPortFromNet(a net.Addr) (netip.AddrPort, bool) {
	udp, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return addrPortFromUDP(udp)
}
