// Package agentcore is the agent role's composition root: it wires
// C1-C7 together the way Dragon-Born-paqet's internal/client.Client
// wires its own connections and forwards (client.go's New/Start
// pattern), generalized to this spec's TCP-accept/PUIC-dial
// direction (spec §4.1, the agent side).
package agentcore

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"puicbridge/internal/bridge"
	"puicbridge/internal/dispatch"
	"puicbridge/internal/flog"
	"puicbridge/internal/puic"
	"puicbridge/internal/session"
	"puicbridge/internal/tcpnet"
	"puicbridge/internal/udpnet"
)

// Config is the agent's resolved flag set (spec §6.3).
type Config struct {
	Listen   []string
	Outbound string
	Forward  string
}

// Agent accepts local TCP connections and bridges each to its own
// PUIC session dialed at Forward.
type Agent struct {
	cfg Config

	udp   *udpnet.Endpoint
	demux *dispatch.Demux
	mgr   *session.Manager

	nextID atomic.Uint64

	listeners []*tcpnet.Listener
	wg        sync.WaitGroup
}

// New binds the outbound UDP socket and its demultiplexer.
func New(cfg Config) (*Agent, error) {
	udp, err := udpnet.Bind(cfg.Outbound)
	if err != nil {
		return nil, fmt.Errorf("agentcore: bind outbound %s: %w", cfg.Outbound, err)
	}

	a := &Agent{
		cfg: cfg,
		udp: udp,
		mgr: session.NewManager(),
	}
	a.demux = dispatch.NewDemux(udp, a.mgr, nil)
	return a, nil
}

// Run starts every listener and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	go a.udp.RecvLoop(ctx, a.demux.Dispatch)

	for _, addr := range a.cfg.Listen {
		ln, err := tcpnet.Listen(addr)
		if err != nil {
			a.shutdown()
			return fmt.Errorf("agentcore: listen %s: %w", addr, err)
		}
		a.listeners = append(a.listeners, ln)

		a.wg.Add(1)
		go func(ln *tcpnet.Listener, addr string) {
			defer a.wg.Done()
			flog.Infof("agent listening on %s", addr)
			if err := ln.AcceptLoop(func(conn *net.TCPConn) {
				a.onAccept(ctx, conn)
			}); err != nil {
				flog.WErr(err)
			}
		}(ln, addr)
	}

	<-ctx.Done()
	a.shutdown()
	a.wg.Wait()
	flog.Infof("agent shutdown complete")
	return nil
}

func (a *Agent) shutdown() {
	for _, ln := range a.listeners {
		ln.Close()
	}
	a.mgr.Close()
	a.udp.Close()
}

func (a *Agent) onAccept(ctx context.Context, conn *net.TCPConn) {
	id := a.nextID.Add(1)
	peer := conn.RemoteAddr()

	job := bridge.NewJob(id, func(j *bridge.Job) { a.mgr.Forget(j.ID) })

	tcp, _, err := tcpnet.Accept(conn, job.TCPCallbacks())
	if err != nil {
		flog.Errorf("agent: accept tcp: %v", err)
		conn.Close()
		return
	}
	job.AttachTCP(tcp)
	job.Src = peer

	forwardAddr, err := net.ResolveUDPAddr("udp", a.cfg.Forward)
	if err != nil {
		flog.Errorf("agent: resolve forward addr %s: %v", a.cfg.Forward, err)
		job.Close()
		return
	}

	vc := a.demux.NewVirtualConn(id, forwardAddr)
	a.mgr.Register(id, vc, job)

	go func() {
		sess, err := puic.Dial(ctx, vc, forwardAddr)
		if err != nil {
			flog.Errorf("agent: puic dial job=%d: %v", id, err)
			job.Close()
			return
		}
		job.AttachSession(sess)
		job.Dst = forwardAddr

		stream, err := sess.OpenStream(ctx)
		if err != nil {
			flog.Errorf("agent: open stream job=%d: %v", id, err)
			job.Close()
			return
		}
		job.AttachPUIC(stream)
		job.Start()

		flog.Infof("proxy new, client=%s, server=%s", peer, forwardAddr)
	}()
}
