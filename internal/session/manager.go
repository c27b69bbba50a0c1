// Package session implements the session manager (C6): the registry
// mapping a PUIC session id to its virtual datagram conn and bridging
// job, plus deferred deletion of finished jobs.
//
// Grounded on ProxyManager::JobToClean/Monitor (puic_agent.cc): rather
// than deleting a job the instant its callback fires (which could run
// while that same job is still unwinding its own call stack), finished
// sessions are queued and reaped by one dedicated goroutine, the Go
// equivalent of the original's per-tick m_cleanJobs drain.
package session

import (
	"sync"

	"puicbridge/internal/bridge"
	"puicbridge/internal/dispatch"
)

type entry struct {
	vc  *dispatch.VirtualConn
	job *bridge.Job
}

// Manager tracks every live session for one process (agent or proxy).
type Manager struct {
	mu       sync.Mutex
	sessions map[uint64]*entry

	graveyard chan uint64
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a manager and starts its reaper goroutine.
func NewManager() *Manager {
	m := &Manager{
		sessions:  make(map[uint64]*entry),
		graveyard: make(chan uint64, 256),
		done:      make(chan struct{}),
	}
	go m.reap()
	return m
}

// Register adds a new session, keyed by id.
func (m *Manager) Register(id uint64, vc *dispatch.VirtualConn, job *bridge.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &entry{vc: vc, job: job}
}

// Lookup satisfies dispatch.Registry, routing an inbound datagram's
// session id to its virtual conn.
func (m *Manager) Lookup(id uint64) (dispatch.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.vc, true
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Forget queues id for deferred removal. Safe to call from a job's own
// onClosed callback.
func (m *Manager) Forget(id uint64) {
	select {
	case m.graveyard <- id:
	case <-m.done:
	default:
		// Graveyard saturated: fall back to an immediate removal so a
		// burst of closes can never leak sessions.
		m.removeNow(id)
	}
}

func (m *Manager) reap() {
	for {
		select {
		case id := <-m.graveyard:
			m.removeNow(id)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) removeNow(id uint64) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		e.vc.Close()
	}
}

// Close stops the reaper and tears down every remaining session.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	remaining := m.sessions
	m.sessions = make(map[uint64]*entry)
	m.mu.Unlock()

	for _, e := range remaining {
		e.job.Close()
		e.vc.Close()
	}
}
