package bridge

import (
	"net"
	"sync"

	"puicbridge/internal/flog"
	"puicbridge/internal/puic"
	"puicbridge/internal/tcpnet"
)

// State is the bridging job's lifecycle stage (spec §4.5).
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateHalfClosedTCP  // TCP side sent EOF; PUIC->TCP still draining.
	StateHalfClosedPUIC // PUIC side sent EOF; TCP->PUIC still draining.
	StateClosing
	StateDead
)

// Job bridges one TCP connection to one PUIC stream, pumping bytes in
// both directions and applying the High/Low water hysteresis to the
// TCP read side. Grounded line-for-line on puic_agent.cc's ProxyJob:
// OnAgentConnRcvd/OnAgentConnSent/OnPUICConnCanRead/OnPUICConnCanWrite.
type Job struct {
	ID  uint64
	Src net.Addr
	Dst net.Addr

	onClosed func(*Job)

	mu      sync.Mutex
	state   State
	tcp     *tcpnet.Endpoint
	stream  puic.Stream
	session puic.Session

	tcpEOF  bool
	puicEOF bool
}

// NewJob constructs a job in the Starting state. Callers must attach
// both legs with AttachTCP/AttachPUIC and then call Start.
func NewJob(id uint64, onClosed func(*Job)) *Job {
	return &Job{ID: id, onClosed: onClosed, state: StateStarting}
}

// TCPCallbacks returns the callback set to pass into
// tcpnet.Accept/tcpnet.Connect when constructing this job's TCP leg.
func (j *Job) TCPCallbacks() tcpnet.Callbacks {
	return tcpnet.Callbacks{
		OnRcvd: j.onTCPRcvd,
		OnEOF:  j.onTCPEOF,
		OnErr:  j.onTCPErr,
		OnSent: j.onTCPSent,
	}
}

// AttachTCP binds the already-constructed TCP endpoint to this job.
func (j *Job) AttachTCP(ep *tcpnet.Endpoint) {
	j.mu.Lock()
	j.tcp = ep
	j.mu.Unlock()
}

// AttachPUIC binds the already-opened PUIC stream to this job and
// wires its readability callback.
func (j *Job) AttachPUIC(s puic.Stream) {
	j.mu.Lock()
	j.stream = s
	j.mu.Unlock()
	s.SetReadable(j.onPUICReadable)
}

// AttachSession binds the PUIC session this job's stream was opened
// or accepted on, so clean() can tear the whole session down (each
// job owns exactly one session, spec §6.4). The job itself is stashed
// as the session's user data so code holding only the session (e.g.
// proxycore's extra-stream-reject loop) can detect this job has
// already been torn down via Session.UserData's stale-handle guarantee
// instead of racing j's own state.
func (j *Job) AttachSession(sess puic.Session) {
	j.mu.Lock()
	j.session = sess
	j.mu.Unlock()
	sess.SetUserData(j)
}

// Start transitions the job to Running and begins draining the TCP
// side (mirrors OnPUICConnConnected: m_srcConn->StartRead()).
func (j *Job) Start() {
	j.mu.Lock()
	j.state = StateRunning
	tcp := j.tcp
	j.mu.Unlock()
	if tcp != nil {
		tcp.StartRead()
	}
}

func (j *Job) running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state != StateClosing && j.state != StateDead
}

// onTCPRcvd mirrors OnAgentConnRcvd: forward client bytes to PUIC,
// then reapply TCP read backpressure from the PUIC buffer level.
func (j *Job) onTCPRcvd(b []byte) {
	if !j.running() {
		return
	}
	j.mu.Lock()
	stream := j.stream
	j.mu.Unlock()
	if stream == nil {
		return
	}

	stream.Submit(b, j.onPUICWriteDone, j.onPUICErr)
	j.applyBackpressure(stream.Buffered())
}

// onPUICWriteDone mirrors the PUIC write-buffer-level feedback that
// drives OnPUICConnCanWrite.
func (j *Job) onPUICWriteDone(int) {
	if !j.running() {
		return
	}
	j.mu.Lock()
	stream := j.stream
	j.mu.Unlock()
	if stream != nil {
		j.applyBackpressure(stream.Buffered())
	}
}

func (j *Job) onPUICErr(err error) {
	flog.Infof("puic write error, job=%d: %v", j.ID, err)
	j.clean()
}

func (j *Job) applyBackpressure(buffered uint64) {
	j.mu.Lock()
	tcp := j.tcp
	j.mu.Unlock()
	if tcp == nil {
		return
	}
	switch Decide(buffered) {
	case ReadStop:
		tcp.StopRead()
	case ReadStart:
		tcp.StartRead()
	}
}

// onTCPEOF mirrors OnAgentConnEOF: forward the EOF to the PUIC side's
// write direction without tearing the job down.
func (j *Job) onTCPEOF() {
	if !j.running() {
		return
	}
	j.mu.Lock()
	stream := j.stream
	j.state = StateHalfClosedTCP
	j.tcpEOF = true
	bothEOF := j.puicEOF
	j.mu.Unlock()

	if stream != nil {
		stream.CloseWrite()
	}
	if bothEOF {
		j.clean()
	}
}

func (j *Job) onTCPErr(op string, err error) {
	flog.Infof("tcp error, op=%s, job=%d: %v", op, j.ID, err)
	j.clean()
}

// onTCPSent mirrors OnAgentConnSent: release the consumed PUIC bytes
// and try to pump more PUIC->TCP data.
func (j *Job) onTCPSent(n int) {
	if !j.running() {
		return
	}
	j.mu.Lock()
	stream := j.stream
	j.mu.Unlock()
	if stream == nil {
		return
	}
	stream.MarkConsumed(n)
	j.pumpPUICToTCP()
}

// onPUICReadable mirrors OnPUICConnCanRead.
func (j *Job) onPUICReadable() {
	if !j.running() {
		return
	}
	j.pumpPUICToTCP()
}

// pumpPUICToTCP mirrors may_puic_to_tcp: forward buffered PUIC bytes
// to the TCP side unless a write is already in flight, and shut the
// TCP write side down once the PUIC side reaches EOF.
func (j *Job) pumpPUICToTCP() {
	j.mu.Lock()
	tcp := j.tcp
	stream := j.stream
	j.mu.Unlock()
	if tcp == nil || stream == nil {
		return
	}

	if stream.AtEOF() {
		j.mu.Lock()
		j.puicEOF = true
		if j.state == StateRunning {
			j.state = StateHalfClosedPUIC
		}
		bothEOF := j.tcpEOF
		j.mu.Unlock()
		tcp.Shutdown()
		if bothEOF {
			j.clean()
		}
		return
	}

	regions := stream.ReadableRegions()
	if len(regions) == 0 {
		return
	}

	err := tcp.Write(net.Buffers{regions})
	if err == tcpnet.ErrWriteInFlight {
		return
	}
	if err != nil {
		j.clean()
	}
}

// clean mirrors ProxyJob::clean: tear down both legs exactly once and
// notify the owning session manager.
func (j *Job) clean() {
	j.mu.Lock()
	if j.state == StateClosing || j.state == StateDead {
		j.mu.Unlock()
		return
	}
	j.state = StateClosing
	tcp := j.tcp
	stream := j.stream
	sess := j.session
	j.mu.Unlock()

	if tcp != nil {
		tcp.Close()
	}
	if stream != nil {
		stream.Close()
	}
	if sess != nil {
		sess.Close()
	}

	j.mu.Lock()
	j.state = StateDead
	j.mu.Unlock()

	if j.onClosed != nil {
		j.onClosed(j)
	}
}

// Close tears the job down from outside (e.g. session manager shutdown).
func (j *Job) Close() { j.clean() }

// State reports the job's current lifecycle stage.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}
