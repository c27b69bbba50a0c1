package puic

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

const readChunkSize = 16 * 1024

// ErrStreamClosed is passed to a Submit's onErr callback when the
// stream is closed before the write could be queued.
var ErrStreamClosed = errors.New("puic: stream closed")

// stream adapts a *quic.Stream to the Stream interface: a dedicated
// writer goroutine serializes Submit calls onto the QUIC stream (the
// PUIC equivalent of tcpnet's at-most-one-write-in-flight discipline),
// and a dedicated reader goroutine fills a byte ring so
// ReadableRegions/MarkConsumed can present the zero-copy-region shape
// the original PUIC client library exposed, which quic-go's plain
// io.Reader Stream does not.
type stream struct {
	qs *quic.Stream

	buffered atomic.Uint64

	submitCh chan submitReq

	mu         sync.Mutex
	ring       []byte
	readable   func()
	atEOF      bool
	closeOnce  sync.Once
	closeWOnce sync.Once
	closed     chan struct{}
}

type submitReq struct {
	b     []byte
	onOK  func(n int)
	onErr func(error)
}

func newStream(qs *quic.Stream) *stream {
	s := &stream{
		qs:       qs,
		submitCh: make(chan submitReq),
		closed:   make(chan struct{}),
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

func (s *stream) Submit(b []byte, onSent func(n int), onErr func(error)) {
	s.buffered.Add(uint64(len(b)))
	select {
	case s.submitCh <- submitReq{b: b, onOK: onSent, onErr: onErr}:
	case <-s.closed:
		if onErr != nil {
			onErr(ErrStreamClosed)
		}
	}
}

func (s *stream) writeLoop() {
	for {
		var req submitReq
		select {
		case req = <-s.submitCh:
		case <-s.closed:
			return
		}
		n, err := s.qs.Write(req.b)
		s.buffered.Add(uint64(-int64(len(req.b))))
		if err != nil {
			if req.onErr != nil {
				req.onErr(err)
			}
			continue
		}
		if req.onOK != nil {
			req.onOK(n)
		}
	}
}

func (s *stream) Buffered() uint64 { return s.buffered.Load() }

func (s *stream) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.qs.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])

			s.mu.Lock()
			s.ring = append(s.ring, cp...)
			cb := s.readable
			s.mu.Unlock()

			if cb != nil {
				cb()
			}
		}
		if err != nil {
			s.mu.Lock()
			s.atEOF = true
			cb := s.readable
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
	}
}

// AtEOF reports whether the peer has finished sending and every
// buffered byte has been consumed.
func (s *stream) AtEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atEOF && len(s.ring) == 0
}

func (s *stream) SetReadable(cb func()) {
	s.mu.Lock()
	s.readable = cb
	s.mu.Unlock()
}

func (s *stream) ReadableRegions() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring
}

func (s *stream) MarkConsumed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(s.ring) {
		s.ring = s.ring[:0]
		return
	}
	s.ring = append(s.ring[:0], s.ring[n:]...)
}

// CloseWrite half-closes the stream's send side. quic-go's
// (*quic.Stream).Close already closes only the send side, leaving
// reads open until the peer finishes too, so it maps directly.
func (s *stream) CloseWrite() error {
	var err error
	s.closeWOnce.Do(func() {
		err = s.qs.Close()
	})
	return err
}

// Close fully tears the stream down, aborting any pending read.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.qs.CancelRead(0)
		werr := s.CloseWrite()
		if werr != nil {
			err = werr
		}
	})
	return err
}
