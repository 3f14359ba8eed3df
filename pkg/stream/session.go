package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/tokenstream/pkg/logger"
)

// Session consumes one streaming response. Callbacks are delivered from the session's
// read goroutine in the order their lines were reassembled.
type Session struct {
	id      string
	req     Request
	opener  Opener
	handler Handler
	flag    *InFlight
	opts    options

	gate    *gate
	state   atomic.Int32
	err     error
	settled bool
	done    chan struct{}

	// deliverMu covers the state check and OnToken call of one token
	deliverMu  sync.Mutex
	delivering atomic.Bool

	decoder *Decoder
	lines   *LineReassembler
	parser  *Parser

	startedAt time.Time
	tokens    int
	malformed int

	log *logger.ComponentLogger
}

// Start opens req through opener and streams it to handler. flag is the conversation's
// single-in-flight flag: if it is already held, Start returns ErrSessionActive without
// touching it or the running session. Cancelling ctx is equivalent to Cancel.
func Start(ctx context.Context, flag *InFlight, opener Opener, req Request, handler Handler, opts ...Option) (*Session, error) {
	if flag == nil {
		return nil, fmt.Errorf("stream: nil in-flight flag")
	}
	if opener == nil {
		return nil, fmt.Errorf("stream: nil opener")
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !flag.TryAcquire() {
		return nil, ErrSessionActive
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		id:        uuid.NewString(),
		req:       req,
		opener:    opener,
		handler:   handler,
		flag:      flag,
		opts:      o,
		gate:      newGate(ctx),
		done:      make(chan struct{}),
		decoder:   NewDecoder(),
		lines:     NewLineReassembler(o.maxLineBytes),
		parser:    NewParser(req.Format(), WithJSONRepair(o.repair)),
		startedAt: time.Now(),
	}
	s.log = logger.WithComponent("stream_session").With(
		"session_id", s.id,
		"format", req.Format().String(),
		"model", req.Model(),
	)
	s.state.Store(int32(StateActive))
	s.log.Debug("Session started", "messages", len(req.messages))

	go s.run()
	return s, nil
}

// Run starts a session and waits for it to end
func Run(ctx context.Context, flag *InFlight, opener Opener, req Request, handler Handler, opts ...Option) (State, error) {
	s, err := Start(ctx, flag, opener, req, handler, opts...)
	if err != nil {
		return StateIdle, err
	}
	state := s.Wait()
	return state, s.Err()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the failure reported through OnError, or nil
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Done is closed after the terminal callback has returned
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended and returns its terminal state
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

// Cancel stops the session. Once Cancel returns no further OnToken call starts; a token
// whose delivery began earlier may still be running when Cancel is called from another
// goroutine. On an active session this leads to exactly one OnComplete; on an ended
// session it does nothing. Cancel may be called from inside OnToken.
func (s *Session) Cancel() {
	if s.transition(StateAborted) {
		s.log.Debug("Session cancelled by caller")
	}
	s.gate.fire()

	// A delivery that passed its state check before the transition holds deliverMu through
	// its OnToken call. Inside OnToken that delivery is the caller itself.
	if !s.delivering.Load() {
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	}
}

func (s *Session) transition(to State) bool {
	return s.state.CompareAndSwap(int32(StateActive), int32(to))
}

func (s *Session) active() bool {
	return s.State() == StateActive
}

func (s *Session) complete() {
	s.transition(StateCompleted)
}

func (s *Session) abort() {
	s.transition(StateAborted)
}

func (s *Session) fail(err error) {
	if s.transition(StateFailed) {
		s.err = err
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.gate.release()
	defer s.recoverPanic()

	s.stream()
	s.settle()
}

// stream drives the read loop until the state leaves Active
func (s *Session) stream() {
	body, err := s.opener.Open(s.gate.ctx, s.req)
	if err != nil {
		if body != nil {
			body.Close()
		}
		if s.gate.fired() {
			s.abort()
			return
		}
		s.fail(err)
		return
	}
	if body == nil {
		s.fail(ErrNoBody)
		return
	}

	body = s.gate.bind(body)
	defer body.Close()

	buf := make([]byte, s.opts.readBufferSize)
	for s.active() {
		n, readErr := body.Read(buf)
		if s.gate.fired() {
			s.abort()
			return
		}

		if n > 0 {
			if !s.push(s.decoder.Decode(buf[:n], false)) {
				return
			}
		}

		if errors.Is(readErr, io.EOF) {
			s.finish()
			return
		}
		if readErr != nil {
			if s.gate.fired() {
				s.abort()
				return
			}
			s.fail(fmt.Errorf("failed to read stream body: %w", readErr))
			return
		}
	}
}

// finish drains the decoder and buffer after EOF. Exhaustion without a done marker is
// an implicit completion.
func (s *Session) finish() {
	if !s.push(s.decoder.Decode(nil, true)) {
		return
	}
	if line, ok := s.lines.Flush(); ok {
		if !s.dispatch(line) {
			return
		}
	}
	s.complete()
}

// push feeds decoded text to the reassembler and dispatches complete lines. It returns
// false once the session has left Active.
func (s *Session) push(text string) bool {
	if text == "" {
		return s.active()
	}
	lines, err := s.lines.Push(text)
	for _, line := range lines {
		if !s.dispatch(line) {
			return false
		}
	}
	if err != nil {
		s.fail(err)
		return false
	}
	return true
}

func (s *Session) dispatch(line string) bool {
	for _, ev := range s.parser.Parse(line) {
		// Cancellation observed between events wins over anything still queued
		if s.gate.fired() {
			s.abort()
		}
		if !s.active() {
			return false
		}

		switch ev.Kind {
		case EventToken:
			if !s.deliver(ev.Text) {
				return false
			}
		case EventDone:
			s.complete()
			return false
		case EventSkip:
			if ev.Detail != "" {
				s.log.Warn("Backend reported an in-band error", "detail", ev.Detail)
				s.diagnose(ev.Detail)
			}
		case EventMalformed:
			s.malformed++
			s.log.Debug("Dropping malformed record", "line", ev.Raw)
			s.diagnose(ev.Raw)
		}
	}
	return s.active()
}

// deliver hands one token to the handler unless the session left Active
func (s *Session) deliver(text string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.gate.fired() {
		s.abort()
	}
	if !s.active() {
		return false
	}

	s.delivering.Store(true)
	defer s.delivering.Store(false)
	s.tokens++
	s.handler.OnToken(text)
	return true
}

func (s *Session) diagnose(raw string) {
	if s.opts.diagnostics != nil {
		s.opts.diagnostics(raw)
	}
}

// settle runs once on the session goroutine after the state left Active: it clears the
// in-flight flag and fires the single terminal callback.
func (s *Session) settle() {
	if s.settled {
		return
	}
	s.settled = true
	s.flag.Release()

	state := s.State()
	s.log.Debug("Session ended",
		"state", state.String(),
		"tokens", s.tokens,
		"malformed", s.malformed,
		"duration", time.Since(s.startedAt).String(),
	)

	switch state {
	case StateCompleted, StateAborted:
		s.handler.OnComplete()
	case StateFailed:
		s.handler.OnError(s.err)
	}
}

// recoverPanic ends the session as Failed if the loop or a callback panics, so the
// in-flight flag can never stay set.
func (s *Session) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	perr := &PanicError{Value: r, Stack: debug.Stack()}
	s.log.Error("Session panicked", "panic", fmt.Sprint(r))

	s.fail(perr)
	if s.settled {
		// The flag was cleared before the callback ran and may already belong to a
		// newer session
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Terminal callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.settle()
}
