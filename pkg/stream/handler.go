package stream

import (
	"strings"
	"sync"
)

// Handler receives the public callbacks of a session. All calls for one session come
// from a single goroutine, in wire order. OnComplete and OnError are mutually exclusive
// and each fires at most once.
type Handler interface {
	// OnToken is called once per content fragment
	OnToken(text string)

	// OnComplete is called on graceful end of stream or on cancellation
	OnComplete()

	// OnError is called on transport or HTTP failure
	OnError(err error)
}

// HandlerFuncs is a function adapter for Handler. Nil funcs are skipped.
type HandlerFuncs struct {
	TokenFunc    func(text string)
	CompleteFunc func()
	ErrorFunc    func(err error)
}

// OnToken implements Handler
func (h HandlerFuncs) OnToken(text string) {
	if h.TokenFunc != nil {
		h.TokenFunc(text)
	}
}

// OnComplete implements Handler
func (h HandlerFuncs) OnComplete() {
	if h.CompleteFunc != nil {
		h.CompleteFunc()
	}
}

// OnError implements Handler
func (h HandlerFuncs) OnError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}

// Callback names recorded by Collector
const (
	CallToken    = "token"
	CallComplete = "complete"
	CallError    = "error"
)

// Call is one recorded callback
type Call struct {
	Kind string
	Text string
	Err  error
}

// Collector records every callback it receives. Safe to read from another goroutine.
type Collector struct {
	mu    sync.Mutex
	calls []Call
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) OnToken(text string) {
	c.record(Call{Kind: CallToken, Text: text})
}

func (c *Collector) OnComplete() {
	c.record(Call{Kind: CallComplete})
}

func (c *Collector) OnError(err error) {
	c.record(Call{Kind: CallError, Err: err})
}

func (c *Collector) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Calls returns a copy of the recorded callbacks
func (c *Collector) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Tokens returns recorded token texts in order
func (c *Collector) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var tokens []string
	for _, call := range c.calls {
		if call.Kind == CallToken {
			tokens = append(tokens, call.Text)
		}
	}
	return tokens
}

// Text returns the concatenation of all tokens
func (c *Collector) Text() string {
	return strings.Join(c.Tokens(), "")
}

// Completions counts OnComplete calls
func (c *Collector) Completions() int {
	return c.count(CallComplete)
}

// Errors returns the errors passed to OnError
func (c *Collector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, call := range c.calls {
		if call.Kind == CallError {
			errs = append(errs, call.Err)
		}
	}
	return errs
}

func (c *Collector) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Kind == kind {
			n++
		}
	}
	return n
}

// Ensure implementations satisfy the interface
var (
	_ Handler = HandlerFuncs{}
	_ Handler = (*Collector)(nil)
)
