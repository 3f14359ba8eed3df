package stream

import (
	"context"
	"io"
	"sync"
)

// gate binds a cancellation signal to the read loop. Firing it cancels the request
// context and closes the body, so a blocked Read returns at once instead of waiting
// for the next chunk.
type gate struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	stop func() bool
}

func newGate(parent context.Context) *gate {
	ctx, cancel := context.WithCancel(parent)
	return &gate{ctx: ctx, cancel: cancel}
}

// bind arranges for body to be closed when the gate fires
func (g *gate) bind(body io.ReadCloser) io.ReadCloser {
	closer := &onceCloser{ReadCloser: body}
	g.mu.Lock()
	g.stop = context.AfterFunc(g.ctx, func() {
		closer.Close()
	})
	g.mu.Unlock()
	return closer
}

// fire is idempotent
func (g *gate) fire() {
	g.cancel()
}

func (g *gate) fired() bool {
	return g.ctx.Err() != nil
}

// release detaches the body watcher and frees the context
func (g *gate) release() {
	g.mu.Lock()
	if g.stop != nil {
		g.stop()
	}
	g.mu.Unlock()
	g.cancel()
}

type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.ReadCloser.Close()
	})
	return c.err
}
