package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/killallgit/tokenstream/pkg/stream"
)

// ChunkedBody returns exactly one chunk per Read, the way a network body delivers
// arbitrary fragments. A chunk larger than the read buffer is split across reads.
type ChunkedBody struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
}

// NewChunkedBody yields chunks then io.EOF
func NewChunkedBody(chunks ...[]byte) *ChunkedBody {
	return &ChunkedBody{chunks: copyChunks(chunks), err: io.EOF}
}

// NewChunkedStringBody is NewChunkedBody for string fragments
func NewChunkedStringBody(chunks ...string) *ChunkedBody {
	raw := make([][]byte, len(chunks))
	for i, c := range chunks {
		raw[i] = []byte(c)
	}
	return &ChunkedBody{chunks: raw, err: io.EOF}
}

// FailAfter makes the body return err instead of io.EOF once chunks run out
func (b *ChunkedBody) FailAfter(err error) *ChunkedBody {
	b.err = err
	return b
}

func (b *ChunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	for len(b.chunks) > 0 && len(b.chunks[0]) == 0 {
		b.chunks = b.chunks[1:]
	}
	if len(b.chunks) == 0 {
		return 0, b.err
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	return n, nil
}

func (b *ChunkedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called
func (b *ChunkedBody) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// PipeBody is fed by the test while the session reads it. Read blocks until data is
// written, the writer finishes, or the body is closed.
type PipeBody struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func NewPipeBody() *PipeBody {
	r, w := io.Pipe()
	return &PipeBody{reader: r, writer: w}
}

func (p *PipeBody) Read(buf []byte) (int, error) {
	return p.reader.Read(buf)
}

// Close unblocks a pending Read, as closing a network body does
func (p *PipeBody) Close() error {
	p.writer.CloseWithError(io.ErrClosedPipe)
	return p.reader.Close()
}

// Write delivers one chunk; it blocks until the session has read it
func (p *PipeBody) Write(chunk string) error {
	_, err := p.writer.Write([]byte(chunk))
	return err
}

// Finish ends the body with io.EOF
func (p *PipeBody) Finish() error {
	return p.writer.Close()
}

// Fail ends the body with err
func (p *PipeBody) Fail(err error) error {
	return p.writer.CloseWithError(err)
}

// StaticOpener returns the same body or error for every request and records requests
type StaticOpener struct {
	mu       sync.Mutex
	Body     io.ReadCloser
	Err      error
	requests []stream.Request
}

func (o *StaticOpener) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Body, nil
}

// Requests returns the requests seen so far
func (o *StaticOpener) Requests() []stream.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]stream.Request(nil), o.requests...)
}

// QueueOpener hands out one scripted response per Open call, in order
type QueueOpener struct {
	mu        sync.Mutex
	responses []queuedResponse
	requests  []stream.Request
}

type queuedResponse struct {
	body io.ReadCloser
	err  error
}

func NewQueueOpener() *QueueOpener {
	return &QueueOpener{}
}

// Push queues a body for the next Open
func (o *QueueOpener) Push(body io.ReadCloser) *QueueOpener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, queuedResponse{body: body})
	return o
}

// PushError queues an open failure
func (o *QueueOpener) PushError(err error) *QueueOpener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, queuedResponse{err: err})
	return o
}

func (o *QueueOpener) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if len(o.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	next := o.responses[0]
	o.responses = o.responses[1:]
	return next.body, next.err
}

// Requests returns the requests seen so far
func (o *QueueOpener) Requests() []stream.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]stream.Request(nil), o.requests...)
}

// BlockingOpener blocks in Open until ctx is cancelled, like a dial that never completes
type BlockingOpener struct {
	Entered chan struct{}
	once    sync.Once
}

func NewBlockingOpener() *BlockingOpener {
	return &BlockingOpener{Entered: make(chan struct{})}
}

func (o *BlockingOpener) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	o.once.Do(func() { close(o.Entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func copyChunks(chunks [][]byte) [][]byte {
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

var (
	_ stream.Opener = (*StaticOpener)(nil)
	_ stream.Opener = (*QueueOpener)(nil)
	_ stream.Opener = (*BlockingOpener)(nil)
)
