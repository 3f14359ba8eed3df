package stream

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/killallgit/tokenstream/pkg/chat"
)

// Format selects the wire shape of a response body
type Format string

const (
	// FormatSSE is an OpenAI-style Server-Sent-Events body terminated by "data: [DONE]".
	FormatSSE Format = "sse"
	// FormatNDJSON is one JSON object per line carrying message.content and a done flag.
	FormatNDJSON Format = "ndjson"
)

func (f Format) String() string {
	return string(f)
}

func (f Format) Valid() bool {
	return f == FormatSSE || f == FormatNDJSON
}

// ParseFormat accepts "sse" or "ndjson" in any case
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown stream format %q", s)
	}
	return f, nil
}

// Request is an immutable snapshot of what one session sends
type Request struct {
	messages []chat.Message
	model    string
	format   Format
}

// NewRequest copies messages so later edits by the caller are not observed
func NewRequest(model string, format Format, messages []chat.Message) Request {
	snapshot := make([]chat.Message, len(messages))
	for i, m := range messages {
		snapshot[i] = m.Clone()
	}
	return Request{messages: snapshot, model: model, format: format}
}

// Messages returns a copy of the request history
func (r Request) Messages() []chat.Message {
	out := make([]chat.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

func (r Request) Model() string {
	return r.model
}

func (r Request) Format() Format {
	return r.format
}

// Validate checks the request before any session state is touched
func (r Request) Validate() error {
	if r.model == "" {
		return fmt.Errorf("stream request: model must not be empty")
	}
	if !r.format.Valid() {
		return fmt.Errorf("stream request: unknown format %q", r.format)
	}
	if len(r.messages) == 0 {
		return fmt.Errorf("stream request: no messages")
	}
	for i, m := range r.messages {
		if !chat.ValidRole(m.Role) {
			return fmt.Errorf("stream request: message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// Opener opens the response body for a request. The body is read until EOF or the
// context is cancelled; implementations must tie the body to ctx.
type Opener interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, req Request) (io.ReadCloser, error)

func (f OpenerFunc) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	return f(ctx, req)
}
