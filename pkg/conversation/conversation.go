package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/killallgit/tokenstream/pkg/stream"
)

// TurnStatus records how a turn ended
type TurnStatus string

const (
	TurnComplete TurnStatus = "complete"
	TurnPending  TurnStatus = "pending"
	TurnAborted  TurnStatus = "aborted"
	TurnFailed   TurnStatus = "failed"
)

// Turn is one entry of the history
type Turn struct {
	Message chat.Message
	Status  TurnStatus
	Error   string
	// Stats is set on assistant turns once they settle
	Stats Stats
}

// Conversation owns a history and the single-in-flight flag its sessions share.
// Independent conversations stream concurrently.
type Conversation struct {
	mu       sync.Mutex
	model    string
	format   stream.Format
	opener   stream.Opener
	options  []stream.Option
	turns    []Turn
	inFlight stream.InFlight
	current  *stream.Session
	pending  *accumulator
}

// New creates an empty conversation sending to opener
func New(opener stream.Opener, model string, format stream.Format, opts ...stream.Option) *Conversation {
	return &Conversation{
		model:   model,
		format:  format,
		opener:  opener,
		options: opts,
		turns:   make([]Turn, 0),
	}
}

// NewWithSystem creates a conversation seeded with a system prompt
func NewWithSystem(opener stream.Opener, model string, format stream.Format, systemPrompt string, opts ...stream.Option) *Conversation {
	c := New(opener, model, format, opts...)
	if systemPrompt != "" {
		c.turns = append(c.turns, Turn{Message: chat.NewSystemMessage(systemPrompt), Status: TurnComplete})
	}
	return c
}

func (c *Conversation) Model() string {
	return c.model
}

func (c *Conversation) Format() stream.Format {
	return c.format
}

// Active reports whether a session is streaming
func (c *Conversation) Active() bool {
	return c.inFlight.Active()
}

// Send appends a user turn and streams the assistant reply to handler. While a session
// is active it returns stream.ErrSessionActive and leaves the history untouched.
func (c *Conversation) Send(ctx context.Context, text string, parts []chat.Part, handler stream.Handler) (*stream.Session, error) {
	user := chat.NewUserMessage(text, parts...)
	if user.IsEmpty() {
		return nil, fmt.Errorf("message must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The flag clears just before the terminal callback records the reply
	if c.pending != nil {
		return nil, stream.ErrSessionActive
	}

	history := append(c.requestHistory(), user)
	req := stream.NewRequest(c.model, c.format, history)

	acc := newAccumulator(c, len(c.turns)+1, handler)
	session, err := stream.Start(ctx, &c.inFlight, c.opener, req, acc, c.options...)
	if err != nil {
		return nil, err
	}

	// Callbacks block on c.mu until both turns exist
	c.turns = append(c.turns,
		Turn{Message: user, Status: TurnComplete},
		Turn{Message: chat.NewAssistantMessage(""), Status: TurnPending},
	)
	c.current = session
	c.pending = acc
	acc.session = session
	return session, nil
}

// Cancel stops the active session, if any
func (c *Conversation) Cancel() {
	c.mu.Lock()
	session := c.current
	c.mu.Unlock()
	if session != nil {
		session.Cancel()
	}
}

// Turns returns a snapshot of the history, including the partial text of a pending turn
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		t.Message = t.Message.Clone()
		out[i] = t
	}
	if c.pending != nil && c.pending.index < len(out) {
		out[c.pending.index].Message.Content = c.pending.content()
	}
	return out
}

// PendingStats describes the reply currently streaming
func (c *Conversation) PendingStats() (Stats, bool) {
	c.mu.Lock()
	acc := c.pending
	c.mu.Unlock()
	if acc == nil {
		return Stats{}, false
	}
	return acc.stats(), true
}

// Messages returns the history that the next request would carry
func (c *Conversation) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestHistory()
}

// Clear drops the history but keeps a system prompt. It fails while streaming.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight.Active() || c.pending != nil {
		return stream.ErrSessionActive
	}
	kept := make([]Turn, 0, 1)
	for _, t := range c.turns {
		if t.Message.IsSystem() {
			kept = append(kept, t)
		}
	}
	c.turns = kept
	return nil
}

// requestHistory skips failed and pending turns and empty assistant replies.
// Callers hold c.mu.
func (c *Conversation) requestHistory() []chat.Message {
	messages := make([]chat.Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Status == TurnFailed || t.Status == TurnPending {
			continue
		}
		if t.Message.IsAssistant() && t.Message.IsEmpty() {
			continue
		}
		messages = append(messages, t.Message.Clone())
	}
	return messages
}

// settle records the outcome of the pending turn at index
func (c *Conversation) settle(index int, content string, stats Stats, status TurnStatus, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= len(c.turns) {
		return
	}
	turn := &c.turns[index]
	turn.Message.Content = content
	turn.Status = status
	turn.Error = errText
	turn.Stats = stats
	if c.pending != nil && c.pending.index == index {
		c.pending = nil
		c.current = nil
	}
}

// sessionOf returns the session driving acc
func (c *Conversation) sessionOf(acc *accumulator) *stream.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return acc.session
}
