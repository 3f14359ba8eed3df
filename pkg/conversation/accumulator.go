package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/killallgit/tokenstream/pkg/stream"
)

// accumulator builds the assistant turn from tokens and forwards every callback
type accumulator struct {
	conv  *Conversation
	index int
	next  stream.Handler

	// session is guarded by conv.mu
	session *stream.Session

	mu         sync.Mutex
	text       strings.Builder
	chunkCount int
	startTime  time.Time
	lastUpdate time.Time
}

func newAccumulator(conv *Conversation, index int, next stream.Handler) *accumulator {
	if next == nil {
		next = stream.HandlerFuncs{}
	}
	return &accumulator{
		conv:      conv,
		index:     index,
		next:      next,
		startTime: time.Now(),
	}
}

func (a *accumulator) OnToken(text string) {
	a.mu.Lock()
	a.text.WriteString(text)
	a.chunkCount++
	a.lastUpdate = time.Now()
	a.mu.Unlock()

	a.next.OnToken(text)
}

func (a *accumulator) OnComplete() {
	status := TurnComplete
	if session := a.conv.sessionOf(a); session != nil && session.State() == stream.StateAborted {
		status = TurnAborted
	}
	a.conv.settle(a.index, a.content(), a.stats(), status, "")
	a.next.OnComplete()
}

func (a *accumulator) OnError(err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	a.conv.settle(a.index, a.content(), a.stats(), TurnFailed, errText)
	a.next.OnError(err)
}

func (a *accumulator) content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Stats describes the reply accumulated so far
type Stats struct {
	ChunkCount    int
	ContentLength int
	StartTime     time.Time
	LastUpdate    time.Time
	Duration      time.Duration
}

func (a *accumulator) stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := a.lastUpdate
	if end.IsZero() {
		end = time.Now()
	}
	return Stats{
		ChunkCount:    a.chunkCount,
		ContentLength: a.text.Len(),
		StartTime:     a.startTime,
		LastUpdate:    a.lastUpdate,
		Duration:      end.Sub(a.startTime),
	}
}

var _ stream.Handler = (*accumulator)(nil)
