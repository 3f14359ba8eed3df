package headless

import (
	"context"
	"fmt"
	"io"

	"github.com/killallgit/tokenstream/pkg/backend"
	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/killallgit/tokenstream/pkg/config"
	"github.com/killallgit/tokenstream/pkg/conversation"
	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/killallgit/tokenstream/pkg/stream"
	"github.com/killallgit/tokenstream/pkg/tokens"
)

// runner sends one prompt and streams the reply to the terminal
type runner struct {
	conv    *conversation.Conversation
	counter *tokens.TokenCounter
	out     io.Writer
	output  *Output
}

// newRunner builds a conversation against the configured backend
func newRunner(settings *config.Config, out, status io.Writer) (*runner, error) {
	format, err := stream.ParseFormat(settings.Backend.Format)
	if err != nil {
		return nil, err
	}

	var clientOpts []backend.Option
	if settings.Backend.Path != "" {
		clientOpts = append(clientOpts, backend.WithPath(settings.Backend.Path))
	}
	client := backend.NewClient(settings.Backend.URL, settings.Backend.ConnectTimeout, clientOpts...)

	log := logger.WithComponent("headless")
	opts := []stream.Option{
		stream.WithRepair(settings.Parser.RepairMalformed),
		stream.WithMaxLineBytes(settings.Parser.MaxLineBytes),
		stream.WithDiagnostics(func(raw string) {
			log.Debug("Stream diagnostic", "raw", raw)
		}),
	}

	conv := conversation.NewWithSystem(client, settings.Backend.Model, format, settings.Backend.SystemPrompt, opts...)
	r := newRunnerWithConversation(conv, out, status)

	if settings.Tokens.Exact {
		counter, err := tokens.NewTokenCounter(settings.Backend.Model)
		if err != nil {
			log.Warn("Could not load token encoding, estimating instead", "error", err)
		} else {
			r.counter = counter
		}
	}
	return r, nil
}

func newRunnerWithConversation(conv *conversation.Conversation, out, status io.Writer) *runner {
	return &runner{
		conv:    conv,
		counter: tokens.NewEstimator(),
		out:     out,
		output:  NewOutput(status),
	}
}

// run sends prompt and blocks until the reply has ended. Cancelling ctx stops the
// reply gracefully; only a failed stream is an error.
func (r *runner) run(ctx context.Context, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty in headless mode")
	}

	log := logger.WithComponent("headless")
	log.Debug("Sending prompt", "model", r.conv.Model(), "format", r.conv.Format().String(), "length", len(prompt))

	handler := newHeadlessStreamHandler(r.out)
	session, err := r.conv.Send(ctx, prompt, nil, handler)
	if err != nil {
		r.output.Error(err.Error())
		return &ReportedError{Err: err}
	}

	state := session.Wait()
	turns := r.conv.Turns()
	reply := turns[len(turns)-1]

	switch state {
	case stream.StateFailed:
		r.output.Error(reply.Error)
		return &ReportedError{Err: fmt.Errorf("stream failed: %w", session.Err())}
	case stream.StateAborted:
		r.output.Stopped()
	}

	usage := Usage{
		Sent:     r.counter.CountMessages(messagesOf(turns[:len(turns)-1])),
		Received: r.counter.CountTokens(reply.Message.Content),
		Exact:    r.counter.Exact(),
	}
	r.output.Stats(state, reply.Stats, usage)
	log.Debug("Reply finished", "state", state.String(), "chunks", reply.Stats.ChunkCount)
	return nil
}

func messagesOf(turns []conversation.Turn) []chat.Message {
	out := make([]chat.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Message)
	}
	return out
}
