package stream

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// EventKind tags a parsed line
type EventKind int

const (
	// EventToken carries a content fragment
	EventToken EventKind = iota
	// EventDone is the explicit end-of-stream marker
	EventDone
	// EventSkip is a valid but empty line: blank, comment, heartbeat, foreign SSE field
	EventSkip
	// EventMalformed is a line that failed to parse; it never ends the stream
	EventMalformed
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventSkip:
		return "skip"
	case EventMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is the result of parsing one logical line
type Event struct {
	Kind EventKind
	// Text is the fragment for EventToken
	Text string
	// Raw is the original line for EventMalformed
	Raw string
	// Detail carries an in-band backend error found on an otherwise skipped record
	Detail string
}

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"

	sseContentPath    = "choices.0.delta.content"
	ndjsonContentPath = "message.content"
	ndjsonDonePath    = "done"
	inBandErrorPath   = "error"
)

// Parser classifies lines for one wire format
type Parser struct {
	format Format
	repair bool
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithJSONRepair makes the parser try to repair malformed JSON payloads before giving up
func WithJSONRepair(enabled bool) ParserOption {
	return func(p *Parser) {
		p.repair = enabled
	}
}

func NewParser(format Format, opts ...ParserOption) *Parser {
	p := &Parser{format: format}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) Format() Format {
	return p.format
}

// Parse classifies one line. It returns one event, or two when an NDJSON record carries
// both a final fragment and done:true; the token always comes first.
func (p *Parser) Parse(line string) []Event {
	switch p.format {
	case FormatSSE:
		return []Event{p.parseSSE(line)}
	case FormatNDJSON:
		return p.parseNDJSON(line)
	default:
		return []Event{{Kind: EventMalformed, Raw: line}}
	}
}

func (p *Parser) parseSSE(line string) Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ":") {
		return Event{Kind: EventSkip}
	}
	// event:, id:, retry: and anything else are ignored
	if !strings.HasPrefix(trimmed, sseDataPrefix) {
		return Event{Kind: EventSkip}
	}

	payload := strings.TrimSpace(trimmed[len(sseDataPrefix):])
	if payload == sseDone {
		return Event{Kind: EventDone}
	}

	payload, ok := p.validJSON(payload)
	if !ok {
		return Event{Kind: EventMalformed, Raw: line}
	}

	content := gjson.Get(payload, sseContentPath)
	if content.Type == gjson.String && content.Str != "" {
		return Event{Kind: EventToken, Text: content.Str}
	}
	return Event{Kind: EventSkip, Detail: inBandError(payload)}
}

func (p *Parser) parseNDJSON(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return []Event{{Kind: EventSkip}}
	}

	payload, ok := p.validJSON(trimmed)
	if !ok {
		return []Event{{Kind: EventMalformed, Raw: line}}
	}

	var events []Event
	content := gjson.Get(payload, ndjsonContentPath)
	if content.Type == gjson.String && content.Str != "" {
		events = append(events, Event{Kind: EventToken, Text: content.Str})
	}
	if gjson.Get(payload, ndjsonDonePath).Type == gjson.True {
		events = append(events, Event{Kind: EventDone})
	}
	if len(events) == 0 {
		events = append(events, Event{Kind: EventSkip, Detail: inBandError(payload)})
	}
	return events
}

func (p *Parser) validJSON(payload string) (string, bool) {
	if gjson.Valid(payload) {
		return payload, true
	}
	if !p.repair {
		return "", false
	}
	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil || !gjson.Valid(repaired) {
		return "", false
	}
	return repaired, true
}

// inBandError extracts {"error": "..."} or {"error": {"message": "..."}}
func inBandError(payload string) string {
	errField := gjson.Get(payload, inBandErrorPath)
	switch {
	case errField.Type == gjson.String:
		return errField.Str
	case errField.IsObject():
		return errField.Get("message").String()
	default:
		return ""
	}
}
