package backend

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/killallgit/tokenstream/pkg/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFile struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
	File     *openAIFile     `json:"file,omitempty"`
}

type openAIMessage struct {
	Role string `json:"role"`
	// Content is a string, or []openAIContentPart when the message has attachments
	Content any `json:"content"`
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// EncodeRequest renders the JSON body for the request's format
func EncodeRequest(req stream.Request) ([]byte, error) {
	var payload any
	switch req.Format() {
	case stream.FormatNDJSON:
		payload = ollamaRequest(req)
	case stream.FormatSSE:
		payload = openAIRequest(req)
	default:
		return nil, fmt.Errorf("unsupported stream format %q", req.Format())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

func ollamaRequest(req stream.Request) ollamaChatRequest {
	messages := req.Messages()
	out := ollamaChatRequest{
		Model:    req.Model(),
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		msg := ollamaMessage{Role: m.Role}
		texts := []string{}
		if m.Content != "" {
			texts = append(texts, m.Content)
		}
		for _, p := range m.Parts {
			switch {
			case p.IsText():
				texts = append(texts, p.InlineText())
			case p.IsImage():
				msg.Images = append(msg.Images, p.Base64())
			default:
				logger.WithComponent("backend_encode").Warn("Dropping attachment the ndjson backend cannot accept",
					"name", p.Name, "mime_type", p.MIMEType)
			}
		}
		msg.Content = strings.Join(texts, "\n\n")
		out.Messages = append(out.Messages, msg)
	}
	return out
}

func openAIRequest(req stream.Request) openAIChatRequest {
	messages := req.Messages()
	out := openAIChatRequest{
		Model:    req.Model(),
		Messages: make([]openAIMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		if !m.HasParts() {
			out.Messages = append(out.Messages, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		out.Messages = append(out.Messages, openAIMessage{Role: m.Role, Content: openAIParts(m)})
	}
	return out
}

func openAIParts(m chat.Message) []openAIContentPart {
	parts := make([]openAIContentPart, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, openAIContentPart{Type: "text", Text: m.Content})
	}
	for _, p := range m.Parts {
		switch {
		case p.IsText():
			parts = append(parts, openAIContentPart{Type: "text", Text: p.InlineText()})
		case p.IsImage():
			parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: p.DataURL()}})
		default:
			parts = append(parts, openAIContentPart{Type: "file", File: &openAIFile{Filename: p.Name, FileData: p.DataURL()}})
		}
	}
	return parts
}
