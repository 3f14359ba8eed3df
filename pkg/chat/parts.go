package chat

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// PartKind distinguishes attachment payloads.
type PartKind string

const (
	PartText   PartKind = "text"
	PartBinary PartKind = "binary"
)

// Part is an attachment carried alongside a message's text content.
type Part struct {
	Kind     PartKind `json:"kind"`
	Name     string   `json:"name,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
	Text     string   `json:"text,omitempty"`
	Data     []byte   `json:"data,omitempty"`
}

func NewTextPart(name, text string) Part {
	return Part{Kind: PartText, Name: name, MIMEType: "text/plain", Text: text}
}

func NewBinaryPart(name, mimeType string, data []byte) Part {
	return Part{Kind: PartBinary, Name: name, MIMEType: mimeType, Data: data}
}

func (p Part) IsText() bool {
	return p.Kind == PartText
}

func (p Part) IsBinary() bool {
	return p.Kind == PartBinary
}

// IsImage reports whether the part is binary image data.
func (p Part) IsImage() bool {
	return p.IsBinary() && strings.HasPrefix(p.MIMEType, "image/")
}

// Base64 returns the standard base64 encoding of the part's bytes.
func (p Part) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL renders the part as a data: URL.
func (p Part) DataURL() string {
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, p.Base64())
}

// InlineText renders a text part the way it is appended to message content.
func (p Part) InlineText() string {
	if p.Name == "" {
		return p.Text
	}
	return fmt.Sprintf("--- %s ---\n%s", p.Name, p.Text)
}

func (p Part) Clone() Part {
	out := p
	if p.Data != nil {
		out.Data = append([]byte(nil), p.Data...)
	}
	return out
}
