package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// StatusError is a non-2xx initial response
type StatusError struct {
	StatusCode int
	// Detail is the full response body text
	Detail string
	// Reason is the "error" or "error.message" field when the body is JSON
	Reason string
}

// NewStatusError builds a StatusError, extracting Reason from JSON bodies
func NewStatusError(statusCode int, body string) *StatusError {
	e := &StatusError{StatusCode: statusCode, Detail: body}
	trimmed := strings.TrimSpace(body)
	if gjson.Valid(trimmed) {
		errField := gjson.Get(trimmed, "error")
		switch {
		case errField.Type == gjson.String:
			e.Reason = errField.Str
		case errField.IsObject():
			e.Reason = errField.Get("message").String()
		}
	}
	return e
}

func (e *StatusError) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case strings.TrimSpace(e.Detail) != "":
		return e.Detail
	default:
		return fmt.Sprintf("request failed with status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}
