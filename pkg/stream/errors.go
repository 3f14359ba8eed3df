package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive rejects Start while another session of the same conversation runs
	ErrSessionActive = errors.New("a streaming session is already active for this conversation")

	// ErrNoBody is reported when the transport returned neither a body nor an error
	ErrNoBody = errors.New("backend returned no response body")
)

// PanicError carries a panic recovered from the read loop or a callback
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stream session panicked: %v", e.Value)
}
