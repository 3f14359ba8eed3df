package stream

import (
	"bytes"
	"fmt"
)

// ErrLineTooLong is returned when a producer sends more than the configured number of
// bytes without a newline.
var ErrLineTooLong = fmt.Errorf("stream line exceeds maximum length")

// LineReassembler buffers decoded text and yields complete newline-terminated lines.
// Between pushes the buffer holds at most one partial trailing line.
type LineReassembler struct {
	buf     []byte
	maxLine int
}

// NewLineReassembler limits a pending partial line to maxLine bytes; zero means unbounded.
func NewLineReassembler(maxLine int) *LineReassembler {
	return &LineReassembler{maxLine: maxLine}
}

// Push appends text and returns every line it completed, in order, without the
// trailing "\n" or a "\r" directly before it.
func (r *LineReassembler) Push(text string) ([]string, error) {
	r.buf = append(r.buf, text...)

	last := bytes.LastIndexByte(r.buf, '\n')
	var lines []string
	if last >= 0 {
		complete := r.buf[:last]
		for {
			i := bytes.IndexByte(complete, '\n')
			if i < 0 {
				lines = append(lines, trimCR(complete))
				break
			}
			lines = append(lines, trimCR(complete[:i]))
			complete = complete[i+1:]
		}
		rest := copy(r.buf, r.buf[last+1:])
		r.buf = r.buf[:rest]
	}

	if r.maxLine > 0 && len(r.buf) > r.maxLine {
		return lines, fmt.Errorf("%w (%d bytes buffered, limit %d)", ErrLineTooLong, len(r.buf), r.maxLine)
	}
	return lines, nil
}

// Flush returns the retained partial line, if any, and empties the buffer. Some NDJSON
// producers omit the newline after the last record.
func (r *LineReassembler) Flush() (string, bool) {
	if len(r.buf) == 0 {
		return "", false
	}
	line := string(r.buf)
	r.buf = r.buf[:0]
	return line, true
}

// Buffered reports the size of the retained partial line
func (r *LineReassembler) Buffered() int {
	return len(r.buf)
}

func trimCR(line []byte) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line)
}
