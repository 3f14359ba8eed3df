package headless

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/killallgit/tokenstream/pkg/stream"
)

// headlessStreamHandler prints tokens as they arrive and remembers whether the output
// ended mid-line
type headlessStreamHandler struct {
	out io.Writer

	mu      sync.Mutex
	wrote   bool
	newline bool
}

func newHeadlessStreamHandler(out io.Writer) *headlessStreamHandler {
	return &headlessStreamHandler{out: out, newline: true}
}

// OnToken prints the fragment to stdout
func (h *headlessStreamHandler) OnToken(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprint(h.out, text)
	h.wrote = true
	h.newline = strings.HasSuffix(text, "\n")
}

// OnComplete finishes the line
func (h *headlessStreamHandler) OnComplete() {
	h.endLine()
}

// OnError finishes the line; the runner reports the error
func (h *headlessStreamHandler) OnError(err error) {
	h.endLine()
}

func (h *headlessStreamHandler) endLine() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wrote && !h.newline {
		fmt.Fprintln(h.out)
		h.newline = true
	}
}

var _ stream.Handler = (*headlessStreamHandler)(nil)
