package headless

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/tokenstream/pkg/conversation"
	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/killallgit/tokenstream/pkg/stream"
)

// Output handles status lines for headless mode. Reply text goes to stdout through the
// stream handler; everything here goes to the status writer.
type Output struct {
	w       io.Writer
	errorSt lipgloss.Style
	noteSt  lipgloss.Style
	statsSt lipgloss.Style
}

// NewOutput creates a new output handler styled for w
func NewOutput(w io.Writer) *Output {
	r := lipgloss.NewRenderer(w)
	return &Output{
		w:       w,
		errorSt: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		noteSt:  r.NewStyle().Foreground(lipgloss.Color("11")),
		statsSt: r.NewStyle().Faint(true),
	}
}

// Error prints an error message and logs it
func (o *Output) Error(msg string) {
	logger.Error("%s", msg)
	fmt.Fprintln(o.w, o.errorSt.Render("Error: "+msg))
}

// ReportedError is a failure that has already been printed to the status writer
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string {
	return e.Err.Error()
}

func (e *ReportedError) Unwrap() error {
	return e.Err
}

// Stopped notes that the reply was cut short by the user
func (o *Output) Stopped() {
	fmt.Fprintln(o.w, o.noteSt.Render("[stopped]"))
}

// Usage is the token count of one exchange
type Usage struct {
	Sent     int
	Received int
	// Exact is false when the counts are estimates
	Exact bool
}

// Stats prints the summary line for a finished reply
func (o *Output) Stats(state stream.State, stats conversation.Stats, usage Usage) {
	approx := "~"
	if usage.Exact {
		approx = ""
	}
	line := fmt.Sprintf("[%s - chunks: %d, chars: %d, tokens sent: %s%d, received: %s%d, time: %s]",
		state.GetDisplayName(), stats.ChunkCount, stats.ContentLength,
		approx, usage.Sent, approx, usage.Received,
		stats.Duration.Round(time.Millisecond))
	fmt.Fprintln(o.w, o.statsSt.Render(line))
}
