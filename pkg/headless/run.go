package headless

import (
	"context"
	"fmt"
	"io"

	"github.com/killallgit/tokenstream/pkg/config"
)

// RunHeadless sends a single prompt with the loaded configuration. The reply is written
// to out and status lines to status.
func RunHeadless(ctx context.Context, settings *config.Config, prompt string, out, status io.Writer) error {
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty in headless mode")
	}

	r, err := newRunner(settings, out, status)
	if err != nil {
		return fmt.Errorf("failed to initialize headless mode: %w", err)
	}

	if err := r.run(ctx, prompt); err != nil {
		return fmt.Errorf("failed to execute prompt: %w", err)
	}
	return nil
}
