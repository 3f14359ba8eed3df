package controllers

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/killallgit/tokenstream/pkg/ollama"
)

type OllamaClient interface {
	Tags(ctx context.Context) (*ollama.TagsResponse, error)
	Ps(ctx context.Context) (*ollama.PsResponse, error)
}

type ModelsController struct {
	client OllamaClient
}

func NewModelsController(client OllamaClient) *ModelsController {
	return &ModelsController{
		client: client,
	}
}

func (mc *ModelsController) Tags(ctx context.Context) (*ollama.TagsResponse, error) {
	log := logger.WithComponent("models_controller")
	log.Debug("Calling ollama client Tags()")

	response, err := mc.client.Tags(ctx)
	if err != nil {
		log.Error("ollama client Tags() failed", "error", err)
		return nil, err
	}

	log.Debug("ollama client Tags() succeeded", "model_count", len(response.Models))
	return response, nil
}

// ListModels writes a table of installed models. Models currently loaded are marked;
// if the running list is unavailable the column is left empty.
func (mc *ModelsController) ListModels(ctx context.Context, writer io.Writer) error {
	response, err := mc.Tags(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	if len(response.Models) == 0 {
		fmt.Fprintln(writer, "No models found")
		return nil
	}

	running := mc.running(ctx)

	w := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tPARAMETER SIZE\tQUANTIZATION\tLOADED")

	for _, model := range response.Models {
		loaded := ""
		if running[model.Name] {
			loaded = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			model.Name,
			ollama.FormatSize(model.Size),
			model.Details.ParameterSize,
			model.Details.QuantizationLevel,
			loaded)
	}

	return w.Flush()
}

func (mc *ModelsController) running(ctx context.Context) map[string]bool {
	log := logger.WithComponent("models_controller")

	ps, err := mc.client.Ps(ctx)
	if err != nil {
		log.Warn("ollama client Ps() failed", "error", err)
		return nil
	}

	names := make(map[string]bool, len(ps.Models))
	for _, m := range ps.Models {
		names[m.Name] = true
	}
	return names
}
