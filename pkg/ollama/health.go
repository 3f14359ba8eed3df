package ollama

import (
	"context"
	"fmt"

	"github.com/killallgit/tokenstream/pkg/logger"
)

// HealthStatus represents the health status of the backend
type HealthStatus struct {
	Available bool
	Error     error
	Models    []Model
}

// CheckHealth reports whether the backend answers and which models it has.
// Connectivity problems are reported in the status, not as an error.
func (c *Client) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	log := logger.WithComponent("ollama_health")
	log.Debug("Checking backend health", "base_url", c.baseURL)

	tagsResp, err := c.Tags(ctx)
	if err != nil {
		log.Error("Backend unavailable", "error", err)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Errorf("cannot reach backend at %s: %w", c.baseURL, err),
		}, nil
	}

	log.Debug("Backend health check successful", "model_count", len(tagsResp.Models))
	return &HealthStatus{
		Available: true,
		Models:    tagsResp.Models,
	}, nil
}

// CheckModel checks if a specific model is available
func (c *Client) CheckModel(ctx context.Context, modelName string) (bool, error) {
	log := logger.WithComponent("ollama_health")

	health, err := c.CheckHealth(ctx)
	if err != nil {
		return false, err
	}
	if !health.Available {
		return false, health.Error
	}

	for _, model := range health.Models {
		if model.Name == modelName {
			log.Debug("Model found", "model", modelName)
			return true, nil
		}
	}

	log.Debug("Model not found", "model", modelName)
	return false, nil
}
