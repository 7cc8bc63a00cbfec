package llm

import (
	"context"
)

// Provider defines the interface for the external generation service.
type Provider interface {
	// GenerateText sends a prompt and returns the text response.
	// intent selects a configured model profile (e.g. "prompts", "captions").
	GenerateText(ctx context.Context, intent, prompt string) (string, error)

	// GenerateImage renders an image and returns the raw bytes.
	GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
}

// ImageRequest carries the parameters of one image generation call.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
}
