package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"askzine/pkg/config"
	"askzine/pkg/llm"
	"askzine/pkg/tracker"
)

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	textModel   string
	imageModel  string
	profiles    map[string]string // intent -> model
	tracker     *tracker.Tracker
	logPath     string

	mu sync.RWMutex
}

// NewClient creates a new Gemini client.
func NewClient(llmCfg config.LLMConfig, imgCfg config.ImageConfig, logPath string, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t, logPath: logPath}
	if err := c.Configure(llmCfg, imgCfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(llmCfg config.LLMConfig, imgCfg config.ImageConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = llmCfg.Key
	c.textModel = llmCfg.Model
	c.imageModel = imgCfg.Model
	c.profiles = llmCfg.Profiles

	if c.textModel == "" {
		c.textModel = "gemini-2.5-flash-lite"
	}
	if c.imageModel == "" {
		c.imageModel = "imagen-3.0-generate-002"
	}

	if c.apiKey == "" {
		// Can't initialize without key.
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: c.apiKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client

	if err := c.validateModel(context.Background()); err != nil {
		slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
		// We do NOT return error here, to allow startup even if the API is
		// flaky or rate-limited. A truly invalid key/model fails on first use.
	}

	return nil
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, intent, prompt string) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return "", llm.Fatal(fmt.Errorf("gemini client not configured"))
	}

	modelName := c.resolveModel(intent)

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), &genai.GenerateContentConfig{})
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("ERROR: %v", err))
		if c.tracker != nil {
			c.tracker.TrackAPIFailure("gemini")
		}
		return "", classify(fmt.Errorf("generate text error: %w", err))
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		if c.tracker != nil {
			c.tracker.TrackAPIFailure("gemini")
		}
		return "", llm.Transient(err)
	}

	c.logPrompt(intent, prompt, text)
	if c.tracker != nil {
		c.tracker.TrackAPISuccess("gemini")
	}
	return text, nil
}

// GenerateImage renders an image and returns the raw bytes.
func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) ([]byte, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return nil, llm.Fatal(fmt.Errorf("gemini client not configured"))
	}

	model := req.Model
	if model == "" {
		model = c.imageModel
	}

	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	}
	if req.NegativePrompt != "" {
		cfg.NegativePrompt = req.NegativePrompt
	}

	resp, err := client.Models.GenerateImages(ctx, model, req.Prompt, cfg)
	if err != nil {
		if c.tracker != nil {
			c.tracker.TrackAPIFailure("gemini")
		}
		return nil, classify(fmt.Errorf("generate image error: %w", err))
	}

	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		if c.tracker != nil {
			c.tracker.TrackAPIFailure("gemini")
		}
		return nil, llm.Transient(fmt.Errorf("no image returned for model %s", model))
	}

	if c.tracker != nil {
		c.tracker.TrackAPISuccess("gemini")
	}
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}

// HealthCheck verifies that the provider is configured and reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("gemini client not configured (missing API key)")
	}
	return c.validateModel(ctx)
}

// resolveModel returns the target model for the given intent.
func (c *Client) resolveModel(intent string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if profileModel, ok := c.profiles[intent]; ok && profileModel != "" {
		return profileModel
	}
	return c.textModel
}

// validateModel checks if the configured model is available for the API key.
func (c *Client) validateModel(ctx context.Context) error {
	name := c.textModel
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	_, err := c.genaiClient.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", c.textModel)
		return nil
	}
	return fmt.Errorf("model %s not available: %w", c.textModel, err)
}

// classify maps genai API errors onto the retry taxonomy.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.Code, err)
	}
	// Unknown shape: assume transient so the caller's bounded retry decides.
	return llm.Transient(err)
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (c *Client) logPrompt(intent, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] INTENT: %s\nPROMPT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, intent, prompt, response, strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}
