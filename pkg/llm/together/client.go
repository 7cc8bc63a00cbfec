package together

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"askzine/pkg/config"
	"askzine/pkg/llm"
	"askzine/pkg/tracker"
)

// Client implements llm.Provider against any OpenAI-compatible API
// (Together AI by default) using the official openai-go SDK.
type Client struct {
	opts       []option.RequestOption
	textModel  string
	imageModel string
	profiles   map[string]string
	imgCfg     config.ImageConfig
	tracker    *tracker.Tracker

	mu sync.RWMutex
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(llmCfg config.LLMConfig, imgCfg config.ImageConfig, t *tracker.Tracker) (*Client, error) {
	if llmCfg.Key == "" {
		return nil, fmt.Errorf("together api key missing; set llm.key or TOGETHER_API_KEY")
	}
	if llmCfg.Model == "" {
		return nil, fmt.Errorf("llm.model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(llmCfg.Key)}
	if llmCfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmCfg.BaseURL))
	}

	return &Client{
		opts:       opts,
		textModel:  llmCfg.Model,
		imageModel: imgCfg.Model,
		profiles:   llmCfg.Profiles,
		imgCfg:     imgCfg,
		tracker:    t,
	}, nil
}

// GenerateText sends a prompt through the chat completions endpoint.
func (c *Client) GenerateText(ctx context.Context, intent, prompt string) (string, error) {
	client := openai.NewClient(c.opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.resolveModel(intent)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		c.trackFailure()
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		c.trackFailure()
		return "", llm.Transient(errors.New("empty choices in completion response"))
	}

	c.trackSuccess()
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage renders an image through the images endpoint. Together's
// FLUX models accept steps and negative_prompt as extra body fields.
func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) ([]byte, error) {
	client := openai.NewClient(c.opts...)

	model := req.Model
	if model == "" {
		model = c.imageModel
	}
	width, height := req.Width, req.Height
	if width == 0 {
		width = c.imgCfg.Width
	}
	if height == 0 {
		height = c.imgCfg.Height
	}

	callOpts := []option.RequestOption{
		option.WithJSONSet("width", width),
		option.WithJSONSet("height", height),
	}
	if req.Steps > 0 {
		callOpts = append(callOpts, option.WithJSONSet("steps", req.Steps))
	}
	if req.GuidanceScale > 0 {
		callOpts = append(callOpts, option.WithJSONSet("guidance_scale", req.GuidanceScale))
	}
	if req.NegativePrompt != "" {
		callOpts = append(callOpts, option.WithJSONSet("negative_prompt", req.NegativePrompt))
	}

	resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}, callOpts...)
	if err != nil {
		c.trackFailure()
		return nil, classify(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		c.trackFailure()
		return nil, llm.Transient(fmt.Errorf("no image data returned for model %s", model))
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		c.trackFailure()
		return nil, llm.Transient(fmt.Errorf("malformed image payload: %w", err))
	}

	c.trackSuccess()
	return raw, nil
}

// HealthCheck verifies the endpoint is reachable with the configured key.
func (c *Client) HealthCheck(ctx context.Context) error {
	client := openai.NewClient(c.opts...)
	if _, err := client.Models.List(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) resolveModel(intent string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.profiles[intent]; ok && m != "" {
		return m
	}
	return c.textModel
}

func (c *Client) trackSuccess() {
	if c.tracker != nil {
		c.tracker.TrackAPISuccess("together")
	}
}

func (c *Client) trackFailure() {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure("together")
	}
}

// classify maps openai-go API errors onto the retry taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.StatusCode, err)
	}
	// Transport-level failures (timeouts, resets) are worth retrying.
	return llm.Transient(err)
}
