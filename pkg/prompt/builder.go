// Package prompt assembles the text sent to the generation providers:
// styled image prompts, the fan-out request that turns one theme into a
// batch of prompts, and caption prompts for finished images.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"askzine/pkg/config"
	"askzine/pkg/llm"
)

// Builder assembles prompts from themes and configured styles.
type Builder struct {
	image config.ImageConfig
}

// NewBuilder creates a prompt builder bound to the image settings.
func NewBuilder(image config.ImageConfig) *Builder {
	return &Builder{image: image}
}

// ApplyStyle appends the style's prompt suffix to a base prompt.
func (b *Builder) ApplyStyle(base string, style config.StyleConfig) string {
	base = strings.TrimSpace(base)
	if style.PromptSuffix == "" {
		return base
	}
	return base + style.PromptSuffix
}

// ImageRequest builds the provider request for a styled prompt.
func (b *Builder) ImageRequest(base string, style config.StyleConfig) llm.ImageRequest {
	return llm.ImageRequest{
		Prompt:         b.ApplyStyle(base, style),
		NegativePrompt: style.NegativePrompt,
		Model:          b.image.Model,
		Width:          b.image.Width,
		Height:         b.image.Height,
		Steps:          b.image.Steps,
		GuidanceScale:  b.image.GuidanceScale,
	}
}

// FanOut asks the text provider to expand a theme into n distinct image
// prompts, one per line. The result is trimmed to at most n prompts; fewer
// lines than requested is not an error as long as at least one survives.
func (b *Builder) FanOut(ctx context.Context, p llm.Provider, theme string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("prompt fan-out count must be positive, got %d", n)
	}

	req := fmt.Sprintf(
		"Generate %d distinct, visually rich image generation prompts exploring the theme %q. "+
			"Each prompt should describe a single scene in one sentence. "+
			"Output exactly one prompt per line with no numbering, bullets, or commentary.",
		n, theme)

	raw, err := p.GenerateText(ctx, "prompts", req)
	if err != nil {
		return nil, fmt.Errorf("fan-out for theme %q: %w", theme, err)
	}

	var prompts []string
	for _, line := range llm.NonEmptyLines(raw) {
		line = stripListMarker(line)
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
		if len(prompts) == n {
			break
		}
	}

	if len(prompts) == 0 {
		return nil, fmt.Errorf("fan-out for theme %q returned no usable prompts", theme)
	}
	return prompts, nil
}

// CaptionPrompt builds the request for a short caption describing an image
// that was generated from the given prompt.
func (b *Builder) CaptionPrompt(imagePrompt string) string {
	return fmt.Sprintf(
		"Write a short, evocative caption (at most six lines) for an image generated from this prompt: %q. "+
			"Do not mention that the image is AI-generated. Output only the caption text.",
		imagePrompt)
}

// CleanCaption normalises a raw caption response: markdown fences and
// surrounding quotes are stripped, and only the first six non-empty lines
// are kept.
func CleanCaption(raw string) string {
	raw = llm.CleanJSONBlock(raw)
	lines := llm.NonEmptyLines(raw)
	if len(lines) > 6 {
		lines = lines[:6]
	}
	for i, l := range lines {
		lines[i] = strings.Trim(l, `"'`)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// stripListMarker removes a leading bullet or "1." style ordinal that models
// add despite instructions.
func stripListMarker(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "- ")
	s = strings.TrimPrefix(s, "* ")
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == '.' || r == ')') && i > 0 {
			return strings.TrimSpace(s[i+1:])
		}
		break
	}
	return s
}
