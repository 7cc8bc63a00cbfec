package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askzine/pkg/config"
	"askzine/pkg/llm/mock"
)

func testBuilder() *Builder {
	return NewBuilder(config.ImageConfig{
		Model:         "black-forest-labs/FLUX.1-schnell-Free",
		Width:         1024,
		Height:        768,
		Steps:         4,
		GuidanceScale: 3.5,
	})
}

func TestApplyStyle(t *testing.T) {
	b := testBuilder()
	style := config.StyleConfig{
		Name:           "minimalist",
		PromptSuffix:   ", minimalist architecture, clean lines",
		NegativePrompt: "ornate, busy",
	}

	got := b.ApplyStyle("  a quiet library  ", style)
	assert.Equal(t, "a quiet library, minimalist architecture, clean lines", got)

	// Empty suffix leaves the prompt untouched.
	assert.Equal(t, "a quiet library", b.ApplyStyle("a quiet library", config.StyleConfig{}))
}

func TestImageRequest(t *testing.T) {
	b := testBuilder()
	style := config.StyleConfig{Name: "brutalist", PromptSuffix: ", raw concrete", NegativePrompt: "delicate"}

	req := b.ImageRequest("a harbour at dawn", style)
	assert.Equal(t, "a harbour at dawn, raw concrete", req.Prompt)
	assert.Equal(t, "delicate", req.NegativePrompt)
	assert.Equal(t, 1024, req.Width)
	assert.Equal(t, 4, req.Steps)
}

func TestFanOut(t *testing.T) {
	b := testBuilder()
	p := mock.New()
	p.TextFn = func(intent, prompt string) (string, error) {
		return "1. a city in fog\n\n2) towers above clouds\n- a bridge of glass\nplain prompt line\n", nil
	}

	prompts, err := b.FanOut(context.Background(), p, "vertical cities", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a city in fog", "towers above clouds", "a bridge of glass"}, prompts)
}

func TestFanOutShortResponse(t *testing.T) {
	b := testBuilder()
	p := mock.New()
	p.TextFn = func(intent, prompt string) (string, error) {
		return "only one prompt", nil
	}

	prompts, err := b.FanOut(context.Background(), p, "theme", 5)
	require.NoError(t, err)
	assert.Len(t, prompts, 1)
}

func TestFanOutEmptyResponse(t *testing.T) {
	b := testBuilder()
	p := mock.New()
	p.TextFn = func(intent, prompt string) (string, error) {
		return "\n\n   \n", nil
	}

	_, err := b.FanOut(context.Background(), p, "theme", 3)
	assert.Error(t, err)
}

func TestCleanCaption(t *testing.T) {
	raw := "```\n\"Line one\"\nLine two\n\nLine three\nLine four\nLine five\nLine six\nLine seven\n```"
	got := CleanCaption(raw)

	assert.Equal(t, "Line one\nLine two\nLine three\nLine four\nLine five\nLine six", got)
	assert.NotContains(t, got, "seven")
}
