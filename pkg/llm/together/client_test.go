package together

import (
	"testing"

	"askzine/pkg/config"
	"askzine/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Model: "m"}, config.ImageConfig{}, nil)
	require.Error(t, err, "missing key must be rejected")

	_, err = NewClient(config.LLMConfig{Key: "k"}, config.ImageConfig{}, nil)
	require.Error(t, err, "missing model must be rejected")

	c, err := NewClient(config.LLMConfig{
		Key:      "k",
		Model:    "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
		BaseURL:  "https://api.together.xyz/v1",
		Profiles: map[string]string{"captions": "other-model"},
	}, config.ImageConfig{Model: "flux"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "other-model", c.resolveModel("captions"))
	assert.Equal(t, "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free", c.resolveModel("prompts"))
}

func TestClassifyUnknownErrorIsTransient(t *testing.T) {
	err := classify(assert.AnError)
	assert.True(t, llm.IsTransient(err))
	assert.False(t, llm.IsFatal(err))
}
