// Package mock provides a deterministic offline llm.Provider for tests and
// dry runs.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"askzine/pkg/llm"
)

// Provider returns canned responses derived from the prompt.
type Provider struct {
	calls atomic.Int64

	// TextFn and ImageFn override the default responses when set.
	TextFn  func(intent, prompt string) (string, error)
	ImageFn func(req llm.ImageRequest) ([]byte, error)
}

// New creates a mock provider.
func New() *Provider {
	return &Provider{}
}

// Calls returns the number of generation calls made.
func (m *Provider) Calls() int64 {
	return m.calls.Load()
}

func (m *Provider) GenerateText(_ context.Context, intent, prompt string) (string, error) {
	m.calls.Add(1)
	if m.TextFn != nil {
		return m.TextFn(intent, prompt)
	}
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("mock %s response %08x", intent, h.Sum32()), nil
}

func (m *Provider) GenerateImage(_ context.Context, req llm.ImageRequest) ([]byte, error) {
	m.calls.Add(1)
	if m.ImageFn != nil {
		return m.ImageFn(req)
	}
	return []byte("mock-image:" + req.Prompt), nil
}

func (m *Provider) HealthCheck(context.Context) error {
	return nil
}
