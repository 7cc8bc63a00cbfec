package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// RenderStore persists generated payloads and returns opaque content
// references for the manifest.
type RenderStore interface {
	Write(ctx context.Context, id string, payload []byte) (string, error)
}

// FileRenderStore writes payloads under a base directory. The content
// reference is the path relative to the base.
type FileRenderStore struct {
	base string
}

// NewFileRenderStore creates the base directory if needed.
func NewFileRenderStore(base string) (*FileRenderStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	return &FileRenderStore{base: base}, nil
}

func (s *FileRenderStore) Write(_ context.Context, id string, payload []byte) (string, error) {
	rel := id + ".png"
	if err := os.WriteFile(filepath.Join(s.base, rel), payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write render %s: %w", id, err)
	}
	return rel, nil
}
