package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"askzine/pkg/model"
)

// ManifestWriter publishes volume manifests as JSON files for the layout
// toolchain to pick up.
type ManifestWriter struct {
	dir string
}

// NewManifestWriter creates the output directory if needed.
func NewManifestWriter(dir string) (*ManifestWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest dir: %w", err)
	}
	return &ManifestWriter{dir: dir}, nil
}

// Publish implements Publisher.
func (w *ManifestWriter) Publish(_ context.Context, m model.VolumeManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest %s: %w", m.VolumeID, err)
	}

	name := fmt.Sprintf("%s-vol%02d-%s.json", m.Period, m.Seq, m.VolumeID)
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", m.VolumeID, err)
	}
	return nil
}
