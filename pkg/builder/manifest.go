package builder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manifest is the machine-readable summary written after a successful build.
type Manifest struct {
	BuildID   string            `json:"build_id"`
	Name      string            `json:"name"`
	AMIName   string            `json:"ami_name"`
	SourceAMI string            `json:"source_ami"`
	Images    map[string]string `json:"images"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewManifest builds a manifest from a build result.
func NewManifest(r *Result) Manifest {
	return Manifest{
		BuildID:   r.BuildID,
		Name:      r.Name,
		AMIName:   r.AMIName,
		SourceAMI: r.SourceAMI,
		Images:    r.Images,
		CreatedAt: time.Now().UTC(),
	}
}

// WriteManifest writes m as indented JSON, creating parent directories.
func WriteManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
