package version

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/pipeline"
)

// Manifest is the remote release descriptor fetched before any update decision.
type Manifest struct {
	Version        Version `json:"version"`
	ReleaseDate    string  `json:"releaseDate,omitempty"`
	SourceLocation string  `json:"source,omitempty"`
	SHA256         string  `json:"sha256,omitempty"`
}

// LocalManifest is the manifest file persisted inside the managed tree.
type LocalManifest struct {
	Version     Version `json:"version"`
	ReleaseDate string  `json:"releaseDate"`
}

// DecodeManifest parses a manifest document. The version field is required.
func DecodeManifest(data []byte) (*Manifest, error) {
	var raw struct {
		Version     *string `json:"version"`
		ReleaseDate string  `json:"releaseDate"`
		Source      string  `json:"source"`
		SHA256      string  `json:"sha256"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", failure.ErrVerification, err)
	}
	if raw.Version == nil {
		return nil, fmt.Errorf("%w: manifest has no version field", failure.ErrVerification)
	}
	v, err := Parse(*raw.Version)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Version:        v,
		ReleaseDate:    raw.ReleaseDate,
		SourceLocation: raw.Source,
		SHA256:         raw.SHA256,
	}, nil
}

// ReadLocal reads the manifest file at path.
func ReadLocal(path string) (*LocalManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local manifest: %w", err)
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("local manifest %s: %w", path, err)
	}
	return &LocalManifest{Version: m.Version, ReleaseDate: m.ReleaseDate}, nil
}

// WriteLocal atomically replaces the manifest file at path.
func WriteLocal(path string, m LocalManifest) error {
	if m.ReleaseDate == "" {
		m.ReleaseDate = time.Now().UTC().Format("2006-01-02")
	}
	return pipeline.WriteJSON(path, m)
}
