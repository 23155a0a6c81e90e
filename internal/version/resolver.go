package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// ManifestSource fetches the remote release manifest.
type ManifestSource interface {
	FetchManifest(ctx context.Context, endpoint string) (*Manifest, error)
}

// Status is the outcome of a version check.
type Status string

const (
	StatusUpToDate        Status = "up_to_date"
	StatusUpdateAvailable Status = "update_available"
	StatusUnknown         Status = "unknown"
)

// CheckResult describes a local-vs-remote comparison.
type CheckResult struct {
	Status Status    `json:"status"`
	Local  Version   `json:"local"`
	Remote *Manifest `json:"remote,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Resolver compares the local manifest with the remote one.
type Resolver struct {
	source    ManifestSource
	localPath string
	endpoint  string
}

// NewResolver creates a Resolver reading the local manifest at localPath and
// fetching the remote manifest from endpoint.
func NewResolver(source ManifestSource, localPath, endpoint string) *Resolver {
	return &Resolver{source: source, localPath: localPath, endpoint: endpoint}
}

// Local reads the local manifest.
func (r *Resolver) Local() (*LocalManifest, error) {
	return ReadLocal(r.localPath)
}

// Check reads the local manifest and compares it with the remote one.
// A network failure is not an error: the result reports StatusUnknown.
func (r *Resolver) Check(ctx context.Context) (*CheckResult, error) {
	local, err := r.Local()
	if err != nil {
		return nil, err
	}

	remote, err := r.source.FetchManifest(ctx, r.endpoint)
	if err != nil {
		if errors.Is(err, failure.ErrNetwork) {
			return &CheckResult{
				Status: StatusUnknown,
				Local:  local.Version,
				Reason: fmt.Sprintf("could not determine latest version: %v", err),
			}, nil
		}
		return nil, fmt.Errorf("remote manifest: %w", err)
	}

	res := &CheckResult{Local: local.Version, Remote: remote, Status: StatusUpToDate}
	if IsUpdateAvailable(local.Version, remote.Version) {
		res.Status = StatusUpdateAvailable
	}
	return res, nil
}
