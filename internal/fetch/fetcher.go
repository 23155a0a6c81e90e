// Package fetch retrieves the remote release manifest and source archive.
// Nothing here touches the managed tree: archives are unpacked into a
// private staging directory that the caller releases with Archive.Close.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/version"
)

// Archive is an unpacked, verified release tree.
type Archive struct {
	// Dir is the root of the release tree (wrapper directory already stripped).
	Dir string
	// Manifest is the manifest file found inside the archive.
	Manifest *version.LocalManifest

	staging string
}

// Close removes the staging directory.
func (a *Archive) Close() error {
	if a == nil || a.staging == "" {
		return nil
	}
	err := os.RemoveAll(a.staging)
	a.staging = ""
	return err
}

// Options configures a Fetcher.
type Options struct {
	// ManifestFile is the manifest path inside an archive. Default "manifest.json".
	ManifestFile string
	// StagingDir is the parent for extraction directories. Default os.TempDir().
	StagingDir string
	Logger     *zap.Logger
}

// Fetcher implements version.ManifestSource and archive retrieval on top of a Getter.
type Fetcher struct {
	getter       Getter
	manifestFile string
	stagingDir   string
	logger       *zap.Logger
}

// New creates a Fetcher.
func New(getter Getter, opts Options) *Fetcher {
	if opts.ManifestFile == "" {
		opts.ManifestFile = "manifest.json"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Fetcher{
		getter:       getter,
		manifestFile: opts.ManifestFile,
		stagingDir:   opts.StagingDir,
		logger:       opts.Logger,
	}
}

// FetchManifest retrieves and decodes the remote manifest.
func (f *Fetcher) FetchManifest(ctx context.Context, endpoint string) (*version.Manifest, error) {
	if endpoint == "" {
		return nil, errors.New("fetch manifest: no endpoint configured")
	}
	data, err := f.getter.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	m, err := version.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("remote manifest %s: %w", endpoint, err)
	}
	f.logger.Debug("fetched manifest", zap.String("endpoint", endpoint), zap.Stringer("version", m.Version))
	return m, nil
}

// FetchArchive downloads the release archive, verifies it against want and
// unpacks it. When endpoint is empty the manifest's source location is used.
// Transport failures wrap failure.ErrNetwork; anything wrong with the
// artifact itself wraps failure.ErrVerification and the artifact is discarded.
func (f *Fetcher) FetchArchive(ctx context.Context, endpoint string, want *version.Manifest) (*Archive, error) {
	if want == nil {
		return nil, errors.New("fetch archive: no target manifest")
	}
	if endpoint == "" {
		endpoint = want.SourceLocation
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: manifest %s has no source location", failure.ErrVerification, want.Version)
	}

	data, err := f.getter.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	log := f.logger.With(zap.String("endpoint", endpoint), zap.Int("bytes", len(data)))

	if want.SHA256 != "" {
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, want.SHA256) {
			return nil, fmt.Errorf("%w: checksum mismatch for %s: got %s, want %s", failure.ErrVerification, endpoint, got, want.SHA256)
		}
		log.Debug("checksum verified")
	}

	staging, err := os.MkdirTemp(f.stagingDir, "skillctl-archive-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	archive, err := f.unpack(data, staging, want)
	if err != nil {
		os.RemoveAll(staging)
		return nil, err
	}
	log.Info("archive verified", zap.Stringer("version", archive.Manifest.Version))
	return archive, nil
}

func (f *Fetcher) unpack(data []byte, staging string, want *version.Manifest) (*Archive, error) {
	if err := extractTarGz(data, staging); err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrVerification, err)
	}
	root, err := contentRoot(staging, f.manifestFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrVerification, err)
	}
	manifest, err := version.ReadLocal(filepath.Join(root, f.manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: archive manifest: %w", failure.ErrVerification, err)
	}
	if version.Compare(manifest.Version, want.Version) != 0 {
		return nil, fmt.Errorf("%w: archive manifest version %s does not match release %s",
			failure.ErrVerification, manifest.Version, want.Version)
	}
	return &Archive{Dir: root, Manifest: manifest, staging: staging}, nil
}
