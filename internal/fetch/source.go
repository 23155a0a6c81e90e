package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 256 << 20

// Getter retrieves the bytes at a location. Transport failures wrap
// failure.ErrNetwork.
type Getter interface {
	Get(ctx context.Context, location string) ([]byte, error)
}

// SourceConfig configures the object-store and HTTP getters.
type SourceConfig struct {
	HTTPTimeout time.Duration
	MaxBytes    int64

	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool

	GCSCredentialsFile string
}

// Router dispatches by URI scheme: http(s), file (or a bare path), s3, gs.
type Router struct {
	HTTP Getter
	File Getter
	S3   Getter
	GCS  Getter
}

// NewRouter builds a Router with the default getters for every scheme.
// Object-store clients are created on first use.
func NewRouter(cfg SourceConfig) *Router {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Router{
		HTTP: &HTTPGetter{Client: &http.Client{Timeout: cfg.HTTPTimeout}, MaxBytes: cfg.MaxBytes},
		File: &FileGetter{MaxBytes: cfg.MaxBytes},
		S3:   &S3Getter{cfg: cfg},
		GCS:  &GCSGetter{cfg: cfg},
	}
}

// Get implements Getter.
func (r *Router) Get(ctx context.Context, location string) ([]byte, error) {
	scheme := ""
	if u, err := url.Parse(location); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	var g Getter
	switch scheme {
	case "http", "https":
		g = r.HTTP
	case "", "file":
		g = r.File
	case "s3":
		g = r.S3
	case "gs":
		g = r.GCS
	default:
		return nil, fmt.Errorf("%w: unsupported source scheme %q", failure.ErrNetwork, scheme)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: no getter for scheme %q", failure.ErrNetwork, scheme)
	}
	return g.Get(ctx, location)
}

// HTTPGetter fetches http and https URLs.
type HTTPGetter struct {
	Client   *http.Client
	MaxBytes int64
}

// Get implements Getter.
func (g *HTTPGetter) Get(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request %s: %v", failure.ErrNetwork, location, err)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		if isNetworkError(err) {
			return nil, fmt.Errorf("%w: network error while fetching %s: %v", failure.ErrNetwork, location, err)
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", failure.ErrNetwork, location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: unexpected status %s", failure.ErrNetwork, location, resp.Status)
	}
	return readLimited(resp.Body, g.MaxBytes, location)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FileGetter reads file:// URLs and plain paths.
type FileGetter struct {
	MaxBytes int64
}

// Get implements Getter.
func (g *FileGetter) Get(_ context.Context, location string) ([]byte, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", failure.ErrNetwork, location, err)
		}
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", failure.ErrNetwork, path, err)
	}
	defer f.Close()
	return readLimited(f, g.MaxBytes, location)
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Getter reads s3://bucket/key objects using the default AWS credential chain.
type S3Getter struct {
	cfg SourceConfig

	once   sync.Once
	client s3API
	err    error
}

func (g *S3Getter) init(ctx context.Context) error {
	g.once.Do(func() {
		if g.client != nil {
			return
		}
		var opts []func(*awsconfig.LoadOptions) error
		if g.cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(g.cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			g.err = fmt.Errorf("load AWS config: %w", err)
			return
		}
		var s3Opts []func(*s3.Options)
		if g.cfg.S3Endpoint != "" {
			endpoint := g.cfg.S3Endpoint
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		if g.cfg.S3UsePathStyle {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.UsePathStyle = true
			})
		}
		g.client = s3.NewFromConfig(awsCfg, s3Opts...)
	})
	return g.err
}

// Get implements Getter.
func (g *S3Getter) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := splitObjectURI(location, "s3")
	if err != nil {
		return nil, err
	}
	if err := g.init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrNetwork, err)
	}
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", failure.ErrNetwork, location, err)
	}
	defer out.Body.Close()
	return readLimited(out.Body, maxBytes(g.cfg.MaxBytes), location)
}

// GCSGetter reads gs://bucket/object objects. Credentials come from
// GCSCredentialsFile when set, otherwise from the application default chain.
type GCSGetter struct {
	cfg SourceConfig

	once sync.Once
	open func(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	err  error
}

func (g *GCSGetter) init(ctx context.Context) error {
	g.once.Do(func() {
		if g.open != nil {
			return
		}
		var opts []option.ClientOption
		if g.cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(g.cfg.GCSCredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			g.err = fmt.Errorf("create GCS storage client: %w", err)
			return
		}
		g.open = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
			return client.Bucket(bucket).Object(object).NewReader(ctx)
		}
	})
	return g.err
}

// Get implements Getter.
func (g *GCSGetter) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, object, err := splitObjectURI(location, "gs")
	if err != nil {
		return nil, err
	}
	if err := g.init(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrNetwork, err)
	}
	rc, err := g.open(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", failure.ErrNetwork, location, err)
	}
	defer rc.Close()
	return readLimited(rc, maxBytes(g.cfg.MaxBytes), location)
}

// splitObjectURI parses scheme://bucket/key.
func splitObjectURI(location, scheme string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a %s:// URI", failure.ErrNetwork, location, scheme)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q: want %s://bucket/key", failure.ErrNetwork, location, scheme)
	}
	return bucket, key, nil
}

func maxBytes(n int64) int64 {
	if n <= 0 {
		return DefaultMaxBytes
	}
	return n
}

func readLimited(r io.Reader, limit int64, location string) ([]byte, error) {
	limit = maxBytes(limit)
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", failure.ErrNetwork, location, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", failure.ErrVerification, location, limit)
	}
	return data, nil
}
