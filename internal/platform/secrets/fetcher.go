// Package secrets resolves secret:// references through Google Secret Manager,
// with an in-process cache and a local fallback file for development.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	refScheme           = "secret://"
	defaultVersion      = "latest"
)

// ErrNotFound indicates that the secret does not exist in Secret Manager nor
// in the local fallback file.
var ErrNotFound = errors.New("secrets: not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type managerClient struct {
	*secretmanager.Client
}

func (c managerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return c.Client.AccessSecretVersion(ctx, req)
}

// Fetcher resolves secret:// references with caching and fallback support.
type Fetcher struct {
	clientMu   sync.Mutex
	client     accessClient
	clientOpts []option.ClientOption
	ownsClient bool

	logger         *zap.Logger
	defaultProject string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger         *zap.Logger
	defaultProject string
	fallbackPath   string
	client         accessClient
	clientOpts     []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject configures the project used for bare secret names.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithClient injects a preconfigured access client (primarily for tests).
func WithClient(client accessClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. When no client is injected a real Secret
// Manager client is constructed lazily on first resolution, so local runs
// that only use the fallback file never dial Google.
func NewFetcher(opts ...Option) *Fetcher {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	fetcher := &Fetcher{
		client:         cfg.client,
		logger:         cfg.logger,
		defaultProject: cfg.defaultProject,
		fallbackPath:   cfg.fallbackPath,
		cache:          make(map[string]cacheEntry),
	}
	if fetcher.client == nil {
		fetcher.ownsClient = true
		fetcher.clientOpts = cfg.clientOpts
	}
	return fetcher
}

// ResolveSecret implements the config.SecretResolver contract for
// secret://<name> and secret://projects/<p>/secrets/<s>/versions/<v> refs.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	resource, name, err := f.canonicalResource(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(resource); ok {
		return value, nil
	}

	value, err := f.access(ctx, resource)
	if err == nil {
		f.store(resource, value)
		return value, nil
	}
	if status.Code(err) != codes.NotFound && !errors.Is(err, ErrNotFound) {
		f.logger.Warn("secrets: secret manager access failed, trying fallback",
			zap.String("secret", name),
			zap.Error(err),
		)
	}

	if value, ok := f.fallback(name); ok {
		f.store(resource, value)
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Close releases the underlying client when the fetcher constructed it.
func (f *Fetcher) Close() error {
	if f.client != nil && f.ownsClient {
		return f.client.Close()
	}
	return nil
}

func (f *Fetcher) canonicalResource(ref string) (resource, name string, err error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, refScheme) {
		return "", "", fmt.Errorf("secrets: unsupported reference %q", ref)
	}
	body := strings.TrimPrefix(trimmed, refScheme)
	if body == "" {
		return "", "", fmt.Errorf("secrets: empty reference")
	}
	if strings.HasPrefix(body, "projects/") {
		parts := strings.Split(body, "/")
		if len(parts) < 4 || parts[2] != "secrets" {
			return "", "", fmt.Errorf("secrets: malformed reference %q", ref)
		}
		if len(parts) == 4 {
			body = body + "/versions/" + defaultVersion
		}
		return body, parts[3], nil
	}
	if f.defaultProject == "" {
		return "", "", fmt.Errorf("secrets: no default project for bare reference %q", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.defaultProject, body, defaultVersion), body, nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", ErrNotFound
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) ensureClient(ctx context.Context) (accessClient, error) {
	f.clientMu.Lock()
	defer f.clientMu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	real, err := secretmanager.NewClient(ctx, f.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: construct client: %w", err)
	}
	f.client = managerClient{real}
	return f.client, nil
}

func (f *Fetcher) cached(resource string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[resource]
	if !ok {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(resource, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[resource] = cacheEntry{value: value, fetchedAt: time.Now().UTC()}
}

// fallback consults the local KEY=VALUE file, keyed by bare secret name.
func (f *Fetcher) fallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallbackVals, f.fallbackErr = loadFallbackFile(f.fallbackPath)
		if f.fallbackErr != nil {
			f.logger.Warn("secrets: unable to read fallback file",
				zap.String("path", f.fallbackPath),
				zap.Error(f.fallbackErr),
			)
		}
	})
	value, ok := f.fallbackVals[name]
	return value, ok
}

func loadFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	return values, scanner.Err()
}
