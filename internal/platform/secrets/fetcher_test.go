package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubAccessClient struct {
	accessFunc func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	closed     bool
}

func (s *stubAccessClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if s.accessFunc == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return s.accessFunc(ctx, req)
}

func (s *stubAccessClient) Close() error {
	s.closed = true
	return nil
}

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func TestResolveSecretFullReference(t *testing.T) {
	var requested string
	client := &stubAccessClient{
		accessFunc: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			requested = req.GetName()
			return payload("s3cret"), nil
		},
	}

	fetcher := NewFetcher(WithClient(client), WithFallbackFile(""))
	value, err := fetcher.ResolveSecret(context.Background(), "secret://projects/p/secrets/commerce-key/versions/3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "s3cret" {
		t.Fatalf("unexpected value %q", value)
	}
	if requested != "projects/p/secrets/commerce-key/versions/3" {
		t.Fatalf("unexpected resource %q", requested)
	}
}

func TestResolveSecretBareNameUsesDefaultProject(t *testing.T) {
	var requested string
	client := &stubAccessClient{
		accessFunc: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			requested = req.GetName()
			return payload("v"), nil
		},
	}

	fetcher := NewFetcher(WithClient(client), WithDefaultProject("bazaar-prod"), WithFallbackFile(""))
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://commerce-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requested != "projects/bazaar-prod/secrets/commerce-key/versions/latest" {
		t.Fatalf("unexpected resource %q", requested)
	}
}

func TestResolveSecretCachesValues(t *testing.T) {
	calls := 0
	client := &stubAccessClient{
		accessFunc: func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			calls++
			return payload("cached"), nil
		},
	}

	fetcher := NewFetcher(WithClient(client), WithDefaultProject("p"), WithFallbackFile(""))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := fetcher.ResolveSecret(ctx, "secret://commerce-key"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one backend access, got %d", calls)
	}
}

func TestResolveSecretFallsBackToLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("commerce-key=local-value\n# comment\n"), 0o600); err != nil {
		t.Fatalf("unexpected error writing fallback: %v", err)
	}

	fetcher := NewFetcher(
		WithClient(&stubAccessClient{}),
		WithDefaultProject("p"),
		WithFallbackFile(path),
	)
	value, err := fetcher.ResolveSecret(context.Background(), "secret://commerce-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "local-value" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestResolveSecretNotFound(t *testing.T) {
	fetcher := NewFetcher(
		WithClient(&stubAccessClient{}),
		WithDefaultProject("p"),
		WithFallbackFile(""),
	)
	_, err := fetcher.ResolveSecret(context.Background(), "secret://missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSecretRejectsMalformedRefs(t *testing.T) {
	fetcher := NewFetcher(WithClient(&stubAccessClient{}), WithFallbackFile(""))
	if _, err := fetcher.ResolveSecret(context.Background(), "vault://nope"); err == nil {
		t.Fatalf("expected error for foreign scheme")
	}
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://projects/p/nope"); err == nil {
		t.Fatalf("expected error for malformed projects path")
	}
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://bare"); err == nil {
		t.Fatalf("expected error for bare ref without default project")
	}
}

func TestCloseOnlyClosesOwnedClient(t *testing.T) {
	client := &stubAccessClient{}
	fetcher := NewFetcher(WithClient(client))
	if err := fetcher.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.closed {
		t.Fatalf("expected injected client left open")
	}
}
