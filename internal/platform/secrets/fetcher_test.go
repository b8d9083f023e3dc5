package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeFallbackFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	manager := newStubSecretManager()
	resource := "projects/test/secrets/stripe_webhook_secret/versions/latest"
	manager.values[resource] = "whsec_remote"

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(manager),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	)

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_webhook_secret")
		if err != nil {
			t.Fatalf("Resolve call %d returned error: %v", i+1, err)
		}
		if got != "whsec_remote" {
			t.Fatalf("Resolve call %d: expected whsec_remote, got %s", i+1, got)
		}
	}

	if calls := manager.callCount(resource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveHonoursVersionQuery(t *testing.T) {
	ctx := context.Background()

	manager := newStubSecretManager()
	resource := "projects/test/secrets/stripe_api_key/versions/5"
	manager.values[resource] = "sk_version_5"

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(manager),
		WithDefaultProject("test"),
	)

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key?version=5")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_version_5" {
		t.Fatalf("expected sk_version_5, got %s", got)
	}
	if calls := manager.callCount(resource); calls != 1 {
		t.Fatalf("expected fetch of version 5, got %d calls", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()

	fallbackPath := writeFallbackFile(t, "sm://stripe_api_key=sk_local\n")

	manager := newStubSecretManager()
	resource := "projects/test/secrets/stripe_api_key/versions/latest"
	manager.errors[resource] = status.Error(codes.PermissionDenied, "denied")

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(manager),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_local" {
		t.Fatalf("expected fallback secret sk_local, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()

	fallbackPath := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")

	manager := newStubSecretManager()
	resource := "projects/test/secrets/stripe_api_key/versions/latest"
	manager.errors[resource] = status.Error(codes.NotFound, "missing")

	fetcher := newTestFetcher(t,
		WithSecretManagerClient(manager),
		WithDefaultProject("test"),
		WithFallbackFile(fallbackPath),
	)

	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fallbackPath := writeFallbackFile(t, "secret://stripe_api_key=sk_local\n")
	fetcher := newTestFetcher(t, WithFallbackFile(fallbackPath))

	value, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "sk_local" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestResolveRejectsUnknownScheme(t *testing.T) {
	fetcher := newTestFetcher(t, WithSecretManagerClient(newStubSecretManager()))

	if _, err := fetcher.Resolve(context.Background(), "vault://stripe_api_key"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

type stubSecretManager struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newStubSecretManager() *stubSecretManager {
	return &stubSecretManager{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (s *stubSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.GetName()
	s.counter[name]++

	if err, ok := s.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := s.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *stubSecretManager) Close() error {
	return nil
}

func (s *stubSecretManager) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter[name]
}
