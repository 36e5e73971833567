package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"STOREFRONT_COMMERCE_BASE_URL": "https://commerce.example",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Commerce.Timeout != 8*time.Second {
		t.Fatalf("expected default commerce timeout, got %v", cfg.Commerce.Timeout)
	}
	if cfg.Checkout.QuoteTTL != 5*time.Minute {
		t.Fatalf("expected default quote ttl, got %v", cfg.Checkout.QuoteTTL)
	}
	if cfg.Checkout.ResumeTTL != time.Hour {
		t.Fatalf("expected default resume ttl, got %v", cfg.Checkout.ResumeTTL)
	}
	if cfg.Checkout.DefaultLocale != "en" {
		t.Fatalf("expected default locale, got %q", cfg.Checkout.DefaultLocale)
	}
}

func TestLoadFailsWithoutCommerceBaseURL(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Commerce.BaseURL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Commerce.BaseURL flagged, got %v", validation.Fields())
	}
}

func TestLoadDefaultsProjectIDs(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"STOREFRONT_COMMERCE_BASE_URL":    "https://commerce.example",
			"STOREFRONT_FIRESTORE_PROJECT_ID": "bazaar-prod",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PubSub.ProjectID != "bazaar-prod" {
		t.Fatalf("expected pubsub project defaulted, got %q", cfg.PubSub.ProjectID)
	}
	if cfg.Trace.ProjectID != "bazaar-prod" {
		t.Fatalf("expected trace project defaulted, got %q", cfg.Trace.ProjectID)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if ref != "secret://projects/p/secrets/commerce-key/versions/latest" {
			t.Fatalf("unexpected ref %q", ref)
		}
		return "resolved-key", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Commerce.APIKey"),
		WithEnvMap(map[string]string{
			"STOREFRONT_COMMERCE_BASE_URL": "https://commerce.example",
			"STOREFRONT_COMMERCE_API_KEY":  "sm://projects/p/secrets/commerce-key/versions/latest",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Commerce.APIKey != "resolved-key" {
		t.Fatalf("expected resolved secret, got %q", cfg.Commerce.APIKey)
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Commerce.APIKey"),
		WithEnvMap(map[string]string{
			"STOREFRONT_COMMERCE_BASE_URL": "https://commerce.example",
		}),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Commerce.APIKey" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	contents := "STOREFRONT_COMMERCE_BASE_URL=https://commerce.local\nexport STOREFRONT_SERVER_PORT=\"9090\"\n# comment\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("unexpected error writing env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envFile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Commerce.BaseURL != "https://commerce.local" {
		t.Fatalf("unexpected base url %q", cfg.Commerce.BaseURL)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected quoted export parsed, got %q", cfg.Server.Port)
	}
}

func TestLoadRejectsTopicWithoutProject(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"STOREFRONT_COMMERCE_BASE_URL":     "https://commerce.example",
			"STOREFRONT_PUBSUB_CHECKOUT_TOPIC": "checkout-events",
		}),
	)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
