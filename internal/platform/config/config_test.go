package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CHECKOUT_FIRESTORE_PROJECT_ID": "vc-dev",
		"CHECKOUT_GATEWAY_BASE_URL":     "https://gateway.example.com",
		"CHECKOUT_GATEWAY_API_KEY":      "gw-api-key",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.PubSub.ProjectID != "vc-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Checkout.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Checkout.Currency)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.RateLimits.CheckoutPerMinute != 30 {
		t.Errorf("unexpected checkout rate limit: %d", cfg.RateLimits.CheckoutPerMinute)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_ENV":                         "prod",
		"CHECKOUT_SERVER_PORT":                 "9090",
		"CHECKOUT_SERVER_READ_TIMEOUT":         "20s",
		"CHECKOUT_SERVER_WRITE_TIMEOUT":        "25s",
		"CHECKOUT_SERVER_IDLE_TIMEOUT":         "2m",
		"CHECKOUT_FIRESTORE_PROJECT_ID":        "vc-prod",
		"CHECKOUT_FIRESTORE_EMULATOR_HOST":     "",
		"CHECKOUT_GATEWAY_BASE_URL":            "https://gateway.example.com",
		"CHECKOUT_GATEWAY_API_KEY":             "secret://gateway/api",
		"CHECKOUT_GATEWAY_SECRET_KEY":          "secret://gateway/hmac",
		"CHECKOUT_STRIPE_API_KEY":              "secret://stripe/api",
		"CHECKOUT_STRIPE_ACCOUNT_ID":           "acct_123",
		"CHECKOUT_PUBSUB_PROJECT_ID":           "vc-events",
		"CHECKOUT_PUBSUB_TOPIC_ORDERS":         "order-events",
		"CHECKOUT_PUBSUB_TOPIC_CARTS":          "cart-clears",
		"CHECKOUT_MAIL_RELAY_URL":              "https://mail.internal/send",
		"CHECKOUT_CALLBACK_BASE_URL":           "https://shop.example.com/checkout/confirm",
		"CHECKOUT_CURRENCY":                    "eur",
		"CHECKOUT_RATELIMIT_DEFAULT_PER_MIN":   "150",
		"CHECKOUT_RATELIMIT_CHECKOUT_PER_MIN":  "40",
		"CHECKOUT_IDEMPOTENCY_HEADER":          "X-Idem-Key",
		"CHECKOUT_IDEMPOTENCY_TTL":             "48h",
		"CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH":   "500",
	}

	secrets := map[string]string{
		"secret://gateway/api":  "gw-key",
		"secret://gateway/hmac": "gw-hmac",
		"secret://stripe/api":   "stripe-key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected environment prod, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Gateway.APIKey != "gw-key" {
		t.Errorf("expected resolved gateway api key, got %s", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.SecretKey != "gw-hmac" {
		t.Errorf("expected resolved gateway secret, got %s", cfg.Gateway.SecretKey)
	}
	if cfg.Stripe.APIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.Stripe.APIKey)
	}
	if cfg.PubSub.ProjectID != "vc-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventTopic != "order-events" || cfg.PubSub.CartClearTopic != "cart-clears" {
		t.Errorf("unexpected topics %+v", cfg.PubSub)
	}
	if cfg.Checkout.Currency != "EUR" {
		t.Errorf("expected currency upper-cased to EUR, got %s", cfg.Checkout.Currency)
	}
	if cfg.Checkout.CallbackBaseURL != "https://shop.example.com/checkout/confirm" {
		t.Errorf("unexpected callback base url %s", cfg.Checkout.CallbackBaseURL)
	}
	if cfg.RateLimits.CheckoutPerMinute != 40 {
		t.Errorf("unexpected checkout rate limit %d", cfg.RateLimits.CheckoutPerMinute)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadSandboxSkipsGatewayValidation(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_FIRESTORE_PROJECT_ID": "vc-dev",
		"CHECKOUT_GATEWAY_SANDBOX":      "true",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Gateway.Sandbox {
		t.Fatal("expected sandbox mode enabled")
	}
	if cfg.Gateway.BaseURL != "" || cfg.Gateway.APIKey != "" {
		t.Fatalf("expected empty gateway credentials, got %+v", cfg.Gateway)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "CHECKOUT_SERVER_PORT=7070\nCHECKOUT_FIRESTORE_PROJECT_ID=vc-dot\nCHECKOUT_GATEWAY_SANDBOX=true\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "vc-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_STRIPE_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "CHECKOUT_FIRESTORE_PROJECT_ID=dot-project\nCHECKOUT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("CHECKOUT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("CHECKOUT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"CHECKOUT_FIRESTORE_PROJECT_ID": "override-project",
		"CHECKOUT_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["CHECKOUT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Stripe.APIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Stripe.APIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_GATEWAY_SECRET_KEY"] = "sm://gateway/hmac"

	secrets := map[string]string{
		"secret://gateway/hmac": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.SecretKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Gateway.SecretKey)
	}
}
