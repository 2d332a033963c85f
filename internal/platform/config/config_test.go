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
		"OJAWA_CART_SALT": "ojawa-salt-01",
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
	if cfg.Persistence.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Persistence.Backend)
	}
	if cfg.Persistence.SessionIdle != 30*time.Minute {
		t.Errorf("unexpected session idle: %s", cfg.Persistence.SessionIdle)
	}
	if cfg.CartCrypto.Iterations != 250000 {
		t.Errorf("unexpected kdf iterations: %d", cfg.CartCrypto.Iterations)
	}
	if cfg.Pricing.Currency != "NGN" || cfg.Pricing.Locale != "en-NG" {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.PubSub.ItemAddedTopic != defaultItemAddedTopic {
		t.Errorf("unexpected topic %s", cfg.PubSub.ItemAddedTopic)
	}
	if cfg.Security.GuestCookie != "ojawa_guest" {
		t.Errorf("unexpected guest cookie %s", cfg.Security.GuestCookie)
	}
	if cfg.Security.CookieSecure {
		t.Errorf("expected insecure cookies in local environment")
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"OJAWA_SERVER_PORT":                   "9090",
		"OJAWA_SERVER_IDLE_TIMEOUT":           "2m",
		"OJAWA_FIREBASE_PROJECT_ID":           "ojawa-prod",
		"OJAWA_REDIS_ADDR":                    "redis:6379",
		"OJAWA_REDIS_PASSWORD":                "secret://redis/password",
		"OJAWA_REDIS_DB":                      "2",
		"OJAWA_CART_BACKEND":                  "Redis",
		"OJAWA_CART_SLOT_TTL":                 "72h",
		"OJAWA_CART_PASSPHRASE":               "sm://cart/passphrase",
		"OJAWA_CART_SALT":                     "prod-salt-value",
		"OJAWA_CART_KDF_ITERATIONS":           "310000",
		"OJAWA_PRICING_CURRENCY":              "ghs",
		"OJAWA_SECURITY_ENVIRONMENT":          "PROD",
		"OJAWA_SECURITY_GUEST_COOKIE":         "guest_id",
		"OJAWA_PUBSUB_ITEM_ADDED_TOPIC":       "cart-events",
		"OJAWA_CART_SESSION_IDLE":             "10m",
		"OJAWA_SECURITY_GUEST_COOKIE_MAX_AGE": "24h",
	}
	secrets := map[string]string{
		"secret://redis/password":  "redis-pass",
		"secret://cart/passphrase": "pepper",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "ojawa-prod" || cfg.PubSub.ProjectID != "ojawa-prod" || cfg.Secrets.ProjectID != "ojawa-prod" {
		t.Errorf("expected project ids to default to firebase project")
	}
	if cfg.Persistence.Backend != BackendRedis || cfg.Persistence.SlotTTL != 72*time.Hour {
		t.Errorf("unexpected persistence config %+v", cfg.Persistence)
	}
	if cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.CartCrypto.Passphrase != "pepper" || cfg.CartCrypto.Iterations != 310000 {
		t.Errorf("unexpected crypto config %+v", cfg.CartCrypto)
	}
	if cfg.Pricing.Currency != "GHS" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Pricing.Currency)
	}
	if cfg.Security.Environment != "prod" || !cfg.Security.CookieSecure {
		t.Errorf("expected secure cookies in prod, got %+v", cfg.Security)
	}
	if cfg.Security.GuestCookieMaxAge != 24*time.Hour {
		t.Errorf("unexpected cookie max age %s", cfg.Security.GuestCookieMaxAge)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "OJAWA_SERVER_PORT=7070\nOJAWA_CART_SALT=\"dotenv-salt\"\n"
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
	if cfg.CartCrypto.Salt != "dotenv-salt" {
		t.Errorf("expected salt from dotenv, got %s", cfg.CartCrypto.Salt)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]struct {
		env   map[string]string
		field string
	}{
		"short salt":         {env: map[string]string{"OJAWA_CART_SALT": "short"}, field: "CartCrypto.Salt"},
		"unknown backend":    {env: map[string]string{"OJAWA_CART_SALT": "ojawa-salt-01", "OJAWA_CART_BACKEND": "sqlite"}, field: "Persistence.Backend"},
		"redis without addr": {env: map[string]string{"OJAWA_CART_SALT": "ojawa-salt-01", "OJAWA_CART_BACKEND": "redis"}, field: "Redis.Addr"},
		"firestore without project": {
			env:   map[string]string{"OJAWA_CART_SALT": "ojawa-salt-01", "OJAWA_CART_BACKEND": "firestore"},
			field: "Firestore.ProjectID",
		},
		"bad currency": {env: map[string]string{"OJAWA_CART_SALT": "ojawa-salt-01", "OJAWA_PRICING_CURRENCY": "NAIRA"}, field: "Pricing.Currency"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range validation.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["OJAWA_CART_PASSPHRASE"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("CartCrypto.Passphrase", "CartCrypto.Passphrase"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "CartCrypto.Passphrase" {
		t.Fatalf("unexpected missing names %v", names)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("CartCrypto.Passphrase") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "OJAWA_FIREBASE_PROJECT_ID=dot-project\nOJAWA_SECRETS_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("OJAWA_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("OJAWA_SECRETS_PROJECT_ID", "secrets-project")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"OJAWA_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["OJAWA_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["OJAWA_SECRETS_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["OJAWA_SECRETS_PROJECT_ID"]; got != "secrets-project" {
		t.Fatalf("expected system env project, got %s", got)
	}
}
