package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultRedisDB            = 0
	defaultRedisAttempts      = 5
	defaultRedisBackoff       = 2 * time.Second
	defaultItemAddedTopic     = "cart-item-added"
	defaultBackend            = BackendMemory
	defaultSlotTTL            = 30 * 24 * time.Hour
	defaultSlotPrefix         = "ojawa:"
	defaultSessionIdle        = 30 * time.Minute
	defaultEvictInterval      = 5 * time.Minute
	defaultCryptoIterations   = 250000
	defaultCurrency           = "NGN"
	defaultLocale             = "en-NG"
	defaultSecurityEnv        = "local"
	defaultGuestCookie        = "ojawa_guest"
	defaultGuestCookieMaxAge  = 30 * 24 * time.Hour
	defaultAdminRole          = "admin"
	minCryptoSaltLength       = 8
	defaultSecretFallbackFile = ".secrets.local"
)

// Persistence backends for encrypted cart slots.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Persistence PersistenceConfig
	CartCrypto  CartCryptoConfig
	Pricing     PricingConfig
	Security    SecurityConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings. An empty project disables ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig addresses the key/value store backing cart slots.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// PubSubConfig controls cart event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID      string
	ItemAddedTopic string
}

// PersistenceConfig selects where encrypted cart slots live and how long idle sessions stay resident.
type PersistenceConfig struct {
	Backend          string
	SlotTTL          time.Duration
	SlotKeyPrefix    string
	SessionIdle      time.Duration
	EvictionInterval time.Duration
}

// CartCryptoConfig carries key derivation inputs for cart encryption.
type CartCryptoConfig struct {
	Passphrase string
	Salt       string
	Iterations int
}

// PricingConfig controls display formatting of quotes.
type PricingConfig struct {
	Currency string
	Locale   string
}

// SecurityConfig groups identity and cookie settings.
type SecurityConfig struct {
	Environment       string
	GuestCookie       string
	GuestCookieMaxAge time.Duration
	CookieSecure      bool
	AdminRole         string
}

// SecretsConfig configures secret:// reference resolution.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map that takes precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "CartCrypto.Passphrase") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// build dependencies such as the secret fetcher before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return nil, err
	}
	return lookup.values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str("OJAWA_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("OJAWA_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("OJAWA_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("OJAWA_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("OJAWA_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("OJAWA_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("OJAWA_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("OJAWA_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("OJAWA_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:            env.str("OJAWA_REDIS_ADDR", ""),
			Password:        env.str("OJAWA_REDIS_PASSWORD", ""),
			DB:              env.integer("OJAWA_REDIS_DB", defaultRedisDB),
			ConnectAttempts: env.integer("OJAWA_REDIS_CONNECT_ATTEMPTS", defaultRedisAttempts),
			ConnectBackoff:  env.duration("OJAWA_REDIS_CONNECT_BACKOFF", defaultRedisBackoff),
		},
		PubSub: PubSubConfig{
			ProjectID:      env.str("OJAWA_PUBSUB_PROJECT_ID", ""),
			ItemAddedTopic: env.str("OJAWA_PUBSUB_ITEM_ADDED_TOPIC", defaultItemAddedTopic),
		},
		Persistence: PersistenceConfig{
			Backend:          strings.ToLower(env.str("OJAWA_CART_BACKEND", defaultBackend)),
			SlotTTL:          env.duration("OJAWA_CART_SLOT_TTL", defaultSlotTTL),
			SlotKeyPrefix:    env.str("OJAWA_CART_SLOT_PREFIX", defaultSlotPrefix),
			SessionIdle:      env.duration("OJAWA_CART_SESSION_IDLE", defaultSessionIdle),
			EvictionInterval: env.duration("OJAWA_CART_EVICTION_INTERVAL", defaultEvictInterval),
		},
		CartCrypto: CartCryptoConfig{
			Passphrase: env.str("OJAWA_CART_PASSPHRASE", ""),
			Salt:       env.str("OJAWA_CART_SALT", ""),
			Iterations: env.integer("OJAWA_CART_KDF_ITERATIONS", defaultCryptoIterations),
		},
		Pricing: PricingConfig{
			Currency: strings.ToUpper(env.str("OJAWA_PRICING_CURRENCY", defaultCurrency)),
			Locale:   env.str("OJAWA_PRICING_LOCALE", defaultLocale),
		},
		Security: SecurityConfig{
			Environment:       strings.ToLower(env.str("OJAWA_SECURITY_ENVIRONMENT", defaultSecurityEnv)),
			GuestCookie:       env.str("OJAWA_SECURITY_GUEST_COOKIE", defaultGuestCookie),
			GuestCookieMaxAge: env.duration("OJAWA_SECURITY_GUEST_COOKIE_MAX_AGE", defaultGuestCookieMaxAge),
			AdminRole:         env.str("OJAWA_SECURITY_ADMIN_ROLE", defaultAdminRole),
		},
		Secrets: SecretsConfig{
			ProjectID:    env.str("OJAWA_SECRETS_PROJECT_ID", ""),
			FallbackFile: env.str("OJAWA_SECRETS_FALLBACK_FILE", defaultSecretFallbackFile),
		},
	}
	cfg.Security.CookieSecure = env.boolean("OJAWA_SECURITY_COOKIE_SECURE", cfg.Security.Environment != defaultSecurityEnv)

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"CartCrypto.Passphrase", &cfg.CartCrypto.Passphrase},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

type environment struct {
	values map[string]string
}

func (o loaderOptions) lookup() (environment, error) {
	values := map[string]string{}
	if o.envFile != "" {
		dotenv, err := godotenv.Read(o.envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return environment{}, fmt.Errorf("config: read %s: %w", o.envFile, err)
		}
		for key, value := range dotenv {
			values[key] = value
		}
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return environment{values: values}, nil
}

func (e environment) str(key, fallback string) string {
	if value := strings.TrimSpace(e.values[key]); value != "" {
		return value
	}
	return fallback
}

func (e environment) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(e.values[key])); err == nil {
		return d
	}
	return fallback
}

func (e environment) integer(key string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(e.values[key])); err == nil {
		return parsed
	}
	return fallback
}

func (e environment) boolean(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(e.values[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		invalid = append(invalid, "Server.ShutdownTimeout")
	}

	switch cfg.Persistence.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			invalid = append(invalid, "Redis.Addr")
		}
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	default:
		invalid = append(invalid, "Persistence.Backend")
	}
	if cfg.Persistence.SessionIdle <= 0 {
		invalid = append(invalid, "Persistence.SessionIdle")
	}
	if cfg.Persistence.EvictionInterval <= 0 {
		invalid = append(invalid, "Persistence.EvictionInterval")
	}

	if len(cfg.CartCrypto.Salt) < minCryptoSaltLength {
		invalid = append(invalid, "CartCrypto.Salt")
	}
	if cfg.CartCrypto.Iterations <= 0 {
		invalid = append(invalid, "CartCrypto.Iterations")
	}
	if len(cfg.Pricing.Currency) != 3 {
		invalid = append(invalid, "Pricing.Currency")
	}
	if strings.TrimSpace(cfg.Security.GuestCookie) == "" {
		invalid = append(invalid, "Security.GuestCookie")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
