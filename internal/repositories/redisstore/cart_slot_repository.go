package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

const defaultKeyPrefix = "ojawa:"

// Client is the subset of *redis.Client used by the slot repository.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Error implements repositories.RepositoryError for Redis backed repositories.
type Error struct {
	op       string
	err      error
	notFound bool
}

func (e *Error) Error() string {
	if e.notFound {
		return fmt.Sprintf("%s: not found", e.op)
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return false }
func (e *Error) IsUnavailable() bool { return e != nil && !e.notFound }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{op: op, err: err, notFound: errors.Is(err, redis.Nil)}
}

// CartSlotOption customises the slot repository.
type CartSlotOption func(*CartSlotRepository)

// WithTTL expires idle slots after ttl. Zero keeps slots forever.
func WithTTL(ttl time.Duration) CartSlotOption {
	return func(r *CartSlotRepository) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces every slot key.
func WithKeyPrefix(prefix string) CartSlotOption {
	return func(r *CartSlotRepository) {
		r.prefix = prefix
	}
}

// CartSlotRepository stores sealed cart payloads as plain Redis strings.
type CartSlotRepository struct {
	client Client
	ttl    time.Duration
	prefix string
}

var _ repositories.CartSlotRepository = (*CartSlotRepository)(nil)

// NewCartSlotRepository wraps an existing Redis client.
func NewCartSlotRepository(client Client, opts ...CartSlotOption) (*CartSlotRepository, error) {
	if client == nil {
		return nil, errors.New("redis cart slots: client is required")
	}
	repo := &CartSlotRepository{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *CartSlotRepository) Read(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return "", wrapError("cart_slots.read", err)
	}
	return value, nil
}

func (r *CartSlotRepository) Write(ctx context.Context, key string, payload string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("redis cart slots: key is required")
	}
	return wrapError("cart_slots.write", r.client.Set(ctx, r.key(key), payload, r.ttl).Err())
}

func (r *CartSlotRepository) Delete(ctx context.Context, key string) error {
	return wrapError("cart_slots.delete", r.client.Del(ctx, r.key(key)).Err())
}

// Ping reports whether the server is reachable, for readiness checks.
func (r *CartSlotRepository) Ping(ctx context.Context) error {
	return wrapError("cart_slots.ping", r.client.Ping(ctx).Err())
}

func (r *CartSlotRepository) key(slot string) string {
	return r.prefix + strings.TrimSpace(slot)
}

// Connect dials addr and verifies it answers PING, retrying with a fixed backoff.
func Connect(ctx context.Context, opts *redis.Options, attempts int, backoff time.Duration) (*redis.Client, error) {
	if opts == nil {
		return nil, errors.New("redis: options are required")
	}
	if attempts < 1 {
		attempts = 1
	}
	client := redis.NewClient(opts)
	var err error
	for i := 1; i <= attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis: connect %s after %d attempts: %w", opts.Addr, attempts, err)
}
