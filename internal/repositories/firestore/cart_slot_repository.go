package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

const cartSlotCollection = "cart_slots"

// CartSlotRepository stores sealed cart payloads, one document per slot key.
type CartSlotRepository struct {
	base  *pfirestore.BaseRepository[cartSlotDocument]
	clock func() time.Time
	ttl   time.Duration
}

type cartSlotDocument struct {
	Payload   string     `firestore:"payload"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	ExpiresAt *time.Time `firestore:"expiresAt,omitempty"`
}

var _ repositories.CartSlotRepository = (*CartSlotRepository)(nil)

// CartSlotOption customises the slot repository.
type CartSlotOption func(*CartSlotRepository)

// WithSlotTTL stamps expiresAt on each write so a Firestore TTL policy can reap abandoned carts.
func WithSlotTTL(ttl time.Duration) CartSlotOption {
	return func(r *CartSlotRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSlotClock overrides the clock used for timestamps.
func WithSlotClock(clock func() time.Time) CartSlotOption {
	return func(r *CartSlotRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewCartSlotRepository constructs a Firestore-backed slot repository.
func NewCartSlotRepository(provider *pfirestore.Provider, opts ...CartSlotOption) (*CartSlotRepository, error) {
	if provider == nil {
		return nil, errors.New("cart slot repository requires firestore provider")
	}
	repo := &CartSlotRepository{
		base:  pfirestore.NewBaseRepository[cartSlotDocument](provider, cartSlotCollection, nil, nil),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Read returns the sealed payload. An absent or blank slot is reported as not found.
func (r *CartSlotRepository) Read(ctx context.Context, key string) (string, error) {
	doc, err := r.base.Get(ctx, slotDocumentID(key))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.Data.Payload) == "" {
		return "", emptySlotError(key)
	}
	return doc.Data.Payload, nil
}

// Write replaces the slot contents.
func (r *CartSlotRepository) Write(ctx context.Context, key string, payload string) error {
	now := r.clock().UTC()
	doc := cartSlotDocument{Payload: payload, UpdatedAt: now}
	if r.ttl > 0 {
		expires := now.Add(r.ttl)
		doc.ExpiresAt = &expires
	}
	return r.base.Set(ctx, slotDocumentID(key), doc)
}

// Delete removes the slot. Deleting an absent slot succeeds.
func (r *CartSlotRepository) Delete(ctx context.Context, key string) error {
	return r.base.Delete(ctx, slotDocumentID(key))
}

// slotDocumentID maps a slot key to a legal document id; '/' is reserved in Firestore paths.
func slotDocumentID(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), "/", "_")
}
