package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

// Error implements repositories.RepositoryError for the in-process backends.
type Error struct {
	op       string
	key      string
	notFound bool
}

func (e *Error) Error() string {
	if e.notFound {
		return fmt.Sprintf("%s %s: not found", e.op, e.key)
	}
	return fmt.Sprintf("%s %s: failed", e.op, e.key)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return false }
func (e *Error) IsUnavailable() bool { return false }

// CartSlotRepository keeps sealed cart payloads in process memory. Intended for local runs and tests.
type CartSlotRepository struct {
	mu    sync.RWMutex
	slots map[string]string
}

var _ repositories.CartSlotRepository = (*CartSlotRepository)(nil)

// NewCartSlotRepository returns an empty in-memory slot store.
func NewCartSlotRepository() *CartSlotRepository {
	return &CartSlotRepository{slots: make(map[string]string)}
}

func (r *CartSlotRepository) Read(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	r.mu.RLock()
	defer r.mu.RUnlock()
	payload, ok := r.slots[key]
	if !ok {
		return "", &Error{op: "cart_slots.read", key: key, notFound: true}
	}
	return payload, nil
}

func (r *CartSlotRepository) Write(ctx context.Context, key string, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cart_slots.write: key is required")
	}
	r.mu.Lock()
	r.slots[key] = payload
	r.mu.Unlock()
	return nil
}

func (r *CartSlotRepository) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.slots, strings.TrimSpace(key))
	r.mu.Unlock()
	return nil
}

// Len reports the number of occupied slots.
func (r *CartSlotRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
