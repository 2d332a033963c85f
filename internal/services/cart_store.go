package services

import (
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
)

// maxProductNameLength is counted in runes.
const maxProductNameLength = 200

// CartStoreDeps bundles collaborators for a CartStore.
type CartStoreDeps struct {
	Scope  string
	Clock  func() time.Time
	Logger *zap.Logger
}

// CartStore owns the authoritative in-memory cart for one session and enforces stock invariants.
// Mutations are serialised; observers and subscribers run after the lock is released.
type CartStore struct {
	mu       sync.Mutex
	cart     domain.Cart
	revision uint64

	now       func() time.Time
	logger    *zap.Logger
	sanitizer *bluemonday.Policy

	listenersMu sync.RWMutex
	nextID      uint64
	observers   map[uint64]func(ItemAddedEvent)
	subscribers map[uint64]func(CartChange)
}

// NewCartStore builds an empty store bound to the given identity scope.
func NewCartStore(deps CartStoreDeps) *CartStore {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartStore{
		cart: domain.Cart{Scope: strings.TrimSpace(deps.Scope)},
		now: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		sanitizer:   bluemonday.StrictPolicy(),
		observers:   make(map[uint64]func(ItemAddedEvent)),
		subscribers: make(map[uint64]func(CartChange)),
	}
}

// AddItem adds quantity units of product, merging with an existing line item.
func (s *CartStore) AddItem(product ProductSnapshot, quantity int) (Cart, error) {
	if quantity < 1 {
		return s.Snapshot(), ErrInvalidQuantity
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" || product.UnitPrice.IsNegative() {
		return s.Snapshot(), ErrInvalidProduct
	}
	if product.IsOutOfStock() {
		return s.Snapshot(), &OutOfStockError{ProductID: productID, Name: s.sanitizeName(product.Name)}
	}

	s.mu.Lock()
	now := s.now()
	idx := s.cart.Find(productID)
	inCart := 0
	if idx >= 0 {
		inCart = s.cart.Items[idx].Quantity
	}
	merged := inCart + quantity
	if product.AvailableStock != nil && merged > *product.AvailableStock {
		s.mu.Unlock()
		return s.Snapshot(), &InsufficientStockError{
			ProductID: productID,
			Available: *product.AvailableStock,
			InCart:    inCart,
			Requested: quantity,
		}
	}

	if idx >= 0 {
		item := &s.cart.Items[idx]
		item.Quantity = merged
		item.AvailableStock = cloneIntPtr(product.AvailableStock)
		item.OutOfStockFlag = product.OutOfStock
		item.UpdatedAt = now
	} else {
		s.cart.Items = append(s.cart.Items, s.normalizeProduct(product, quantity, now))
	}
	name := s.cart.Items[s.cart.Find(productID)].Name
	change := s.commitLocked(now)
	s.mu.Unlock()

	s.notify(change)
	s.emitItemAdded(ItemAddedEvent{
		Scope:        change.Cart.Scope,
		ProductID:    productID,
		Name:         name,
		Quantity:     quantity,
		CartQuantity: merged,
		OccurredAt:   now,
	})
	return change.Cart, nil
}

// RemoveItem drops the line item for productID. Absent ids are a no-op.
func (s *CartStore) RemoveItem(productID string) Cart {
	s.mu.Lock()
	idx := s.cart.Find(productID)
	if idx < 0 {
		snapshot := s.cart.Clone()
		s.mu.Unlock()
		return snapshot
	}
	s.cart.Items = append(s.cart.Items[:idx], s.cart.Items[idx+1:]...)
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.notify(change)
	return change.Cart
}

// UpdateQuantity sets an absolute quantity. Zero or less removes the item; absent ids are a no-op.
// The cart is unchanged when the quantity exceeds the item's stock snapshot.
func (s *CartStore) UpdateQuantity(productID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(productID), nil
	}

	s.mu.Lock()
	idx := s.cart.Find(productID)
	if idx < 0 {
		snapshot := s.cart.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	item := &s.cart.Items[idx]
	if item.AvailableStock != nil && quantity > *item.AvailableStock {
		err := &InsufficientStockError{
			ProductID: item.ProductID,
			Available: *item.AvailableStock,
			InCart:    item.Quantity,
			Requested: quantity,
		}
		snapshot := s.cart.Clone()
		s.mu.Unlock()
		return snapshot, err
	}
	if item.Quantity == quantity {
		snapshot := s.cart.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	now := s.now()
	item.Quantity = quantity
	item.UpdatedAt = now
	change := s.commitLocked(now)
	s.mu.Unlock()

	s.notify(change)
	return change.Cart, nil
}

// Clear empties the cart unconditionally.
func (s *CartStore) Clear() Cart {
	s.mu.Lock()
	s.cart.Items = nil
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.notify(change)
	return change.Cart
}

// ValidateItems drops every item whose stock snapshot is exhausted or flagged and returns how many were removed.
func (s *CartStore) ValidateItems() int {
	s.mu.Lock()
	kept := s.cart.Items[:0]
	removed := 0
	for _, item := range s.cart.Items {
		if item.IsOutOfStock() {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.cart.Items = kept
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.logger.Info("cart.out_of_stock_removed",
		zap.String("scope", change.Cart.Scope),
		zap.Int("removed", removed),
	)
	s.notify(change)
	return removed
}

// ApplyStockSnapshots refreshes the advisory stock cache of matching items and returns how many changed.
// Items are never dropped here; call ValidateItems afterwards to sweep.
func (s *CartStore) ApplyStockSnapshots(products ...ProductSnapshot) int {
	s.mu.Lock()
	refreshed := 0
	for _, product := range products {
		idx := s.cart.Find(product.ID)
		if idx < 0 {
			continue
		}
		item := &s.cart.Items[idx]
		if sameStock(item.AvailableStock, product.AvailableStock) && item.OutOfStockFlag == product.OutOfStock {
			continue
		}
		item.AvailableStock = cloneIntPtr(product.AvailableStock)
		item.OutOfStockFlag = product.OutOfStock
		refreshed++
	}
	if refreshed == 0 {
		s.mu.Unlock()
		return 0
	}
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.notify(change)
	return refreshed
}

// HasOutOfStockItems reports whether any item currently fails the stock check.
func (s *CartStore) HasOutOfStockItems() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.cart.Items {
		if item.IsOutOfStock() {
			return true
		}
	}
	return false
}

// Total is the simple subtotal of unit price times quantity.
func (s *CartStore) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Subtotal()
}

// ItemCount sums quantities across items.
func (s *CartStore) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.ItemCount()
}

// Snapshot returns a deep copy of the current cart.
func (s *CartStore) Snapshot() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Scope returns the identity scope the store currently persists under.
func (s *CartStore) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Scope
}

// Hydrate replaces the items with a loaded cart without emitting item-added events.
// Subscribers are not notified because the content came from persistence.
func (s *CartStore) Hydrate(cart Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := cart.Clone()
	s.cart.Items = loaded.Items
	if !loaded.UpdatedAt.IsZero() {
		s.cart.UpdatedAt = loaded.UpdatedAt
	}
	s.revision++
}

// Replace swaps in the items of cart and notifies subscribers so the new contents are persisted.
func (s *CartStore) Replace(cart Cart) Cart {
	s.mu.Lock()
	s.cart.Items = cart.Clone().Items
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.notify(change)
	return change.Cart
}

// Rescope moves the cart to a new identity scope and notifies subscribers so the next save targets it.
func (s *CartStore) Rescope(scope string) Cart {
	s.mu.Lock()
	s.cart.Scope = strings.TrimSpace(scope)
	change := s.commitLocked(s.now())
	s.mu.Unlock()

	s.notify(change)
	return change.Cart
}

// OnItemAdded registers an observer for successful adds and returns its cancel func.
func (s *CartStore) OnItemAdded(fn func(ItemAddedEvent)) func() {
	if fn == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.observers, id)
		s.listenersMu.Unlock()
	}
}

// Subscribe registers a listener invoked with a snapshot after every mutation.
func (s *CartStore) Subscribe(fn func(CartChange)) func() {
	if fn == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.subscribers, id)
		s.listenersMu.Unlock()
	}
}

func (s *CartStore) commitLocked(now time.Time) CartChange {
	s.cart.UpdatedAt = now
	s.revision++
	return CartChange{Cart: s.cart.Clone(), Revision: s.revision}
}

func (s *CartStore) notify(change CartChange) {
	s.listenersMu.RLock()
	listeners := make([]func(CartChange), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(CartChange{Cart: change.Cart.Clone(), Revision: change.Revision})
	}
}

func (s *CartStore) emitItemAdded(event ItemAddedEvent) {
	s.listenersMu.RLock()
	observers := make([]func(ItemAddedEvent), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range observers {
		fn(event)
	}
}

func (s *CartStore) normalizeProduct(product ProductSnapshot, quantity int, now time.Time) LineItem {
	image := strings.TrimSpace(product.ImageURL)
	if image == "" {
		image = domain.PlaceholderImageURL
	}
	return LineItem{
		ProductID:      strings.TrimSpace(product.ID),
		Name:           s.sanitizeName(product.Name),
		UnitPrice:      product.UnitPrice,
		Quantity:       quantity,
		AvailableStock: cloneIntPtr(product.AvailableStock),
		OutOfStockFlag: product.OutOfStock,
		ImageURL:       image,
		VendorID:       strings.TrimSpace(product.VendorID),
		AddedAt:        now,
		UpdatedAt:      now,
	}
}

func (s *CartStore) sanitizeName(name string) string {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(name))
	if runes := []rune(cleaned); len(runes) > maxProductNameLength {
		cleaned = strings.TrimSpace(string(runes[:maxProductNameLength]))
	}
	return cleaned
}

func cloneIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func sameStock(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
