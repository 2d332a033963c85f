package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

const (
	cartSlotPrefix       = "enc_ojawa_cart_"
	cartEnvelopeVersion  = 1
	detachedFlushTimeout = 5 * time.Second
	persistenceMeterName = "github.com/KachiAlex/ojawaecommerce-sub002/cart"
)

var errScopeRequired = errors.New("scope is required")

// CartSlotKey is the storage slot holding the sealed cart for scope.
func CartSlotKey(scope string) string {
	return cartSlotPrefix + strings.TrimSpace(scope)
}

// CartPersistenceDeps bundles collaborators for CartPersistence.
type CartPersistenceDeps struct {
	Slots  repositories.CartSlotRepository
	Sealer CartSealer
	Clock  func() time.Time
	Logger *zap.Logger
	Meter  metric.Meter
}

// CartPersistence seals cart snapshots into per-scope storage slots and restores them.
// Load never fails; Save failures are returned for logging and never block a mutation.
type CartPersistence struct {
	slots  repositories.CartSlotRepository
	sealer CartSealer
	now    func() time.Time
	logger *zap.Logger

	failures        metric.Int64Counter
	failuresEnabled bool
	saves           metric.Int64Counter
	savesEnabled    bool
}

// NewCartPersistence validates deps and registers persistence metrics.
func NewCartPersistence(deps CartPersistenceDeps) (*CartPersistence, error) {
	if deps.Slots == nil {
		return nil, errors.New("cart persistence: slot repository is required")
	}
	if deps.Sealer == nil {
		return nil, errors.New("cart persistence: sealer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(persistenceMeterName)
	}

	failures, failuresErr := meter.Int64Counter(
		"cart.persistence.failures",
		metric.WithDescription("Count of cart save or load attempts that failed"),
	)
	if failuresErr != nil {
		logger.Warn("cart persistence: unable to register failure metric", zap.Error(failuresErr))
	}
	saves, savesErr := meter.Int64Counter(
		"cart.persistence.saves",
		metric.WithDescription("Count of cart snapshots written to storage"),
	)
	if savesErr != nil {
		logger.Warn("cart persistence: unable to register save metric", zap.Error(savesErr))
	}

	return &CartPersistence{
		slots:  deps.Slots,
		sealer: deps.Sealer,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:          logger,
		failures:        failures,
		failuresEnabled: failuresErr == nil,
		saves:           saves,
		savesEnabled:    savesErr == nil,
	}, nil
}

// Save writes the full cart snapshot under its scope, replacing any previous content.
func (p *CartPersistence) Save(ctx context.Context, cart Cart) error {
	scope := strings.TrimSpace(cart.Scope)
	if scope == "" {
		return p.fail(ctx, "save", scope, errScopeRequired)
	}

	plaintext, err := json.Marshal(newEnvelope(cart, p.now()))
	if err != nil {
		return p.fail(ctx, "save", scope, fmt.Errorf("encode: %w", err))
	}
	sealed, err := p.sealer.Seal(scope, plaintext)
	if err != nil {
		return p.fail(ctx, "save", scope, fmt.Errorf("seal: %w", err))
	}
	if err := p.slots.Write(ctx, CartSlotKey(scope), sealed); err != nil {
		return p.fail(ctx, "save", scope, fmt.Errorf("write: %w", err))
	}
	if p.savesEnabled {
		p.saves.Add(ctx, 1)
	}
	return nil
}

// Load restores the cart for scope. Missing, unreadable or invalid content yields an empty cart.
func (p *CartPersistence) Load(ctx context.Context, scope string) Cart {
	scope = strings.TrimSpace(scope)
	empty := Cart{Scope: scope}
	if scope == "" {
		return empty
	}

	payload, err := p.slots.Read(ctx, CartSlotKey(scope))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return empty
		}
		p.logFailure(ctx, p.fail(ctx, "load", scope, fmt.Errorf("read: %w", err)))
		return empty
	}
	if strings.TrimSpace(payload) == "" {
		return empty
	}

	plaintext, err := p.sealer.Open(scope, payload)
	if err != nil {
		p.logFailure(ctx, p.fail(ctx, "load", scope, fmt.Errorf("open: %w", err)))
		return empty
	}

	items, updatedAt, err := decodeCartPayload(plaintext)
	if err != nil {
		p.logFailure(ctx, p.fail(ctx, "load", scope, fmt.Errorf("decode: %w", err)))
		return empty
	}
	return Cart{Scope: scope, Items: items, UpdatedAt: updatedAt}
}

// Discard removes the stored slot for scope.
func (p *CartPersistence) Discard(ctx context.Context, scope string) error {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return p.fail(ctx, "discard", scope, errScopeRequired)
	}
	if err := p.slots.Delete(ctx, CartSlotKey(scope)); err != nil {
		return p.fail(ctx, "discard", scope, err)
	}
	return nil
}

// Release drops per-scope key material held by the sealer, when it caches any.
func (p *CartPersistence) Release(scope string) {
	if forgetter, ok := p.sealer.(interface{ Forget(scope string) }); ok {
		forgetter.Forget(scope)
	}
}

// Mirror writes every change published by store on a single background goroutine.
// Bursts coalesce to the newest revision.
func (p *CartPersistence) Mirror(ctx context.Context, store *CartStore) *CartMirror {
	m := &CartMirror{
		persistence: p,
		wake:        make(chan struct{}, 1),
		flushReq:    make(chan chan struct{}),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.unsubscribe = store.Subscribe(m.offer)
	go m.run(ctx)
	return m
}

func (p *CartPersistence) fail(ctx context.Context, op, scope string, err error) error {
	if p.failuresEnabled {
		p.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	return &PersistenceFailure{Op: op, Scope: scope, Err: err}
}

func (p *CartPersistence) logFailure(_ context.Context, err error) {
	var failure *PersistenceFailure
	if !errors.As(err, &failure) {
		p.logger.Warn("cart persistence failed", zap.Error(err))
		return
	}
	p.logger.Warn("cart persistence failed",
		zap.String("op", failure.Op),
		zap.String("scope", failure.Scope),
		zap.Error(failure.Err),
	)
}

// CartMirror is the background writer started by Mirror.
type CartMirror struct {
	persistence *CartPersistence
	unsubscribe func()

	mu      sync.Mutex
	pending *CartChange
	written uint64

	wake     chan struct{}
	flushReq chan chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Flush blocks until every change offered so far has been written or has failed.
func (m *CartMirror) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case m.flushReq <- reply:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes, writes the pending snapshot and waits for the worker to exit.
func (m *CartMirror) Stop() {
	m.stopOnce.Do(func() {
		m.unsubscribe()
		close(m.quit)
		<-m.done
	})
}

func (m *CartMirror) offer(change CartChange) {
	m.mu.Lock()
	if change.Revision <= m.written || (m.pending != nil && change.Revision <= m.pending.Revision) {
		m.mu.Unlock()
		return
	}
	m.pending = &change
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *CartMirror) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.flush(ctx)
		case reply := <-m.flushReq:
			m.flush(ctx)
			close(reply)
		case <-m.quit:
			m.flush(ctx)
			return
		}
	}
}

// flush writes the pending snapshot. A cancelled ctx is detached so the last change still lands.
func (m *CartMirror) flush(ctx context.Context) {
	m.mu.Lock()
	change := m.pending
	m.pending = nil
	m.mu.Unlock()
	if change == nil {
		return
	}

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), detachedFlushTimeout)
		defer cancel()
	}
	if err := m.persistence.Save(ctx, change.Cart); err != nil {
		m.persistence.logFailure(ctx, err)
		return
	}
	m.mu.Lock()
	if change.Revision > m.written {
		m.written = change.Revision
	}
	m.mu.Unlock()
}

// Wire format ----------------------------------------------------------------

type cartEnvelope struct {
	Version int             `json:"v"`
	SavedAt time.Time       `json:"savedAt"`
	Items   []persistedItem `json:"items"`
}

type persistedItem struct {
	ProductID      string          `json:"productId"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Quantity       int             `json:"quantity"`
	AvailableStock *int            `json:"availableStock,omitempty"`
	OutOfStock     bool            `json:"outOfStock,omitempty"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	VendorID       string          `json:"vendorId,omitempty"`
	AddedAt        time.Time       `json:"addedAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newEnvelope(cart Cart, savedAt time.Time) cartEnvelope {
	items := make([]persistedItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, persistedItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			AvailableStock: cloneIntPtr(item.AvailableStock),
			OutOfStock:     item.OutOfStockFlag,
			ImageURL:       item.ImageURL,
			VendorID:       item.VendorID,
			AddedAt:        item.AddedAt,
			UpdatedAt:      item.UpdatedAt,
		})
	}
	return cartEnvelope{Version: cartEnvelopeVersion, SavedAt: savedAt, Items: items}
}

func (i persistedItem) lineItem() (LineItem, error) {
	id := strings.TrimSpace(i.ProductID)
	if id == "" {
		return LineItem{}, errors.New("item missing productId")
	}
	if i.Quantity < 1 {
		return LineItem{}, fmt.Errorf("item %s has invalid quantity %d", id, i.Quantity)
	}
	if i.UnitPrice.IsNegative() {
		return LineItem{}, fmt.Errorf("item %s has negative price", id)
	}
	if i.AvailableStock != nil && *i.AvailableStock < 0 {
		zero := 0
		i.AvailableStock = &zero
	}
	image := strings.TrimSpace(i.ImageURL)
	if image == "" {
		image = domain.PlaceholderImageURL
	}
	return LineItem{
		ProductID:      id,
		Name:           strings.TrimSpace(i.Name),
		UnitPrice:      i.UnitPrice,
		Quantity:       i.Quantity,
		AvailableStock: cloneIntPtr(i.AvailableStock),
		OutOfStockFlag: i.OutOfStock,
		ImageURL:       image,
		VendorID:       strings.TrimSpace(i.VendorID),
		AddedAt:        i.AddedAt.UTC(),
		UpdatedAt:      i.UpdatedAt.UTC(),
	}, nil
}

// legacyItem accepts the field spellings written by older storefront builds.
type legacyItem struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"productId"`
	Name           string           `json:"name"`
	Price          *decimal.Decimal `json:"price"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
	Quantity       float64          `json:"quantity"`
	Stock          *float64         `json:"stock"`
	StockQuantity  *float64         `json:"stockQuantity"`
	AvailableStock *float64         `json:"availableStock"`
	InStock        *bool            `json:"inStock"`
	OutOfStock     bool             `json:"outOfStock"`
	Image          string           `json:"image"`
	ImageURL       string           `json:"imageUrl"`
	VendorID       string           `json:"vendorId"`
	SellerID       string           `json:"sellerId"`
}

func (l legacyItem) persisted() (persistedItem, bool) {
	if l.Quantity != math.Trunc(l.Quantity) || l.Quantity < 1 || l.Quantity > math.MaxInt32 {
		return persistedItem{}, false
	}
	price := l.UnitPrice
	if price == nil {
		price = l.Price
	}
	if price == nil {
		return persistedItem{}, false
	}
	item := persistedItem{
		ProductID:  firstNonEmpty(l.ProductID, l.ID),
		Name:       l.Name,
		UnitPrice:  *price,
		Quantity:   int(l.Quantity),
		OutOfStock: l.OutOfStock || (l.InStock != nil && !*l.InStock),
		ImageURL:   firstNonEmpty(l.ImageURL, l.Image),
		VendorID:   firstNonEmpty(l.VendorID, l.SellerID),
	}
	for _, stock := range []*float64{l.AvailableStock, l.StockQuantity, l.Stock} {
		if stock != nil {
			n := int(math.Floor(*stock))
			item.AvailableStock = &n
			break
		}
	}
	return item, true
}

// decodeCartPayload parses either a versioned envelope or an unversioned legacy payload.
// Versioned envelopes are all-or-nothing; legacy entries are dropped individually.
func decodeCartPayload(plaintext []byte) ([]LineItem, time.Time, error) {
	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		return nil, time.Time{}, errors.New("empty payload")
	}

	if trimmed[0] == '[' {
		items, err := decodeLegacyItems(trimmed)
		return items, time.Time{}, err
	}

	var probe struct {
		Version *int            `json:"v"`
		Items   json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, time.Time{}, err
	}
	if probe.Version == nil {
		if len(probe.Items) == 0 {
			return nil, time.Time{}, errors.New("payload has neither version nor items")
		}
		items, err := decodeLegacyItems(probe.Items)
		return items, time.Time{}, err
	}
	if *probe.Version != cartEnvelopeVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported cart version %d", *probe.Version)
	}

	var envelope cartEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, time.Time{}, err
	}
	items := make([]LineItem, 0, len(envelope.Items))
	for _, raw := range envelope.Items {
		item, err := raw.lineItem()
		if err != nil {
			return nil, time.Time{}, err
		}
		items = mergeLineItem(items, item)
	}
	return items, envelope.SavedAt.UTC(), nil
}

func decodeLegacyItems(raw json.RawMessage) ([]LineItem, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	items := make([]LineItem, 0, len(entries))
	for _, entry := range entries {
		var legacy legacyItem
		if err := json.Unmarshal(entry, &legacy); err != nil {
			continue
		}
		persisted, ok := legacy.persisted()
		if !ok {
			continue
		}
		item, err := persisted.lineItem()
		if err != nil {
			continue
		}
		items = mergeLineItem(items, item)
	}
	return items, nil
}

// mergeLineItem folds duplicate product entries together. A merged quantity never exceeds the
// stock snapshot unless one of the entries alone already did.
func mergeLineItem(items []LineItem, item LineItem) []LineItem {
	for idx := range items {
		existing := &items[idx]
		if existing.ProductID != item.ProductID {
			continue
		}
		if existing.AvailableStock == nil {
			existing.AvailableStock = cloneIntPtr(item.AvailableStock)
		}
		merged := existing.Quantity + item.Quantity
		if stock := existing.AvailableStock; stock != nil && merged > *stock {
			merged = max(*stock, existing.Quantity, item.Quantity)
		}
		existing.Quantity = merged
		return items
	}
	return append(items, item)
}
