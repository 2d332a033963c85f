package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/cryptobox"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/memory"
)

func newTestSealer(t *testing.T) *cryptobox.Sealer {
	t.Helper()
	sealer, err := cryptobox.New(cryptobox.Config{Salt: []byte("test-salt-value!"), Iterations: 500})
	require.NoError(t, err)
	return sealer
}

func newTestPersistence(t *testing.T, slots *memory.CartSlotRepository, logger *zap.Logger) *CartPersistence {
	t.Helper()
	p, err := NewCartPersistence(CartPersistenceDeps{
		Slots:  slots,
		Sealer: newTestSealer(t),
		Clock:  fixedStoreClock(),
		Logger: logger,
	})
	require.NoError(t, err)
	return p
}

type failingSlots struct {
	writes atomic.Int32
}

func (f *failingSlots) Read(context.Context, string) (string, error) {
	return "", errors.New("backend offline")
}

func (f *failingSlots) Write(context.Context, string, string) error {
	f.writes.Add(1)
	return errors.New("backend offline")
}

func (f *failingSlots) Delete(context.Context, string) error { return nil }

func writeSealed(t *testing.T, slots *memory.CartSlotRepository, scope, plaintext string) {
	t.Helper()
	payload, err := newTestSealer(t).Seal(scope, []byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, slots.Write(context.Background(), CartSlotKey(scope), payload))
}

func TestCartPersistence_SaveLoadRoundTrip(t *testing.T) {
	slots := memory.NewCartSlotRepository()
	p := newTestPersistence(t, slots, nil)
	store := newTestStore()
	second := ProductSnapshot{ID: "p2", Name: "Shea Butter", UnitPrice: dec("2500.50"), ImageURL: "https://cdn/p2.jpg", VendorID: "v9"}
	_, err := store.AddItem(phone(5), 3)
	require.NoError(t, err)
	_, err = store.AddItem(second, 2)
	require.NoError(t, err)
	saved := store.Snapshot()

	require.NoError(t, p.Save(context.Background(), saved))

	raw, err := slots.Read(context.Background(), "enc_ojawa_cart_guest:01TEST")
	require.NoError(t, err)
	assert.NotContains(t, raw, "Shea")

	loaded := p.Load(context.Background(), saved.Scope)
	require.Len(t, loaded.Items, 2)
	for i, item := range saved.Items {
		got := loaded.Items[i]
		assert.Equal(t, item.ProductID, got.ProductID)
		assert.Equal(t, item.Quantity, got.Quantity)
		assert.True(t, item.UnitPrice.Equal(got.UnitPrice), "price %s != %s", item.UnitPrice, got.UnitPrice)
		assert.Equal(t, item.StockTracked(), got.StockTracked())
		assert.Equal(t, item.VendorID, got.VendorID)
	}
	assert.Equal(t, 5, *loaded.Items[0].AvailableStock)
	assert.True(t, fixedStoreClock()().Equal(loaded.UpdatedAt))
}

func TestCartPersistence_LoadToleratesBadContent(t *testing.T) {
	const scope = "user:u-42"
	cases := []struct {
		name  string
		setup func(t *testing.T, slots *memory.CartSlotRepository)
	}{
		{name: "missing slot", setup: func(*testing.T, *memory.CartSlotRepository) {}},
		{name: "garbage payload", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			require.NoError(t, slots.Write(context.Background(), CartSlotKey(scope), "definitely-not-sealed"))
		}},
		{name: "sealed for another scope", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			payload, err := newTestSealer(t).Seal("user:someone-else", []byte(`{"v":1,"items":[]}`))
			require.NoError(t, err)
			require.NoError(t, slots.Write(context.Background(), CartSlotKey(scope), payload))
		}},
		{name: "invalid json", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			writeSealed(t, slots, scope, `{"v":1,"items":[`)
		}},
		{name: "unknown version", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			writeSealed(t, slots, scope, `{"v":7,"items":[{"productId":"p1","unitPrice":"10","quantity":1}]}`)
		}},
		{name: "versioned envelope with invalid item", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			writeSealed(t, slots, scope, `{"v":1,"items":[{"productId":"p1","unitPrice":"10","quantity":1},{"productId":"p2","unitPrice":"10","quantity":0}]}`)
		}},
		{name: "scalar payload", setup: func(t *testing.T, slots *memory.CartSlotRepository) {
			writeSealed(t, slots, scope, `42`)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slots := memory.NewCartSlotRepository()
			tc.setup(t, slots)
			p := newTestPersistence(t, slots, nil)

			cart := p.Load(context.Background(), scope)
			assert.True(t, cart.IsEmpty())
			assert.Equal(t, scope, cart.Scope)
		})
	}
}

func TestCartPersistence_LoadBackendFailureYieldsEmptyCart(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p, err := NewCartPersistence(CartPersistenceDeps{
		Slots:  &failingSlots{},
		Sealer: newTestSealer(t),
		Logger: zap.New(core),
	})
	require.NoError(t, err)

	cart := p.Load(context.Background(), "guest:abc")
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 1, logs.FilterMessage("cart persistence failed").Len())
}

func TestCartPersistence_LoadsLegacyPayloads(t *testing.T) {
	const scope = "guest:legacy"
	legacyArray := `[
		{"id":"p1","name":"Ankara Fabric","price":4500,"quantity":2,"stock":10,"image":"/img/p1.png"},
		{"productId":"p2","unitPrice":"1200.5","quantity":1,"inStock":false},
		{"id":"p1","price":4500,"quantity":1},
		{"id":"","price":100,"quantity":1},
		{"id":"p3","price":-5,"quantity":1},
		{"id":"p4","price":100,"quantity":1.5},
		{"id":"p5","quantity":1},
		{"id":"p6","price":{"amount":1},"quantity":1},
		"not-an-object"
	]`

	slots := memory.NewCartSlotRepository()
	writeSealed(t, slots, scope, legacyArray)
	p := newTestPersistence(t, slots, nil)

	cart := p.Load(context.Background(), scope)
	require.Len(t, cart.Items, 2)

	first := cart.Items[0]
	assert.Equal(t, "p1", first.ProductID)
	assert.Equal(t, 3, first.Quantity)
	assert.Equal(t, 10, *first.AvailableStock)
	assert.Equal(t, "/img/p1.png", first.ImageURL)
	assert.True(t, first.UnitPrice.Equal(decimal.NewFromInt(4500)))

	second := cart.Items[1]
	assert.Equal(t, "p2", second.ProductID)
	assert.True(t, second.IsOutOfStock())
	assert.Equal(t, domain.PlaceholderImageURL, second.ImageURL)

	slots = memory.NewCartSlotRepository()
	writeSealed(t, slots, scope, `{"items":[{"productId":"p7","unitPrice":"99","quantity":4,"stockQuantity":2}]}`)
	cart = newTestPersistence(t, slots, nil).Load(context.Background(), scope)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.Equal(t, 2, *cart.Items[0].AvailableStock)
}

func TestCartPersistence_LoadClampsMergedDuplicatesToStock(t *testing.T) {
	const scope = "guest:dupes"
	slots := memory.NewCartSlotRepository()
	writeSealed(t, slots, scope, `{"v":1,"items":[
		{"productId":"p1","unitPrice":"100","quantity":2,"availableStock":3},
		{"productId":"p1","unitPrice":"100","quantity":2,"availableStock":3},
		{"productId":"p2","unitPrice":"50","quantity":1},
		{"productId":"p2","unitPrice":"50","quantity":4,"availableStock":2}
	]}`)

	cart := newTestPersistence(t, slots, nil).Load(context.Background(), scope)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, 4, cart.Items[1].Quantity, "a single over-stock entry keeps its own quantity")
	assert.Equal(t, 2, *cart.Items[1].AvailableStock)

	slots = memory.NewCartSlotRepository()
	writeSealed(t, slots, scope, `[{"id":"p1","price":10,"quantity":5,"stock":6},{"id":"p1","price":10,"quantity":5}]`)
	cart = newTestPersistence(t, slots, nil).Load(context.Background(), scope)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 6, cart.Items[0].Quantity)
}

func TestCartPersistence_SaveRequiresScope(t *testing.T) {
	p := newTestPersistence(t, memory.NewCartSlotRepository(), nil)

	err := p.Save(context.Background(), Cart{})
	var failure *PersistenceFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "save", failure.Op)
}

func TestCartPersistence_DiscardRemovesSlot(t *testing.T) {
	slots := memory.NewCartSlotRepository()
	p := newTestPersistence(t, slots, nil)
	require.NoError(t, p.Save(context.Background(), Cart{Scope: "guest:x"}))
	require.Equal(t, 1, slots.Len())

	require.NoError(t, p.Discard(context.Background(), "guest:x"))
	assert.Equal(t, 0, slots.Len())
}

func TestCartPersistence_MirrorWritesLatestSnapshot(t *testing.T) {
	slots := memory.NewCartSlotRepository()
	p := newTestPersistence(t, slots, nil)
	store := newTestStore()
	mirror := p.Mirror(context.Background(), store)

	for i := 0; i < 25; i++ {
		_, err := store.AddItem(ProductSnapshot{ID: "bulk", UnitPrice: dec("10")}, 1)
		require.NoError(t, err)
	}
	_, err := store.UpdateQuantity("bulk", 7)
	require.NoError(t, err)
	mirror.Stop()
	mirror.Stop()

	loaded := p.Load(context.Background(), store.Scope())
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 7, loaded.Items[0].Quantity)
}

func TestCartPersistence_MirrorFollowsRescope(t *testing.T) {
	slots := memory.NewCartSlotRepository()
	p := newTestPersistence(t, slots, nil)
	store := newTestStore()
	mirror := p.Mirror(context.Background(), store)

	_, err := store.AddItem(phone(5), 2)
	require.NoError(t, err)
	store.Rescope("user:u-1")
	_, err = store.AddItem(phone(5), 1)
	require.NoError(t, err)
	mirror.Stop()

	loaded := p.Load(context.Background(), "user:u-1")
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 3, loaded.Items[0].Quantity)
}

func TestCartPersistence_MirrorStopsWritingAfterStop(t *testing.T) {
	slots := memory.NewCartSlotRepository()
	p := newTestPersistence(t, slots, nil)
	store := newTestStore()
	mirror := p.Mirror(context.Background(), store)
	mirror.Stop()

	_, err := store.AddItem(phone(5), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, slots.Len())
}

func TestCartPersistence_MirrorFailuresAreLoggedNotSurfaced(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	slots := &failingSlots{}
	p, err := NewCartPersistence(CartPersistenceDeps{Slots: slots, Sealer: newTestSealer(t), Logger: zap.New(core)})
	require.NoError(t, err)

	store := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	mirror := p.Mirror(ctx, store)

	_, err = store.AddItem(phone(5), 1)
	require.NoError(t, err)
	cancel()
	mirror.Stop()

	assert.GreaterOrEqual(t, slots.writes.Load(), int32(1))
	require.GreaterOrEqual(t, logs.Len(), 1)
	entry := logs.All()[0]
	assert.True(t, strings.Contains(entry.ContextMap()["error"].(string), "backend offline"))
	assert.Equal(t, "save", entry.ContextMap()["op"])
}
