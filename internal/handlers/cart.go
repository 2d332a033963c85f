package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/httpx"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/idempotency"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlersDeps bundles collaborators for the cart endpoints.
type CartHandlersDeps struct {
	Scope       *CartScope
	Pricing     services.CheckoutPricingService
	Auth        *auth.Authenticator
	Idempotency idempotency.Store
	Currency    string
	Locale      string
	Logger      *zap.Logger
}

// CartHandlers exposes the shopper's cart for guests and signed-in users alike.
type CartHandlers struct {
	scope       *CartScope
	pricing     services.CheckoutPricingService
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	validate    *validator.Validate
	money       moneyFormatter
	logger      *zap.Logger
}

// NewCartHandlers constructs cart handlers. Without an idempotency store retried adds are not deduplicated.
func NewCartHandlers(deps CartHandlersDeps) *CartHandlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &CartHandlers{
		scope:   deps.Scope,
		pricing: deps.Pricing,
		authn:   deps.Auth,
		idempotency: idempotency.Middleware(deps.Idempotency,
			idempotency.WithMethods(http.MethodPost),
			idempotency.WithLogger(logger.Named("idempotency")),
		),
		validate: newValidator(),
		money:    moneyFormatter{currency: currency, locale: deps.Locale},
		logger:   logger,
	}
}

// Routes registers the cart endpoints on the API router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.OptionalFirebaseAuth())
		}
		if h.scope != nil {
			g.Use(h.scope.Middleware())
		}
		g.Get("/cart", h.getCart)
		g.Delete("/cart", h.clearCart)
		g.With(h.idempotency).Post("/cart/items", h.addItem)
		g.Patch("/cart/items/{productId}", h.updateItem)
		g.Delete("/cart/items/{productId}", h.removeItem)
		g.Post("/cart:validate", h.validateCart)
		g.Post("/cart:price", h.priceCart)
	})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK, store.Snapshot())
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := store.AddItem(req.Product.snapshot(), quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusCreated, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))

	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	cart, err := store.UpdateQuantity(productID, *req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK, store.RemoveItem(strings.TrimSpace(chi.URLParam(r, "productId"))))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK, store.Clear())
}

type validateCartResponse struct {
	Cart      cartPayload `json:"cart"`
	Refreshed int         `json:"refreshed"`
	Removed   int         `json:"removed"`
}

// validateCart refreshes stock snapshots supplied by the caller and then sweeps unavailable items.
func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req validateCartRequest
	if hasBody(r) && !h.decode(w, r, &req) {
		return
	}
	snapshots := make([]services.ProductSnapshot, 0, len(req.Products))
	for _, p := range req.Products {
		snapshots = append(snapshots, services.ProductSnapshot{
			ID:             strings.TrimSpace(p.ID),
			AvailableStock: p.Stock,
			OutOfStock:     p.OutOfStock,
		})
	}
	refreshed := store.ApplyStockSnapshots(snapshots...)
	removed := store.ValidateItems()

	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, validateCartResponse{
		Cart:      h.money.cart(store.Snapshot()),
		Refreshed: refreshed,
		Removed:   removed,
	})
}

type priceCartResponse struct {
	Cart      cartPayload      `json:"cart"`
	Breakdown breakdownPayload `json:"breakdown"`
}

func (h *CartHandlers) priceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req priceCartRequest
	if hasBody(r) && !h.decode(w, r, &req) {
		return
	}
	if req.Discount.IsNegative() || req.Delivery.DistanceKm.IsNegative() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "discount and distance must not be negative", http.StatusBadRequest))
		return
	}

	cart := store.Snapshot()
	result, err := h.pricing.Quote(ctx, services.QuoteCommand{
		Cart: cart,
		Delivery: services.DeliverySelection{
			Mode:        domain.DeliveryMode(req.Delivery.Mode),
			CarrierID:   req.Delivery.CarrierID,
			CarrierName: req.Delivery.CarrierName,
			DistanceKm:  req.Delivery.DistanceKm,
		},
		Discount: req.Discount,
	})
	if err != nil {
		if !errors.Is(err, services.ErrQuoteInvalidInput) {
			h.logger.Warn("cart price failed", zap.String("scope", cart.Scope), zap.Error(err))
		}
		writeServiceError(ctx, w, err)
		return
	}

	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, priceCartResponse{
		Cart:      h.money.cart(cart),
		Breakdown: h.money.breakdown(result),
	})
}

func (h *CartHandlers) store(w http.ResponseWriter, r *http.Request) (*services.CartStore, bool) {
	session := cartSessionFromContext(r.Context())
	if session == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return session.Store(), true
}

func (h *CartHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if decodeErr := httpx.DecodeJSON(w, r, maxCartBodySize, dst); decodeErr != nil {
		httpx.WriteError(r.Context(), w, *decodeErr)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.WriteError(r.Context(), w, validationError(err))
		return false
	}
	return true
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	setNoStore(w)
	httpx.WriteJSON(w, status, map[string]any{"cart": h.money.cart(cart)})
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
