package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/httpx"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const maxPolicyBodySize = 8 * 1024

// PricingHandlersDeps bundles collaborators for the pricing endpoints.
type PricingHandlersDeps struct {
	Policies services.PricingPolicyService
	Auth     *auth.Authenticator
	// AdminRole guards the policy endpoints. Defaults to auth.RoleAdmin.
	AdminRole string
	Currency  string
	Locale    string
	Logger    *zap.Logger
	// QuoteLimit caps carrier quote requests per client address in each QuoteWindow. Zero disables the cap.
	QuoteLimit  int
	QuoteWindow time.Duration
	Clock       func() time.Time
}

// PricingHandlers serves carrier quotes to shoppers and the pricing policy to administrators.
type PricingHandlers struct {
	policies     services.PricingPolicyService
	authn        *auth.Authenticator
	adminRole    string
	quoteLimiter rateLimiter
	validate     *validator.Validate
	money        moneyFormatter
	logger       *zap.Logger
}

// NewPricingHandlers constructs pricing handlers backed by the policy service.
func NewPricingHandlers(deps PricingHandlersDeps) *PricingHandlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	adminRole := strings.TrimSpace(deps.AdminRole)
	if adminRole == "" {
		adminRole = auth.RoleAdmin
	}
	return &PricingHandlers{
		policies:     deps.Policies,
		authn:        deps.Auth,
		adminRole:    adminRole,
		quoteLimiter: newWindowLimiter(deps.QuoteLimit, deps.QuoteWindow, deps.Clock),
		validate:     newValidator(),
		money:        moneyFormatter{currency: currency, locale: deps.Locale},
		logger:       logger,
	}
}

// Routes registers the public carrier quote endpoint.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(limitByClient(h.quoteLimiter)).Get("/carriers/{carrierId}/quote", h.carrierQuote)
}

// AdminRoutes registers the policy endpoints; callers must hold the configured admin role.
func (h *PricingHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.adminRole))
	} else {
		r.Use(denyAll)
	}
	r.Get("/pricing-policy", h.getPolicy)
	r.Put("/pricing-policy", h.putPolicy)
}

func (h *PricingHandlers) carrierQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.policies == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service is unavailable", http.StatusServiceUnavailable))
		return
	}

	rawDistance := strings.TrimSpace(r.URL.Query().Get("distanceKm"))
	distance, err := decimal.NewFromString(rawDistance)
	if err != nil || distance.IsNegative() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "distanceKm must be a non-negative number", http.StatusBadRequest))
		return
	}

	quote, err := h.policies.CarrierQuote(ctx, chi.URLParam(r, "carrierId"), distance)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"quote": h.money.carrierQuote(quote, "")})
}

func (h *PricingHandlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.policies == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service is unavailable", http.StatusServiceUnavailable))
		return
	}
	policy, err := h.policies.CurrentPolicy(ctx)
	if err != nil {
		h.logger.Warn("pricing policy read failed", zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"policy": policyPayload(policy)})
}

func (h *PricingHandlers) putPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.policies == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req pricingPolicyPayload
	if decodeErr := httpx.DecodeJSON(w, r, maxPolicyBodySize, &req); decodeErr != nil {
		httpx.WriteError(ctx, w, *decodeErr)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(ctx, w, validationError(err))
		return
	}

	updated, err := h.policies.UpdatePolicy(ctx, services.UpdatePricingPolicyCommand{
		Policy:  req.policy(),
		ActorID: identity.UID,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPolicyInvalid) {
			h.logger.Error("pricing policy update failed", zap.String("actor", identity.UID), zap.Error(err))
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"policy": policyPayload(updated)})
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication is not configured", http.StatusUnauthorized))
	})
}
