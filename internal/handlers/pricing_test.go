package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/memory"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

type pricingFixture struct {
	router   http.Handler
	policies *memory.PricingPolicyRepository
	now      time.Time
}

func newPricingFixture(t *testing.T, quoteLimit int) *pricingFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	policies := memory.NewPricingPolicyRepository()
	carriers := memory.NewCarrierRepository(
		domain.Carrier{
			ID:            "gig",
			Name:          "GIG Logistics",
			RatePerKm:     decimal.NewFromInt(100),
			MinCharge:     decimal.NewFromInt(1500),
			MaxCharge:     decimal.NewFromInt(20000),
			EstimatedTime: "1-2 days",
			Active:        true,
		},
		domain.Carrier{ID: "retired", Name: "Retired Co", Active: false},
	)
	svc, err := services.NewPricingPolicyService(services.PricingPolicyServiceDeps{
		Policies: policies,
		Carriers: carriers,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPricingPolicyService: %v", err)
	}

	authn := auth.NewAuthenticator(tokenTable{
		"token-admin":   {UID: "ops-1", Claims: map[string]interface{}{"admin": true}},
		"token-shopper": {UID: "ada", Claims: map[string]interface{}{}},
	})
	h := NewPricingHandlers(PricingHandlersDeps{
		Policies:    svc,
		Auth:        authn,
		Currency:    "NGN",
		Locale:      "en-NG",
		QuoteLimit:  quoteLimit,
		QuoteWindow: time.Minute,
		Clock:       func() time.Time { return now },
	})
	return &pricingFixture{
		router:   NewRouter(WithPricingRoutes(h.Routes), WithAdminRoutes(h.AdminRoutes)),
		policies: policies,
		now:      now,
	}
}

func (f *pricingFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestPricingHandlers_CarrierQuote(t *testing.T) {
	f := newPricingFixture(t, 0)

	rr := f.do(http.MethodGet, "/api/v1/carriers/gig/quote?distanceKm=30", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Quote struct {
			CarrierName   string `json:"carrierName"`
			Cost          string `json:"cost"`
			CostDisplay   string `json:"costDisplay"`
			EstimatedTime string `json:"estimatedTime"`
			AppliedMin    bool   `json:"appliedMin"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Quote.Cost != "3000.00" || body.Quote.CostDisplay != "₦3,000.00" {
		t.Fatalf("unexpected cost %s (%s)", body.Quote.Cost, body.Quote.CostDisplay)
	}
	if body.Quote.CarrierName != "GIG Logistics" || body.Quote.EstimatedTime != "1-2 days" || body.Quote.AppliedMin {
		t.Fatalf("unexpected quote %+v", body.Quote)
	}

	rr = f.do(http.MethodGet, "/api/v1/carriers/gig/quote?distanceKm=2", "", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Quote.Cost != "1500.00" || !body.Quote.AppliedMin {
		t.Fatalf("expected short trip to floor at the minimum, got %+v", body.Quote)
	}
}

func TestPricingHandlers_CarrierQuoteErrors(t *testing.T) {
	f := newPricingFixture(t, 0)

	cases := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{name: "unknown carrier", path: "/api/v1/carriers/dhl/quote?distanceKm=5", status: http.StatusNotFound, code: "carrier_not_found"},
		{name: "inactive carrier", path: "/api/v1/carriers/retired/quote?distanceKm=5", status: http.StatusNotFound, code: "carrier_not_found"},
		{name: "missing distance", path: "/api/v1/carriers/gig/quote", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "negative distance", path: "/api/v1/carriers/gig/quote?distanceKm=-1", status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, tc.path, "", "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code, _ := decodeError(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestPricingHandlers_CarrierQuoteRateLimited(t *testing.T) {
	f := newPricingFixture(t, 2)

	for i := 0; i < 2; i++ {
		if rr := f.do(http.MethodGet, "/api/v1/carriers/gig/quote?distanceKm=5", "", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := f.do(http.MethodGet, "/api/v1/carriers/gig/quote?distanceKm=5", "", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestPricingHandlers_AdminPolicyAccess(t *testing.T) {
	f := newPricingFixture(t, 0)

	if rr := f.do(http.MethodGet, "/api/v1/admin/pricing-policy", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := f.do(http.MethodGet, "/api/v1/admin/pricing-policy", "token-shopper", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for shopper, got %d", rr.Code)
	}

	rr := f.do(http.MethodGet, "/api/v1/admin/pricing-policy", "token-admin", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Policy struct {
			Currency string          `json:"currency"`
			VATRate  decimal.Decimal `json:"vatRate"`
		} `json:"policy"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Policy.Currency != "NGN" || !body.Policy.VATRate.Equal(decimal.RequireFromString("0.075")) {
		t.Fatalf("expected default policy, got %+v", body.Policy)
	}
}

const validPolicyBody = `{
	"currency": "ngn",
	"vatRate": "0.08",
	"serviceFeeRate": "0.04",
	"serviceFeeMin": "100",
	"serviceFeeMax": "4000",
	"ratePerKm": "450",
	"intracityThresholdKm": "40",
	"intracity": {"minCharge": "1500", "maxCharge": "9000"},
	"intercity": {"minCharge": "2500", "maxCharge": "25000"}
}`

func TestPricingHandlers_UpdatePolicy(t *testing.T) {
	f := newPricingFixture(t, 0)

	rr := f.do(http.MethodPut, "/api/v1/admin/pricing-policy", "token-admin", validPolicyBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Policy struct {
			Currency  string     `json:"currency"`
			UpdatedBy string     `json:"updatedBy"`
			UpdatedAt *time.Time `json:"updatedAt"`
		} `json:"policy"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Policy.Currency != "NGN" || body.Policy.UpdatedBy != "ops-1" {
		t.Fatalf("unexpected policy %+v", body.Policy)
	}
	if body.Policy.UpdatedAt == nil || !body.Policy.UpdatedAt.Equal(f.now) {
		t.Fatalf("expected updatedAt %s, got %v", f.now, body.Policy.UpdatedAt)
	}

	stored, err := f.policies.Get(context.Background())
	if err != nil {
		t.Fatalf("expected stored policy: %v", err)
	}
	if !stored.RatePerKm.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("expected stored rate 450, got %s", stored.RatePerKm)
	}
}

func TestPricingHandlers_UpdatePolicyRejectsInvalid(t *testing.T) {
	f := newPricingFixture(t, 0)

	cases := []struct {
		name   string
		token  string
		body   string
		status int
		code   string
	}{
		{
			name:   "rate above one",
			token:  "token-admin",
			body:   strings.Replace(validPolicyBody, `"vatRate": "0.08"`, `"vatRate": "1.5"`, 1),
			status: http.StatusBadRequest,
			code:   "invalid_pricing_policy",
		},
		{
			name:   "inverted bounds",
			token:  "token-admin",
			body:   strings.Replace(validPolicyBody, `"minCharge": "1500"`, `"minCharge": "99999"`, 1),
			status: http.StatusBadRequest,
			code:   "invalid_pricing_policy",
		},
		{
			name:   "missing currency",
			token:  "token-admin",
			body:   `{"vatRate":"0.075"}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "shopper",
			token:  "token-shopper",
			body:   validPolicyBody,
			status: http.StatusForbidden,
			code:   "insufficient_role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodPut, "/api/v1/admin/pricing-policy", tc.token, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code, _ := decodeError(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}

	if _, err := f.policies.Get(context.Background()); err == nil {
		t.Fatalf("expected rejected updates to leave the policy unsaved")
	}
}

func TestPricingHandlers_AdminRoutesWithoutAuthenticator(t *testing.T) {
	h := NewPricingHandlers(PricingHandlersDeps{})
	r := chi.NewRouter()
	r.Route("/admin", h.AdminRoutes)

	req := httptest.NewRequest(http.MethodGet, "/admin/pricing-policy", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when auth is not configured, got %d", rr.Code)
	}
}
