package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/auth"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/cryptobox"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/idempotency"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories/memory"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

const testGuestCookie = "ojawa_guest"

type tokenTable map[string]*firebaseauth.Token

func (t tokenTable) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := t[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("unknown token")
}

type cartFixture struct {
	router   http.Handler
	sessions *services.CartSessionRegistry
	slots    *memory.CartSlotRepository
	provider *services.StaticPolicyProvider
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()
	sealer, err := cryptobox.New(cryptobox.Config{Salt: []byte("0123456789abcdef"), Iterations: 1000})
	if err != nil {
		t.Fatalf("cryptobox.New: %v", err)
	}
	slots := memory.NewCartSlotRepository()
	persistence, err := services.NewCartPersistence(services.CartPersistenceDeps{Slots: slots, Sealer: sealer})
	if err != nil {
		t.Fatalf("NewCartPersistence: %v", err)
	}
	sessions, err := services.NewCartSessionRegistry(services.CartSessionDeps{Persistence: persistence})
	if err != nil {
		t.Fatalf("NewCartSessionRegistry: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close(context.Background()) })

	provider := &services.StaticPolicyProvider{
		Policy: domain.DefaultPricingPolicy(),
		Carriers: map[string]services.Carrier{
			"gig": {
				ID:            "gig",
				Name:          "GIG Logistics",
				RatePerKm:     decimal.NewFromInt(100),
				MinCharge:     decimal.NewFromInt(1500),
				MaxCharge:     decimal.NewFromInt(20000),
				EstimatedTime: "1-2 days",
				Active:        true,
			},
		},
	}
	pricing, err := services.NewCheckoutPricingService(services.CheckoutPricingServiceDeps{Provider: provider})
	if err != nil {
		t.Fatalf("NewCheckoutPricingService: %v", err)
	}

	authn := auth.NewAuthenticator(tokenTable{
		"token-ada": {UID: "ada", Claims: map[string]interface{}{}},
	})
	handlers := NewCartHandlers(CartHandlersDeps{
		Scope:       NewCartScope(sessions, GuestCookie{Name: testGuestCookie, MaxAge: time.Hour}, nil),
		Pricing:     pricing,
		Auth:        authn,
		Idempotency: idempotency.NewMemoryStore(),
		Currency:    "NGN",
		Locale:      "en-NG",
	})
	return &cartFixture{
		router:   NewRouter(WithCartRoutes(handlers.Routes)),
		sessions: sessions,
		slots:    slots,
		provider: provider,
	}
}

type cartRequest struct {
	method  string
	path    string
	body    string
	guestID string
	token   string
	headers map[string]string
}

func (f *cartFixture) do(t *testing.T, req cartRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if req.body != "" {
		body = bytes.NewBufferString(req.body)
	} else {
		body = &bytes.Buffer{}
	}
	httpReq := httptest.NewRequest(req.method, req.path, body)
	if req.body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.guestID != "" {
		httpReq.AddCookie(&http.Cookie{Name: testGuestCookie, Value: req.guestID})
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httpReq)
	return rr
}

func guestCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == testGuestCookie {
			return c
		}
	}
	return nil
}

type cartBody struct {
	Cart struct {
		Guest     bool `json:"guest"`
		ItemCount int  `json:"itemCount"`
		Items     []struct {
			ProductID        string `json:"productId"`
			Quantity         int    `json:"quantity"`
			LineTotal        string `json:"lineTotal"`
			LineTotalDisplay string `json:"lineTotalDisplay"`
			OutOfStock       bool   `json:"outOfStock"`
		} `json:"items"`
		Subtotal        string `json:"subtotal"`
		SubtotalDisplay string `json:"subtotalDisplay"`
	} `json:"cart"`
}

func decodeCart(t *testing.T, rr *httptest.ResponseRecorder) cartBody {
	t.Helper()
	var body cartBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode cart body %s: %v", rr.Body.String(), err)
	}
	return body
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (string, map[string]any) {
	t.Helper()
	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %s: %v", rr.Body.String(), err)
	}
	return body.Error, body.Details
}

const addPhoneBody = `{"product":{"id":"p-phone","name":"Phone","price":"12500","stock":3},"quantity":2}`

func TestCartHandlers_GuestGetsCookieAndEmptyCart(t *testing.T) {
	f := newCartFixture(t)

	rr := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cookie := guestCookie(t, rr)
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("expected guest cookie to be minted")
	}
	if !cookie.HttpOnly {
		t.Fatalf("expected guest cookie to be http-only")
	}
	body := decodeCart(t, rr)
	if !body.Cart.Guest || body.Cart.ItemCount != 0 || len(body.Cart.Items) != 0 {
		t.Fatalf("unexpected cart %+v", body.Cart)
	}
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Fatalf("expected no-store cache header, got %q", got)
	}
}

func TestCartHandlers_AddItemMergesAndFormatsMoney(t *testing.T) {
	f := newCartFixture(t)
	guest := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})
	guestID := guestCookie(t, guest).Value

	rr := f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if guestCookie(t, rr) != nil {
		t.Fatalf("expected existing guest cookie to be reused")
	}

	rr = f.do(t, cartRequest{
		method:  http.MethodPost,
		path:    "/api/v1/cart/items",
		body:    `{"product":{"id":"p-phone","name":"Phone","price":"9999","stock":3}}`,
		guestID: guestID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeCart(t, rr)
	if len(body.Cart.Items) != 1 || body.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected merged line with quantity 3, got %+v", body.Cart.Items)
	}
	if body.Cart.Subtotal != "37500.00" {
		t.Fatalf("expected subtotal at the first price, got %s", body.Cart.Subtotal)
	}
	if body.Cart.SubtotalDisplay != "₦37,500.00" {
		t.Fatalf("unexpected subtotal display %q", body.Cart.SubtotalDisplay)
	}
}

func TestCartHandlers_StockErrors(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value

	if rr := f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID}); rr.Code != http.StatusCreated {
		t.Fatalf("seed add failed: %d %s", rr.Code, rr.Body.String())
	}

	cases := []struct {
		name    string
		body    string
		status  int
		code    string
		details map[string]any
	}{
		{
			name:    "insufficient",
			body:    `{"product":{"id":"p-phone","name":"Phone","price":"12500","stock":3},"quantity":2}`,
			status:  http.StatusConflict,
			code:    "insufficient_stock",
			details: map[string]any{"product_id": "p-phone", "available": float64(3), "in_cart": float64(2)},
		},
		{
			name:    "out of stock",
			body:    `{"product":{"id":"p-case","name":"Case","price":"500","stock":0}}`,
			status:  http.StatusConflict,
			code:    "out_of_stock",
			details: map[string]any{"product_id": "p-case"},
		},
		{
			name:   "zero quantity",
			body:   `{"product":{"id":"p-case","name":"Case","price":"500"},"quantity":0}`,
			status: http.StatusBadRequest,
			code:   "invalid_quantity",
		},
		{
			name:   "missing product id",
			body:   `{"product":{"name":"Case","price":"500"}}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "unknown field",
			body:   `{"product":{"id":"p-case","price":"500"},"coupon":"X"}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: tc.body, guestID: guestID})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			code, details := decodeError(t, rr)
			if code != tc.code {
				t.Fatalf("expected error %s, got %s", tc.code, code)
			}
			for k, want := range tc.details {
				if details[k] != want {
					t.Fatalf("expected detail %s=%v, got %v", k, want, details[k])
				}
			}
		})
	}

	body := decodeCart(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", guestID: guestID}))
	if body.Cart.ItemCount != 2 {
		t.Fatalf("expected rejected adds to leave the cart unchanged, got %d items", body.Cart.ItemCount)
	}
}

func TestCartHandlers_IdempotentAdd(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value

	req := cartRequest{
		method:  http.MethodPost,
		path:    "/api/v1/cart/items",
		body:    `{"product":{"id":"p-case","name":"Case","price":"500"}}`,
		guestID: guestID,
		headers: map[string]string{"Idempotency-Key": "add-case-1"},
	}
	first := f.do(t, req)
	second := f.do(t, req)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both responses 201, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected second response to be a replay")
	}

	body := decodeCart(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", guestID: guestID}))
	if body.Cart.ItemCount != 1 {
		t.Fatalf("expected a single unit after retried add, got %d", body.Cart.ItemCount)
	}
}

func TestCartHandlers_UpdateRemoveAndClear(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID})
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product":{"id":"p-case","price":"500"}}`, guestID: guestID})

	rr := f.do(t, cartRequest{method: http.MethodPatch, path: "/api/v1/cart/items/p-phone", body: `{"quantity":5}`, guestID: guestID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected quantity above stock to conflict, got %d", rr.Code)
	}

	rr = f.do(t, cartRequest{method: http.MethodPatch, path: "/api/v1/cart/items/p-phone", body: `{"quantity":1}`, guestID: guestID})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeCart(t, rr); body.Cart.ItemCount != 2 {
		t.Fatalf("expected 2 units after update, got %d", body.Cart.ItemCount)
	}

	rr = f.do(t, cartRequest{method: http.MethodPatch, path: "/api/v1/cart/items/p-phone", body: `{}`, guestID: guestID})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected missing quantity to be rejected, got %d", rr.Code)
	}

	rr = f.do(t, cartRequest{method: http.MethodDelete, path: "/api/v1/cart/items/p-case", guestID: guestID})
	if body := decodeCart(t, rr); len(body.Cart.Items) != 1 || body.Cart.Items[0].ProductID != "p-phone" {
		t.Fatalf("expected only the phone to remain, got %+v", body.Cart.Items)
	}

	rr = f.do(t, cartRequest{method: http.MethodDelete, path: "/api/v1/cart", guestID: guestID})
	if body := decodeCart(t, rr); len(body.Cart.Items) != 0 {
		t.Fatalf("expected empty cart after clear, got %+v", body.Cart.Items)
	}
}

func TestCartHandlers_ValidateRefreshesStockThenSweeps(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID})
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product":{"id":"p-case","price":"500"}}`, guestID: guestID})

	rr := f.do(t, cartRequest{
		method:  http.MethodPost,
		path:    "/api/v1/cart:validate",
		body:    `{"products":[{"id":"p-phone","stock":0},{"id":"p-unknown","outOfStock":true}]}`,
		guestID: guestID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Cart struct {
			Items []struct {
				ProductID string `json:"productId"`
			} `json:"items"`
		} `json:"cart"`
		Refreshed int `json:"refreshed"`
		Removed   int `json:"removed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Refreshed != 1 || body.Removed != 1 {
		t.Fatalf("expected 1 refreshed and 1 removed, got %d/%d", body.Refreshed, body.Removed)
	}
	if len(body.Cart.Items) != 1 || body.Cart.Items[0].ProductID != "p-case" {
		t.Fatalf("expected only the case to remain, got %+v", body.Cart.Items)
	}

	rr = f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart:validate", guestID: guestID})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bodiless validate to sweep only, got %d", rr.Code)
	}
}

func TestCartHandlers_PriceCart(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{
		method:  http.MethodPost,
		path:    "/api/v1/cart/items",
		body:    `{"product":{"id":"p-tv","name":"TV","price":"100000"}}`,
		guestID: guestID,
	})

	rr := f.do(t, cartRequest{
		method:  http.MethodPost,
		path:    "/api/v1/cart:price",
		body:    `{"delivery":{"mode":"delivery","carrierId":"gig","distanceKm":"10"}}`,
		guestID: guestID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Breakdown struct {
			Subtotal      string `json:"subtotal"`
			VAT           string `json:"vat"`
			ServiceFee    string `json:"serviceFee"`
			LogisticsFee  string `json:"logisticsFee"`
			Total         string `json:"total"`
			TotalDisplay  string `json:"totalDisplay"`
			RouteCategory string `json:"routeCategory"`
			PolicyApplied bool   `json:"policyApplied"`
			Carrier       *struct {
				CarrierName string `json:"carrierName"`
			} `json:"carrier"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := body.Breakdown
	// 100000 subtotal, 7.5% VAT, 5% fee capped at 5000, 10km * 500 = 5000 within intracity bounds.
	if b.Subtotal != "100000.00" || b.VAT != "7500.00" || b.ServiceFee != "5000.00" || b.LogisticsFee != "5000.00" {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if b.Total != "117500.00" || b.TotalDisplay != "₦117,500.00" {
		t.Fatalf("unexpected total %s (%s)", b.Total, b.TotalDisplay)
	}
	if !b.PolicyApplied || b.RouteCategory != string(domain.RouteIntracity) {
		t.Fatalf("expected policy applied on an intracity route, got %+v", b)
	}
	if b.Carrier == nil || b.Carrier.CarrierName != "GIG Logistics" {
		t.Fatalf("expected carrier quote, got %+v", b.Carrier)
	}

	rr = f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart:price", body: `{"delivery":{"mode":"drone"}}`, guestID: guestID})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown delivery mode to be rejected, got %d", rr.Code)
	}
	rr = f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart:price", body: `{"discount":"-5"}`, guestID: guestID})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected negative discount to be rejected, got %d", rr.Code)
	}
}

func TestCartHandlers_PriceFallsBackToSubtotalWithoutPolicy(t *testing.T) {
	f := newCartFixture(t)
	f.provider.Err = errors.New("firestore unavailable")
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product":{"id":"p-case","price":"500"}}`, guestID: guestID})

	rr := f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart:price", guestID: guestID})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Breakdown struct {
			Total         string `json:"total"`
			PolicyApplied bool   `json:"policyApplied"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Breakdown.PolicyApplied || body.Breakdown.Total != "500.00" {
		t.Fatalf("expected subtotal-only breakdown, got %+v", body.Breakdown)
	}
}

func TestCartHandlers_SignInPromotesGuestCart(t *testing.T) {
	f := newCartFixture(t)
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID})

	rr := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", guestID: guestID, token: "token-ada"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeCart(t, rr)
	if body.Cart.Guest || body.Cart.ItemCount != 2 {
		t.Fatalf("expected promoted user cart with 2 units, got %+v", body.Cart)
	}
	cleared := guestCookie(t, rr)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected guest cookie to be cleared, got %+v", cleared)
	}

	rr = f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", token: "token-ada"})
	if body := decodeCart(t, rr); body.Cart.ItemCount != 2 {
		t.Fatalf("expected user cart to persist across requests, got %d", body.Cart.ItemCount)
	}

	rr = f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", token: "bogus"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rr.Code)
	}
}

func TestCartHandlers_SignInMovesGuestItemsIntoLiveUserCart(t *testing.T) {
	f := newCartFixture(t)
	if rr := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", token: "token-ada"}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed-in visit, got %d", rr.Code)
	}
	guestID := guestCookie(t, f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart"})).Value
	f.do(t, cartRequest{method: http.MethodPost, path: "/api/v1/cart/items", body: addPhoneBody, guestID: guestID})

	rr := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", guestID: guestID, token: "token-ada"})
	if body := decodeCart(t, rr); body.Cart.ItemCount != 2 {
		t.Fatalf("expected guest units in the user cart, got %+v", body.Cart)
	}
}

func TestCartScope_IgnoresMalformedGuestCookie(t *testing.T) {
	f := newCartFixture(t)
	rr := f.do(t, cartRequest{method: http.MethodGet, path: "/api/v1/cart", guestID: "../../etc/passwd"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cookie := guestCookie(t, rr)
	if cookie == nil || cookie.Value == "../../etc/passwd" {
		t.Fatalf("expected a fresh guest id, got %+v", cookie)
	}
}
