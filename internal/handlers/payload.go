package handlers

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/format"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/httpx"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/services"
)

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) httpx.Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest)
	}
	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": fields})
}

// writeServiceError maps cart and pricing errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		outOfStock   *services.OutOfStockError
		insufficient *services.InsufficientStockError
	)
	switch {
	case errors.As(err, &outOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", outOfStock.Error(), http.StatusConflict).
			WithDetails(map[string]any{"product_id": outOfStock.ProductID}))
	case errors.As(err, &insufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", insufficient.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"product_id": insufficient.ProductID,
				"available":  insufficient.Available,
				"in_cart":    insufficient.InCart,
				"requested":  insufficient.Requested,
			}))
	case errors.Is(err, services.ErrInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", "quantity must be at least 1", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidProduct):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product", "product id is required and price must not be negative", http.StatusBadRequest))
	case errors.Is(err, services.ErrQuoteInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, domain.ErrPolicyInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pricing_policy", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCarrierNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_found", "carrier not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPolicyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing policy is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrSessionClosed):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// moneyFormatter renders amounts for display in the storefront currency and locale.
type moneyFormatter struct {
	currency string
	locale   string
}

func (f moneyFormatter) display(amount decimal.Decimal, currency string) string {
	if strings.TrimSpace(currency) == "" {
		currency = f.currency
	}
	return format.Money(amount, currency, f.locale)
}

type productRequest struct {
	ID         string          `json:"id" validate:"required,max=128"`
	Name       string          `json:"name" validate:"max=200"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	Stock      *int            `json:"stock" validate:"omitempty,min=0"`
	OutOfStock bool            `json:"outOfStock"`
	ImageURL   string          `json:"imageUrl" validate:"omitempty,url,max=2048"`
	VendorID   string          `json:"vendorId" validate:"max=128"`
}

func (p productRequest) snapshot() services.ProductSnapshot {
	return services.ProductSnapshot{
		ID:             strings.TrimSpace(p.ID),
		Name:           p.Name,
		UnitPrice:      p.Price,
		Currency:       strings.ToUpper(strings.TrimSpace(p.Currency)),
		AvailableStock: p.Stock,
		OutOfStock:     p.OutOfStock,
		ImageURL:       strings.TrimSpace(p.ImageURL),
		VendorID:       strings.TrimSpace(p.VendorID),
	}
}

type addItemRequest struct {
	Product  productRequest `json:"product"`
	Quantity *int           `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type stockRequest struct {
	ID         string `json:"id" validate:"required,max=128"`
	Stock      *int   `json:"stock" validate:"omitempty,min=0"`
	OutOfStock bool   `json:"outOfStock"`
}

type validateCartRequest struct {
	Products []stockRequest `json:"products" validate:"max=200,dive"`
}

type deliveryRequest struct {
	Mode        string          `json:"mode" validate:"omitempty,oneof=pickup delivery"`
	CarrierID   string          `json:"carrierId" validate:"max=128"`
	CarrierName string          `json:"carrierName" validate:"max=200"`
	DistanceKm  decimal.Decimal `json:"distanceKm"`
}

type priceCartRequest struct {
	Delivery deliveryRequest `json:"delivery"`
	Discount decimal.Decimal `json:"discount"`
}

type cartItemPayload struct {
	ProductID        string `json:"productId"`
	Name             string `json:"name"`
	UnitPrice        string `json:"unitPrice"`
	UnitPriceDisplay string `json:"unitPriceDisplay"`
	Quantity         int    `json:"quantity"`
	LineTotal        string `json:"lineTotal"`
	LineTotalDisplay string `json:"lineTotalDisplay"`
	AvailableStock   *int   `json:"availableStock,omitempty"`
	OutOfStock       bool   `json:"outOfStock"`
	ImageURL         string `json:"imageUrl,omitempty"`
	VendorID         string `json:"vendorId,omitempty"`
}

type cartPayload struct {
	Guest           bool              `json:"guest"`
	Items           []cartItemPayload `json:"items"`
	ItemCount       int               `json:"itemCount"`
	Subtotal        string            `json:"subtotal"`
	SubtotalDisplay string            `json:"subtotalDisplay"`
	HasOutOfStock   bool              `json:"hasOutOfStock"`
	UpdatedAt       *time.Time        `json:"updatedAt,omitempty"`
}

func (f moneyFormatter) cart(cart services.Cart) cartPayload {
	payload := cartPayload{
		Guest:     services.IsGuestScope(cart.Scope),
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		ItemCount: cart.ItemCount(),
	}
	for _, item := range cart.Items {
		lineTotal := item.Subtotal().Round(2)
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:        item.ProductID,
			Name:             item.Name,
			UnitPrice:        item.UnitPrice.StringFixed(2),
			UnitPriceDisplay: f.display(item.UnitPrice, ""),
			Quantity:         item.Quantity,
			LineTotal:        lineTotal.StringFixed(2),
			LineTotalDisplay: f.display(lineTotal, ""),
			AvailableStock:   item.AvailableStock,
			OutOfStock:       item.IsOutOfStock(),
			ImageURL:         item.ImageURL,
			VendorID:         item.VendorID,
		})
		if item.IsOutOfStock() {
			payload.HasOutOfStock = true
		}
	}
	subtotal := cart.Subtotal().Round(2)
	payload.Subtotal = subtotal.StringFixed(2)
	payload.SubtotalDisplay = f.display(subtotal, "")
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	return payload
}

type breakdownLinePayload struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Amount      string `json:"amount"`
	Display     string `json:"display"`
	Description string `json:"description,omitempty"`
	Rate        string `json:"rate,omitempty"`
}

type carrierQuotePayload struct {
	CarrierID     string `json:"carrierId"`
	CarrierName   string `json:"carrierName"`
	Cost          string `json:"cost"`
	CostDisplay   string `json:"costDisplay"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
	AppliedMin    bool   `json:"appliedMin"`
	AppliedMax    bool   `json:"appliedMax"`
}

type breakdownPayload struct {
	Currency      string                 `json:"currency"`
	Subtotal      string                 `json:"subtotal"`
	VAT           string                 `json:"vat"`
	ServiceFee    string                 `json:"serviceFee"`
	LogisticsFee  string                 `json:"logisticsFee"`
	Discount      string                 `json:"discount"`
	Total         string                 `json:"total"`
	TotalDisplay  string                 `json:"totalDisplay"`
	RouteCategory string                 `json:"routeCategory,omitempty"`
	PolicyApplied bool                   `json:"policyApplied"`
	Lines         []breakdownLinePayload `json:"lines"`
	Carrier       *carrierQuotePayload   `json:"carrier,omitempty"`
}

func (f moneyFormatter) breakdown(result services.QuoteResult) breakdownPayload {
	b := result.Breakdown
	currency := b.Currency
	if currency == "" {
		currency = f.currency
	}
	payload := breakdownPayload{
		Currency:      currency,
		Subtotal:      b.Subtotal.StringFixed(2),
		VAT:           b.VATAmount.StringFixed(2),
		ServiceFee:    b.ServiceFeeAmount.StringFixed(2),
		LogisticsFee:  b.LogisticsFeeAmount.StringFixed(2),
		Discount:      b.DiscountAmount.StringFixed(2),
		Total:         b.Total.StringFixed(2),
		TotalDisplay:  f.display(b.Total, currency),
		RouteCategory: string(b.RouteCategory),
		PolicyApplied: b.PolicyApplied,
		Lines:         make([]breakdownLinePayload, 0, len(b.Lines)),
	}
	for _, line := range b.Lines {
		entry := breakdownLinePayload{
			Key:         line.Key,
			Label:       line.Label,
			Amount:      line.Amount.StringFixed(2),
			Display:     f.display(line.Amount, currency),
			Description: line.Description,
		}
		if line.Rate != nil {
			entry.Rate = format.Percent(*line.Rate)
		}
		payload.Lines = append(payload.Lines, entry)
	}
	if result.Carrier != nil {
		quote := f.carrierQuote(*result.Carrier, currency)
		payload.Carrier = &quote
	}
	return payload
}

func (f moneyFormatter) carrierQuote(quote services.CarrierQuote, currency string) carrierQuotePayload {
	return carrierQuotePayload{
		CarrierID:     quote.CarrierID,
		CarrierName:   quote.CarrierName,
		Cost:          quote.Cost.StringFixed(2),
		CostDisplay:   f.display(quote.Cost, currency),
		EstimatedTime: quote.EstimatedTime,
		AppliedMin:    quote.AppliedMin,
		AppliedMax:    quote.AppliedMax,
	}
}

type logisticsBoundsPayload struct {
	MinCharge decimal.Decimal `json:"minCharge"`
	MaxCharge decimal.Decimal `json:"maxCharge"`
}

type pricingPolicyPayload struct {
	Currency             string                 `json:"currency" validate:"required,len=3"`
	VATRate              decimal.Decimal        `json:"vatRate"`
	ServiceFeeRate       decimal.Decimal        `json:"serviceFeeRate"`
	ServiceFeeMin        decimal.Decimal        `json:"serviceFeeMin"`
	ServiceFeeMax        decimal.Decimal        `json:"serviceFeeMax"`
	RatePerKm            decimal.Decimal        `json:"ratePerKm"`
	IntracityThresholdKm decimal.Decimal        `json:"intracityThresholdKm"`
	Intracity            logisticsBoundsPayload `json:"intracity"`
	Intercity            logisticsBoundsPayload `json:"intercity"`
	UpdatedAt            *time.Time             `json:"updatedAt,omitempty"`
	UpdatedBy            string                 `json:"updatedBy,omitempty"`
}

func policyPayload(p services.PricingPolicy) pricingPolicyPayload {
	payload := pricingPolicyPayload{
		Currency:             p.Currency,
		VATRate:              p.VATRate,
		ServiceFeeRate:       p.ServiceFeeRate,
		ServiceFeeMin:        p.ServiceFeeMin,
		ServiceFeeMax:        p.ServiceFeeMax,
		RatePerKm:            p.RatePerKm,
		IntracityThresholdKm: p.IntracityThresholdKm,
		Intracity:            logisticsBoundsPayload{MinCharge: p.Intracity.MinCharge, MaxCharge: p.Intracity.MaxCharge},
		Intercity:            logisticsBoundsPayload{MinCharge: p.Intercity.MinCharge, MaxCharge: p.Intercity.MaxCharge},
		UpdatedBy:            p.UpdatedBy,
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	return payload
}

func (p pricingPolicyPayload) policy() services.PricingPolicy {
	return services.PricingPolicy{
		Currency:             p.Currency,
		VATRate:              p.VATRate,
		ServiceFeeRate:       p.ServiceFeeRate,
		ServiceFeeMin:        p.ServiceFeeMin,
		ServiceFeeMax:        p.ServiceFeeMax,
		RatePerKm:            p.RatePerKm,
		IntracityThresholdKm: p.IntracityThresholdKm,
		Intracity:            domain.LogisticsBounds{MinCharge: p.Intracity.MinCharge, MaxCharge: p.Intracity.MaxCharge},
		Intercity:            domain.LogisticsBounds{MinCharge: p.Intercity.MinCharge, MaxCharge: p.Intercity.MaxCharge},
	}
}
