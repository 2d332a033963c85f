package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryMode distinguishes pickup from carrier delivery.
type DeliveryMode string

const (
	// DeliveryModePickup means the buyer collects the order; no logistics fee applies.
	DeliveryModePickup DeliveryMode = "pickup"
	// DeliveryModeDelivery means a carrier delivers the order over DistanceKm.
	DeliveryModeDelivery DeliveryMode = "delivery"
)

// RouteCategory classifies a delivery by distance for selecting logistics bounds.
type RouteCategory string

const (
	RouteIntracity RouteCategory = "intracity"
	RouteIntercity RouteCategory = "intercity"
)

// DefaultCurrency is the storefront's settlement currency.
const DefaultCurrency = "NGN"

// DeliverySelection is either a pickup or a delivery over a distance with a chosen carrier.
type DeliverySelection struct {
	Mode          DeliveryMode
	CarrierID     string
	CarrierName   string
	DistanceKm    decimal.Decimal
	RouteCategory RouteCategory
}

// Pickup builds a pickup selection.
func Pickup() DeliverySelection {
	return DeliverySelection{Mode: DeliveryModePickup}
}

// Delivery builds a delivery selection. The route category is derived later against a policy.
func Delivery(carrierID string, distanceKm decimal.Decimal) DeliverySelection {
	return DeliverySelection{
		Mode:       DeliveryModeDelivery,
		CarrierID:  strings.TrimSpace(carrierID),
		DistanceKm: distanceKm,
	}
}

// IsDelivery reports whether the selection incurs a logistics fee.
func (d DeliverySelection) IsDelivery() bool {
	return d.Mode == DeliveryModeDelivery
}

// LogisticsBounds holds the floor and cap for one route category.
type LogisticsBounds struct {
	MinCharge decimal.Decimal
	MaxCharge decimal.Decimal
}

// PricingPolicy is an immutable fee configuration valid for one pricing computation.
type PricingPolicy struct {
	Currency             string
	VATRate              decimal.Decimal
	ServiceFeeRate       decimal.Decimal
	ServiceFeeMin        decimal.Decimal
	ServiceFeeMax        decimal.Decimal
	RatePerKm            decimal.Decimal
	IntracityThresholdKm decimal.Decimal
	Intracity            LogisticsBounds
	Intercity            LogisticsBounds
	UpdatedAt            time.Time
	UpdatedBy            string
}

// DefaultPricingPolicy mirrors the storefront's built-in pricing constants.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		Currency:             DefaultCurrency,
		VATRate:              decimal.RequireFromString("0.075"),
		ServiceFeeRate:       decimal.RequireFromString("0.05"),
		ServiceFeeMin:        decimal.NewFromInt(50),
		ServiceFeeMax:        decimal.NewFromInt(5000),
		RatePerKm:            decimal.NewFromInt(500),
		IntracityThresholdKm: decimal.NewFromInt(50),
		Intracity: LogisticsBounds{
			MinCharge: decimal.NewFromInt(2000),
			MaxCharge: decimal.NewFromInt(10000),
		},
		Intercity: LogisticsBounds{
			MinCharge: decimal.NewFromInt(2000),
			MaxCharge: decimal.NewFromInt(20000),
		},
	}
}

// RouteCategoryFor classifies distance: strictly below the threshold is intracity.
func (p PricingPolicy) RouteCategoryFor(distanceKm decimal.Decimal) RouteCategory {
	if distanceKm.LessThan(p.IntracityThresholdKm) {
		return RouteIntracity
	}
	return RouteIntercity
}

// Bounds returns the logistics bounds for the category.
func (p PricingPolicy) Bounds(category RouteCategory) LogisticsBounds {
	if category == RouteIntracity {
		return p.Intracity
	}
	return p.Intercity
}

// ErrPolicyInvalid is wrapped by Validate failures.
var ErrPolicyInvalid = errors.New("pricing policy: invalid")

// Validate enforces write-time invariants. Reads never call it; the engine tolerates bad policies.
func (p PricingPolicy) Validate() error {
	var problems []string
	rate := func(name string, v decimal.Decimal) {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}
	nonNegative := func(name string, v decimal.Decimal) {
		if v.IsNegative() {
			problems = append(problems, fmt.Sprintf("%s must not be negative", name))
		}
	}
	ordered := func(name string, min, max decimal.Decimal) {
		if min.GreaterThan(max) {
			problems = append(problems, fmt.Sprintf("%s minimum exceeds maximum", name))
		}
	}

	if strings.TrimSpace(p.Currency) == "" {
		problems = append(problems, "currency is required")
	}
	rate("vat rate", p.VATRate)
	rate("service fee rate", p.ServiceFeeRate)
	nonNegative("service fee minimum", p.ServiceFeeMin)
	nonNegative("service fee maximum", p.ServiceFeeMax)
	ordered("service fee", p.ServiceFeeMin, p.ServiceFeeMax)
	nonNegative("rate per km", p.RatePerKm)
	if !p.IntracityThresholdKm.IsPositive() {
		problems = append(problems, "intracity threshold must be positive")
	}
	nonNegative("intracity minimum charge", p.Intracity.MinCharge)
	nonNegative("intracity maximum charge", p.Intracity.MaxCharge)
	ordered("intracity charge", p.Intracity.MinCharge, p.Intracity.MaxCharge)
	nonNegative("intercity minimum charge", p.Intercity.MinCharge)
	nonNegative("intercity maximum charge", p.Intercity.MaxCharge)
	ordered("intercity charge", p.Intercity.MinCharge, p.Intercity.MaxCharge)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPolicyInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// CarrierQuote is a carrier's price and delivery estimate for a distance.
type CarrierQuote struct {
	CarrierID     string
	CarrierName   string
	Cost          decimal.Decimal
	EstimatedTime string
	AppliedMin    bool
	AppliedMax    bool
}

// Breakdown line keys in display order.
const (
	BreakdownKeySubtotal   = "subtotal"
	BreakdownKeyVAT        = "vat"
	BreakdownKeyServiceFee = "service_fee"
	BreakdownKeyLogistics  = "logistics_fee"
	BreakdownKeyDiscount   = "discount"
	BreakdownKeyTotal      = "total"
)

// BreakdownLine is one human-readable row of a price breakdown.
type BreakdownLine struct {
	Key         string
	Label       string
	Amount      decimal.Decimal
	Description string
	Rate        *decimal.Decimal
}

// PriceBreakdown is the output of one pricing computation. It is never persisted.
type PriceBreakdown struct {
	Currency           string
	Subtotal           decimal.Decimal
	VATAmount          decimal.Decimal
	ServiceFeeAmount   decimal.Decimal
	LogisticsFeeAmount decimal.Decimal
	DiscountAmount     decimal.Decimal
	Total              decimal.Decimal
	RouteCategory      RouteCategory
	PolicyApplied      bool
	Lines              []BreakdownLine
}

// Line returns the breakdown line for key.
func (b PriceBreakdown) Line(key string) (BreakdownLine, bool) {
	for _, line := range b.Lines {
		if line.Key == key {
			return line, true
		}
	}
	return BreakdownLine{}, false
}
