package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/format"
)

// BreakdownLabels holds the display strings used when itemising a breakdown.
type BreakdownLabels struct {
	Subtotal            string
	SubtotalDescription string
	VAT                 string
	VATDescription      string
	ServiceFee          string
	Logistics           string
	Discount            string
	Total               string
	TotalDescription    string
}

// DefaultBreakdownLabels are the storefront's English labels.
func DefaultBreakdownLabels() BreakdownLabels {
	return BreakdownLabels{
		Subtotal:            "Subtotal",
		SubtotalDescription: "Sum of all items",
		VAT:                 "VAT",
		VATDescription:      "Value Added Tax",
		ServiceFee:          "Service Fee",
		Logistics:           "Logistics Fee",
		Discount:            "Discount",
		Total:               "Total",
		TotalDescription:    "Final amount to be paid",
	}
}

// PricingEngine computes itemised price breakdowns. It performs no I/O and never mutates inputs.
type PricingEngine struct {
	labels BreakdownLabels
}

// NewPricingEngine returns an engine using labels, or the defaults when labels is nil.
func NewPricingEngine(labels *BreakdownLabels) *PricingEngine {
	engine := &PricingEngine{labels: DefaultBreakdownLabels()}
	if labels != nil {
		engine.labels = *labels
	}
	return engine
}

// ComputeBreakdown prices cart for the delivery selection under policy, deducting discount.
// Business-rule oddities (negative distance or discount, inverted bounds) are clamped rather than rejected.
func (e *PricingEngine) ComputeBreakdown(cart Cart, delivery DeliverySelection, policy PricingPolicy, discount decimal.Decimal) PriceBreakdown {
	currency := policyCurrency(policy)
	out := PriceBreakdown{
		Currency:      currency,
		PolicyApplied: true,
	}

	distance := decimal.Max(delivery.DistanceKm, decimal.Zero)
	if delivery.IsDelivery() {
		out.RouteCategory = policy.RouteCategoryFor(distance)
	}

	if cart.IsEmpty() {
		out.Subtotal = decimal.Zero
		out.VATAmount = decimal.Zero
		out.ServiceFeeAmount = decimal.Zero
		out.LogisticsFeeAmount = decimal.Zero
		out.DiscountAmount = decimal.Zero
		out.Total = decimal.Zero
		out.Lines = e.lines(out, delivery, policy)
		return out
	}

	out.Subtotal = round2(cart.Subtotal())
	out.VATAmount = round2(out.Subtotal.Mul(policy.VATRate))
	out.ServiceFeeAmount = round2(clampFloorThenCap(out.Subtotal.Mul(policy.ServiceFeeRate), policy.ServiceFeeMin, policy.ServiceFeeMax))

	out.LogisticsFeeAmount = decimal.Zero
	if delivery.IsDelivery() {
		bounds := policy.Bounds(out.RouteCategory)
		raw := distance.Mul(policy.RatePerKm)
		out.LogisticsFeeAmount = round2(clampFloorThenCap(raw, bounds.MinCharge, bounds.MaxCharge))
	}

	out.DiscountAmount = round2(decimal.Max(discount, decimal.Zero))

	total := out.Subtotal.
		Add(out.VATAmount).
		Add(out.ServiceFeeAmount).
		Add(out.LogisticsFeeAmount).
		Sub(out.DiscountAmount)
	out.Total = round2(decimal.Max(total, decimal.Zero))

	out.Lines = e.lines(out, delivery, policy)
	return out
}

// SubtotalOnlyBreakdown is the fallback used when no pricing policy can be obtained.
func (e *PricingEngine) SubtotalOnlyBreakdown(cart Cart, currency string) PriceBreakdown {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	subtotal := round2(decimal.Max(cart.Subtotal(), decimal.Zero))
	return PriceBreakdown{
		Currency:           currency,
		Subtotal:           subtotal,
		VATAmount:          decimal.Zero,
		ServiceFeeAmount:   decimal.Zero,
		LogisticsFeeAmount: decimal.Zero,
		DiscountAmount:     decimal.Zero,
		Total:              subtotal,
		PolicyApplied:      false,
		Lines: []BreakdownLine{
			{Key: domain.BreakdownKeySubtotal, Label: e.labels.Subtotal, Amount: subtotal, Description: e.labels.SubtotalDescription},
			{Key: domain.BreakdownKeyTotal, Label: e.labels.Total, Amount: subtotal, Description: e.labels.TotalDescription},
		},
	}
}

func (e *PricingEngine) lines(b PriceBreakdown, delivery DeliverySelection, policy PricingPolicy) []BreakdownLine {
	vatRate := policy.VATRate
	serviceRate := policy.ServiceFeeRate

	lines := []BreakdownLine{
		{
			Key:         domain.BreakdownKeySubtotal,
			Label:       e.labels.Subtotal,
			Amount:      b.Subtotal,
			Description: e.labels.SubtotalDescription,
		},
		{
			Key:         domain.BreakdownKeyVAT,
			Label:       fmt.Sprintf("%s (%s)", e.labels.VAT, format.Percent(vatRate)),
			Amount:      b.VATAmount,
			Description: e.labels.VATDescription,
			Rate:        &vatRate,
		},
		{
			Key:         domain.BreakdownKeyServiceFee,
			Label:       e.labels.ServiceFee,
			Amount:      b.ServiceFeeAmount,
			Description: fmt.Sprintf("%s platform service fee", format.Percent(serviceRate)),
			Rate:        &serviceRate,
		},
	}

	if delivery.IsDelivery() {
		ratePerKm := policy.RatePerKm
		lines = append(lines, BreakdownLine{
			Key:         domain.BreakdownKeyLogistics,
			Label:       e.labels.Logistics,
			Amount:      b.LogisticsFeeAmount,
			Description: logisticsDescription(delivery, b.RouteCategory),
			Rate:        &ratePerKm,
		})
	}

	if b.DiscountAmount.IsPositive() {
		lines = append(lines, BreakdownLine{
			Key:    domain.BreakdownKeyDiscount,
			Label:  e.labels.Discount,
			Amount: b.DiscountAmount.Neg(),
		})
	}

	return append(lines, BreakdownLine{
		Key:         domain.BreakdownKeyTotal,
		Label:       e.labels.Total,
		Amount:      b.Total,
		Description: e.labels.TotalDescription,
	})
}

func logisticsDescription(delivery DeliverySelection, category domain.RouteCategory) string {
	carrier := firstNonEmpty(delivery.CarrierName, delivery.CarrierID)
	if carrier == "" {
		return fmt.Sprintf("%s delivery", category)
	}
	return fmt.Sprintf("Delivery via %s (%s)", carrier, category)
}

func policyCurrency(policy PricingPolicy) string {
	currency := strings.ToUpper(strings.TrimSpace(policy.Currency))
	if currency == "" {
		return domain.DefaultCurrency
	}
	return currency
}

// clampFloorThenCap floors raw at min and then caps it at max, so max wins when min > max.
func clampFloorThenCap(raw, min, max decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(raw, min), max)
}

func round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
