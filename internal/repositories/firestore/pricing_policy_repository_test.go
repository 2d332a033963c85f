package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
)

func TestDecodePricingPolicyMergesDefaults(t *testing.T) {
	updated := time.Date(2025, 2, 1, 8, 0, 0, 0, time.FixedZone("WAT", 3600))
	policy := decodePricingPolicy(map[string]any{
		"vatRate":        0.1,
		"serviceFeeRate": "0.04",
		"maxServiceFee":  int64(4000),
		"intercity":      map[string]any{"maxCharge": int64(25000)},
		"updatedBy":      "admin-7",
		"lastUpdated":    updated,
	})

	defaults := domain.DefaultPricingPolicy()
	if !policy.VATRate.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("expected vat 0.1, got %s", policy.VATRate)
	}
	if !policy.ServiceFeeRate.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("expected service fee rate from string, got %s", policy.ServiceFeeRate)
	}
	if !policy.ServiceFeeMax.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("expected max service fee 4000, got %s", policy.ServiceFeeMax)
	}
	if !policy.ServiceFeeMin.Equal(defaults.ServiceFeeMin) || !policy.RatePerKm.Equal(defaults.RatePerKm) {
		t.Fatalf("expected missing fields to keep defaults, got %+v", policy)
	}
	if !policy.Intercity.MaxCharge.Equal(decimal.NewFromInt(25000)) || !policy.Intercity.MinCharge.Equal(defaults.Intercity.MinCharge) {
		t.Fatalf("unexpected intercity bounds %+v", policy.Intercity)
	}
	if policy.Currency != domain.DefaultCurrency {
		t.Fatalf("expected default currency, got %s", policy.Currency)
	}
	if policy.UpdatedBy != "admin-7" || !policy.UpdatedAt.Equal(updated) || policy.UpdatedAt.Location() != time.UTC {
		t.Fatalf("unexpected audit fields %s %s", policy.UpdatedBy, policy.UpdatedAt)
	}
}

func TestDecodePricingPolicyIgnoresMalformedValues(t *testing.T) {
	policy := decodePricingPolicy(map[string]any{
		"vatRate":   "seven percent",
		"ratePerKm": true,
		"intracity": "not a map",
	})
	defaults := domain.DefaultPricingPolicy()
	if !policy.VATRate.Equal(defaults.VATRate) || !policy.RatePerKm.Equal(defaults.RatePerKm) {
		t.Fatalf("expected defaults for malformed values, got %+v", policy)
	}
	if !policy.Intracity.MaxCharge.Equal(defaults.Intracity.MaxCharge) {
		t.Fatalf("expected default intracity bounds, got %+v", policy.Intracity)
	}
}

func TestEncodePricingPolicyRoundTripsThroughDecode(t *testing.T) {
	in := domain.DefaultPricingPolicy()
	in.Currency = " ghs "
	in.ServiceFeeRate = decimal.RequireFromString("0.035")
	in.Intracity.MaxCharge = decimal.NewFromInt(12000)

	fields := encodePricingPolicy(in)
	if fields["currency"] != "GHS" {
		t.Fatalf("expected normalised currency, got %v", fields["currency"])
	}
	out := decodePricingPolicy(fields)
	if !out.ServiceFeeRate.Equal(in.ServiceFeeRate) || !out.Intracity.MaxCharge.Equal(in.Intracity.MaxCharge) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestEncodePricingPolicyKeepsFullPrecision(t *testing.T) {
	in := domain.DefaultPricingPolicy()
	in.VATRate = decimal.RequireFromString("0.07512345678901234567")
	in.Intercity.MaxCharge = decimal.RequireFromString("123456789012345.67")

	fields := encodePricingPolicy(in)
	if fields["vatRate"] != "0.07512345678901234567" {
		t.Fatalf("expected vat rate stored as exact string, got %v", fields["vatRate"])
	}
	out := decodePricingPolicy(fields)
	if !out.VATRate.Equal(in.VATRate) {
		t.Fatalf("expected vat %s, got %s", in.VATRate, out.VATRate)
	}
	if !out.Intercity.MaxCharge.Equal(in.Intercity.MaxCharge) {
		t.Fatalf("expected intercity max %s, got %s", in.Intercity.MaxCharge, out.Intercity.MaxCharge)
	}
}

func TestDecodeCarrier(t *testing.T) {
	carrier := decodeCarrier("swift", map[string]any{
		"companyName":           " Swift Riders ",
		"status":                "Active",
		"estimatedDeliveryTime": "Same day",
		"pricing": map[string]any{
			"ratePerKm":     int64(300),
			"minimumCharge": 1500.0,
		},
	})
	if carrier.ID != "swift" || carrier.Name != "Swift Riders" || !carrier.Active {
		t.Fatalf("unexpected carrier identity %+v", carrier)
	}
	if !carrier.RatePerKm.Equal(decimal.NewFromInt(300)) || !carrier.MinCharge.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected carrier pricing %+v", carrier)
	}
	if !carrier.MaxCharge.IsZero() {
		t.Fatalf("expected unset max charge, got %s", carrier.MaxCharge)
	}

	inactive := decodeCarrier("slow", map[string]any{"name": "Slow", "status": "suspended"})
	if inactive.Active || !inactive.RatePerKm.IsZero() {
		t.Fatalf("unexpected inactive carrier %+v", inactive)
	}
}

func TestSlotDocumentID(t *testing.T) {
	if got := slotDocumentID(" enc_ojawa_cart_user:a/b "); got != "enc_ojawa_cart_user:a_b" {
		t.Fatalf("unexpected slot document id %q", got)
	}
}
