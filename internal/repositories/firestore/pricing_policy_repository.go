package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	pfirestore "github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

const (
	adminSettingsCollection = "admin_settings"
	pricingConfigDocument   = "pricing_config"
)

// PricingPolicyRepository reads and writes admin_settings/pricing_config. Fields absent from the
// stored document take the built-in defaults, so a partially configured document stays usable.
type PricingPolicyRepository struct {
	base     *pfirestore.BaseRepository[map[string]any]
	provider *pfirestore.Provider
}

var _ repositories.PricingPolicyRepository = (*PricingPolicyRepository)(nil)

// NewPricingPolicyRepository constructs a Firestore-backed policy repository.
func NewPricingPolicyRepository(provider *pfirestore.Provider) (*PricingPolicyRepository, error) {
	if provider == nil {
		return nil, errors.New("pricing policy repository requires firestore provider")
	}
	return &PricingPolicyRepository{
		base:     pfirestore.NewBaseRepository[map[string]any](provider, adminSettingsCollection, nil, pfirestore.MapDecoder()),
		provider: provider,
	}, nil
}

// Get loads the policy. A missing document is reported as not found.
func (r *PricingPolicyRepository) Get(ctx context.Context) (domain.PricingPolicy, error) {
	doc, err := r.base.Get(ctx, pricingConfigDocument)
	if err != nil {
		return domain.PricingPolicy{}, err
	}
	policy := decodePricingPolicy(doc.Data)
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = doc.UpdateTime.UTC()
	}
	return policy, nil
}

// Save replaces the policy fields, stamping lastUpdated and, on first write, createdAt.
// It joins the caller's transaction when one is open.
func (r *PricingPolicyRepository) Save(ctx context.Context, policy domain.PricingPolicy) error {
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		return r.save(ctx, policy)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return r.save(ctx, policy)
	})
}

func (r *PricingPolicyRepository) save(ctx context.Context, policy domain.PricingPolicy) error {
	fields := encodePricingPolicy(policy)
	if _, err := r.base.Get(ctx, pricingConfigDocument); err != nil {
		if !pfirestore.IsNotFound(err) {
			return err
		}
		fields["createdAt"] = firestore.ServerTimestamp
	}
	return r.base.Set(ctx, pricingConfigDocument, fields, firestore.MergeAll)
}

// encodePricingPolicy stores amounts and rates as decimal strings so they read back exactly.
func encodePricingPolicy(p domain.PricingPolicy) map[string]any {
	bounds := func(b domain.LogisticsBounds) map[string]any {
		return map[string]any{
			"minCharge": b.MinCharge.String(),
			"maxCharge": b.MaxCharge.String(),
		}
	}
	return map[string]any{
		"currency":             strings.ToUpper(strings.TrimSpace(p.Currency)),
		"vatRate":              p.VATRate.String(),
		"serviceFeeRate":       p.ServiceFeeRate.String(),
		"minServiceFee":        p.ServiceFeeMin.String(),
		"maxServiceFee":        p.ServiceFeeMax.String(),
		"ratePerKm":            p.RatePerKm.String(),
		"intracityThresholdKm": p.IntracityThresholdKm.String(),
		"intracity":            bounds(p.Intracity),
		"intercity":            bounds(p.Intercity),
		"updatedBy":            strings.TrimSpace(p.UpdatedBy),
		"lastUpdated":          firestore.ServerTimestamp,
	}
}

func decodePricingPolicy(data map[string]any) domain.PricingPolicy {
	policy := domain.DefaultPricingPolicy()
	if currency, ok := data["currency"].(string); ok && strings.TrimSpace(currency) != "" {
		policy.Currency = strings.ToUpper(strings.TrimSpace(currency))
	}
	policy.VATRate = decimalField(data, "vatRate", policy.VATRate)
	policy.ServiceFeeRate = decimalField(data, "serviceFeeRate", policy.ServiceFeeRate)
	policy.ServiceFeeMin = decimalField(data, "minServiceFee", policy.ServiceFeeMin)
	policy.ServiceFeeMax = decimalField(data, "maxServiceFee", policy.ServiceFeeMax)
	policy.RatePerKm = decimalField(data, "ratePerKm", policy.RatePerKm)
	policy.IntracityThresholdKm = decimalField(data, "intracityThresholdKm", policy.IntracityThresholdKm)
	policy.Intracity = boundsField(data, "intracity", policy.Intracity)
	policy.Intercity = boundsField(data, "intercity", policy.Intercity)
	if by, ok := data["updatedBy"].(string); ok {
		policy.UpdatedBy = by
	}
	if at, ok := data["lastUpdated"].(time.Time); ok {
		policy.UpdatedAt = at.UTC()
	}
	return policy
}

func boundsField(data map[string]any, key string, fallback domain.LogisticsBounds) domain.LogisticsBounds {
	nested, ok := data[key].(map[string]any)
	if !ok {
		return fallback
	}
	return domain.LogisticsBounds{
		MinCharge: decimalField(nested, "minCharge", fallback.MinCharge),
		MaxCharge: decimalField(nested, "maxCharge", fallback.MaxCharge),
	}
}

// decimalField reads a numeric field written by either this service or the admin console,
// which may store integers, doubles or numeric strings.
func decimalField(data map[string]any, key string, fallback decimal.Decimal) decimal.Decimal {
	switch v := data[key].(type) {
	case int64:
		return decimal.NewFromInt(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
