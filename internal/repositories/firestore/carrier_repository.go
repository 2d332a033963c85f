package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	pfirestore "github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

const (
	logisticsCompanyCollection = "logistics_companies"
	carrierStatusActive        = "active"
)

// CarrierRepository resolves logistics partners from logistics_companies documents.
type CarrierRepository struct {
	base *pfirestore.BaseRepository[map[string]any]
}

var _ repositories.CarrierRepository = (*CarrierRepository)(nil)

// NewCarrierRepository constructs a Firestore-backed carrier repository.
func NewCarrierRepository(provider *pfirestore.Provider) (*CarrierRepository, error) {
	if provider == nil {
		return nil, errors.New("carrier repository requires firestore provider")
	}
	return &CarrierRepository{
		base: pfirestore.NewBaseRepository[map[string]any](provider, logisticsCompanyCollection, nil, pfirestore.MapDecoder()),
	}, nil
}

// FindByID loads one partner. Partners without a pricing block decode with zero rate and bounds.
func (r *CarrierRepository) FindByID(ctx context.Context, carrierID string) (domain.Carrier, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(carrierID))
	if err != nil {
		return domain.Carrier{}, err
	}
	return decodeCarrier(doc.ID, doc.Data), nil
}

func decodeCarrier(id string, data map[string]any) domain.Carrier {
	carrier := domain.Carrier{ID: id}
	for _, key := range []string{"companyName", "name", "businessName"} {
		if name, ok := data[key].(string); ok && strings.TrimSpace(name) != "" {
			carrier.Name = strings.TrimSpace(name)
			break
		}
	}
	if eta, ok := data["estimatedDeliveryTime"].(string); ok {
		carrier.EstimatedTime = strings.TrimSpace(eta)
	}
	status, _ := data["status"].(string)
	carrier.Active = strings.EqualFold(strings.TrimSpace(status), carrierStatusActive)

	if pricing, ok := data["pricing"].(map[string]any); ok {
		carrier.RatePerKm = decimalField(pricing, "ratePerKm", decimal.Zero)
		carrier.MinCharge = decimalField(pricing, "minimumCharge", decimal.Zero)
		carrier.MaxCharge = decimalField(pricing, "maximumCharge", decimal.Zero)
	}
	return carrier
}
