package memory

import (
	"context"
	"strings"
	"sync"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

// PricingPolicyRepository holds the pricing configuration in process memory.
type PricingPolicyRepository struct {
	mu     sync.RWMutex
	policy *domain.PricingPolicy
}

var _ repositories.PricingPolicyRepository = (*PricingPolicyRepository)(nil)

// NewPricingPolicyRepository returns an empty repository; Get reports not found until Save.
func NewPricingPolicyRepository() *PricingPolicyRepository {
	return &PricingPolicyRepository{}
}

func (r *PricingPolicyRepository) Get(ctx context.Context) (domain.PricingPolicy, error) {
	if err := ctx.Err(); err != nil {
		return domain.PricingPolicy{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.policy == nil {
		return domain.PricingPolicy{}, &Error{op: "pricing_policy.get", key: "platform", notFound: true}
	}
	return *r.policy, nil
}

func (r *PricingPolicyRepository) Save(ctx context.Context, policy domain.PricingPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.policy = &policy
	r.mu.Unlock()
	return nil
}

// CarrierRepository serves a fixed carrier table.
type CarrierRepository struct {
	carriers map[string]domain.Carrier
}

var _ repositories.CarrierRepository = (*CarrierRepository)(nil)

// NewCarrierRepository indexes carriers by id.
func NewCarrierRepository(carriers ...domain.Carrier) *CarrierRepository {
	index := make(map[string]domain.Carrier, len(carriers))
	for _, carrier := range carriers {
		index[strings.TrimSpace(carrier.ID)] = carrier
	}
	return &CarrierRepository{carriers: index}
}

func (r *CarrierRepository) FindByID(ctx context.Context, carrierID string) (domain.Carrier, error) {
	if err := ctx.Err(); err != nil {
		return domain.Carrier{}, err
	}
	carrierID = strings.TrimSpace(carrierID)
	carrier, ok := r.carriers[carrierID]
	if !ok {
		return domain.Carrier{}, &Error{op: "carriers.find", key: carrierID, notFound: true}
	}
	return carrier, nil
}
