package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/KachiAlex/ojawaecommerce-sub002/internal/platform/firestore"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

// RegistryDeps selects the repositories served by the registry. Slots defaults to the Firestore
// slot repository; callers pick Redis or memory by passing their own.
type RegistryDeps struct {
	Provider *pfirestore.Provider
	Slots    repositories.CartSlotRepository
	Health   repositories.HealthRepository
	SlotOpts []CartSlotOption
}

// Registry implements repositories.Registry on top of one Firestore provider.
type Registry struct {
	provider *pfirestore.Provider
	slots    repositories.CartSlotRepository
	policies *PricingPolicyRepository
	carriers *CarrierRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the Firestore repositories.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	if deps.Health == nil {
		return nil, errors.New("firestore registry: health repository is required")
	}
	policies, err := NewPricingPolicyRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	carriers, err := NewCarrierRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	slots := deps.Slots
	if slots == nil {
		slots, err = NewCartSlotRepository(deps.Provider, deps.SlotOpts...)
		if err != nil {
			return nil, err
		}
	}
	return &Registry{
		provider: deps.Provider,
		slots:    slots,
		policies: policies,
		carriers: carriers,
		health:   deps.Health,
	}, nil
}

func (r *Registry) CartSlots() repositories.CartSlotRepository           { return r.slots }
func (r *Registry) PricingPolicies() repositories.PricingPolicyRepository { return r.policies }
func (r *Registry) Carriers() repositories.CarrierRepository             { return r.carriers }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

// RunInTx runs fn inside a Firestore transaction; repositories called with fn's context join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
