package repositories

import (
	"context"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	CartSlots() CartSlotRepository
	PricingPolicies() PricingPolicyRepository
	Carriers() CarrierRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartSlotRepository stores opaque, already sealed cart payloads keyed by slot name.
// Read must return a RepositoryError with IsNotFound when the slot is empty.
type CartSlotRepository interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key string, payload string) error
	Delete(ctx context.Context, key string) error
}

// PricingPolicyRepository persists the single platform pricing configuration.
// Get returns a RepositoryError with IsNotFound when no configuration has been saved yet.
type PricingPolicyRepository interface {
	Get(ctx context.Context) (domain.PricingPolicy, error)
	Save(ctx context.Context, policy domain.PricingPolicy) error
}

// CarrierRepository resolves logistics partners and their per-km pricing.
type CarrierRepository interface {
	FindByID(ctx context.Context, carrierID string) (domain.Carrier, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
