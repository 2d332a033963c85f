package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart              = domain.Cart
	LineItem          = domain.LineItem
	ProductSnapshot   = domain.ProductSnapshot
	DeliverySelection = domain.DeliverySelection
	PricingPolicy     = domain.PricingPolicy
	PriceBreakdown    = domain.PriceBreakdown
	BreakdownLine     = domain.BreakdownLine
	CarrierQuote      = domain.CarrierQuote
	Carrier           = domain.Carrier
)

// PricingPolicyProvider supplies the fee policy and carrier quotes. Each call returns a fresh snapshot.
type PricingPolicyProvider interface {
	CurrentPolicy(ctx context.Context) (PricingPolicy, error)
	CarrierQuote(ctx context.Context, carrierID string, distanceKm decimal.Decimal) (CarrierQuote, error)
}

// PricingPolicyService adds the admin write path to the provider.
type PricingPolicyService interface {
	PricingPolicyProvider
	UpdatePolicy(ctx context.Context, cmd UpdatePricingPolicyCommand) (PricingPolicy, error)
}

// UpdatePricingPolicyCommand replaces the stored policy on behalf of ActorID.
type UpdatePricingPolicyCommand struct {
	Policy  PricingPolicy
	ActorID string
}

// CheckoutPricingService prices a cart snapshot for checkout.
type CheckoutPricingService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error)
}

// QuoteCommand carries one pricing request.
type QuoteCommand struct {
	Cart     Cart
	Delivery DeliverySelection
	Discount decimal.Decimal
}

// QuoteResult wraps the computed breakdown and the carrier quote used for display, if any.
type QuoteResult struct {
	Breakdown PriceBreakdown
	Carrier   *CarrierQuote
}

// CartSealer encrypts and decrypts persisted cart payloads per identity scope.
type CartSealer interface {
	Seal(scope string, plaintext []byte) (string, error)
	Open(scope string, payload string) ([]byte, error)
}

// ItemAddedEvent is emitted after a successful add for transient UI feedback.
type ItemAddedEvent struct {
	EventID      string    `json:"eventId"`
	Scope        string    `json:"scope"`
	ProductID    string    `json:"productId"`
	Name         string    `json:"name"`
	Quantity     int       `json:"quantity"`
	CartQuantity int       `json:"cartQuantity"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// CartEventPublisher forwards cart events to downstream consumers.
type CartEventPublisher interface {
	PublishItemAdded(ctx context.Context, event ItemAddedEvent) (string, error)
}

// CartChange is delivered to store subscribers after every mutation.
// Revision increases monotonically per store so consumers can discard stale snapshots.
type CartChange struct {
	Cart     Cart
	Revision uint64
}
