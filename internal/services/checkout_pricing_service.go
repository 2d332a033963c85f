package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
)

// CheckoutPricingServiceDeps bundles collaborators for checkout pricing.
type CheckoutPricingServiceDeps struct {
	Provider PricingPolicyProvider
	Engine   *PricingEngine
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

type checkoutPricingService struct {
	provider  PricingPolicyProvider
	engine    *PricingEngine
	logger    *zap.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
}

var _ CheckoutPricingService = (*checkoutPricingService)(nil)

// NewCheckoutPricingService wires the engine to a policy provider.
func NewCheckoutPricingService(deps CheckoutPricingServiceDeps) (CheckoutPricingService, error) {
	if deps.Provider == nil {
		return nil, errors.New("checkout pricing: policy provider is required")
	}
	engine := deps.Engine
	if engine == nil {
		engine = NewPricingEngine(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/KachiAlex/ojawaecommerce-sub002/internal/services/checkout")
	}
	return &checkoutPricingService{
		provider:  deps.Provider,
		engine:    engine,
		logger:    logger,
		tracer:    tracer,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Quote fetches one policy snapshot and prices the cart. When no policy can be obtained
// the result degrades to a subtotal-only breakdown instead of failing.
func (s *checkoutPricingService) Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Quote")
	defer span.End()

	delivery, err := normalizeDelivery(cmd.Delivery)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return QuoteResult{}, err
	}
	span.SetAttributes(
		attribute.String("cart.scope", cmd.Cart.Scope),
		attribute.Int("cart.items", len(cmd.Cart.Items)),
		attribute.String("delivery.mode", string(delivery.Mode)),
	)

	policy, err := s.provider.CurrentPolicy(ctx)
	if err != nil {
		if !errors.Is(err, ErrPolicyUnavailable) {
			span.SetStatus(codes.Error, err.Error())
			return QuoteResult{}, fmt.Errorf("checkout pricing: load policy: %w", err)
		}
		s.logger.Warn("pricing policy unavailable, quoting subtotal only",
			zap.String("scope", cmd.Cart.Scope),
			zap.Error(err),
		)
		span.SetAttributes(attribute.Bool("pricing.policy_applied", false))
		return QuoteResult{Breakdown: s.engine.SubtotalOnlyBreakdown(cmd.Cart, "")}, nil
	}

	var carrier *CarrierQuote
	if delivery.IsDelivery() && delivery.CarrierID != "" {
		quote, err := s.provider.CarrierQuote(ctx, delivery.CarrierID, delivery.DistanceKm)
		if err != nil {
			s.logger.Warn("carrier quote failed",
				zap.String("carrierId", delivery.CarrierID),
				zap.Error(err),
			)
		} else {
			quote.CarrierName = s.sanitizer.Sanitize(quote.CarrierName)
			carrier = &quote
			if delivery.CarrierName == "" {
				delivery.CarrierName = quote.CarrierName
			}
		}
	}

	breakdown := s.engine.ComputeBreakdown(cmd.Cart, delivery, policy, cmd.Discount)
	span.SetAttributes(
		attribute.Bool("pricing.policy_applied", true),
		attribute.String("pricing.route_category", string(breakdown.RouteCategory)),
		attribute.String("pricing.total", breakdown.Total.String()),
	)
	return QuoteResult{Breakdown: breakdown, Carrier: carrier}, nil
}

func normalizeDelivery(in DeliverySelection) (DeliverySelection, error) {
	out := in
	out.Mode = domain.DeliveryMode(strings.ToLower(strings.TrimSpace(string(in.Mode))))
	out.CarrierID = strings.TrimSpace(in.CarrierID)
	out.CarrierName = strings.TrimSpace(in.CarrierName)
	switch out.Mode {
	case "", domain.DeliveryModePickup:
		return domain.Pickup(), nil
	case domain.DeliveryModeDelivery:
		return out, nil
	default:
		return DeliverySelection{}, fmt.Errorf("%w: unknown delivery mode %q", ErrQuoteInvalidInput, in.Mode)
	}
}
