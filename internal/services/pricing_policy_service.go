package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/KachiAlex/ojawaecommerce-sub002/internal/domain"
	"github.com/KachiAlex/ojawaecommerce-sub002/internal/repositories"
)

// Partner pricing defaults applied when a carrier document omits a field.
var (
	defaultCarrierRatePerKm = decimal.NewFromInt(500)
	defaultCarrierMinCharge = decimal.NewFromInt(2000)
	defaultCarrierMaxCharge = decimal.NewFromInt(100000)
)

// PricingPolicyServiceDeps bundles collaborators for the policy service.
type PricingPolicyServiceDeps struct {
	Policies   repositories.PricingPolicyRepository
	Carriers   repositories.CarrierRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     *zap.Logger
}

type pricingPolicyService struct {
	policies repositories.PricingPolicyRepository
	carriers repositories.CarrierRepository
	uow      repositories.UnitOfWork
	now      func() time.Time
	logger   *zap.Logger
}

var _ PricingPolicyService = (*pricingPolicyService)(nil)

// NewPricingPolicyService builds the repository-backed policy provider.
func NewPricingPolicyService(deps PricingPolicyServiceDeps) (PricingPolicyService, error) {
	if deps.Policies == nil {
		return nil, errors.New("pricing policy service: policy repository is required")
	}
	if deps.Carriers == nil {
		return nil, errors.New("pricing policy service: carrier repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pricingPolicyService{
		policies: deps.Policies,
		carriers: deps.Carriers,
		uow:      deps.UnitOfWork,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CurrentPolicy reads the stored configuration. A missing document yields the defaults.
func (s *pricingPolicyService) CurrentPolicy(ctx context.Context) (PricingPolicy, error) {
	policy, err := s.policies.Get(ctx)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.DefaultPricingPolicy(), nil
		}
		s.logger.Warn("pricing policy unavailable", zap.Error(err))
		return PricingPolicy{}, &PolicyUnavailableError{Err: err}
	}
	return policy, nil
}

func (s *pricingPolicyService) CarrierQuote(ctx context.Context, carrierID string, distanceKm decimal.Decimal) (CarrierQuote, error) {
	carrierID = strings.TrimSpace(carrierID)
	if carrierID == "" {
		return CarrierQuote{}, fmt.Errorf("%w: carrier id is required", ErrQuoteInvalidInput)
	}

	carrier, err := s.carriers.FindByID(ctx, carrierID)
	if err != nil {
		if isRepoNotFound(err) {
			return CarrierQuote{}, fmt.Errorf("%w: %s", ErrCarrierNotFound, carrierID)
		}
		return CarrierQuote{}, fmt.Errorf("pricing policy: load carrier %s: %w", carrierID, err)
	}
	if !carrier.Active {
		return CarrierQuote{}, fmt.Errorf("%w: %s is inactive", ErrCarrierNotFound, carrierID)
	}
	return QuoteCarrier(carrier, distanceKm), nil
}

func (s *pricingPolicyService) UpdatePolicy(ctx context.Context, cmd UpdatePricingPolicyCommand) (PricingPolicy, error) {
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return PricingPolicy{}, fmt.Errorf("%w: actor is required", domain.ErrPolicyInvalid)
	}
	policy := cmd.Policy
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))
	if err := policy.Validate(); err != nil {
		return PricingPolicy{}, err
	}
	policy.UpdatedAt = s.now()
	policy.UpdatedBy = actor

	save := func(ctx context.Context) error {
		return s.policies.Save(ctx, policy)
	}
	var err error
	if s.uow != nil {
		err = s.uow.RunInTx(ctx, save)
	} else {
		err = save(ctx)
	}
	if err != nil {
		return PricingPolicy{}, fmt.Errorf("pricing policy: save: %w", err)
	}

	s.logger.Info("pricing policy updated",
		zap.String("actor", actor),
		zap.String("vatRate", policy.VATRate.String()),
		zap.String("serviceFeeRate", policy.ServiceFeeRate.String()),
	)
	return policy, nil
}

// QuoteCarrier prices distanceKm with the carrier's per-km rate, applying its minimum
// charge after its maximum, and rounds to whole currency units.
func QuoteCarrier(carrier Carrier, distanceKm decimal.Decimal) CarrierQuote {
	rate := positiveOr(carrier.RatePerKm, defaultCarrierRatePerKm)
	minCharge := positiveOr(carrier.MinCharge, defaultCarrierMinCharge)
	maxCharge := positiveOr(carrier.MaxCharge, defaultCarrierMaxCharge)

	base := decimal.Max(distanceKm, decimal.Zero).Mul(rate)
	cost := decimal.Max(minCharge, decimal.Min(maxCharge, base))

	name := strings.TrimSpace(carrier.Name)
	if name == "" {
		name = carrier.ID
	}
	return CarrierQuote{
		CarrierID:     carrier.ID,
		CarrierName:   name,
		Cost:          cost.Round(0),
		EstimatedTime: strings.TrimSpace(carrier.EstimatedTime),
		AppliedMin:    base.LessThan(minCharge),
		AppliedMax:    base.GreaterThan(maxCharge),
	}
}

func positiveOr(v, fallback decimal.Decimal) decimal.Decimal {
	if v.IsPositive() {
		return v
	}
	return fallback
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// StaticPolicyProvider serves a fixed policy and carrier table. Used by tests and local runs.
type StaticPolicyProvider struct {
	Policy   PricingPolicy
	Carriers map[string]Carrier
	// Err, when set, is returned from CurrentPolicy wrapped as a PolicyUnavailableError.
	Err error
}

var _ PricingPolicyProvider = (*StaticPolicyProvider)(nil)

func (p *StaticPolicyProvider) CurrentPolicy(context.Context) (PricingPolicy, error) {
	if p.Err != nil {
		return PricingPolicy{}, &PolicyUnavailableError{Err: p.Err}
	}
	return p.Policy, nil
}

func (p *StaticPolicyProvider) CarrierQuote(_ context.Context, carrierID string, distanceKm decimal.Decimal) (CarrierQuote, error) {
	carrier, ok := p.Carriers[strings.TrimSpace(carrierID)]
	if !ok || !carrier.Active {
		return CarrierQuote{}, fmt.Errorf("%w: %s", ErrCarrierNotFound, carrierID)
	}
	return QuoteCarrier(carrier, distanceKm), nil
}
