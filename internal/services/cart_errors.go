package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidQuantity is returned when an add requests fewer than one unit.
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")
	// ErrInvalidProduct is returned when a product snapshot lacks an id or carries a negative price.
	ErrInvalidProduct = errors.New("cart: invalid product")
	// ErrOutOfStock matches every *OutOfStockError.
	ErrOutOfStock = errors.New("cart: out of stock")
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("cart: insufficient stock")
	// ErrPolicyUnavailable matches every *PolicyUnavailableError.
	ErrPolicyUnavailable = errors.New("pricing policy: unavailable")
	// ErrCarrierNotFound is returned when a carrier quote names an unknown partner.
	ErrCarrierNotFound = errors.New("pricing policy: carrier not found")
	// ErrQuoteInvalidInput signals a malformed quote request.
	ErrQuoteInvalidInput = errors.New("checkout pricing: invalid input")
)

// OutOfStockError rejects an add for a product that cannot be added at all.
type OutOfStockError struct {
	ProductID string
	Name      string
}

func (e *OutOfStockError) Error() string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s is out of stock", name)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// InsufficientStockError rejects a quantity above the known stock snapshot.
type InsufficientStockError struct {
	ProductID string
	Available int
	InCart    int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.InCart > 0 {
		return fmt.Sprintf("Only %d items available in stock. You already have %d in your cart.", e.Available, e.InCart)
	}
	return fmt.Sprintf("Only %d items available in stock.", e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PolicyUnavailableError reports that no pricing policy snapshot could be obtained.
type PolicyUnavailableError struct {
	Err error
}

func (e *PolicyUnavailableError) Error() string {
	if e.Err == nil {
		return ErrPolicyUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrPolicyUnavailable.Error(), e.Err)
}

func (e *PolicyUnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrPolicyUnavailable while Unwrap still exposes the cause.
func (e *PolicyUnavailableError) Is(target error) bool {
	return target == ErrPolicyUnavailable
}

// PersistenceFailure wraps any error raised while saving or loading a cart. It is logged, never surfaced.
type PersistenceFailure struct {
	Op    string
	Scope string
	Err   error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("cart persistence %s [%s]: %v", e.Op, e.Scope, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
