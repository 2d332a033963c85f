package firestore

import "fmt"

// slotError reports a slot document that exists but carries no payload.
type slotError struct {
	key string
}

func emptySlotError(key string) error { return &slotError{key: key} }

func (e *slotError) Error() string { return fmt.Sprintf("cart_slots.get: slot %s is empty", e.key) }

func (e *slotError) IsNotFound() bool    { return true }
func (e *slotError) IsConflict() bool    { return false }
func (e *slotError) IsUnavailable() bool { return false }
