/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses with errors.Is/As.

ERROR CATEGORIES:
  1. Movement guards  - Invalid targets, insufficient stock
  2. Baseline guards  - Single-run lock, override reason
  3. Registry guards  - Missing core locations, unknown locations
  4. Store signals    - Duplicate idempotency key (replay, not failure)
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateEntry is returned by the store when an idempotency key
	// already exists. Operations convert this into replay semantics: the
	// original result is returned and the retry succeeds as a no-op.
	ErrDuplicateEntry = errors.New("duplicate idempotency key")

	// ErrInvalidLocation is returned when a movement targets an unknown or
	// inactive location.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrLocationNotFound is returned when no active location resolves for a
	// (kind, owner) pair.
	ErrLocationNotFound = errors.New("location not found")

	// ErrItemNotFound is returned when a movement references an unknown item.
	ErrItemNotFound = errors.New("item not found")

	// ErrItemNotTracked is returned when a movement references an item whose
	// inventory is not tracked.
	ErrItemNotTracked = errors.New("item does not track inventory")

	// ErrInvalidQuantity is returned when an adjustment would drive a balance
	// negative without an override, or when a quantity is malformed.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInsufficientStock is returned when a transfer or consumption exceeds
	// the source balance.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBaselineAlreadyExecuted is returned when the baseline seed has run
	// before and no rerun was requested.
	ErrBaselineAlreadyExecuted = errors.New("baseline seed already executed")

	// ErrMissingOverrideReason is returned when a baseline rerun is requested
	// without a reason.
	ErrMissingOverrideReason = errors.New("baseline rerun requires an override reason")

	// ErrMissingCoreLocation is returned by read-only checks when a singleton
	// location is absent.
	ErrMissingCoreLocation = errors.New("missing core location")
)

// =============================================================================
// STRUCTURED ERRORS - Carry offending ids for specific messages
// =============================================================================

// InvalidLocationError reports an unknown or inactive movement target.
type InvalidLocationError struct {
	LocationID LocationID
	Cause      string // "unknown" or "inactive"
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location %s: %s", e.LocationID, e.Cause)
}

func (e *InvalidLocationError) Unwrap() error { return ErrInvalidLocation }

// InsufficientStockError reports a balance shortage at a source location.
type InsufficientStockError struct {
	ItemID     ItemID
	LocationID LocationID
	Available  Quantity
	Requested  Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s at %s: available %s, requested %s",
		e.ItemID, e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NegativeBalanceError reports an adjustment that would breach the
// non-negative floor without an override.
type NegativeBalanceError struct {
	ItemID     ItemID
	LocationID LocationID
	Current    Quantity
	Delta      Quantity
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("adjustment of %s by %s at %s would leave balance negative (current %s)",
		e.ItemID, e.Delta, e.LocationID, e.Current)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrInvalidQuantity }

// MissingCoreLocationError lists which singleton locations are absent.
type MissingCoreLocationError struct {
	Missing []LocationKind
}

func (e *MissingCoreLocationError) Error() string {
	return fmt.Sprintf("missing core locations: %v", e.Missing)
}

func (e *MissingCoreLocationError) Unwrap() error { return ErrMissingCoreLocation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing item or location.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLocationNotFound)
}

// IsConflict returns true for guard violations a caller can resolve by
// changing the request (insufficient stock, baseline lock).
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrBaselineAlreadyExecuted) ||
		errors.Is(err, ErrMissingOverrideReason)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidLocation) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrItemNotTracked)
}
