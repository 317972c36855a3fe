/*
errors.go - Centralized error taxonomy for the revenue engine

PURPOSE:
  All error categories in one place for consistency and discoverability.
  Domain packages wrap these with additional context; the API layer maps
  each category to an HTTP status.

ERROR CATEGORIES:
  1. Validation - malformed input, recoverable by caller correction
  2. Conflict   - duplicate event, wrong state transition, insufficient
                  balance; retrying the same input will not help
  3. NotFound   - missing referenced entity
  4. Config     - no tax rate or payout rule resolves; operational
                  misconfiguration that must be surfaced loudly
  5. External   - downstream provider/messaging failure
  6. Unknown    - unexpected storage failure

USAGE:
  Domain packages wrap category errors:

    if errors.Is(err, core.ErrInsufficientBalance) {
        // distinct user-facing message: top up points
    }

SEE ALSO:
  - ledger/ledger.go: Uses ErrDuplicateReference
  - webhook/gate.go: Uses ErrDuplicateEvent
  - settlement/settlement.go: Uses ErrInvalidTransition
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// CATEGORY SENTINELS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation indicates malformed input, recoverable by correcting it.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a state conflict: duplicate event, wrong
	// state-machine transition, insufficient balance. Blind retry won't help.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a missing referenced entity.
	ErrNotFound = errors.New("not found")

	// ErrConfig indicates an operational misconfiguration (no tax rate, no
	// payout rule). Never defaulted; must surface loudly.
	ErrConfig = errors.New("configuration error")

	// ErrExternal indicates a downstream provider or messaging failure.
	ErrExternal = errors.New("external service error")

	// ErrUnknown indicates an unexpected storage failure.
	ErrUnknown = errors.New("unknown error")
)

// =============================================================================
// SPECIFIC SENTINELS - Each unwraps to its category
// =============================================================================

var (
	// ErrDuplicateEvent is returned when a webhook event with the same
	// (provider, eventId) was already recorded. Expected under provider retry.
	ErrDuplicateEvent = fmt.Errorf("%w: duplicate webhook event", ErrConflict)

	// ErrDuplicateReference is returned when a ledger entry with the same
	// (refType, refId, reason) already exists. Makes redemption and refund
	// application idempotent under retry.
	ErrDuplicateReference = fmt.Errorf("%w: duplicate ledger reference", ErrConflict)

	// ErrInsufficientBalance is returned when a debit exceeds the derived balance.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrConflict)

	// ErrInvalidTransition is returned when a settlement batch transition is
	// attempted from the wrong state. State is never mutated on this path.
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrConflict)

	// ErrDailyLimitReached is returned when a user exceeds the configured
	// per-day redemption limit.
	ErrDailyLimitReached = fmt.Errorf("%w: daily redemption limit reached", ErrConflict)

	// ErrNoTaxRate is returned when no active tax rate exists at calculation time.
	ErrNoTaxRate = fmt.Errorf("%w: no active tax rate", ErrConfig)

	// ErrNoPayoutRule is returned when no payout rule resolves for a
	// transaction. An unconfigured payout is a configuration error, not a
	// valid zero percent.
	ErrNoPayoutRule = fmt.Errorf("%w: no payout rule resolves", ErrConfig)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a point balance shortage.
type InsufficientBalanceError struct {
	EndUserID string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: available %d, requested %d",
		e.EndUserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TransitionError provides details about a rejected batch transition.
type TransitionError struct {
	BatchID string
	Current string
	Target  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("batch %s: cannot transition %s -> %s", e.BatchID, e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true for duplicate events, duplicate references,
// insufficient balance, and wrong-state transitions.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsConfigError returns true when an operation failed due to missing
// operational configuration.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
