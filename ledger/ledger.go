/*
ledger.go - Append-only point ledger

PURPOSE:
  The Ledger is the immutable source of truth for all point movements.
  Every purchase credit, gift redemption debit, refund, chargeback, and
  admin adjustment is recorded here. Balance is always computed by
  summing entries - there is no "balance" column that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. DERIVED BALANCE: balance(user) == SUM(delta_points), order-independent
  4. IDEMPOTENT: Duplicate (refType, refId, reason) triples are rejected
     at the storage layer, so retrying a redemption or refund application
     cannot double-apply it

WHY APPEND-ONLY?
  - Audit trail: You can always explain how a balance got to its state
  - Correctness: Concurrent writers never contend on a mutable balance row
  - Compensation: A redemption debit and its later refund credit share a
    refId; the pair nets out without either being edited

CORRECTIONS:
  Mistakes are never edited. Write a compensating entry with the opposite
  sign (reason "refund" or "admin_adjust") referencing the same refId.

SEE ALSO:
  - store/sqlite/sqlite.go: Storage with the uniqueness constraint
  - redemption/orchestrator.go: Debits through this ledger
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/coachops/revenue-engine/core"
)

// =============================================================================
// ENTRY - One immutable signed point movement
// =============================================================================

// Reason classifies why points moved. Closed set.
type Reason string

const (
	ReasonPurchase    Reason = "purchase"
	ReasonGiftRedeem  Reason = "gift_redeem"
	ReasonRefund      Reason = "refund"
	ReasonChargeback  Reason = "chargeback"
	ReasonAdminAdjust Reason = "admin_adjust"
)

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonGiftRedeem, ReasonRefund, ReasonChargeback, ReasonAdminAdjust:
		return true
	}
	return false
}

// Entry is one signed point movement. Immutable once written.
type Entry struct {
	ID          int64
	EndUserID   string
	DeltaPoints int64
	Reason      Reason
	RefType     string
	RefID       string
	CreatedAt   time.Time
}

// =============================================================================
// STORE - Persistence interface (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// AppendEntry persists an entry and returns its ID. Returns
	// core.ErrDuplicateReference when (refType, refId, reason) exists.
	// This is the ONLY write operation.
	AppendEntry(ctx context.Context, e Entry) (int64, error)

	// SumDeltas returns SUM(delta_points) for a user over all entries.
	SumDeltas(ctx context.Context, endUserID string) (int64, error)

	// EntriesByUser returns all entries for a user, oldest first.
	EntriesByUser(ctx context.Context, endUserID string) ([]Entry, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger wraps a Store with input validation. Append never reads the
// current balance; it is a pure insert. Balance is always derived.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append records one point movement and returns the entry ID.
func (l *Ledger) Append(ctx context.Context, endUserID string, deltaPoints int64, reason Reason, refType, refID string) (int64, error) {
	if endUserID == "" {
		return 0, fmt.Errorf("%w: end user id is required", core.ErrValidation)
	}
	if deltaPoints == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", core.ErrValidation)
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("%w: unknown reason %q", core.ErrValidation, reason)
	}

	return l.store.AppendEntry(ctx, Entry{
		EndUserID:   endUserID,
		DeltaPoints: deltaPoints,
		Reason:      reason,
		RefType:     refType,
		RefID:       refID,
		CreatedAt:   time.Now().UTC(),
	})
}

// Balance derives the current balance as the sum of all entries.
func (l *Ledger) Balance(ctx context.Context, endUserID string) (int64, error) {
	return l.store.SumDeltas(ctx, endUserID)
}

// Entries returns the full movement history for a user, oldest first.
func (l *Ledger) Entries(ctx context.Context, endUserID string) ([]Entry, error) {
	return l.store.EntriesByUser(ctx, endUserID)
}
