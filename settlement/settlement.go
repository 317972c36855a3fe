/*
settlement.go - Settlement batch state machine

PURPOSE:
  Groups payout calculations for a period into a batch and advances it
  through approval: draft -> approved -> paid. Transitions are
  one-directional, no skipping, no reverse. Any transition attempted from
  the wrong state returns Conflict and mutates nothing.

EXCLUSIVITY WITHOUT LOCKS:
  Creating a batch stamps each selected calculation with the batch ID.
  The selection query excludes already-stamped rows, so re-running batch
  creation for an overlapping period never double-counts a calculation.
  Stamping, not locking, is the concurrency mechanism.

SEE ALSO:
  - payout/types.go: Calculation and its SettlementBatchID
  - store/sqlite/sqlite.go: Conditional-update transitions
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/payout"
)

// =============================================================================
// BATCH
// =============================================================================

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
)

// CanTransitionTo encodes the one-directional machine.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusApproved
	case StatusApproved:
		return next == StatusPaid
	}
	return false
}

type Batch struct {
	ID             string
	PeriodFrom     time.Time
	PeriodTo       time.Time
	Status         Status
	TotalAmountJpy int64
	CreatedBy      string
	ApprovedBy     string
	ApprovedAt     *time.Time
	PaidAt         *time.Time
	CreatedAt      time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store persists batches and stamps calculations.
type Store interface {
	// InsertBatch creates the batch row in draft state.
	InsertBatch(ctx context.Context, b Batch) error

	// ClaimCalculations stamps every calculation in [from, to] whose
	// settlement_batch_id is still NULL, returning how many were claimed
	// and their amount sum. Already-stamped rows are naturally excluded.
	ClaimCalculations(ctx context.Context, batchID string, from, to time.Time) (claimed int, totalJpy int64, err error)

	// SetBatchTotal stores the summed total on the batch row.
	SetBatchTotal(ctx context.Context, batchID string, totalJpy int64) error

	// TransitionBatch conditionally advances the batch: the update applies
	// only where the current status equals from. Zero rows affected means
	// the batch was in another state (or missing) and nothing changed;
	// the store returns core.ErrInvalidTransition in that case.
	TransitionBatch(ctx context.Context, id string, from, to Status, actor string, at time.Time) error

	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context) ([]Batch, error)
	CalculationsForBatch(ctx context.Context, batchID string) ([]payout.Calculation, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store Store
	audit core.AuditLog
	now   func() time.Time
}

func NewService(store Store, audit core.AuditLog) *Service {
	return &Service{store: store, audit: audit, now: func() time.Time { return time.Now().UTC() }}
}

// CreateBatch opens a draft batch over [from, to] and claims all
// unbatched calculations in the period.
func (s *Service) CreateBatch(ctx context.Context, from, to time.Time, createdBy string) (*Batch, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: period end before start", core.ErrValidation)
	}

	b := Batch{
		ID:         uuid.NewString(),
		PeriodFrom: from,
		PeriodTo:   to,
		Status:     StatusDraft,
		CreatedBy:  createdBy,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("%w: creating batch: %v", core.ErrUnknown, err)
	}

	claimed, total, err := s.store.ClaimCalculations(ctx, b.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: claiming calculations: %v", core.ErrUnknown, err)
	}
	if err := s.store.SetBatchTotal(ctx, b.ID, total); err != nil {
		return nil, fmt.Errorf("%w: storing batch total: %v", core.ErrUnknown, err)
	}
	b.TotalAmountJpy = total

	core.Emit(ctx, s.audit, core.AuditEntry{
		Action:     core.AuditBatchCreated,
		TargetType: "settlement_batch",
		TargetID:   b.ID,
		Success:    true,
		Metadata: map[string]string{
			"claimed":   fmt.Sprintf("%d", claimed),
			"total_jpy": fmt.Sprintf("%d", total),
		},
		ActorID: core.StaffActor(createdBy),
	})

	return &b, nil
}

// Approve advances draft -> approved, recording the approver.
func (s *Service) Approve(ctx context.Context, id, approvedBy string) error {
	if err := s.store.TransitionBatch(ctx, id, StatusDraft, StatusApproved, approvedBy, s.now()); err != nil {
		return err
	}
	core.Emit(ctx, s.audit, core.AuditEntry{
		Action:     core.AuditBatchApproved,
		TargetType: "settlement_batch",
		TargetID:   id,
		Success:    true,
		ActorID:    core.StaffActor(approvedBy),
	})
	return nil
}

// MarkPaid advances approved -> paid.
func (s *Service) MarkPaid(ctx context.Context, id, actor string) error {
	if err := s.store.TransitionBatch(ctx, id, StatusApproved, StatusPaid, actor, s.now()); err != nil {
		return err
	}
	core.Emit(ctx, s.audit, core.AuditEntry{
		Action:     core.AuditBatchPaid,
		TargetType: "settlement_batch",
		TargetID:   id,
		Success:    true,
		ActorID:    core.StaffActor(actor),
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: loading batch: %v", core.ErrUnknown, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: settlement batch %s", core.ErrNotFound, id)
	}
	return b, nil
}

func (s *Service) List(ctx context.Context) ([]Batch, error) {
	return s.store.ListBatches(ctx)
}

func (s *Service) Calculations(ctx context.Context, batchID string) ([]payout.Calculation, error) {
	return s.store.CalculationsForBatch(ctx, batchID)
}
