/*
orchestrator.go - Gift redemption across independent writes

PURPOSE:
  Composes Ledger + rule resolution + tax/payout arithmetic + event
  emission into one user-facing operation. The steps execute as an
  ordered sequence of independent writes with NO multi-statement
  transaction guarantee.

STEP ORDER:
  1. Balance gate (before any write; InsufficientBalance aborts cleanly)
  2. Redemption row (the anchor refId for every later step)
  3. Ledger debit (-cost, reason gift_redeem)
  4. Tax rate lookup (ConfigError if none)
  5. Payout rule resolution (ConfigError if none)
  6. Tax computation + RevenueEvent row
  7. Payout computation + Calculation row, snapshotting the percent
  8. Conversation-visible system message (best-effort, fire-and-forget)

FORWARD-ONLY COMPENSATION:
  Every step after 1 that fails is reported but does NOT undo prior
  successful steps. Every step after the debit is additive bookkeeping,
  not double-spending, so the policy is: surface the first failing step's
  error, log loudly, never roll back. The ledger's (refType, refId, reason)
  uniqueness makes a retried debit for the same redemption a no-op.

KNOWN RACE (inherited, documented, not "fixed"):
  The balance gate is check-then-act without a lock. Two simultaneous
  redemptions for one user can both pass the check before either debits.
  Closing it needs a conditional-debit storage primitive the legacy
  behavior never had; see DESIGN.md.

SEE ALSO:
  - ledger/ledger.go: Debit semantics
  - payout/resolver.go: Rule precedence
  - settlement/settlement.go: Where calculations go next
*/
package redemption

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/payout"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Redemption is the domain row anchoring one redemption instance.
type Redemption struct {
	ID           string
	EndUserID    string
	CastID       string
	GiftID       string
	GiftName     string
	GiftCategory string
	CostPoints   int64
	CreatedAt    time.Time
}

// RuleSource supplies payout rules for resolution.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]payout.Rule, error)
}

// TaxRateSource supplies tax rates for resolution.
type TaxRateSource interface {
	TaxRates(ctx context.Context) ([]payout.TaxRate, error)
}

// RevenueStore persists the monetary records of steps 6-7.
type RevenueStore interface {
	SaveRevenueEvent(ctx context.Context, ev payout.RevenueEvent) error
	SaveCalculation(ctx context.Context, c payout.Calculation) error
}

// RedemptionStore persists the anchor row and serves the daily limit check.
type RedemptionStore interface {
	SaveRedemption(ctx context.Context, r Redemption) error
	CountRedemptionsSince(ctx context.Context, endUserID string, since time.Time) (int, error)
}

// Notifier posts the conversation-visible system message. Best-effort:
// a failure is logged, never propagated as a transaction failure.
type Notifier interface {
	PostSystemMessage(ctx context.Context, endUserID, text string) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Ledger      *ledger.Ledger
	Rules       RuleSource
	TaxRates    TaxRateSource
	Revenue     RevenueStore
	Redemptions RedemptionStore
	Notifier    Notifier
	Audit       core.AuditLog
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	deps Deps
	cfg  core.Config
	now  func() time.Time
}

func New(deps Deps, cfg core.Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock. Test hook.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Request describes one gift redemption.
type Request struct {
	EndUserID    string
	CastID       string
	GiftID       string
	GiftName     string
	GiftCategory string
	// CostPoints and PriceExclTax: what the user pays in points, and the
	// JPY revenue value of the gift. CostPoints falls back to the
	// configured default when zero.
	CostPoints   int64
	PriceExclTax int64
}

// Result reports what the redemption produced.
type Result struct {
	RedemptionID   string
	NewBalance     int64
	Tax            payout.Tax
	RuleID         string
	PercentApplied string
	PayoutAmount   int64
	RevenueEventID string
}

// Redeem executes the ordered redemption sequence.
func (o *Orchestrator) Redeem(ctx context.Context, req Request) (*Result, error) {
	cost := req.CostPoints
	if cost == 0 {
		cost = o.cfg.DefaultGiftCostPoints
	}
	if req.EndUserID == "" || req.CastID == "" || req.GiftID == "" {
		return nil, fmt.Errorf("%w: end user, cast and gift are required", core.ErrValidation)
	}
	if cost <= 0 {
		return nil, fmt.Errorf("%w: gift cost must be positive", core.ErrValidation)
	}
	if req.PriceExclTax < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", core.ErrValidation)
	}

	now := o.now()

	if o.cfg.MaxRedemptionsPerUserPerDay > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := o.deps.Redemptions.CountRedemptionsSince(ctx, req.EndUserID, dayStart)
		if err != nil {
			return nil, fmt.Errorf("%w: counting redemptions: %v", core.ErrUnknown, err)
		}
		if n >= o.cfg.MaxRedemptionsPerUserPerDay {
			return nil, core.ErrDailyLimitReached
		}
	}

	// Step 1: balance gate. Checked BEFORE any write so an insufficient
	// balance leaves no trace. Not a lock; see the header comment.
	balance, err := o.deps.Ledger.Balance(ctx, req.EndUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading balance: %v", core.ErrUnknown, err)
	}
	if balance < cost {
		return nil, &core.InsufficientBalanceError{
			EndUserID: req.EndUserID,
			Available: balance,
			Requested: cost,
		}
	}

	// Step 2: anchor row.
	red := Redemption{
		ID:           uuid.NewString(),
		EndUserID:    req.EndUserID,
		CastID:       req.CastID,
		GiftID:       req.GiftID,
		GiftName:     req.GiftName,
		GiftCategory: req.GiftCategory,
		CostPoints:   cost,
		CreatedAt:    now,
	}
	if err := o.deps.Redemptions.SaveRedemption(ctx, red); err != nil {
		return nil, fmt.Errorf("%w: recording redemption: %v", core.ErrUnknown, err)
	}

	// Step 3: ledger debit, anchored to the redemption.
	if _, err := o.deps.Ledger.Append(ctx, req.EndUserID, -cost, ledger.ReasonGiftRedeem, "redemption", red.ID); err != nil {
		o.logPartial(red.ID, "ledger debit", err)
		return nil, err
	}

	// Step 4: tax rate lookup.
	rates, err := o.deps.TaxRates.TaxRates(ctx)
	if err != nil {
		o.logPartial(red.ID, "tax rate load", err)
		return nil, fmt.Errorf("%w: loading tax rates: %v", core.ErrUnknown, err)
	}
	rate, err := payout.ResolveTaxRate(rates, now)
	if err != nil {
		o.logPartial(red.ID, "tax rate resolution", err)
		return nil, err
	}

	// Step 5: payout rule resolution.
	rules, err := o.deps.Rules.ActiveRules(ctx)
	if err != nil {
		o.logPartial(red.ID, "rule load", err)
		return nil, fmt.Errorf("%w: loading payout rules: %v", core.ErrUnknown, err)
	}
	rule, err := payout.Resolve(rules, payout.ResolveQuery{
		CastID:       req.CastID,
		GiftID:       req.GiftID,
		GiftCategory: req.GiftCategory,
		OnDate:       now,
	})
	if err != nil {
		o.logPartial(red.ID, "rule resolution", err)
		return nil, err
	}

	// Step 6: tax + revenue event.
	tax := payout.ComputeTax(req.PriceExclTax, rate.Rate)
	ev := payout.RevenueEvent{
		ID:            uuid.NewString(),
		EventType:     "gift_redeem",
		EndUserID:     req.EndUserID,
		CastID:        req.CastID,
		OccurredOn:    now,
		AmountExclTax: tax.AmountExclTax,
		TaxRateID:     rate.ID,
		TaxJpy:        tax.TaxJpy,
		AmountInclTax: tax.AmountInclTax,
		SourceRefType: "redemption",
		SourceRefID:   red.ID,
		Metadata: map[string]string{
			"gift_id":     req.GiftID,
			"gift_name":   req.GiftName,
			"cost_points": strconv.FormatInt(cost, 10),
		},
		CreatedAt: now,
	}
	if err := o.deps.Revenue.SaveRevenueEvent(ctx, ev); err != nil {
		o.logPartial(red.ID, "revenue event", err)
		return nil, fmt.Errorf("%w: recording revenue event: %v", core.ErrUnknown, err)
	}

	// Step 7: payout calculation, percent frozen now.
	amount := payout.ComputePayout(tax.AmountExclTax, rule.Percent)
	calc := payout.Calculation{
		ID:              uuid.NewString(),
		RevenueEventID:  ev.ID,
		CastID:          req.CastID,
		RuleID:          rule.ID,
		PercentSnapshot: rule.Percent,
		AmountJpy:       amount,
		CalculatedAt:    now,
	}
	if err := o.deps.Revenue.SaveCalculation(ctx, calc); err != nil {
		o.logPartial(red.ID, "payout calculation", err)
		return nil, fmt.Errorf("%w: recording payout calculation: %v", core.ErrUnknown, err)
	}

	// Step 8: conversation-visible event. Fire-and-forget.
	if o.deps.Notifier != nil {
		text := fmt.Sprintf("Gift redeemed: %s (%d pt)", req.GiftName, cost)
		if err := o.deps.Notifier.PostSystemMessage(ctx, req.EndUserID, text); err != nil {
			log.Printf("redemption %s: conversation event failed: %v", red.ID, err)
		}
	}

	core.Emit(ctx, o.deps.Audit, core.AuditEntry{
		Action:     core.AuditGiftRedeemed,
		TargetType: "redemption",
		TargetID:   red.ID,
		Success:    true,
		Metadata: map[string]string{
			"end_user_id": req.EndUserID,
			"cast_id":     req.CastID,
			"gift_id":     req.GiftID,
			"cost_points": strconv.FormatInt(cost, 10),
			"payout_jpy":  strconv.FormatInt(amount, 10),
		},
		ActorID: core.SystemActor(),
	})

	return &Result{
		RedemptionID:   red.ID,
		NewBalance:     balance - cost,
		Tax:            tax,
		RuleID:         rule.ID,
		PercentApplied: rule.Percent.String(),
		PayoutAmount:   amount,
		RevenueEventID: ev.ID,
	}, nil
}

// logPartial surfaces a mid-sequence failure loudly. Prior steps stay
// committed; this log line is the operator's pointer to them.
func (o *Orchestrator) logPartial(redemptionID, step string, err error) {
	log.Printf("redemption %s: %s failed after prior steps committed (forward-only, no rollback): %v",
		redemptionID, step, err)
}
