/*
Package payout computes revenue shares: which rule applies, and how much
tax and payout a revenue event produces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rule: a revenue-share percentage with a scope and a validity window
  - Scope: a closed sum type (global | cast | cast_gift | cast_gift_category
    | cast_plan); resolution is an ordered list of candidate predicates,
    not ad hoc branching
  - TaxRate: time-effective consumption tax rates
  - RevenueEvent / Calculation: the immutable monetary records

DESIGN PRINCIPLES:
  1. Immutability: rules are never edited; deactivation is a soft update
  2. Snapshotting: Calculation freezes the rule percent at calculation
     time, so later rule changes never rewrite historical payouts
  3. Integer money: all JPY amounts are int64 in the smallest unit;
     decimal.Decimal carries rates and percentages, never stored floats

SEE ALSO:
  - calc.go: Floor-rounded tax and payout arithmetic
  - resolver.go: Scope precedence and tax-rate resolution
*/
package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE - Revenue-share percentage with scope and validity window
// =============================================================================

// ScopeType identifies how specifically a rule targets a transaction.
// Closed set; resolver precedence depends on it.
type ScopeType string

const (
	ScopeGlobal           ScopeType = "global"
	ScopeCast             ScopeType = "cast"
	ScopeCastGift         ScopeType = "cast_gift"
	ScopeCastGiftCategory ScopeType = "cast_gift_category"
	ScopeCastPlan         ScopeType = "cast_plan"
)

// Rule is one revenue-share rule. Immutable once created; deactivation is
// active=false or a closed EffectiveTo, never a physical delete.
type Rule struct {
	ID        string
	RuleType  string
	ScopeType ScopeType
	// CastID targets one cast for every scope except global.
	CastID string
	// ScopeKey carries the secondary identifier: gift id for cast_gift,
	// category for cast_gift_category, plan code for cast_plan. Empty for
	// global and cast scopes.
	ScopeKey      string
	Percent       decimal.Decimal // 0-100
	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended
	Active        bool
	CreatedAt     time.Time
}

// InWindow reports whether the rule is active and valid on the given date.
func (r Rule) InWindow(on time.Time) bool {
	if !r.Active {
		return false
	}
	if on.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && on.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// TAX RATE
// =============================================================================

// TaxRate is one time-effective consumption tax rate. Multiple rates may
// be active concurrently; resolution picks the most recent EffectiveFrom.
type TaxRate struct {
	ID            string
	Name          string
	Rate          decimal.Decimal // e.g. 0.10
	EffectiveFrom time.Time
	Active        bool
	CreatedAt     time.Time
}

// =============================================================================
// REVENUE EVENT - One monetizable occurrence, immutable
// =============================================================================

type RevenueEvent struct {
	ID            string
	EventType     string
	EndUserID     string
	CastID        string // empty when no cast is involved (e.g. point purchase)
	OccurredOn    time.Time
	AmountExclTax int64
	TaxRateID     string
	TaxJpy        int64
	AmountInclTax int64
	SourceRefType string
	SourceRefID   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// =============================================================================
// CALCULATION - Payout derived from a revenue event
// =============================================================================

// Calculation records the payout owed to a cast for one revenue event.
// PercentSnapshot freezes the resolved rule's percent so later rule edits
// never retroactively change this amount: AmountJpy is always re-derivable
// as floor(AmountExclTax * PercentSnapshot / 100).
type Calculation struct {
	ID                string
	RevenueEventID    string
	CastID            string
	RuleID            string
	PercentSnapshot   decimal.Decimal
	AmountJpy         int64
	CalculatedAt      time.Time
	SettlementBatchID *string // nil until claimed by a batch
}
