/*
resolver.go - Payout rule and tax rate resolution

PURPOSE:
  Picks the single applicable revenue-share rule for a transaction under
  scope and time-validity precedence, and the applicable tax rate at a
  point in time.

PRECEDENCE (most specific wins, first match in this order):
  1. cast_gift           - exact cast + gift
  2. cast_gift_category  - cast + gift category
  3. cast_plan           - cast + plan code (only when a plan is supplied)
  4. cast                - all gifts for that cast
  5. global
  Each level is filtered to active rules whose window contains the query
  date; ties within a level break to the latest EffectiveFrom.

NO-FALLBACK CONTRACT:
  If no rule matches at any level, resolution fails with ErrNoPayoutRule
  and the caller must abort. An unconfigured payout is a configuration
  error, not a valid zero percent.
*/
package payout

import (
	"time"

	"github.com/coachops/revenue-engine/core"
)

// =============================================================================
// RULE RESOLUTION
// =============================================================================

// ResolveQuery describes the transaction a rule is needed for.
type ResolveQuery struct {
	CastID       string
	GiftID       string
	GiftCategory string
	PlanCode     string
	OnDate       time.Time
}

// rulePredicate reports whether a rule's scope targets the query.
// Window and active filtering happen outside the predicate.
type rulePredicate func(Rule, ResolveQuery) bool

// candidatePredicates is the fixed precedence order. Keeping it as data
// makes the ordering testable in isolation.
var candidatePredicates = []rulePredicate{
	func(r Rule, q ResolveQuery) bool {
		return r.ScopeType == ScopeCastGift && r.CastID == q.CastID && q.GiftID != "" && r.ScopeKey == q.GiftID
	},
	func(r Rule, q ResolveQuery) bool {
		return r.ScopeType == ScopeCastGiftCategory && r.CastID == q.CastID && q.GiftCategory != "" && r.ScopeKey == q.GiftCategory
	},
	func(r Rule, q ResolveQuery) bool {
		return r.ScopeType == ScopeCastPlan && r.CastID == q.CastID && q.PlanCode != "" && r.ScopeKey == q.PlanCode
	},
	func(r Rule, q ResolveQuery) bool {
		return r.ScopeType == ScopeCast && r.CastID == q.CastID
	},
	func(r Rule, q ResolveQuery) bool {
		return r.ScopeType == ScopeGlobal
	},
}

// Resolve picks the single applicable rule, or ErrNoPayoutRule.
func Resolve(rules []Rule, q ResolveQuery) (*Rule, error) {
	for _, matches := range candidatePredicates {
		var best *Rule
		for i := range rules {
			r := &rules[i]
			if !r.InWindow(q.OnDate) || !matches(*r, q) {
				continue
			}
			if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
				best = r
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, core.ErrNoPayoutRule
}

// =============================================================================
// TAX RATE RESOLUTION
// =============================================================================

// ResolveTaxRate picks the most recent EffectiveFrom among active rates
// already effective at the given time, or ErrNoTaxRate.
func ResolveTaxRate(rates []TaxRate, at time.Time) (*TaxRate, error) {
	var best *TaxRate
	for i := range rates {
		r := &rates[i]
		if !r.Active || r.EffectiveFrom.After(at) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = r
		}
	}
	if best == nil {
		return nil, core.ErrNoTaxRate
	}
	return best, nil
}
