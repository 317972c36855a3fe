package payout_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/coachops/revenue-engine/payout"
)

// =============================================================================
// TAX COMPUTATION
// =============================================================================

func TestComputeTax_FloorsFractionalYen(t *testing.T) {
	// GIVEN: A 10% consumption tax rate
	// WHEN: Computing tax on 101 JPY (10.1 JPY raw tax)
	// THEN: The fractional yen is floored, never rounded up

	rate := decimal.RequireFromString("0.10")
	tax := payout.ComputeTax(101, rate)

	assert.Equal(t, int64(101), tax.AmountExclTax)
	assert.Equal(t, int64(10), tax.TaxJpy, "10.1 floors to 10")
	assert.Equal(t, int64(111), tax.AmountInclTax)
}

func TestComputeTax_ExactAmount(t *testing.T) {
	rate := decimal.RequireFromString("0.10")
	tax := payout.ComputeTax(1000, rate)

	assert.Equal(t, int64(100), tax.TaxJpy)
	assert.Equal(t, int64(1100), tax.AmountInclTax)
}

func TestComputeTax_ZeroRate(t *testing.T) {
	tax := payout.ComputeTax(500, decimal.Zero)

	assert.Equal(t, int64(0), tax.TaxJpy)
	assert.Equal(t, int64(500), tax.AmountInclTax)
}

func TestComputeTax_ZeroAmount(t *testing.T) {
	tax := payout.ComputeTax(0, decimal.RequireFromString("0.10"))

	assert.Equal(t, int64(0), tax.TaxJpy)
	assert.Equal(t, int64(0), tax.AmountInclTax)
}

// =============================================================================
// PAYOUT COMPUTATION
// =============================================================================

func TestComputePayout_FloorsOnce(t *testing.T) {
	// GIVEN: A 30% revenue share
	// WHEN: Computing the payout on 101 JPY (30.3 JPY raw)
	// THEN: The result floors to 30

	percent := decimal.NewFromInt(30)
	assert.Equal(t, int64(30), payout.ComputePayout(101, percent))
}

func TestComputePayout_Boundaries(t *testing.T) {
	// 0% pays nothing, 100% pays everything. No clamping surprises.
	assert.Equal(t, int64(0), payout.ComputePayout(100, decimal.Zero))
	assert.Equal(t, int64(100), payout.ComputePayout(100, decimal.NewFromInt(100)))
}

func TestComputePayout_FractionalPercent(t *testing.T) {
	// 12.5% of 999 = 124.875, floors to 124
	percent := decimal.RequireFromString("12.5")
	assert.Equal(t, int64(124), payout.ComputePayout(999, percent))
}

func TestComputePayout_RederivableFromSnapshot(t *testing.T) {
	// GIVEN: A stored calculation amount
	// WHEN: Re-deriving it from the same inputs
	// THEN: The formula reproduces the amount exactly (audit property)

	percent := decimal.RequireFromString("37.5")
	first := payout.ComputePayout(12345, percent)
	second := payout.ComputePayout(12345, percent)

	assert.Equal(t, first, second)
}
