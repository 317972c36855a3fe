/*
calc.go - Tax and payout arithmetic

PURPOSE:
  Pure functions, no I/O. All monetary values are int64 JPY. Rounding is
  ALWAYS floor, applied exactly once per formula, never re-derived from an
  already-rounded intermediate of a different formula. That single rule is
  what makes historical amounts re-derivable from their inputs.
*/
package payout

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Tax is the breakdown of one taxable amount.
type Tax struct {
	AmountExclTax int64
	TaxJpy        int64
	AmountInclTax int64
}

// ComputeTax computes taxJpy = floor(amountExclTax * rate) and the
// tax-inclusive total. rate is a fraction in [0, 1], e.g. 0.10.
func ComputeTax(amountExclTax int64, rate decimal.Decimal) Tax {
	tax := decimal.NewFromInt(amountExclTax).Mul(rate).Floor().IntPart()
	return Tax{
		AmountExclTax: amountExclTax,
		TaxJpy:        tax,
		AmountInclTax: amountExclTax + tax,
	}
}

// ComputePayout computes floor(amountExclTax * percent / 100).
// percent is 0-100.
func ComputePayout(amountExclTax int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountExclTax).Mul(percent).Div(hundred).Floor().IntPart()
}
