package utils

import (
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// LineAmounts is the result of recomputing one invoice line.
// Every intermediate value is rounded to 2 decimal places so totals cannot
// drift across many lines.
type LineAmounts struct {
	PreDiscountTotal decimal.Decimal
	DiscountAmount   decimal.Decimal
	LineTotal        decimal.Decimal
	LineCost         decimal.Decimal
	LineProfit       decimal.Decimal
}

// CalculateDiscountAmount computes the discount on subTotal.
// Type "P" is a percentage (capped at 100); type "A" is a fixed amount
// (clamped to subTotal so a line can never go negative).
func CalculateDiscountAmount(subTotal decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {
	if !discount.IsPositive() {
		return decimal.Zero
	}

	var discountAmount decimal.Decimal
	if discountType == "P" {
		pct := discount
		if pct.GreaterThan(decimalOneHundred) {
			pct = decimalOneHundred
		}
		discountAmount = subTotal.Mul(pct).DivRound(decimalOneHundred, 2)
	} else {
		discountAmount = discount
		if discountAmount.GreaterThan(subTotal) {
			discountAmount = subTotal
		}
	}
	return discountAmount.Round(2)
}

// CalculateLineAmounts recomputes a line from quantity, unit rate, unit cost
// and the line's discount.
func CalculateLineAmounts(qty, unitRate, unitCost, discount decimal.Decimal, discountType *string) LineAmounts {
	preDiscount := qty.Mul(unitRate).Round(2)

	var discountAmount decimal.Decimal
	if discountType != nil {
		discountAmount = CalculateDiscountAmount(preDiscount, discount, *discountType)
	}

	lineTotal := preDiscount.Sub(discountAmount).Round(2)
	lineCost := qty.Mul(unitCost).Round(2)

	return LineAmounts{
		PreDiscountTotal: preDiscount,
		DiscountAmount:   discountAmount,
		LineTotal:        lineTotal,
		LineCost:         lineCost,
		LineProfit:       lineTotal.Sub(lineCost).Round(2),
	}
}

// EffectiveDiscountPercent returns the discount as a percentage of the
// pre-discount amount, regardless of discount type. Used to enforce
// role-based discount ceilings.
func EffectiveDiscountPercent(preDiscountTotal, discountAmount decimal.Decimal) decimal.Decimal {
	if !preDiscountTotal.IsPositive() {
		return decimal.Zero
	}
	return discountAmount.Mul(decimalOneHundred).DivRound(preDiscountTotal, 2)
}
