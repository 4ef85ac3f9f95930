package calculator

import (
	"github.com/shopspring/decimal"

	"Compounder/internal/model"
)

// DefaultReserve is the spendable balance always kept back for fees.
var DefaultReserve = decimal.RequireFromString("0.1")

// Threshold returns the holding that must be exceeded before a cycle acts.
func Threshold(amount, reserve decimal.Decimal) decimal.Decimal {
	return amount.Add(reserve)
}

// ThresholdReached reports whether spendable plus account balance is strictly above threshold.
func ThresholdReached(spendable, account, threshold decimal.Decimal) bool {
	return spendable.Add(account).GreaterThan(threshold)
}

// Shortfall returns required-current, and false when current already covers required.
func Shortfall(current, required decimal.Decimal) (decimal.Decimal, bool) {
	if current.GreaterThanOrEqual(required) {
		return decimal.Zero, false
	}
	return required.Sub(current), true
}

// ReserveTopUp returns how much must move into spendable form so that
// spendable covers amount plus the reserve.
func ReserveTopUp(spendable, amount, reserve decimal.Decimal) (decimal.Decimal, bool) {
	return Shortfall(spendable, amount.Add(reserve))
}

// SplitHalf splits amount into two parts that sum exactly to amount.
// The first part is truncated to the ledger precision.
func SplitHalf(amount decimal.Decimal) (first, second decimal.Decimal) {
	first = amount.Div(decimal.NewFromInt(2)).Truncate(model.Precision)
	return first, amount.Sub(first)
}

// Quantize truncates amount to the ledger precision.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(model.Precision)
}
