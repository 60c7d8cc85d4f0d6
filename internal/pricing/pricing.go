// Package pricing computes line-item and request totals.
// All functions are pure; amounts are rounded to cents half away from zero.
package pricing

import (
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of decimal places kept on every amount
const CurrencyPlaces = 2

// Line is the minimal view of an item needed to price it
type Line interface {
	LineQuantity() int
	LinePrice() decimal.Decimal
}

// LineTotal returns quantity x unit price rounded to cents
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(CurrencyPlaces)
}

// AggregateTotal sums quantity x unit price over all lines and rounds the result to cents.
// An empty list totals zero.
func AggregateTotal[L Line](lines []L) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LinePrice().Mul(decimal.NewFromInt(int64(l.LineQuantity()))))
	}
	return sum.Round(CurrencyPlaces)
}

// ResolveAmount returns the aggregated total when lines are present. With no lines and an
// explicit override (requests created before items existed) the override is returned unchanged.
func ResolveAmount[L Line](lines []L, override *decimal.Decimal) decimal.Decimal {
	if len(lines) == 0 && override != nil {
		return *override
	}
	return AggregateTotal(lines)
}
