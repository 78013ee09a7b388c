package blend

import "github.com/shopspring/decimal"

// Output-boundary rounding: currency to 2 decimal places, application rates
// and nutrient masses to 1. Internal solving stays in full float64 precision
// so rounding error never compounds across the iterative re-solves.

func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func roundRate(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
