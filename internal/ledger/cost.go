package ledger

import "github.com/shopspring/decimal"

// WeightedAvgCost recomputes a holding's average cost after acquiring
// fillQty shares at fillPrice:
//
//	newAvg = (oldAvg*oldQty + fillPrice*fillQty) / (oldQty + fillQty)
//
// Decimal arithmetic is used throughout; repeated recomputation must not
// accumulate floating-point drift.
func WeightedAvgCost(oldQty int64, oldAvg decimal.Decimal, fillQty int64, fillPrice decimal.Decimal) decimal.Decimal {
	total := oldQty + fillQty
	if total == 0 {
		return decimal.Zero
	}
	oldValue := oldAvg.Mul(decimal.NewFromInt(oldQty))
	fillValue := fillPrice.Mul(decimal.NewFromInt(fillQty))
	return oldValue.Add(fillValue).Div(decimal.NewFromInt(total))
}
