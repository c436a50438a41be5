package exchange

import (
	"fmt"

	"github.com/draftpit/exchange/internal/models"

	"github.com/shopspring/decimal"
)

// Restore rebuilds in-memory state from the journal on warm start: accounts
// and holdings into the ledger, then open limit orders back into the book
// with their remaining locks re-reserved. Market orders are skipped; they
// never rest, so any persisted as partial already had their locks released.
func (e *Engine) Restore(accounts []models.Account, holdings []models.Holding, openOrders []models.Order) error {
	for _, a := range accounts {
		if err := e.ledger.CreateAccount(a.ID, a.Username, a.Balance); err != nil {
			return fmt.Errorf("restore account %s: %w", a.ID, err)
		}
	}
	for _, h := range holdings {
		if err := e.ledger.UpdateHolding(h.AccountID, h.AssetType, h.AssetID, h.Quantity, h.AvgCost); err != nil {
			return fmt.Errorf("restore holding %s/%s: %w", h.AccountID, h.AssetID, err)
		}
	}
	for _, o := range openOrders {
		if o.Type != models.TypeLimit || o.Status.Terminal() || o.Remaining() <= 0 {
			continue
		}
		if o.Side == models.SideBuy {
			remaining := o.LimitPrice.Decimal.Mul(decimal.NewFromInt(o.Remaining()))
			if err := e.ledger.ReserveCash(o.AccountID, o.ID, remaining); err != nil {
				return fmt.Errorf("restore cash lock for order %s: %w", o.ID, err)
			}
		} else {
			if err := e.ledger.ReserveShares(o.AccountID, o.AssetType, o.AssetID, o.ID, o.Remaining()); err != nil {
				return fmt.Errorf("restore share lock for order %s: %w", o.ID, err)
			}
		}
		e.store.Restore(o)
	}
	return nil
}
