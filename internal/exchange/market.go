package exchange

import (
	"context"
	"fmt"

	"github.com/draftpit/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// executeMarket handles an immediate-or-cancel market order. Caller holds
// the asset lock. The liquidity check runs before the order is persisted, so
// a rejected market order never appears in the book; after the walk the
// remaining lock is always released because market orders never rest.
func (e *Engine) executeMarket(ctx context.Context, req SubmitRequest) (models.Order, error) {
	opposite := e.oppositeSide(req)
	if len(opposite) == 0 {
		return models.Order{}, models.ErrNoLiquidity
	}

	orderID := uuid.NewString()
	if req.Side == models.SideBuy {
		// Conservative bound: reserve at the worst (highest) resting ask
		// price, reconciled to actual spend as fills apply.
		worst := opposite[len(opposite)-1].LimitPrice.Decimal
		bound := worst.Mul(decimal.NewFromInt(req.Quantity))
		if err := e.ledger.ReserveCash(req.AccountID, orderID, bound); err != nil {
			return models.Order{}, err
		}
	} else {
		if err := e.ledger.ReserveShares(req.AccountID, req.AssetType, req.AssetID, orderID, req.Quantity); err != nil {
			return models.Order{}, err
		}
	}

	order := e.store.Create(models.Order{
		ID:        orderID,
		AccountID: req.AccountID,
		AssetType: req.AssetType,
		AssetID:   req.AssetID,
		Side:      req.Side,
		Type:      models.TypeMarket,
		Quantity:  req.Quantity,
	})
	if err := e.record(ctx, func(j Journal) error { return j.RecordOrder(ctx, order) }); err != nil {
		return models.Order{}, err
	}

	// Walk the opposite side in book order, filling at each resting order's
	// limit price through the shared trade-execution primitive.
	for _, resting := range opposite {
		current, err := e.store.Get(orderID)
		if err != nil {
			return models.Order{}, err
		}
		if current.Remaining() == 0 {
			break
		}
		live, err := e.store.Get(resting.ID)
		if err != nil || live.Status.Terminal() || live.Remaining() <= 0 {
			continue
		}
		qty := current.Remaining()
		if live.Remaining() < qty {
			qty = live.Remaining()
		}
		buyID, sellID := orderID, live.ID
		if req.Side == models.SideSell {
			buyID, sellID = live.ID, orderID
		}
		if err := e.executeTrade(ctx, buyID, sellID, live.LimitPrice.Decimal, qty); err != nil {
			return models.Order{}, err
		}
	}

	// Market orders never rest: whatever lock remains is released now.
	var releaseErr error
	if req.Side == models.SideBuy {
		releaseErr = e.ledger.ReleaseCashLock(req.AccountID, orderID)
	} else {
		releaseErr = e.ledger.ReleaseShareLock(req.AccountID, req.AssetType, req.AssetID, orderID)
	}
	if releaseErr != nil {
		return models.Order{}, fmt.Errorf("release market order lock: %w", releaseErr)
	}

	final, err := e.store.Get(orderID)
	if err != nil {
		return models.Order{}, err
	}
	if final.FilledQuantity == 0 {
		cancelled, err := e.store.Cancel(orderID)
		if err != nil {
			return models.Order{}, err
		}
		if err := e.record(ctx, func(j Journal) error { return j.RecordOrderUpdate(ctx, cancelled) }); err != nil {
			return models.Order{}, err
		}
		return cancelled, models.ErrMarketOrderUnfilled
	}
	if final.Remaining() > 0 {
		e.log.Debug("market order partially filled",
			zap.String("order", orderID),
			zap.Int64("filled", final.FilledQuantity),
			zap.Int64("unfilled", final.Remaining()),
		)
	}
	return final, nil
}

// oppositeSide returns the book side a market order executes against,
// restricted to orders with a valid positive limit price and remaining
// quantity.
func (e *Engine) oppositeSide(req SubmitRequest) []models.Order {
	bids, asks := e.store.OrderBook(req.AssetID, 0)
	candidates := asks
	if req.Side == models.SideSell {
		candidates = bids
	}
	var out []models.Order
	for _, o := range candidates {
		if o.LimitPrice.Valid && o.LimitPrice.Decimal.IsPositive() && o.Remaining() > 0 {
			out = append(out, o)
		}
	}
	return out
}
