package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/draftpit/exchange/internal/ledger"
	"github.com/draftpit/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// matchAsset runs the continuous-matching pass for one asset. Caller holds
// the asset lock. Bids are walked in book order against asks in book order;
// a pair matches while bid limit >= ask limit, executing at the ask's limit
// price. The pass ends when no pair can cross.
func (e *Engine) matchAsset(ctx context.Context, assetID string) error {
	for {
		bids, asks := e.store.OrderBook(assetID, 0)
		var bid, ask *models.Order
	scan:
		for i := range bids {
			if bids[i].Remaining() <= 0 {
				continue
			}
			for j := range asks {
				if asks[j].Remaining() <= 0 {
					continue
				}
				if bids[i].LimitPrice.Decimal.GreaterThanOrEqual(asks[j].LimitPrice.Decimal) {
					bid, ask = &bids[i], &asks[j]
					break scan
				}
			}
		}
		if bid == nil {
			return nil
		}

		qty := bid.Remaining()
		if ask.Remaining() < qty {
			qty = ask.Remaining()
		}
		// Sell side sets the execution price.
		price := ask.LimitPrice.Decimal
		if err := e.executeTrade(ctx, bid.ID, ask.ID, price, qty); err != nil {
			return err
		}
	}
}

// executeTrade settles one fill between a buy and a sell order: trade record,
// fill accounting on both orders, lock shrinkage, holding updates, cash
// transfer, price cache update, and event publication, in that order. Caller
// holds the asset lock, so the whole settlement is one atomic unit. A fill
// against an order that has gone terminal is skipped, not an error.
func (e *Engine) executeTrade(ctx context.Context, buyID, sellID string, price decimal.Decimal, qty int64) error {
	buy, err := e.store.Get(buyID)
	if err != nil {
		return err
	}
	sell, err := e.store.Get(sellID)
	if err != nil {
		return err
	}
	if buy.Status.Terminal() || sell.Status.Terminal() || qty <= 0 {
		return nil
	}
	if qty > buy.Remaining() || qty > sell.Remaining() {
		return fmt.Errorf("fill %d exceeds remaining quantity on %s/%s", qty, buyID, sellID)
	}

	trade := models.Trade{
		ID:          uuid.NewString(),
		AssetType:   buy.AssetType,
		AssetID:     buy.AssetID,
		BuyerID:     buy.AccountID,
		SellerID:    sell.AccountID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Quantity:    qty,
		Price:       price,
		ExecutedAt:  time.Now(),
	}
	buyUpd, err := e.store.ApplyFill(buyID, qty)
	if err != nil {
		return err
	}
	sellUpd, err := e.store.ApplyFill(sellID, qty)
	if err != nil {
		return err
	}

	// A limit buy keeps remaining quantity at its own limit price locked; a
	// market buy burns its worst-case reservation down by the actual spend,
	// with the leftover released when the walk finishes. The whole two-sided
	// settlement applies atomically so a concurrent reserve on another asset
	// never sees a half-applied trade.
	settlement := ledger.TradeSettlement{
		BuyerID:             buy.AccountID,
		SellerID:            sell.AccountID,
		AssetType:           buy.AssetType,
		AssetID:             buy.AssetID,
		BuyOrderRef:         buy.ID,
		SellOrderRef:        sell.ID,
		Quantity:            qty,
		Price:               price,
		SellerLockRemaining: sellUpd.Remaining(),
	}
	if buy.Type == models.TypeLimit {
		remaining := buy.LimitPrice.Decimal.Mul(decimal.NewFromInt(buyUpd.Remaining()))
		settlement.BuyerLockRemaining = decimal.NewNullDecimal(remaining)
	}
	if err := e.ledger.ApplyTrade(settlement); err != nil {
		return err
	}

	e.prices.RecordTrade(buy.AssetID, price, qty)

	if err := e.record(ctx, func(j Journal) error {
		if err := j.RecordTrade(ctx, trade); err != nil {
			return err
		}
		if err := j.RecordOrderUpdate(ctx, buyUpd); err != nil {
			return err
		}
		if err := j.RecordOrderUpdate(ctx, sellUpd); err != nil {
			return err
		}
		for _, accountID := range []string{buy.AccountID, sell.AccountID} {
			balance, err := e.ledger.Balance(accountID)
			if err != nil {
				return err
			}
			if err := j.RecordBalance(ctx, accountID, balance); err != nil {
				return err
			}
		}
		for _, upd := range []models.Order{buyUpd, sellUpd} {
			h, err := e.ledger.Holding(upd.AccountID, upd.AssetType, upd.AssetID)
			if err != nil {
				return err
			}
			if err := j.RecordHolding(ctx, h); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Events go out only after the trade is fully applied.
	e.events.Trade(trade.AssetID, trade.Price, trade.Quantity)
	e.events.OrderBook(trade.AssetID)
	for _, accountID := range []string{buy.AccountID, sell.AccountID} {
		if balance, err := e.ledger.Balance(accountID); err == nil {
			e.events.Balance(accountID, balance)
		}
	}

	e.log.Debug("trade executed",
		zap.String("asset", trade.AssetID),
		zap.String("price", trade.Price.String()),
		zap.Int64("quantity", trade.Quantity),
		zap.String("buy_order", trade.BuyOrderID),
		zap.String("sell_order", trade.SellOrderID),
	)
	return nil
}
