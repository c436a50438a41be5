package ledger

import (
	"fmt"

	"github.com/draftpit/exchange/internal/models"

	"github.com/shopspring/decimal"
)

// TradeSettlement describes the full two-sided ledger effect of one fill:
// lock shrinkage, holding updates, and cash transfer.
type TradeSettlement struct {
	BuyerID   string
	SellerID  string
	AssetType string
	AssetID   string

	// Reference IDs of the orders whose locks shrink with this fill.
	BuyOrderRef  string
	SellOrderRef string

	Quantity int64
	Price    decimal.Decimal

	// BuyerLockRemaining is the buy lock's new absolute value (a resting
	// limit buy keeps remaining quantity at its own limit price locked).
	// Invalid means subtract the actual spend instead: market buys burn
	// down their worst-case reservation fill by fill.
	BuyerLockRemaining decimal.NullDecimal

	// SellerLockRemaining is the sell order's unfilled quantity after this
	// fill; zero removes the lock.
	SellerLockRemaining int64
}

// ApplyTrade applies one trade's complete settlement as a single atomic
// unit: both account mutexes are held for the duration, so no concurrent
// reserve or read observes a half-applied trade. All checks run before any
// mutation; an error means nothing was applied.
func (l *Ledger) ApplyTrade(t TradeSettlement) error {
	if t.Quantity <= 0 || !t.Price.IsPositive() {
		return fmt.Errorf("settlement requires positive quantity and price")
	}

	buyer, err := l.account(t.BuyerID)
	if err != nil {
		return err
	}
	seller, err := l.account(t.SellerID)
	if err != nil {
		return err
	}

	// Deterministic lock order prevents deadlock between concurrent trades
	// sharing accounts across assets.
	first, second := buyer, seller
	if t.SellerID < t.BuyerID {
		first, second = seller, buyer
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	notional := t.Price.Mul(decimal.NewFromInt(t.Quantity))
	key := assetKey{t.AssetType, t.AssetID}

	// Compute every post-trade value up front.
	newBuyLock := t.BuyerLockRemaining.Decimal
	if !t.BuyerLockRemaining.Valid {
		newBuyLock = buyer.cashLocks[t.BuyOrderRef].Sub(notional)
	}

	sellerHolding, ok := seller.holdings[key]
	if !ok {
		return models.ErrHoldingNotFound
	}
	newSellerQty := sellerHolding.quantity - t.Quantity
	if newSellerQty < 0 {
		return fmt.Errorf("seller %s would go short on %s/%s", t.SellerID, t.AssetType, t.AssetID)
	}
	if t.SellerLockRemaining < 0 || t.SellerLockRemaining > newSellerQty {
		return fmt.Errorf("seller lock %d exceeds remaining holding %d", t.SellerLockRemaining, newSellerQty)
	}
	sellerOtherLocks := sellerHolding.locked() - sellerHolding.shareLocks[t.SellOrderRef]
	if sellerOtherLocks+t.SellerLockRemaining > newSellerQty {
		return fmt.Errorf("seller %s holding would drop below locked quantity", t.SellerID)
	}

	var buyerQty int64
	buyerAvg := decimal.Zero
	if bh, ok := buyer.holdings[key]; ok {
		buyerQty, buyerAvg = bh.quantity, bh.avgCost
	}
	if t.BuyerID == t.SellerID {
		// Self-trade: the seller-side decrement applies to the same holding.
		buyerQty = newSellerQty
	}
	newBuyerAvg := WeightedAvgCost(buyerQty, buyerAvg, t.Quantity, t.Price)

	newBuyerBalance := buyer.balance.Sub(notional)
	newSellerBalance := seller.balance.Add(notional)
	if t.BuyerID == t.SellerID {
		newBuyerBalance = buyer.balance
		newSellerBalance = seller.balance
	}
	if newBuyerBalance.IsNegative() {
		return fmt.Errorf("buyer %s balance would go negative", t.BuyerID)
	}
	buyerOtherLocks := buyer.lockedCash().Sub(buyer.cashLocks[t.BuyOrderRef])
	effectiveBuyLock := decimal.Zero
	if newBuyLock.IsPositive() {
		effectiveBuyLock = newBuyLock
	}
	if buyerOtherLocks.Add(effectiveBuyLock).GreaterThan(newBuyerBalance) {
		return fmt.Errorf("buyer %s locked cash would exceed balance", t.BuyerID)
	}

	// All checks passed; apply.
	if newBuyLock.IsPositive() {
		buyer.cashLocks[t.BuyOrderRef] = newBuyLock
	} else {
		delete(buyer.cashLocks, t.BuyOrderRef)
	}
	if t.SellerLockRemaining > 0 {
		sellerHolding.shareLocks[t.SellOrderRef] = t.SellerLockRemaining
	} else {
		delete(sellerHolding.shareLocks, t.SellOrderRef)
	}

	sellerHolding.quantity = newSellerQty

	bh, ok := buyer.holdings[key]
	if !ok {
		bh = &holdingState{shareLocks: make(map[string]int64)}
		buyer.holdings[key] = bh
	}
	bh.quantity = buyerQty + t.Quantity
	bh.avgCost = newBuyerAvg

	buyer.balance = newBuyerBalance
	seller.balance = newSellerBalance
	return nil
}
