package prices

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the denormalized per-asset price state the rest of the
// application reads. HasTraded distinguishes "no trade yet" from a real
// price; callers must never substitute a seed or placeholder value.
type Quote struct {
	AssetID     string          `json:"asset_id"`
	LastPrice   decimal.Decimal `json:"last_price"`
	HasTraded   bool            `json:"has_traded"`
	Volume24h   int64           `json:"volume_24h"`
	Change24h   decimal.Decimal `json:"change_24h"`
	LastTradeAt time.Time       `json:"last_trade_at"`
}

type window struct {
	at    time.Time
	price decimal.Decimal
	qty   int64
}

type entry struct {
	last    decimal.Decimal
	lastAt  time.Time
	trades  []window
	hasLast bool
}

// Cache holds last-trade price and rolling 24h stats per asset. It is
// written only by trade execution; no other path may set a price.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry), now: time.Now}
}

// RecordTrade folds one execution into the asset's quote.
func (c *Cache) RecordTrade(assetID string, price decimal.Decimal, qty int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[assetID]
	if !ok {
		e = &entry{}
		c.entries[assetID] = e
	}
	now := c.now()
	e.last = price
	e.lastAt = now
	e.hasLast = true
	e.trades = append(e.trades, window{at: now, price: price, qty: qty})
	e.prune(now)
}

// prune drops trades older than 24h from the rolling window.
func (e *entry) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(e.trades) && e.trades[i].at.Before(cutoff) {
		i++
	}
	e.trades = e.trades[i:]
}

// Quote returns the asset's current price state. ok is false until the
// asset has ever traded.
func (c *Cache) Quote(assetID string) (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[assetID]
	if !ok || !e.hasLast {
		return Quote{AssetID: assetID}, false
	}
	e.prune(c.now())
	q := Quote{
		AssetID:     assetID,
		LastPrice:   e.last,
		HasTraded:   true,
		LastTradeAt: e.lastAt,
	}
	for _, t := range e.trades {
		q.Volume24h += t.qty
	}
	if len(e.trades) > 0 {
		q.Change24h = e.last.Sub(e.trades[0].price)
	}
	return q, true
}
