package prices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCache_NoTradeNoPrice(t *testing.T) {
	c := NewCache()
	q, ok := c.Quote("p1")
	if ok {
		t.Fatalf("expected no quote before first trade, got %+v", q)
	}
	if q.HasTraded {
		t.Error("HasTraded must be false before first trade")
	}
}

func TestCache_RecordTrade(t *testing.T) {
	c := NewCache()
	c.RecordTrade("p1", dec("10.00"), 5)
	c.RecordTrade("p1", dec("12.50"), 3)

	q, ok := c.Quote("p1")
	if !ok {
		t.Fatal("expected a quote after trades")
	}
	if !q.LastPrice.Equal(dec("12.50")) {
		t.Errorf("expected last 12.50, got %s", q.LastPrice)
	}
	if q.Volume24h != 8 {
		t.Errorf("expected volume 8, got %d", q.Volume24h)
	}
	if !q.Change24h.Equal(dec("2.50")) {
		t.Errorf("expected change 2.50, got %s", q.Change24h)
	}

	// Assets are independent.
	if _, ok := c.Quote("p2"); ok {
		t.Error("expected no quote for untraded asset")
	}
}

func TestCache_WindowPrunes(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now.Add(-25 * time.Hour) }
	c.RecordTrade("p1", dec("5.00"), 10)
	c.now = func() time.Time { return now }
	c.RecordTrade("p1", dec("6.00"), 2)

	q, ok := c.Quote("p1")
	if !ok {
		t.Fatal("expected a quote")
	}
	// The 25h-old trade has rolled out of the window, but the last price
	// survives.
	if q.Volume24h != 2 {
		t.Errorf("expected volume 2, got %d", q.Volume24h)
	}
	if !q.LastPrice.Equal(dec("6.00")) {
		t.Errorf("expected last 6.00, got %s", q.LastPrice)
	}
	if !q.Change24h.IsZero() {
		t.Errorf("expected zero change within window, got %s", q.Change24h)
	}
}
