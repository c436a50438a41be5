package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes resting limit orders from immediate-or-cancel
// market orders.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderStatus transitions only forward: open -> partial -> filled, or
// -> cancelled from open/partial. Filled and cancelled are terminal.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// AssetTypePlayer is the only asset class the market currently trades.
const AssetTypePlayer = "player"

// Account holds a user's cash. Available balance is derived: balance minus
// cash locked by open buy orders.
type Account struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Holding is a position in one asset, keyed by (account, assetType, assetId).
// AvgCost is recomputed as a weighted average on every increase and left
// unchanged on decreases.
type Holding struct {
	AccountID string          `json:"account_id"`
	AssetType string          `json:"asset_type"`
	AssetID   string          `json:"asset_id"`
	Quantity  int64           `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	Locked    int64           `json:"locked_quantity"`
}

// Available is the quantity not reserved by open sell orders.
func (h Holding) Available() int64 {
	return h.Quantity - h.Locked
}

// Order is a buy or sell request against one asset's book. Quantity is
// immutable; FilledQuantity only grows. LimitPrice is null for market orders.
type Order struct {
	ID             string              `json:"id"`
	AccountID      string              `json:"account_id"`
	AssetType      string              `json:"asset_type"`
	AssetID        string              `json:"asset_id"`
	Side           Side                `json:"side"`
	Type           OrderType           `json:"type"`
	Quantity       int64               `json:"quantity"`
	FilledQuantity int64               `json:"filled_quantity"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	Status         OrderStatus         `json:"status"`
	Seq            int64               `json:"-"` // submission order, tie-break for time priority
	CreatedAt      time.Time           `json:"created_at"`
}

// Remaining is the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// Trade is the append-only record of one execution. Immutable once created.
type Trade struct {
	ID          string          `json:"id"`
	AssetType   string          `json:"asset_type"`
	AssetID     string          `json:"asset_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Position is the read-only account projection returned to callers.
type Position struct {
	AccountID        string          `json:"account_id"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Holdings         []Holding       `json:"holdings"`
}
