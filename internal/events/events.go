package events

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Kind labels the fan-out message types consumed by dashboards and
// notification layers.
type Kind string

const (
	KindTrade     Kind = "trade"
	KindOrderBook Kind = "order_book"
	KindBalance   Kind = "balance"
)

// Message is one published event. Trade messages carry asset/price/quantity;
// order book messages signal "re-read the book" for an asset, not a diff;
// balance messages carry the account's new balance.
type Message struct {
	Kind      Kind            `json:"kind"`
	AssetID   string          `json:"asset_id,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Quantity  int64           `json:"quantity,omitempty"`
	AccountID string          `json:"account_id,omitempty"`
	Balance   decimal.Decimal `json:"balance,omitempty"`
}

// Publisher is a fire-and-forget in-process fan-out. Slow subscribers drop
// messages rather than block trade settlement; delivery is not guaranteed.
type Publisher struct {
	mu   sync.RWMutex
	subs map[int]chan Message
	next int
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan Message)}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function detaches it and closes the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans msg out to every subscriber, dropping on full buffers.
func (p *Publisher) Publish(msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Trade publishes a trade event.
func (p *Publisher) Trade(assetID string, price decimal.Decimal, qty int64) {
	p.Publish(Message{Kind: KindTrade, AssetID: assetID, Price: price, Quantity: qty})
}

// OrderBook publishes an order-book-changed signal for one asset.
func (p *Publisher) OrderBook(assetID string) {
	p.Publish(Message{Kind: KindOrderBook, AssetID: assetID})
}

// Balance publishes an account balance change.
func (p *Publisher) Balance(accountID string, balance decimal.Decimal) {
	p.Publish(Message{Kind: KindBalance, AccountID: accountID, Balance: balance})
}
