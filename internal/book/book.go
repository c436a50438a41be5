package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftpit/exchange/internal/models"
)

// sides holds one asset's open limit orders split by direction. Slices are
// kept in book order: bids by limit price descending then submission order,
// asks by limit price ascending then submission order. That ordering is
// price-time priority and determines match order.
type sides struct {
	bids []*models.Order
	asks []*models.Order
}

// Store owns all orders and the per-asset open-order indices. Market orders
// are tracked but never indexed: they execute immediately or are cancelled,
// so they must never appear in the book.
type Store struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	books  map[string]*sides
	seq    int64
}

func NewStore() *Store {
	return &Store{
		orders: make(map[string]*models.Order),
		books:  make(map[string]*sides),
	}
}

// Create registers a new order with status open and zero fill, assigning its
// submission sequence. Limit orders are inserted into the asset's book.
func (s *Store) Create(order models.Order) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	order.Seq = s.seq
	order.Status = models.StatusOpen
	order.FilledQuantity = 0
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	stored := order
	s.orders[order.ID] = &stored
	if order.Type == models.TypeLimit {
		s.insert(&stored)
	}
	return order
}

// Restore re-registers a persisted order with its fill state and sequence
// intact, for warm start from the journal.
func (s *Store) Restore(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.Seq > s.seq {
		s.seq = order.Seq
	}
	stored := order
	s.orders[order.ID] = &stored
	if order.Type == models.TypeLimit && !order.Status.Terminal() {
		s.insert(&stored)
	}
}

func (s *Store) insert(o *models.Order) {
	b, ok := s.books[o.AssetID]
	if !ok {
		b = &sides{}
		s.books[o.AssetID] = b
	}
	if o.Side == models.SideBuy {
		b.bids = append(b.bids, o)
		sort.Slice(b.bids, func(i, j int) bool {
			pi, pj := b.bids[i].LimitPrice.Decimal, b.bids[j].LimitPrice.Decimal
			if pi.Equal(pj) {
				return b.bids[i].Seq < b.bids[j].Seq
			}
			return pi.GreaterThan(pj)
		})
	} else {
		b.asks = append(b.asks, o)
		sort.Slice(b.asks, func(i, j int) bool {
			pi, pj := b.asks[i].LimitPrice.Decimal, b.asks[j].LimitPrice.Decimal
			if pi.Equal(pj) {
				return b.asks[i].Seq < b.asks[j].Seq
			}
			return pi.LessThan(pj)
		})
	}
}

// remove drops an order from its asset's index. No-op if not indexed.
func (s *Store) remove(o *models.Order) {
	b, ok := s.books[o.AssetID]
	if !ok {
		return
	}
	filter := func(orders []*models.Order) []*models.Order {
		out := orders[:0]
		for _, cur := range orders {
			if cur.ID != o.ID {
				out = append(out, cur)
			}
		}
		return out
	}
	if o.Side == models.SideBuy {
		b.bids = filter(b.bids)
	} else {
		b.asks = filter(b.asks)
	}
}

// Get returns a snapshot of one order.
func (s *Store) Get(id string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return *o, nil
}

// OrderBook returns snapshots of the asset's open bids and asks in book
// order. depth <= 0 means no limit.
func (s *Store) OrderBook(assetID string, depth int) (bids, asks []models.Order) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[assetID]
	if !ok {
		return nil, nil
	}
	snapshot := func(orders []*models.Order) []models.Order {
		var out []models.Order
		for _, o := range orders {
			if o.Status.Terminal() || o.Remaining() <= 0 {
				continue
			}
			out = append(out, *o)
			if depth > 0 && len(out) == depth {
				break
			}
		}
		return out
	}
	return snapshot(b.bids), snapshot(b.asks)
}

// ApplyFill records qty filled against an order, advancing its status
// open -> partial -> filled. Fills against terminal orders are rejected, as
// are fills exceeding the remaining quantity.
func (s *Store) ApplyFill(id string, qty int64) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", id, o.Status, models.ErrOrderNotCancellable)
	}
	if qty <= 0 || qty > o.Remaining() {
		return models.Order{}, models.ErrInvalidQuantity
	}
	o.FilledQuantity += qty
	if o.Remaining() == 0 {
		o.Status = models.StatusFilled
		s.remove(o)
	} else {
		o.Status = models.StatusPartial
	}
	return *o, nil
}

// Cancel moves an open or partially filled order to cancelled and drops it
// from the book. Terminal orders are rejected with ErrOrderNotCancellable.
func (s *Store) Cancel(id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return models.Order{}, models.ErrOrderNotCancellable
	}
	o.Status = models.StatusCancelled
	s.remove(o)
	return *o, nil
}

// ByAccount returns snapshots of every order submitted by one account,
// newest first.
func (s *Store) ByAccount(accountID string) []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out
}
