package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/draftpit/exchange/internal/book"
	"github.com/draftpit/exchange/internal/events"
	"github.com/draftpit/exchange/internal/ledger"
	"github.com/draftpit/exchange/internal/models"
	"github.com/draftpit/exchange/internal/prices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Journal persists engine state changes. Calls happen inside the per-asset
// critical section so the durable record never observes a half-applied trade.
// A nil Journal disables persistence (tests, ephemeral markets).
type Journal interface {
	RecordOrder(ctx context.Context, order models.Order) error
	RecordOrderUpdate(ctx context.Context, order models.Order) error
	RecordTrade(ctx context.Context, trade models.Trade) error
	RecordBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	RecordHolding(ctx context.Context, holding models.Holding) error
}

// SubmitRequest is one order submission.
type SubmitRequest struct {
	AccountID  string
	AssetType  string
	AssetID    string
	Side       models.Side
	Type       models.OrderType
	Quantity   int64
	LimitPrice decimal.NullDecimal
}

// Engine is the order matching and settlement engine. All activity for one
// asset's book is serialized behind that asset's mutex; ledger activity for
// one account is serialized inside the Ledger. Cross-asset and cross-account
// operations run in parallel.
type Engine struct {
	log     *zap.Logger
	ledger  *ledger.Ledger
	store   *book.Store
	prices  *prices.Cache
	events  *events.Publisher
	journal Journal

	mu      sync.Mutex
	assetMu map[string]*sync.Mutex
}

func New(log *zap.Logger, led *ledger.Ledger, store *book.Store, cache *prices.Cache, pub *events.Publisher, journal Journal) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:     log,
		ledger:  led,
		store:   store,
		prices:  cache,
		events:  pub,
		journal: journal,
		assetMu: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) assetLock(assetID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.assetMu[assetID]
	if !ok {
		mu = &sync.Mutex{}
		e.assetMu[assetID] = mu
	}
	return mu
}

// SubmitOrder validates the request, reserves the backing resource, persists
// the order, and either walks the book immediately (market) or triggers a
// matching pass (limit). The whole submission runs under the asset lock.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (models.Order, error) {
	if req.AssetType == "" {
		req.AssetType = models.AssetTypePlayer
	}
	if req.Quantity <= 0 {
		return models.Order{}, models.ErrInvalidQuantity
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return models.Order{}, fmt.Errorf("side must be buy or sell")
	}
	switch req.Type {
	case models.TypeLimit:
		if !req.LimitPrice.Valid || !req.LimitPrice.Decimal.IsPositive() {
			return models.Order{}, models.ErrInvalidLimitPrice
		}
	case models.TypeMarket:
		req.LimitPrice = decimal.NullDecimal{}
	default:
		return models.Order{}, fmt.Errorf("order type must be market or limit")
	}

	mu := e.assetLock(req.AssetID)
	mu.Lock()
	defer mu.Unlock()

	if req.Type == models.TypeMarket {
		return e.executeMarket(ctx, req)
	}
	return e.submitLimit(ctx, req)
}

func (e *Engine) submitLimit(ctx context.Context, req SubmitRequest) (models.Order, error) {
	orderID := uuid.NewString()

	// Reserve before the order exists so a failed reserve leaves nothing behind.
	if req.Side == models.SideBuy {
		cost := req.LimitPrice.Decimal.Mul(decimal.NewFromInt(req.Quantity))
		if err := e.ledger.ReserveCash(req.AccountID, orderID, cost); err != nil {
			return models.Order{}, err
		}
	} else {
		if err := e.ledger.ReserveShares(req.AccountID, req.AssetType, req.AssetID, orderID, req.Quantity); err != nil {
			return models.Order{}, err
		}
	}

	order := e.store.Create(models.Order{
		ID:         orderID,
		AccountID:  req.AccountID,
		AssetType:  req.AssetType,
		AssetID:    req.AssetID,
		Side:       req.Side,
		Type:       models.TypeLimit,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
	})
	if err := e.record(ctx, func(j Journal) error { return j.RecordOrder(ctx, order) }); err != nil {
		return models.Order{}, err
	}
	e.events.OrderBook(req.AssetID)

	if err := e.matchAsset(ctx, req.AssetID); err != nil {
		return models.Order{}, err
	}
	return e.store.Get(orderID)
}

// CancelOrder moves an open or partial order to cancelled and releases its
// remaining ledger lock. Safe against a concurrent matching pass: both run
// under the asset lock.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	order, err := e.store.Get(orderID)
	if err != nil {
		return err
	}

	mu := e.assetLock(order.AssetID)
	mu.Lock()
	defer mu.Unlock()

	cancelled, err := e.store.Cancel(orderID)
	if err != nil {
		return err
	}
	if cancelled.Side == models.SideBuy {
		err = e.ledger.ReleaseCashLock(cancelled.AccountID, orderID)
	} else {
		err = e.ledger.ReleaseShareLock(cancelled.AccountID, cancelled.AssetType, cancelled.AssetID, orderID)
	}
	if err != nil {
		return fmt.Errorf("release lock for cancelled order %s: %w", orderID, err)
	}
	if err := e.record(ctx, func(j Journal) error { return j.RecordOrderUpdate(ctx, cancelled) }); err != nil {
		return err
	}
	e.events.OrderBook(cancelled.AssetID)
	return nil
}

// OrderBook returns the asset's top-N book projection.
func (e *Engine) OrderBook(assetID string, depth int) (bids, asks []models.Order) {
	return e.store.OrderBook(assetID, depth)
}

// Order returns one order by ID.
func (e *Engine) Order(orderID string) (models.Order, error) {
	return e.store.Get(orderID)
}

// AccountOrders returns every order the account has submitted, newest first.
func (e *Engine) AccountOrders(accountID string) []models.Order {
	return e.store.ByAccount(accountID)
}

// AccountPosition returns balance, available balance, and holdings.
func (e *Engine) AccountPosition(accountID string) (models.Position, error) {
	return e.ledger.Position(accountID)
}

// Quote returns the asset's price state; ok is false until its first trade.
func (e *Engine) Quote(assetID string) (prices.Quote, bool) {
	return e.prices.Quote(assetID)
}

// CreateAccount registers an account with an opening balance.
func (e *Engine) CreateAccount(ctx context.Context, accountID, username string, opening decimal.Decimal) error {
	if err := e.ledger.CreateAccount(accountID, username, opening); err != nil {
		return err
	}
	return e.record(ctx, func(j Journal) error { return j.RecordBalance(ctx, accountID, opening) })
}

// Deposit credits cash outside of trade settlement.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive")
	}
	if err := e.ledger.AddBalance(accountID, amount); err != nil {
		return err
	}
	balance, err := e.ledger.Balance(accountID)
	if err != nil {
		return err
	}
	if err := e.record(ctx, func(j Journal) error { return j.RecordBalance(ctx, accountID, balance) }); err != nil {
		return err
	}
	e.events.Balance(accountID, balance)
	return nil
}

// GrantShares credits shares acquired outside the market (vesting, mining),
// folding costBasis into the holding's weighted average cost.
func (e *Engine) GrantShares(ctx context.Context, accountID, assetType, assetID string, qty int64, costBasis decimal.Decimal) error {
	if qty <= 0 {
		return models.ErrInvalidQuantity
	}
	if assetType == "" {
		assetType = models.AssetTypePlayer
	}

	mu := e.assetLock(assetID)
	mu.Lock()
	defer mu.Unlock()

	var oldQty int64
	oldAvg := decimal.Zero
	h, err := e.ledger.Holding(accountID, assetType, assetID)
	switch {
	case err == nil:
		oldQty, oldAvg = h.Quantity, h.AvgCost
	case errors.Is(err, models.ErrHoldingNotFound):
	default:
		return err
	}
	newAvg := ledger.WeightedAvgCost(oldQty, oldAvg, qty, costBasis)
	if err := e.ledger.UpdateHolding(accountID, assetType, assetID, oldQty+qty, newAvg); err != nil {
		return err
	}
	updated, err := e.ledger.Holding(accountID, assetType, assetID)
	if err != nil {
		return err
	}
	return e.record(ctx, func(j Journal) error { return j.RecordHolding(ctx, updated) })
}

// record runs fn against the journal if one is configured. Journal failures
// surface to the caller; in-memory state is already applied at that point,
// which the log captures for reconciliation.
func (e *Engine) record(ctx context.Context, fn func(Journal) error) error {
	if e.journal == nil {
		return nil
	}
	if err := fn(e.journal); err != nil {
		e.log.Error("journal write failed", zap.Error(err))
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}
