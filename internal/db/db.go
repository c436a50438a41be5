package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/draftpit/exchange/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DB wraps a PostgreSQL connection pool. It is the durable journal behind
// the in-memory engine: orders, trades, balances, and holdings are written
// through from inside the engine's critical sections.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateAccount inserts a new account with credentials and opening balance.
func (db *DB) CreateAccount(ctx context.Context, id, username, passwordHash string, balance decimal.Decimal) (*models.Account, error) {
	acct := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (id, username, password_hash, balance) VALUES ($1, $2, $3, $4) RETURNING id, username, balance, created_at",
		id, username, passwordHash, balance).Scan(&acct.ID, &acct.Username, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// GetAccountByUsername retrieves an account and its password hash.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, string, error) {
	acct := &models.Account{}
	var hash string
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM accounts WHERE username = $1",
		username).Scan(&acct.ID, &acct.Username, &hash, &acct.Balance, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", models.ErrAccountNotFound
		}
		return nil, "", fmt.Errorf("failed to get account: %w", err)
	}
	return acct, hash, nil
}

// RecordOrder inserts a newly submitted order.
func (db *DB) RecordOrder(ctx context.Context, order models.Order) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO orders (id, account_id, asset_type, asset_id, side, type, quantity, filled_quantity, limit_price, status, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.AccountID, order.AssetType, order.AssetID, order.Side, order.Type,
		order.Quantity, order.FilledQuantity, order.LimitPrice, order.Status, order.Seq, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// RecordOrderUpdate persists a fill or status change.
func (db *DB) RecordOrderUpdate(ctx context.Context, order models.Order) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET filled_quantity = $1, status = $2 WHERE id = $3",
		order.FilledQuantity, order.Status, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// RecordTrade appends one executed trade to the journal.
func (db *DB) RecordTrade(ctx context.Context, trade models.Trade) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO trades (id, asset_type, asset_id, buyer_id, seller_id, buy_order_id, sell_order_id, quantity, price, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.ID, trade.AssetType, trade.AssetID, trade.BuyerID, trade.SellerID,
		trade.BuyOrderID, trade.SellOrderID, trade.Quantity, trade.Price, trade.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// RecordBalance persists an account's new cash balance.
func (db *DB) RecordBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE accounts SET balance = $1 WHERE id = $2",
		balance, accountID)
	if err != nil {
		return fmt.Errorf("failed to record balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// RecordHolding upserts one holding row.
func (db *DB) RecordHolding(ctx context.Context, h models.Holding) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO holdings (account_id, asset_type, asset_id, quantity, avg_cost)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_id, asset_type, asset_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost`,
		h.AccountID, h.AssetType, h.AssetID, h.Quantity, h.AvgCost)
	if err != nil {
		return fmt.Errorf("failed to record holding: %w", err)
	}
	return nil
}

// GetAccountTrades retrieves every trade the account participated in,
// newest first.
func (db *DB) GetAccountTrades(ctx context.Context, accountID string) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, asset_type, asset_id, buyer_id, seller_id, buy_order_id, sell_order_id, quantity, price, executed_at
		 FROM trades WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY executed_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.AssetType, &t.AssetID, &t.BuyerID, &t.SellerID,
			&t.BuyOrderID, &t.SellOrderID, &t.Quantity, &t.Price, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListAccounts returns every account for engine warm start.
func (db *DB) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, username, balance, created_at FROM accounts ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Balance, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListHoldings returns every holding for engine warm start.
func (db *DB) ListHoldings(ctx context.Context) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT account_id, asset_type, asset_id, quantity, avg_cost FROM holdings")
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.AccountID, &h.AssetType, &h.AssetID, &h.Quantity, &h.AvgCost); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// ListOpenOrders returns open and partially filled orders in submission
// order, for replaying the book on warm start.
func (db *DB) ListOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, account_id, asset_type, asset_id, side, type, quantity, filled_quantity, limit_price, status, seq, created_at
		 FROM orders WHERE status IN ('open', 'partial')
		 ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.AccountID, &o.AssetType, &o.AssetID, &o.Side, &o.Type,
			&o.Quantity, &o.FilledQuantity, &o.LimitPrice, &o.Status, &o.Seq, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
