package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/draftpit/exchange/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var testDB *DB

func TestMain(m *testing.M) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		// No database configured; the suite is skipped.
		os.Exit(0)
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	_, err = pool.Exec(context.Background(), string(migration))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	testDB = &DB{Pool: pool}
	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE trades, orders, holdings, accounts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to truncate tables: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestAccount(t *testing.T, username string) *models.Account {
	t.Helper()
	acct, err := testDB.CreateAccount(context.Background(), uuid.NewString(), username, "hash", dec("1000.00"))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func TestDB_Accounts(t *testing.T) {
	acct := createTestAccount(t, "db_alice")

	got, hash, err := testDB.GetAccountByUsername(context.Background(), "db_alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.ID != acct.ID || hash != "hash" || !got.Balance.Equal(dec("1000.00")) {
		t.Errorf("unexpected account: %+v hash=%q", got, hash)
	}

	if _, _, err := testDB.GetAccountByUsername(context.Background(), "db_nobody"); err != models.ErrAccountNotFound {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}

	// Duplicate usernames are rejected by the unique constraint.
	if _, err := testDB.CreateAccount(context.Background(), uuid.NewString(), "db_alice", "hash", dec("0")); err == nil {
		t.Error("expected duplicate username error")
	}
}

func TestDB_OrderLifecycle(t *testing.T) {
	acct := createTestAccount(t, "db_bob")

	order := models.Order{
		ID:         uuid.NewString(),
		AccountID:  acct.ID,
		AssetType:  models.AssetTypePlayer,
		AssetID:    "player-1",
		Side:       models.SideBuy,
		Type:       models.TypeLimit,
		Quantity:   10,
		LimitPrice: decimal.NewNullDecimal(dec("5.00")),
		Status:     models.StatusOpen,
		Seq:        1,
		CreatedAt:  time.Now(),
	}
	if err := testDB.RecordOrder(context.Background(), order); err != nil {
		t.Fatalf("record order: %v", err)
	}

	order.FilledQuantity = 4
	order.Status = models.StatusPartial
	if err := testDB.RecordOrderUpdate(context.Background(), order); err != nil {
		t.Fatalf("update order: %v", err)
	}

	open, err := testDB.ListOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("list open orders: %v", err)
	}
	var found bool
	for _, o := range open {
		if o.ID == order.ID {
			found = true
			if o.FilledQuantity != 4 || o.Status != models.StatusPartial {
				t.Errorf("expected partial/4, got %s/%d", o.Status, o.FilledQuantity)
			}
			if !o.LimitPrice.Valid || !o.LimitPrice.Decimal.Equal(dec("5.00")) {
				t.Errorf("unexpected limit price: %+v", o.LimitPrice)
			}
		}
	}
	if !found {
		t.Error("partial order missing from open order list")
	}

	missing := order
	missing.ID = uuid.NewString()
	if err := testDB.RecordOrderUpdate(context.Background(), missing); err != models.ErrOrderNotFound {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestDB_TradesAndHoldings(t *testing.T) {
	buyer := createTestAccount(t, "db_buyer")
	seller := createTestAccount(t, "db_seller")

	buyOrder := models.Order{
		ID: uuid.NewString(), AccountID: buyer.ID,
		AssetType: models.AssetTypePlayer, AssetID: "player-2",
		Side: models.SideBuy, Type: models.TypeLimit, Quantity: 5,
		LimitPrice: decimal.NewNullDecimal(dec("20.00")),
		Status:     models.StatusFilled, Seq: 2, CreatedAt: time.Now(),
	}
	sellOrder := models.Order{
		ID: uuid.NewString(), AccountID: seller.ID,
		AssetType: models.AssetTypePlayer, AssetID: "player-2",
		Side: models.SideSell, Type: models.TypeLimit, Quantity: 5,
		LimitPrice: decimal.NewNullDecimal(dec("20.00")),
		Status:     models.StatusFilled, Seq: 3, CreatedAt: time.Now(),
	}
	for _, o := range []models.Order{buyOrder, sellOrder} {
		if err := testDB.RecordOrder(context.Background(), o); err != nil {
			t.Fatalf("record order: %v", err)
		}
	}

	trade := models.Trade{
		ID:          uuid.NewString(),
		AssetType:   models.AssetTypePlayer,
		AssetID:     "player-2",
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Quantity:    5,
		Price:       dec("20.00"),
		ExecutedAt:  time.Now(),
	}
	if err := testDB.RecordTrade(context.Background(), trade); err != nil {
		t.Fatalf("record trade: %v", err)
	}

	for _, accountID := range []string{buyer.ID, seller.ID} {
		trades, err := testDB.GetAccountTrades(context.Background(), accountID)
		if err != nil {
			t.Fatalf("get trades: %v", err)
		}
		if len(trades) != 1 || trades[0].ID != trade.ID {
			t.Errorf("expected 1 trade for %s, got %d", accountID, len(trades))
		}
	}

	holding := models.Holding{
		AccountID: buyer.ID, AssetType: models.AssetTypePlayer, AssetID: "player-2",
		Quantity: 5, AvgCost: dec("20.00"),
	}
	if err := testDB.RecordHolding(context.Background(), holding); err != nil {
		t.Fatalf("record holding: %v", err)
	}
	// Upsert path.
	holding.Quantity = 8
	holding.AvgCost = dec("18.75")
	if err := testDB.RecordHolding(context.Background(), holding); err != nil {
		t.Fatalf("upsert holding: %v", err)
	}

	holdings, err := testDB.ListHoldings(context.Background())
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	var found bool
	for _, h := range holdings {
		if h.AccountID == buyer.ID && h.AssetID == "player-2" {
			found = true
			if h.Quantity != 8 || !h.AvgCost.Equal(dec("18.75")) {
				t.Errorf("expected 8 @ 18.75, got %d @ %s", h.Quantity, h.AvgCost)
			}
		}
	}
	if !found {
		t.Error("holding missing from list")
	}

	if err := testDB.RecordBalance(context.Background(), buyer.ID, dec("900.00")); err != nil {
		t.Fatalf("record balance: %v", err)
	}
	accounts, err := testDB.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	for _, a := range accounts {
		if a.ID == buyer.ID && !a.Balance.Equal(dec("900.00")) {
			t.Errorf("expected balance 900.00, got %s", a.Balance)
		}
	}
}
