package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftpit/exchange/internal/models"

	"github.com/shopspring/decimal"
)

type assetKey struct {
	assetType string
	assetID   string
}

// holdingState tracks one position plus the share locks held against it,
// keyed by the reserving order's ID.
type holdingState struct {
	quantity   int64
	avgCost    decimal.Decimal
	shareLocks map[string]int64
}

func (h *holdingState) locked() int64 {
	var sum int64
	for _, q := range h.shareLocks {
		sum += q
	}
	return sum
}

// accountState is one account's cash and positions. All mutation happens
// under mu, so a reserve and a settlement on the same account never race.
type accountState struct {
	mu        sync.Mutex
	username  string
	balance   decimal.Decimal
	cashLocks map[string]decimal.Decimal
	holdings  map[assetKey]*holdingState
	createdAt time.Time
}

func (a *accountState) lockedCash() decimal.Decimal {
	sum := decimal.Zero
	for _, amt := range a.cashLocks {
		sum = sum.Add(amt)
	}
	return sum
}

// Ledger tracks cash balances and share holdings with locked sub-amounts.
// Every reserve checks availability before mutating; multi-step settlement
// for one account is serialized behind that account's mutex.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

func New() *Ledger {
	return &Ledger{accounts: make(map[string]*accountState)}
}

// CreateAccount registers an account with an opening cash balance.
func (l *Ledger) CreateAccount(id, username string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("opening balance cannot be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[id]; ok {
		return models.ErrAccountAlreadyExists
	}
	l.accounts[id] = &accountState{
		username:  username,
		balance:   balance,
		cashLocks: make(map[string]decimal.Decimal),
		holdings:  make(map[assetKey]*holdingState),
		createdAt: time.Now(),
	}
	return nil
}

func (l *Ledger) account(id string) (*accountState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return acct, nil
}

// ReserveCash locks amount against referenceID. Rejected before any mutation
// if amount exceeds the available (unlocked) balance.
func (l *Ledger) ReserveCash(accountID, referenceID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("reserve amount must be positive")
	}
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	available := acct.balance.Sub(acct.lockedCash())
	if amount.GreaterThan(available) {
		return models.ErrInsufficientFunds
	}
	acct.cashLocks[referenceID] = amount
	return nil
}

// ReleaseCashLock removes the cash lock held under referenceID. Releasing a
// lock that does not exist is a no-op: market orders over-reserve and settle
// the lock away fill by fill.
func (l *Ledger) ReleaseCashLock(accountID, referenceID string) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	delete(acct.cashLocks, referenceID)
	return nil
}

// SetCashLock adjusts an existing lock to an explicit new amount, shrinking
// it as the referencing order fills. A non-positive amount removes the lock.
func (l *Ledger) SetCashLock(accountID, referenceID string, amount decimal.Decimal) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if !amount.IsPositive() {
		delete(acct.cashLocks, referenceID)
		return nil
	}
	prev := acct.cashLocks[referenceID]
	newTotal := acct.lockedCash().Sub(prev).Add(amount)
	if newTotal.GreaterThan(acct.balance) {
		return fmt.Errorf("lock %s exceeds balance of account %s", amount, accountID)
	}
	acct.cashLocks[referenceID] = amount
	return nil
}

// AddBalance applies a signed cash delta for trade settlement. The result
// must cover both zero and the account's outstanding locks.
func (l *Ledger) AddBalance(accountID string, delta decimal.Decimal) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	next := acct.balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("balance of account %s would go negative", accountID)
	}
	if acct.lockedCash().GreaterThan(next) {
		return fmt.Errorf("balance of account %s would drop below locked cash", accountID)
	}
	acct.balance = next
	return nil
}

// UpdateBalance sets the balance to an absolute value.
func (l *Ledger) UpdateBalance(accountID string, balance decimal.Decimal) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if balance.IsNegative() {
		return fmt.Errorf("balance of account %s cannot be negative", accountID)
	}
	if acct.lockedCash().GreaterThan(balance) {
		return fmt.Errorf("balance of account %s would drop below locked cash", accountID)
	}
	acct.balance = balance
	return nil
}

// ReserveShares locks quantity shares of one holding against referenceID.
func (l *Ledger) ReserveShares(accountID, assetType, assetID, referenceID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve quantity must be positive")
	}
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	h, ok := acct.holdings[assetKey{assetType, assetID}]
	if !ok || h.quantity-h.locked() < quantity {
		return models.ErrInsufficientShares
	}
	h.shareLocks[referenceID] = quantity
	return nil
}

// SetShareLock adjusts a share lock to an explicit remaining quantity.
func (l *Ledger) SetShareLock(accountID, assetType, assetID, referenceID string, quantity int64) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	h, ok := acct.holdings[assetKey{assetType, assetID}]
	if !ok {
		return models.ErrHoldingNotFound
	}
	if quantity <= 0 {
		delete(h.shareLocks, referenceID)
		return nil
	}
	prev := h.shareLocks[referenceID]
	if h.locked()-prev+quantity > h.quantity {
		return fmt.Errorf("share lock %d exceeds holding of account %s", quantity, accountID)
	}
	h.shareLocks[referenceID] = quantity
	return nil
}

// ReleaseShareLock removes the share lock held under referenceID, if any.
func (l *Ledger) ReleaseShareLock(accountID, assetType, assetID, referenceID string) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if h, ok := acct.holdings[assetKey{assetType, assetID}]; ok {
		delete(h.shareLocks, referenceID)
	}
	return nil
}

// UpdateHolding sets absolute quantity and average cost, creating the holding
// on first acquisition. Callers compute the weighted average before calling.
func (l *Ledger) UpdateHolding(accountID, assetType, assetID string, quantity int64, avgCost decimal.Decimal) error {
	if quantity < 0 || avgCost.IsNegative() {
		return fmt.Errorf("holding quantity and avg cost cannot be negative")
	}
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	key := assetKey{assetType, assetID}
	h, ok := acct.holdings[key]
	if !ok {
		h = &holdingState{shareLocks: make(map[string]int64)}
		acct.holdings[key] = h
	}
	if h.locked() > quantity {
		return fmt.Errorf("holding of account %s would drop below locked quantity", accountID)
	}
	h.quantity = quantity
	h.avgCost = avgCost
	return nil
}

// CashLock returns the amount currently locked under referenceID; zero if
// no such lock exists.
func (l *Ledger) CashLock(accountID, referenceID string) (decimal.Decimal, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.cashLocks[referenceID], nil
}

// Balance returns the account's raw cash balance.
func (l *Ledger) Balance(accountID string) (decimal.Decimal, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

// AvailableBalance is balance minus the sum of open cash locks.
func (l *Ledger) AvailableBalance(accountID string) (decimal.Decimal, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance.Sub(acct.lockedCash()), nil
}

// AvailableShares is holding quantity minus open share locks. A missing
// holding reads as zero.
func (l *Ledger) AvailableShares(accountID, assetType, assetID string) (int64, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return 0, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	h, ok := acct.holdings[assetKey{assetType, assetID}]
	if !ok {
		return 0, nil
	}
	return h.quantity - h.locked(), nil
}

// Holding returns a snapshot of one position.
func (l *Ledger) Holding(accountID, assetType, assetID string) (models.Holding, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return models.Holding{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	h, ok := acct.holdings[assetKey{assetType, assetID}]
	if !ok {
		return models.Holding{}, models.ErrHoldingNotFound
	}
	return models.Holding{
		AccountID: accountID,
		AssetType: assetType,
		AssetID:   assetID,
		Quantity:  h.quantity,
		AvgCost:   h.avgCost,
		Locked:    h.locked(),
	}, nil
}

// Position returns the full account projection: balance, available balance,
// and every non-empty holding.
func (l *Ledger) Position(accountID string) (models.Position, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return models.Position{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	pos := models.Position{
		AccountID:        accountID,
		Balance:          acct.balance,
		AvailableBalance: acct.balance.Sub(acct.lockedCash()),
	}
	for key, h := range acct.holdings {
		if h.quantity == 0 && h.locked() == 0 {
			continue
		}
		pos.Holdings = append(pos.Holdings, models.Holding{
			AccountID: accountID,
			AssetType: key.assetType,
			AssetID:   key.assetID,
			Quantity:  h.quantity,
			AvgCost:   h.avgCost,
			Locked:    h.locked(),
		})
	}
	sort.Slice(pos.Holdings, func(i, j int) bool {
		return pos.Holdings[i].AssetID < pos.Holdings[j].AssetID
	})
	return pos, nil
}

// CheckInvariants verifies the account's accounting invariants: non-negative
// balance, locked cash within balance, and per-holding locked quantity within
// quantity. Used by tests after every settlement.
func (l *Ledger) CheckInvariants(accountID string) error {
	acct, err := l.account(accountID)
	if err != nil {
		return err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.balance.IsNegative() {
		return fmt.Errorf("account %s: negative balance %s", accountID, acct.balance)
	}
	if acct.lockedCash().GreaterThan(acct.balance) {
		return fmt.Errorf("account %s: locked cash %s exceeds balance %s", accountID, acct.lockedCash(), acct.balance)
	}
	for key, h := range acct.holdings {
		if h.quantity < 0 {
			return fmt.Errorf("account %s: negative holding %s/%s", accountID, key.assetType, key.assetID)
		}
		if h.locked() > h.quantity {
			return fmt.Errorf("account %s: locked %d exceeds holding %d for %s/%s",
				accountID, h.locked(), h.quantity, key.assetType, key.assetID)
		}
		for ref, q := range h.shareLocks {
			if q < 0 {
				return fmt.Errorf("account %s: negative share lock %d under %s", accountID, q, ref)
			}
		}
	}
	for ref, amt := range acct.cashLocks {
		if amt.IsNegative() {
			return fmt.Errorf("account %s: negative cash lock %s under %s", accountID, amt, ref)
		}
	}
	return nil
}
