package models

import "errors"

// Engine errors surfaced to callers. Resource and liquidity errors leave no
// partial state behind; validation errors are rejected before any state is
// touched.
var (
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidLimitPrice    = errors.New("limit price must be positive for limit orders")
	ErrInsufficientFunds    = errors.New("insufficient available funds")
	ErrInsufficientShares   = errors.New("insufficient available shares")
	ErrNoLiquidity          = errors.New("no liquidity on opposite side of book")
	ErrMarketOrderUnfilled  = errors.New("market order could not be filled")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderNotCancellable  = errors.New("order is not cancellable")
	ErrAccountNotFound      = errors.New("account not found")
	ErrHoldingNotFound      = errors.New("holding not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
)
