package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/draftpit/exchange/internal/auth"
	"github.com/draftpit/exchange/internal/exchange"
	"github.com/draftpit/exchange/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ctxKey string

const ctxAccountID ctxKey = "account_id"

// TradeHistory reads the durable trade journal. Nil disables the endpoint.
type TradeHistory interface {
	GetAccountTrades(ctx context.Context, accountID string) ([]models.Trade, error)
}

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Engine *exchange.Engine
	Auth   *auth.Service
	Trades TradeHistory
	Log    *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *exchange.Engine, authService *auth.Service, trades TradeHistory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Auth: authService, Trades: trades, Log: log}
}

// Register handles account registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	acct, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register account"}`, http.StatusInternalServerError)
		return
	}
	if err := h.Engine.CreateAccount(r.Context(), acct.ID, acct.Username, acct.Balance); err != nil {
		h.Log.Error("failed to seed ledger account", zap.String("account", acct.ID), zap.Error(err))
		http.Error(w, `{"error": "Failed to register account"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       acct.ID,
		"username": acct.Username,
		"balance":  acct.Balance,
	})
}

// Login handles account login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		accountID, err := h.Auth.AccountFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxAccountID, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFromContext(r *http.Request) (string, bool) {
	accountID, ok := r.Context().Value(ctxAccountID).(string)
	return accountID, ok && accountID != ""
}

// errorStatus maps engine errors to HTTP status codes. Validation errors are
// 400, resource errors 422, liquidity and state-transition errors 409.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidQuantity), errors.Is(err, models.ErrInvalidLimitPrice):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientFunds), errors.Is(err, models.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNoLiquidity), errors.Is(err, models.ErrMarketOrderUnfilled), errors.Is(err, models.ErrOrderNotCancellable):
		return http.StatusConflict
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrAccountNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errorStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// PlaceOrder handles order submission: validation, reservation, and
// matching all happen inside the engine.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		AssetID    string           `json:"asset_id"`
		Side       string           `json:"side"`
		Type       string           `json:"type"`
		Quantity   int64            `json:"quantity"`
		LimitPrice *decimal.Decimal `json:"limit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		http.Error(w, `{"error": "asset_id required"}`, http.StatusBadRequest)
		return
	}

	submit := exchange.SubmitRequest{
		AccountID: accountID,
		AssetID:   req.AssetID,
		Side:      models.Side(req.Side),
		Type:      models.OrderType(req.Type),
		Quantity:  req.Quantity,
	}
	if req.LimitPrice != nil {
		submit.LimitPrice = decimal.NullDecimal{Decimal: *req.LimitPrice, Valid: true}
	}

	order, err := h.Engine.SubmitOrder(r.Context(), submit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// CancelOrder cancels an open order owned by the caller.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	order, err := h.Engine.Order(orderID)
	if err != nil || order.AccountID != accountID {
		// Hide other accounts' orders.
		writeError(w, models.ErrOrderNotFound)
		return
	}

	if err := h.Engine.CancelOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"message": "Order cancelled"})
}

// GetOrderBook returns the top-N book projection for one asset.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	assetID := r.URL.Query().Get("asset_id")
	if assetID == "" {
		http.Error(w, `{"error": "asset_id required"}`, http.StatusBadRequest)
		return
	}
	depth := 20
	bids, asks := h.Engine.OrderBook(assetID, depth)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"asset_id": assetID,
		"bids":     bids,
		"asks":     asks,
	})
}

// GetQuote returns the asset's last-trade price state. 404 until the asset
// has ever traded; a seed price is never substituted.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	assetID := r.URL.Query().Get("asset_id")
	if assetID == "" {
		http.Error(w, `{"error": "asset_id required"}`, http.StatusBadRequest)
		return
	}
	quote, ok := h.Engine.Quote(assetID)
	if !ok {
		http.Error(w, `{"error": "No trades yet for asset"}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(quote)
}

// GetPosition returns the caller's balance, available balance, and holdings.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	pos, err := h.Engine.AccountPosition(accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(pos)
}

// GetOrders returns the caller's orders, newest first.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(h.Engine.AccountOrders(accountID))
}

// GetTrades returns the caller's trade history from the journal.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if h.Trades == nil {
		json.NewEncoder(w).Encode([]models.Trade{})
		return
	}
	trades, err := h.Trades.GetAccountTrades(r.Context(), accountID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(trades)
}
