package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/auth"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/bookview"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/exchange"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/settlement"
)

const (
	defaultBookDepth   = 20
	defaultTradesLimit = 50
)

type contextKey string

const ctxKeyUserID contextKey = "user_id"

// Engine is what the handlers need from the matching engine.
type Engine interface {
	Submit(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error)
	Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error)
}

// Store is the read side the handlers query directly.
type Store interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	UserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	TradesForOrder(ctx context.Context, orderID int64) ([]models.Trade, error)
	Wallet(ctx context.Context, userID int64) (*models.Wallet, error)
}

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Engine      Engine
	Store       Store
	View        *bookview.View
	AuthService *auth.AuthService
	Log         *logrus.Entry
}

func NewHandler(engine Engine, store Store, view *bookview.View, authService *auth.AuthService, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{Engine: engine, Store: store, View: view, AuthService: authService, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Settlement failures expose only a correlation id, never ledger internals.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var invalid *exchange.InvalidOrderError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Reason)
		return
	}
	if errors.Is(err, exchange.ErrInsufficientBalance) {
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		return
	}
	if errors.Is(err, exchange.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if errors.Is(err, exchange.ErrInvalidState) {
		writeError(w, http.StatusConflict, "order is not cancellable")
		return
	}
	var serr *settlement.Error
	if errors.As(err, &serr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":          "order could not be completed",
			"correlation_id": serr.CorrelationID,
		})
		return
	}
	h.Log.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and stashes the user id.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(ctxKeyUserID).(int64)
	return id, ok
}

type tradeResponse struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	BuyerFee  decimal.Decimal `json:"buyer_fee"`
	SellerFee decimal.Decimal `json:"seller_fee"`
}

// PlaceOrder submits an order to the matching engine.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Side   string `json:"side"`
		Type   string `json:"type"`
		Amount string `json:"amount"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}
	price := decimal.Zero
	if req.Price != "" {
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "price must be a decimal number")
			return
		}
	}

	result, err := h.Engine.Submit(r.Context(), exchange.SubmitRequest{
		UserID: userID,
		Side:   models.Side(req.Side),
		Type:   models.OrderType(req.Type),
		Amount: amount,
		Price:  price,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	trades := make([]tradeResponse, len(result.Trades))
	for i, t := range result.Trades {
		trades[i] = tradeResponse{
			ID: t.ID, Amount: t.Amount, Price: t.Price, Total: t.Total,
			BuyerFee: t.BuyerFee, SellerFee: t.SellerFee,
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id":         result.Order.ID,
		"status":           result.Order.Status,
		"filled_amount":    result.Order.Filled,
		"remaining_amount": result.Remaining,
		"discarded_amount": result.Discarded,
		"trades":           trades,
	})
}

// CancelOrder cancels the unfilled remainder of the caller's order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.Engine.Cancel(r.Context(), orderID, userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// GetOrder returns one of the caller's orders with its trades and derived
// fill statistics.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.Store.GetOrder(r.Context(), orderID)
	if err != nil || order.UserID != userID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	trades, err := h.Store.TradesForOrder(r.Context(), orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	avgPrice := decimal.Zero
	if order.Filled.IsPositive() {
		totalValue := decimal.Zero
		for _, t := range trades {
			totalValue = totalValue.Add(t.Total)
		}
		avgPrice = totalValue.Div(order.Filled)
	}
	fillPct := decimal.Zero
	if order.Amount.IsPositive() {
		fillPct = order.Filled.Div(order.Amount).Mul(decimal.NewFromInt(100))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":              order,
		"trades":             trades,
		"average_fill_price": avgPrice,
		"fill_percentage":    fillPct,
	})
}

// GetUserOrders returns the caller's orders, newest first.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orders, err := h.Store.UserOrders(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderBook returns the current book snapshot.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth := defaultBookDepth
	if s := r.URL.Query().Get("depth"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = d
	}
	snap, err := h.View.Snapshot(r.Context(), depth)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetRecentTrades returns recent trades, newest first.
func (h *Handler) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = l
	}
	trades, err := h.View.RecentTrades(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetWallet returns the caller's balances.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.Store.Wallet(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Routes mounts all handlers on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/orderbook", h.GetOrderBook)
	r.Get("/trades", h.GetRecentTrades)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/wallet", h.GetWallet)
	})
}
