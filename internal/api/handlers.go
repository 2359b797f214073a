package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearbook/exchange/internal/auth"
	"github.com/clearbook/exchange/internal/bookcache"
	"github.com/clearbook/exchange/internal/db"
	"github.com/clearbook/exchange/internal/engine"
	"github.com/clearbook/exchange/internal/models"
	"github.com/clearbook/exchange/internal/persist"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

// TradeFeed receives executed trades one match result at a time.
type TradeFeed interface {
	Publish(ctx context.Context, trades []models.Trade) error
}

// BookFeed receives updated book snapshots for connected clients.
type BookFeed interface {
	BroadcastTrades(trades []models.Trade)
	BroadcastBook(snap models.BookSnapshot)
}

// Handler contains dependencies for HTTP handlers. Feed and Cache members may
// be nil; the handlers degrade to serving straight from the engine.
type Handler struct {
	DB        *db.DB
	Engine    *engine.Engine
	Auth      *auth.AuthService
	Cache     *bookcache.Cache
	Persister *persist.Worker
	Trades    TradeFeed
	Feed      BookFeed
	Log       *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, eng *engine.Engine, authService *auth.AuthService, log *zap.Logger) *Handler {
	return &Handler{DB: database, Engine: eng, Auth: authService, Log: log}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(ctxKeyUserID).(int64)
	return id, ok
}

// NormalizeSymbol maps client spellings like btc_usd or BTC-USD onto the
// canonical uppercase BTC/USD form used as the book key.
func NormalizeSymbol(s string) string {
	s = strings.ReplaceAll(s, "_", "/")
	s = strings.ReplaceAll(s, "-", "/")
	return strings.ToUpper(s)
}

type orderResponse struct {
	ID        int64              `json:"id"`
	Symbol    string             `json:"symbol"`
	Side      models.Side        `json:"side"`
	Kind      models.OrderKind   `json:"kind"`
	Price     decimal.Decimal    `json:"price"`
	Quantity  decimal.Decimal    `json:"quantity"`
	Remaining decimal.Decimal    `json:"remaining"`
	Status    models.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

func toOrderResponse(o models.Order, status models.OrderStatus) orderResponse {
	return orderResponse{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Kind:      o.Kind,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
		Status:    status,
		CreatedAt: o.CreatedAt,
	}
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Symbol   string          `json:"symbol"`
		Side     string          `json:"side"`
		Kind     string          `json:"kind"`
		Price    decimal.Decimal `json:"price"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side := models.Side(strings.ToUpper(req.Side))
	kind := models.OrderKind(strings.ToUpper(req.Kind))
	if kind == "" {
		kind = models.KindLimit
	}
	symbol := NormalizeSymbol(req.Symbol)

	// Reject malformed orders before anything is written anywhere.
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol is required")
		return
	}
	if side != models.SideBuy && side != models.SideSell {
		writeError(w, http.StatusBadRequest, "Side must be BUY or SELL")
		return
	}
	if kind != models.KindLimit && kind != models.KindMarket {
		writeError(w, http.StatusBadRequest, "Kind must be LIMIT or MARKET")
		return
	}
	if !req.Quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "Quantity must be positive")
		return
	}
	if kind == models.KindLimit && !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "Price must be positive for LIMIT orders")
		return
	}

	order := models.Order{
		UserID:   userID,
		Symbol:   symbol,
		Side:     side,
		Kind:     kind,
		Price:    req.Price,
		Quantity: req.Quantity,
	}

	// The insert assigns the unique order ID the engine requires.
	dbOrder, err := h.DB.CreateOrder(r.Context(), &order)
	if err != nil {
		h.Log.Error("failed to create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	result, err := h.Engine.ProcessOrder(*dbOrder)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidOrder) || errors.Is(err, engine.ErrDuplicateOrderID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("matching failed", zap.Int64("order_id", dbOrder.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to process order")
		return
	}

	h.finishExecution(symbol, result)

	tradeViews := result.Trades
	if tradeViews == nil {
		tradeViews = []models.Trade{}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order":  toOrderResponse(result.Taker, result.Taker.Status()),
		"trades": tradeViews,
	})
}

// finishExecution runs the post-match fan-out: async persistence, book cache
// refresh, and trade broadcast.
func (h *Handler) finishExecution(symbol string, result *engine.Result) {
	updated := append([]models.Order{result.Taker}, result.Makers...)
	if h.Persister != nil {
		h.Persister.Enqueue(result.Trades, updated)
	}

	snap := h.refreshCache(symbol)

	if len(result.Trades) > 0 && h.Trades != nil {
		trades := result.Trades
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.Trades.Publish(ctx, trades); err != nil {
				h.Log.Error("failed to publish trades", zap.String("symbol", symbol), zap.Error(err))
			}
		}()
	}
	if h.Feed != nil {
		h.Feed.BroadcastTrades(result.Trades)
		h.Feed.BroadcastBook(snap)
	}
}

// refreshCache rebuilds the cached snapshot for symbol from the live book.
func (h *Handler) refreshCache(symbol string) models.BookSnapshot {
	snap, ok := h.Engine.Snapshot(symbol)
	if !ok {
		snap = models.BookSnapshot{Symbol: symbol}
	}
	if h.Cache != nil {
		if err := h.Cache.Put(snap); err != nil {
			h.Log.Warn("failed to update book cache", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return snap
}

// GetOrderBook serves the aggregated book for one symbol, cache first. A
// symbol nobody has traded yet yields an empty book, not an error.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	if h.Cache != nil {
		if snap, ok, err := h.Cache.Get(symbol); err == nil && ok {
			writeJSON(w, http.StatusOK, snapshotView(snap))
			return
		} else if err != nil {
			h.Log.Warn("book cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	snap, ok := h.Engine.Snapshot(symbol)
	if !ok {
		snap = models.BookSnapshot{Symbol: symbol}
	}
	if h.Cache != nil && ok {
		if err := h.Cache.Put(snap); err != nil {
			h.Log.Warn("failed to update book cache", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

// snapshotView keeps empty sides as [] rather than null in the response.
func snapshotView(snap models.BookSnapshot) models.BookSnapshot {
	if snap.Bids == nil {
		snap.Bids = []models.PriceLevel{}
	}
	if snap.Asks == nil {
		snap.Asks = []models.PriceLevel{}
	}
	return snap
}

// GetUserOrders retrieves a user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	records, err := h.DB.GetUserOrders(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to retrieve orders", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}

	out := make([]orderResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toOrderResponse(rec.Order, rec.Status))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUserTrades retrieves a user's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	trades, err := h.DB.GetUserTrades(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to retrieve trades", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// CancelOrder cancels an open order. The database decides eligibility; the
// engine removal afterwards is idempotent, so losing the race against a fill
// is harmless.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.DB.CancelOrder(r.Context(), orderID, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to cancel order: "+err.Error())
		return
	}

	if !h.Engine.Cancel(*order) {
		// Already fully matched or never restored; DB is the source of truth.
		h.Log.Info("cancelled order not found in book", zap.Int64("order_id", orderID))
	}

	if h.Feed != nil {
		h.Feed.BroadcastBook(h.refreshCache(order.Symbol))
	} else {
		h.refreshCache(order.Symbol)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
}
