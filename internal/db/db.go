package db

import (
	"context"
	"fmt"

	"github.com/clearbook/exchange/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateOrder inserts a new order and assigns its unique ID from the orders
// sequence. The returned order is what must be handed to the matching engine:
// matching requires the identifier to exist first.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	newOrder := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, symbol, side, kind, price, quantity, remaining, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		 RETURNING id, user_id, symbol, side, kind, price, quantity, remaining, created_at`,
		order.UserID, order.Symbol, order.Side, order.Kind, order.Price, order.Quantity, models.StatusOpen).Scan(
		&newOrder.ID, &newOrder.UserID, &newOrder.Symbol, &newOrder.Side, &newOrder.Kind,
		&newOrder.Price, &newOrder.Quantity, &newOrder.Remaining, &newOrder.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// SaveExecution persists the outcome of one matching call in a single
// transaction: every generated trade plus the post-match remaining quantity
// and derived status of every touched order (taker and makers).
func (db *DB) SaveExecution(ctx context.Context, trades []models.Trade, orders []models.Order) error {
	if len(trades) == 0 && len(orders) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			"INSERT INTO trades (symbol, buy_order_id, sell_order_id, price, quantity, executed_at) VALUES ($1, $2, $3, $4, $5, $6)",
			t.Symbol, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity, t.ExecutedAt)
	}
	for _, o := range orders {
		// An order's remaining only ever shrinks, so a batch flushed late must
		// not overwrite a newer row with its older, larger remaining. Cancelled
		// rows stay cancelled even if an update races in behind.
		batch.Queue(
			"UPDATE orders SET remaining = $1, status = $2 WHERE id = $3 AND status != $4 AND remaining > $1",
			o.Remaining, o.Status(), o.ID, models.StatusCancelled)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to persist execution: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// OrderRecord is an order row together with its stored status. The stored
// status matters because CANCELLED cannot be derived from quantities.
type OrderRecord struct {
	models.Order
	Status models.OrderStatus
}

// GetUserOrders retrieves all orders for a user, newest first
func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]OrderRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, symbol, side, kind, price, quantity, remaining, status, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetUserTrades retrieves all trades touching any of the user's orders
func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT DISTINCT t.id, t.symbol, t.buy_order_id, t.sell_order_id, t.price, t.quantity, t.executed_at
		 FROM trades t JOIN orders o ON t.buy_order_id = o.id OR t.sell_order_id = o.id
		 WHERE o.user_id = $1 ORDER BY t.executed_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var trade models.Trade
		if err := rows.Scan(&trade.ID, &trade.Symbol, &trade.BuyOrderID, &trade.SellOrderID,
			&trade.Price, &trade.Quantity, &trade.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// CancelOrder marks an open order cancelled if it belongs to the user and
// returns the cancelled row so the caller can also clear it from the matching
// engine's book. The row lock keeps a concurrent execution update from
// overlapping the status change.
func (db *DB) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order := &models.Order{}
	var status models.OrderStatus
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, symbol, side, kind, price, quantity, remaining, status, created_at
		 FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		orderID, userID).Scan(&order.ID, &order.UserID, &order.Symbol, &order.Side, &order.Kind,
		&order.Price, &order.Quantity, &order.Remaining, &status, &order.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("order not found or not owned by user")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if status != models.StatusOpen && status != models.StatusPartiallyFilled {
		return nil, fmt.Errorf("order not open")
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2", models.StatusCancelled, orderID); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

// GetOpenOrders retrieves every order still resting (open or partially
// filled), oldest first so replaying them into the engine preserves time
// priority. Used to rebuild the in-memory books at startup.
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, symbol, side, kind, price, quantity, remaining, status, created_at
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC, id ASC
	`, models.StatusOpen, models.StatusPartiallyFilled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, len(records))
	for i, rec := range records {
		orders[i] = rec.Order
	}
	return orders, nil
}

func scanOrders(rows pgx.Rows) ([]OrderRecord, error) {
	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &rec.Side, &rec.Kind,
			&rec.Price, &rec.Quantity, &rec.Remaining, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
