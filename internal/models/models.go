package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order: buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes resting limit orders from fill-and-discard market orders
type OrderKind string

const (
	KindLimit  OrderKind = "LIMIT"
	KindMarket OrderKind = "MARKET"
)

// OrderStatus describes where an order is in its lifecycle
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// User represents a registered user
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Order represents one instruction to trade an instrument. The ID is assigned
// externally (the orders sequence) before the order reaches the matching
// engine. Quantity is the original size and never changes; Remaining is
// decremented by each execution.
type Order struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      OrderKind       `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt time.Time       `json:"created_at"` // time priority within a price level
}

// Status derives the order's lifecycle state from its quantities. CANCELLED is
// an explicit persistence-layer action and is never derived here.
func (o *Order) Status() OrderStatus {
	switch {
	case o.Remaining.IsZero():
		return StatusFilled
	case o.Remaining.LessThan(o.Quantity):
		return StatusPartiallyFilled
	default:
		return StatusOpen
	}
}

// Trade represents one execution between a buy and a sell order. Trades are
// created only by the matching engine and never mutated afterwards. Price is
// always the resting (maker) order's price.
type Trade struct {
	ID          int64           `json:"id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  int64           `json:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// PriceLevel is one aggregated row of the public order book view: a price and
// the total remaining quantity resting at it.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSnapshot is the public view of one instrument's book, bids and asks
// each ordered best price first. This is what gets cached and served.
type BookSnapshot struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}
