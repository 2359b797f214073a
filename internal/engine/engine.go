// Package engine implements continuous price-time-priority matching across
// many instruments. Each instrument gets its own order book and its own lock,
// so submissions for one symbol are strictly serialized while unrelated
// symbols match in parallel.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/exchange/internal/book"
	"github.com/clearbook/exchange/internal/models"
)

var (
	// ErrInvalidOrder rejects malformed input before any book mutation.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrDuplicateOrderID rejects an order whose ID is already resting in the
	// instrument's book.
	ErrDuplicateOrderID = errors.New("duplicate order id")
)

// Result is everything one submission produced. The engine never shares
// mutable state with its caller: Taker is the final state of the submitted
// order and Makers are post-match copies of every resting order the match
// touched, ready for persistence.
type Result struct {
	Taker  models.Order
	Makers []models.Order
	Trades []models.Trade
}

// instrument pairs a book with the mutex that serializes all access to it.
type instrument struct {
	mu   sync.Mutex
	book *book.Book
}

// Engine owns one order book per instrument and runs the matching algorithm.
type Engine struct {
	mu          sync.RWMutex
	instruments map[string]*instrument
}

// New creates an engine with no instruments; books are created lazily on
// first reference to a symbol.
func New() *Engine {
	return &Engine{instruments: make(map[string]*instrument)}
}

// instrument returns the entry for symbol, creating it if absent. The
// double-checked write lock guarantees exactly one book per symbol even when
// two submissions race on a brand-new instrument.
func (e *Engine) instrument(symbol string) *instrument {
	e.mu.RLock()
	inst, ok := e.instruments[symbol]
	e.mu.RUnlock()
	if ok {
		return inst
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok = e.instruments[symbol]; ok {
		return inst
	}
	inst = &instrument{book: book.New(symbol)}
	e.instruments[symbol] = inst
	return inst
}

// lookup returns the entry for symbol without creating one.
func (e *Engine) lookup(symbol string) (*instrument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instruments[symbol]
	return inst, ok
}

// ProcessOrder validates the incoming order, matches it against the opposite
// side of its instrument's book, and returns the trades in the order they
// were produced. A LIMIT remainder rests in the book; a MARKET remainder is
// discarded. Validation happens before any mutation, so a rejected order
// leaves the book untouched.
func (e *Engine) ProcessOrder(o models.Order) (*Result, error) {
	if !o.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, o.Quantity)
	}
	if o.Kind != models.KindLimit && o.Kind != models.KindMarket {
		return nil, fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, o.Kind)
	}
	if o.Kind == models.KindLimit && !o.Price.IsPositive() {
		return nil, fmt.Errorf("%w: limit order requires a positive price, got %s", ErrInvalidOrder, o.Price)
	}
	if o.Side != models.SideBuy && o.Side != models.SideSell {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	o.Remaining = o.Quantity
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	inst := e.instrument(o.Symbol)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	bk := inst.book
	if bk.Contains(o.ID) {
		return nil, fmt.Errorf("%w: order %d already resting in %s book", ErrDuplicateOrderID, o.ID, o.Symbol)
	}

	var (
		trades  []models.Trade
		touched []*models.Order
	)
	for o.Remaining.IsPositive() {
		resting, ok := bestOpposite(bk, &o)
		if !ok {
			break
		}

		qty := decimal.Min(o.Remaining, resting.Remaining)
		o.Remaining = o.Remaining.Sub(qty)
		resting.Remaining = resting.Remaining.Sub(qty)
		if resting.Remaining.IsNegative() || o.Remaining.IsNegative() {
			panic(fmt.Sprintf("engine %s: negative remainder after matching orders %d/%d", o.Symbol, o.ID, resting.ID))
		}

		trade := models.Trade{
			Symbol:     o.Symbol,
			Price:      resting.Price, // maker sets the trade price
			Quantity:   qty,
			ExecutedAt: time.Now(),
		}
		if o.Side == models.SideBuy {
			trade.BuyOrderID, trade.SellOrderID = o.ID, resting.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = resting.ID, o.ID
		}
		trades = append(trades, trade)
		touched = append(touched, resting)

		if resting.Remaining.IsZero() {
			bk.Remove(resting)
		}
	}

	if o.Remaining.IsPositive() && o.Kind == models.KindLimit {
		rest := o
		bk.Add(&rest)
	}

	makers := make([]models.Order, len(touched))
	for i, m := range touched {
		makers[i] = *m
	}
	return &Result{Taker: o, Makers: makers, Trades: trades}, nil
}

// bestOpposite returns the head of the FIFO queue at the best opposite price
// if the incoming order crosses it. MARKET orders cross any non-empty level.
func bestOpposite(bk *book.Book, o *models.Order) (*models.Order, bool) {
	var (
		best  decimal.Decimal
		ok    bool
		queue func() []*models.Order
	)
	if o.Side == models.SideBuy {
		best, ok = bk.BestAsk()
		queue = bk.BestAskOrders
	} else {
		best, ok = bk.BestBid()
		queue = bk.BestBidOrders
	}
	if !ok {
		return nil, false
	}
	if o.Kind == models.KindLimit {
		if o.Side == models.SideBuy && best.GreaterThan(o.Price) {
			return nil, false
		}
		if o.Side == models.SideSell && best.LessThan(o.Price) {
			return nil, false
		}
	}
	return queue()[0], true
}

// Cancel removes the order from its instrument's book under the same lock
// ProcessOrder uses, so a cancellation never races an in-flight match.
// Cancelling an order that already fully matched, or was never resting, is a
// no-op; the persistence layer is the authority on cancel eligibility.
func (e *Engine) Cancel(o models.Order) bool {
	inst, ok := e.lookup(o.Symbol)
	if !ok {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.book.Remove(&o)
}

// Snapshot builds a consistent aggregated view of one instrument's book. The
// second return is false for a symbol the engine has never seen, which is a
// legitimate answer rather than an error.
func (e *Engine) Snapshot(symbol string) (models.BookSnapshot, bool) {
	inst, ok := e.lookup(symbol)
	if !ok {
		return models.BookSnapshot{}, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return models.BookSnapshot{
		Symbol: symbol,
		Bids:   inst.book.BidLevels(),
		Asks:   inst.book.AskLevels(),
	}, true
}

// Book returns the live order book for symbol without creating one. Callers
// other than tests should prefer Snapshot: the returned book is only safe to
// touch while no submissions are in flight for the symbol.
func (e *Engine) Book(symbol string) (*book.Book, bool) {
	inst, ok := e.lookup(symbol)
	if !ok {
		return nil, false
	}
	return inst.book, true
}

// Restore files persisted open orders back into their books without matching,
// preserving the given order (callers load them sorted by creation time so
// FIFO priority survives a restart). Filled and market orders are skipped.
func (e *Engine) Restore(orders []models.Order) {
	for _, o := range orders {
		if o.Kind != models.KindLimit || !o.Remaining.IsPositive() {
			continue
		}
		rest := o
		inst := e.instrument(o.Symbol)
		inst.mu.Lock()
		inst.book.Add(&rest)
		inst.mu.Unlock()
	}
}
