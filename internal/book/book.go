package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/clearbook/exchange/internal/models"
)

// Book holds the resting orders for a single instrument, indexed by price
// level with FIFO time priority inside each level. It is a pure data
// structure: no matching logic, no locking. The engine that owns a Book is
// responsible for serializing access to it.
type Book struct {
	symbol string
	bids   bookSide // highest price first
	asks   bookSide // lowest price first
}

// level is one price level: all resting orders at this price, oldest first.
type level struct {
	price  decimal.Decimal
	orders []*models.Order
}

// bookSide keeps its levels sorted best-first. better reports whether price a
// outranks price b on this side (higher for bids, lower for asks).
type bookSide struct {
	levels []*level
	better func(a, b decimal.Decimal) bool
}

// New creates an empty book for the given instrument symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   bookSide{better: func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }},
		asks:   bookSide{better: func(a, b decimal.Decimal) bool { return a.LessThan(b) }},
	}
}

// Symbol returns the instrument symbol this book belongs to.
func (b *Book) Symbol() string { return b.symbol }

// Add inserts a resting order at the tail of its price level, creating the
// level if absent. The order must have remaining quantity; a zero or negative
// remainder resting in the book means matching already went wrong, so this
// panics rather than filing it.
func (b *Book) Add(o *models.Order) {
	if !o.Remaining.IsPositive() {
		panic(fmt.Sprintf("book %s: adding order %d with non-positive remaining %s", b.symbol, o.ID, o.Remaining))
	}
	b.sideOf(o.Side).add(o)
}

// Remove takes the order with a matching ID out of its side's price level and
// drops the level if it becomes empty. Removing an order that is not in the
// book is a no-op: cancellations race with fills, and losing that race is not
// an error. Reports whether the order was found.
func (b *Book) Remove(o *models.Order) bool {
	return b.sideOf(o.Side).remove(o)
}

// BestBid returns the highest resting bid price, or false if there are no bids.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	return b.bids.bestPrice()
}

// BestAsk returns the lowest resting ask price, or false if there are no asks.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	return b.asks.bestPrice()
}

// BestBidOrders returns the FIFO queue at the best bid, oldest order first.
// The slice is the live queue; callers must not retain it across mutations.
func (b *Book) BestBidOrders() []*models.Order {
	return b.bids.bestOrders()
}

// BestAskOrders returns the FIFO queue at the best ask, oldest order first.
func (b *Book) BestAskOrders() []*models.Order {
	return b.asks.bestOrders()
}

// BidLevels aggregates the bid side into (price, total remaining) rows, best
// price first.
func (b *Book) BidLevels() []models.PriceLevel {
	return b.bids.aggregate()
}

// AskLevels aggregates the ask side into (price, total remaining) rows, best
// price first.
func (b *Book) AskLevels() []models.PriceLevel {
	return b.asks.aggregate()
}

// Contains reports whether an order with the given ID rests anywhere in the
// book. Levels are short, so the linear scan is acceptable on the submission
// path.
func (b *Book) Contains(id int64) bool {
	for _, s := range []*bookSide{&b.bids, &b.asks} {
		for _, lvl := range s.levels {
			for _, o := range lvl.orders {
				if o.ID == id {
					return true
				}
			}
		}
	}
	return false
}

// Size returns the number of resting orders on each side.
func (b *Book) Size() (bids, asks int) {
	return b.bids.size(), b.asks.size()
}

func (b *Book) sideOf(s models.Side) *bookSide {
	if s == models.SideBuy {
		return &b.bids
	}
	return &b.asks
}

// search returns the index where price belongs in the best-first ordering and
// whether a level with exactly that price is already there.
func (s *bookSide) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].price, price)
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

func (s *bookSide) add(o *models.Order) {
	i, ok := s.search(o.Price)
	if ok {
		s.levels[i].orders = append(s.levels[i].orders, o)
		return
	}
	lvl := &level{price: o.Price, orders: []*models.Order{o}}
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = lvl
}

func (s *bookSide) remove(o *models.Order) bool {
	i, ok := s.search(o.Price)
	if !ok {
		return false
	}
	lvl := s.levels[i]
	for j, resting := range lvl.orders {
		if resting.ID != o.ID {
			continue
		}
		lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
		if len(lvl.orders) == 0 {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
		return true
	}
	return false
}

func (s *bookSide) bestPrice() (decimal.Decimal, bool) {
	if len(s.levels) == 0 {
		return decimal.Decimal{}, false
	}
	return s.levels[0].price, true
}

func (s *bookSide) bestOrders() []*models.Order {
	if len(s.levels) == 0 {
		return nil
	}
	lvl := s.levels[0]
	if len(lvl.orders) == 0 {
		// levels are deleted the moment they empty; an empty one here means
		// the book is corrupted
		panic(fmt.Sprintf("book: empty price level %s present", lvl.price))
	}
	return lvl.orders
}

func (s *bookSide) aggregate() []models.PriceLevel {
	if len(s.levels) == 0 {
		return nil
	}
	out := make([]models.PriceLevel, 0, len(s.levels))
	for _, lvl := range s.levels {
		total := decimal.Zero
		for _, o := range lvl.orders {
			total = total.Add(o.Remaining)
		}
		out = append(out, models.PriceLevel{Price: lvl.price, Quantity: total})
	}
	return out
}

func (s *bookSide) size() int {
	n := 0
	for _, lvl := range s.levels {
		n += len(lvl.orders)
	}
	return n
}
