package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/exchange/internal/models"
)

func limitOrder(id int64, side models.Side, price, qty string) *models.Order {
	p := decimal.RequireFromString(price)
	q := decimal.RequireFromString(qty)
	return &models.Order{
		ID:        id,
		Symbol:    "BTC/USD",
		Side:      side,
		Kind:      models.KindLimit,
		Price:     p,
		Quantity:  q,
		Remaining: q,
		CreatedAt: time.Now(),
	}
}

func TestBook_AddOrdersAndBestPrices(t *testing.T) {
	b := New("BTC/USD")

	b.Add(limitOrder(1, models.SideBuy, "50000", "0.1"))
	b.Add(limitOrder(2, models.SideBuy, "51000", "0.2"))
	b.Add(limitOrder(3, models.SideBuy, "50000", "0.3"))
	b.Add(limitOrder(4, models.SideSell, "52000", "0.1"))
	b.Add(limitOrder(5, models.SideSell, "51500", "0.2"))

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(decimal.RequireFromString("51000")) {
		t.Errorf("expected best bid 51000, got %s (ok=%v)", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Equal(decimal.RequireFromString("51500")) {
		t.Errorf("expected best ask 51500, got %s (ok=%v)", ask, ok)
	}

	bids, asks := b.Size()
	if bids != 3 || asks != 2 {
		t.Errorf("expected 3 bids and 2 asks, got %d and %d", bids, asks)
	}
}

func TestBook_TimePriorityWithinLevel(t *testing.T) {
	b := New("BTC/USD")

	b.Add(limitOrder(1, models.SideSell, "100", "1"))
	b.Add(limitOrder(2, models.SideSell, "100", "1"))
	b.Add(limitOrder(3, models.SideSell, "100", "1"))

	queue := b.BestAskOrders()
	if len(queue) != 3 {
		t.Fatalf("expected 3 orders at best ask, got %d", len(queue))
	}
	for i, want := range []int64{1, 2, 3} {
		if queue[i].ID != want {
			t.Errorf("position %d: expected order %d, got %d", i, want, queue[i].ID)
		}
	}
}

func TestBook_RemoveIsIdempotent(t *testing.T) {
	b := New("BTC/USD")
	o := limitOrder(1, models.SideBuy, "100", "1")
	b.Add(o)

	if !b.Remove(o) {
		t.Error("expected first remove to find the order")
	}
	if b.Remove(o) {
		t.Error("expected second remove to be a no-op")
	}
	// removing from an empty book must not error either
	if b.Remove(limitOrder(99, models.SideSell, "100", "1")) {
		t.Error("expected removing an absent order to be a no-op")
	}
}

func TestBook_RemoveDropsEmptyLevel(t *testing.T) {
	b := New("BTC/USD")
	a := limitOrder(1, models.SideBuy, "101", "1")
	c := limitOrder(2, models.SideBuy, "100", "1")
	b.Add(a)
	b.Add(c)

	b.Remove(a)

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(decimal.RequireFromString("100")) {
		t.Errorf("expected best bid to fall back to 100, got %s (ok=%v)", bid, ok)
	}
	if got := b.BidLevels(); len(got) != 1 {
		t.Errorf("expected 1 bid level after removal, got %d", len(got))
	}
}

func TestBook_RemoveDoesNotTouchUnrelatedOrders(t *testing.T) {
	b := New("BTC/USD")
	b.Add(limitOrder(1, models.SideSell, "100", "1"))
	b.Add(limitOrder(2, models.SideSell, "100", "2"))
	b.Add(limitOrder(3, models.SideSell, "100", "3"))

	b.Remove(limitOrder(2, models.SideSell, "100", "2"))

	queue := b.BestAskOrders()
	if len(queue) != 2 || queue[0].ID != 1 || queue[1].ID != 3 {
		t.Errorf("expected orders 1 and 3 to survive in order, got %v", queue)
	}
}

func TestBook_AggregatedLevels(t *testing.T) {
	b := New("BTC/USD")
	b.Add(limitOrder(1, models.SideBuy, "100", "1"))
	b.Add(limitOrder(2, models.SideBuy, "100", "0.5"))
	b.Add(limitOrder(3, models.SideBuy, "99", "2"))

	levels := b.BidLevels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(decimal.RequireFromString("100")) ||
		!levels[0].Quantity.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("expected level 100 x 1.5, got %s x %s", levels[0].Price, levels[0].Quantity)
	}
	if !levels[1].Price.Equal(decimal.RequireFromString("99")) ||
		!levels[1].Quantity.Equal(decimal.RequireFromString("2")) {
		t.Errorf("expected level 99 x 2, got %s x %s", levels[1].Price, levels[1].Quantity)
	}
}

func TestBook_Contains(t *testing.T) {
	b := New("BTC/USD")
	b.Add(limitOrder(7, models.SideSell, "100", "1"))

	if !b.Contains(7) {
		t.Error("expected book to contain order 7")
	}
	if b.Contains(8) {
		t.Error("expected book not to contain order 8")
	}
}

func TestBook_AddRejectsZeroRemaining(t *testing.T) {
	b := New("BTC/USD")
	o := limitOrder(1, models.SideBuy, "100", "1")
	o.Remaining = decimal.Zero

	defer func() {
		if recover() == nil {
			t.Error("expected Add to panic on zero remaining")
		}
	}()
	b.Add(o)
}

func TestBook_EmptyBookQueries(t *testing.T) {
	b := New("BTC/USD")

	if _, ok := b.BestBid(); ok {
		t.Error("expected no best bid on empty book")
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("expected no best ask on empty book")
	}
	if got := b.BestBidOrders(); got != nil {
		t.Errorf("expected nil queue on empty book, got %v", got)
	}
	if got := b.BidLevels(); got != nil {
		t.Errorf("expected nil levels on empty book, got %v", got)
	}
}
