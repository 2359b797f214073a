// Package persist writes matching results to the database off the request
// path. Order placement only blocks on the initial insert; trades and status
// updates are flushed by a background worker.
package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clearbook/exchange/internal/models"
)

// Store is the sink batches are flushed into, satisfied by *db.DB.
type Store interface {
	SaveExecution(ctx context.Context, trades []models.Trade, orders []models.Order) error
}

type batch struct {
	trades []models.Trade
	orders []models.Order
}

// Worker drains queued execution batches into the store.
type Worker struct {
	store Store
	log   *zap.Logger
	ch    chan batch
	wg    sync.WaitGroup
	once  sync.Once
}

// NewWorker creates a worker with a bounded queue. Enqueue blocks once the
// queue is full, which is the backpressure signal.
func NewWorker(store Store, log *zap.Logger) *Worker {
	return &Worker{
		store: store,
		log:   log,
		ch:    make(chan batch, 256),
	}
}

// Start launches the background flush loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Enqueue hands one matching result to the worker. Batches are flushed in
// the order they are enqueued.
func (w *Worker) Enqueue(trades []models.Trade, orders []models.Order) {
	if len(trades) == 0 && len(orders) == 0 {
		return
	}
	w.ch <- batch{trades: trades, orders: orders}
}

// Stop drains the queue and waits for the flush loop to finish.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.ch) })
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for b := range w.ch {
		w.flush(b)
	}
}

func (w *Worker) flush(b batch) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.SaveExecution(ctx, b.trades, b.orders); err != nil {
		// The in-memory book has already moved on; all we can do is flag the
		// divergence for reconciliation.
		w.log.Error("failed to persist execution",
			zap.Int("trades", len(b.trades)),
			zap.Int("orders", len(b.orders)),
			zap.Error(err))
	}
}
