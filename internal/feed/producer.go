package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/clearbook/exchange/internal/models"
)

// TradePublisher publishes executed trades to a Kafka topic, keyed by symbol
// so one instrument's trades share a partition. Trades within one Publish call
// keep their order; callers racing on the same symbol may interleave batches.
type TradePublisher struct {
	writer *kafka.Writer
}

// NewTradePublisher creates a publisher for the given brokers and topic.
func NewTradePublisher(brokers []string, topic string) *TradePublisher {
	return &TradePublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends one batch of trades, preserving the order they were produced
// by the matching engine within the batch.
func (p *TradePublisher) Publish(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		val, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode trade: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Symbol),
			Value: val,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close closes the underlying writer.
func (p *TradePublisher) Close() error {
	return p.writer.Close()
}
