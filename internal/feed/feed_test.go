package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearbook/exchange/internal/models"
)

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// wait until the server side registered the client
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_BroadcastTrades(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	trade := models.Trade{
		Symbol:      "BTC/USD",
		BuyOrderID:  2,
		SellOrderID: 1,
		Price:       decimal.RequireFromString("100"),
		Quantity:    decimal.RequireFromString("0.5"),
		ExecutedAt:  time.Now(),
	}
	hub.BroadcastTrades([]models.Trade{trade})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string       `json:"type"`
		Data models.Trade `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, "BTC/USD", ev.Data.Symbol)
	assert.Equal(t, int64(2), ev.Data.BuyOrderID)
	assert.True(t, ev.Data.Price.Equal(decimal.RequireFromString("100")))
}

func TestHub_BroadcastBook(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	hub.BroadcastBook(models.BookSnapshot{
		Symbol: "ETH/USD",
		Bids:   []models.PriceLevel{{Price: decimal.RequireFromString("10"), Quantity: decimal.RequireFromString("2")}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string              `json:"type"`
		Data models.BookSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "orderbook", ev.Type)
	assert.Equal(t, "ETH/USD", ev.Data.Symbol)
	require.Len(t, ev.Data.Bids, 1)
}

func TestHub_DroppedClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	conn.Close()
	// broadcast after the close; the dead client gets dropped, not retried
	hub.BroadcastTrades([]models.Trade{{Symbol: "BTC/USD"}})

	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead client never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTradePublisher_NoTradesIsNoop(t *testing.T) {
	p := NewTradePublisher([]string{"localhost:9092"}, "exchange.trades")
	defer p.Close()

	// no broker contact happens for an empty batch
	assert.NoError(t, p.Publish(context.Background(), nil))
}
