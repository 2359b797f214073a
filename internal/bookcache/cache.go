// Package bookcache stores the latest aggregated book snapshot per symbol in
// a local pebble database, so the public orderbook endpoint can serve reads
// without touching the matching engine.
package bookcache

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/clearbook/exchange/internal/models"
)

const keyPrefix = "book/"

// Cache is a pebble-backed snapshot store. Writes happen after every match;
// reads are a cheap point lookup.
type Cache struct {
	db *pebble.DB
}

// Open opens (creating if needed) the cache at the given directory.
func Open(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open book cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error { return c.db.Close() }

func key(symbol string) []byte { return []byte(keyPrefix + symbol) }

// Get returns the cached snapshot for symbol, or false on a miss. A miss is
// normal for a symbol that has never traded.
func (c *Cache) Get(symbol string) (models.BookSnapshot, bool, error) {
	val, closer, err := c.db.Get(key(symbol))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.BookSnapshot{}, false, nil
		}
		return models.BookSnapshot{}, false, fmt.Errorf("failed to read book cache: %w", err)
	}
	defer closer.Close()

	var snap models.BookSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return models.BookSnapshot{}, false, fmt.Errorf("failed to decode cached book: %w", err)
	}
	return snap, true, nil
}

// Put stores the snapshot for its symbol, replacing any previous one. The
// write is unsynced: the cache is rebuilt from the engine on a miss, so
// losing it on a crash costs nothing.
func (c *Cache) Put(snap models.BookSnapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode book snapshot: %w", err)
	}
	if err := c.db.Set(key(snap.Symbol), val, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to write book cache: %w", err)
	}
	return nil
}
