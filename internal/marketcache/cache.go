// Package marketcache holds the process-wide (exchange, symbol) → latest
// quote mapping (§5 "shared resources"), and its warm-restart snapshot (A7).
package marketcache

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// Cache is a read-write-mutex-guarded map from (exchange, symbol) to the
// latest observed MarketDataRow. Readers never block writers for long: the
// mutex is held only for the duration of the map access, not for any I/O.
type Cache struct {
	mu   sync.RWMutex
	rows map[string]domain.MarketDataRow
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{rows: make(map[string]domain.MarketDataRow)}
}

// Get returns the cached row for (exchange, symbol), if present.
func (c *Cache) Get(exchange, symbol string) (domain.MarketDataRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[exchange+":"+symbol]
	return row, ok
}

// Put updates the cached row if it is newer than what is already cached;
// last_updated is monotonic per §5, so a stale write is silently ignored
// rather than regressing a fresher quote.
func (c *Cache) Put(row domain.MarketDataRow) {
	key := row.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.rows[key]; ok && !row.LastUpdated.After(existing.LastUpdated) {
		return
	}
	c.rows[key] = row
}

// PutBatch applies Put for every row, taking the lock once.
func (c *Cache) PutBatch(rows []domain.MarketDataRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		key := row.Key()
		if existing, ok := c.rows[key]; ok && !row.LastUpdated.After(existing.LastUpdated) {
			continue
		}
		c.rows[key] = row
	}
}

// Snapshot returns every cached row.
func (c *Cache) Snapshot() []domain.MarketDataRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.MarketDataRow, 0, len(c.rows))
	for _, row := range c.rows {
		out = append(out, row)
	}
	return out
}

// SaveSnapshot serializes the cache to path using msgpack, for a fast warm
// restart (A7) instead of re-fetching every quote from the primary
// market-data instance on startup.
func (c *Cache) SaveSnapshot(path string, log zerolog.Logger) error {
	rows := c.Snapshot()
	b, err := msgpack.Marshal(rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return err
	}
	log.Debug().Int("rows", len(rows)).Str("path", path).Msg("wrote market data snapshot")
	return nil
}

// LoadSnapshot restores the cache from a previously written snapshot file.
// A missing file is not an error: the cache simply starts empty and fills in
// as fresh quotes arrive.
func (c *Cache) LoadSnapshot(path string, log zerolog.Logger) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var rows []domain.MarketDataRow
	if err := msgpack.Unmarshal(b, &rows); err != nil {
		return err
	}
	c.PutBatch(rows)
	log.Info().Int("rows", len(rows)).Str("path", path).Msg("restored market data snapshot")
	return nil
}

// StaleAfter reports whether a row's last_updated is older than maxAge.
// Quantity resolution does not call it; quotes are used regardless of age.
func StaleAfter(row domain.MarketDataRow, maxAge time.Duration) bool {
	return time.Since(row.LastUpdated) > maxAge
}
