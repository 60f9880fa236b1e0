package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// MarketDataRepository persists the latest observed quote per (exchange, symbol).
type MarketDataRepository struct {
	*BaseRepository
}

// NewMarketDataRepository constructs a MarketDataRepository.
func NewMarketDataRepository(db *sql.DB, log zerolog.Logger) *MarketDataRepository {
	return &MarketDataRepository{BaseRepository: NewBase(db, log.With().Str("repo", "market_data").Logger())}
}

// Get returns the latest row for one (exchange, symbol) pair.
func (r *MarketDataRepository) Get(ctx context.Context, exchange, symbol string) (domain.MarketDataRow, error) {
	var m domain.MarketDataRow
	var lastUpdated string
	err := r.DB().QueryRowContext(ctx, `SELECT exchange, symbol, token, ltp, open, high, low, close, volume,
		bid_price, bid_qty, ask_price, ask_qty, last_updated, data_source
		FROM market_data WHERE exchange = ? AND symbol = ?`, exchange, symbol).
		Scan(&m.Exchange, &m.Symbol, &m.Token, &m.LTP, &m.Open, &m.High, &m.Low, &m.Close, &m.Volume,
			&m.BidPrice, &m.BidQty, &m.AskPrice, &m.AskQty, &lastUpdated, &m.DataSource)
	if err == sql.ErrNoRows {
		return domain.MarketDataRow{}, apierrors.NotFound("market data")
	}
	if err != nil {
		return domain.MarketDataRow{}, apierrors.Database("failed to load market data", err)
	}
	m.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return m, nil
}

// UpsertBatch writes N rows as a single transaction (§4.2 "a market-data
// upsert batch for N rows executes as a single transaction").
func (r *MarketDataRepository) UpsertBatch(ctx context.Context, rows []domain.MarketDataRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := database.WithTransaction(r.DB(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO market_data (exchange, symbol, token, ltp, open, high, low, close, volume, bid_price,
				bid_qty, ask_price, ask_qty, last_updated, data_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (exchange, symbol) DO UPDATE SET
				token = excluded.token, ltp = excluded.ltp, open = excluded.open, high = excluded.high,
				low = excluded.low, close = excluded.close, volume = excluded.volume, bid_price = excluded.bid_price,
				bid_qty = excluded.bid_qty, ask_price = excluded.ask_price, ask_qty = excluded.ask_qty,
				last_updated = excluded.last_updated, data_source = excluded.data_source
			WHERE excluded.last_updated >= market_data.last_updated`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.Exchange, row.Symbol, row.Token, row.LTP, row.Open, row.High,
				row.Low, row.Close, row.Volume, row.BidPrice, row.BidQty, row.AskPrice, row.AskQty,
				row.LastUpdated.UTC().Format(time.RFC3339Nano), row.DataSource); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apierrors.Database("failed to upsert market data batch", err)
	}
	return nil
}

// All returns every cached market-data row. Startup warms the in-process
// cache (A7) from the msgpack snapshot file only; it does not read this table.
func (r *MarketDataRepository) All(ctx context.Context) ([]domain.MarketDataRow, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT exchange, symbol, token, ltp, open, high, low, close, volume,
		bid_price, bid_qty, ask_price, ask_qty, last_updated, data_source FROM market_data`)
	if err != nil {
		return nil, apierrors.Database("failed to list market data", err)
	}
	defer rows.Close()

	var out []domain.MarketDataRow
	for rows.Next() {
		var m domain.MarketDataRow
		var lastUpdated string
		if err := rows.Scan(&m.Exchange, &m.Symbol, &m.Token, &m.LTP, &m.Open, &m.High, &m.Low, &m.Close,
			&m.Volume, &m.BidPrice, &m.BidQty, &m.AskPrice, &m.AskQty, &lastUpdated, &m.DataSource); err != nil {
			return nil, apierrors.Database("failed to scan market data row", err)
		}
		m.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
		out = append(out, m)
	}
	return out, rows.Err()
}
