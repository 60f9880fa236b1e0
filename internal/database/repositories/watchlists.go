package repositories

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// WatchlistRepository persists watchlists, their symbols, and their
// instance bindings.
type WatchlistRepository struct {
	*BaseRepository
}

// NewWatchlistRepository constructs a WatchlistRepository.
func NewWatchlistRepository(db *sql.DB, log zerolog.Logger) *WatchlistRepository {
	return &WatchlistRepository{BaseRepository: NewBase(db, log.With().Str("repo", "watchlists").Logger())}
}

// Get returns one watchlist by id.
func (r *WatchlistRepository) Get(ctx context.Context, id int64) (domain.Watchlist, error) {
	var w domain.Watchlist
	err := r.DB().QueryRowContext(ctx, `SELECT id, name, description, is_active FROM watchlists WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Description, &w.IsActive)
	if err == sql.ErrNoRows {
		return domain.Watchlist{}, apierrors.NotFound("watchlist")
	}
	if err != nil {
		return domain.Watchlist{}, apierrors.Database("failed to load watchlist", err)
	}
	return w, nil
}

// List returns all watchlists.
func (r *WatchlistRepository) List(ctx context.Context) ([]domain.Watchlist, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT id, name, description, is_active FROM watchlists ORDER BY id`)
	if err != nil {
		return nil, apierrors.Database("failed to list watchlists", err)
	}
	defer rows.Close()

	var out []domain.Watchlist
	for rows.Next() {
		var w domain.Watchlist
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.IsActive); err != nil {
			return nil, apierrors.Database("failed to scan watchlist row", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Create inserts a new watchlist.
func (r *WatchlistRepository) Create(ctx context.Context, w domain.Watchlist) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `INSERT INTO watchlists (name, description, is_active) VALUES (?, ?, ?)`,
		w.Name, w.Description, w.IsActive)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to create watchlist", err)
	}
	return writeResultFromErr(res)
}

// Update persists a watchlist's mutable fields.
func (r *WatchlistRepository) Update(ctx context.Context, w domain.Watchlist) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `UPDATE watchlists SET name = ?, description = ?, is_active = ? WHERE id = ?`,
		w.Name, w.Description, w.IsActive, w.ID)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update watchlist", err)
	}
	return writeResultFromErr(res)
}

// Delete removes a watchlist; symbols and bindings cascade.
func (r *WatchlistRepository) Delete(ctx context.Context, id int64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM watchlists WHERE id = ?`, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to delete watchlist", err)
	}
	return writeResultFromErr(res)
}

// Clone duplicates a watchlist and its symbols under a new name, returning
// the new watchlist's id.
func (r *WatchlistRepository) Clone(ctx context.Context, sourceID int64, newName string) (int64, error) {
	var newID int64
	err := database.WithTransaction(r.DB(), func(tx *sql.Tx) error {
		src, scanErr := scanWatchlistTx(tx, sourceID)
		if scanErr != nil {
			return scanErr
		}

		res, insErr := tx.ExecContext(ctx, `INSERT INTO watchlists (name, description, is_active) VALUES (?, ?, ?)`,
			newName, src.Description, src.IsActive)
		if insErr != nil {
			return insErr
		}
		newID, _ = res.LastInsertId()

		rows, symErr := tx.QueryContext(ctx, `SELECT `+symbolColumns+` FROM watchlist_symbols WHERE watchlist_id = ?`, sourceID)
		if symErr != nil {
			return symErr
		}
		defer rows.Close()

		for rows.Next() {
			sym, scanErr := scanSymbol(rows)
			if scanErr != nil {
				return scanErr
			}
			if _, insErr := tx.ExecContext(ctx, insertSymbolSQL, newID, sym.Exchange, sym.Symbol, sym.Token, sym.LotSize,
				sym.QtyMode, sym.QtyValue, sym.QtyUnits, sym.MinQtyPerClick, sym.MaxQtyPerClick, sym.CapitalCeilingPerTrade,
				sym.ContractMultiplier, sym.Rounding, sym.ProductType, sym.OrderType, sym.CanTradeEquity, sym.CanTradeFutures,
				sym.CanTradeOptions, sym.OptionsStrikeOffset, sym.OptionsExpiryMode, sym.TargetType, sym.TargetValue,
				sym.SLType, sym.SLValue, sym.TSType, sym.TSValue, sym.TrailingActivationType, sym.TrailingActivationValue,
				sym.MaxPositionSize, sym.MaxInstances, sym.IsEnabled); insErr != nil {
				return insErr
			}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, apierrors.Database("failed to clone watchlist", err)
	}
	return newID, nil
}

func scanWatchlistTx(tx *sql.Tx, id int64) (domain.Watchlist, error) {
	var w domain.Watchlist
	err := tx.QueryRow(`SELECT id, name, description, is_active FROM watchlists WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Description, &w.IsActive)
	if err == sql.ErrNoRows {
		return domain.Watchlist{}, apierrors.NotFound("watchlist")
	}
	return w, err
}

const symbolColumns = `id, watchlist_id, exchange, symbol, token, lot_size, qty_mode, qty_value, qty_units,
	min_qty_per_click, max_qty_per_click, capital_ceiling_per_trade, contract_multiplier, rounding, product_type,
	order_type, can_trade_equity, can_trade_futures, can_trade_options, options_strike_offset, options_expiry_mode,
	target_type, target_value, sl_type, sl_value, ts_type, ts_value, trailing_activation_type,
	trailing_activation_value, max_position_size, max_instances, is_enabled`

const insertSymbolSQL = `INSERT INTO watchlist_symbols (watchlist_id, exchange, symbol, token, lot_size, qty_mode,
	qty_value, qty_units, min_qty_per_click, max_qty_per_click, capital_ceiling_per_trade, contract_multiplier,
	rounding, product_type, order_type, can_trade_equity, can_trade_futures, can_trade_options,
	options_strike_offset, options_expiry_mode, target_type, target_value, sl_type, sl_value, ts_type, ts_value,
	trailing_activation_type, trailing_activation_value, max_position_size, max_instances, is_enabled)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func scanSymbol(row interface{ Scan(...interface{}) error }) (domain.WatchlistSymbol, error) {
	var s domain.WatchlistSymbol
	err := row.Scan(&s.ID, &s.WatchlistID, &s.Exchange, &s.Symbol, &s.Token, &s.LotSize, &s.QtyMode, &s.QtyValue,
		&s.QtyUnits, &s.MinQtyPerClick, &s.MaxQtyPerClick, &s.CapitalCeilingPerTrade, &s.ContractMultiplier,
		&s.Rounding, &s.ProductType, &s.OrderType, &s.CanTradeEquity, &s.CanTradeFutures, &s.CanTradeOptions,
		&s.OptionsStrikeOffset, &s.OptionsExpiryMode, &s.TargetType, &s.TargetValue, &s.SLType, &s.SLValue,
		&s.TSType, &s.TSValue, &s.TrailingActivationType, &s.TrailingActivationValue, &s.MaxPositionSize,
		&s.MaxInstances, &s.IsEnabled)
	return s, err
}

// ListSymbols returns every symbol in a watchlist.
func (r *WatchlistRepository) ListSymbols(ctx context.Context, watchlistID int64) ([]domain.WatchlistSymbol, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+symbolColumns+` FROM watchlist_symbols WHERE watchlist_id = ? ORDER BY id`, watchlistID)
	if err != nil {
		return nil, apierrors.Database("failed to list symbols", err)
	}
	defer rows.Close()

	var out []domain.WatchlistSymbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan symbol row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSymbol returns one symbol by id.
func (r *WatchlistRepository) GetSymbol(ctx context.Context, id int64) (domain.WatchlistSymbol, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+symbolColumns+` FROM watchlist_symbols WHERE id = ?`, id)
	s, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return domain.WatchlistSymbol{}, apierrors.NotFound("symbol")
	}
	if err != nil {
		return domain.WatchlistSymbol{}, apierrors.Database("failed to load symbol", err)
	}
	return s, nil
}

// GetSymbolsByIDs returns the symbols matching the given ids, in no
// particular order (callers index by id).
func (r *WatchlistRepository) GetSymbolsByIDs(ctx context.Context, ids []int64) ([]domain.WatchlistSymbol, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + symbolColumns + ` FROM watchlist_symbols WHERE id IN (` + joinPlaceholders(placeholders) + `)`

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Database("failed to load symbols by id", err)
	}
	defer rows.Close()

	var out []domain.WatchlistSymbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan symbol row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func joinPlaceholders(p []string) string {
	out := ""
	for i, s := range p {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// CreateSymbol inserts a new symbol into a watchlist.
func (r *WatchlistRepository) CreateSymbol(ctx context.Context, s domain.WatchlistSymbol) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, insertSymbolSQL,
		s.WatchlistID, s.Exchange, s.Symbol, s.Token, s.LotSize, s.QtyMode, s.QtyValue, s.QtyUnits,
		s.MinQtyPerClick, s.MaxQtyPerClick, s.CapitalCeilingPerTrade, s.ContractMultiplier, s.Rounding,
		s.ProductType, s.OrderType, s.CanTradeEquity, s.CanTradeFutures, s.CanTradeOptions, s.OptionsStrikeOffset,
		s.OptionsExpiryMode, s.TargetType, s.TargetValue, s.SLType, s.SLValue, s.TSType, s.TSValue,
		s.TrailingActivationType, s.TrailingActivationValue, s.MaxPositionSize, s.MaxInstances, s.IsEnabled)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to create symbol", err)
	}
	return writeResultFromErr(res)
}

// UpdateSymbol persists a symbol's full field set.
func (r *WatchlistRepository) UpdateSymbol(ctx context.Context, s domain.WatchlistSymbol) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `UPDATE watchlist_symbols SET exchange = ?, symbol = ?, token = ?,
		lot_size = ?, qty_mode = ?, qty_value = ?, qty_units = ?, min_qty_per_click = ?, max_qty_per_click = ?,
		capital_ceiling_per_trade = ?, contract_multiplier = ?, rounding = ?, product_type = ?, order_type = ?,
		can_trade_equity = ?, can_trade_futures = ?, can_trade_options = ?, options_strike_offset = ?,
		options_expiry_mode = ?, target_type = ?, target_value = ?, sl_type = ?, sl_value = ?, ts_type = ?,
		ts_value = ?, trailing_activation_type = ?, trailing_activation_value = ?, max_position_size = ?,
		max_instances = ?, is_enabled = ? WHERE id = ?`,
		s.Exchange, s.Symbol, s.Token, s.LotSize, s.QtyMode, s.QtyValue, s.QtyUnits, s.MinQtyPerClick,
		s.MaxQtyPerClick, s.CapitalCeilingPerTrade, s.ContractMultiplier, s.Rounding, s.ProductType, s.OrderType,
		s.CanTradeEquity, s.CanTradeFutures, s.CanTradeOptions, s.OptionsStrikeOffset, s.OptionsExpiryMode,
		s.TargetType, s.TargetValue, s.SLType, s.SLValue, s.TSType, s.TSValue, s.TrailingActivationType,
		s.TrailingActivationValue, s.MaxPositionSize, s.MaxInstances, s.IsEnabled, s.ID)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update symbol", err)
	}
	return writeResultFromErr(res)
}

// DeleteSymbol removes a symbol from a watchlist.
func (r *WatchlistRepository) DeleteSymbol(ctx context.Context, id int64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM watchlist_symbols WHERE id = ?`, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to delete symbol", err)
	}
	return writeResultFromErr(res)
}

// BindInstance attaches an instance to a watchlist.
func (r *WatchlistRepository) BindInstance(ctx context.Context, watchlistID, instanceID int64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `INSERT OR IGNORE INTO watchlist_instances (watchlist_id, instance_id) VALUES (?, ?)`,
		watchlistID, instanceID)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to bind instance", err)
	}
	return writeResultFromErr(res)
}

// UnbindInstance detaches an instance from a watchlist.
func (r *WatchlistRepository) UnbindInstance(ctx context.Context, watchlistID, instanceID int64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM watchlist_instances WHERE watchlist_id = ? AND instance_id = ?`,
		watchlistID, instanceID)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to unbind instance", err)
	}
	return writeResultFromErr(res)
}

// BoundInstanceIDs returns the ids of instances bound to a watchlist,
// optionally filtered to active, non-analyzer instances — the target
// resolution step of the order broadcaster (§4.6).
func (r *WatchlistRepository) BoundInstanceIDs(ctx context.Context, watchlistID int64, activeOnly, excludeAnalyzer bool) ([]int64, error) {
	query := `SELECT i.id FROM watchlist_instances wi JOIN instances i ON i.id = wi.instance_id WHERE wi.watchlist_id = ?`
	if activeOnly {
		query += ` AND i.is_active = 1`
	}
	if excludeAnalyzer {
		query += ` AND i.is_analyzer_mode = 0`
	}

	rows, err := r.DB().QueryContext(ctx, query, watchlistID)
	if err != nil {
		return nil, apierrors.Database("failed to resolve bound instances", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apierrors.Database("failed to scan bound instance id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
