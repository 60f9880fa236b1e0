package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// PositionRepository persists WatchlistPosition rows.
type PositionRepository struct {
	*BaseRepository
}

// NewPositionRepository constructs a PositionRepository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{BaseRepository: NewBase(db, log.With().Str("repo", "positions").Logger())}
}

const positionColumns = `id, watchlist_id, instance_id, symbol_id, direction, quantity, entry_price, current_price,
	exit_price, target_price, sl_price, trailing_stop_price, trailing_activated, highest_price_seen,
	lowest_price_seen, status, is_closed, exit_reason, entered_at, exited_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (domain.WatchlistPosition, error) {
	var p domain.WatchlistPosition
	var exitPrice sql.NullFloat64
	var enteredAt string
	var exitedAt sql.NullString

	err := row.Scan(&p.ID, &p.WatchlistID, &p.InstanceID, &p.SymbolID, &p.Direction, &p.Quantity, &p.EntryPrice,
		&p.CurrentPrice, &exitPrice, &p.TargetPrice, &p.SLPrice, &p.TrailingStopPrice, &p.TrailingActivated,
		&p.HighestPriceSeen, &p.LowestPriceSeen, &p.Status, &p.IsClosed, &p.ExitReason, &enteredAt, &exitedAt)
	if err != nil {
		return domain.WatchlistPosition{}, err
	}

	if exitPrice.Valid {
		p.ExitPrice = &exitPrice.Float64
	}
	p.EnteredAt, _ = time.Parse(time.RFC3339Nano, enteredAt)
	if exitedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, exitedAt.String)
		p.ExitedAt = &t
	}

	return p, nil
}

// Create inserts a new position in PENDING status.
func (r *PositionRepository) Create(ctx context.Context, p domain.WatchlistPosition) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		INSERT INTO watchlist_positions (watchlist_id, instance_id, symbol_id, direction, quantity, entry_price,
			current_price, target_price, sl_price, trailing_stop_price, trailing_activated, highest_price_seen,
			lowest_price_seen, status, is_closed, exit_reason, entered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
		p.WatchlistID, p.InstanceID, p.SymbolID, p.Direction, p.Quantity, p.EntryPrice, p.CurrentPrice,
		p.TargetPrice, p.SLPrice, p.TrailingStopPrice, p.TrailingActivated, p.HighestPriceSeen, p.LowestPriceSeen,
		domain.PositionPending, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to create position", err)
	}
	return writeResultFromErr(res)
}

// Get returns one position by id.
func (r *PositionRepository) Get(ctx context.Context, id int64) (domain.WatchlistPosition, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+positionColumns+` FROM watchlist_positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return domain.WatchlistPosition{}, apierrors.NotFound("position")
	}
	if err != nil {
		return domain.WatchlistPosition{}, apierrors.Database("failed to load position", err)
	}
	return p, nil
}

// OpenByInstance returns every OPEN position for an instance — the working
// set the reconciler's trailing-stop and exit-trigger evaluation iterates.
func (r *PositionRepository) OpenByInstance(ctx context.Context, instanceID int64) ([]domain.WatchlistPosition, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+positionColumns+` FROM watchlist_positions
		WHERE instance_id = ? AND status = ? ORDER BY id`, instanceID, domain.PositionOpen)
	if err != nil {
		return nil, apierrors.Database("failed to list open positions", err)
	}
	defer rows.Close()

	var out []domain.WatchlistPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan position row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByInstance returns every position for an instance regardless of status.
func (r *PositionRepository) ListByInstance(ctx context.Context, instanceID int64) ([]domain.WatchlistPosition, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+positionColumns+` FROM watchlist_positions
		WHERE instance_id = ? ORDER BY id`, instanceID)
	if err != nil {
		return nil, apierrors.Database("failed to list positions", err)
	}
	defer rows.Close()

	var out []domain.WatchlistPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan position row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransitionToOpen moves a PENDING position to OPEN on entry-fill confirmation,
// storing the actual entry price and the caller's recomputed target/SL levels;
// trailing-stop columns are left unchanged.
func (r *PositionRepository) TransitionToOpen(ctx context.Context, id int64, entryPrice, targetPrice, slPrice float64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_positions SET status = ?, entry_price = ?, target_price = ?, sl_price = ? WHERE id = ?`,
		domain.PositionOpen, entryPrice, targetPrice, slPrice, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to transition position to open", err)
	}
	return writeResultFromErr(res)
}

// UpdateTrailing persists a trailing-stop recalculation.
func (r *PositionRepository) UpdateTrailing(ctx context.Context, id int64, stopPrice float64, activated bool, highestSeen, lowestSeen float64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_positions SET trailing_stop_price = ?, trailing_activated = ?, highest_price_seen = ?,
			lowest_price_seen = ? WHERE id = ?`,
		stopPrice, activated, highestSeen, lowestSeen, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update trailing stop", err)
	}
	return writeResultFromErr(res)
}

// UpdateCurrentPrice persists the latest observed LTP against an open position.
func (r *PositionRepository) UpdateCurrentPrice(ctx context.Context, id int64, price float64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `UPDATE watchlist_positions SET current_price = ? WHERE id = ?`, price, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update position price", err)
	}
	return writeResultFromErr(res)
}

// Close transitions a position to CLOSED with the realized exit details.
func (r *PositionRepository) Close(ctx context.Context, id int64, exitPrice float64, reason domain.ExitReason) (WriteResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_positions SET status = ?, is_closed = 1, exit_price = ?, exit_reason = ?, exited_at = ?
		WHERE id = ?`,
		domain.PositionClosed, exitPrice, reason, now, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to close position", err)
	}
	return writeResultFromErr(res)
}

// Fail transitions a position to FAILED (entry order rejected).
func (r *PositionRepository) Fail(ctx context.Context, id int64, reason domain.ExitReason) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_positions SET status = ?, is_closed = 1, exit_reason = ? WHERE id = ?`,
		domain.PositionFailed, reason, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to fail position", err)
	}
	return writeResultFromErr(res)
}
