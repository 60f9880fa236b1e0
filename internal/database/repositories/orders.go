package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// OrderRepository persists WatchlistOrder rows, one per fan-out leg.
type OrderRepository struct {
	*BaseRepository
}

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{BaseRepository: NewBase(db, log.With().Str("repo", "orders").Logger())}
}

const orderColumns = `id, watchlist_id, instance_id, symbol_id, broadcast_id, action, quantity, order_type,
	product_type, price, trigger_price, status, order_id, filled_quantity, average_price, position_id, message,
	placed_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (domain.WatchlistOrder, error) {
	var o domain.WatchlistOrder
	var price, triggerPrice sql.NullFloat64
	var positionID sql.NullInt64
	var placedAt, updatedAt string

	err := row.Scan(&o.ID, &o.WatchlistID, &o.InstanceID, &o.SymbolID, &o.BroadcastID, &o.Action, &o.Quantity,
		&o.OrderType, &o.ProductType, &price, &triggerPrice, &o.Status, &o.OrderID, &o.FilledQuantity,
		&o.AveragePrice, &positionID, &o.Message, &placedAt, &updatedAt)
	if err != nil {
		return domain.WatchlistOrder{}, err
	}

	if price.Valid {
		o.Price = &price.Float64
	}
	if triggerPrice.Valid {
		o.TriggerPrice = &triggerPrice.Float64
	}
	if positionID.Valid {
		o.PositionID = &positionID.Int64
	}
	o.PlacedAt, _ = time.Parse(time.RFC3339Nano, placedAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return o, nil
}

// Create inserts a pending leg row prior to dispatch (§4.6 "each leg
// produces one WatchlistOrder row with status=pending before dispatch").
func (r *OrderRepository) Create(ctx context.Context, o domain.WatchlistOrder) (WriteResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.DB().ExecContext(ctx, `
		INSERT INTO watchlist_orders (watchlist_id, instance_id, symbol_id, broadcast_id, action, quantity,
			order_type, product_type, price, trigger_price, status, order_id, filled_quantity, average_price,
			position_id, message, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.WatchlistID, o.InstanceID, o.SymbolID, o.BroadcastID, o.Action, o.Quantity, o.OrderType, o.ProductType,
		o.Price, o.TriggerPrice, domain.OrderStatusPending, "", 0.0, 0.0, o.PositionID, o.Message, now, now)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to create order", err)
	}
	return writeResultFromErr(res)
}

// MarkDispatched records the outcome of the broker call for one leg.
func (r *OrderRepository) MarkDispatched(ctx context.Context, id int64, status domain.OrderStatus, orderID, message string) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_orders SET status = ?, order_id = ?, message = ?, updated_at = ? WHERE id = ?`,
		status, orderID, message, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to mark order dispatched", err)
	}
	return writeResultFromErr(res)
}

// UpdateFill records a reconciliation-observed fill.
func (r *OrderRepository) UpdateFill(ctx context.Context, id int64, status domain.OrderStatus, filledQty, avgPrice float64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE watchlist_orders SET status = ?, filled_quantity = ?, average_price = ?, updated_at = ? WHERE id = ?`,
		status, filledQty, avgPrice, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update order fill", err)
	}
	return writeResultFromErr(res)
}

// Get returns one order by id.
func (r *OrderRepository) Get(ctx context.Context, id int64) (domain.WatchlistOrder, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+orderColumns+` FROM watchlist_orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.WatchlistOrder{}, apierrors.NotFound("order")
	}
	if err != nil {
		return domain.WatchlistOrder{}, apierrors.Database("failed to load order", err)
	}
	return o, nil
}

// ListByStatus returns orders with the given status, or all orders if status is empty.
func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.WatchlistOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM watchlist_orders`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`

	return r.queryOrders(ctx, query, args...)
}

// PendingOrOpenByInstance returns the orders the reconciler needs to check
// for an instance, grouped implicitly by being scoped to one instance id.
func (r *OrderRepository) PendingOrOpenByInstance(ctx context.Context, instanceID int64) ([]domain.WatchlistOrder, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM watchlist_orders
		WHERE instance_id = ? AND status IN (?, ?) ORDER BY id`,
		instanceID, domain.OrderStatusPending, domain.OrderStatusOpen)
}

// DistinctPendingOrOpenInstanceIDs returns the instance ids that currently
// have at least one pending/open order, so the reconciler only polls
// instances that need it.
func (r *OrderRepository) DistinctPendingOrOpenInstanceIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT DISTINCT instance_id FROM watchlist_orders WHERE status IN (?, ?)`,
		domain.OrderStatusPending, domain.OrderStatusOpen)
	if err != nil {
		return nil, apierrors.Database("failed to list instances with open orders", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apierrors.Database("failed to scan instance id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]domain.WatchlistOrder, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Database("failed to query orders", err)
	}
	defer rows.Close()

	var out []domain.WatchlistOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan order row", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
