package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// InstanceRepository persists domain.Instance rows.
type InstanceRepository struct {
	*BaseRepository
}

// NewInstanceRepository constructs an InstanceRepository.
func NewInstanceRepository(db *sql.DB, log zerolog.Logger) *InstanceRepository {
	return &InstanceRepository{BaseRepository: NewBase(db, log.With().Str("repo", "instances").Logger())}
}

const instanceColumns = `id, name, host_url, api_key, strategy_tag, target_profit, target_loss, is_active,
	is_analyzer_mode, health_status, last_health_check, current_balance, realized_pnl, unrealized_pnl,
	total_pnl, market_data_role, last_updated`

func scanInstance(row interface{ Scan(...interface{}) error }) (domain.Instance, error) {
	var i domain.Instance
	var lastHealthCheck sql.NullString
	var lastUpdated string

	err := row.Scan(&i.ID, &i.Name, &i.HostURL, &i.APIKey, &i.StrategyTag, &i.TargetProfit, &i.TargetLoss,
		&i.IsActive, &i.IsAnalyzerMode, &i.HealthStatus, &lastHealthCheck, &i.CurrentBalance, &i.RealizedPnL,
		&i.UnrealizedPnL, &i.TotalPnL, &i.MarketDataRole, &lastUpdated)
	if err != nil {
		return domain.Instance{}, err
	}

	if lastHealthCheck.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastHealthCheck.String)
		i.LastHealthCheck = &t
	}
	i.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)

	return i, nil
}

// Get returns one instance by id.
func (r *InstanceRepository) Get(ctx context.Context, id int64) (domain.Instance, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return domain.Instance{}, apierrors.NotFound("instance")
	}
	if err != nil {
		return domain.Instance{}, apierrors.Database("failed to load instance", err)
	}
	return inst, nil
}

// List returns instances, optionally filtered by active state.
func (r *InstanceRepository) List(ctx context.Context, isActive *bool) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var args []interface{}
	if isActive != nil {
		query += ` WHERE is_active = ?`
		args = append(args, *isActive)
	}
	query += ` ORDER BY id`

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Database("failed to list instances", err)
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, apierrors.Database("failed to scan instance row", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Create inserts a new instance, enforcing the host_url uniqueness invariant.
func (r *InstanceRepository) Create(ctx context.Context, inst domain.Instance) (WriteResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.DB().ExecContext(ctx, `
		INSERT INTO instances (name, host_url, api_key, strategy_tag, target_profit, target_loss, is_active,
			is_analyzer_mode, health_status, current_balance, realized_pnl, unrealized_pnl, total_pnl,
			market_data_role, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Name, inst.HostURL, inst.APIKey, inst.StrategyTag, inst.TargetProfit, inst.TargetLoss, inst.IsActive,
		inst.IsAnalyzerMode, domain.HealthUnknown, inst.CurrentBalance, inst.RealizedPnL, inst.UnrealizedPnL,
		inst.TotalPnL, inst.MarketDataRole, now)
	if err != nil {
		if isUniqueViolation(err) {
			return WriteResult{}, apierrors.Conflict("an instance with this host_url already exists")
		}
		return WriteResult{}, apierrors.Database("failed to create instance", err)
	}
	return writeResultFromErr(res)
}

// Update persists the operator-editable fields of an existing instance;
// health, P&L and analyzer mode are written by their own methods.
func (r *InstanceRepository) Update(ctx context.Context, inst domain.Instance) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE instances SET name = ?, host_url = ?, api_key = ?, strategy_tag = ?, target_profit = ?,
			target_loss = ?, is_active = ?, market_data_role = ?, last_updated = ?
		WHERE id = ?`,
		inst.Name, inst.HostURL, inst.APIKey, inst.StrategyTag, inst.TargetProfit, inst.TargetLoss,
		inst.IsActive, inst.MarketDataRole, time.Now().UTC().Format(time.RFC3339Nano), inst.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return WriteResult{}, apierrors.Conflict("an instance with this host_url already exists")
		}
		return WriteResult{}, apierrors.Database("failed to update instance", err)
	}
	return writeResultFromErr(res)
}

// UpdateHealth persists the result of a health-check loop iteration.
func (r *InstanceRepository) UpdateHealth(ctx context.Context, id int64, status domain.HealthStatus, isActive bool) (WriteResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.DB().ExecContext(ctx, `
		UPDATE instances SET health_status = ?, last_health_check = ?, is_active = ?, last_updated = ? WHERE id = ?`,
		status, now, isActive, now, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update instance health", err)
	}
	return writeResultFromErr(res)
}

// UpdatePnL persists a P&L refresh loop iteration.
func (r *InstanceRepository) UpdatePnL(ctx context.Context, id int64, balance, realized, unrealized, total float64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE instances SET current_balance = ?, realized_pnl = ?, unrealized_pnl = ?, total_pnl = ?, last_updated = ?
		WHERE id = ?`,
		balance, realized, unrealized, total, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update instance P&L", err)
	}
	return writeResultFromErr(res)
}

// SetAnalyzerMode persists the outcome of a Safe-Switch transition.
func (r *InstanceRepository) SetAnalyzerMode(ctx context.Context, id int64, analyzerMode bool) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `
		UPDATE instances SET is_analyzer_mode = ?, last_updated = ? WHERE id = ?`,
		analyzerMode, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to update analyzer mode", err)
	}
	return writeResultFromErr(res)
}

// Delete removes an instance; bindings, orders and positions cascade.
func (r *InstanceRepository) Delete(ctx context.Context, id int64) (WriteResult, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to delete instance", err)
	}
	return writeResultFromErr(res)
}

func writeResultFromErr(res sql.Result) (WriteResult, error) {
	wr, err := writeResultFrom(res)
	if err != nil {
		return WriteResult{}, apierrors.Database("failed to read write result", err)
	}
	return wr, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
