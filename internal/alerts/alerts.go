// Package alerts implements the append-only event sink (C8): every notable
// control-plane transition is persisted as a SystemAlert row, mirrored to the
// structured log at a level matching its severity, and — for CRITICAL alerts —
// forwarded to a pluggable notification gateway.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

// Sink persists SystemAlert rows and mirrors them to the structured log.
type Sink struct {
	db       *database.DB
	log      zerolog.Logger
	notifier domain.AlertNotifier
}

// New constructs a Sink. notifier may be nil, in which case CRITICAL alerts
// are logged but not forwarded anywhere.
func New(db *database.DB, log zerolog.Logger, notifier domain.AlertNotifier) *Sink {
	return &Sink{db: db, log: log.With().Str("component", "alerts").Logger(), notifier: notifier}
}

// Emit records a new alert, logs it, and forwards CRITICAL severity to the
// notification gateway. Failure to persist is logged but never propagated —
// an alerting-path failure must not interrupt the caller's own control flow.
func (s *Sink) Emit(ctx context.Context, alert domain.SystemAlert) {
	alert.CreatedAt = time.Now()

	detailsJSON := "{}"
	if alert.Details != nil {
		if b, err := json.Marshal(alert.Details); err == nil {
			detailsJSON = string(b)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_alerts (alert_type, severity, title, message, details, instance_id, watchlist_id, is_resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		alert.AlertType, alert.Severity, alert.Title, alert.Message, detailsJSON,
		alert.InstanceID, alert.WatchlistID, alert.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.log.Error().Err(err).Str("alert_type", string(alert.AlertType)).Msg("failed to persist alert")
	} else if id, idErr := res.LastInsertId(); idErr == nil {
		alert.ID = id
	}

	s.logBySeverity(alert)

	if alert.Severity == domain.SeverityCritical && s.notifier != nil {
		if notifyErr := s.notifier.Notify(ctx, alert); notifyErr != nil {
			s.log.Error().Err(notifyErr).Int64("alert_id", alert.ID).Msg("failed to forward critical alert")
		}
	}
}

func (s *Sink) logBySeverity(alert domain.SystemAlert) {
	evt := s.log.Info()
	switch alert.Severity {
	case domain.SeverityWarning:
		evt = s.log.Warn()
	case domain.SeverityError, domain.SeverityCritical:
		evt = s.log.Error()
	}
	evt.Str("alert_type", string(alert.AlertType)).
		Str("severity", string(alert.Severity)).
		Int64("instance_id", derefID(alert.InstanceID)).
		Int64("watchlist_id", derefID(alert.WatchlistID)).
		Msg(alert.Title)
}

func derefID(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// Unresolved returns open alerts, most recent first, optionally filtered.
func (s *Sink) Unresolved(ctx context.Context, severity domain.AlertSeverity, instanceID *int64) ([]domain.SystemAlert, error) {
	query := `SELECT id, alert_type, severity, title, message, details, instance_id, watchlist_id, is_resolved, created_at, resolved_at, resolved_by
		FROM system_alerts WHERE is_resolved = 0`
	args := []interface{}{}

	if severity != "" {
		query += " AND severity = ?"
		args = append(args, severity)
	}
	if instanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *instanceID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierrors.Database("failed to query unresolved alerts", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ByType returns alerts of the given type, most recent first.
func (s *Sink) ByType(ctx context.Context, alertType domain.AlertType) ([]domain.SystemAlert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, alert_type, severity, title, message, details, instance_id, watchlist_id, is_resolved, created_at, resolved_at, resolved_by
		FROM system_alerts WHERE alert_type = ? ORDER BY created_at DESC`, alertType)
	if err != nil {
		return nil, apierrors.Database("failed to query alerts by type", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// Resolve marks one alert resolved.
func (s *Sink) Resolve(ctx context.Context, id int64, resolvedBy string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE system_alerts SET is_resolved = 1, resolved_at = ?, resolved_by = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), resolvedBy, id)
	if err != nil {
		return apierrors.Database("failed to resolve alert", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierrors.NotFound("alert")
	}
	return nil
}

// ResolveAllOfType resolves every unresolved alert of the given type.
func (s *Sink) ResolveAllOfType(ctx context.Context, alertType domain.AlertType, resolvedBy string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE system_alerts SET is_resolved = 1, resolved_at = ?, resolved_by = ? WHERE alert_type = ? AND is_resolved = 0`,
		time.Now().UTC().Format(time.RFC3339Nano), resolvedBy, alertType)
	if err != nil {
		return 0, apierrors.Database("failed to resolve alerts by type", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AutoResolveOlderThan resolves every unresolved alert older than the given age.
func (s *Sink) AutoResolveOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE system_alerts SET is_resolved = 1, resolved_at = ?, resolved_by = 'auto-expiry' WHERE is_resolved = 0 AND created_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano), cutoff)
	if err != nil {
		return 0, apierrors.Database("failed to auto-resolve alerts", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanAlerts(rows *sql.Rows) ([]domain.SystemAlert, error) {
	var out []domain.SystemAlert
	for rows.Next() {
		var a domain.SystemAlert
		var detailsJSON string
		var createdAt string
		var resolvedAt sql.NullString
		var instanceID, watchlistID sql.NullInt64
		var resolvedBy sql.NullString
		var isResolved int

		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Title, &a.Message, &detailsJSON,
			&instanceID, &watchlistID, &isResolved, &createdAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, apierrors.Database("failed to scan alert row", err)
		}

		a.IsResolved = isResolved != 0
		if createdAt != "" {
			a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		}
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
			a.ResolvedAt = &t
		}
		if resolvedBy.Valid {
			a.ResolvedBy = resolvedBy.String
		}
		if instanceID.Valid {
			id := instanceID.Int64
			a.InstanceID = &id
		}
		if watchlistID.Valid {
			id := watchlistID.Int64
			a.WatchlistID = &id
		}
		if detailsJSON != "" {
			_ = json.Unmarshal([]byte(detailsJSON), &a.Details)
		}

		out = append(out, a)
	}
	return out, rows.Err()
}

// LogNotifier is the default AlertNotifier: it only logs, per §6's "pluggable,
// default implementation only logs" requirement.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier constructs the default log-only notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Notify implements domain.AlertNotifier.
func (n *LogNotifier) Notify(_ context.Context, alert domain.SystemAlert) error {
	n.log.Error().
		Str("alert_type", string(alert.AlertType)).
		Int64("alert_id", alert.ID).
		Msg("CRITICAL alert: " + alert.Title)
	return nil
}
