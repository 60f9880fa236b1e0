package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

type positionHandlers struct {
	positions *repositories.PositionRepository
	instances *repositories.InstanceRepository
	newClient ClientFactory
	alertSink *alerts.Sink
	log       zerolog.Logger
}

func (h *positionHandlers) list(w http.ResponseWriter, r *http.Request) {
	instanceID, err := idParam(r, "instanceId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	list, err := h.positions.ListByInstance(r.Context(), instanceID)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list positions", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, list)
}

// pnl aggregates the realized/unrealized totals already recorded on each
// position row for one instance — cheaper than a fresh upstream round trip.
func (h *positionHandlers) pnl(w http.ResponseWriter, r *http.Request) {
	instanceID, err := idParam(r, "instanceId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	list, err := h.positions.ListByInstance(r.Context(), instanceID)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list positions", err))
		return
	}

	var unrealized, realized float64
	for _, p := range list {
		if p.Status == domain.PositionOpen {
			unrealized += (p.CurrentPrice - p.EntryPrice) * p.Quantity * positionSign(p.Direction)
		}
		if p.Status == domain.PositionClosed && p.ExitPrice != nil {
			realized += (*p.ExitPrice - p.EntryPrice) * p.Quantity * positionSign(p.Direction)
		}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]float64{
		"realized_pnl":   realized,
		"unrealized_pnl": unrealized,
		"total_pnl":      realized + unrealized,
	})
}

func positionSign(dir domain.PositionDirection) float64 {
	if dir == domain.DirectionShort {
		return -1
	}
	return 1
}

func (h *positionHandlers) aggregatePnL(w http.ResponseWriter, r *http.Request) {
	active := true
	instances, err := h.instances.List(r.Context(), &active)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list instances", err))
		return
	}

	var totalRealized, totalUnrealized float64
	for _, inst := range instances {
		totalRealized += inst.RealizedPnL
		totalUnrealized += inst.UnrealizedPnL
	}
	writeJSON(w, h.log, http.StatusOK, map[string]float64{
		"realized_pnl":   totalRealized,
		"unrealized_pnl": totalUnrealized,
		"total_pnl":      totalRealized + totalUnrealized,
	})
}

func (h *positionHandlers) closeAll(w http.ResponseWriter, r *http.Request) {
	instanceID, err := idParam(r, "instanceId")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), instanceID)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	open, err := h.positions.OpenByInstance(r.Context(), instanceID)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list open positions", err))
		return
	}
	if len(open) == 0 {
		writeJSON(w, h.log, http.StatusOK, map[string]int{"closed": 0})
		return
	}

	client := h.newClient(inst)
	if _, err := client.ClosePosition(r.Context(), "ALL"); err != nil {
		writeError(w, h.log, err)
		return
	}

	closed := 0
	for _, p := range open {
		exitPrice := p.CurrentPrice
		if _, err := h.positions.Close(r.Context(), p.ID, exitPrice, domain.ExitManual); err != nil {
			h.log.Error().Err(err).Int64("position_id", p.ID).Msg("failed to persist manual close")
			continue
		}
		closed++
	}

	instanceID2 := inst.ID
	h.alertSink.Emit(r.Context(), domain.SystemAlert{
		AlertType:  domain.AlertPositionClosed,
		Severity:   domain.SeverityInfo,
		Title:      "positions closed by operator",
		Message:    "bulk close requested via REST",
		InstanceID: &instanceID2,
	})
	writeJSON(w, h.log, http.StatusOK, map[string]int{"closed": closed})
}
