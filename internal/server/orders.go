package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

type orderHandlers struct {
	orders    *repositories.OrderRepository
	instances *repositories.InstanceRepository
	newClient ClientFactory
	log       zerolog.Logger
}

func (h *orderHandlers) list(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeError(w, h.log, apierrors.Validation("status query parameter is required"))
		return
	}
	list, err := h.orders.ListByStatus(r.Context(), domain.OrderStatus(status))
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list orders", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, list)
}

func (h *orderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("order"))
		return
	}
	inst, err := h.instances.Get(r.Context(), order.InstanceID)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	client := h.newClient(inst)
	if _, err := client.CancelOrder(r.Context(), order.OrderID); err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.orders.MarkDispatched(r.Context(), id, domain.OrderStatusCancelled, order.OrderID, "cancelled by operator"); err != nil {
		writeError(w, h.log, apierrors.Database("failed to persist cancellation", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"cancelled": true})
}

type cancelAllRequest struct {
	InstanceID int64  `json:"instanceId"`
	Strategy   string `json:"strategy"`
}

func (h *orderHandlers) cancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.InstanceID == 0 {
		writeError(w, h.log, apierrors.Validation("instanceId is required"))
		return
	}
	inst, err := h.instances.Get(r.Context(), req.InstanceID)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	client := h.newClient(inst)
	if _, err := client.CancelAllOrders(r.Context(), req.Strategy); err != nil {
		writeError(w, h.log, err)
		return
	}

	pending, err := h.orders.PendingOrOpenByInstance(r.Context(), req.InstanceID)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to load pending orders", err))
		return
	}
	for _, o := range pending {
		if _, err := h.orders.MarkDispatched(r.Context(), o.ID, domain.OrderStatusCancelled, o.OrderID, "cancelled via cancel-all"); err != nil {
			h.log.Error().Err(err).Int64("order_id", o.ID).Msg("failed to persist cancel-all result for order")
		}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]int{"cancelled": len(pending)})
}
