package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/brokerclient"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/pnl"
	"github.com/jabez4jc/tradecontrol/internal/safeswitch"
)

var pnlFromBooks = pnl.FromBooks

type instanceHandlers struct {
	instances  *repositories.InstanceRepository
	newClient  ClientFactory
	safeSwitch *safeswitch.Coordinator
	log        zerolog.Logger
}

// instanceRequest is the wire shape for instance create/update: api_key is
// write-only, so it cannot live on domain.Instance's json tags.
type instanceRequest struct {
	Name           string   `json:"name"`
	HostURL        string   `json:"host_url"`
	APIKey         string   `json:"api_key"`
	StrategyTag    string   `json:"strategy_tag"`
	TargetProfit   float64  `json:"target_profit"`
	TargetLoss     float64  `json:"target_loss"`
	IsActive       *bool    `json:"is_active"`
	MarketDataRole string   `json:"market_data_role"`
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierrors.Validation("invalid " + name)
	}
	return id, nil
}

func (h *instanceHandlers) list(w http.ResponseWriter, r *http.Request) {
	var isActive *bool
	if v := r.URL.Query().Get("is_active"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.log, apierrors.Validation("is_active must be a boolean"))
			return
		}
		isActive = &parsed
	}

	list, err := h.instances.List(r.Context(), isActive)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list instances", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, list)
}

func (h *instanceHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}
	writeJSON(w, h.log, http.StatusOK, inst)
}

func decodeInstanceRequest(r *http.Request) (instanceRequest, error) {
	var req instanceRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.Name == "" {
		return req, apierrors.Validation("name is required", apierrors.FieldError{Field: "name", Message: "required"})
	}
	if req.HostURL == "" {
		return req, apierrors.Validation("host_url is required", apierrors.FieldError{Field: "host_url", Message: "required"})
	}
	return req, nil
}

func (h *instanceHandlers) create(w http.ResponseWriter, r *http.Request) {
	req, err := decodeInstanceRequest(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, h.log, apierrors.Validation("api_key is required", apierrors.FieldError{Field: "api_key", Message: "required"}))
		return
	}

	inst := domain.Instance{
		Name:           req.Name,
		HostURL:        req.HostURL,
		APIKey:         req.APIKey,
		StrategyTag:    req.StrategyTag,
		TargetProfit:   req.TargetProfit,
		TargetLoss:     req.TargetLoss,
		IsActive:       req.IsActive == nil || *req.IsActive,
		HealthStatus:   domain.HealthUnknown,
		MarketDataRole: domain.MarketDataRole(orDefault(req.MarketDataRole, string(domain.MarketDataRoleNone))),
	}

	res, err := h.instances.Create(r.Context(), inst)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst.ID = res.LastInsertedID
	writeJSON(w, h.log, http.StatusCreated, inst)
}

func (h *instanceHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	existing, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	req, err := decodeInstanceRequest(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	existing.Name = req.Name
	existing.HostURL = req.HostURL
	if req.APIKey != "" {
		existing.APIKey = req.APIKey
	}
	existing.StrategyTag = req.StrategyTag
	existing.TargetProfit = req.TargetProfit
	existing.TargetLoss = req.TargetLoss
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if req.MarketDataRole != "" {
		existing.MarketDataRole = domain.MarketDataRole(req.MarketDataRole)
	}

	if _, err := h.instances.Update(r.Context(), existing); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, existing)
}

func (h *instanceHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.instances.Delete(r.Context(), id); err != nil {
		writeError(w, h.log, apierrors.Database("failed to delete instance", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *instanceHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	client := h.newClient(inst)
	funds, _, fundsErr := client.Funds(r.Context())
	if fundsErr != nil {
		writeError(w, h.log, fundsErr)
		return
	}
	if _, err := h.instances.UpdatePnL(r.Context(), id, funds.AvailableBalance, inst.RealizedPnL, inst.UnrealizedPnL, inst.TotalPnL); err != nil {
		writeError(w, h.log, apierrors.Database("failed to persist refresh", err))
		return
	}
	inst.CurrentBalance = funds.AvailableBalance
	writeJSON(w, h.log, http.StatusOK, inst)
}

func (h *instanceHandlers) checkHealth(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	client := h.newClient(inst)
	_, pingErr := client.Ping(r.Context())
	status := domain.HealthHealthy
	if pingErr != nil {
		status = domain.HealthUnhealthy
	}
	if _, err := h.instances.UpdateHealth(r.Context(), id, status, inst.IsActive); err != nil {
		writeError(w, h.log, apierrors.Database("failed to persist health check", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]string{"health_status": string(status)})
}

func (h *instanceHandlers) refreshPnL(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	client := h.newClient(inst)
	trades, _, tradeErr := client.TradeBook(r.Context())
	positions, _, posErr := client.PositionBook(r.Context())
	if posErr != nil {
		writeError(w, h.log, posErr)
		return
	}
	account := pnlFromBooks(trades, tradeErr, positions)
	if _, err := h.instances.UpdatePnL(r.Context(), id, inst.CurrentBalance, account.TotalRealized, account.TotalUnrealized, account.TotalPnL); err != nil {
		writeError(w, h.log, apierrors.Database("failed to persist pnl refresh", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, account)
}

type toggleAnalyzerRequest struct {
	Mode bool `json:"mode"`
}

func (h *instanceHandlers) toggleAnalyzer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	inst, err := h.instances.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("instance"))
		return
	}

	var req toggleAnalyzerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if !req.Mode {
		client := h.newClient(inst)
		if _, err := client.ToggleAnalyzer(r.Context(), false); err != nil {
			writeError(w, h.log, err)
			return
		}
		if _, err := h.instances.SetAnalyzerMode(r.Context(), id, false); err != nil {
			writeError(w, h.log, apierrors.Database("failed to persist analyzer toggle", err))
			return
		}
		writeJSON(w, h.log, http.StatusOK, map[string]bool{"is_analyzer_mode": false})
		return
	}

	result := h.safeSwitch.Switch(r.Context(), inst, safeswitch.ReasonManual)
	if result.Err != nil {
		writeError(w, h.log, result.Err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"is_analyzer_mode": true,
		"already_analyzer": result.AlreadyAnalyzer,
	})
}

type testConnectionRequest struct {
	HostURL string `json:"host_url"`
	APIKey  string `json:"api_key"`
}

func (h *instanceHandlers) testConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.HostURL == "" || req.APIKey == "" {
		writeError(w, h.log, apierrors.Validation("host_url and api_key are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	client := brokerclient.New(req.HostURL, req.APIKey, brokerclient.Options{Timeout: 15 * time.Second, Log: h.log})
	if _, err := client.Ping(ctx); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"reachable": true})
}

func (h *instanceHandlers) testAPIKey(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.HostURL == "" || req.APIKey == "" {
		writeError(w, h.log, apierrors.Validation("host_url and api_key are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	client := brokerclient.New(req.HostURL, req.APIKey, brokerclient.Options{Timeout: 15 * time.Second, Log: h.log})
	if _, _, err := client.Funds(ctx); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"valid": true})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
