package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/broadcaster"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
)

type watchlistHandlers struct {
	watchlists  *repositories.WatchlistRepository
	instances   *repositories.InstanceRepository
	broadcaster *broadcaster.Broadcaster
	log         zerolog.Logger
}

func (h *watchlistHandlers) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.watchlists.List(r.Context())
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list watchlists", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, list)
}

func (h *watchlistHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	wl, err := h.watchlists.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.NotFound("watchlist"))
		return
	}
	writeJSON(w, h.log, http.StatusOK, wl)
}

type watchlistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

func (h *watchlistHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, h.log, apierrors.Validation("name is required", apierrors.FieldError{Field: "name", Message: "required"}))
		return
	}

	wl := domain.Watchlist{Name: req.Name, Description: req.Description, IsActive: req.IsActive == nil || *req.IsActive}
	res, err := h.watchlists.Create(r.Context(), wl)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	wl.ID = res.LastInsertedID
	writeJSON(w, h.log, http.StatusCreated, wl)
}

func (h *watchlistHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req watchlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, h.log, apierrors.Validation("name is required", apierrors.FieldError{Field: "name", Message: "required"}))
		return
	}

	wl := domain.Watchlist{ID: id, Name: req.Name, Description: req.Description, IsActive: req.IsActive == nil || *req.IsActive}
	if _, err := h.watchlists.Update(r.Context(), wl); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, wl)
}

func (h *watchlistHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.watchlists.Delete(r.Context(), id); err != nil {
		writeError(w, h.log, apierrors.Database("failed to delete watchlist", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"deleted": true})
}

type cloneRequest struct {
	Name string `json:"name"`
}

func (h *watchlistHandlers) clone(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req cloneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Name == "" {
		writeError(w, h.log, apierrors.Validation("name is required", apierrors.FieldError{Field: "name", Message: "required"}))
		return
	}
	newID, err := h.watchlists.Clone(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to clone watchlist", err))
		return
	}
	writeJSON(w, h.log, http.StatusCreated, map[string]int64{"id": newID})
}

func (h *watchlistHandlers) listSymbols(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	symbols, err := h.watchlists.ListSymbols(r.Context(), id)
	if err != nil {
		writeError(w, h.log, apierrors.Database("failed to list symbols", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, symbols)
}

func (h *watchlistHandlers) createSymbol(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var sym domain.WatchlistSymbol
	if err := decodeJSON(r, &sym); err != nil {
		writeError(w, h.log, err)
		return
	}
	sym.WatchlistID = watchlistID

	if err := validateSymbol(sym); err != nil {
		writeError(w, h.log, err)
		return
	}

	res, err := h.watchlists.CreateSymbol(r.Context(), sym)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	sym.ID = res.LastInsertedID
	writeJSON(w, h.log, http.StatusCreated, sym)
}

func (h *watchlistHandlers) updateSymbol(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	symbolID, err := idParam(r, "sid")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var sym domain.WatchlistSymbol
	if err := decodeJSON(r, &sym); err != nil {
		writeError(w, h.log, err)
		return
	}
	sym.ID = symbolID
	sym.WatchlistID = watchlistID

	if err := validateSymbol(sym); err != nil {
		writeError(w, h.log, err)
		return
	}

	if _, err := h.watchlists.UpdateSymbol(r.Context(), sym); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, sym)
}

// validateSymbol enforces the lot-size invariant for fixed-units quantities
// on F&O exchanges (§8 boundary behavior): qty_value must be an exact
// multiple of lot_size.
func validateSymbol(sym domain.WatchlistSymbol) error {
	if sym.Exchange == "" || sym.Symbol == "" {
		return apierrors.Validation("exchange and symbol are required")
	}
	if domain.IsFNO(sym.Exchange) && sym.QtyMode == domain.QtyModeFixed && sym.QtyUnits == domain.QtyUnitsUnits && sym.LotSize > 0 {
		if int(sym.QtyValue)%sym.LotSize != 0 {
			return apierrors.Validation("qty_value must be a multiple of lot_size on F&O exchanges",
				apierrors.FieldError{Field: "qty_value", Message: "must be a multiple of lot_size"})
		}
	}
	return nil
}

func (h *watchlistHandlers) deleteSymbol(w http.ResponseWriter, r *http.Request) {
	symbolID, err := idParam(r, "sid")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.watchlists.DeleteSymbol(r.Context(), symbolID); err != nil {
		writeError(w, h.log, apierrors.Database("failed to delete symbol", err))
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"deleted": true})
}

type bindingRequest struct {
	InstanceIDs []int64 `json:"instance_ids"`
}

func (h *watchlistHandlers) bindInstances(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req bindingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	for _, instID := range req.InstanceIDs {
		if _, err := h.watchlists.BindInstance(r.Context(), watchlistID, instID); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]int{"bound": len(req.InstanceIDs)})
}

func (h *watchlistHandlers) unbindInstances(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req bindingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	for _, instID := range req.InstanceIDs {
		if _, err := h.watchlists.UnbindInstance(r.Context(), watchlistID, instID); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]int{"unbound": len(req.InstanceIDs)})
}

func (h *watchlistHandlers) unbindInstance(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	instID, err := idParam(r, "iid")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.watchlists.UnbindInstance(r.Context(), watchlistID, instID); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"unbound": true})
}

type placeOrdersRequest struct {
	SymbolIDs   []int64             `json:"symbol_ids"`
	Action      domain.OrderAction  `json:"action"`
	OptionType  string              `json:"option_type"`
	ProductType domain.ProductType  `json:"product_type"`
	OrderType   domain.OrderType    `json:"order_type"`
	Price       *float64            `json:"price"`
}

func (h *watchlistHandlers) placeOrders(w http.ResponseWriter, r *http.Request) {
	watchlistID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req placeOrdersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Action == "" {
		writeError(w, h.log, apierrors.Validation("action is required"))
		return
	}

	resp, err := h.broadcaster.PlaceOrders(r.Context(), broadcaster.Request{
		WatchlistID: watchlistID,
		SymbolIDs:   req.SymbolIDs,
		Action:      req.Action,
		OptionType:  req.OptionType,
		ProductType: req.ProductType,
		OrderType:   req.OrderType,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}
