package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
)

// symbolHandlers serves the three symbol-support endpoints the broadcaster
// and watchlist editor depend on. A full symbol-search service is an
// external collaborator (§1 non-goals); these handlers only ever reach into
// the process-local market-data cache, never an exchange security master.
type symbolHandlers struct {
	cache    *marketcache.Cache
	resolver domain.ContractResolver
	log      zerolog.Logger
}

func (h *symbolHandlers) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToUpper(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, h.log, apierrors.Validation("q query parameter is required"))
		return
	}

	var matches []domain.MarketDataRow
	for _, row := range h.cache.Snapshot() {
		if strings.Contains(strings.ToUpper(row.Symbol), q) {
			matches = append(matches, row)
		}
	}
	writeJSON(w, h.log, http.StatusOK, matches)
}

type validateSymbolRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

func (h *symbolHandlers) validate(w http.ResponseWriter, r *http.Request) {
	var req validateSymbolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Exchange == "" || req.Symbol == "" {
		writeError(w, h.log, apierrors.Validation("exchange and symbol are required"))
		return
	}
	_, ok := h.cache.Get(req.Exchange, req.Symbol)
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"known": ok})
}

type quoteRef struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

type quotesRequest struct {
	Symbols    []quoteRef `json:"symbols"`
	InstanceID int64      `json:"instanceId"`
}

func (h *symbolHandlers) quotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	rows := make([]domain.MarketDataRow, 0, len(req.Symbols))
	var missing []string
	for _, ref := range req.Symbols {
		row, ok := h.cache.Get(ref.Exchange, ref.Symbol)
		if !ok {
			missing = append(missing, ref.Exchange+":"+ref.Symbol)
			continue
		}
		rows = append(rows, row)
	}

	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"quotes":  rows,
		"missing": missing,
	})
}
