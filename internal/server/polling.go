package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/polling"
)

type pollingHandlers struct {
	polling *polling.Controller
	log     zerolog.Logger
}

func (h *pollingHandlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.polling.Snapshot())
}

func (h *pollingHandlers) startOrders(w http.ResponseWriter, r *http.Request) {
	h.polling.StartOrders()
	writeJSON(w, h.log, http.StatusOK, h.polling.Snapshot())
}

func (h *pollingHandlers) stopOrders(w http.ResponseWriter, r *http.Request) {
	h.polling.StopOrders()
	writeJSON(w, h.log, http.StatusOK, h.polling.Snapshot())
}

func (h *pollingHandlers) startMarketData(w http.ResponseWriter, r *http.Request) {
	h.polling.StartMarketData()
	writeJSON(w, h.log, http.StatusOK, h.polling.Snapshot())
}

func (h *pollingHandlers) stopMarketData(w http.ResponseWriter, r *http.Request) {
	h.polling.StopMarketData()
	writeJSON(w, h.log, http.StatusOK, h.polling.Snapshot())
}
