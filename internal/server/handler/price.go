package handler

import (
	"net/http"

	"github.com/alanyoungcy/treasurechest/internal/service"
)

// PriceSource returns the last good exchange rate.
type PriceSource interface {
	Latest() (service.Quote, bool)
}

// PriceHandler serves the display exchange rate.
type PriceHandler struct {
	source PriceSource
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(source PriceSource) *PriceHandler {
	return &PriceHandler{source: source}
}

// GetPrice returns the latest quote, or 503 before the first successful poll.
// GET /api/price
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "price feed disabled")
		return
	}
	q, ok := h.source.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "price not yet available")
		return
	}
	writeJSON(w, http.StatusOK, q)
}
