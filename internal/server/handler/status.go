package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/history"
)

// HistoryStatus reports the aggregator's last refresh.
type HistoryStatus interface {
	Status() history.Status
}

// StatusInfo is the static part of the status response.
type StatusInfo struct {
	Mode      string    `json:"mode"`
	ChainID   int64     `json:"chainId"`
	Contract  string    `json:"contract"`
	Identity  string    `json:"identity,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// StatusHandler serves the client status for the dashboard.
type StatusHandler struct {
	info    StatusInfo
	history HistoryStatus
}

// NewStatusHandler creates a StatusHandler. hist may be nil.
func NewStatusHandler(info StatusInfo, hist HistoryStatus) *StatusHandler {
	return &StatusHandler{info: info, history: hist}
}

// GetStatus responds with mode, contract and history freshness.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":          h.info.Mode,
		"chainId":       h.info.ChainID,
		"contract":      h.info.Contract,
		"startedAt":     h.info.StartedAt,
		"uptimeSeconds": int64(time.Since(h.info.StartedAt).Seconds()),
	}
	if h.info.Identity != "" {
		resp["identity"] = h.info.Identity
	}
	if h.history != nil {
		resp["history"] = h.history.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
