// Package handler implements the HTTP API handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// USDConverter renders display values. ok is false when no rate is known.
type USDConverter interface {
	ToUSD(wei *big.Int) (usd decimal.Decimal, ok bool)
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotPrivileged):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPhaseMismatch),
		errors.Is(err, domain.ErrClaimInFlight),
		errors.Is(err, domain.ErrWithdrawInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownTier),
		errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTransactionFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError logs err and responds with its mapped status.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := errorStatus(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, status, err.Error())
}

// usdString formats wei as a display value, or "" without a rate.
func usdString(conv USDConverter, wei *big.Int) string {
	if conv == nil {
		return ""
	}
	usd, ok := conv.ToUSD(wei)
	if !ok {
		return ""
	}
	return usd.StringFixed(2)
}

// parsePage reads the 1-indexed page query parameter. Missing means 1.
func parsePage(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("page")
	if v == "" {
		return 1, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// logHandler attaches the handler name to logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
