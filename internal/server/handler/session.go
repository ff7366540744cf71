package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/session"
)

// SessionMachine is the live wager session.
type SessionMachine interface {
	Snapshot() session.Snapshot
	Stake(ctx context.Context) error
	Claim(ctx context.Context) error
	Reset(ctx context.Context) error
}

// SessionHandler serves the session endpoints.
type SessionHandler struct {
	machine  SessionMachine
	stakeWei *big.Int
	usd      USDConverter
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler. usd may be nil.
func NewSessionHandler(machine SessionMachine, stakeWei *big.Int, usd USDConverter, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		machine:  machine,
		stakeWei: stakeWei,
		usd:      usd,
		logger:   logHandler(logger, "session"),
	}
}

type sessionResponse struct {
	session.Snapshot
	StakeEther string `json:"stakeEther"`
	StakeUSD   string `json:"stakeUsd,omitempty"`
	OutcomeUSD string `json:"outcomeUsd,omitempty"`
}

func (h *SessionHandler) view() sessionResponse {
	snap := h.machine.Snapshot()
	resp := sessionResponse{
		Snapshot:   snap,
		StakeEther: domain.FormatEther(h.stakeWei),
		StakeUSD:   usdString(h.usd, h.stakeWei),
	}
	if snap.OutcomeWei != "" {
		if wei, ok := new(big.Int).SetString(snap.OutcomeWei, 10); ok {
			resp.OutcomeUSD = usdString(h.usd, wei)
		}
	}
	return resp
}

// GetSession returns the current snapshot.
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

// Stake starts a new session.
// POST /api/session/stake
func (h *SessionHandler) Stake(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "stake", h.machine.Stake)
}

// Claim opens the chest of a Claimable session.
// POST /api/session/claim
func (h *SessionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "claim", h.machine.Claim)
}

// Reset returns a Resolved session to Idle.
// POST /api/session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "reset", h.machine.Reset)
}

// command runs fn and answers 202 with the resulting snapshot. Submission
// continues in the background; clients follow it over /ws or by polling.
func (h *SessionHandler) command(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.view())
}
