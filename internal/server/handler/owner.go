package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurechest/internal/access"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// TreasuryService is the owner console.
type TreasuryService interface {
	Privileged() bool
	Identity() common.Address
	FetchBalance(ctx context.Context) (access.BalanceView, error)
	Withdraw(ctx context.Context, amountWei *big.Int) (*domain.Receipt, error)
}

// OwnerHandler serves the owner console endpoints. Everything except the
// privilege probe answers 403 unless the client identity is the owner.
type OwnerHandler struct {
	treasury TreasuryService
	owner    common.Address
	logger   *slog.Logger
}

// NewOwnerHandler creates an OwnerHandler. owner is the configured
// privileged identity.
func NewOwnerHandler(treasury TreasuryService, owner common.Address, logger *slog.Logger) *OwnerHandler {
	return &OwnerHandler{treasury: treasury, owner: owner, logger: logHandler(logger, "owner")}
}

// GetOwner reports whether the client identity is privileged.
// GET /api/owner
func (h *OwnerHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":   h.treasury.Identity().Hex(),
		"owner":      h.owner.Hex(),
		"privileged": h.treasury.Privileged(),
	})
}

// GetBalance refreshes and returns the contract balance.
// GET /api/owner/balance
func (h *OwnerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.treasury.FetchBalance(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "fetch balance", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type withdrawRequest struct {
	AmountEther string `json:"amountEther"`
}

// Withdraw withdraws amountEther, or the whole balance when it is empty, and
// waits for the transaction's terminal event.
// POST /api/owner/withdraw
func (h *OwnerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if !h.treasury.Privileged() {
		writeDomainError(w, r, h.logger, "withdraw", fmt.Errorf("handler: withdraw: %w", domain.ErrNotPrivileged))
		return
	}

	amount, err := parseWithdrawAmount(r.Body)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}

	receipt, err := h.treasury.Withdraw(r.Context(), amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}

	resp := map[string]any{"status": "confirmed"}
	if receipt != nil {
		resp["txHash"] = receipt.TxHash.Hex()
		resp["blockNumber"] = receipt.BlockNumber
	}
	if view, err := h.treasury.FetchBalance(r.Context()); err == nil {
		resp["balance"] = view
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseWithdrawAmount reads an optional JSON body. An empty body or amount
// means the whole balance (nil).
func parseWithdrawAmount(body io.Reader) (*big.Int, error) {
	var req withdrawRequest
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: malformed body", domain.ErrInvalidAmount)
	}
	s := strings.TrimSpace(req.AmountEther)
	if s == "" {
		return nil, nil
	}
	eth, err := decimal.NewFromString(s)
	if err != nil || eth.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	wei := domain.EtherToWei(eth)
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q is below one wei", domain.ErrInvalidAmount, s)
	}
	return wei, nil
}
