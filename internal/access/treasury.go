package access

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
	"github.com/alanyoungcy/treasurechest/internal/notify"
	"github.com/alanyoungcy/treasurechest/internal/txlifecycle"
)

// LedgerReader reads the contract's held funds and recorded owner.
type LedgerReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	Owner(ctx context.Context) (common.Address, error)
}

// WithdrawEncoder builds withdraw payloads.
type WithdrawEncoder interface {
	Address() common.Address
	EncodeWithdraw(amountWei *big.Int) (domain.Payload, error)
}

// Submitter broadcasts a payload and returns its lifecycle stream.
type Submitter interface {
	Submit(ctx context.Context, p domain.Payload) <-chan domain.LifecycleEvent
}

// Alerter delivers prepared alerts.
type Alerter interface {
	Send(ctx context.Context, a notify.Alert) error
}

// BalanceView is the last known contract balance.
type BalanceView struct {
	Wei         string    `json:"wei"`
	Ether       string    `json:"ether"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// Treasury is the owner console. Every action requires the client identity
// to pass the Gate.
type Treasury struct {
	gate      *Gate
	identity  common.Address
	encoder   WithdrawEncoder
	submitter Submitter
	reader    LedgerReader
	logger    *slog.Logger

	Audit   domain.AuditStore
	Bus     domain.SignalBus
	Alerts  Alerter
	Metrics *metrics.Metrics

	mu          sync.Mutex
	withdrawing bool
	balance     *big.Int
	refreshedAt time.Time
}

// NewTreasury creates a Treasury acting as identity.
func NewTreasury(gate *Gate, identity common.Address, encoder WithdrawEncoder, submitter Submitter, reader LedgerReader, logger *slog.Logger) *Treasury {
	return &Treasury{
		gate:      gate,
		identity:  identity,
		encoder:   encoder,
		submitter: submitter,
		reader:    reader,
		logger:    logger.With(slog.String("component", "treasury")),
	}
}

// Privileged reports whether the client identity may use the console.
func (t *Treasury) Privileged() bool {
	return t.gate.IsPrivileged(t.identity.Hex())
}

// Identity returns the client identity.
func (t *Treasury) Identity() common.Address {
	return t.identity
}

func (t *Treasury) authorize() error {
	if !t.Privileged() {
		return fmt.Errorf("access: %s: %w", t.identity.Hex(), domain.ErrNotPrivileged)
	}
	return nil
}

// FetchBalance reads the contract's held funds and caches them.
func (t *Treasury) FetchBalance(ctx context.Context) (BalanceView, error) {
	if err := t.authorize(); err != nil {
		return BalanceView{}, err
	}
	bal, err := t.reader.BalanceAt(ctx, t.encoder.Address())
	if err != nil {
		return BalanceView{}, fmt.Errorf("access: fetch balance: %w", err)
	}

	t.mu.Lock()
	t.balance = bal
	t.refreshedAt = time.Now().UTC()
	view := t.viewLocked()
	t.mu.Unlock()
	return view, nil
}

// CachedBalance returns the last fetched balance without a ledger read.
func (t *Treasury) CachedBalance() (BalanceView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balance == nil {
		return BalanceView{}, false
	}
	return t.viewLocked(), true
}

func (t *Treasury) viewLocked() BalanceView {
	return BalanceView{
		Wei:         t.balance.String(),
		Ether:       domain.FormatEther(t.balance),
		RefreshedAt: t.refreshedAt,
	}
}

// withdrawTimeout bounds a broadcast withdrawal once it no longer follows
// the caller's context.
const withdrawTimeout = 10 * time.Minute

type withdrawResult struct {
	receipt *domain.Receipt
	err     error
}

// Withdraw requests amountWei, waits for the terminal lifecycle event and
// refreshes the balance. A nil amount withdraws the whole current balance.
// Only one withdrawal runs at a time.
//
// A broadcast transaction cannot be recalled, so the submission is detached
// from ctx: cancelling ctx stops the wait only, and the terminal event is
// still recorded when it arrives.
func (t *Treasury) Withdraw(ctx context.Context, amountWei *big.Int) (*domain.Receipt, error) {
	if err := t.authorize(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.withdrawing {
		t.mu.Unlock()
		return nil, fmt.Errorf("access: withdraw: %w", domain.ErrWithdrawInFlight)
	}
	t.withdrawing = true
	t.mu.Unlock()
	release := func() {
		t.mu.Lock()
		t.withdrawing = false
		t.mu.Unlock()
	}

	if amountWei == nil {
		view, err := t.FetchBalance(ctx)
		if err != nil {
			release()
			return nil, err
		}
		amountWei, _ = new(big.Int).SetString(view.Wei, 10)
	}

	payload, err := t.encoder.EncodeWithdraw(amountWei)
	if err != nil {
		release()
		return nil, fmt.Errorf("access: withdraw: %w", err)
	}

	t.logger.InfoContext(ctx, "withdraw submitted", slog.String("amount_eth", domain.FormatEther(amountWei)))
	done := make(chan withdrawResult, 1)
	go func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), withdrawTimeout)
		res := t.complete(sctx, amountWei, payload)
		cancel()
		release()
		done <- res
	}()

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-ctx.Done():
		t.logger.WarnContext(ctx, "withdraw caller gone before confirmation", slog.String("error", ctx.Err().Error()))
		return nil, fmt.Errorf("access: withdraw: awaiting confirmation: %w", ctx.Err())
	}
}

// complete submits payload, records the terminal event and refreshes the
// balance on success.
func (t *Treasury) complete(ctx context.Context, amountWei *big.Int, payload domain.Payload) withdrawResult {
	ev, err := txlifecycle.AwaitTerminal(ctx, t.submitter.Submit(ctx, payload))
	t.record(ctx, amountWei, ev, err)
	if err != nil {
		return withdrawResult{err: fmt.Errorf("access: withdraw: %w", err)}
	}

	if _, err := t.FetchBalance(ctx); err != nil {
		t.logger.WarnContext(ctx, "balance refresh after withdraw failed", slog.String("error", err.Error()))
	}
	return withdrawResult{receipt: ev.Receipt}
}

func (t *Treasury) record(ctx context.Context, amountWei *big.Int, ev domain.LifecycleEvent, err error) {
	detail := map[string]any{
		"amount_wei": amountWei.String(),
		"result":     string(ev.Kind),
	}
	if ev.Receipt != nil {
		detail["tx_hash"] = ev.Receipt.TxHash.Hex()
	}
	result := "confirmed"
	if err != nil {
		result = "failed"
		detail["error"] = err.Error()
		t.logger.WarnContext(ctx, "withdraw failed", slog.String("error", err.Error()))
	} else {
		t.logger.InfoContext(ctx, "withdraw confirmed", slog.String("tx_hash", ev.Receipt.TxHash.Hex()))
	}
	if ev.Kind != "" {
		t.Metrics.TxTerminal("withdraw", string(ev.Kind))
	}

	if t.Audit != nil {
		if aerr := t.Audit.Log(ctx, "withdrawal", detail); aerr != nil {
			t.logger.WarnContext(ctx, "audit withdrawal failed", slog.String("error", aerr.Error()))
		}
	}
	if t.Bus != nil {
		if payload, jerr := json.Marshal(detail); jerr == nil {
			_ = t.Bus.Publish(ctx, domain.ChannelOwner, payload)
		}
	}
	if t.Alerts != nil {
		if aerr := t.Alerts.Send(ctx, notify.Withdrawal(domain.FormatEther(amountWei), result)); aerr != nil {
			t.logger.WarnContext(ctx, "withdraw alert failed", slog.String("error", aerr.Error()))
		}
	}
}

// VerifyOwner checks that the contract's recorded owner is the privileged
// identity, so a misconfigured owner is caught at start-up.
func (t *Treasury) VerifyOwner(ctx context.Context) (bool, error) {
	owner, err := t.reader.Owner(ctx)
	if err != nil {
		return false, fmt.Errorf("access: verify owner: %w", err)
	}
	ok := t.gate.IsPrivileged(owner.Hex())
	if !ok {
		t.logger.WarnContext(ctx, "contract owner differs from configured privileged identity",
			slog.String("onchain", owner.Hex()),
			slog.String("configured", t.gate.Owner().Hex()),
		)
	}
	return ok, nil
}
