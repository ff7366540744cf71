// Package txlifecycle normalizes the raw status notifications of the external
// signing/broadcast subsystem into the three-kind lifecycle taxonomy consumed
// by the session state machine and the owner console.
package txlifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// StatusName is a raw status reported by the submission subsystem.
type StatusName string

const (
	StatusInit           StatusName = "init"
	StatusIdle           StatusName = "transactionIdle"
	StatusBuilding       StatusName = "buildingTransaction"
	StatusPending        StatusName = "transactionPending"
	StatusLegacyExecuted StatusName = "transactionLegacyExecuted"
	StatusSuccess        StatusName = "success"
	StatusError          StatusName = "error"
	StatusReset          StatusName = "reset"
)

// Status is one raw notification. Receipts is populated on StatusSuccess,
// Err on StatusError.
type Status struct {
	Name     StatusName
	TxHash   common.Hash
	Receipts []*types.Receipt
	Err      error
}

// eventBuffer holds at most one Pending plus the terminal event, so the
// forwarding goroutine never waits on a slow consumer.
const eventBuffer = 2

// Adapter translates one raw status stream per submitted transaction.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger.With(slog.String("component", "tx_lifecycle"))}
}

// Normalize consumes in and returns a stream carrying at most one Pending
// event followed by exactly one Confirmed or Failed event. The returned
// channel is closed after the terminal event, or without one when ctx is
// cancelled first. Raw statuses arriving after the terminal one are drained
// and discarded.
func (a *Adapter) Normalize(ctx context.Context, in <-chan Status) <-chan domain.LifecycleEvent {
	out := make(chan domain.LifecycleEvent, eventBuffer)
	go func() {
		terminal := a.forward(ctx, in, out)
		close(out)
		if terminal {
			drain(ctx, in)
		}
	}()
	return out
}

// forward reports whether a terminal event was emitted.
func (a *Adapter) forward(ctx context.Context, in <-chan Status, out chan<- domain.LifecycleEvent) bool {
	pendingSent := false
	for {
		select {
		case <-ctx.Done():
			return false
		case st, ok := <-in:
			if !ok {
				a.logger.WarnContext(ctx, "status stream closed before terminal status")
				emit(ctx, out, failed(errors.New("status stream closed before terminal status")))
				return true
			}

			ev, terminal, observable := a.translate(st)
			if !observable {
				continue
			}
			if ev.Kind == domain.LifecyclePending {
				if pendingSent {
					continue
				}
				pendingSent = true
			}
			a.logger.DebugContext(ctx, "lifecycle event",
				slog.String("status", string(st.Name)),
				slog.String("kind", string(ev.Kind)),
				slog.String("tx_hash", st.TxHash.Hex()),
			)
			if !emit(ctx, out, ev) {
				return false
			}
			if terminal {
				return true
			}
		}
	}
}

// translate maps a raw status. observable is false for statuses that carry
// no lifecycle meaning (init, idle, building, reset).
func (a *Adapter) translate(st Status) (ev domain.LifecycleEvent, terminal, observable bool) {
	switch st.Name {
	case StatusPending, StatusLegacyExecuted:
		return domain.LifecycleEvent{Kind: domain.LifecyclePending}, false, true
	case StatusSuccess:
		r := firstReceipt(st.Receipts)
		if r == nil {
			return failed(errors.New("success reported without a receipt")), true, true
		}
		if r.Status != types.ReceiptStatusSuccessful {
			return failed(fmt.Errorf("transaction %s reverted", r.TxHash.Hex())), true, true
		}
		return domain.LifecycleEvent{Kind: domain.LifecycleConfirmed, Receipt: toReceipt(r)}, true, true
	case StatusError:
		cause := st.Err
		if cause == nil {
			cause = errors.New("rejected by submission subsystem")
		}
		return failed(cause), true, true
	default:
		return domain.LifecycleEvent{}, false, false
	}
}

func failed(cause error) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		Kind: domain.LifecycleFailed,
		Err:  fmt.Errorf("%w: %v", domain.ErrTransactionFailed, cause),
	}
}

func firstReceipt(receipts []*types.Receipt) *types.Receipt {
	for _, r := range receipts {
		if r != nil {
			return r
		}
	}
	return nil
}

func toReceipt(r *types.Receipt) *domain.Receipt {
	out := &domain.Receipt{
		TxHash: r.TxHash,
		Logs:   make([]types.Log, 0, len(r.Logs)),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		if l != nil {
			out.Logs = append(out.Logs, *l)
		}
	}
	return out
}

func emit(ctx context.Context, out chan<- domain.LifecycleEvent, ev domain.LifecycleEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain(ctx context.Context, in <-chan Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-in:
			if !ok {
				return
			}
		}
	}
}

// AwaitTerminal blocks until events yields its terminal event. It returns
// ctx.Err() if the context ends first and domain.ErrTransactionFailed if the
// stream closes without a terminal event.
func AwaitTerminal(ctx context.Context, events <-chan domain.LifecycleEvent) (domain.LifecycleEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.LifecycleEvent{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return domain.LifecycleEvent{}, fmt.Errorf("txlifecycle: await: %w", domain.ErrTransactionFailed)
			}
			switch ev.Kind {
			case domain.LifecycleConfirmed:
				return ev, nil
			case domain.LifecycleFailed:
				return ev, ev.Err
			}
		}
	}
}
