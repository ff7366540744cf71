package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/history"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
	"github.com/alanyoungcy/treasurechest/internal/notify"
	"github.com/alanyoungcy/treasurechest/internal/session"
)

// recordTimeout bounds the side effects of a single transition.
const recordTimeout = 10 * time.Second

// Alerter delivers prepared alerts.
type Alerter interface {
	Send(ctx context.Context, a notify.Alert) error
}

// SessionRecorder observes session transitions and fans them out: snapshot
// to the signal bus, a row in the audit log, metrics and alerts. Every
// dependency is optional.
type SessionRecorder struct {
	Bus         domain.SignalBus
	Audit       domain.AuditStore
	Alerts      Alerter
	Metrics     *metrics.Metrics
	ExplorerURL string

	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSessionRecorder creates a SessionRecorder.
func NewSessionRecorder(logger *slog.Logger) *SessionRecorder {
	return &SessionRecorder{logger: logger.With(slog.String("component", "session_recorder"))}
}

// Attach registers the recorder on m. Side effects run off the machine
// goroutine and are bounded by ctx.
func (r *SessionRecorder) Attach(ctx context.Context, m *session.Machine) {
	m.OnTransition(func(tr session.Transition) {
		r.Record(ctx, tr)
	})
}

// Record handles one transition. Metrics are updated synchronously; I/O is
// done in the background.
func (r *SessionRecorder) Record(ctx context.Context, tr session.Transition) {
	r.Metrics.SessionTransition(string(tr.From.Phase()), string(tr.To.Phase()))
	if call, kind, ok := terminalCause(tr.Cause); ok {
		r.Metrics.TxTerminal(call, kind)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		r.publish(ctx, tr)
		r.audit(ctx, tr)
		r.alert(ctx, tr)
	}()
}

// Wait blocks until in-flight side effects finish.
func (r *SessionRecorder) Wait() {
	r.wg.Wait()
}

func (r *SessionRecorder) publish(ctx context.Context, tr session.Transition) {
	if r.Bus == nil {
		return
	}
	payload, err := json.Marshal(session.Describe(tr.To, tr.At))
	if err != nil {
		return
	}
	if err := r.Bus.Publish(ctx, domain.ChannelSession, payload); err != nil {
		r.logger.WarnContext(ctx, "publish session snapshot failed", slog.String("error", err.Error()))
	}
}

func (r *SessionRecorder) audit(ctx context.Context, tr session.Transition) {
	if r.Audit == nil {
		return
	}
	snap := session.Describe(tr.To, tr.At)
	detail := map[string]any{
		"from":  string(tr.From.Phase()),
		"to":    string(tr.To.Phase()),
		"cause": tr.Cause,
	}
	if snap.Condition != session.ConditionNone {
		detail["condition"] = string(snap.Condition)
	}
	if snap.StakeTxHash != "" {
		detail["stake_tx"] = snap.StakeTxHash
	}
	if snap.ClaimTxHash != "" {
		detail["claim_tx"] = snap.ClaimTxHash
		detail["outcome_wei"] = snap.OutcomeWei
	}
	if err := r.Audit.Log(ctx, "session_transition", detail); err != nil {
		r.logger.WarnContext(ctx, "audit session transition failed", slog.String("error", err.Error()))
	}
}

func (r *SessionRecorder) alert(ctx context.Context, tr session.Transition) {
	if r.Alerts == nil {
		return
	}
	a, ok := alertFor(tr, r.ExplorerURL)
	if !ok {
		return
	}
	if err := r.Alerts.Send(ctx, a); err != nil {
		r.logger.WarnContext(ctx, "session alert failed",
			slog.String("event", a.Event),
			slog.String("error", err.Error()),
		)
	}
}

// alertFor maps terminal transaction outcomes to alerts. Commands and
// pending updates produce none.
func alertFor(tr session.Transition, explorerURL string) (notify.Alert, bool) {
	switch to := tr.To.(type) {
	case session.Resolved:
		link := ""
		if explorerURL != "" {
			link = history.ExplorerTxURL(explorerURL, to.ClaimTxHash)
		}
		return notify.OutcomeResolved(to.Outcome, to.ClaimTxHash.Hex(), link), true
	case session.Idle:
		if to.Condition == session.ConditionStakeFailed && tr.Cause == "stake_failed" {
			return notify.TransactionFailed(notify.EventStakeFailed, "Stake", to.Detail), true
		}
	case session.Claimable:
		if tr.Cause != "claim_failed" && tr.Cause != "claim_confirmed" {
			return notify.Alert{}, false
		}
		switch to.Condition {
		case session.ConditionClaimFailed:
			return notify.TransactionFailed(notify.EventClaimFailed, "Claim", to.Detail), true
		case session.ConditionOutcomeNotObservable:
			return notify.OutcomeNotObservable(to.Stake.BlockHeight), true
		}
	}
	return notify.Alert{}, false
}

// terminalCause splits a transaction cause such as "claim_confirmed".
func terminalCause(cause string) (call, kind string, ok bool) {
	call, kind, found := strings.Cut(cause, "_")
	if !found || (call != "stake" && call != "claim") {
		return "", "", false
	}
	if kind != string(domain.LifecycleConfirmed) && kind != string(domain.LifecycleFailed) {
		return "", "", false
	}
	return call, kind, true
}
