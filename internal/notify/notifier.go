// Package notify delivers session and owner-console alerts to chat channels
// (Telegram, Discord). Alerts are filtered by event type so operators receive
// only the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Sender is one chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

var knownEvents = []string{
	EventOutcomeResolved,
	EventStakeFailed,
	EventClaimFailed,
	EventOutcomeNotObservable,
	EventWithdrawal,
	EventHistoryFetchFailed,
}

// Notifier fans alerts out to every Sender. A nil Notifier or one without
// senders drops alerts.
type Notifier struct {
	senders []Sender
	allowed map[string]bool // empty allows every event
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering the listed event types. An empty
// list delivers every event; unknown names are logged and ignored.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	logger = logger.With(slog.String("component", "notifier"))
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if !slices.Contains(knownEvents, e) {
			logger.Warn("unknown alert event in filter", slog.String("event", e))
			continue
		}
		allowed[e] = true
	}
	return &Notifier{senders: senders, allowed: allowed, logger: logger}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether alerts of type event pass the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.allowed) == 0 || n.allowed[event]
}

// Send delivers a to every sender when its event passes the filter. One
// failing sender does not stop delivery to the rest; their errors are joined.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Allows(a.Event) {
		n.logger.DebugContext(ctx, "alert filtered", slog.String("event", a.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a.Title, a.Message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent", slog.String("sender", s.Name()), slog.String("event", a.Event))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
