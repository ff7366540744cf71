package txlifecycle

import (
	"context"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// Broadcaster is the signing/broadcast subsystem: it returns one raw status
// stream per payload and closes it after the terminal status.
type Broadcaster interface {
	Broadcast(ctx context.Context, p domain.Payload) <-chan Status
}

// Submitter couples a Broadcaster with an Adapter so callers only see
// normalized lifecycle events.
type Submitter struct {
	broadcaster Broadcaster
	adapter     *Adapter
}

// NewSubmitter creates a Submitter.
func NewSubmitter(b Broadcaster, a *Adapter) *Submitter {
	return &Submitter{broadcaster: b, adapter: a}
}

// Submit broadcasts p and returns its normalized lifecycle stream.
func (s *Submitter) Submit(ctx context.Context, p domain.Payload) <-chan domain.LifecycleEvent {
	return s.adapter.Normalize(ctx, s.broadcaster.Broadcast(ctx, p))
}
