// Package memory provides in-process stand-ins for the Redis-backed shared
// state, used when Redis is disabled.
package memory

import (
	"context"
	"path"
	"sync"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// subscriberBuffer is the per-subscription channel depth. Messages to a full
// subscriber are dropped, matching Pub/Sub delivery.
const subscriberBuffer = 64

// SignalBus implements domain.SignalBus within one process. Channel names
// may be glob patterns, as with PSUBSCRIBE.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscription]struct{})}
}

// Publish delivers a copy of payload to every matching subscriber without
// blocking.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns messages for channel until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscription{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}()
	return s.ch, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
