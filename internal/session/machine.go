package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// inputBuffer bounds the notification channel feeding Run.
const inputBuffer = 32

// Encoder builds the stake and claim payloads.
type Encoder interface {
	EncodeStake() domain.Payload
	EncodeClaim(stakeBlockHeight uint64) (domain.Payload, error)
}

// Submitter hands a payload to the signing/broadcast subsystem and returns
// its normalized lifecycle stream.
type Submitter interface {
	Submit(ctx context.Context, p domain.Payload) <-chan domain.LifecycleEvent
}

// Transition describes one applied state change.
type Transition struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now and time.AfterFunc, for tests.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(m *Machine) {
		m.now = now
		m.afterFunc = afterFunc
	}
}

// Machine is the session state machine. Run is the only goroutine that
// writes the state; everything else talks to it through the input channel.
type Machine struct {
	encoder   Encoder
	submitter Submitter
	dwell     time.Duration
	logger    *slog.Logger

	inputs    chan envelope
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	mu        sync.RWMutex
	state     State
	observers []func(Transition)

	running chan struct{}
}

type envelope struct {
	in    input
	reply chan error
}

// NewMachine creates a Machine in Idle.
func NewMachine(encoder Encoder, submitter Submitter, cooldown time.Duration, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		encoder:   encoder,
		submitter: submitter,
		dwell:     cooldown,
		logger:    logger.With(slog.String("component", "session")),
		inputs:    make(chan envelope, inputBuffer),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		state:     Idle{},
		running:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTransition registers an observer. Observers run on the Run goroutine and
// must not block. Register before calling Run.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current state rendered for display.
func (m *Machine) Snapshot() Snapshot {
	return Describe(m.State(), m.now())
}

// Stake submits the stake transaction. It fails with domain.ErrPhaseMismatch
// unless the session is Idle.
func (m *Machine) Stake(ctx context.Context) error {
	return m.command(ctx, stakeRequested{id: uuid.New()})
}

// Claim submits the claim transaction. It fails with domain.ErrPhaseMismatch
// outside Claimable and with domain.ErrClaimInFlight while a claim is pending.
func (m *Machine) Claim(ctx context.Context) error {
	return m.command(ctx, claimRequested{id: uuid.New()})
}

// Reset discards a resolved session.
func (m *Machine) Reset(ctx context.Context) error {
	return m.command(ctx, resetRequested{})
}

func (m *Machine) command(ctx context.Context, in input) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, envelope{in: in, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		if err != nil {
			return fmt.Errorf("session: %s: %w", in.name(), err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) send(ctx context.Context, env envelope) error {
	select {
	case m.inputs <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes inputs until ctx is cancelled. Transactions already broadcast
// are not cancelled; their late notifications are dropped.
func (m *Machine) Run(ctx context.Context) error {
	select {
	case <-m.running:
		return errors.New("session: machine already running")
	default:
		close(m.running)
	}

	m.logger.InfoContext(ctx, "session machine started", slog.Duration("cooldown", m.dwell))
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "session machine stopped")
			return ctx.Err()
		case env := <-m.inputs:
			err := m.step(ctx, env.in)
			if env.reply != nil {
				env.reply <- err
			}
		}
	}
}

func (m *Machine) step(ctx context.Context, in input) error {
	now := m.now()
	prev := m.State()

	next, eff, ignored, err := transition(prev, in, now, m.dwell)
	if err != nil {
		m.logger.WarnContext(ctx, "command rejected",
			slog.String("input", in.name()),
			slog.String("phase", string(prev.Phase())),
			slog.String("error", err.Error()),
		)
		return err
	}
	if ignored {
		m.logger.DebugContext(ctx, "input ignored",
			slog.String("input", in.name()),
			slog.String("phase", string(prev.Phase())),
		)
		return nil
	}

	m.mu.Lock()
	m.state = next
	observers := m.observers
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session transition",
		slog.String("input", in.name()),
		slog.String("from", string(prev.Phase())),
		slog.String("to", string(next.Phase())),
	)
	tr := Transition{From: prev, To: next, Cause: in.name(), At: now}
	for _, fn := range observers {
		fn(tr)
	}

	m.perform(ctx, eff)
	return nil
}

func (m *Machine) perform(ctx context.Context, eff effect) {
	switch eff.kind {
	case effectSubmitStake:
		events := m.submitter.Submit(ctx, m.encoder.EncodeStake())
		go m.pump(ctx, roleStake, eff.id, events)

	case effectSubmitClaim:
		payload, err := m.encoder.EncodeClaim(eff.height)
		if err != nil {
			go m.pump(ctx, roleClaim, eff.id, failedStream(err))
			return
		}
		events := m.submitter.Submit(ctx, payload)
		go m.pump(ctx, roleClaim, eff.id, events)

	case effectStartCooldown:
		stakeTx := eff.stakeTx
		m.afterFunc(eff.delay, func() {
			if err := m.send(ctx, envelope{in: cooldownElapsed{stakeTx: stakeTx}}); err != nil {
				m.logger.DebugContext(ctx, "cooldown signal dropped", slog.String("error", err.Error()))
			}
		})
	}
}

// pump forwards one transaction's lifecycle stream into the input channel.
func (m *Machine) pump(ctx context.Context, role txRole, id uuid.UUID, events <-chan domain.LifecycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.send(ctx, envelope{in: txUpdate{role: role, id: id, event: ev}}); err != nil {
				return
			}
		}
	}
}

func failedStream(err error) <-chan domain.LifecycleEvent {
	ch := make(chan domain.LifecycleEvent, 1)
	ch <- domain.LifecycleEvent{Kind: domain.LifecycleFailed, Err: err}
	close(ch)
	return ch
}
