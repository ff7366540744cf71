package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/notify"
)

var (
	owner    = common.HexToAddress("0xc17c78C007FC5C01d796a30334fa12b025426652")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	chest    = common.HexToAddress("0xad0B9085A343be3B5273619A053Ffa5c60789173")
)

type fakeLedger struct {
	balance *big.Int
	owner   common.Address
	reads   int
}

func (f *fakeLedger) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.reads++
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeLedger) Owner(context.Context) (common.Address, error) { return f.owner, nil }

type scriptedSubmitter struct {
	event    domain.LifecycleEvent
	payloads []domain.Payload
	onSubmit func()
}

func (s *scriptedSubmitter) Submit(_ context.Context, p domain.Payload) <-chan domain.LifecycleEvent {
	s.payloads = append(s.payloads, p)
	if s.onSubmit != nil {
		s.onSubmit()
	}
	ch := make(chan domain.LifecycleEvent, 2)
	ch <- domain.LifecycleEvent{Kind: domain.LifecyclePending}
	ch <- s.event
	close(ch)
	return ch
}

// gatedSubmitter reports pending at once and holds the terminal event until
// release is closed. Cancelling the submit context drops the terminal event.
type gatedSubmitter struct {
	event    domain.LifecycleEvent
	release  chan struct{}
	onSubmit func()
}

func (s *gatedSubmitter) Submit(ctx context.Context, _ domain.Payload) <-chan domain.LifecycleEvent {
	ch := make(chan domain.LifecycleEvent, 2)
	go func() {
		defer close(ch)
		ch <- domain.LifecycleEvent{Kind: domain.LifecyclePending}
		select {
		case <-s.release:
			ch <- s.event
		case <-ctx.Done():
		}
	}()
	if s.onSubmit != nil {
		s.onSubmit()
	}
	return ch
}

type memAudit struct {
	domain.AuditStore
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

type recordingAlerter struct {
	alerts []notify.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type chanAlerter chan notify.Alert

func (c chanAlerter) Send(_ context.Context, a notify.Alert) error {
	c <- a
	return nil
}

func newTreasury(identity common.Address, ledger *fakeLedger, sub Submitter) *Treasury {
	enc := contract.NewEncoder(chest, big.NewInt(1e16))
	return NewTreasury(NewGate(owner), identity, enc, sub, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGateIsPrivileged(t *testing.T) {
	g := NewGate(owner)
	require.True(t, g.IsPrivileged("0xc17c78C007FC5C01d796a30334fa12b025426652"))
	require.True(t, g.IsPrivileged("0xC17C78C007FC5C01D796A30334FA12B025426652"))
	require.True(t, g.IsPrivileged(" 0xc17c78c007fc5c01d796a30334fa12b025426652 "))
	require.False(t, g.IsPrivileged(stranger.Hex()))
	require.False(t, g.IsPrivileged(""))
}

func TestTreasuryRejectsUnprivileged(t *testing.T) {
	tr := newTreasury(stranger, &fakeLedger{balance: big.NewInt(1)}, &scriptedSubmitter{})
	require.False(t, tr.Privileged())

	_, err := tr.FetchBalance(context.Background())
	require.ErrorIs(t, err, domain.ErrNotPrivileged)
	_, err = tr.Withdraw(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrNotPrivileged)
}

func TestTreasuryFetchBalance(t *testing.T) {
	tr := newTreasury(owner, &fakeLedger{balance: big.NewInt(25e15)}, &scriptedSubmitter{})
	_, cached := tr.CachedBalance()
	require.False(t, cached)

	view, err := tr.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.025", view.Ether)

	view, cached = tr.CachedBalance()
	require.True(t, cached)
	require.Equal(t, "25000000000000000", view.Wei)
}

func TestTreasuryWithdrawRefreshesBalance(t *testing.T) {
	ledger := &fakeLedger{balance: big.NewInt(5e16)}
	sub := &scriptedSubmitter{
		event: domain.LifecycleEvent{Kind: domain.LifecycleConfirmed, Receipt: &domain.Receipt{TxHash: common.HexToHash("0x77"), BlockNumber: 9}},
	}
	sub.onSubmit = func() { ledger.balance = big.NewInt(0) }
	tr := newTreasury(owner, ledger, sub)
	audit := &memAudit{}
	tr.Audit = audit

	receipt, err := tr.Withdraw(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x77"), receipt.TxHash)

	require.Len(t, sub.payloads, 1)
	require.Equal(t, chest, sub.payloads[0].To)
	require.Equal(t, []string{"withdrawal"}, audit.events)

	view, _ := tr.CachedBalance()
	require.Equal(t, "0", view.Ether)
	require.Equal(t, 2, ledger.reads)
}

func TestTreasuryWithdrawFailure(t *testing.T) {
	sub := &scriptedSubmitter{event: domain.LifecycleEvent{
		Kind: domain.LifecycleFailed,
		Err:  errors.Join(domain.ErrTransactionFailed, errors.New("reverted")),
	}}
	tr := newTreasury(owner, &fakeLedger{balance: big.NewInt(1)}, sub)
	alerts := &recordingAlerter{}
	tr.Alerts = alerts

	_, err := tr.Withdraw(context.Background(), big.NewInt(1e15))
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	require.Len(t, alerts.alerts, 1)
	require.Equal(t, notify.EventWithdrawal, alerts.alerts[0].Event)
	require.Equal(t, "Treasury withdrawal failed", alerts.alerts[0].Title)
	require.Contains(t, alerts.alerts[0].Message, "0.001")

	_, err = tr.Withdraw(context.Background(), big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTreasuryWithdrawOutlivesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &gatedSubmitter{
		event:    domain.LifecycleEvent{Kind: domain.LifecycleConfirmed, Receipt: &domain.Receipt{TxHash: common.HexToHash("0x78"), BlockNumber: 11}},
		release:  make(chan struct{}),
		onSubmit: cancel,
	}
	tr := newTreasury(owner, &fakeLedger{balance: big.NewInt(1e16)}, sub)
	audit := &memAudit{}
	alerts := make(chanAlerter, 1)
	tr.Audit = audit
	tr.Alerts = alerts

	_, err := tr.Withdraw(ctx, big.NewInt(1e16))
	require.ErrorIs(t, err, context.Canceled)

	_, err = tr.Withdraw(context.Background(), big.NewInt(1e16))
	require.ErrorIs(t, err, domain.ErrWithdrawInFlight)

	close(sub.release)
	select {
	case a := <-alerts:
		require.Equal(t, "Treasury withdrawal confirmed", a.Title)
		require.Contains(t, a.Message, "0.01")
	case <-time.After(2 * time.Second):
		t.Fatal("withdrawal never reached a terminal event")
	}
	require.Equal(t, []string{"withdrawal"}, audit.events)

	require.Eventually(t, func() bool {
		_, err := tr.Withdraw(context.Background(), big.NewInt(0))
		return errors.Is(err, domain.ErrInvalidAmount)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTreasuryVerifyOwner(t *testing.T) {
	tr := newTreasury(owner, &fakeLedger{owner: owner}, &scriptedSubmitter{})
	ok, err := tr.VerifyOwner(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	tr = newTreasury(owner, &fakeLedger{owner: stranger}, &scriptedSubmitter{})
	ok, err = tr.VerifyOwner(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
