package session

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

const dwell = 15 * time.Second

var (
	t0       = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	stakeTx  = common.HexToHash("0x5a")
	claimTx  = common.HexToHash("0xc1")
	player   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	prize004 = big.NewInt(40000000000000000)
)

func prizeLog(p common.Address, prize *big.Int) types.Log {
	return types.Log{
		Topics: []common.Hash{contract.OutcomeTopic, common.BytesToHash(p.Bytes())},
		Data:   common.LeftPadBytes(prize.Bytes(), 32),
	}
}

func confirmed(tx common.Hash, height uint64, logs ...types.Log) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		Kind:    domain.LifecycleConfirmed,
		Receipt: &domain.Receipt{TxHash: tx, BlockNumber: height, Logs: logs},
	}
}

func pending() domain.LifecycleEvent {
	return domain.LifecycleEvent{Kind: domain.LifecyclePending}
}

func failedEvent(msg string) domain.LifecycleEvent {
	return domain.LifecycleEvent{Kind: domain.LifecycleFailed, Err: errors.New(msg)}
}

func apply(t *testing.T, s State, in input) State {
	t.Helper()
	next, _, _, err := transition(s, in, t0, dwell)
	require.NoError(t, err)
	return next
}

// assertFieldInvariants checks that the stake height and outcome are present
// exactly in the phases that allow them.
func assertFieldInvariants(t *testing.T, s State) {
	t.Helper()
	_, hasStake := StakeOf(s)
	_, hasOutcome := OutcomeOf(s)
	switch s.Phase() {
	case PhaseCooldown, PhaseClaimable:
		require.True(t, hasStake)
		require.False(t, hasOutcome)
	case PhaseResolved:
		require.True(t, hasStake)
		require.True(t, hasOutcome)
	default:
		require.False(t, hasStake)
		require.False(t, hasOutcome)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	stakeID, claimID := uuid.New(), uuid.New()

	s, eff, _, err := transition(Idle{}, stakeRequested{id: stakeID}, t0, dwell)
	require.NoError(t, err)
	require.Equal(t, PhaseStakeSubmitted, s.Phase())
	require.Equal(t, effectSubmitStake, eff.kind)
	assertFieldInvariants(t, s)

	s = apply(t, s, txUpdate{role: roleStake, id: stakeID, event: pending()})
	require.True(t, s.(StakeSubmitted).Broadcast)

	s, eff, _, err = transition(s, txUpdate{role: roleStake, id: stakeID, event: confirmed(stakeTx, 1000)}, t0, dwell)
	require.NoError(t, err)
	require.Equal(t, PhaseCooldown, s.Phase())
	require.Equal(t, effectStartCooldown, eff.kind)
	require.Equal(t, dwell, eff.delay)
	require.Equal(t, t0.Add(dwell), s.(Cooldown).Until)
	stake, _ := StakeOf(s)
	require.Equal(t, uint64(1000), stake.BlockHeight)
	require.Equal(t, stakeTx, stake.TxHash)
	assertFieldInvariants(t, s)

	s = apply(t, s, cooldownElapsed{stakeTx: stakeTx})
	require.Equal(t, PhaseClaimable, s.Phase())
	assertFieldInvariants(t, s)

	s, eff, _, err = transition(s, claimRequested{id: claimID}, t0, dwell)
	require.NoError(t, err)
	require.Equal(t, effectSubmitClaim, eff.kind)
	require.Equal(t, uint64(1000), eff.height)
	require.NotNil(t, s.(Claimable).Claim)

	s = apply(t, s, txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 1010, prizeLog(player, prize004))})
	require.Equal(t, PhaseResolved, s.Phase())
	assertFieldInvariants(t, s)
	outcome, _ := OutcomeOf(s)
	require.Equal(t, player, outcome.Player)
	require.Equal(t, "0.04", domain.FormatEther(outcome.Prize))
	require.Equal(t, claimTx, s.(Resolved).ClaimTxHash)

	s = apply(t, s, resetRequested{})
	require.Equal(t, Idle{}, s)
}

func TestTransitionStakeFailedReturnsToIdle(t *testing.T) {
	id := uuid.New()
	s := apply(t, Idle{}, stakeRequested{id: id})
	s = apply(t, s, txUpdate{role: roleStake, id: id, event: failedEvent("rejected")})

	idle, ok := s.(Idle)
	require.True(t, ok)
	require.Equal(t, ConditionStakeFailed, idle.Condition)
	assertFieldInvariants(t, s)
}

func TestTransitionStakeWithoutHeightReturnsToIdle(t *testing.T) {
	id := uuid.New()
	s := apply(t, Idle{}, stakeRequested{id: id})

	next, eff, ignored, err := transition(s, txUpdate{role: roleStake, id: id, event: confirmed(stakeTx, 0)}, t0, dwell)
	require.NoError(t, err)
	require.False(t, ignored)
	require.Equal(t, effectNone, eff.kind)

	idle, ok := next.(Idle)
	require.True(t, ok)
	require.Equal(t, ConditionStakeFailed, idle.Condition)
	require.Contains(t, idle.Detail, "block height")
	assertFieldInvariants(t, next)
}

func TestTransitionDuplicateConfirmedIgnored(t *testing.T) {
	id := uuid.New()
	s := apply(t, Idle{}, stakeRequested{id: id})
	s = apply(t, s, txUpdate{role: roleStake, id: id, event: confirmed(stakeTx, 1000)})

	next, eff, ignored, err := transition(s, txUpdate{role: roleStake, id: id, event: confirmed(stakeTx, 2000)}, t0.Add(time.Second), dwell)
	require.NoError(t, err)
	require.True(t, ignored)
	require.Equal(t, effectNone, eff.kind)
	require.Equal(t, s, next)
}

func TestTransitionStaleSubmissionIgnored(t *testing.T) {
	id := uuid.New()
	s := apply(t, Idle{}, stakeRequested{id: id})

	_, _, ignored, err := transition(s, txUpdate{role: roleStake, id: uuid.New(), event: confirmed(stakeTx, 1)}, t0, dwell)
	require.NoError(t, err)
	require.True(t, ignored)

	_, _, ignored, _ = transition(s, txUpdate{role: roleClaim, id: id, event: confirmed(claimTx, 1)}, t0, dwell)
	require.True(t, ignored)

	_, _, ignored, _ = transition(Cooldown{Stake: Stake{TxHash: stakeTx, BlockHeight: 1}}, cooldownElapsed{stakeTx: claimTx}, t0, dwell)
	require.True(t, ignored)
}

func TestTransitionRejectsCommandsOutOfPhase(t *testing.T) {
	cool := Cooldown{Stake: Stake{TxHash: stakeTx, BlockHeight: 5}}

	_, _, _, err := transition(cool, stakeRequested{id: uuid.New()}, t0, dwell)
	require.ErrorIs(t, err, domain.ErrPhaseMismatch)

	_, _, _, err = transition(cool, claimRequested{id: uuid.New()}, t0, dwell)
	require.ErrorIs(t, err, domain.ErrPhaseMismatch)

	_, _, _, err = transition(Idle{}, resetRequested{}, t0, dwell)
	require.ErrorIs(t, err, domain.ErrPhaseMismatch)

	inFlight := Claimable{Stake: cool.Stake, Claim: &ClaimAttempt{SubmissionID: uuid.New()}}
	_, _, _, err = transition(inFlight, claimRequested{id: uuid.New()}, t0, dwell)
	require.ErrorIs(t, err, domain.ErrClaimInFlight)
}

func TestTransitionClaimUndecodableStaysClaimable(t *testing.T) {
	id := uuid.New()
	stake := Stake{TxHash: stakeTx, BlockHeight: 1000}
	s := apply(t, Claimable{Stake: stake}, claimRequested{id: id})

	junk := types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}
	s = apply(t, s, txUpdate{role: roleClaim, id: id, event: confirmed(claimTx, 1001, junk)})

	c, ok := s.(Claimable)
	require.True(t, ok)
	require.Nil(t, c.Claim)
	require.Equal(t, ConditionOutcomeNotObservable, c.Condition)
	require.Equal(t, stake, c.Stake)
	assertFieldInvariants(t, s)

	// Retrying against the same stake height is allowed.
	_, eff, _, err := transition(s, claimRequested{id: uuid.New()}, t0, dwell)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), eff.height)
}

func TestTransitionClaimFailedKeepsStake(t *testing.T) {
	id := uuid.New()
	stake := Stake{TxHash: stakeTx, BlockHeight: 77}
	s := apply(t, Claimable{Stake: stake}, claimRequested{id: id})
	s = apply(t, s, txUpdate{role: roleClaim, id: id, event: failedEvent("out of gas")})

	c := s.(Claimable)
	require.Equal(t, ConditionClaimFailed, c.Condition)
	require.Equal(t, stake, c.Stake)
	require.Contains(t, c.Detail, "out of gas")
}

func TestTransitionNeverSetsFieldsOutOfPhase(t *testing.T) {
	stakeID, claimID := uuid.New(), uuid.New()
	events := []input{
		txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 9, prizeLog(player, prize004))},
		stakeRequested{id: stakeID},
		txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 9, prizeLog(player, prize004))},
		txUpdate{role: roleStake, id: stakeID, event: pending()},
		txUpdate{role: roleStake, id: stakeID, event: pending()},
		txUpdate{role: roleStake, id: stakeID, event: confirmed(stakeTx, 10)},
		txUpdate{role: roleStake, id: stakeID, event: failedEvent("late")},
		claimRequested{id: claimID},
		cooldownElapsed{stakeTx: stakeTx},
		txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 11, prizeLog(player, prize004))},
		claimRequested{id: claimID},
		txUpdate{role: roleClaim, id: claimID, event: pending()},
		txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 12, prizeLog(player, prize004))},
		txUpdate{role: roleClaim, id: claimID, event: confirmed(claimTx, 13, prizeLog(player, big.NewInt(1)))},
	}

	var s State = Idle{}
	for _, in := range events {
		prev := s
		s, _, _, _ = transition(s, in, t0, dwell)
		assertFieldInvariants(t, s)
		if _, had := OutcomeOf(prev); !had {
			if _, has := OutcomeOf(s); has {
				require.Equal(t, PhaseResolved, s.Phase())
			}
		}
	}
	require.Equal(t, PhaseResolved, s.Phase())
	outcome, _ := OutcomeOf(s)
	require.Zero(t, prize004.Cmp(outcome.Prize))
}

func TestDescribe(t *testing.T) {
	snap := Describe(Cooldown{Stake: Stake{TxHash: stakeTx, BlockHeight: 1000}, Until: t0.Add(10 * time.Second)}, t0)
	require.Equal(t, PhaseCooldown, snap.Phase)
	require.NotNil(t, snap.StakeBlockHeight)
	require.Equal(t, uint64(1000), *snap.StakeBlockHeight)
	require.InDelta(t, 10.0, snap.CooldownLeftSec, 0.001)
	require.Empty(t, snap.OutcomeEther)

	snap = Describe(Resolved{Stake: Stake{TxHash: stakeTx, BlockHeight: 1}, ClaimTxHash: claimTx, Outcome: domain.Outcome{Player: player, Prize: prize004}}, t0)
	require.Equal(t, "0.04", snap.OutcomeEther)
	require.Equal(t, "40000000000000000", snap.OutcomeWei)

	idle := Describe(Idle{}, t0)
	failed := Describe(Idle{Condition: ConditionStakeFailed}, t0)
	require.Nil(t, idle.StakeBlockHeight)
	require.NotEqual(t, idle.Status, failed.Status)

	notObservable := StatusMessage(Claimable{Condition: ConditionOutcomeNotObservable})
	claimFailed := StatusMessage(Claimable{Condition: ConditionClaimFailed})
	require.NotEqual(t, notObservable, claimFailed)
}
