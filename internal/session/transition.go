package session

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// txRole tells which transaction of the session a lifecycle event belongs to.
type txRole string

const (
	roleStake txRole = "stake"
	roleClaim txRole = "claim"
)

// input is anything the Run loop consumes.
type input interface{ name() string }

type stakeRequested struct{ id uuid.UUID }
type claimRequested struct{ id uuid.UUID }
type resetRequested struct{}

type txUpdate struct {
	role  txRole
	id    uuid.UUID
	event domain.LifecycleEvent
}

type cooldownElapsed struct{ stakeTx common.Hash }

func (stakeRequested) name() string  { return "stake_requested" }
func (claimRequested) name() string  { return "claim_requested" }
func (resetRequested) name() string  { return "reset_requested" }
func (u txUpdate) name() string      { return string(u.role) + "_" + string(u.event.Kind) }
func (cooldownElapsed) name() string { return "cooldown_elapsed" }

type effectKind int

const (
	effectNone effectKind = iota
	effectSubmitStake
	effectSubmitClaim
	effectStartCooldown
)

// effect is the side effect the Run loop performs after a transition.
type effect struct {
	kind    effectKind
	id      uuid.UUID
	height  uint64
	stakeTx common.Hash
	delay   time.Duration
}

// transition computes the next state. ignored reports an input that does not
// apply to the current state, such as a duplicate or stale lifecycle event;
// the state is then returned unchanged. err is only set for rejected user
// commands.
func transition(s State, in input, now time.Time, dwell time.Duration) (next State, eff effect, ignored bool, err error) {
	switch in := in.(type) {
	case stakeRequested:
		if _, ok := s.(Idle); !ok {
			return s, effect{}, false, fmt.Errorf("stake in phase %s: %w", s.Phase(), domain.ErrPhaseMismatch)
		}
		return StakeSubmitted{SubmissionID: in.id}, effect{kind: effectSubmitStake, id: in.id}, false, nil

	case claimRequested:
		c, ok := s.(Claimable)
		if !ok {
			return s, effect{}, false, fmt.Errorf("claim in phase %s: %w", s.Phase(), domain.ErrPhaseMismatch)
		}
		if c.Claim != nil {
			return s, effect{}, false, domain.ErrClaimInFlight
		}
		next := Claimable{Stake: c.Stake, Claim: &ClaimAttempt{SubmissionID: in.id}}
		return next, effect{kind: effectSubmitClaim, id: in.id, height: c.Stake.BlockHeight}, false, nil

	case resetRequested:
		if _, ok := s.(Resolved); !ok {
			return s, effect{}, false, fmt.Errorf("reset in phase %s: %w", s.Phase(), domain.ErrPhaseMismatch)
		}
		return Idle{}, effect{}, false, nil

	case cooldownElapsed:
		c, ok := s.(Cooldown)
		if !ok || c.Stake.TxHash != in.stakeTx {
			return s, effect{}, true, nil
		}
		return Claimable{Stake: c.Stake}, effect{}, false, nil

	case txUpdate:
		switch in.role {
		case roleStake:
			return applyStakeUpdate(s, in, now, dwell)
		case roleClaim:
			return applyClaimUpdate(s, in)
		}
	}
	return s, effect{}, true, nil
}

func applyStakeUpdate(s State, u txUpdate, now time.Time, dwell time.Duration) (State, effect, bool, error) {
	cur, ok := s.(StakeSubmitted)
	if !ok || cur.SubmissionID != u.id {
		return s, effect{}, true, nil
	}

	switch u.event.Kind {
	case domain.LifecyclePending:
		if cur.Broadcast {
			return s, effect{}, true, nil
		}
		return StakeSubmitted{SubmissionID: cur.SubmissionID, Broadcast: true}, effect{}, false, nil
	case domain.LifecycleConfirmed:
		if u.event.Receipt == nil {
			return Idle{Condition: ConditionStakeFailed, Detail: "confirmation carried no receipt"}, effect{}, false, nil
		}
		// A claim needs the stake's block height; zero cannot be claimed.
		if u.event.Receipt.BlockNumber == 0 {
			return Idle{Condition: ConditionStakeFailed, Detail: "confirmation carried no block height"}, effect{}, false, nil
		}
		stake := Stake{TxHash: u.event.Receipt.TxHash, BlockHeight: u.event.Receipt.BlockNumber}
		next := Cooldown{Stake: stake, Until: now.Add(dwell)}
		return next, effect{kind: effectStartCooldown, stakeTx: stake.TxHash, delay: dwell}, false, nil
	case domain.LifecycleFailed:
		return Idle{Condition: ConditionStakeFailed, Detail: errDetail(u.event.Err)}, effect{}, false, nil
	}
	return s, effect{}, true, nil
}

func applyClaimUpdate(s State, u txUpdate) (State, effect, bool, error) {
	cur, ok := s.(Claimable)
	if !ok || cur.Claim == nil || cur.Claim.SubmissionID != u.id {
		return s, effect{}, true, nil
	}

	switch u.event.Kind {
	case domain.LifecyclePending:
		if cur.Claim.Broadcast {
			return s, effect{}, true, nil
		}
		return Claimable{Stake: cur.Stake, Claim: &ClaimAttempt{SubmissionID: u.id, Broadcast: true}}, effect{}, false, nil
	case domain.LifecycleConfirmed:
		if u.event.Receipt != nil {
			if outcome, found := contract.DecodeOutcomeLog(u.event.Receipt.Logs); found {
				return Resolved{Stake: cur.Stake, ClaimTxHash: u.event.Receipt.TxHash, Outcome: outcome}, effect{}, false, nil
			}
		}
		return Claimable{
			Stake:     cur.Stake,
			Condition: ConditionOutcomeNotObservable,
			Detail:    domain.ErrDecodeMismatch.Error(),
		}, effect{}, false, nil
	case domain.LifecycleFailed:
		return Claimable{Stake: cur.Stake, Condition: ConditionClaimFailed, Detail: errDetail(u.event.Err)}, effect{}, false, nil
	}
	return s, effect{}, true, nil
}

func errDetail(err error) string {
	if err == nil {
		return domain.ErrTransactionFailed.Error()
	}
	return err.Error()
}
