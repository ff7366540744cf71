// Package session owns the single live wager session: stake, cooldown, claim
// and resolution. All mutation happens inside Machine.Run.
package session

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// Phase names the externally visible step of a session.
type Phase string

const (
	PhaseIdle           Phase = "Idle"
	PhaseStakeSubmitted Phase = "StakeSubmitted"
	PhaseCooldown       Phase = "Cooldown"
	PhaseClaimable      Phase = "Claimable"
	PhaseResolved       Phase = "Resolved"
)

// Condition is a recoverable problem surfaced alongside a phase.
type Condition string

const (
	ConditionNone                 Condition = ""
	ConditionStakeFailed          Condition = "stake_failed"
	ConditionClaimFailed          Condition = "claim_failed"
	ConditionOutcomeNotObservable Condition = "outcome_not_observable"
)

// State is one variant of the session. Each variant carries only the fields
// valid in its phase.
type State interface {
	Phase() Phase
	isState()
}

// Stake identifies a confirmed stake transaction.
type Stake struct {
	TxHash      common.Hash
	BlockHeight uint64
}

// Idle is the initial phase. Condition records why a previous stake was
// abandoned, if it was.
type Idle struct {
	Condition Condition
	Detail    string
}

// StakeSubmitted waits for the stake transaction's terminal lifecycle event.
type StakeSubmitted struct {
	SubmissionID uuid.UUID
	Broadcast    bool // a pending notification has been seen
}

// Cooldown waits out the fixed dwell time after stake confirmation.
type Cooldown struct {
	Stake Stake
	Until time.Time
}

// ClaimAttempt is a claim transaction in flight.
type ClaimAttempt struct {
	SubmissionID uuid.UUID
	Broadcast    bool
}

// Claimable allows a claim. Claim is non-nil while one is in flight.
type Claimable struct {
	Stake     Stake
	Claim     *ClaimAttempt
	Condition Condition
	Detail    string
}

// Resolved holds the decoded outcome of the claim.
type Resolved struct {
	Stake       Stake
	ClaimTxHash common.Hash
	Outcome     domain.Outcome
}

func (Idle) Phase() Phase           { return PhaseIdle }
func (StakeSubmitted) Phase() Phase { return PhaseStakeSubmitted }
func (Cooldown) Phase() Phase       { return PhaseCooldown }
func (Claimable) Phase() Phase      { return PhaseClaimable }
func (Resolved) Phase() Phase       { return PhaseResolved }

func (Idle) isState()           {}
func (StakeSubmitted) isState() {}
func (Cooldown) isState()       {}
func (Claimable) isState()      {}
func (Resolved) isState()       {}

// StakeOf returns the recorded stake, present only from Cooldown onwards.
func StakeOf(s State) (Stake, bool) {
	switch v := s.(type) {
	case Cooldown:
		return v.Stake, true
	case Claimable:
		return v.Stake, true
	case Resolved:
		return v.Stake, true
	default:
		return Stake{}, false
	}
}

// OutcomeOf returns the decoded prize, present only in Resolved.
func OutcomeOf(s State) (domain.Outcome, bool) {
	if v, ok := s.(Resolved); ok {
		return v.Outcome, true
	}
	return domain.Outcome{}, false
}

// Snapshot is the flattened, JSON-friendly view of a session.
type Snapshot struct {
	Phase            Phase      `json:"phase"`
	Status           string     `json:"status"`
	Condition        Condition  `json:"condition,omitempty"`
	Detail           string     `json:"detail,omitempty"`
	StakeTxHash      string     `json:"stakeTxHash,omitempty"`
	StakeBlockHeight *uint64    `json:"stakeBlockHeight,omitempty"`
	CooldownUntil    *time.Time `json:"cooldownUntil,omitempty"`
	CooldownLeftSec  float64    `json:"cooldownLeftSec,omitempty"`
	ClaimInFlight    bool       `json:"claimInFlight"`
	ClaimTxHash      string     `json:"claimTxHash,omitempty"`
	Player           string     `json:"player,omitempty"`
	OutcomeWei       string     `json:"outcomeWei,omitempty"`
	OutcomeEther     string     `json:"outcomeEther,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Describe renders s as a Snapshot at time now.
func Describe(s State, now time.Time) Snapshot {
	snap := Snapshot{Phase: s.Phase(), Status: StatusMessage(s), UpdatedAt: now.UTC()}
	if stake, ok := StakeOf(s); ok {
		h := stake.BlockHeight
		snap.StakeTxHash = stake.TxHash.Hex()
		snap.StakeBlockHeight = &h
	}

	switch v := s.(type) {
	case Idle:
		snap.Condition, snap.Detail = v.Condition, v.Detail
	case Cooldown:
		until := v.Until.UTC()
		snap.CooldownUntil = &until
		if left := v.Until.Sub(now); left > 0 {
			snap.CooldownLeftSec = left.Seconds()
		}
	case Claimable:
		snap.Condition, snap.Detail = v.Condition, v.Detail
		snap.ClaimInFlight = v.Claim != nil
	case Resolved:
		snap.ClaimTxHash = v.ClaimTxHash.Hex()
		snap.Player = v.Outcome.Player.Hex()
		prize := v.Outcome.Prize
		if prize == nil {
			prize = new(big.Int)
		}
		snap.OutcomeWei = prize.String()
		snap.OutcomeEther = domain.FormatEther(prize)
	}
	return snap
}

// StatusMessage is the human-readable line shown for s. Each recoverable
// condition has its own message.
func StatusMessage(s State) string {
	switch v := s.(type) {
	case Idle:
		if v.Condition == ConditionStakeFailed {
			return "Stake transaction failed. No chest was opened; you can try again."
		}
		return "Ready to buy a chest."
	case StakeSubmitted:
		if v.Broadcast {
			return "Stake transaction pending confirmation."
		}
		return "Submitting stake transaction."
	case Cooldown:
		return "Stake confirmed. Waiting for the cooldown before the chest can be opened."
	case Claimable:
		switch {
		case v.Claim != nil && v.Claim.Broadcast:
			return "Claim transaction pending confirmation."
		case v.Claim != nil:
			return "Submitting claim transaction."
		case v.Condition == ConditionClaimFailed:
			return "Claim transaction failed. Your stake is safe; you can claim again."
		case v.Condition == ConditionOutcomeNotObservable:
			return "Claim confirmed but the prize is not yet observable. You can claim again."
		}
		return "Chest ready to open."
	case Resolved:
		return "Chest opened. You won " + domain.FormatEther(v.Outcome.Prize) + " ETH."
	}
	return ""
}
