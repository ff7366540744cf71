package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// Event types accepted by the notify.events filter.
const (
	EventOutcomeResolved      = "outcome_resolved"
	EventStakeFailed          = "stake_failed"
	EventClaimFailed          = "claim_failed"
	EventOutcomeNotObservable = "outcome_not_observable"
	EventWithdrawal           = "withdrawal"
	EventHistoryFetchFailed   = "history_fetch_failed"
)

// Alert is a rendered notification tagged with its event type.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// OutcomeResolved announces a decoded prize.
func OutcomeResolved(o domain.Outcome, claimTx string, explorerTxURL string) Alert {
	lines := []string{
		fmt.Sprintf("Player: %s", o.Player.Hex()),
		fmt.Sprintf("Prize: %s ETH", domain.FormatEther(o.Prize)),
	}
	if explorerTxURL != "" {
		lines = append(lines, explorerTxURL)
	} else if claimTx != "" {
		lines = append(lines, "Tx: "+claimTx)
	}
	return Alert{Event: EventOutcomeResolved, Title: "Chest opened", Message: strings.Join(lines, "\n")}
}

// TransactionFailed reports a failed stake or claim.
func TransactionFailed(event, call, detail string) Alert {
	return Alert{
		Event:   event,
		Title:   fmt.Sprintf("%s transaction failed", call),
		Message: detail,
	}
}

// OutcomeNotObservable reports a confirmed claim whose prize log was missing.
func OutcomeNotObservable(stakeBlock uint64) Alert {
	return Alert{
		Event:   EventOutcomeNotObservable,
		Title:   "Prize not yet observable",
		Message: fmt.Sprintf("Claim confirmed without a prize event for the stake at block %d; the claim can be retried.", stakeBlock),
	}
}

// Withdrawal reports an owner withdrawal result.
func Withdrawal(amountEther, result string) Alert {
	return Alert{
		Event:   EventWithdrawal,
		Title:   "Treasury withdrawal " + result,
		Message: fmt.Sprintf("Amount: %s ETH", amountEther),
	}
}
