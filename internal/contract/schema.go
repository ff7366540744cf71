// Package contract holds the closed call schema of the treasure chest ledger
// contract together with the call encoder and outcome log decoder built on it.
// Both sides read method and event signatures from the single Schema value, so
// a signature change is made in exactly one place.
package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Entry-point and event names on the remote contract.
const (
	MethodStake    = "buyChest"
	MethodClaim    = "claimPrize"
	MethodWithdraw = "withdraw"
	MethodOwner    = "owner"
	EventOutcome   = "PrizeAwarded"
)

// chestABI is the fixed external interface description.
const chestABI = `[
	{"type":"function","name":"buyChest","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"claimPrize","stateMutability":"nonpayable",
	 "inputs":[{"name":"purchaseBlockNumber","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"PrizeAwarded","anonymous":false,"inputs":[
	 {"indexed":true,"name":"player","type":"address"},
	 {"indexed":false,"name":"prize","type":"uint256"}]}
]`

// Schema is the parsed call interface shared by the encoder and the decoder.
var Schema = mustParse(chestABI)

// OutcomeTopic is topic0 of the outcome event,
// keccak256("PrizeAwarded(address,uint256)").
var OutcomeTopic common.Hash = Schema.Events[EventOutcome].ID

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contract: parse abi: %v", err))
	}
	return parsed
}
