package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Payload is an outbound contract call ready to be signed and broadcast.
type Payload struct {
	To    common.Address
	Data  []byte
	Value *big.Int // nil for non-payable calls
}

// LifecycleKind is the normalized progress of a submitted transaction.
type LifecycleKind string

const (
	LifecyclePending   LifecycleKind = "pending"
	LifecycleConfirmed LifecycleKind = "confirmed"
	LifecycleFailed    LifecycleKind = "failed"
)

// Receipt is the subset of a transaction receipt the client reconciles against.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Logs        []types.Log
}

// LifecycleEvent is a single normalized notification about one submitted
// transaction. Receipt is set only for LifecycleConfirmed; Err only for
// LifecycleFailed.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Receipt *Receipt
	Err     error
}

// IndexedLog is one raw record returned by the indexing API.
type IndexedLog struct {
	Topics      []common.Hash
	Data        []byte
	Timestamp   int64
	BlockNumber uint64
	TxHash      common.Hash
}
