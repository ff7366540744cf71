package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// weiExp is the decimal exponent between wei and ether.
const weiExp = -18

// Outcome is the decoded payload of a PrizeAwarded log.
type Outcome struct {
	Player common.Address
	Prize  *big.Int // wei
}

// OutcomeEvent is one historical prize award. TxHash is its unique key.
type OutcomeEvent struct {
	Player      common.Address
	Amount      *big.Int // wei
	Timestamp   int64    // seconds since epoch
	BlockNumber uint64
	TxHash      common.Hash
}

// Ether returns the amount in ether.
func (e OutcomeEvent) Ether() decimal.Decimal {
	return WeiToEther(e.Amount)
}

// Time returns the event timestamp as a UTC time.
func (e OutcomeEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// WeiToEther converts a wei amount to an exact ether decimal. A nil amount is zero.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, weiExp)
}

// EtherToWei converts an ether decimal to wei, truncating anything below one wei.
func EtherToWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(-weiExp).Truncate(0).BigInt()
}

// FormatEther renders a wei amount as a plain ether string, e.g. "0.04".
func FormatEther(wei *big.Int) string {
	return WeiToEther(wei).String()
}

// ListOpts controls pagination for store queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OutcomeStore persists decoded outcome events.
type OutcomeStore interface {
	UpsertBatch(ctx context.Context, events []OutcomeEvent) (int64, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]OutcomeEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]OutcomeEvent, error)
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records session transitions and owner actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
