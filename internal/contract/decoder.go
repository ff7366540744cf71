package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// DecodeOutcomeLog scans logs in order and returns the first entry that
// decodes as the outcome event. Entries that do not match or fail structural
// decoding are skipped. ok is false when nothing matched.
func DecodeOutcomeLog(logs []types.Log) (outcome domain.Outcome, ok bool) {
	for i := range logs {
		out, err := decodeOutcome(&logs[i])
		if err != nil {
			continue
		}
		return out, true
	}
	return domain.Outcome{}, false
}

// LogFromIndexed converts an indexing API record into the log shape the
// decoder consumes.
func LogFromIndexed(rec domain.IndexedLog) types.Log {
	return types.Log{
		Topics:      rec.Topics,
		Data:        rec.Data,
		BlockNumber: rec.BlockNumber,
		TxHash:      rec.TxHash,
	}
}

func decodeOutcome(l *types.Log) (domain.Outcome, error) {
	ev := Schema.Events[EventOutcome]
	// topic0 plus one indexed address.
	if len(l.Topics) != 2 || l.Topics[0] != ev.ID {
		return domain.Outcome{}, domain.ErrDecodeMismatch
	}
	vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %v", domain.ErrDecodeMismatch, err)
	}
	if len(vals) != 1 {
		return domain.Outcome{}, domain.ErrDecodeMismatch
	}
	prize, ok := vals[0].(*big.Int)
	if !ok {
		return domain.Outcome{}, domain.ErrDecodeMismatch
	}
	// An address topic is left-padded; anything in the pad means the entry
	// was not produced by the expected event.
	topic := l.Topics[1].Bytes()
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return domain.Outcome{}, domain.ErrDecodeMismatch
		}
	}
	return domain.Outcome{
		Player: common.BytesToAddress(topic),
		Prize:  prize,
	}, nil
}
