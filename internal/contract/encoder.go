package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// Encoder builds outbound call payloads against the fixed contract. It holds
// no mutable state and is safe for concurrent use.
type Encoder struct {
	address common.Address
	stake   *big.Int
}

// NewEncoder creates an Encoder for the contract at address that attaches
// stakeWei as value to every stake call.
func NewEncoder(address common.Address, stakeWei *big.Int) *Encoder {
	return &Encoder{
		address: address,
		stake:   new(big.Int).Set(stakeWei),
	}
}

// Address returns the contract address calls are built against.
func (e *Encoder) Address() common.Address {
	return e.address
}

// StakeAmount returns a copy of the fixed stake in wei.
func (e *Encoder) StakeAmount() *big.Int {
	return new(big.Int).Set(e.stake)
}

// EncodeStake builds the payable commit-stake call.
func (e *Encoder) EncodeStake() domain.Payload {
	return domain.Payload{
		To:    e.address,
		Data:  mustPack(MethodStake),
		Value: new(big.Int).Set(e.stake),
	}
}

// EncodeClaim builds the claim call for the stake confirmed at
// stakeBlockHeight. A zero height means no stake has been recorded.
func (e *Encoder) EncodeClaim(stakeBlockHeight uint64) (domain.Payload, error) {
	if stakeBlockHeight == 0 {
		return domain.Payload{}, fmt.Errorf("contract: encode claim: %w", domain.ErrNoActiveStake)
	}
	return domain.Payload{
		To:   e.address,
		Data: mustPack(MethodClaim, new(big.Int).SetUint64(stakeBlockHeight)),
	}, nil
}

// EncodeWithdraw builds the owner-only withdraw call for amountWei.
func (e *Encoder) EncodeWithdraw(amountWei *big.Int) (domain.Payload, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return domain.Payload{}, fmt.Errorf("contract: encode withdraw: %w", domain.ErrInvalidAmount)
	}
	return domain.Payload{
		To:   e.address,
		Data: mustPack(MethodWithdraw, new(big.Int).Set(amountWei)),
	}, nil
}

// EncodeOwner builds the read-only owner() call data.
func (e *Encoder) EncodeOwner() domain.Payload {
	return domain.Payload{
		To:   e.address,
		Data: mustPack(MethodOwner),
	}
}

// DecodeOwner unpacks the return data of owner().
func DecodeOwner(ret []byte) (common.Address, error) {
	out, err := Schema.Unpack(MethodOwner, ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: decode owner: %w", err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("contract: decode owner: %d values", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("contract: decode owner: unexpected type %T", out[0])
	}
	return addr, nil
}

// mustPack packs a call whose method and argument types are fixed by Schema;
// a failure here is a programming error in this package.
func mustPack(method string, args ...any) []byte {
	data, err := Schema.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("contract: pack %s: %v", method, err))
	}
	return data
}
