package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

var (
	testContract = common.HexToAddress("0xad0B9085A343be3B5273619A053Ffa5c60789173")
	testPlayer   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stakeWei     = big.NewInt(10_000_000_000_000_000)
)

func outcomeLog(player common.Address, prize *big.Int) types.Log {
	return types.Log{
		Address: testContract,
		Topics:  []common.Hash{OutcomeTopic, common.BytesToHash(player.Bytes())},
		Data:    common.LeftPadBytes(prize.Bytes(), 32),
	}
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestOutcomeTopicMatchesSignature(t *testing.T) {
	require.Equal(t, crypto.Keccak256Hash([]byte("PrizeAwarded(address,uint256)")), OutcomeTopic)
}

func TestEncodeStake(t *testing.T) {
	enc := NewEncoder(testContract, stakeWei)
	p := enc.EncodeStake()

	require.Equal(t, testContract, p.To)
	require.Equal(t, selector("buyChest()"), p.Data)
	require.Equal(t, 0, p.Value.Cmp(stakeWei))

	// Payload value must not alias the encoder's stake.
	p.Value.SetInt64(1)
	require.Equal(t, 0, enc.StakeAmount().Cmp(stakeWei))
}

func TestEncodeClaim(t *testing.T) {
	enc := NewEncoder(testContract, stakeWei)

	p, err := enc.EncodeClaim(1000)
	require.NoError(t, err)
	require.Nil(t, p.Value)
	require.Equal(t, selector("claimPrize(uint256)"), p.Data[:4])
	require.Len(t, p.Data, 4+32)
	require.Equal(t, uint64(1000), new(big.Int).SetBytes(p.Data[4:]).Uint64())

	again, err := enc.EncodeClaim(1000)
	require.NoError(t, err)
	require.Equal(t, p.Data, again.Data)
}

func TestEncodeClaimWithoutHeight(t *testing.T) {
	enc := NewEncoder(testContract, stakeWei)
	_, err := enc.EncodeClaim(0)
	require.ErrorIs(t, err, domain.ErrNoActiveStake)
}

func TestEncodeWithdraw(t *testing.T) {
	enc := NewEncoder(testContract, stakeWei)

	p, err := enc.EncodeWithdraw(big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, selector("withdraw(uint256)"), p.Data[:4])

	_, err = enc.EncodeWithdraw(nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = enc.EncodeWithdraw(big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDecodeOwner(t *testing.T) {
	owner := common.HexToAddress("0xc17c78C007FC5C01d796a30334fa12b025426652")
	got, err := DecodeOwner(common.LeftPadBytes(owner.Bytes(), 32))
	require.NoError(t, err)
	require.Equal(t, owner, got)

	_, err = DecodeOwner([]byte{0x01})
	require.Error(t, err)
}

func TestDecodeOutcomeLog(t *testing.T) {
	prize := big.NewInt(40_000_000_000_000_000)
	out, ok := DecodeOutcomeLog([]types.Log{outcomeLog(testPlayer, prize)})
	require.True(t, ok)
	require.Equal(t, testPlayer, out.Player)
	require.Equal(t, 0, out.Prize.Cmp(prize))
	require.Equal(t, "0.04", domain.FormatEther(out.Prize))
}

func TestDecodeOutcomeLogSkipsMalformedAtAnyPosition(t *testing.T) {
	prize := big.NewInt(7)
	good := outcomeLog(testPlayer, prize)

	otherTopic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	malformed := []types.Log{
		{},
		{Topics: []common.Hash{otherTopic}, Data: good.Data},
		{Topics: []common.Hash{OutcomeTopic}, Data: good.Data},
		{Topics: good.Topics, Data: []byte{0x01, 0x02}},
		{Topics: []common.Hash{OutcomeTopic, common.HexToHash("0xff00000000000000000000001111111111111111111111111111111111111111")}, Data: good.Data},
		{Topics: append(append([]common.Hash{}, good.Topics...), otherTopic), Data: good.Data},
	}

	for pos := 0; pos <= len(malformed); pos++ {
		logs := make([]types.Log, 0, len(malformed)+1)
		logs = append(logs, malformed[:pos]...)
		logs = append(logs, good)
		logs = append(logs, malformed[pos:]...)

		out, ok := DecodeOutcomeLog(logs)
		require.True(t, ok, "position %d", pos)
		require.Equal(t, testPlayer, out.Player)
		require.Equal(t, 0, out.Prize.Cmp(prize))
	}
}

func TestDecodeOutcomeLogReturnsFirstMatch(t *testing.T) {
	first := outcomeLog(testPlayer, big.NewInt(1))
	second := outcomeLog(common.HexToAddress("0x2222222222222222222222222222222222222222"), big.NewInt(2))

	out, ok := DecodeOutcomeLog([]types.Log{first, second})
	require.True(t, ok)
	require.Equal(t, int64(1), out.Prize.Int64())
}

func TestDecodeOutcomeLogNoMatch(t *testing.T) {
	_, ok := DecodeOutcomeLog(nil)
	require.False(t, ok)

	_, ok = DecodeOutcomeLog([]types.Log{{Topics: []common.Hash{OutcomeTopic}}})
	require.False(t, ok)
}

func TestLogFromIndexed(t *testing.T) {
	good := outcomeLog(testPlayer, big.NewInt(3))
	rec := domain.IndexedLog{
		Topics:      good.Topics,
		Data:        good.Data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc"),
	}
	l := LogFromIndexed(rec)
	require.Equal(t, uint64(42), l.BlockNumber)

	out, ok := DecodeOutcomeLog([]types.Log{l})
	require.True(t, ok)
	require.Equal(t, int64(3), out.Prize.Int64())
}
