package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ether(s string) *big.Int {
	return domain.EtherToWei(dec(s))
}

func indexed(tx string, ts int64, prize *big.Int) domain.IndexedLog {
	player := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return domain.IndexedLog{
		Topics:      []common.Hash{contract.OutcomeTopic, common.BytesToHash(player.Bytes())},
		Data:        common.LeftPadBytes(prize.Bytes(), 32),
		Timestamp:   ts,
		BlockNumber: uint64(ts),
		TxHash:      common.HexToHash(tx),
	}
}

func eventsWithAmounts(amounts ...string) []domain.OutcomeEvent {
	out := make([]domain.OutcomeEvent, len(amounts))
	for i, a := range amounts {
		out[i] = domain.OutcomeEvent{Amount: ether(a), Timestamp: int64(100 - i), TxHash: common.BigToHash(big.NewInt(int64(i + 1)))}
	}
	return out
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"0.1":    "Legendary",
		"2":      "Legendary",
		"0.04":   "Epic",
		"0.0999": "Epic",
		"0.015":  "Rare",
		"0.008":  "Uncommon",
		"0.004":  "Common",
		"0.001":  "Common",
		"0":      "Common",
	}
	for amount, want := range cases {
		require.Equal(t, want, Classify(dec(amount)).Name, amount)
	}
}

func TestFilterByTier(t *testing.T) {
	events := eventsWithAmounts("0.1", "0.04", "0.015", "0.008", "0.004")

	legendary := FilterByTier(events, "Legendary")
	require.Len(t, legendary, 1)
	require.Equal(t, "0.1", legendary[0].Ether().String())

	require.Len(t, FilterByTier(events, "All"), 5)
	require.Len(t, FilterByTier(events, "epic"), 1)
	require.Empty(t, FilterByTier(events, "Mythic"))
	require.NotNil(t, FilterByTier(events, "Mythic"))
}

func TestLookupTierAndNames(t *testing.T) {
	_, ok := LookupTier("all")
	require.True(t, ok)
	_, ok = LookupTier("nope")
	require.False(t, ok)
	require.Equal(t, []string{"All", "Legendary", "Epic", "Rare", "Uncommon", "Common"}, TierNames())
}

func TestPaginate(t *testing.T) {
	amounts := make([]string, 12)
	for i := range amounts {
		amounts[i] = "0.01"
	}
	events := eventsWithAmounts(amounts...)

	var lengths []int
	for page := 1; page <= 3; page++ {
		lengths = append(lengths, len(Paginate(events, 5, page)))
	}
	require.Equal(t, []int{5, 5, 2}, lengths)
	require.Empty(t, Paginate(events, 5, 4))
	require.Empty(t, Paginate(events, 5, 0))
	require.Empty(t, Paginate(events, 0, 1))
	require.Equal(t, events[5], Paginate(events, 5, 2)[0])
	require.Equal(t, 3, TotalPages(len(events), 5))
	require.Equal(t, 1, TotalPages(0, 5))
}

func TestPageWindow(t *testing.T) {
	require.Equal(t, []int{1, 2, 3}, PageWindow(2, 3))
	require.Equal(t, []int{1, 2, Ellipsis, 10}, PageWindow(1, 10))
	require.Equal(t, []int{1, Ellipsis, 4, 5, 6, Ellipsis, 10}, PageWindow(5, 10))
	require.Equal(t, []int{1, Ellipsis, 9, 10}, PageWindow(10, 10))
	require.Equal(t, []int{1, 2, 3, Ellipsis, 10}, PageWindow(2, 10))
	require.Empty(t, PageWindow(1, 0))
}

func TestNormalizeSortsDedupesAndCaps(t *testing.T) {
	records := []domain.IndexedLog{
		indexed("0x02", 100, ether("0.01")),
		indexed("0x01", 100, ether("0.02")),
		indexed("0x03", 300, ether("0.03")),
		{Topics: []common.Hash{common.HexToHash("0xdead")}, TxHash: common.HexToHash("0x09")},
		indexed("0x03", 300, ether("0.5")),
		indexed("0x04", 50, ether("0.04")),
	}

	events, discarded := Normalize(records, 0)
	require.Equal(t, 1, discarded)
	require.Len(t, events, 4)
	require.Equal(t, common.HexToHash("0x03"), events[0].TxHash)
	require.Equal(t, "0.03", events[0].Ether().String())
	// Equal timestamps order by ascending transaction hash.
	require.Equal(t, common.HexToHash("0x01"), events[1].TxHash)
	require.Equal(t, common.HexToHash("0x02"), events[2].TxHash)
	require.Equal(t, common.HexToHash("0x04"), events[3].TxHash)

	// The order does not depend on input order.
	reversed := make([]domain.IndexedLog, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	again, _ := Normalize(reversed, 0)
	require.Equal(t, []common.Hash{events[1].TxHash, events[2].TxHash}, []common.Hash{again[1].TxHash, again[2].TxHash})

	capped, _ := Normalize(records, 2)
	require.Len(t, capped, 2)
	require.Equal(t, int64(300), capped[0].Timestamp)
}

type fakeIndexer struct {
	mu      sync.Mutex
	records []domain.IndexedLog
	err     error
	queries []LogQuery
}

func (f *fakeIndexer) FetchLogs(_ context.Context, q LogQuery) ([]domain.IndexedLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fixedHeight uint64

func (h fixedHeight) BlockNumber(context.Context) (uint64, error) { return uint64(h), nil }

type recordingStore struct {
	domain.OutcomeStore
	batches [][]domain.OutcomeEvent
}

func (s *recordingStore) UpsertBatch(_ context.Context, events []domain.OutcomeEvent) (int64, error) {
	s.batches = append(s.batches, events)
	return int64(len(events)), nil
}

type persistedStore struct {
	domain.OutcomeStore
	events []domain.OutcomeEvent
	opts   []domain.ListOpts
}

func (s *persistedStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.OutcomeEvent, error) {
	s.opts = append(s.opts, opts)
	out := make([]domain.OutcomeEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *persistedStore) UpsertBatch(context.Context, []domain.OutcomeEvent) (int64, error) {
	return 0, nil
}

func newTestAggregator(idx LogIndexer) *Aggregator {
	cfg := Config{
		Contract:   common.HexToAddress("0xad0B9085A343be3B5273619A053Ffa5c60789173"),
		Interval:   time.Hour,
		MaxRecords: 100,
	}
	return NewAggregator(idx, fixedHeight(4242), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAggregatorRefresh(t *testing.T) {
	idx := &fakeIndexer{records: []domain.IndexedLog{indexed("0x01", 10, ether("0.1"))}}
	agg := newTestAggregator(idx)
	store := &recordingStore{}
	agg.Store = store

	require.NoError(t, agg.Refresh(context.Background()))
	require.Len(t, agg.Events(), 1)
	require.Len(t, store.batches, 1)
	require.Equal(t, contract.OutcomeTopic, idx.queries[0].Topic0)
	require.Equal(t, uint64(0), idx.queries[0].FromBlock)
	require.Equal(t, uint64(4242), idx.queries[0].ToBlock)
	require.Empty(t, agg.Status().LastError)
}

func TestAggregatorFailedFetchKeepsPreviousData(t *testing.T) {
	idx := &fakeIndexer{records: []domain.IndexedLog{
		indexed("0x01", 10, ether("0.1")),
		indexed("0x02", 20, ether("0.004")),
	}}
	agg := newTestAggregator(idx)
	require.NoError(t, agg.Refresh(context.Background()))
	before := agg.Events()

	idx.mu.Lock()
	idx.err = errors.New("connection refused")
	idx.mu.Unlock()

	err := agg.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrFetchFailed)
	require.Equal(t, before, agg.Events())
	require.Contains(t, agg.Status().LastError, "connection refused")
	require.Len(t, agg.FilterByTier("Legendary"), 1)

	idx.mu.Lock()
	idx.err = nil
	idx.mu.Unlock()
	require.NoError(t, agg.Refresh(context.Background()))
	require.NoError(t, agg.LastError())
}

func TestAggregatorRunRefreshesImmediately(t *testing.T) {
	records := make([]domain.IndexedLog, 0, 3)
	for i := 1; i <= 3; i++ {
		records = append(records, indexed(fmt.Sprintf("0x%02x", i), int64(i), ether("0.008")))
	}
	agg := newTestAggregator(&fakeIndexer{records: records})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	require.Eventually(t, func() bool { return len(agg.Events()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestAggregatorWarmsFromStore(t *testing.T) {
	idx := &fakeIndexer{err: errors.New("indexer down")}
	agg := newTestAggregator(idx)
	store := &persistedStore{events: []domain.OutcomeEvent{
		{Amount: ether("0.008"), Timestamp: 10, TxHash: common.HexToHash("0x0b")},
		{Amount: ether("0.1"), Timestamp: 20, TxHash: common.HexToHash("0x0a")},
	}}
	agg.Store = store

	require.NoError(t, agg.Warm(context.Background()))
	require.Equal(t, []domain.ListOpts{{Limit: 100}}, store.opts)

	events := agg.Events()
	require.Len(t, events, 2)
	require.Equal(t, int64(20), events[0].Timestamp)

	require.ErrorIs(t, agg.Refresh(context.Background()), domain.ErrFetchFailed)
	require.Len(t, agg.Events(), 2)
	require.Len(t, agg.FilterByTier("Legendary"), 1)
}

func TestAggregatorWarmSkippedAfterRefresh(t *testing.T) {
	idx := &fakeIndexer{records: []domain.IndexedLog{indexed("0x01", 10, ether("0.1"))}}
	agg := newTestAggregator(idx)
	agg.Store = &persistedStore{events: eventsWithAmounts("0.5", "0.2", "0.3")}

	require.NoError(t, agg.Refresh(context.Background()))
	require.NoError(t, agg.Warm(context.Background()))
	require.Len(t, agg.Events(), 1)
}

func TestFormatHelpers(t *testing.T) {
	addr := common.HexToAddress("0xc17c78C007FC5C01d796a30334fa12b025426652")
	short := ShortAddress(addr)
	require.Len(t, short, 13)
	require.Equal(t, addr.Hex()[:6], short[:6])
	require.Equal(t, addr.Hex()[38:], short[9:])

	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "just now", TimeAgo(now.Add(-30*time.Second), now))
	require.Equal(t, "1 minute ago", TimeAgo(now.Add(-90*time.Second), now))
	require.Equal(t, "3 hours ago", TimeAgo(now.Add(-3*time.Hour), now))
	require.Equal(t, "2 days ago", TimeAgo(now.Add(-49*time.Hour), now))

	require.Equal(t, "https://sepolia.basescan.org/tx/"+common.HexToHash("0x1").Hex(),
		ExplorerTxURL("https://sepolia.basescan.org/", common.HexToHash("0x1")))
}
