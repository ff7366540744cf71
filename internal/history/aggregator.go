// Package history polls the indexing API for past prize awards and keeps a
// sorted, capped, tier-classified view of them.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
)

// LogQuery selects raw logs from the indexing API.
type LogQuery struct {
	Address   common.Address
	Topic0    common.Hash
	FromBlock uint64
	ToBlock   uint64 // 0 means the latest block
}

// LogIndexer is the indexing API.
type LogIndexer interface {
	FetchLogs(ctx context.Context, q LogQuery) ([]domain.IndexedLog, error)
}

// HeightSource reports the current ledger height.
type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds aggregator settings.
type Config struct {
	Contract   common.Address
	Interval   time.Duration
	MaxRecords int
}

// Status describes the last refresh.
type Status struct {
	Records     int       `json:"records"`
	LastRefresh time.Time `json:"lastRefresh"`
	LastError   string    `json:"lastError,omitempty"`
}

// Aggregator owns the retained outcome collection. Store, Bus and Metrics
// are optional.
type Aggregator struct {
	indexer LogIndexer
	heights HeightSource
	cfg     Config
	logger  *slog.Logger

	Store   domain.OutcomeStore
	Bus     domain.SignalBus
	Metrics *metrics.Metrics

	mu          sync.RWMutex
	events      []domain.OutcomeEvent
	lastRefresh time.Time
	lastErr     error
}

// NewAggregator creates an Aggregator. heights may be nil, in which case
// queries run to the latest block.
func NewAggregator(indexer LogIndexer, heights HeightSource, cfg Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		indexer: indexer,
		heights: heights,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "history")),
		events:  []domain.OutcomeEvent{},
	}
}

// Run loads persisted records, refreshes immediately and then on every
// interval until ctx is done. Refresh failures are logged and retried on the
// next tick.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "history aggregator started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Int("max_records", a.cfg.MaxRecords),
	)
	if err := a.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "history warm start failed", slog.String("error", err.Error()))
	}
	_ = a.Refresh(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "history aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = a.Refresh(ctx)
		}
	}
}

// Warm seeds an empty collection from Store so readers see the last known
// records before the first poll completes. It does nothing without a Store
// or once a refresh has succeeded.
func (a *Aggregator) Warm(ctx context.Context) error {
	if a.Store == nil {
		return nil
	}
	events, err := a.Store.ListRecent(ctx, domain.ListOpts{Limit: a.cfg.MaxRecords})
	if err != nil {
		return fmt.Errorf("history: warm: %w", err)
	}
	slices.SortFunc(events, compareEvents)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.lastRefresh.IsZero() || len(a.events) > 0 {
		return nil
	}
	a.events = events
	a.logger.InfoContext(ctx, "history warmed from store", slog.Int("records", len(events)))
	return nil
}

// Refresh fetches, decodes and replaces the retained collection. On failure
// the previous collection is kept and the error, wrapping
// domain.ErrFetchFailed, is recorded and returned.
func (a *Aggregator) Refresh(ctx context.Context) error {
	q := LogQuery{Address: a.cfg.Contract, Topic0: contract.OutcomeTopic}
	if a.heights != nil {
		if h, err := a.heights.BlockNumber(ctx); err != nil {
			a.logger.WarnContext(ctx, "block height unavailable, querying to latest", slog.String("error", err.Error()))
		} else {
			q.ToBlock = h
		}
	}

	records, err := a.indexer.FetchLogs(ctx, q)
	if err != nil {
		return a.fail(ctx, err)
	}

	events, discarded := Normalize(records, a.cfg.MaxRecords)

	a.mu.Lock()
	a.events = events
	a.lastRefresh = time.Now()
	a.lastErr = nil
	a.mu.Unlock()

	a.Metrics.HistoryPoll(true, len(events), discarded)
	a.logger.DebugContext(ctx, "history refreshed",
		slog.Int("fetched", len(records)),
		slog.Int("retained", len(events)),
		slog.Int("discarded", discarded),
	)

	a.persist(ctx, events)
	a.publish(ctx, len(events))
	return nil
}

func (a *Aggregator) fail(ctx context.Context, err error) error {
	if !errors.Is(err, domain.ErrFetchFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	err = fmt.Errorf("history: refresh: %w", err)

	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()

	a.Metrics.HistoryPoll(false, 0, 0)
	a.logger.WarnContext(ctx, "history refresh failed, keeping previous records", slog.String("error", err.Error()))
	return err
}

func (a *Aggregator) persist(ctx context.Context, events []domain.OutcomeEvent) {
	if a.Store == nil || len(events) == 0 {
		return
	}
	n, err := a.Store.UpsertBatch(ctx, events)
	if err != nil {
		a.logger.WarnContext(ctx, "persist outcome events failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "new outcome events persisted", slog.Int64("count", n))
	}
}

func (a *Aggregator) publish(ctx context.Context, count int) {
	if a.Bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"records": count, "refreshedAt": time.Now().UTC()})
	if err != nil {
		return
	}
	if err := a.Bus.Publish(ctx, domain.ChannelHistory, payload); err != nil {
		a.logger.WarnContext(ctx, "publish history refresh failed", slog.String("error", err.Error()))
	}
}

// Events returns a copy of the retained collection, newest first.
func (a *Aggregator) Events() []domain.OutcomeEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.OutcomeEvent, len(a.events))
	copy(out, a.events)
	return out
}

// FilterByTier filters the retained collection.
func (a *Aggregator) FilterByTier(name string) []domain.OutcomeEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return FilterByTier(a.events, name)
}

// Status reports the retained count and the last refresh result.
func (a *Aggregator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{Records: len(a.events), LastRefresh: a.lastRefresh}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// LastError returns the error of the most recent refresh, if it failed.
func (a *Aggregator) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Normalize decodes records, drops undecodable ones and duplicates by
// transaction hash, sorts by timestamp descending with ties broken by
// ascending transaction hash, and keeps at most maxRecords of the newest.
// maxRecords <= 0 keeps everything.
func Normalize(records []domain.IndexedLog, maxRecords int) (events []domain.OutcomeEvent, discarded int) {
	events = make([]domain.OutcomeEvent, 0, len(records))
	seen := make(map[common.Hash]struct{}, len(records))
	for _, rec := range records {
		outcome, ok := contract.DecodeOutcomeLog([]types.Log{contract.LogFromIndexed(rec)})
		if !ok {
			discarded++
			continue
		}
		if _, dup := seen[rec.TxHash]; dup {
			continue
		}
		seen[rec.TxHash] = struct{}{}
		events = append(events, domain.OutcomeEvent{
			Player:      outcome.Player,
			Amount:      outcome.Prize,
			Timestamp:   rec.Timestamp,
			BlockNumber: rec.BlockNumber,
			TxHash:      rec.TxHash,
		})
	}

	slices.SortFunc(events, compareEvents)
	if maxRecords > 0 && len(events) > maxRecords {
		events = events[:maxRecords]
	}
	return events, discarded
}

func compareEvents(a, b domain.OutcomeEvent) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	}
	return bytes.Compare(a.TxHash[:], b.TxHash[:])
}
