package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
)

// PriceFeed fetches the current display exchange rate of ether.
type PriceFeed interface {
	Symbol() string
	FetchPrice(ctx context.Context) (float64, error)
}

// Quote is the last good exchange rate.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// PriceService polls the price feed, keeps the last good quote in memory and
// mirrors it to the price cache and the signal bus. Cache, Bus and Metrics
// are optional.
type PriceService struct {
	feed     PriceFeed
	interval time.Duration
	logger   *slog.Logger

	Cache   domain.PriceCache
	Bus     domain.SignalBus
	Metrics *metrics.Metrics

	mu    sync.RWMutex
	quote Quote
	ok    bool
}

// NewPriceService creates a PriceService polling feed every interval.
func NewPriceService(feed PriceFeed, interval time.Duration, logger *slog.Logger) *PriceService {
	return &PriceService{
		feed:     feed,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// Run warms the quote from the cache, refreshes immediately and then on every
// interval until ctx is done.
func (s *PriceService) Run(ctx context.Context) error {
	s.warm(ctx)
	s.logger.InfoContext(ctx, "price service started",
		slog.String("symbol", s.feed.Symbol()),
		slog.Duration("interval", s.interval),
	)
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "price service stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// warm seeds the in-memory quote from the shared cache so a restart can show
// a value before the first poll returns.
func (s *PriceService) warm(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	price, ts, err := s.Cache.GetPrice(ctx, s.feed.Symbol())
	if err != nil || price <= 0 {
		return
	}
	s.mu.Lock()
	if !s.ok {
		s.quote = Quote{Symbol: s.feed.Symbol(), Price: price, FetchedAt: ts}
		s.ok = true
	}
	s.mu.Unlock()
}

// Refresh polls the feed once. On failure the previous quote is kept.
func (s *PriceService) Refresh(ctx context.Context) error {
	price, err := s.feed.FetchPrice(ctx)
	if err == nil && price <= 0 {
		err = fmt.Errorf("%w: non-positive price %v", domain.ErrFetchFailed, price)
	}
	if err != nil {
		s.Metrics.PricePoll(false, 0)
		s.logger.WarnContext(ctx, "price poll failed, keeping previous quote", slog.String("error", err.Error()))
		return fmt.Errorf("price_service: refresh: %w", err)
	}

	q := Quote{Symbol: s.feed.Symbol(), Price: price, FetchedAt: time.Now().UTC()}
	s.mu.Lock()
	s.quote = q
	s.ok = true
	s.mu.Unlock()
	s.Metrics.PricePoll(true, price)

	if s.Cache != nil {
		if cerr := s.Cache.SetPrice(ctx, q.Symbol, q.Price, q.FetchedAt); cerr != nil {
			s.logger.WarnContext(ctx, "price_service: cache price failed", slog.String("error", cerr.Error()))
		}
	}
	if s.Bus != nil {
		evt, _ := json.Marshal(q)
		if perr := s.Bus.Publish(ctx, domain.ChannelPrice, evt); perr != nil {
			s.logger.WarnContext(ctx, "price_service: publish price failed", slog.String("error", perr.Error()))
		}
	}
	return nil
}

// Latest returns the last good quote and whether one exists.
func (s *PriceService) Latest() (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote, s.ok
}

// ToUSD converts a wei amount to its display value, rounded to cents. ok is
// false when no quote is available.
func (s *PriceService) ToUSD(wei *big.Int) (usd decimal.Decimal, ok bool) {
	q, ok := s.Latest()
	if !ok {
		return decimal.Zero, false
	}
	return domain.WeiToEther(wei).Mul(decimal.NewFromFloat(q.Price)).Round(2), true
}
