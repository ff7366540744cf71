package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/treasurechest/internal/access"
	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/history"
	"github.com/alanyoungcy/treasurechest/internal/pipeline"
	"github.com/alanyoungcy/treasurechest/internal/platform/coingecko"
	"github.com/alanyoungcy/treasurechest/internal/server"
	"github.com/alanyoungcy/treasurechest/internal/server/handler"
	"github.com/alanyoungcy/treasurechest/internal/server/ws"
	"github.com/alanyoungcy/treasurechest/internal/service"
	"github.com/alanyoungcy/treasurechest/internal/session"
	"github.com/alanyoungcy/treasurechest/internal/txlifecycle"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// wallet groups the signing components that only full mode builds.
type wallet struct {
	machine  *session.Machine
	treasury *access.Treasury
	encoder  *contract.Encoder
}

// FullMode runs the wager session, owner console, history, price feed,
// archiver and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	encoder := deps.Encoder
	submitter := txlifecycle.NewSubmitter(deps.RPC, txlifecycle.NewAdapter(a.logger))

	machine := session.NewMachine(encoder, submitter, a.cfg.Session.Cooldown.Duration, a.logger)
	recorder := service.NewSessionRecorder(a.logger)
	recorder.Bus = deps.SignalBus
	recorder.Audit = deps.AuditStore
	recorder.Metrics = deps.Metrics
	recorder.ExplorerURL = a.cfg.Chain.ExplorerURL
	if deps.Notifier.Enabled() {
		recorder.Alerts = deps.Notifier
	}
	recorder.Attach(ctx, machine)
	defer recorder.Wait()

	g.Go(func() error {
		return machine.Run(ctx)
	})

	treasury := access.NewTreasury(access.NewGate(deps.Owner), deps.Signer.Address(), encoder, submitter, deps.RPC, a.logger)
	treasury.Audit = deps.AuditStore
	treasury.Bus = deps.SignalBus
	treasury.Metrics = deps.Metrics
	if deps.Notifier.Enabled() {
		treasury.Alerts = deps.Notifier
	}
	if ok, err := treasury.VerifyOwner(ctx); err != nil {
		a.logger.WarnContext(ctx, "could not verify contract owner", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "owner console",
			slog.Bool("owner_matches", ok),
			slog.Bool("privileged", treasury.Privileged()),
		)
	}

	agg, prices := a.startFeeds(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, agg, prices, &wallet{
			machine:  machine,
			treasury: treasury,
			encoder:  encoder,
		})
	}

	return g.Wait()
}

// MonitorMode runs read-only monitoring: history, price feed, archiver and
// the HTTP server. Nothing is signed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	agg, prices := a.startFeeds(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	// HTTP server is always started in monitor mode.
	a.startHTTPServer(ctx, g, deps, agg, prices, nil)

	return g.Wait()
}

// startFeeds starts the history aggregator and, when enabled, the price
// service. prices is nil when the feed is disabled.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*history.Aggregator, *service.PriceService) {
	agg := history.NewAggregator(deps.Indexer, deps.RPC, history.Config{
		Contract:   deps.Contract,
		Interval:   a.cfg.Indexer.Interval.Duration,
		MaxRecords: a.cfg.Indexer.MaxRecords,
	}, a.logger)
	if a.cfg.History.Persist {
		agg.Store = deps.OutcomeStore
	}
	agg.Bus = deps.SignalBus
	agg.Metrics = deps.Metrics
	g.Go(func() error {
		return agg.Run(ctx)
	})

	if !a.cfg.PriceFeed.Enabled {
		return agg, nil
	}
	feed := coingecko.NewClient(a.cfg.PriceFeed.BaseURL, a.cfg.PriceFeed.APIKey, a.cfg.PriceFeed.CoinID, a.cfg.PriceFeed.Currency)
	prices := service.NewPriceService(feed, a.cfg.PriceFeed.Interval.Duration, a.logger)
	prices.Cache = deps.PriceCache
	prices.Bus = deps.SignalBus
	prices.Metrics = deps.Metrics
	g.Go(func() error {
		return prices.Run(ctx)
	})
	return agg, prices
}

// startArchiver schedules the history archive when it is configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	arch := pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.History.ArchiveRetentionDays, a.logger)
	g.Go(func() error {
		return arch.RunCron(ctx, a.cfg.History.ArchiveCron)
	})
}

// startHTTPServer builds the handlers and runs the server until ctx is done.
// w is nil in monitor mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, agg *history.Aggregator, prices *service.PriceService, w *wallet) {
	// Keep nil services out of the interfaces.
	var usd handler.USDConverter
	var priceSrc handler.PriceSource
	if prices != nil {
		usd, priceSrc = prices, prices
	}

	info := handler.StatusInfo{
		Mode:      a.cfg.Mode,
		ChainID:   a.cfg.Chain.ChainID,
		Contract:  deps.Contract.Hex(),
		StartedAt: a.startedAt,
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		History: handler.NewHistoryHandler(agg, a.cfg.Indexer.PageSize, a.cfg.Chain.ExplorerURL, usd, a.logger),
		Price:   handler.NewPriceHandler(priceSrc),
	}

	hubCfg := ws.Config{Mode: a.cfg.Mode, AllowedOrigins: a.cfg.Server.CORSOrigins}
	if w != nil {
		info.Identity = w.treasury.Identity().Hex()
		handlers.Session = handler.NewSessionHandler(w.machine, w.encoder.StakeAmount(), usd, a.logger)
		handlers.Owner = handler.NewOwnerHandler(w.treasury, deps.Owner, a.logger)
		hubCfg.Snapshot = func() any { return w.machine.Snapshot() }
	}
	handlers.Status = handler.NewStatusHandler(info, agg)

	hub := ws.NewHub(deps.SignalBus, hubCfg, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
