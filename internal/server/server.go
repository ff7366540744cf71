// Package server exposes the session, history, price and owner console over
// HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
	"github.com/alanyoungcy/treasurechest/internal/server/handler"
	"github.com/alanyoungcy/treasurechest/internal/server/middleware"
	"github.com/alanyoungcy/treasurechest/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per window and client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers. Session and Owner are nil when the
// client runs without a wallet; their routes are then not registered.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Session *handler.SessionHandler
	History *handler.HistoryHandler
	Price   *handler.PriceHandler
	Owner   *handler.OwnerHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths bypass API key authentication.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers every route and wraps the mux in the middleware chain:
// rate limit, auth, logging, CORS (outermost last).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      buildHandler(cfg, handlers, wsHub, limiter, m, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // withdraw waits for the receipt
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func buildHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	if handlers.Session != nil {
		mux.HandleFunc("GET /api/session", handlers.Session.GetSession)
		mux.HandleFunc("POST /api/session/stake", handlers.Session.Stake)
		mux.HandleFunc("POST /api/session/claim", handlers.Session.Claim)
		mux.HandleFunc("POST /api/session/reset", handlers.Session.Reset)
	}

	mux.HandleFunc("GET /api/history", handlers.History.ListHistory)
	mux.HandleFunc("GET /api/history/tiers", handlers.History.ListTiers)

	if handlers.Price != nil {
		mux.HandleFunc("GET /api/price", handlers.Price.GetPrice)
	}

	if handlers.Owner != nil {
		mux.HandleFunc("GET /api/owner", handlers.Owner.GetOwner)
		mux.HandleFunc("GET /api/owner/balance", handlers.Owner.GetBalance)
		mux.HandleFunc("POST /api/owner/withdraw", handlers.Owner.Withdraw)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, m, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
