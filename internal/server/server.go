// Package server exposes the staking API over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/metrics"
	"github.com/amadeodlp/cryptara/internal/server/handler"
	"github.com/amadeodlp/cryptara/internal/server/middleware"
	"github.com/amadeodlp/cryptara/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	JWT         middleware.JWTConfig
	// AdminAPIKey guards operator routes; empty leaves them unregistered.
	AdminAPIKey string
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit      int
	MetricsEnabled bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health        *handler.HealthHandler
	Staking       *handler.StakingHandler
	Ledger        *handler.LedgerHandler
	Notifications *handler.NotificationHandler
	Market        *handler.MarketHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler { return h }
	user := middleware.JWT(cfg.JWT)
	if limiter != nil && cfg.RateLimit > 0 {
		rl := middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)
		public = func(h http.HandlerFunc) http.Handler { return rl(h) }
		jwt := user
		user = func(next http.Handler) http.Handler { return jwt(rl(next)) }
	}
	authed := func(h http.HandlerFunc) http.Handler { return user(h) }

	// Health and metrics (no auth, no limit).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Staking.
	mux.Handle("GET /api/staking", authed(handlers.Staking.ListPositions))
	mux.Handle("POST /api/staking/stake", authed(handlers.Staking.Stake))
	mux.Handle("POST /api/staking/unstake/{id}", authed(handlers.Staking.Unstake))
	mux.Handle("GET /api/staking/rewards/{id}", authed(handlers.Staking.Rewards))
	mux.Handle("GET /api/staking/apy", public(handlers.Staking.ListRates))

	// Ledger.
	mux.Handle("GET /api/balances", authed(handlers.Ledger.ListBalances))
	mux.Handle("GET /api/transactions", authed(handlers.Ledger.ListTransactions))
	if cfg.AdminAPIKey != "" {
		mux.Handle("POST /api/admin/balances/credit",
			middleware.APIKey(cfg.AdminAPIKey)(http.HandlerFunc(handlers.Ledger.Credit)))
	}

	// Notifications.
	mux.Handle("GET /api/notifications", authed(handlers.Notifications.List))
	mux.Handle("POST /api/notifications/read-all", authed(handlers.Notifications.MarkAllRead))
	mux.Handle("POST /api/notifications/{id}/read", authed(handlers.Notifications.MarkRead))

	// Market data.
	mux.Handle("GET /api/prices/{symbol}", public(handlers.Market.GetPrice))
	mux.Handle("GET /api/chain/balance", public(handlers.Market.ChainBalance))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.Handle("GET /ws", user(http.HandlerFunc(wsHub.HandleWS)))
	}

	// Build the middleware chain. Instrumentation sits directly on the mux
	// so it sees the matched pattern.
	var h http.Handler = metrics.InstrumentHandler(mux)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the root handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
