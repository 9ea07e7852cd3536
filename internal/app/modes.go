package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amadeodlp/cryptara/internal/pipeline"
	"github.com/amadeodlp/cryptara/internal/server"
	"github.com/amadeodlp/cryptara/internal/server/handler"
	"github.com/amadeodlp/cryptara/internal/server/middleware"
	"github.com/amadeodlp/cryptara/internal/server/ws"
	"github.com/amadeodlp/cryptara/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode runs the HTTP API, the websocket hub, the notification
// dispatcher and, when configured, the price refresher.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("lookback_days", a.cfg.Archive.LookbackDays),
	)
	job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.LookbackDays, a.logger)
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	return nil
}

// FullMode runs ServerMode plus the cron-scheduled archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("archive_cron", a.cfg.Archive.Cron),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)

	job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.LookbackDays, a.logger)
	g.Go(func() error {
		return job.RunCron(ctx, a.cfg.Archive.Cron)
	})

	return ignoreCanceled(g.Wait())
}

// startAPI builds the services and transports and adds their goroutines to
// g. The HTTP server is shut down gracefully when ctx is cancelled.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	engine := service.NewStakingEngine(
		deps.Ledger,
		deps.Rates,
		deps.Positions,
		deps.LockManager,
		deps.Dispatcher,
		deps.SignalBus,
		a.logger,
		service.WithLockTiming(a.cfg.Staking.LockTTL.Duration, a.cfg.Staking.LockWait.Duration),
	)
	ledgerSvc := service.NewLedgerService(deps.Ledger, deps.Balances, deps.Transactions, a.logger)
	notificationSvc := service.NewNotificationService(deps.Notifications)

	g.Go(func() error {
		return deps.Dispatcher.Run(ctx)
	})

	var quotes handler.QuoteService
	if deps.PriceOracle != nil {
		priceSvc := service.NewPriceService(
			deps.PriceOracle,
			deps.PriceCache,
			deps.SignalBus,
			a.cfg.Prices.Symbols,
			a.cfg.Prices.TTL.Duration,
			a.logger,
		)
		quotes = priceSvc
		g.Go(func() error {
			return priceSvc.Run(ctx, a.cfg.Prices.Interval.Duration)
		})
	}

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			JWT: middleware.JWTConfig{
				Secret:   []byte(a.cfg.Server.JWTSecret),
				Issuer:   a.cfg.Server.JWTIssuer,
				Audience: a.cfg.Server.JWTAudience,
			},
			AdminAPIKey:    a.cfg.Server.AdminAPIKey,
			RateLimit:      a.cfg.Server.RateLimit,
			MetricsEnabled: a.cfg.Metrics.Enabled,
		},
		server.Handlers{
			Health:        handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks, a.logger),
			Staking:       handler.NewStakingHandler(engine, a.logger),
			Ledger:        handler.NewLedgerHandler(ledgerSvc, a.logger),
			Notifications: handler.NewNotificationHandler(notificationSvc, a.logger),
			Market:        handler.NewMarketHandler(quotes, deps.ChainReader, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats cancellation as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
