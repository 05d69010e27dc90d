package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctiond/internal/auction"
	"github.com/alanyoungcy/auctiond/internal/broadcast"
	"github.com/alanyoungcy/auctiond/internal/crypto"
	"github.com/alanyoungcy/auctiond/internal/journal"
	natsjournal "github.com/alanyoungcy/auctiond/internal/journal/nats"
	"github.com/alanyoungcy/auctiond/internal/server"
	"github.com/alanyoungcy/auctiond/internal/server/handler"
	"github.com/alanyoungcy/auctiond/internal/server/ws"
)

// ServerMode runs the coordination engine and the HTTP/WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	return g.Wait()
}

// ArchiverMode drains the bid journal into Postgres.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archiver mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the engine, the API and, when the journal is on JetStream,
// the archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	if deps.JetStream != nil {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

// engineParts is the assembled coordination engine.
type engineParts struct {
	hub       *broadcast.Hub
	scheduler *auction.Scheduler
	engine    *auction.Engine
}

// buildEngine assembles the hub, coordinator, finalizer, scheduler and
// engine from deps.
func (a *App) buildEngine(deps *Dependencies) engineParts {
	rt := a.cfg.Runtime
	hub := broadcast.NewHub(deps.SignalBus, a.logger)

	coordinator := auction.NewCoordinator(
		deps.Auctions, deps.Bids, deps.Runtime, deps.Locks, hub, deps.Journal,
		auction.CoordinatorConfig{
			LeaseTTL: rt.LeaseTTL.Duration,
			Policy: auction.Policy{
				Threshold: rt.AntiSnipeThreshold.Duration,
				Extension: rt.AntiSnipeExtension.Duration,
			},
		},
		a.logger,
	)

	finalizer := auction.NewFinalizer(deps.Auctions, deps.Bids, deps.Runtime, deps.Schedule, nil, a.logger).
		WithAudit(deps.Audit)
	if deps.Archiver != nil {
		finalizer.WithArchiver(deps.Archiver)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		finalizer.WithNotifier(deps.Notifier)
	}

	scheduler := auction.NewScheduler(deps.Runtime, deps.Schedule, deps.Locks, finalizer, hub,
		auction.SchedulerConfig{Tick: rt.Tick.Duration}, a.logger)

	engine := auction.NewEngine(
		deps.Auctions, deps.Bids, deps.Users, deps.Runtime, deps.Limiter,
		coordinator, scheduler, hub,
		auction.EngineConfig{
			RateLimit: auction.BidRateLimit{Limit: rt.BidRateLimit, Window: rt.BidRateWindow.Duration},
		},
		a.logger,
	)

	return engineParts{hub: hub, scheduler: scheduler, engine: engine}
}

// buildServer registers the REST and WebSocket handlers around engine.
func (a *App) buildServer(deps *Dependencies, engine *auction.Engine) *server.Server {
	sc := a.cfg.Server
	return server.NewServer(
		server.Config{
			Host:            sc.Host,
			Port:            sc.Port,
			CORSOrigins:     sc.CORSOrigins,
			RateLimit:       sc.RateLimit,
			RateLimitWindow: sc.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Checks, a.logger),
			Auctions: handler.NewAuctionHandler(engine, deps.Auctions, deps.Bids, deps.Users, a.logger),
			WS:       ws.NewHandler(engine, sc.CORSOrigins, a.logger),
		},
		server.Deps{
			Tokens:  crypto.NewTokenAuth(a.cfg.Auth.TokenSecret, nil),
			Limiter: deps.Limiter,
		},
		a.logger,
	)
}

// startEngine re-arms persisted timers and adds the hub relay, the HTTP
// server and its graceful shutdown to g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	parts := a.buildEngine(deps)
	srv := a.buildServer(deps, parts.engine)

	g.Go(func() error {
		return parts.hub.Run(ctx)
	})

	if _, err := parts.scheduler.Recover(ctx); err != nil {
		a.logger.WarnContext(ctx, "schedule recovery failed", slog.String("error", err.Error()))
	}

	g.Go(srv.Start)

	timeout := a.cfg.Server.ShutdownTimeout.Duration
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		parts.scheduler.Stop()
		return err
	})
}

// startArchiver adds the JetStream consumer to g.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	consumer := natsjournal.NewConsumer(deps.JetStream, journal.NewSink(deps.Bids), a.logger)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
}
