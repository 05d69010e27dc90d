package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	s3blob "github.com/alanyoungcy/auctiond/internal/blob/s3"
	"github.com/alanyoungcy/auctiond/internal/cache/memory"
	"github.com/alanyoungcy/auctiond/internal/cache/redis"
	"github.com/alanyoungcy/auctiond/internal/config"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/journal"
	natsjournal "github.com/alanyoungcy/auctiond/internal/journal/nats"
	"github.com/alanyoungcy/auctiond/internal/notify"
	"github.com/alanyoungcy/auctiond/internal/server/handler"
	"github.com/alanyoungcy/auctiond/internal/store/postgres"
)

// Dependencies bundles every collaborator the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Durable stores
	Auctions domain.AuctionStore
	Bids     *postgres.BidStore
	Users    domain.UserStore
	Audit    domain.AuditStore

	// Runtime backend. Nil in archiver mode.
	Runtime   domain.RuntimeStore
	Schedule  domain.ScheduleStore
	Locks     domain.LockManager
	Limiter   domain.RateLimiter
	SignalBus domain.SignalBus

	// Bid journal. JetStream is nil when NATS is not configured, in which
	// case Journal writes to Postgres directly.
	Journal   domain.BidJournal
	JetStream jetstream.JetStream

	// Result archive. Nil when S3 is disabled.
	Archiver domain.ResultArchiver

	Notifier *notify.Notifier

	// Health checks keyed by dependency name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.Auctions = postgres.NewAuctionStore(pool)
	deps.Bids = postgres.NewBidStore(pool)
	deps.Users = postgres.NewUserStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

	// --- Runtime backend (only when this process runs the engine) ---
	if cfg.ServesTraffic() {
		switch cfg.Runtime.Backend {
		case config.BackendMemory:
			deps.Runtime = memory.NewRuntimeStore()
			deps.Schedule = memory.NewScheduleStore()
			deps.Locks = memory.NewLockManager()
			logger.WarnContext(ctx, "runtime backend is in-memory; run a single instance only")
		default:
			redisClient, err := redis.New(ctx, redis.ClientConfig{
				Addr:       cfg.Redis.Addr,
				Password:   cfg.Redis.Password,
				DB:         cfg.Redis.DB,
				PoolSize:   cfg.Redis.PoolSize,
				MaxRetries: cfg.Redis.MaxRetries,
				TLSEnabled: cfg.Redis.TLSEnabled,
			})
			if err != nil {
				return fail("redis", err)
			}
			closers = append(closers, func() { _ = redisClient.Close() })

			deps.Runtime = redis.NewRuntimeStore(redisClient, cfg.Runtime.RecordTTL.Duration)
			deps.Schedule = redis.NewScheduleStore(redisClient)
			deps.Locks = redis.NewLockManager(redisClient)
			deps.Limiter = redis.NewRateLimiter(redisClient)
			deps.SignalBus = redis.NewSignalBus(redisClient)
			deps.Checks["redis"] = redisClient.Ping
		}
	}

	// --- Bid journal ---
	if cfg.NATS.Enabled() {
		nc, js, err := natsjournal.Connect(ctx, natsjournal.Config{
			URL:    cfg.NATS.URL,
			MaxAge: cfg.NATS.MaxAge.Duration,
		})
		if err != nil {
			return fail("nats", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })

		deps.JetStream = js
		deps.Journal = natsjournal.NewPublisher(js, logger)
		deps.Checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		}
	} else {
		deps.Journal = journal.NewDirect(deps.Bids)
	}

	// --- S3 result archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}

		var history s3blob.BidHistory
		if cfg.S3.ArchiveBids {
			history = deps.Bids
		}
		deps.Archiver = s3blob.NewResultArchiver(s3blob.NewWriter(s3Client), history)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(notifySenders(cfg.Notify), cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// notifySenders builds one sender per configured channel.
func notifySenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
