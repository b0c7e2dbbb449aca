package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/api"
	"github.com/serroba/online-diagrams/internal/auth"
	"github.com/serroba/online-diagrams/internal/broadcast"
	"github.com/serroba/online-diagrams/internal/changefeed"
	"github.com/serroba/online-diagrams/internal/collab"
	"github.com/serroba/online-diagrams/internal/config"
	"github.com/serroba/online-diagrams/internal/invite"
	"github.com/serroba/online-diagrams/internal/logging"
	"github.com/serroba/online-diagrams/internal/ordering"
	"github.com/serroba/online-diagrams/internal/presence"
	"github.com/serroba/online-diagrams/internal/storage"
	"github.com/serroba/online-diagrams/internal/storage/gormstore"
	"github.com/serroba/online-diagrams/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

// stores groups the durable state backends.
type stores struct {
	changes   storage.ChangeLog
	snapshots storage.SnapshotStore
	members   acl.MembershipStore
	owners    acl.OwnerLookup
	invites   invite.Store
}

// coordination groups the backends shared between server processes.
type coordination struct {
	sequencer ordering.Sequencer
	ledger    ordering.Ledger
	locker    ordering.Locker
	presence  presence.Directory
	bus       broadcast.Bus
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	checks := map[string]api.HealthCheck{}

	st, closeDB, err := openStores(cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeDB()

	co, closeRedis, err := openCoordination(ctx, cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeRedis()

	g, ctx := errgroup.WithContext(ctx)

	var feed collab.Feed

	if cfg.Kafka.Enabled {
		producer, err := changefeed.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}

		defer func() { _ = producer.Close() }()

		dispatcher := changefeed.NewDispatcher(producer, cfg.Kafka.Topic, logger, changefeed.Options{
			QueueSize: cfg.Kafka.QueueSize,
			Workers:   cfg.Kafka.Workers,
			MaxRetry:  cfg.Kafka.MaxRetry,
		})
		feed = dispatcher

		g.Go(func() error { return dispatcher.Run(ctx) })
	}

	oracle := acl.NewOracle(st.members, st.owners)

	engine := collab.New(collab.Config{
		Sequencer:     co.sequencer,
		Ledger:        co.ledger,
		Locker:        co.locker,
		Changes:       st.changes,
		Snapshots:     st.snapshots,
		Access:        oracle,
		Presence:      co.presence,
		Limiter:       presence.NewLimiter(cfg.Collab.PresenceInterval),
		Bus:           co.bus,
		Hub:           ws.NewHub(),
		Feed:          feed,
		Logger:        logger,
		Compaction:    storage.NewCompactionPolicy(cfg.Collab.SnapshotInterval),
		CatchupLimit:  cfg.Collab.CatchupLimit,
		SweepInterval: cfg.Collab.SweepInterval,
		PresenceTTL:   cfg.Collab.PresenceTTL,
	})

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.NewServer(api.ServerConfig{
		Engine:         engine,
		Access:         oracle,
		Invites:        invite.NewService(st.invites, oracle, logger),
		Resolver:       auth.NewJWTResolver(cfg.Auth.JWTSecret),
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteWait:      cfg.Server.WriteWait,
		HealthChecks:   checks,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error { return engine.Run(ctx) })

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Bool("singleProcess", cfg.Collab.SingleProcess).Msg("starting server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info().Msg("shutting down")

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(cfg *config.Config, logger zerolog.Logger, checks map[string]api.HealthCheck) (stores, func(), error) {
	if cfg.Database.Driver == "" {
		logger.Warn().Msg("no database configured, diagrams live in memory and are lost on restart")

		changes := storage.NewMemoryStore()
		members := acl.NewMemoryStore()

		return stores{
			changes:   changes,
			snapshots: changes,
			members:   members,
			owners:    members,
			invites:   invite.NewMemoryStore(members),
		}, func() {}, nil
	}

	db, err := gormstore.Open(gormstore.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return stores{}, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return stores{}, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := gormstore.Migrate(db); err != nil {
			_ = sqlDB.Close()

			return stores{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}

	checks["database"] = sqlDB.PingContext

	changes := gormstore.NewStore(db)
	members := gormstore.NewMemberStore(db)

	return stores{
		changes:   changes,
		snapshots: changes,
		members:   members,
		owners:    members,
		invites:   gormstore.NewInviteStore(db),
	}, func() { _ = sqlDB.Close() }, nil
}

func openCoordination(
	ctx context.Context, cfg *config.Config, logger zerolog.Logger, checks map[string]api.HealthCheck,
) (coordination, func(), error) {
	if cfg.Collab.SingleProcess {
		logger.Warn().Msg("single process mode: sequencing, dedup and presence are kept in memory; " +
			"do not run more than one instance against the same database")

		return coordination{
			sequencer: ordering.NewMemorySequencer(logger),
			ledger:    ordering.NewMemoryLedger(logger, cfg.Collab.IdempotencyTTL),
			locker:    ordering.NewMemoryLocker(),
			presence:  presence.NewMemoryDirectory(cfg.Collab.PresenceTTL),
			bus:       broadcast.NewMemoryBus(),
		}, func() {}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return coordination{}, nil, fmt.Errorf("redis: %w", err)
	}

	checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	return coordination{
		sequencer: ordering.NewRedisSequencer(client),
		ledger:    ordering.NewRedisLedger(client, cfg.Collab.IdempotencyTTL),
		locker:    ordering.NewRedisLocker(client, cfg.Collab.LockTTL),
		presence:  presence.NewRedisDirectory(client, cfg.Collab.PresenceTTL),
		bus:       broadcast.NewRedisBus(client, logger),
	}, func() { _ = client.Close() }, nil
}
