package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/causeway/internal/anomaly"
	"github.com/telhawk-systems/causeway/internal/config"
	"github.com/telhawk-systems/causeway/internal/engine"
	"github.com/telhawk-systems/causeway/internal/logging"
	natsclient "github.com/telhawk-systems/causeway/internal/messaging/nats"
	causewaynats "github.com/telhawk-systems/causeway/internal/nats"
	"github.com/telhawk-systems/causeway/internal/server"
	"github.com/telhawk-systems/causeway/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the correlation engine and its read API",
	Long: `Starts the engine: consumes normalized events from NATS, correlates and
scores them, persists findings, and serves the read API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).With("service", "causeway")
	logging.SetDefault(logger)

	logger.Info("starting causeway",
		"port", cfg.Server.Port,
		"shards", cfg.Engine.Shards,
		"log_level", cfg.Logging.Level,
	)

	deps := engine.Deps{Logger: logger}

	// Primary store: Postgres when enabled, otherwise in-memory.
	if cfg.Database.Enabled {
		connString := fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.Database,
			cfg.Database.Postgres.SSLMode,
		)

		logger.Info("running database migrations")
		m, err := migrate.New("file://migrations", connString)
		if err != nil {
			return fmt.Errorf("init migrations: %w", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("run migrations: %w", err)
		}

		pg, err := store.NewPostgresStore(context.Background(), connString)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		deps.Store = pg
	} else {
		logger.Warn("database disabled, findings are kept in memory only")
		deps.Store = store.NewMemoryStore()
	}

	// Secondary archive for full-text search over findings.
	if cfg.Storage.Enabled {
		archive, err := store.NewArchive(cfg.Storage)
		if err != nil {
			return fmt.Errorf("create archive client: %w", err)
		}
		if err := archive.Initialize(context.Background()); err != nil {
			logger.Warn("archive initialization failed, continuing without archive", "error", err)
		} else {
			logger.Info("connected to archive", "url", cfg.Storage.URL)
			deps.Archive = archive
		}
	}

	// Baseline snapshots survive restarts when Redis is enabled.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		opts.MaxRetries = cfg.Redis.MaxRetries
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		deps.States = anomaly.NewStateManager(redisClient, true, "causeway")
		logger.Info("baseline persistence enabled", "url", cfg.Redis.URL)
	}

	// Message bus: publisher for findings, consumer for normalized events.
	var natsConn *natsclient.Client
	var consumer *causewaynats.Handler
	if cfg.NATS.Enabled {
		natsConn, err = natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		logger.Info("connected to nats", "url", cfg.NATS.URL)
		deps.Publisher = causewaynats.NewPublisher(natsConn)
	} else {
		logger.Warn("nats disabled, engine accepts events only through tests and tools")
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if natsConn != nil {
		consumer = causewaynats.NewHandler(natsConn, eng, logger)
		if err := consumer.Start(context.Background()); err != nil {
			return fmt.Errorf("start nats consumer: %w", err)
		}
	}

	handler := server.NewHandler(eng.Graph(), deps.Store, eng.HaltedPartitions)
	srv := server.New(cfg.Server, cfg.API, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Stop intake first so partitions can drain, then flush the engine,
	// then close the API and connections.
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Warn("consumer stop failed", "error", err)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(drainCtx); err != nil {
		logger.Error("engine drain incomplete", "error", err)
	}

	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logger.Warn("nats drain failed", "error", err)
		}
		natsConn.Close()
	}

	logger.Info("causeway stopped")
	return nil
}
