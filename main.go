package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"proctor/internal/broadcast"
	"proctor/internal/config"
	"proctor/internal/detection"
	"proctor/internal/detection_processor"
	"proctor/internal/ingest"
	"proctor/internal/repository"
	"proctor/internal/server"
	"proctor/internal/service"
	"proctor/internal/telegram_bot"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(config.PathFromEnv())
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Logging.Mode)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Storage
	var repos *repository.Repositories
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory storage; data is lost on restart")
		repos = repository.NewMemoryRepositories()
	default:
		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
		db, err := repository.NewPostgresDB(connectCtx, cfg.Database.URL, repository.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: 30 * time.Minute,
		}, logger)
		cancelConnect()
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := repository.MigrateDB(db, cfg.Database.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		repos = repository.NewPostgresRepositories(db, logger)
	}

	// Scoring tables
	classifier, err := detection.NewClassifier(cfg.Detection.Aliases)
	if err != nil {
		logger.Fatal("Invalid detection aliases", zap.Error(err))
	}
	points, err := detection.NewPointTable(cfg.Detection.BasePoints, cfg.Detection.DefaultPoints)
	if err != nil {
		logger.Fatal("Invalid detection base points", zap.Error(err))
	}

	opts := detection_processor.Options{
		Classifier:           classifier,
		Points:               points,
		Levels:               cfg.Detection.CumulativeThresholds,
		Severity:             cfg.Detection.SeverityThresholds,
		Cooldown:             cfg.Cooldown(),
		SweepInterval:        cfg.SweepInterval(),
		HeadcountCooldown:    *cfg.Headcount.ApplyCooldown,
		DefaultExpectedCount: cfg.Sessions.DefaultExpectedCount,
	}

	// Telegram bot for alert notifications (optional)
	bot, err := telegram_bot.NewBot(cfg.Notifications.Telegram, repos.Alerts, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		bot = nil
	}
	if bot != nil {
		opts.Notifier = bot
	}

	// Live websocket feed (optional)
	var hub *broadcast.Hub
	if cfg.Broadcast.Enabled {
		hub = broadcast.NewHub(logger)
		opts.Broadcaster = hub
	}

	processor := detection_processor.NewProcessor(repos, opts, logger)

	// Kafka detection stream (optional)
	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = ingest.NewConsumer(ingest.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			GroupID:     cfg.Kafka.GroupID,
			PollTimeout: time.Duration(cfg.Kafka.PollTimeoutSeconds) * time.Second,
		}, processor, logger)
		if err != nil {
			logger.Fatal("Failed to create Kafka consumer", zap.Error(err))
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Warn("Failed to close Kafka consumer", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(cfg, server.Deps{
		Processor: processor,
		Points:    points,
		Auth:      service.NewAuthService(repos.Users, cfg.Auth.JWTSecret, cfg.TokenTTL(), logger),
		Reports:   service.NewReportService(repos, cfg.Detection.SeverityThresholds, logger),
		Hub:       hub,
	}, logger)

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		processor.Run(ctx)
		return nil
	})
	if hub != nil {
		g.Go(func() error { return hub.RunWithContext(ctx) })
	}
	if bot != nil {
		g.Go(func() error { return bot.Start(ctx) })
	}
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application stopped with error", zap.Error(err))
		return
	}
	logger.Info("Application stopped.")
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
