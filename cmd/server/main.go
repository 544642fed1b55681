package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/footballistika/predictor/internal/auth"
	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/flatfile"
	"github.com/footballistika/predictor/internal/handler"
	"github.com/footballistika/predictor/internal/kafka"
	"github.com/footballistika/predictor/internal/metrics"
	"github.com/footballistika/predictor/internal/postgres"
	"github.com/footballistika/predictor/internal/redis"
	"github.com/footballistika/predictor/internal/service"
	"github.com/footballistika/predictor/internal/window"
	"github.com/footballistika/predictor/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}
	if cfg.Auth.BotToken == "" {
		logger.Warn("bot token is empty, every web app request will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate, err := window.NewGate(cfg.Game.Timezone, cfg.Game.Deadline)
	if err != nil {
		logger.Error("invalid prediction window", "error", err)
		os.Exit(1)
	}

	defaults := domain.PointsRule{ExactPoints: cfg.Game.ExactPoints, ResultPoints: cfg.Game.ResultPoints}
	if err := defaults.Validate(); err != nil {
		logger.Error("invalid points rule", "exact_points", defaults.ExactPoints, "result_points", defaults.ResultPoints)
		os.Exit(1)
	}

	m := metrics.New()
	checks := make(map[string]handler.HealthCheck)

	store, err := openStore(ctx, cfg, defaults, checks, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := service.NewPredictionService(store, gate, &cfg.Leaderboard, logger)
	svc.SetMetrics(m)

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		snapshot, err := redis.NewLeaderboardSnapshot(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, leaderboard will be computed on every read", "error", err)
		} else {
			defer snapshot.Close()
			svc.SetSnapshot(snapshot)
			checks["redis"] = snapshot.Ping
			logger.Info("connected to Redis")
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, svc, m, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := startConsumer(kafkaConsumer); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			if err := kafkaConsumer.Stop(); err != nil {
				logger.Error("failed to stop Kafka consumer", "error", err)
			}
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	var exporter *worker.Exporter
	if cfg.Export.Enabled {
		exporter = worker.NewExporter(svc, &cfg.Export, m, logger)
		if err := exporter.Start(ctx); err != nil {
			logger.Error("failed to start export worker", "error", err)
			os.Exit(1)
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.BotToken, cfg.Auth.MaxAge)
	httpHandler := handler.NewHandler(svc, verifier, cfg, m, logger)
	for name, check := range checks {
		httpHandler.AddHealthCheck(name, check)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"backend", cfg.Store.Backend,
			"deadline", gate.Deadline(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if exporter != nil {
		if err := exporter.Stop(); err != nil {
			logger.Error("failed to stop export worker", "error", err)
		}
	}

	logger.Info("server stopped")
}

// startConsumer waits a bounded time for the first consumer group session
func startConsumer(c *kafka.Consumer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.Start(ctx)
}

// openStore connects the configured backend and registers its health check
func openStore(ctx context.Context, cfg *config.Config, defaults domain.PointsRule, checks map[string]handler.HealthCheck, logger *slog.Logger) (service.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(ctx, defaults); err != nil {
			repo.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		checks["postgres"] = repo.Ping
		logger.Info("connected to PostgreSQL")
		return repo, nil

	case config.BackendFile:
		logger.Info("opening flat-file store", "dir", cfg.Store.DataDir)
		store, err := flatfile.Open(cfg.Store.DataDir, defaults, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
