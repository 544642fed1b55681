package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/flatfile"
	"github.com/footballistika/predictor/internal/postgres"
	"github.com/footballistika/predictor/internal/service"
	"github.com/footballistika/predictor/internal/window"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	source := flag.String("from", "data", "Flat-file directory to import")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	if cfg.Store.Backend != config.BackendPostgres {
		logger.Error("importer writes to the postgres backend", "backend", cfg.Store.Backend)
		os.Exit(1)
	}

	ctx := context.Background()
	defaults := domain.PointsRule{ExactPoints: cfg.Game.ExactPoints, ResultPoints: cfg.Game.ResultPoints}

	src, err := flatfile.Open(*source, defaults, logger)
	if err != nil {
		logger.Error("failed to open source", "dir", *source, "error", err)
		os.Exit(1)
	}
	defer src.Close()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx, defaults); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	gate, err := window.NewGate(cfg.Game.Timezone, cfg.Game.Deadline)
	if err != nil {
		logger.Error("invalid prediction window", "error", err)
		os.Exit(1)
	}
	svc := service.NewPredictionService(repo, gate, &cfg.Leaderboard, logger)

	stats, err := importAll(ctx, src, svc)
	if err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("imported %d matches, %d predictions (%d duplicates skipped)\n",
		stats.matches, stats.predictions, stats.duplicates)
}

type importStats struct {
	matches     int
	predictions int
	duplicates  int
}

// importAll copies every match and prediction from src. Each match is
// first written as scheduled so its predictions can be appended, then given
// its recorded result, which re-settles it under the target's rules.
func importAll(ctx context.Context, src *flatfile.Store, svc *service.PredictionService) (importStats, error) {
	var stats importStats

	matches, err := src.ListMatches(ctx)
	if err != nil {
		return stats, err
	}

	for _, m := range matches {
		open := m
		open.Status = domain.MatchStatusScheduled
		open.Score1, open.Score2 = nil, nil
		if _, err := svc.ImportMatch(ctx, open); err != nil {
			return stats, err
		}

		preds, err := src.ListMatchPredictions(ctx, m.ID)
		if err != nil {
			return stats, err
		}
		for _, p := range preds {
			if err := svc.ImportPrediction(ctx, p); err != nil {
				if errors.Is(err, domain.ErrDuplicateKey) {
					stats.duplicates++
					continue
				}
				return stats, err
			}
			stats.predictions++
		}

		if m.Status != domain.MatchStatusScheduled {
			if _, err := svc.ImportMatch(ctx, m); err != nil {
				return stats, err
			}
		}
		stats.matches++
	}
	return stats, nil
}
