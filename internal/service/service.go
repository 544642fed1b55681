package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/metrics"
	"github.com/footballistika/predictor/internal/window"
)

// AwardFunc computes the points for one prediction during settlement
type AwardFunc func(rules domain.PointsRule, p domain.Prediction) int

// Store is the persistence boundary the engine is written against. Both the
// relational and the flat-file backends implement it.
type Store interface {
	CreateMatch(ctx context.Context, team1, team2 string, startedAt *time.Time) (domain.Match, error)
	// UpsertMatch inserts or overwrites a match by id. Renaming the teams of a
	// finished match fails with domain.ErrInvalidTransition.
	UpsertMatch(ctx context.Context, match domain.Match) (domain.Match, error)
	GetMatch(ctx context.Context, matchID int64) (domain.Match, error)
	ListMatches(ctx context.Context) ([]domain.Match, error)
	ListPendingMatches(ctx context.Context) ([]domain.Match, error)
	ListUnpredictedMatches(ctx context.Context, userID int64) ([]domain.Match, error)

	UpsertUser(ctx context.Context, userID int64, username string) error
	// AppendPrediction inserts a prediction and upserts its user atomically.
	// A second prediction for the same (user, match) fails with domain.ErrDuplicateKey.
	AppendPrediction(ctx context.Context, prediction domain.Prediction) error
	GetPrediction(ctx context.Context, matchID, userID int64) (domain.Prediction, error)
	ListPredictions(ctx context.Context) ([]domain.Prediction, error)
	ListMatchPredictions(ctx context.Context, matchID int64) ([]domain.Prediction, error)
	ListUserPredictions(ctx context.Context, userID int64) ([]domain.Prediction, error)

	GetRules(ctx context.Context) (domain.PointsRule, error)
	SetRules(ctx context.Context, rules domain.PointsRule) error

	// SettleMatch records the result and replaces points_awarded on every
	// prediction of the match in a single atomic step.
	SettleMatch(ctx context.Context, matchID int64, score1, score2 int, award AwardFunc) (domain.Match, []domain.Award, error)
	// PointTotals returns sum(points_awarded) per user who has predicted.
	PointTotals(ctx context.Context) ([]domain.PointsTotal, error)

	Close() error
}

// Snapshot caches the ranked points leaderboard between settlements.
// Every Invalidate starts a new generation; a snapshot is only valid for the
// generation it was built under.
type Snapshot interface {
	// Load returns the cached rows and ok=true when a valid snapshot exists.
	// The current generation is returned either way.
	Load(ctx context.Context) (entries []domain.LeaderboardEntry, generation int64, ok bool, err error)
	// Save stores rows built after observing generation. It is a no-op when
	// the snapshot was invalidated in the meantime.
	Save(ctx context.Context, generation int64, entries []domain.LeaderboardEntry) error
	Invalidate(ctx context.Context) error
}

// PredictionService provides the prediction game engine: match registry,
// prediction ledger, settlement and aggregation.
type PredictionService struct {
	store    Store
	snapshot Snapshot
	gate     *window.Gate
	config   *config.LeaderboardConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	snapshotDirty atomic.Bool
}

// NewPredictionService creates a new prediction service
func NewPredictionService(
	store Store,
	gate *window.Gate,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		store:  store,
		gate:   gate,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetSnapshot enables the leaderboard snapshot cache
func (s *PredictionService) SetSnapshot(snapshot Snapshot) {
	s.snapshot = snapshot
}

// SetMetrics enables metrics recording
func (s *PredictionService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the wall clock used for timestamps and the window gate
func (s *PredictionService) SetClock(now func() time.Time) {
	s.now = now
}

// Gate returns the prediction window gate
func (s *PredictionService) Gate() *window.Gate {
	return s.gate
}

// WindowOpen reports whether predictions are accepted right now
func (s *PredictionService) WindowOpen() bool {
	return s.gate.IsOpen(s.now())
}

// invalidateSnapshot drops the cached leaderboard so the next read rebuilds it
func (s *PredictionService) invalidateSnapshot(ctx context.Context) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.Invalidate(ctx); err != nil {
		// Bypass the cache on this instance until a rebuild succeeds.
		s.snapshotDirty.Store(true)
		s.logger.Error("failed to invalidate leaderboard snapshot", "error", err)
	}
}

func (s *PredictionService) limit(n int) int {
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}
	return n
}
