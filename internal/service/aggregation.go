package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/scoring"
)

// Leaderboard returns users ordered by points descending, ties broken by user
// id ascending. The Redis snapshot is used while it is valid; otherwise the
// ranking is rebuilt from the store and saved back.
func (s *PredictionService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	var (
		generation int64
		canSave    bool
	)
	if s.snapshot != nil {
		if s.snapshotDirty.Load() {
			// A previous invalidation failed; retry before trusting the cache.
			if err := s.snapshot.Invalidate(ctx); err == nil {
				s.snapshotDirty.Store(false)
			}
		}
		if !s.snapshotDirty.Load() {
			entries, gen, ok, err := s.snapshot.Load(ctx)
			switch {
			case err != nil:
				s.logger.Warn("failed to load leaderboard snapshot", "error", err)
			case ok:
				s.metrics.RecordLeaderboardRead("snapshot")
				return entries, nil
			default:
				generation, canSave = gen, true
			}
		}
	}

	totals, err := s.store.PointTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading point totals: %w", err)
	}
	entries := RankTotals(totals)
	s.metrics.RecordLeaderboardRead("store")

	if canSave {
		if err := s.snapshot.Save(ctx, generation, entries); err != nil {
			s.logger.Warn("failed to save leaderboard snapshot", "error", err)
		}
	}
	return entries, nil
}

// RankTotals sorts point totals and assigns 1-based ranks
func RankTotals(totals []domain.PointsTotal) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(totals))
	for i, t := range totals {
		entries[i] = domain.LeaderboardEntry{
			UserID:   t.UserID,
			Username: t.Username,
			Points:   t.Points,
		}
	}
	slices.SortFunc(entries, func(a, b domain.LeaderboardEntry) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// userAccuracy accumulates one user's finished-match predictions
type userAccuracy struct {
	userID      int64
	username    string
	predictions int
	correct     int
	goalSum     float64
}

// ComputeAccuracy builds accuracy rows from predictions on finished matches only.
// Predictions on pending matches are not part of either denominator.
func ComputeAccuracy(matches []domain.Match, predictions []domain.Prediction) []domain.AccuracyEntry {
	finished := make(map[int64]domain.Match)
	for _, m := range matches {
		if m.Finished() {
			finished[m.ID] = m
		}
	}

	byUser := make(map[int64]*userAccuracy)
	for _, p := range predictions {
		m, ok := finished[p.MatchID]
		if !ok {
			continue
		}
		real1, real2, _ := m.Result()
		acc := byUser[p.UserID]
		if acc == nil {
			acc = &userAccuracy{userID: p.UserID}
			byUser[p.UserID] = acc
		}
		if p.Username != "" {
			acc.username = p.Username
		}
		correct, goal := scoring.Accuracy(real1, real2, p.Score1, p.Score2)
		acc.predictions++
		if correct {
			acc.correct++
		}
		acc.goalSum += goal
	}

	rows := make([]domain.AccuracyEntry, 0, len(byUser))
	for _, acc := range byUser {
		rows = append(rows, domain.AccuracyEntry{
			UserID:                acc.userID,
			Username:              acc.username,
			Predictions:           acc.predictions,
			ResultAccuracyPercent: 100 * float64(acc.correct) / float64(acc.predictions),
			GoalAccuracyPercent:   acc.goalSum / float64(acc.predictions),
		})
	}
	return rows
}

func rankAccuracy(rows []domain.AccuracyEntry, percent func(domain.AccuracyEntry) float64) []domain.AccuracyEntry {
	slices.SortFunc(rows, func(a, b domain.AccuracyEntry) int {
		if c := cmp.Compare(percent(b), percent(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

func (s *PredictionService) accuracyRows(ctx context.Context) ([]domain.AccuracyEntry, error) {
	matches, err := s.store.ListMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	preds, err := s.store.ListPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	return ComputeAccuracy(matches, preds), nil
}

// ResultAccuracyLeaderboard ranks users by the share of finished-match
// predictions with the right outcome.
func (s *PredictionService) ResultAccuracyLeaderboard(ctx context.Context) ([]domain.AccuracyEntry, error) {
	rows, err := s.accuracyRows(ctx)
	if err != nil {
		return nil, err
	}
	return rankAccuracy(rows, func(e domain.AccuracyEntry) float64 { return e.ResultAccuracyPercent }), nil
}

// GoalAccuracyLeaderboard ranks users by average goal accuracy on finished matches
func (s *PredictionService) GoalAccuracyLeaderboard(ctx context.Context) ([]domain.AccuracyEntry, error) {
	rows, err := s.accuracyRows(ctx)
	if err != nil {
		return nil, err
	}
	return rankAccuracy(rows, func(e domain.AccuracyEntry) float64 { return e.GoalAccuracyPercent }), nil
}

// AveragePerMatch returns the mean predicted scoreline per match, ordered by
// match id. Matches nobody predicted are omitted.
func (s *PredictionService) AveragePerMatch(ctx context.Context, includeFinished bool) ([]domain.MatchAverage, error) {
	matches, err := s.store.ListMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	preds, err := s.store.ListPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	return AverageScores(matches, preds, includeFinished), nil
}

// AverageScores is the pure part of AveragePerMatch
func AverageScores(matches []domain.Match, predictions []domain.Prediction, includeFinished bool) []domain.MatchAverage {
	type sums struct {
		total1, total2, count int
	}
	byMatch := make(map[int64]*sums)
	for _, p := range predictions {
		acc := byMatch[p.MatchID]
		if acc == nil {
			acc = &sums{}
			byMatch[p.MatchID] = acc
		}
		acc.total1 += p.Score1
		acc.total2 += p.Score2
		acc.count++
	}

	sorted := slices.Clone(matches)
	slices.SortFunc(sorted, func(a, b domain.Match) int { return cmp.Compare(a.ID, b.ID) })

	var result []domain.MatchAverage
	for _, m := range sorted {
		if !includeFinished && m.Status == domain.MatchStatusFinished {
			continue
		}
		acc := byMatch[m.ID]
		if acc == nil || acc.count == 0 {
			continue
		}
		result = append(result, domain.MatchAverage{
			Match: m,
			Avg1:  float64(acc.total1) / float64(acc.count),
			Avg2:  float64(acc.total2) / float64(acc.count),
			Count: acc.count,
		})
	}
	return result
}

// TopWithUser truncates an already sorted ranking to limit rows and also
// returns the caller's own row with its rank, nil if the caller has no row.
func TopWithUser[T domain.Ranked[T]](rows []T, userID int64, limit int) ([]T, *T) {
	top := make([]T, 0, min(limit, len(rows)))
	var userRow *T
	for i, row := range rows {
		entry := row.WithRank(i + 1)
		if i < limit {
			top = append(top, entry)
		}
		if userRow == nil && row.RowUserID() == userID {
			userRow = &entry
		}
	}
	return top, userRow
}

// TopLimit applies the configured default and maximum to a requested row count
func (s *PredictionService) TopLimit(limit int) int {
	return s.limit(limit)
}

// UserStats returns the profile summary for one user
func (s *PredictionService) UserStats(ctx context.Context, userID int64) (domain.UserStats, error) {
	var stats domain.UserStats

	preds, err := s.store.ListUserPredictions(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("listing user predictions: %w", err)
	}
	stats.Predictions = len(preds)

	rows, err := s.accuracyRows(ctx)
	if err != nil {
		return stats, err
	}
	for _, row := range rows {
		if row.UserID == userID {
			stats.ResultAccuracyPercent = row.ResultAccuracyPercent
			stats.GoalAccuracyPercent = row.GoalAccuracyPercent
			break
		}
	}

	board, err := s.Leaderboard(ctx)
	if err != nil {
		return stats, err
	}
	for _, entry := range board {
		if entry.UserID == userID {
			stats.Place = entry.Rank
			stats.Points = entry.Points
			break
		}
	}
	return stats, nil
}
