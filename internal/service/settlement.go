package service

import (
	"context"
	"fmt"
	"time"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/scoring"
)

// awardPoints is the settlement award function: points are always recomputed
// from the scorelines, never added to a previous value.
func awardPoints(real1, real2 int) AwardFunc {
	return func(rules domain.PointsRule, p domain.Prediction) int {
		return scoring.Points(rules, real1, real2, p.Score1, p.Score2)
	}
}

// Settle recomputes the points of every prediction on a match for the given
// result. It is idempotent: repeating it with the same result leaves totals
// unchanged, and a corrected result replaces the previous points.
func (s *PredictionService) Settle(ctx context.Context, matchID int64, real1, real2 int) ([]domain.Award, error) {
	_, awards, err := s.settle(ctx, matchID, real1, real2)
	return awards, err
}

func (s *PredictionService) settle(ctx context.Context, matchID int64, real1, real2 int) (domain.Match, []domain.Award, error) {
	if err := domain.ValidateScores(real1, real2); err != nil {
		return domain.Match{}, nil, err
	}

	start := time.Now()

	match, awards, err := s.store.SettleMatch(ctx, matchID, real1, real2, awardPoints(real1, real2))
	if err != nil {
		s.metrics.RecordSettlement("error", time.Since(start).Seconds(), 0)
		return domain.Match{}, nil, fmt.Errorf("settling match %d: %w", matchID, err)
	}
	if awards == nil {
		awards = []domain.Award{}
	}

	total := 0
	for _, a := range awards {
		total += a.Points
	}
	s.metrics.RecordSettlement("ok", time.Since(start).Seconds(), total)
	s.invalidateSnapshot(ctx)

	s.logger.Info("match settled",
		"match_id", matchID,
		"result", fmt.Sprintf("%d:%d", real1, real2),
		"predictions", len(awards),
		"points", total,
	)
	return match, awards, nil
}

// Rules returns the current points rule
func (s *PredictionService) Rules(ctx context.Context) (domain.PointsRule, error) {
	return s.store.GetRules(ctx)
}

// UpdateRules replaces the points rule and re-settles every finished match,
// so all past settlements are rescaled to the new weights.
func (s *PredictionService) UpdateRules(ctx context.Context, rules domain.PointsRule) (domain.PointsRule, error) {
	if err := rules.Validate(); err != nil {
		return domain.PointsRule{}, err
	}
	if err := s.store.SetRules(ctx, rules); err != nil {
		return domain.PointsRule{}, fmt.Errorf("saving rules: %w", err)
	}

	matches, err := s.store.ListMatches(ctx)
	if err != nil {
		return domain.PointsRule{}, fmt.Errorf("listing matches: %w", err)
	}
	resettled := 0
	for _, m := range matches {
		score1, score2, ok := m.Result()
		if !ok {
			continue
		}
		if _, _, err := s.settle(ctx, m.ID, score1, score2); err != nil {
			return domain.PointsRule{}, err
		}
		resettled++
	}

	s.logger.Info("points rule updated",
		"exact_points", rules.ExactPoints,
		"result_points", rules.ResultPoints,
		"resettled_matches", resettled,
	)
	return s.store.GetRules(ctx)
}
