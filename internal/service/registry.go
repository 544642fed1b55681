package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/footballistika/predictor/internal/domain"
)

// CreateMatch schedules a new match
func (s *PredictionService) CreateMatch(ctx context.Context, team1, team2 string) (domain.Match, error) {
	team1, team2 = strings.TrimSpace(team1), strings.TrimSpace(team2)
	if team1 == "" || team2 == "" {
		return domain.Match{}, domain.ErrInvalidTeams
	}

	match, err := s.store.CreateMatch(ctx, team1, team2, nil)
	if err != nil {
		return domain.Match{}, fmt.Errorf("creating match: %w", err)
	}

	s.logger.Info("match created", "match_id", match.ID, "team1", team1, "team2", team2)
	return match, nil
}

// MarkFinished records a match result and settles every prediction on it.
// Entering a result for an already finished match overwrites it and re-settles.
func (s *PredictionService) MarkFinished(ctx context.Context, matchID int64, score1, score2 int) (domain.Match, []domain.Award, error) {
	return s.settle(ctx, matchID, score1, score2)
}

// FindMatch returns a match by id
func (s *PredictionService) FindMatch(ctx context.Context, matchID int64) (domain.Match, error) {
	return s.store.GetMatch(ctx, matchID)
}

// ListMatches returns every match ordered by id
func (s *PredictionService) ListMatches(ctx context.Context) ([]domain.Match, error) {
	return s.store.ListMatches(ctx)
}

// ListPending returns matches without a result, oldest first. This is the
// admin's result-entry queue.
func (s *PredictionService) ListPending(ctx context.Context) ([]domain.Match, error) {
	return s.store.ListPendingMatches(ctx)
}

// ListPendingUnpredictedBy returns scheduled matches the user has not
// predicted yet, oldest first.
func (s *PredictionService) ListPendingUnpredictedBy(ctx context.Context, userID int64) ([]domain.Match, error) {
	return s.store.ListUnpredictedMatches(ctx, userID)
}

// NextPendingForResult returns the head of the result-entry queue
func (s *PredictionService) NextPendingForResult(ctx context.Context) (*domain.Match, error) {
	matches, err := s.store.ListPendingMatches(ctx)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// NextForPrediction returns the next match the user should predict
func (s *PredictionService) NextForPrediction(ctx context.Context, userID int64) (*domain.Match, error) {
	matches, err := s.store.ListUnpredictedMatches(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// ImportMatch inserts or overwrites a match by id. A finished match that
// arrives with a result is settled so imported points are consistent.
func (s *PredictionService) ImportMatch(ctx context.Context, match domain.Match) (domain.Match, error) {
	if err := match.Validate(); err != nil {
		return domain.Match{}, err
	}

	saved, err := s.store.UpsertMatch(ctx, match)
	if err != nil {
		return domain.Match{}, fmt.Errorf("importing match %d: %w", match.ID, err)
	}

	if score1, score2, ok := saved.Result(); ok {
		if _, _, err := s.settle(ctx, saved.ID, score1, score2); err != nil {
			return domain.Match{}, err
		}
	}
	return saved, nil
}

// PendingWithUserPredictions lists scheduled matches with the user's own
// prediction attached where one exists.
func (s *PredictionService) PendingWithUserPredictions(ctx context.Context, userID int64) ([]domain.PendingMatchView, error) {
	matches, err := s.store.ListPendingMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending matches: %w", err)
	}
	preds, err := s.store.ListUserPredictions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user predictions: %w", err)
	}

	byMatch := make(map[int64]domain.Prediction, len(preds))
	for _, p := range preds {
		byMatch[p.MatchID] = p
	}

	views := make([]domain.PendingMatchView, 0, len(matches))
	for _, m := range matches {
		if m.Status != domain.MatchStatusScheduled {
			continue
		}
		view := domain.PendingMatchView{Match: m}
		if p, ok := byMatch[m.ID]; ok {
			view.Predicted = true
			view.PredScore1 = domain.IntPtr(p.Score1)
			view.PredScore2 = domain.IntPtr(p.Score2)
		}
		views = append(views, view)
	}
	return views, nil
}
