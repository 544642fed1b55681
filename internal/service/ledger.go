package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/footballistika/predictor/internal/domain"
)

// EnsureUser records the user's latest display name
func (s *PredictionService) EnsureUser(ctx context.Context, userID int64, username string) error {
	if err := s.store.UpsertUser(ctx, userID, username); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// SubmitPrediction checks the prediction window and then appends the prediction
func (s *PredictionService) SubmitPrediction(ctx context.Context, submission domain.PredictionSubmission) (domain.Prediction, error) {
	return s.SubmitPredictionAt(ctx, submission, s.now())
}

// SubmitPredictionAt gates on the time the prediction was made rather than
// the time it is processed. Queued commands use it.
func (s *PredictionService) SubmitPredictionAt(ctx context.Context, submission domain.PredictionSubmission, submittedAt time.Time) (domain.Prediction, error) {
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	if !s.gate.IsOpen(submittedAt) {
		s.metrics.RecordPrediction("window_closed")
		return domain.Prediction{}, domain.ErrWindowClosed
	}
	return s.AppendPrediction(ctx, submission)
}

// AppendPrediction records a prediction. It fails with domain.ErrDuplicateKey if
// the user already predicted this match; predictions are never overwritten.
func (s *PredictionService) AppendPrediction(ctx context.Context, submission domain.PredictionSubmission) (domain.Prediction, error) {
	if err := domain.ValidateScores(submission.Score1, submission.Score2); err != nil {
		s.metrics.RecordPrediction("invalid_range")
		return domain.Prediction{}, err
	}

	prediction := domain.Prediction{
		MatchID:   submission.MatchID,
		UserID:    submission.UserID,
		Username:  submission.Username,
		Score1:    submission.Score1,
		Score2:    submission.Score2,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.AppendPrediction(ctx, prediction); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateKey):
			s.metrics.RecordPrediction("duplicate")
		case domain.IsSoftError(err):
			s.metrics.RecordPrediction("rejected")
		default:
			s.metrics.RecordPrediction("error")
		}
		return domain.Prediction{}, fmt.Errorf("appending prediction: %w", err)
	}

	s.metrics.RecordPrediction("accepted")
	// A first prediction adds the user to the leaderboard with zero points.
	s.invalidateSnapshot(ctx)

	s.logger.Info("prediction recorded",
		"match_id", prediction.MatchID,
		"user_id", prediction.UserID,
		"score", fmt.Sprintf("%d:%d", prediction.Score1, prediction.Score2),
	)
	return prediction, nil
}

// GetPrediction returns the user's prediction for a match, or nil if none exists
func (s *PredictionService) GetPrediction(ctx context.Context, matchID, userID int64) (*domain.Prediction, error) {
	p, err := s.store.GetPrediction(ctx, matchID, userID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListForMatch returns all predictions on one match
func (s *PredictionService) ListForMatch(ctx context.Context, matchID int64) ([]domain.Prediction, error) {
	return s.store.ListMatchPredictions(ctx, matchID)
}

// ListAll returns every prediction
func (s *PredictionService) ListAll(ctx context.Context) ([]domain.Prediction, error) {
	return s.store.ListPredictions(ctx)
}

// PendingPredictions groups predictions on matches without a result by match,
// ordered by match id and then by submission time.
func (s *PredictionService) PendingPredictions(ctx context.Context) ([]domain.MatchPredictions, error) {
	matches, err := s.store.ListPendingMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending matches: %w", err)
	}
	preds, err := s.store.ListPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}

	grouped := make(map[int64][]domain.Prediction)
	for _, p := range preds {
		grouped[p.MatchID] = append(grouped[p.MatchID], p)
	}

	var result []domain.MatchPredictions
	for _, m := range matches {
		records := grouped[m.ID]
		if len(records) == 0 {
			continue
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})
		result = append(result, domain.MatchPredictions{Match: m, Predictions: records})
	}
	return result, nil
}

// ImportPrediction appends a prediction keeping its original timestamp. The
// window gate does not apply; the match must still be scheduled.
func (s *PredictionService) ImportPrediction(ctx context.Context, prediction domain.Prediction) error {
	if err := domain.ValidateScores(prediction.Score1, prediction.Score2); err != nil {
		return err
	}
	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = s.now().UTC()
	}
	prediction.Points = 0
	if err := s.store.AppendPrediction(ctx, prediction); err != nil {
		return fmt.Errorf("importing prediction %d/%d: %w", prediction.MatchID, prediction.UserID, err)
	}
	s.invalidateSnapshot(ctx)
	return nil
}
