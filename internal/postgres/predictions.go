package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/service"
)

const predictionSelect = `
	SELECT p.match_id, p.user_id, COALESCE(u.username, ''), p.pred_score1, p.pred_score2, p.created_at, p.points_awarded
	FROM predictions p
	LEFT JOIN users u ON u.id = p.user_id
`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	err := row.Scan(
		&p.MatchID,
		&p.UserID,
		&p.Username,
		&p.Score1,
		&p.Score2,
		&p.CreatedAt,
		&p.Points,
	)
	return p, err
}

func collectPredictions(rows pgx.Rows) ([]domain.Prediction, error) {
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// AppendPrediction inserts a prediction on a scheduled match and upserts its
// user in one transaction. The primary key makes concurrent duplicates fail.
func (r *Repository) AppendPrediction(ctx context.Context, prediction domain.Prediction) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.MatchStatus
	err = tx.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1 FOR SHARE`, prediction.MatchID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("match %d: %w", prediction.MatchID, domain.ErrNotFound)
		}
		return fmt.Errorf("checking match: %w", err)
	}
	if status != domain.MatchStatusScheduled {
		return fmt.Errorf("match %d is %s: %w", prediction.MatchID, status, domain.ErrMatchNotAvailable)
	}

	if _, err := tx.Exec(ctx, upsertUserSQL, prediction.UserID, prediction.Username); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO predictions (user_id, match_id, pred_score1, pred_score2, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, prediction.UserID, prediction.MatchID, prediction.Score1, prediction.Score2, nullTime(prediction))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %d match %d: %w", prediction.UserID, prediction.MatchID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting prediction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %d match %d: %w", prediction.UserID, prediction.MatchID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("committing prediction: %w", err)
	}
	return nil
}

func nullTime(p domain.Prediction) any {
	if p.CreatedAt.IsZero() {
		return nil
	}
	return p.CreatedAt
}

// GetPrediction retrieves one user's prediction for a match
func (r *Repository) GetPrediction(ctx context.Context, matchID, userID int64) (domain.Prediction, error) {
	p, err := scanPrediction(r.pool.QueryRow(ctx, predictionSelect+` WHERE p.match_id = $1 AND p.user_id = $2`, matchID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, fmt.Errorf("prediction user %d match %d: %w", userID, matchID, domain.ErrNotFound)
		}
		return domain.Prediction{}, fmt.Errorf("getting prediction: %w", err)
	}
	return p, nil
}

// ListPredictions retrieves every prediction
func (r *Repository) ListPredictions(ctx context.Context) ([]domain.Prediction, error) {
	rows, err := r.pool.Query(ctx, predictionSelect+` ORDER BY p.match_id, p.created_at, p.user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	return collectPredictions(rows)
}

// ListMatchPredictions retrieves the predictions on one match
func (r *Repository) ListMatchPredictions(ctx context.Context, matchID int64) ([]domain.Prediction, error) {
	rows, err := r.pool.Query(ctx, predictionSelect+` WHERE p.match_id = $1 ORDER BY p.created_at, p.user_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing match predictions: %w", err)
	}
	return collectPredictions(rows)
}

// ListUserPredictions retrieves one user's predictions
func (r *Repository) ListUserPredictions(ctx context.Context, userID int64) ([]domain.Prediction, error) {
	rows, err := r.pool.Query(ctx, predictionSelect+` WHERE p.user_id = $1 ORDER BY p.match_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user predictions: %w", err)
	}
	return collectPredictions(rows)
}

// SettleMatch records the result and replaces points_awarded on every
// prediction of the match inside one transaction, so readers never see a
// half-settled match.
func (r *Repository) SettleMatch(ctx context.Context, matchID int64, score1, score2 int, award service.AwardFunc) (domain.Match, []domain.Award, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Match{}, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	match, err := scanMatch(tx.QueryRow(ctx, `
		UPDATE matches
		SET score1 = $2, score2 = $3, status = 'finished', updated_at = now()
		WHERE id = $1
		RETURNING `+matchColumns, matchID, score1, score2))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, nil, fmt.Errorf("match %d: %w", matchID, domain.ErrNotFound)
		}
		return domain.Match{}, nil, fmt.Errorf("recording result: %w", err)
	}

	rules, err := getRules(ctx, tx)
	if err != nil {
		return domain.Match{}, nil, err
	}

	rows, err := tx.Query(ctx, predictionSelect+` WHERE p.match_id = $1 ORDER BY p.created_at, p.user_id FOR UPDATE OF p`, matchID)
	if err != nil {
		return domain.Match{}, nil, fmt.Errorf("loading predictions: %w", err)
	}
	preds, err := collectPredictions(rows)
	if err != nil {
		return domain.Match{}, nil, err
	}

	awards := make([]domain.Award, 0, len(preds))
	batch := &pgx.Batch{}
	for _, p := range preds {
		points := award(rules, p)
		batch.Queue(`UPDATE predictions SET points_awarded = $3 WHERE user_id = $1 AND match_id = $2`,
			p.UserID, p.MatchID, points)
		awards = append(awards, domain.Award{UserID: p.UserID, Username: p.Username, Points: points})
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for range preds {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return domain.Match{}, nil, fmt.Errorf("updating points: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return domain.Match{}, nil, fmt.Errorf("updating points: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, nil, fmt.Errorf("committing settlement: %w", err)
	}
	return match, awards, nil
}

// PointTotals refreshes the leaderboard view and returns its rows
func (r *Repository) PointTotals(ctx context.Context) ([]domain.PointsTotal, error) {
	if _, err := r.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY leaderboard`); err != nil {
		return nil, fmt.Errorf("refreshing leaderboard: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT l.user_id, COALESCE(u.username, ''), l.points
		FROM leaderboard l
		LEFT JOIN users u ON u.id = l.user_id
		ORDER BY l.points DESC, l.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	defer rows.Close()

	var totals []domain.PointsTotal
	for rows.Next() {
		var t domain.PointsTotal
		if err := rows.Scan(&t.UserID, &t.Username, &t.Points); err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
