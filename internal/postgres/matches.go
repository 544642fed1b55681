package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/footballistika/predictor/internal/domain"
)

const matchColumns = `id, team1, team2, score1, score2, status, started_at, updated_at`

func scanMatch(row pgx.Row) (domain.Match, error) {
	var m domain.Match
	err := row.Scan(
		&m.ID,
		&m.Team1,
		&m.Team2,
		&m.Score1,
		&m.Score2,
		&m.Status,
		&m.StartedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func collectMatches(rows pgx.Rows) ([]domain.Match, error) {
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CreateMatch inserts a scheduled match and returns it with its new id
func (r *Repository) CreateMatch(ctx context.Context, team1, team2 string, startedAt *time.Time) (domain.Match, error) {
	query := `
		INSERT INTO matches (team1, team2, status, started_at)
		VALUES ($1, $2, 'scheduled', $3)
		RETURNING ` + matchColumns
	m, err := scanMatch(r.pool.QueryRow(ctx, query, team1, team2, startedAt))
	if err != nil {
		return domain.Match{}, fmt.Errorf("creating match: %w", err)
	}
	return m, nil
}

// UpsertMatch inserts or overwrites a match by id. Leaving the finished state
// resets the points of the match's predictions.
func (r *Repository) UpsertMatch(ctx context.Context, match domain.Match) (domain.Match, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Match{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var team1, team2 string
	var status domain.MatchStatus
	err = tx.QueryRow(ctx, `SELECT team1, team2, status FROM matches WHERE id = $1 FOR UPDATE`, match.ID).
		Scan(&team1, &team2, &status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return domain.Match{}, fmt.Errorf("locking match: %w", err)
	case status == domain.MatchStatusFinished && (team1 != match.Team1 || team2 != match.Team2):
		return domain.Match{}, fmt.Errorf("match %d: %w", match.ID, domain.ErrInvalidTransition)
	}

	query := `
		INSERT INTO matches (id, team1, team2, score1, score2, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id)
		DO UPDATE SET
			team1 = $2,
			team2 = $3,
			score1 = $4,
			score2 = $5,
			status = $6,
			started_at = COALESCE($7, matches.started_at),
			updated_at = now()
		RETURNING ` + matchColumns
	saved, err := scanMatch(tx.QueryRow(ctx, query,
		match.ID,
		match.Team1,
		match.Team2,
		match.Score1,
		match.Score2,
		string(match.Status),
		match.StartedAt,
	))
	if err != nil {
		return domain.Match{}, fmt.Errorf("upserting match: %w", err)
	}

	if !saved.Finished() {
		if _, err := tx.Exec(ctx, `UPDATE predictions SET points_awarded = 0 WHERE match_id = $1`, saved.ID); err != nil {
			return domain.Match{}, fmt.Errorf("resetting points: %w", err)
		}
	}

	// Keep the serial ahead of explicitly inserted ids.
	_, err = tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('matches', 'id'), GREATEST((SELECT MAX(id) FROM matches), 1))`)
	if err != nil {
		return domain.Match{}, fmt.Errorf("advancing match sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, fmt.Errorf("committing match: %w", err)
	}
	return saved, nil
}

// GetMatch retrieves a match by id
func (r *Repository) GetMatch(ctx context.Context, matchID int64) (domain.Match, error) {
	m, err := scanMatch(r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, fmt.Errorf("match %d: %w", matchID, domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// ListMatches retrieves every match ordered by id
func (r *Repository) ListMatches(ctx context.Context) ([]domain.Match, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	return collectMatches(rows)
}

// ListPendingMatches retrieves matches without a result ordered by id
func (r *Repository) ListPendingMatches(ctx context.Context) ([]domain.Match, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+matchColumns+` FROM matches WHERE status <> 'finished' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing pending matches: %w", err)
	}
	return collectMatches(rows)
}

// ListUnpredictedMatches retrieves scheduled matches the user has not predicted
func (r *Repository) ListUnpredictedMatches(ctx context.Context, userID int64) ([]domain.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches m
		WHERE m.status = 'scheduled'
		  AND NOT EXISTS (
			SELECT 1 FROM predictions p
			WHERE p.match_id = m.id AND p.user_id = $1
		  )
		ORDER BY m.id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing unpredicted matches: %w", err)
	}
	return collectMatches(rows)
}
