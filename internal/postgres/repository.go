package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/service"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ service.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations creates the schema and seeds the points rule singleton
func (r *Repository) RunMigrations(ctx context.Context, defaults domain.PointsRule) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS points_rules (
			id INT PRIMARY KEY CHECK (id = 1),
			exact_points INT NOT NULL DEFAULT 5,
			result_points INT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			team1 TEXT NOT NULL,
			team2 TEXT NOT NULL,
			score1 INT,
			score2 INT,
			status VARCHAR(16) NOT NULL DEFAULT 'scheduled',
			started_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT chk_match_status CHECK (status IN ('scheduled', 'live', 'finished')),
			CONSTRAINT chk_match_result CHECK ((status = 'finished') = (score1 IS NOT NULL AND score2 IS NOT NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			match_id BIGINT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			pred_score1 INT NOT NULL CHECK (pred_score1 BETWEEN 0 AND 99),
			pred_score2 INT NOT NULL CHECK (pred_score2 BETWEEN 0 AND 99),
			points_awarded INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, match_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_match ON predictions(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status, id)`,
		`CREATE MATERIALIZED VIEW IF NOT EXISTS leaderboard AS
			SELECT user_id, SUM(points_awarded)::INT AS points
			FROM predictions
			GROUP BY user_id`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leaderboard_user ON leaderboard(user_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO points_rules (id, exact_points, result_points)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, defaults.ExactPoints, defaults.ResultPoints)
	if err != nil {
		return fmt.Errorf("seeding points rule: %w", err)
	}

	r.logger.Info("database migrations completed")
	return nil
}

// GetRules returns the points rule singleton
func (r *Repository) GetRules(ctx context.Context) (domain.PointsRule, error) {
	return getRules(ctx, r.pool)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRules(ctx context.Context, q querier) (domain.PointsRule, error) {
	var rules domain.PointsRule
	err := q.QueryRow(ctx, `
		SELECT exact_points, result_points, updated_at
		FROM points_rules
		WHERE id = 1
	`).Scan(&rules.ExactPoints, &rules.ResultPoints, &rules.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultPointsRule(), nil
		}
		return domain.PointsRule{}, fmt.Errorf("getting points rule: %w", err)
	}
	return rules, nil
}

// SetRules replaces the points rule singleton
func (r *Repository) SetRules(ctx context.Context, rules domain.PointsRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO points_rules (id, exact_points, result_points, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET exact_points = $1, result_points = $2, updated_at = now()
	`, rules.ExactPoints, rules.ResultPoints)
	if err != nil {
		return fmt.Errorf("setting points rule: %w", err)
	}
	return nil
}

// UpsertUser records a user, keeping the last non-empty username
func (r *Repository) UpsertUser(ctx context.Context, userID int64, username string) error {
	_, err := r.pool.Exec(ctx, upsertUserSQL, userID, username)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

const upsertUserSQL = `
	INSERT INTO users (id, username)
	VALUES ($1, NULLIF($2, ''))
	ON CONFLICT (id)
	DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username)
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
