package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
)

// memberWidth zero-pads user ids so equal scores order by user id ascending
const memberWidth = 20

// LeaderboardSnapshot caches the ranked points leaderboard in a sorted set.
// Scores are negated points, so ZRANGE returns points descending and ties
// fall back to the member string, i.e. the padded user id.
type LeaderboardSnapshot struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewLeaderboardSnapshot connects to Redis
func NewLeaderboardSnapshot(cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardSnapshot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &LeaderboardSnapshot{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *LeaderboardSnapshot) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *LeaderboardSnapshot) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// rankingKey returns the Redis key for the points sorted set
func (s *LeaderboardSnapshot) rankingKey() string {
	return fmt.Sprintf("%s:leaderboard:points", s.prefix)
}

// namesKey returns the Redis key for the user id -> username hash
func (s *LeaderboardSnapshot) namesKey() string {
	return fmt.Sprintf("%s:leaderboard:names", s.prefix)
}

// metaKey returns the Redis key for snapshot metadata
func (s *LeaderboardSnapshot) metaKey() string {
	return fmt.Sprintf("%s:leaderboard:meta", s.prefix)
}

// generationKey returns the Redis key for the invalidation counter
func (s *LeaderboardSnapshot) generationKey() string {
	return fmt.Sprintf("%s:leaderboard:generation", s.prefix)
}

func memberFor(userID int64) string {
	return fmt.Sprintf("%0*d", memberWidth, userID)
}

// decodeEntries turns ZRANGE results into ranked rows
func decodeEntries(results []redis.Z, names map[string]string) ([]domain.LeaderboardEntry, error) {
	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type %T", result.Member)
		}
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing member %q: %w", member, err)
		}
		entries[i] = domain.LeaderboardEntry{
			Rank:     i + 1,
			UserID:   userID,
			Username: names[strconv.FormatInt(userID, 10)],
			Points:   int(-result.Score),
		}
	}
	return entries, nil
}

// Load reads the snapshot and the current generation in one transaction
func (s *LeaderboardSnapshot) Load(ctx context.Context) ([]domain.LeaderboardEntry, int64, bool, error) {
	var (
		genCmd     *redis.StringCmd
		metaCmd    *redis.MapStringStringCmd
		rankingCmd *redis.ZSliceCmd
		namesCmd   *redis.MapStringStringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		genCmd = pipe.Get(ctx, s.generationKey())
		metaCmd = pipe.HGetAll(ctx, s.metaKey())
		rankingCmd = pipe.ZRangeWithScores(ctx, s.rankingKey(), 0, -1)
		namesCmd = pipe.HGetAll(ctx, s.namesKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("loading snapshot: %w", err)
	}

	generation, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("reading generation: %w", err)
	}

	meta := metaCmd.Val()
	saved, ok := meta["generation"]
	if !ok || saved != strconv.FormatInt(generation, 10) {
		return nil, generation, false, nil
	}

	entries, err := decodeEntries(rankingCmd.Val(), namesCmd.Val())
	if err != nil {
		return nil, generation, false, err
	}
	return entries, generation, true, nil
}

// Save replaces the snapshot unless the generation moved on since it was
// observed. The check and the write run under WATCH.
func (s *LeaderboardSnapshot) Save(ctx context.Context, generation int64, entries []domain.LeaderboardEntry) error {
	genKey := s.generationKey()
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.rankingKey(), s.namesKey())
			if len(entries) > 0 {
				members := make([]redis.Z, len(entries))
				names := make(map[string]any, len(entries))
				for i, e := range entries {
					members[i] = redis.Z{Score: float64(-e.Points), Member: memberFor(e.UserID)}
					names[strconv.FormatInt(e.UserID, 10)] = e.Username
				}
				pipe.ZAdd(ctx, s.rankingKey(), members...)
				pipe.HSet(ctx, s.namesKey(), names)
			}
			pipe.HSet(ctx, s.metaKey(),
				"generation", generation,
				"size", len(entries),
				"built_at", time.Now().UTC().Format(time.RFC3339),
			)
			return nil
		})
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Debug("leaderboard snapshot invalidated during save", "generation", generation)
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Invalidate starts a new generation, making the stored snapshot stale
func (s *LeaderboardSnapshot) Invalidate(ctx context.Context) error {
	if err := s.client.Incr(ctx, s.generationKey()).Err(); err != nil {
		return fmt.Errorf("invalidating snapshot: %w", err)
	}
	return nil
}
