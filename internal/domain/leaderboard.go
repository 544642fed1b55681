package domain

import (
	"time"
)

// Default points rule
const (
	DefaultExactPoints  = 5
	DefaultResultPoints = 1
)

// PointsRule is the global scoring configuration
type PointsRule struct {
	ExactPoints  int       `json:"exact_points"`
	ResultPoints int       `json:"result_points"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// DefaultPointsRule returns the 5/1 rule
func DefaultPointsRule() PointsRule {
	return PointsRule{
		ExactPoints:  DefaultExactPoints,
		ResultPoints: DefaultResultPoints,
	}
}

// Validate rejects negative weights and an exact tier below the outcome tier
func (r PointsRule) Validate() error {
	if r.ExactPoints < 0 || r.ResultPoints < 0 || r.ExactPoints < r.ResultPoints {
		return ErrInvalidRules
	}
	return nil
}

// PointsTotal is a user's summed points as read from the store
type PointsTotal struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// LeaderboardEntry represents a single entry in the points leaderboard
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// AccuracyEntry is one row of the result- or goal-accuracy leaderboards
type AccuracyEntry struct {
	Rank                  int     `json:"rank"`
	UserID                int64   `json:"user_id"`
	Username              string  `json:"username"`
	Predictions           int     `json:"predictions"`
	ResultAccuracyPercent float64 `json:"result_accuracy_percent"`
	GoalAccuracyPercent   float64 `json:"goal_accuracy_percent"`
}

// Award is the settlement outcome for one prediction
type Award struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// Ranked is implemented by every leaderboard row type
type Ranked[T any] interface {
	WithRank(rank int) T
	RowUserID() int64
}

// WithRank returns a copy of the row carrying the given rank
func (e LeaderboardEntry) WithRank(rank int) LeaderboardEntry {
	e.Rank = rank
	return e
}

// WithRank returns a copy of the row carrying the given rank
func (e AccuracyEntry) WithRank(rank int) AccuracyEntry {
	e.Rank = rank
	return e
}

// RowUserID returns the user the row belongs to
func (e LeaderboardEntry) RowUserID() int64 { return e.UserID }

// RowUserID returns the user the row belongs to
func (e AccuracyEntry) RowUserID() int64 { return e.UserID }
