package domain

import (
	"fmt"
	"strings"
	"time"
)

// MatchStatus represents where a match is in its lifecycle
type MatchStatus string

const (
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusLive      MatchStatus = "live"
	MatchStatusFinished  MatchStatus = "finished"
)

// Valid score bounds for predictions and results
const (
	MinScore = 0
	MaxScore = 99
)

// Match is a single fixture between two teams
type Match struct {
	ID        int64       `json:"id"`
	Team1     string      `json:"team1"`
	Team2     string      `json:"team2"`
	Score1    *int        `json:"score1"`
	Score2    *int        `json:"score2"`
	Status    MatchStatus `json:"status"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Finished reports whether the match has a recorded result
func (m Match) Finished() bool {
	return m.Status == MatchStatusFinished && m.Score1 != nil && m.Score2 != nil
}

// Result returns the final score. ok is false until the match is finished.
func (m Match) Result() (score1, score2 int, ok bool) {
	if !m.Finished() {
		return 0, 0, false
	}
	return *m.Score1, *m.Score2, true
}

// Validate checks the finished/scores invariant and team names
func (m Match) Validate() error {
	if strings.TrimSpace(m.Team1) == "" || strings.TrimSpace(m.Team2) == "" {
		return ErrInvalidTeams
	}
	hasScores := m.Score1 != nil && m.Score2 != nil
	if (m.Status == MatchStatusFinished) != hasScores {
		return fmt.Errorf("%w: status %q with scores %v/%v", ErrInvalidRequest, m.Status, m.Score1 != nil, m.Score2 != nil)
	}
	if hasScores {
		if err := ValidateScores(*m.Score1, *m.Score2); err != nil {
			return err
		}
	}
	return nil
}

// ValidateScores checks both sides of a scoreline are within bounds
func ValidateScores(score1, score2 int) error {
	if score1 < MinScore || score1 > MaxScore || score2 < MinScore || score2 > MaxScore {
		return fmt.Errorf("%w: %d:%d", ErrInvalidRange, score1, score2)
	}
	return nil
}

// MatchAverage is the mean predicted scoreline for one match
type MatchAverage struct {
	Match Match   `json:"match"`
	Avg1  float64 `json:"avg1"`
	Avg2  float64 `json:"avg2"`
	Count int     `json:"count"`
}

// PendingMatchView pairs a pending match with the caller's own prediction
type PendingMatchView struct {
	Match      Match `json:"match"`
	Predicted  bool  `json:"predicted"`
	PredScore1 *int  `json:"pred_score1"`
	PredScore2 *int  `json:"pred_score2"`
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
