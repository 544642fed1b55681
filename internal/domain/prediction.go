package domain

import "time"

// Prediction is one user's predicted scoreline for one match
type Prediction struct {
	MatchID   int64     `json:"match_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Score1    int       `json:"pred_score1"`
	Score2    int       `json:"pred_score2"`
	CreatedAt time.Time `json:"timestamp"`
	Points    int       `json:"points_awarded"`
}

// PredictionSubmission represents a request to record a prediction
type PredictionSubmission struct {
	MatchID  int64  `json:"match_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Score1   int    `json:"score1"`
	Score2   int    `json:"score2"`
}

// MatchPredictions groups the predictions made on one match
type MatchPredictions struct {
	Match       Match        `json:"match"`
	Predictions []Prediction `json:"predictions"`
}
