package domain

// User is a player identified by the auth provider's numeric id
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// UserStats is the profile summary shown to a single user
type UserStats struct {
	Predictions           int     `json:"predictions"`
	ResultAccuracyPercent float64 `json:"result_accuracy_percent"`
	GoalAccuracyPercent   float64 `json:"goal_accuracy_percent"`
	Place                 int     `json:"place"`
	Points                int     `json:"points"`
}
