package flatfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/footballistika/predictor/internal/domain"
)

// Table file names inside the data directory
const (
	MatchesFile     = "matches.txt"
	PredictionsFile = "predictions.txt"
	LeaderboardFile = "leaderboard.txt"
	AccuracyFile    = "accuracy.txt"
	UsersFile       = "users.txt"
)

// file status values; "pending" is the flat-file name for scheduled
const (
	statusPending  = "pending"
	statusLive     = "live"
	statusFinished = "finished"
)

// predictionRecord is a prediction row; settled is false while points is null
type predictionRecord struct {
	domain.Prediction
	settled bool
}

var matchCodec = codec[domain.Match]{
	file:   MatchesFile,
	header: []string{"id", "team1", "team2", "score1", "score2", "status"},
	parse: func(f []string) (domain.Match, error) {
		if len(f) != 6 {
			return domain.Match{}, fmt.Errorf("want 6 fields, got %d", len(f))
		}
		id, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return domain.Match{}, err
		}
		score1, err := parseOptionalInt(f[3])
		if err != nil {
			return domain.Match{}, err
		}
		score2, err := parseOptionalInt(f[4])
		if err != nil {
			return domain.Match{}, err
		}
		status, err := parseStatus(f[5])
		if err != nil {
			return domain.Match{}, err
		}
		m := domain.Match{
			ID:     id,
			Team1:  f[1],
			Team2:  f[2],
			Score1: score1,
			Score2: score2,
			Status: status,
		}
		if err := m.Validate(); err != nil {
			return domain.Match{}, err
		}
		return m, nil
	},
	format: func(m domain.Match) []string {
		return []string{
			strconv.FormatInt(m.ID, 10),
			cleanText(m.Team1),
			cleanText(m.Team2),
			formatOptionalInt(m.Score1),
			formatOptionalInt(m.Score2),
			formatStatus(m.Status),
		}
	},
}

var predictionCodec = codec[predictionRecord]{
	file:   PredictionsFile,
	header: []string{"match_id", "user_id", "username", "pred_score1", "pred_score2", "created_at", "points"},
	parse: func(f []string) (predictionRecord, error) {
		if len(f) < 5 {
			return predictionRecord{}, fmt.Errorf("want at least 5 fields, got %d", len(f))
		}
		var (
			rec predictionRecord
			err error
		)
		if rec.MatchID, err = strconv.ParseInt(f[0], 10, 64); err != nil {
			return rec, err
		}
		if rec.UserID, err = strconv.ParseInt(f[1], 10, 64); err != nil {
			return rec, err
		}
		rec.Username = parseText(f[2])
		if rec.Score1, err = strconv.Atoi(f[3]); err != nil {
			return rec, err
		}
		if rec.Score2, err = strconv.Atoi(f[4]); err != nil {
			return rec, err
		}
		if err := domain.ValidateScores(rec.Score1, rec.Score2); err != nil {
			return rec, err
		}
		if len(f) > 5 && !isNull(f[5]) {
			if rec.CreatedAt, err = time.Parse(time.RFC3339, f[5]); err != nil {
				return rec, err
			}
		}
		if len(f) > 6 {
			points, err := parseOptionalInt(f[6])
			if err != nil {
				return rec, err
			}
			if points != nil {
				rec.Points, rec.settled = *points, true
			}
		}
		return rec, nil
	},
	format: func(r predictionRecord) []string {
		created := nullField
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		points := nullField
		if r.settled {
			points = strconv.Itoa(r.Points)
		}
		return []string{
			strconv.FormatInt(r.MatchID, 10),
			strconv.FormatInt(r.UserID, 10),
			formatText(r.Username),
			strconv.Itoa(r.Score1),
			strconv.Itoa(r.Score2),
			created,
			points,
		}
	},
}

// userCodec holds the latest known username per user. Prediction rows keep
// the name the user had when predicting.
var userCodec = codec[domain.User]{
	file:   UsersFile,
	header: []string{"user_id", "username"},
	parse: func(f []string) (domain.User, error) {
		if len(f) != 2 {
			return domain.User{}, fmt.Errorf("want 2 fields, got %d", len(f))
		}
		id, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return domain.User{}, err
		}
		return domain.User{ID: id, Username: parseText(f[1])}, nil
	},
	format: func(u domain.User) []string {
		return []string{strconv.FormatInt(u.ID, 10), formatText(u.Username)}
	},
}

var leaderboardCodec = codec[domain.PointsTotal]{
	file:   LeaderboardFile,
	header: []string{"user_id", "username", "points"},
	parse: func(f []string) (domain.PointsTotal, error) {
		if len(f) != 3 {
			return domain.PointsTotal{}, fmt.Errorf("want 3 fields, got %d", len(f))
		}
		id, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return domain.PointsTotal{}, err
		}
		points, err := strconv.Atoi(f[2])
		if err != nil {
			return domain.PointsTotal{}, err
		}
		return domain.PointsTotal{UserID: id, Username: parseText(f[1]), Points: points}, nil
	},
	format: func(t domain.PointsTotal) []string {
		return []string{strconv.FormatInt(t.UserID, 10), formatText(t.Username), strconv.Itoa(t.Points)}
	},
}

var accuracyCodec = codec[domain.AccuracyEntry]{
	file:   AccuracyFile,
	header: []string{"user_id", "username", "predictions", "result_accuracy_percent", "goal_accuracy_percent"},
	parse: func(f []string) (domain.AccuracyEntry, error) {
		if len(f) != 5 {
			return domain.AccuracyEntry{}, fmt.Errorf("want 5 fields, got %d", len(f))
		}
		var (
			e   domain.AccuracyEntry
			err error
		)
		if e.UserID, err = strconv.ParseInt(f[0], 10, 64); err != nil {
			return e, err
		}
		e.Username = parseText(f[1])
		if e.Predictions, err = strconv.Atoi(f[2]); err != nil {
			return e, err
		}
		if e.ResultAccuracyPercent, err = strconv.ParseFloat(f[3], 64); err != nil {
			return e, err
		}
		if e.GoalAccuracyPercent, err = strconv.ParseFloat(f[4], 64); err != nil {
			return e, err
		}
		return e, nil
	},
	format: func(e domain.AccuracyEntry) []string {
		return []string{
			strconv.FormatInt(e.UserID, 10),
			formatText(e.Username),
			strconv.Itoa(e.Predictions),
			strconv.FormatFloat(e.ResultAccuracyPercent, 'f', 2, 64),
			strconv.FormatFloat(e.GoalAccuracyPercent, 'f', 2, 64),
		}
	},
}

func isNull(field string) bool {
	return field == "" || field == nullField
}

func parseOptionalInt(field string) (*int, error) {
	if isNull(field) {
		return nil, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return nullField
	}
	return strconv.Itoa(*v)
}

func parseStatus(field string) (domain.MatchStatus, error) {
	switch strings.ToLower(field) {
	case statusPending, string(domain.MatchStatusScheduled):
		return domain.MatchStatusScheduled, nil
	case statusLive:
		return domain.MatchStatusLive, nil
	case statusFinished:
		return domain.MatchStatusFinished, nil
	}
	return "", fmt.Errorf("unknown match status %q", field)
}

func formatStatus(s domain.MatchStatus) string {
	switch s {
	case domain.MatchStatusFinished:
		return statusFinished
	case domain.MatchStatusLive:
		return statusLive
	default:
		return statusPending
	}
}

func parseText(field string) string {
	if isNull(field) {
		return ""
	}
	return field
}

func formatText(s string) string {
	if s = cleanText(s); s == "" {
		return nullField
	}
	return s
}

// cleanText strips characters that would break the line format
func cleanText(s string) string {
	s = strings.NewReplacer(separator, "/", "\n", " ", "\r", " ").Replace(s)
	return strings.TrimSpace(s)
}
