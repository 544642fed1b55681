// Package flatfile stores the prediction game in pipe-delimited text tables
// inside one directory. Leaderboard and accuracy tables are derived and
// rewritten whenever predictions, results or usernames change.
package flatfile

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/service"
)

// Store implements service.Store on flat files. It is safe for concurrent use
// within one process; the directory must not be shared between processes.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
	now    func() time.Time

	rules       domain.PointsRule
	users       map[int64]string
	userTable   *table[domain.User]
	matches     *table[domain.Match]
	predictions *table[predictionRecord]
	leaderboard *table[domain.PointsTotal]
	accuracy    *table[domain.AccuracyEntry]
}

var _ service.Store = (*Store)(nil)

// Open loads the tables in dir, creating the directory if needed. The points
// rule is not persisted in flat files; rules seeds it.
func Open(dir string, rules domain.PointsRule, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		rules:  rules,
		users:  make(map[int64]string),
	}

	var err error
	if s.matches, err = readTable(dir, matchCodec); err != nil {
		return nil, err
	}
	if s.predictions, err = readTable(dir, predictionCodec); err != nil {
		return nil, err
	}
	if s.leaderboard, err = readTable(dir, leaderboardCodec); err != nil {
		return nil, err
	}
	if s.accuracy, err = readTable(dir, accuracyCodec); err != nil {
		return nil, err
	}
	if s.userTable, err = readTable(dir, userCodec); err != nil {
		return nil, err
	}

	for _, t := range []struct {
		file    string
		skipped int
	}{
		{MatchesFile, s.matches.skipped},
		{PredictionsFile, s.predictions.skipped},
		{LeaderboardFile, s.leaderboard.skipped},
		{AccuracyFile, s.accuracy.skipped},
		{UsersFile, s.userTable.skipped},
	} {
		if t.skipped > 0 {
			logger.Warn("skipped malformed rows", "file", t.file, "rows", t.skipped)
		}
	}

	records := s.predictions.rows()
	slices.SortStableFunc(records, func(a, b predictionRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for _, r := range records {
		if r.Username != "" {
			s.users[r.UserID] = r.Username
		}
	}
	// users.txt is written on every rename and wins over prediction rows.
	for _, u := range s.userTable.rows() {
		if u.Username != "" {
			s.users[u.ID] = u.Username
		}
	}

	// Derived tables may lag behind if a previous write was interrupted.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(func() error { return nil }); err != nil {
		return nil, err
	}

	logger.Info("flat-file store opened",
		"dir", dir,
		"matches", len(s.matches.rows()),
		"predictions", len(records),
	)
	return s, nil
}

// commit runs fn, recomputes the derived tables and flushes every changed
// table. If anything fails the in-memory tables are rolled back. Callers must
// hold s.mu.
func (s *Store) commit(fn func() error) error {
	savedMatches := s.matches.snapshot()
	savedPredictions := s.predictions.snapshot()
	savedLeaderboard := s.leaderboard.snapshot()
	savedAccuracy := s.accuracy.snapshot()
	savedUsers := s.userTable.snapshot()
	rollback := func() {
		s.matches.restore(savedMatches)
		s.predictions.restore(savedPredictions)
		s.leaderboard.restore(savedLeaderboard)
		s.accuracy.restore(savedAccuracy)
		s.userTable.restore(savedUsers)
	}

	if err := fn(); err != nil {
		rollback()
		return err
	}
	s.derive()

	for _, flush := range []func(string) error{
		s.matches.flush,
		s.predictions.flush,
		s.leaderboard.flush,
		s.accuracy.flush,
		s.userTable.flush,
	} {
		if err := flush(s.dir); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

// derive rebuilds leaderboard.txt and accuracy.txt from matches and predictions
func (s *Store) derive() {
	users := make([]domain.User, 0, len(s.users))
	for id, name := range s.users {
		users = append(users, domain.User{ID: id, Username: name})
	}
	slices.SortFunc(users, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	s.userTable.replace(users)

	ranked := service.RankTotals(s.pointTotals())
	totals := make([]domain.PointsTotal, len(ranked))
	for i, e := range ranked {
		totals[i] = domain.PointsTotal{UserID: e.UserID, Username: e.Username, Points: e.Points}
	}
	s.leaderboard.replace(totals)

	accuracy := service.ComputeAccuracy(s.matches.rows(), s.predictionRows())
	slices.SortFunc(accuracy, func(a, b domain.AccuracyEntry) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i := range accuracy {
		if name := s.users[accuracy[i].UserID]; name != "" {
			accuracy[i].Username = name
		}
	}
	s.accuracy.replace(accuracy)
}

func (s *Store) pointTotals() []domain.PointsTotal {
	byUser := make(map[int64]int)
	var order []int64
	for _, r := range s.predictions.rows() {
		if _, ok := byUser[r.UserID]; !ok {
			order = append(order, r.UserID)
			byUser[r.UserID] = 0
		}
		if r.settled {
			byUser[r.UserID] += r.Points
		}
	}
	totals := make([]domain.PointsTotal, 0, len(order))
	for _, id := range order {
		totals = append(totals, domain.PointsTotal{UserID: id, Username: s.users[id], Points: byUser[id]})
	}
	return totals
}

// withCurrentName replaces the row's username with the latest known one
func (s *Store) withCurrentName(p domain.Prediction) domain.Prediction {
	if name := s.users[p.UserID]; name != "" {
		p.Username = name
	}
	return p
}

func (s *Store) predictionRows() []domain.Prediction {
	records := s.predictions.rows()
	preds := make([]domain.Prediction, len(records))
	for i, r := range records {
		preds[i] = s.withCurrentName(r.Prediction)
	}
	return preds
}

func (s *Store) findMatch(matchID int64) (int, domain.Match, error) {
	i := s.matches.index(func(m domain.Match) bool { return m.ID == matchID })
	if i < 0 {
		return -1, domain.Match{}, fmt.Errorf("match %d: %w", matchID, domain.ErrNotFound)
	}
	return i, s.matches.entries[i].row, nil
}

func sortedMatches(matches []domain.Match, keep func(domain.Match) bool) []domain.Match {
	result := make([]domain.Match, 0, len(matches))
	for _, m := range matches {
		if keep(m) {
			result = append(result, m)
		}
	}
	slices.SortFunc(result, func(a, b domain.Match) int { return cmp.Compare(a.ID, b.ID) })
	return result
}

// CreateMatch appends a scheduled match with the next free id
func (s *Store) CreateMatch(ctx context.Context, team1, team2 string, startedAt *time.Time) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	for _, m := range s.matches.rows() {
		maxID = max(maxID, m.ID)
	}
	match := domain.Match{
		ID:        maxID + 1,
		Team1:     team1,
		Team2:     team2,
		Status:    domain.MatchStatusScheduled,
		StartedAt: startedAt,
		UpdatedAt: s.now().UTC(),
	}
	if err := match.Validate(); err != nil {
		return domain.Match{}, err
	}

	if err := s.commit(func() error {
		s.matches.add(match)
		return nil
	}); err != nil {
		return domain.Match{}, err
	}
	return match, nil
}

// UpsertMatch inserts or overwrites a match by id. Moving a match out of the
// finished state clears the points of its predictions.
func (s *Store) UpsertMatch(ctx context.Context, match domain.Match) (domain.Match, error) {
	if err := match.Validate(); err != nil {
		return domain.Match{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	match.UpdatedAt = s.now().UTC()
	err := s.commit(func() error {
		i := s.matches.index(func(m domain.Match) bool { return m.ID == match.ID })
		if i < 0 {
			s.matches.add(match)
			return nil
		}
		existing := s.matches.entries[i].row
		if existing.Status == domain.MatchStatusFinished &&
			(existing.Team1 != match.Team1 || existing.Team2 != match.Team2) {
			return fmt.Errorf("match %d: %w", match.ID, domain.ErrInvalidTransition)
		}
		if match.StartedAt == nil {
			match.StartedAt = existing.StartedAt
		}
		s.matches.set(i, match)

		if !match.Finished() {
			for j, e := range s.predictions.entries {
				if e.opaque || e.row.MatchID != match.ID || !e.row.settled {
					continue
				}
				rec := e.row
				rec.Points, rec.settled = 0, false
				s.predictions.set(j, rec)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, err
	}
	return match, nil
}

// GetMatch returns a match by id
func (s *Store) GetMatch(ctx context.Context, matchID int64) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, m, err := s.findMatch(matchID)
	return m, err
}

// ListMatches returns every match ordered by id
func (s *Store) ListMatches(ctx context.Context) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedMatches(s.matches.rows(), func(domain.Match) bool { return true }), nil
}

// ListPendingMatches returns matches without a result ordered by id
func (s *Store) ListPendingMatches(ctx context.Context) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedMatches(s.matches.rows(), func(m domain.Match) bool {
		return m.Status != domain.MatchStatusFinished
	}), nil
}

// ListUnpredictedMatches returns scheduled matches the user has not predicted
func (s *Store) ListUnpredictedMatches(ctx context.Context, userID int64) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	predicted := make(map[int64]bool)
	for _, r := range s.predictions.rows() {
		if r.UserID == userID {
			predicted[r.MatchID] = true
		}
	}
	return sortedMatches(s.matches.rows(), func(m domain.Match) bool {
		return m.Status == domain.MatchStatusScheduled && !predicted[m.ID]
	}), nil
}

// UpsertUser records the latest display name in users.txt
func (s *Store) UpsertUser(ctx context.Context, userID int64, username string) error {
	if username == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users[userID] == username {
		return nil
	}
	previous, known := s.users[userID]
	s.users[userID] = username
	if err := s.commit(func() error { return nil }); err != nil {
		if known {
			s.users[userID] = previous
		} else {
			delete(s.users, userID)
		}
		return err
	}
	return nil
}

// AppendPrediction inserts a prediction on a scheduled match. The duplicate
// check and the insert happen under the store lock.
func (s *Store) AppendPrediction(ctx context.Context, prediction domain.Prediction) error {
	if err := domain.ValidateScores(prediction.Score1, prediction.Score2); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, match, err := s.findMatch(prediction.MatchID)
	if err != nil {
		return err
	}
	if match.Status != domain.MatchStatusScheduled {
		return fmt.Errorf("match %d is %s: %w", match.ID, match.Status, domain.ErrMatchNotAvailable)
	}
	if s.predictions.index(func(r predictionRecord) bool {
		return r.MatchID == prediction.MatchID && r.UserID == prediction.UserID
	}) >= 0 {
		return fmt.Errorf("user %d match %d: %w", prediction.UserID, prediction.MatchID, domain.ErrDuplicateKey)
	}

	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = s.now()
	}
	prediction.CreatedAt = prediction.CreatedAt.UTC().Truncate(time.Second)
	prediction.Points = 0

	previous, known := s.users[prediction.UserID]
	if prediction.Username != "" {
		s.users[prediction.UserID] = prediction.Username
	}
	if err := s.commit(func() error {
		s.predictions.add(predictionRecord{Prediction: prediction})
		return nil
	}); err != nil {
		if known {
			s.users[prediction.UserID] = previous
		} else {
			delete(s.users, prediction.UserID)
		}
		return err
	}
	return nil
}

// GetPrediction returns one user's prediction for a match
func (s *Store) GetPrediction(ctx context.Context, matchID, userID int64) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.predictions.index(func(r predictionRecord) bool {
		return r.MatchID == matchID && r.UserID == userID
	})
	if i < 0 {
		return domain.Prediction{}, fmt.Errorf("prediction user %d match %d: %w", userID, matchID, domain.ErrNotFound)
	}
	return s.withCurrentName(s.predictions.entries[i].row.Prediction), nil
}

// ListPredictions returns every prediction in file order
func (s *Store) ListPredictions(ctx context.Context) ([]domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.predictionRows(), nil
}

// ListMatchPredictions returns the predictions on one match
func (s *Store) ListMatchPredictions(ctx context.Context, matchID int64) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool { return p.MatchID == matchID }), nil
}

// ListUserPredictions returns one user's predictions
func (s *Store) ListUserPredictions(ctx context.Context, userID int64) ([]domain.Prediction, error) {
	return s.filterPredictions(func(p domain.Prediction) bool { return p.UserID == userID }), nil
}

func (s *Store) filterPredictions(keep func(domain.Prediction) bool) []domain.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Prediction
	for _, p := range s.predictionRows() {
		if keep(p) {
			result = append(result, p)
		}
	}
	return result
}

// GetRules returns the in-memory points rule
func (s *Store) GetRules(ctx context.Context) (domain.PointsRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rules, nil
}

// SetRules replaces the in-memory points rule
func (s *Store) SetRules(ctx context.Context, rules domain.PointsRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules.UpdatedAt = s.now().UTC()
	s.rules = rules
	return nil
}

// SettleMatch records the result and recomputes the points of every
// prediction on the match. All tables are rewritten in one commit.
func (s *Store) SettleMatch(ctx context.Context, matchID int64, score1, score2 int, award service.AwardFunc) (domain.Match, []domain.Award, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		match  domain.Match
		awards []domain.Award
	)
	err := s.commit(func() error {
		i, m, err := s.findMatch(matchID)
		if err != nil {
			return err
		}
		m.Score1, m.Score2 = domain.IntPtr(score1), domain.IntPtr(score2)
		m.Status = domain.MatchStatusFinished
		m.UpdatedAt = s.now().UTC()
		s.matches.set(i, m)
		match = m

		for j, e := range s.predictions.entries {
			if e.opaque || e.row.MatchID != matchID {
				continue
			}
			rec := e.row
			rec.Points, rec.settled = award(s.rules, rec.Prediction), true
			s.predictions.set(j, rec)

			current := s.withCurrentName(rec.Prediction)
			awards = append(awards, domain.Award{UserID: rec.UserID, Username: current.Username, Points: rec.Points})
		}
		return nil
	})
	if err != nil {
		return domain.Match{}, nil, err
	}
	return match, awards, nil
}

// PointTotals returns the summed points of every user who has predicted
func (s *Store) PointTotals(ctx context.Context) ([]domain.PointsTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pointTotals(), nil
}

// Replace overwrites the stored matches and predictions wholesale. Rows that
// are unchanged keep their original lines.
func (s *Store) Replace(ctx context.Context, matches []domain.Match, predictions []domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finished := make(map[int64]bool, len(matches))
	for _, m := range matches {
		finished[m.ID] = m.Finished()
	}
	records := make([]predictionRecord, len(predictions))
	for i, p := range predictions {
		records[i] = predictionRecord{Prediction: p, settled: finished[p.MatchID]}
		if p.Username != "" {
			s.users[p.UserID] = p.Username
		}
	}
	sorted := sortedMatches(matches, func(domain.Match) bool { return true })

	return s.commit(func() error {
		s.matches.replace(sorted)
		s.predictions.replace(records)
		return nil
	})
}

// Close is a no-op; every change is already on disk
func (s *Store) Close() error {
	return nil
}
