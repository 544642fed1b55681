package flatfile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/scoring"
)

const (
	seedMatches = "# id|team1|team2|score1|score2|status\n" +
		"1 | Dynamo | Shakhtar | 2 | 1 | finished\n" +
		"2|Zorya|Dnipro|-|-|pending\n"
	seedPredictions = "# match_id|user_id|username|pred_score1|pred_score2|created_at|points\n" +
		"1|7|alice|2|1|2024-05-01T10:00:00Z|5\n" +
		"1|8|-|1|0|2024-05-01T11:00:00Z|1\n"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSeed(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, domain.DefaultPointsRule(), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func award(real1, real2 int) func(domain.PointsRule, domain.Prediction) int {
	return func(rules domain.PointsRule, p domain.Prediction) int {
		return scoring.Points(rules, real1, real2, p.Score1, p.Score2)
	}
}

func TestUnchangedRowsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, MatchesFile, seedMatches)
	writeSeed(t, dir, PredictionsFile, seedPredictions)

	s := openStore(t, dir)
	ctx := context.Background()

	wantLeaderboard := "# user_id|username|points\n7|alice|5\n8|-|1\n"
	if got := readFile(t, dir, LeaderboardFile); got != wantLeaderboard {
		t.Errorf("leaderboard.txt = %q, want %q", got, wantLeaderboard)
	}
	wantAccuracy := "# user_id|username|predictions|result_accuracy_percent|goal_accuracy_percent\n" +
		"7|alice|1|100.00|100.00\n" +
		"8|-|1|100.00|25.00\n"
	if got := readFile(t, dir, AccuracyFile); got != wantAccuracy {
		t.Errorf("accuracy.txt = %q, want %q", got, wantAccuracy)
	}

	err := s.AppendPrediction(ctx, domain.Prediction{
		MatchID:   2,
		UserID:    7,
		Username:  "alice",
		Score1:    1,
		Score2:    1,
		CreatedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("AppendPrediction: %v", err)
	}

	if got := readFile(t, dir, MatchesFile); got != seedMatches {
		t.Errorf("matches.txt changed:\n%s", got)
	}
	wantPredictions := seedPredictions + "2|7|alice|1|1|2024-05-02T09:00:00Z|-\n"
	if got := readFile(t, dir, PredictionsFile); got != wantPredictions {
		t.Errorf("predictions.txt = %q, want %q", got, wantPredictions)
	}
	if got := readFile(t, dir, LeaderboardFile); got != wantLeaderboard {
		t.Errorf("leaderboard.txt rewritten: %q", got)
	}
}

func TestMalformedLinesArePreserved(t *testing.T) {
	dir := t.TempDir()
	garbage := "# id|team1|team2|score1|score2|status\nnot a row\n1|A|B|-|-|pending\n"
	writeSeed(t, dir, MatchesFile, garbage)

	s := openStore(t, dir)
	m, err := s.CreateMatch(context.Background(), "C", "D", nil)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.ID != 2 {
		t.Errorf("id = %d, want 2", m.ID)
	}
	want := garbage + "2|C|D|-|-|pending\n"
	if got := readFile(t, dir, MatchesFile); got != want {
		t.Errorf("matches.txt = %q, want %q", got, want)
	}
}

func TestAppendPredictionDuplicate(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.CreateMatch(ctx, "Home", "Away", nil); err != nil {
			t.Fatal(err)
		}
	}

	p := domain.Prediction{MatchID: 3, UserID: 7, Username: "alice", Score1: 1, Score2: 0}
	if err := s.AppendPrediction(ctx, p); err != nil {
		t.Fatalf("first append: %v", err)
	}
	p.Score1 = 4
	if err := s.AppendPrediction(ctx, p); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("second append err = %v, want ErrDuplicateKey", err)
	}

	preds, _ := s.ListMatchPredictions(ctx, 3)
	if len(preds) != 1 || preds[0].Score1 != 1 {
		t.Errorf("predictions = %+v", preds)
	}
}

func TestAppendPredictionRejectsUnavailableMatch(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, MatchesFile, seedMatches)
	s := openStore(t, dir)
	ctx := context.Background()

	err := s.AppendPrediction(ctx, domain.Prediction{MatchID: 1, UserID: 9, Score1: 1, Score2: 1})
	if !errors.Is(err, domain.ErrMatchNotAvailable) {
		t.Errorf("finished match err = %v", err)
	}
	err = s.AppendPrediction(ctx, domain.Prediction{MatchID: 99, UserID: 9, Score1: 1, Score2: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing match err = %v", err)
	}
	err = s.AppendPrediction(ctx, domain.Prediction{MatchID: 2, UserID: 9, Score1: 100, Score2: 1})
	if !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("out of range err = %v", err)
	}
}

func TestConcurrentAppendAllowsOneWinner(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	if _, err := s.CreateMatch(ctx, "Home", "Away", nil); err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, dupes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			err := s.AppendPrediction(ctx, domain.Prediction{MatchID: 1, UserID: 7, Score1: score, Score2: 0})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrDuplicateKey):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || dupes != 15 {
		t.Errorf("ok = %d, duplicates = %d", ok, dupes)
	}
}

func TestSettleMatchPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	ctx := context.Background()

	m, err := s.CreateMatch(ctx, "Dynamo", "Shakhtar", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []domain.Prediction{
		{MatchID: m.ID, UserID: 1, Username: "exact", Score1: 2, Score2: 1},
		{MatchID: m.ID, UserID: 2, Username: "outcome", Score1: 1, Score2: 0},
		{MatchID: m.ID, UserID: 3, Username: "miss", Score1: 0, Score2: 0},
	} {
		if err := s.AppendPrediction(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	settled, awards, err := s.SettleMatch(ctx, m.ID, 2, 1, award(2, 1))
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}
	if !settled.Finished() || len(awards) != 3 {
		t.Fatalf("settled = %+v, awards = %+v", settled, awards)
	}

	reopened := openStore(t, dir)
	totals, err := reopened.PointTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int64]int{1: 5, 2: 1, 3: 0}
	if len(totals) != len(want) {
		t.Fatalf("totals = %+v", totals)
	}
	for _, total := range totals {
		if want[total.UserID] != total.Points {
			t.Errorf("user %d points = %d, want %d", total.UserID, total.Points, want[total.UserID])
		}
	}

	got, err := reopened.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s1, s2, ok := got.Result(); !ok || s1 != 2 || s2 != 1 {
		t.Errorf("result = %d:%d ok=%v", s1, s2, ok)
	}
}

func TestUpsertMatchRejectsRenamingFinished(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, MatchesFile, seedMatches)
	s := openStore(t, dir)

	_, err := s.UpsertMatch(context.Background(), domain.Match{
		ID:     1,
		Team1:  "Dynamo",
		Team2:  "Zorya",
		Score1: domain.IntPtr(2),
		Score2: domain.IntPtr(1),
		Status: domain.MatchStatusFinished,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if got := readFile(t, dir, MatchesFile); got != seedMatches {
		t.Errorf("matches.txt changed after rejected upsert: %q", got)
	}
}

func TestListUnpredictedMatches(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, MatchesFile, seedMatches+"3|Vorskla|Kolos|-|-|pending\n")
	s := openStore(t, dir)
	ctx := context.Background()

	if err := s.AppendPrediction(ctx, domain.Prediction{MatchID: 2, UserID: 7, Score1: 0, Score2: 0}); err != nil {
		t.Fatal(err)
	}
	matches, err := s.ListUnpredictedMatches(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != 3 {
		t.Errorf("unpredicted = %+v", matches)
	}

	pending, _ := s.ListPendingMatches(ctx)
	if len(pending) != 2 || pending[0].ID != 2 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestUsernameChangeSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, MatchesFile, seedMatches)
	writeSeed(t, dir, PredictionsFile, seedPredictions)
	ctx := context.Background()

	s := openStore(t, dir)
	if err := s.UpsertUser(ctx, 7, "alice_k"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	reopened := openStore(t, dir)
	totals, err := reopened.PointTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, total := range totals {
		if total.UserID == 7 && total.Username != "alice_k" {
			t.Errorf("username after reopen = %q, want alice_k", total.Username)
		}
	}

	preds, err := reopened.ListMatchPredictions(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 || preds[0].UserID != 7 || preds[0].Username != "alice_k" {
		t.Errorf("predictions = %+v", preds)
	}

	if got := readFile(t, dir, LeaderboardFile); got != "# user_id|username|points\n7|alice_k|5\n8|-|1\n" {
		t.Errorf("leaderboard.txt = %q", got)
	}
	if got := readFile(t, dir, UsersFile); got != "# user_id|username\n7|alice_k\n" {
		t.Errorf("users.txt = %q", got)
	}
	// The prediction row keeps the name it was written with.
	if got := readFile(t, dir, PredictionsFile); got != seedPredictions {
		t.Errorf("predictions.txt rewritten: %q", got)
	}
}
