package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/flatfile"
	"github.com/footballistika/predictor/internal/metrics"
	"github.com/footballistika/predictor/internal/service"
	"github.com/footballistika/predictor/internal/window"
)

type fixture struct {
	svc   *service.PredictionService
	store *flatfile.Store
	gate  *window.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := flatfile.Open(t.TempDir(), domain.DefaultPointsRule(), logger)
	if err != nil {
		t.Fatalf("flatfile.Open: %v", err)
	}
	gate, err := window.NewGate(window.DefaultTimezone, "17:59")
	if err != nil {
		t.Fatal(err)
	}

	svc := service.NewPredictionService(store, gate, &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100}, logger)
	svc.SetMetrics(metrics.New())
	svc.SetClock(func() time.Time {
		return time.Date(2024, 7, 1, 12, 0, 0, 0, gate.Location())
	})
	return &fixture{svc: svc, store: store, gate: gate}
}

func (f *fixture) match(t *testing.T) domain.Match {
	t.Helper()
	m, err := f.svc.CreateMatch(context.Background(), "Dynamo", "Shakhtar")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	return m
}

func (f *fixture) predict(t *testing.T, matchID, userID int64, score1, score2 int) {
	t.Helper()
	_, err := f.svc.SubmitPrediction(context.Background(), domain.PredictionSubmission{
		MatchID:  matchID,
		UserID:   userID,
		Username: "",
		Score1:   score1,
		Score2:   score2,
	})
	if err != nil {
		t.Fatalf("SubmitPrediction(%d, %d): %v", matchID, userID, err)
	}
}

func pointsByUser(t *testing.T, svc *service.PredictionService) map[int64]int {
	t.Helper()
	board, err := svc.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	points := make(map[int64]int, len(board))
	for _, e := range board {
		points[e.UserID] = e.Points
	}
	return points
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.match(t)
	f.predict(t, m.ID, 1, 2, 1)
	f.predict(t, m.ID, 2, 3, 0)
	f.predict(t, m.ID, 3, 0, 2)

	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 2, 1); err != nil {
		t.Fatal(err)
	}
	once := pointsByUser(t, f.svc)

	awards, err := f.svc.Settle(ctx, m.ID, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(awards) != 3 {
		t.Errorf("awards = %+v", awards)
	}
	twice := pointsByUser(t, f.svc)

	want := map[int64]int{1: 5, 2: 1, 3: 0}
	for id, p := range want {
		if once[id] != p || twice[id] != p {
			t.Errorf("user %d: once=%d twice=%d want %d", id, once[id], twice[id], p)
		}
	}
}

func TestResettleReplacesPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.match(t)
	f.predict(t, m.ID, 1, 2, 1)
	f.predict(t, m.ID, 2, 3, 1)

	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 2, 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 3, 1); err != nil {
		t.Fatal(err)
	}

	got := pointsByUser(t, f.svc)
	if got[1] != 1 || got[2] != 5 {
		t.Errorf("points after correction = %v, want 1:1 2:5", got)
	}
	saved, _ := f.svc.FindMatch(ctx, m.ID)
	if s1, s2, _ := saved.Result(); s1 != 3 || s2 != 1 {
		t.Errorf("stored result = %d:%d", s1, s2)
	}
}

func TestSettleWithoutPredictionsReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	m := f.match(t)
	awards, err := f.svc.Settle(context.Background(), m.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if awards == nil || len(awards) != 0 {
		t.Errorf("awards = %#v, want empty slice", awards)
	}
}

func TestSettleRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Settle(ctx, 42, 1, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing match err = %v", err)
	}
	m := f.match(t)
	if _, err := f.svc.Settle(ctx, m.ID, -1, 0); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("negative score err = %v", err)
	}
}

func TestDuplicatePredictionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.match(t)
	}
	f.predict(t, 3, 7, 1, 1)

	_, err := f.svc.SubmitPrediction(ctx, domain.PredictionSubmission{MatchID: 3, UserID: 7, Score1: 2, Score2: 0})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
	if !domain.IsSoftError(err) {
		t.Error("duplicate should be a soft error")
	}

	p, err := f.svc.GetPrediction(ctx, 3, 7)
	if err != nil || p == nil {
		t.Fatalf("GetPrediction = %v, %v", p, err)
	}
	if p.Score1 != 1 || p.Score2 != 1 {
		t.Errorf("stored prediction overwritten: %+v", p)
	}
	all, _ := f.svc.ListForMatch(ctx, 3)
	if len(all) != 1 {
		t.Errorf("predictions on match 3 = %d", len(all))
	}
}

func TestConcurrentSubmissionsOneSucceeds(t *testing.T) {
	f := newFixture(t)
	m := f.match(t)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.SubmitPrediction(context.Background(), domain.PredictionSubmission{
				MatchID: m.ID, UserID: 7, Score1: i, Score2: 0,
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, domain.ErrDuplicateKey):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful submissions = %d, want 1", ok)
	}
}

func TestSubmitPredictionAfterDeadline(t *testing.T) {
	f := newFixture(t)
	m := f.match(t)
	f.svc.SetClock(func() time.Time {
		return time.Date(2024, 7, 1, 17, 59, 1, 0, f.gate.Location())
	})

	_, err := f.svc.SubmitPrediction(context.Background(), domain.PredictionSubmission{MatchID: m.ID, UserID: 1, Score1: 1, Score2: 0})
	if !errors.Is(err, domain.ErrWindowClosed) {
		t.Fatalf("err = %v, want ErrWindowClosed", err)
	}
	if f.svc.WindowOpen() {
		t.Error("window should be closed")
	}
}

func TestSubmitPredictionOnFinishedMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.match(t)
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 1, 0); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.SubmitPrediction(ctx, domain.PredictionSubmission{MatchID: m.ID, UserID: 1, Score1: 1, Score2: 0})
	if !errors.Is(err, domain.ErrMatchNotAvailable) {
		t.Errorf("err = %v, want ErrMatchNotAvailable", err)
	}
}

func TestLeaderboardTieBreakByUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.match(t)
	f.predict(t, m.ID, 30, 1, 0)
	f.predict(t, m.ID, 10, 2, 0)
	f.predict(t, m.ID, 20, 1, 0)
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 1, 0); err != nil {
		t.Fatal(err)
	}

	board, err := f.svc.Leaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []int64{20, 30, 10}
	for i, id := range wantOrder {
		if board[i].UserID != id || board[i].Rank != i+1 {
			t.Errorf("row %d = %+v, want user %d", i, board[i], id)
		}
	}
}

func TestTopWithUser(t *testing.T) {
	rows := make([]domain.LeaderboardEntry, 15)
	for i := range rows {
		rows[i] = domain.LeaderboardEntry{UserID: int64(100 + i), Points: 15 - i}
	}
	caller := rows[11].UserID

	top, me := service.TopWithUser(rows, caller, 10)
	if len(top) != 10 {
		t.Fatalf("top has %d rows", len(top))
	}
	for i, row := range top {
		if row.Rank != i+1 {
			t.Errorf("top[%d].Rank = %d", i, row.Rank)
		}
		if row.UserID == caller {
			t.Error("caller should not be in top")
		}
	}
	if me == nil || me.Rank != 12 || me.UserID != caller {
		t.Fatalf("caller row = %+v", me)
	}

	if _, none := service.TopWithUser(rows, 9999, 10); none != nil {
		t.Errorf("unknown user row = %+v, want nil", none)
	}
}

func TestAccuracyExcludesPendingMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	finished := f.match(t)
	pending1 := f.match(t)
	pending2 := f.match(t)

	f.predict(t, finished.ID, 1, 3, 1)
	f.predict(t, finished.ID, 2, 0, 1)
	f.predict(t, pending1.ID, 1, 0, 5)
	f.predict(t, pending2.ID, 1, 5, 5)
	if _, _, err := f.svc.MarkFinished(ctx, finished.ID, 2, 1); err != nil {
		t.Fatal(err)
	}

	results, err := f.svc.ResultAccuracyLeaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("rows = %+v", results)
	}
	if results[0].UserID != 1 || results[0].Predictions != 1 || results[0].ResultAccuracyPercent != 100 {
		t.Errorf("first row = %+v", results[0])
	}
	if results[1].UserID != 2 || results[1].ResultAccuracyPercent != 0 {
		t.Errorf("second row = %+v", results[1])
	}

	goals, err := f.svc.GoalAccuracyLeaderboard(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 2:1 predicted 3:1 -> (1 - 1/3 + 1) / 2
	if goals[0].UserID != 1 || goals[0].GoalAccuracyPercent < 83.33 || goals[0].GoalAccuracyPercent > 83.34 {
		t.Errorf("goal accuracy row = %+v", goals[0])
	}
}

func TestAveragePerMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	played := f.match(t)
	upcoming := f.match(t)
	f.match(t) // nobody predicts this one

	f.predict(t, played.ID, 1, 2, 0)
	f.predict(t, played.ID, 2, 1, 1)
	f.predict(t, upcoming.ID, 1, 3, 2)
	if _, _, err := f.svc.MarkFinished(ctx, played.ID, 1, 0); err != nil {
		t.Fatal(err)
	}

	all, err := f.svc.AveragePerMatch(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("averages = %+v", all)
	}
	if all[0].Match.ID != played.ID || all[0].Avg1 != 1.5 || all[0].Avg2 != 0.5 || all[0].Count != 2 {
		t.Errorf("played average = %+v", all[0])
	}

	open, err := f.svc.AveragePerMatch(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Match.ID != upcoming.ID {
		t.Errorf("pending-only averages = %+v", open)
	}
}

func TestUpdateRulesRescalesPastSettlements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.match(t)
	f.predict(t, m.ID, 1, 2, 1)
	f.predict(t, m.ID, 2, 1, 0)
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 2, 1); err != nil {
		t.Fatal(err)
	}

	rules, err := f.svc.UpdateRules(ctx, domain.PointsRule{ExactPoints: 10, ResultPoints: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rules.ExactPoints != 10 {
		t.Errorf("rules = %+v", rules)
	}
	got := pointsByUser(t, f.svc)
	if got[1] != 10 || got[2] != 3 {
		t.Errorf("points = %v, want 1:10 2:3", got)
	}

	if _, err := f.svc.UpdateRules(ctx, domain.PointsRule{ExactPoints: 1, ResultPoints: 2}); !errors.Is(err, domain.ErrInvalidRules) {
		t.Errorf("invalid rules err = %v", err)
	}
}

func TestUserStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.match(t)
	m2 := f.match(t)
	f.predict(t, m1.ID, 1, 2, 1)
	f.predict(t, m1.ID, 2, 2, 2)
	f.predict(t, m2.ID, 2, 0, 0)
	if _, _, err := f.svc.MarkFinished(ctx, m1.ID, 2, 1); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.UserStats(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Predictions != 2 || stats.Place != 2 || stats.Points != 0 || stats.ResultAccuracyPercent != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPendingViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.match(t)
	m2 := f.match(t)
	f.predict(t, m1.ID, 5, 1, 2)

	views, err := f.svc.PendingWithUserPredictions(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 || !views[0].Predicted || *views[0].PredScore2 != 2 || views[1].Predicted {
		t.Errorf("views = %+v", views)
	}

	next, err := f.svc.NextForPrediction(ctx, 5)
	if err != nil || next == nil || next.ID != m2.ID {
		t.Errorf("next for prediction = %+v, %v", next, err)
	}

	grouped, err := f.svc.PendingPredictions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(grouped) != 1 || grouped[0].Match.ID != m1.ID {
		t.Errorf("pending predictions = %+v", grouped)
	}
}

// memorySnapshot mimics the generation-checked Redis snapshot
type memorySnapshot struct {
	mu         sync.Mutex
	generation int64
	savedGen   int64
	entries    []domain.LeaderboardEntry
	hits       int
	failNext   bool
}

func (m *memorySnapshot) Load(ctx context.Context) ([]domain.LeaderboardEntry, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries != nil && m.savedGen == m.generation {
		m.hits++
		return m.entries, m.generation, true, nil
	}
	return nil, m.generation, false, nil
}

func (m *memorySnapshot) Save(ctx context.Context, generation int64, entries []domain.LeaderboardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation {
		return nil
	}
	m.entries, m.savedGen = entries, generation
	return nil
}

func (m *memorySnapshot) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("redis unavailable")
	}
	m.generation++
	return nil
}

func TestLeaderboardSnapshotInvalidation(t *testing.T) {
	f := newFixture(t)
	snap := &memorySnapshot{}
	f.svc.SetSnapshot(snap)
	ctx := context.Background()

	m := f.match(t)
	f.predict(t, m.ID, 1, 1, 0)
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 1, 0); err != nil {
		t.Fatal(err)
	}

	if got := pointsByUser(t, f.svc); got[1] != 5 {
		t.Fatalf("first read = %v", got)
	}
	if got := pointsByUser(t, f.svc); got[1] != 5 || snap.hits != 1 {
		t.Fatalf("second read = %v, hits = %d", got, snap.hits)
	}

	// A failed invalidation must not leave the stale snapshot in use.
	snap.failNext = true
	if _, _, err := f.svc.MarkFinished(ctx, m.ID, 2, 0); err != nil {
		t.Fatal(err)
	}
	if got := pointsByUser(t, f.svc); got[1] != 1 {
		t.Errorf("after correction = %v, want 1 point", got)
	}
	if got := pointsByUser(t, f.svc); got[1] != 1 {
		t.Errorf("cached after correction = %v, want 1 point", got)
	}
}

func TestSnapshotSaveIgnoredAfterInvalidation(t *testing.T) {
	snap := &memorySnapshot{}
	ctx := context.Background()
	_, gen, _, _ := snap.Load(ctx)
	if err := snap.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := snap.Save(ctx, gen, []domain.LeaderboardEntry{{UserID: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := snap.Load(ctx); ok {
		t.Error("stale save should not produce a valid snapshot")
	}
}
