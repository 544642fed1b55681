package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/flatfile"
	"github.com/footballistika/predictor/internal/metrics"
)

type staticSource struct {
	matches     []domain.Match
	predictions []domain.Prediction
	err         error
}

func (s *staticSource) ListMatches(context.Context) ([]domain.Match, error) {
	return s.matches, s.err
}

func (s *staticSource) ListAll(context.Context) ([]domain.Prediction, error) {
	return s.predictions, nil
}

func (s *staticSource) Rules(context.Context) (domain.PointsRule, error) {
	return domain.DefaultPointsRule(), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSource() *staticSource {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &staticSource{
		matches: []domain.Match{
			{ID: 1, Team1: "Dynamo", Team2: "Shakhtar", Score1: domain.IntPtr(2), Score2: domain.IntPtr(1), Status: domain.MatchStatusFinished},
			{ID: 2, Team1: "Zorya", Team2: "Dnipro", Status: domain.MatchStatusScheduled},
		},
		predictions: []domain.Prediction{
			{MatchID: 1, UserID: 7, Username: "alice", Score1: 2, Score2: 1, CreatedAt: created, Points: 5},
			{MatchID: 1, UserID: 8, Username: "bob", Score1: 1, Score2: 0, CreatedAt: created.Add(time.Hour), Points: 1},
			{MatchID: 2, UserID: 8, Username: "bob", Score1: 0, Score2: 0, CreatedAt: created.Add(2 * time.Hour)},
		},
	}
}

func TestRunOnceWritesFlatFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewExporter(sampleSource(), &config.ExportConfig{Dir: dir, Interval: time.Minute}, metrics.New(), testLogger())

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	store, err := flatfile.Open(dir, domain.DefaultPointsRule(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	totals, err := store.PointTotals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[int64]int)
	for _, total := range totals {
		got[total.UserID] = total.Points
	}
	if got[7] != 5 || got[8] != 1 || len(got) != 2 {
		t.Errorf("totals = %v", totals)
	}

	board, err := os.ReadFile(filepath.Join(dir, flatfile.LeaderboardFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(board), "7|alice|5\n") {
		t.Errorf("leaderboard file = %q", board)
	}
}

func TestRunOnceIsStable(t *testing.T) {
	dir := t.TempDir()
	w := NewExporter(sampleSource(), &config.ExportConfig{Dir: dir, Interval: time.Minute}, metrics.New(), testLogger())

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, flatfile.PredictionsFile))
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(filepath.Join(dir, flatfile.PredictionsFile))
	if string(first) != string(second) {
		t.Errorf("second export changed predictions:\n%s\n---\n%s", first, second)
	}
}

func TestRunOnceReportsSourceErrors(t *testing.T) {
	src := &staticSource{err: errors.New("db down")}
	w := NewExporter(src, &config.ExportConfig{Dir: t.TempDir(), Interval: time.Minute}, metrics.New(), testLogger())

	if err := w.RunOnce(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestStartStop(t *testing.T) {
	w := NewExporter(sampleSource(), &config.ExportConfig{Dir: t.TempDir(), Interval: 10 * time.Millisecond}, metrics.New(), testLogger())

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !w.IsRunning() {
		t.Error("worker not running after Start")
	}
	time.Sleep(30 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if w.IsRunning() {
		t.Error("worker still running after Stop")
	}
}
