package scoring

import (
	"math"
	"testing"

	"github.com/footballistika/predictor/internal/domain"
)

func TestPointsExactScore(t *testing.T) {
	rules := domain.DefaultPointsRule()
	for r1 := 0; r1 <= 9; r1++ {
		for r2 := 0; r2 <= 9; r2++ {
			if got := Points(rules, r1, r2, r1, r2); got != rules.ExactPoints {
				t.Fatalf("Points(%d:%d exact) = %d, want %d", r1, r2, got, rules.ExactPoints)
			}
		}
	}
}

func TestPointsOutcomeAndMiss(t *testing.T) {
	rules := domain.PointsRule{ExactPoints: 3, ResultPoints: 2}
	for r1 := 0; r1 <= 6; r1++ {
		for r2 := 0; r2 <= 6; r2++ {
			for p1 := 0; p1 <= 6; p1++ {
				for p2 := 0; p2 <= 6; p2++ {
					if r1 == p1 && r2 == p2 {
						continue
					}
					got := Points(rules, r1, r2, p1, p2)
					want := 0
					if OutcomeOf(r1, r2) == OutcomeOf(p1, p2) {
						want = rules.ResultPoints
					}
					if got != want {
						t.Fatalf("Points(%d:%d vs %d:%d) = %d, want %d", r1, r2, p1, p2, got, want)
					}
				}
			}
		}
	}
}

func TestPointsExamples(t *testing.T) {
	rules := domain.DefaultPointsRule()
	tests := []struct {
		name                 string
		real1, real2, p1, p2 int
		want                 int
	}{
		{"exact", 2, 1, 2, 1, 5},
		{"same difference", 2, 1, 3, 2, 1},
		{"home win", 3, 0, 1, 0, 1},
		{"draw", 1, 1, 0, 0, 1},
		{"away win", 0, 2, 1, 4, 1},
		{"wrong outcome", 2, 1, 1, 1, 0},
		{"reversed", 2, 1, 1, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Points(rules, tt.real1, tt.real2, tt.p1, tt.p2); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGoalAccuracy(t *testing.T) {
	tests := []struct {
		name                 string
		real1, real2, p1, p2 int
		want                 float64
	}{
		{"3:1 vs 2:1", 3, 1, 2, 1, 83.3333},
		{"exact", 2, 2, 2, 2, 100},
		{"zero vs nonzero", 0, 0, 2, 3, 0},
		{"half", 4, 0, 2, 0, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GoalAccuracy(tt.real1, tt.real2, tt.p1, tt.p2)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("got %.4f, want %.4f", got, tt.want)
			}
		})
	}
}

func TestSideAccuracy(t *testing.T) {
	if got := SideAccuracy(3, 2); math.Abs(got-0.6667) > 0.001 {
		t.Errorf("SideAccuracy(3,2) = %.4f", got)
	}
	if got := SideAccuracy(1, 1); got != 1 {
		t.Errorf("SideAccuracy(1,1) = %v", got)
	}
	if got := SideAccuracy(0, 5); got != 0 {
		t.Errorf("SideAccuracy(0,5) = %v", got)
	}
}

func TestAccuracyOutcome(t *testing.T) {
	correct, pct := Accuracy(2, 0, 2, 0)
	if !correct || pct != 100 {
		t.Errorf("exact score: correct=%v pct=%v", correct, pct)
	}
	correct, _ = Accuracy(2, 0, 0, 1)
	if correct {
		t.Error("wrong outcome reported as correct")
	}
}
