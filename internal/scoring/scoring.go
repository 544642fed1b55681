// Package scoring converts a (predicted, actual) scoreline pair into points
// and accuracy figures. Everything here is pure.
package scoring

import "github.com/footballistika/predictor/internal/domain"

// Outcome is the win/draw/loss direction of a scoreline
type Outcome int

const (
	Team2Win Outcome = -1
	Draw     Outcome = 0
	Team1Win Outcome = 1
)

// OutcomeOf returns sign(score1 - score2)
func OutcomeOf(score1, score2 int) Outcome {
	switch {
	case score1 > score2:
		return Team1Win
	case score1 < score2:
		return Team2Win
	default:
		return Draw
	}
}

// Points awards rules.ExactPoints for the exact score, rules.ResultPoints for
// the right outcome and 0 otherwise.
func Points(rules domain.PointsRule, real1, real2, pred1, pred2 int) int {
	if real1 == pred1 && real2 == pred2 {
		return rules.ExactPoints
	}
	// Equal goal difference implies equal sign, so the sign check covers both.
	if OutcomeCorrect(real1, real2, pred1, pred2) {
		return rules.ResultPoints
	}
	return 0
}

// OutcomeCorrect reports whether the predicted outcome matches the real one.
// An exact score is always outcome-correct.
func OutcomeCorrect(real1, real2, pred1, pred2 int) bool {
	return OutcomeOf(real1, real2) == OutcomeOf(pred1, pred2)
}

// SideAccuracy is the closeness of one side's predicted goals in [0, 1]
func SideAccuracy(real, predicted int) float64 {
	if real == predicted {
		return 1.0
	}
	denominator := max(real, predicted)
	if denominator == 0 {
		return 1.0
	}
	diff := real - predicted
	if diff < 0 {
		diff = -diff
	}
	return max(0.0, 1.0-float64(diff)/float64(denominator))
}

// GoalAccuracy averages both sides' accuracy and scales it to a percent
func GoalAccuracy(real1, real2, pred1, pred2 int) float64 {
	return (SideAccuracy(real1, pred1) + SideAccuracy(real2, pred2)) / 2 * 100.0
}

// Accuracy returns both accuracy measures for one prediction
func Accuracy(real1, real2, pred1, pred2 int) (outcomeCorrect bool, goalAccuracyPercent float64) {
	return OutcomeCorrect(real1, real2, pred1, pred2), GoalAccuracy(real1, real2, pred1, pred2)
}
