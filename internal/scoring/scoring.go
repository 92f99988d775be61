// Package scoring turns a task's due date and submission time into a score.
package scoring

import "time"

const (
	MaxScore        = 100
	PenaltyStep     = 10
	RevisionPenalty = 10
)

type Result struct {
	Score        int
	LatenessDays int
}

// Compute scores a submission. Lateness is counted in whole UTC calendar days
// past the due date; an unset due date is never late.
//
// The penalty is 10 points per started pair of days counted from the due day
// itself, so an on-time submission still lands at 90.
func Compute(due *time.Time, submittedAt time.Time) Result {
	lateness := 0
	if due != nil {
		lateness = LatenessDays(*due, submittedAt)
	}
	penalty := PenaltyStep * ceilHalf(lateness+1)
	score := MaxScore - penalty
	if score < 0 {
		score = 0
	}
	return Result{Score: score, LatenessDays: lateness}
}

// LatenessDays is max(0, submitted date - due date) in days.
func LatenessDays(due, submittedAt time.Time) int {
	d := dateOf(due)
	s := dateOf(submittedAt)
	if !s.After(d) {
		return 0
	}
	return int(s.Sub(d).Hours() / 24)
}

// ApplyRevisionPenalty deducts the fixed revision penalty, floored at zero.
func ApplyRevisionPenalty(score int) int {
	score -= RevisionPenalty
	if score < 0 {
		return 0
	}
	return score
}

func ceilHalf(n int) int {
	return (n + 1) / 2
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
