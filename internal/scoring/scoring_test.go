package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gateline/internal/scoring"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeOnTimeKeepsFloorPenalty(t *testing.T) {
	due := day(2025, 1, 1)
	res := scoring.Compute(&due, time.Date(2025, 1, 1, 17, 30, 0, 0, time.UTC))
	assert.Equal(t, 0, res.LatenessDays)
	assert.Equal(t, 90, res.Score)
}

func TestComputeLateness(t *testing.T) {
	due := day(2025, 1, 1)
	cases := []struct {
		name      string
		submitted time.Time
		lateness  int
		score     int
	}{
		{"early", day(2024, 12, 20), 0, 90},
		{"one day", day(2025, 1, 2), 1, 90},
		{"two days", day(2025, 1, 3), 2, 80},
		{"three days", day(2025, 1, 4), 3, 80},
		{"four days", day(2025, 1, 5), 4, 70},
		{"very late", day(2025, 3, 1), 59, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := scoring.Compute(&due, tc.submitted)
			assert.Equal(t, tc.lateness, res.LatenessDays)
			assert.Equal(t, tc.score, res.Score)
		})
	}
}

func TestComputeWithoutDueDate(t *testing.T) {
	res := scoring.Compute(nil, day(2030, 6, 1))
	assert.Equal(t, 0, res.LatenessDays)
	assert.Equal(t, 90, res.Score)
}

func TestLatenessUsesUTCCalendarDays(t *testing.T) {
	due := day(2025, 1, 1)
	dubai := time.FixedZone("GST", 4*3600)
	// 2025-01-02 02:00 in Dubai is still 2025-01-01 in UTC.
	assert.Equal(t, 0, scoring.LatenessDays(due, time.Date(2025, 1, 2, 2, 0, 0, 0, dubai)))
}

func TestApplyRevisionPenalty(t *testing.T) {
	assert.Equal(t, 70, scoring.ApplyRevisionPenalty(80))
	assert.Equal(t, 0, scoring.ApplyRevisionPenalty(5))
	assert.Equal(t, 0, scoring.ApplyRevisionPenalty(0))
}
