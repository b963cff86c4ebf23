package ledger

import (
	"testing"
	"time"
)

func TestPeriodKey(t *testing.T) {
	t.Parallel()

	// 2026-08-25 is a Tuesday in ISO week 35.
	at := time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		period Period
		at     time.Time
		want   string
	}{
		{PeriodDay, at, "2026-08-25"},
		{PeriodWeek, at, "2026-W35"},
		// Keys are UTC: late evening in a western zone is already the
		// next UTC day.
		{PeriodDay, time.Date(2026, 8, 25, 23, 0, 0, 0, time.FixedZone("PDT", -7*3600)), "2026-08-26"},
		// Jan 1 2027 falls in ISO week 53 of 2026.
		{PeriodWeek, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
	}
	for _, tt := range tests {
		if got := tt.period.Key(tt.at); got != tt.want {
			t.Errorf("Period(%s).Key(%s) = %q, want %q", tt.period, tt.at, got, tt.want)
		}
	}
}

func TestPeriodValid(t *testing.T) {
	t.Parallel()

	if !PeriodDay.Valid() || !PeriodWeek.Valid() {
		t.Error("day and week must be valid periods")
	}
	if Period("month").Valid() {
		t.Error("month is not a supported period")
	}
}
