// Package period models calendar-month billing periods.
package period

import "time"

// Period is a calendar-month date range. Start is the first day of the month
// and End the last, both at midnight UTC. The half-open window used for
// queries is [Start, NextStart).
type Period struct {
	Start time.Time
	End   time.Time
}

// Of returns the calendar month containing t.
func Of(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return Period{Start: start, End: end}
}

// PreviousMonth returns the full calendar month immediately preceding now.
// Monthly batch billing always bills the previous complete month.
func PreviousMonth(now time.Time) Period {
	return Of(Of(now).Start.AddDate(0, 0, -1))
}

// NextStart is the first instant after the period, for half-open range queries.
func (p Period) NextStart() time.Time {
	return p.Start.AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.NextStart())
}

// Equal reports whether two periods cover the same month.
func (p Period) Equal(other Period) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End)
}
