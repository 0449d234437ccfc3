// Package recurrence holds the calendar rules shared by the scheduler and the
// task transition logic. Every function is pure: callers pass "now" in.
package recurrence

import "time"

// DateLayout is the wire and storage format for due dates.
const DateLayout = "2006-01-02"

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddMonths adds calendar months to t. A day that does not exist in the target
// month is clamped to that month's last day (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// AdjustToNextBusinessDay moves a Saturday or Sunday forward to Monday.
// Weekdays come back unchanged apart from being normalized to start of day.
// Holidays are not modeled.
func AdjustToNextBusinessDay(t time.Time) time.Time {
	day := StartOfDay(t)
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, 2)
	case time.Sunday:
		return day.AddDate(0, 0, 1)
	default:
		return day
	}
}

// ComputeNextDueDate returns the due date of the occurrence following dueDate.
// A non-nil cached value overrides the derivation and is only business-day
// adjusted. Nil is returned when the cadence is missing or below one month,
// or when there is nothing to derive from.
func ComputeNextDueDate(dueDate *time.Time, recurrenceMonths *int, cached *time.Time) *time.Time {
	if recurrenceMonths == nil || *recurrenceMonths < 1 {
		return nil
	}
	if cached != nil {
		next := AdjustToNextBusinessDay(*cached)
		return &next
	}
	if dueDate == nil {
		return nil
	}
	next := NextOccurrence(*dueDate, *recurrenceMonths)
	return &next
}

// NextOccurrence is AdjustToNextBusinessDay(due + months).
func NextOccurrence(due time.Time, months int) time.Time {
	return AdjustToNextBusinessDay(AddMonths(due, months))
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// EqualDates compares two optional dates by calendar day.
func EqualDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return SameDay(*a, *b)
}

// FormatDate renders an optional date; nil becomes the empty string.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate parses YYYY-MM-DD in UTC. Empty input yields nil.
func ParseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
