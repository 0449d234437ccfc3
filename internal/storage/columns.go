package storage

import (
	"database/sql"
	"time"

	"upkeep/internal/recurrence"
)

// Dates are stored as YYYY-MM-DD text and timestamps as RFC3339 UTC text so
// the same schema works on sqlite and postgres.

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(recurrence.DateLayout)
}

func parseDateCol(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := recurrence.ParseDate(v.String)
	if err != nil {
		return nil
	}
	return t
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}

func stampArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return stamp(*t)
}

func nowStamp() string {
	return stamp(time.Now())
}

func parseStamp(v string) time.Time {
	t, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseStampCol(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(timestampLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
