package platform

import (
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// LocalDate returns the civil date of t in loc. The conversion stays in
// loc; it never round-trips through UTC.
func LocalDate(t time.Time, loc *time.Location) core.Date {
	if loc == nil {
		loc = time.Local
	}
	return core.Date(t.In(loc).Format(core.DateLayout))
}

// StartOfDay returns 00:00 of t's civil day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextMidnight returns 00:00 of the day after t's civil day in loc.
// time.Date normalizes day overflow and DST shifts.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}

// ParseDate parses a core.Date in loc.
func ParseDate(d core.Date, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(core.DateLayout, string(d), loc)
}
