// internal/cashback/cycle.go
package cashback

import (
	"strings"
	"time"
)

const isoTagLayout = "2006-01"

// Range computes the billing window containing ref. ok is false when the
// program has no cycle type.
//
// calendar_month: the reference month, first to last instant.
// statement_cycle: starts on the statement day at or before ref and ends the
// instant before the next statement day. A statement day past the end of a
// short month clamps to that month's last day.
func Range(p Program, ref time.Time) (start, end time.Time, ok bool) {
	switch p.CycleType {
	case CycleCalendarMonth:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
		return start, end, true
	case CycleStatement:
		day := p.StatementDay
		if day == 0 {
			return time.Time{}, time.Time{}, false
		}
		// Month offsets go through time.Date's normalization rather than
		// AddDate: Jan 31 + AddDate(0,1,0) lands on Mar 3 and would skip a
		// clamped February statement day.
		start = statementDate(ref.Year(), ref.Month(), day, ref.Location())
		if ref.Before(start) {
			start = statementDate(ref.Year(), ref.Month()-1, day, ref.Location())
		}
		next := statementDate(start.Year(), start.Month()+1, day, ref.Location())
		end = next.Add(-time.Nanosecond)
		return start, end, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// statementDate is midnight on the statement day of the given month, with
// the day clamped to the month's length (day 31 in February lands on the
// 28th/29th).
func statementDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Tag is the canonical cycle tag, "YYYY-MM" of the cycle END date. A
// statement cycle ending in month M is tagged M no matter where it started.
func Tag(end time.Time) string {
	return end.Format(isoTagLayout)
}

// LegacyTag is the pre-ISO tag format ("NOV24") derived from the same end
// date; kept for lookups against rows created before the tag migration.
func LegacyTag(end time.Time) string {
	return strings.ToUpper(end.Format("Jan")) + end.Format("06")
}

// TagForDate resolves both tags of the cycle containing ref. ok is false
// when the program defines no cycle.
func TagForDate(p Program, ref time.Time) (tag, legacy string, ok bool) {
	_, end, ok := Range(p, ref)
	if !ok {
		return "", "", false
	}
	return Tag(end), LegacyTag(end), true
}

// ParseTag reports whether s is a canonical "YYYY-MM" tag.
func ParseTag(s string) (time.Time, bool) {
	t, err := time.Parse(isoTagLayout, s)
	return t, err == nil
}
