// internal/cashback/cycle_test.go
package cashback

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestRangeCalendarMonth(t *testing.T) {
	p := Program{CycleType: CycleCalendarMonth}
	start, end, ok := Range(p, date(2024, time.November, 15))
	if !ok {
		t.Fatal("Range returned ok=false")
	}
	wantStart := time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if end.Month() != time.November || end.Day() != 30 {
		t.Errorf("end = %v, want last instant of November", end)
	}
	if Tag(end) != "2024-11" {
		t.Errorf("Tag(end) = %q, want 2024-11", Tag(end))
	}
}

func TestRangeNoCycleType(t *testing.T) {
	if _, _, ok := Range(Program{}, date(2024, time.November, 15)); ok {
		t.Error("Range with no cycle type should return ok=false")
	}
}

// A transaction on the 24th belongs to the cycle ending that month; one on
// the statement day itself opens the cycle ending the following month.
func TestStatementCycleTagStability(t *testing.T) {
	p := Program{CycleType: CycleStatement, StatementDay: 25}

	tag, legacy, ok := TagForDate(p, date(2024, time.November, 24))
	if !ok || tag != "2024-11" {
		t.Errorf("Nov 24 tag = %q (ok=%v), want 2024-11", tag, ok)
	}
	if legacy != "NOV24" {
		t.Errorf("Nov 24 legacy tag = %q, want NOV24", legacy)
	}

	tag, legacy, ok = TagForDate(p, date(2024, time.November, 25))
	if !ok || tag != "2024-12" {
		t.Errorf("Nov 25 tag = %q (ok=%v), want 2024-12", tag, ok)
	}
	if legacy != "DEC24" {
		t.Errorf("Nov 25 legacy tag = %q, want DEC24", legacy)
	}
}

func TestStatementCycleBounds(t *testing.T) {
	p := Program{CycleType: CycleStatement, StatementDay: 25}
	start, end, ok := Range(p, date(2024, time.November, 24))
	if !ok {
		t.Fatal("Range returned ok=false")
	}
	wantStart := time.Date(2024, time.October, 25, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	// End is the last instant before the next statement day.
	if end.Month() != time.November || end.Day() != 24 {
		t.Errorf("end = %v, want end of Nov 24", end)
	}
	if !end.Before(time.Date(2024, time.November, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end %v should precede the next statement date", end)
	}
}

func TestStatementCycleDayClamping(t *testing.T) {
	p := Program{CycleType: CycleStatement, StatementDay: 31}

	// February has no 31st: the statement day clamps to Feb 28/29.
	start, end, ok := Range(p, date(2025, time.February, 15))
	if !ok {
		t.Fatal("Range returned ok=false")
	}
	wantStart := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if end.Month() != time.February || end.Day() != 27 {
		t.Errorf("end = %v, want end of Feb 27 (clamped next statement Feb 28)", end)
	}
	if Tag(end) != "2025-02" {
		t.Errorf("Tag = %q, want 2025-02", Tag(end))
	}

	// On the clamped day itself a new cycle starts.
	start, end, ok = Range(p, date(2025, time.February, 28))
	if !ok {
		t.Fatal("Range returned ok=false")
	}
	if start.Month() != time.February || start.Day() != 28 {
		t.Errorf("start = %v, want Feb 28", start)
	}
	if end.Month() != time.March || end.Day() != 30 {
		t.Errorf("end = %v, want end of Mar 30", end)
	}
}

func TestLegacyTagFormat(t *testing.T) {
	tests := []struct {
		end  time.Time
		want string
	}{
		{date(2024, time.November, 30), "NOV24"},
		{date(2025, time.January, 24), "JAN25"},
		{date(2023, time.June, 1), "JUN23"},
	}
	for _, tt := range tests {
		if got := LegacyTag(tt.end); got != tt.want {
			t.Errorf("LegacyTag(%v) = %q, want %q", tt.end, got, tt.want)
		}
	}
}

func TestParseTag(t *testing.T) {
	if _, ok := ParseTag("2024-11"); !ok {
		t.Error("ParseTag(2024-11) should succeed")
	}
	for _, bad := range []string{"NOV24", "2024-13", "2024-11-01", "garbage"} {
		if _, ok := ParseTag(bad); ok {
			t.Errorf("ParseTag(%q) should fail", bad)
		}
	}
}
