package scheduling

import (
	"testing"
	"time"
)

func TestDayRangeSplit_CoversRangeWithoutGaps(t *testing.T) {
	cases := []struct {
		from, until, max int
		wantChunks       int
	}{
		{1, 45, 30, 2},
		{0, 30, 30, 1},
		{0, 31, 30, 2},
		{5, 90, 7, 13},
		{0, 10, 0, 1},
	}
	for _, tc := range cases {
		r := SearchRange(tc.from, tc.until)
		chunks := r.Split(tc.max)
		if len(chunks) != tc.wantChunks {
			t.Fatalf("from=%d until=%d max=%d: expected %d chunks, got %d", tc.from, tc.until, tc.max, tc.wantChunks, len(chunks))
		}
		if chunks[0].From != r.From || chunks[len(chunks)-1].To != r.To {
			t.Fatalf("chunks %v do not cover %v", chunks, r)
		}
		for i := 1; i < len(chunks); i++ {
			if chunks[i].From != chunks[i-1].To {
				t.Fatalf("gap between chunk %d and %d: %v", i-1, i, chunks)
			}
			if tc.max > 0 && chunks[i].Days() > tc.max {
				t.Fatalf("chunk %v exceeds %d days", chunks[i], tc.max)
			}
		}
	}
}

func TestDayRangeSplit_FortyFiveDaysInThirtyDayChunks(t *testing.T) {
	chunks := SearchRange(1, 45).Split(30)
	want := []DayRange{{From: 1, To: 31}, {From: 31, To: 46}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %v, got %v", want, chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %v, got %v", i, want[i], chunks[i])
		}
	}
}

func TestDayRangeWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	start, end := DayRange{From: 1, To: 3}.Window(now)
	if !start.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 12, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)) {
		t.Errorf("unexpected end %v", end)
	}
}

func TestSearchRange_SingleDayWhenUntilDayMissing(t *testing.T) {
	r := SearchRange(3, 0)
	if r.From != 3 || r.To != 4 {
		t.Fatalf("expected [3,4), got %v", r)
	}
}

func TestEndOfDayKeepsLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	end := EndOfDay(time.Date(2026, 1, 1, 8, 0, 0, 0, loc))
	if end.Location() != loc || end.Hour() != 23 || end.Day() != 1 {
		t.Fatalf("unexpected end of day %v", end)
	}
}
