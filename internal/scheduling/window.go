package scheduling

import "time"

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// DayRange is a half-open range of day offsets relative to "today".
type DayRange struct {
	From int
	To   int
}

// Days returns the number of days in the range.
func (r DayRange) Days() int { return r.To - r.From }

// Window maps the range to [startOfDay(now+From), endOfDay(now+To-1)].
func (r DayRange) Window(now time.Time) (time.Time, time.Time) {
	start := StartOfDay(now.AddDate(0, 0, r.From))
	last := r.To - 1
	if last < r.From {
		last = r.From
	}
	return start, EndOfDay(now.AddDate(0, 0, last))
}

// SearchRange returns the day range searched for fromDay/untilDay. untilDay is
// the number of days searched; values below one search the single day fromDay.
func SearchRange(fromDay, untilDay int) DayRange {
	if fromDay < 0 {
		fromDay = 0
	}
	if untilDay < 1 {
		untilDay = 1
	}
	return DayRange{From: fromDay, To: fromDay + untilDay}
}

// Split cuts r into contiguous chunks of at most maxDays days, in order.
// The chunk count is ceil(r.Days()/maxDays).
func (r DayRange) Split(maxDays int) []DayRange {
	if maxDays <= 0 || r.Days() <= maxDays {
		return []DayRange{r}
	}
	chunks := make([]DayRange, 0, (r.Days()+maxDays-1)/maxDays)
	for from := r.From; from < r.To; from += maxDays {
		to := from + maxDays
		if to > r.To {
			to = r.To
		}
		chunks = append(chunks, DayRange{From: from, To: to})
	}
	return chunks
}
