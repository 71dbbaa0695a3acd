package booking

import "time"

const (
	OpenHour  = 8
	CloseHour = 18

	// MaxDurationMinutes is the whole business day.
	MaxDurationMinutes = (CloseHour - OpenHour) * 60
)

// Overlaps uses half-open intervals, so back-to-back appointments do not conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// IsBusinessDay is true Monday through Saturday.
func IsBusinessDay(t time.Time) bool {
	return t.Weekday() != time.Sunday
}

func WithinBusinessHours(start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	if !IsBusinessDay(start) || !IsBusinessDay(end) {
		return false
	}
	if !DateOf(start).Equal(DateOf(end)) {
		return false
	}
	opens, closes := BusinessDay(start)
	return !start.Before(opens) && !end.After(closes)
}

// BusinessDay returns the opening and closing instants on the date of t.
func BusinessDay(t time.Time) (opens, closes time.Time) {
	y, m, d := t.Date()
	opens = time.Date(y, m, d, OpenHour, 0, 0, 0, t.Location())
	closes = time.Date(y, m, d, CloseHour, 0, 0, 0, t.Location())
	return opens, closes
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WallClock keeps the wall-clock reading of t and drops its zone. All
// appointment times are naive local times, stored as UTC readings.
func WallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
