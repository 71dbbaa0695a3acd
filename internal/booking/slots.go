package booking

import (
	"iter"
	"time"
)

// FreeSlots walks the business day of date in steps of slotMinutes and yields
// every window that overlaps no scheduled appointment in existing. existing
// is expected to be pre-filtered to the day by the caller. The sequence can
// be ranged over any number of times.
func FreeSlots(date time.Time, slotMinutes int, existing []Appointment) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if slotMinutes <= 0 || slotMinutes > MaxDurationMinutes {
			return
		}
		step := time.Duration(slotMinutes) * time.Minute
		opens, closes := BusinessDay(date)

		for cur := opens; !cur.Add(step).After(closes); cur = cur.Add(step) {
			candidate := Slot{Start: cur, End: cur.Add(step)}
			if conflictsWithScheduled(candidate, existing) {
				continue
			}
			if !yield(candidate) {
				return
			}
		}
	}
}

// AvailableSlots yields only the start instants of FreeSlots.
func AvailableSlots(date time.Time, slotMinutes int, existing []Appointment) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for s := range FreeSlots(date, slotMinutes, existing) {
			if !yield(s.Start) {
				return
			}
		}
	}
}

func conflictsWithScheduled(s Slot, existing []Appointment) bool {
	for _, a := range existing {
		if a.Status != StatusScheduled {
			continue
		}
		if Overlaps(s.Start, s.End, a.StartTime, a.EndTime) {
			return true
		}
	}
	return false
}
