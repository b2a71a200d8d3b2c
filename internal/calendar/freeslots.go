package calendar

import "time"

// FreeWithin computes the free slots for a window of the given span
// starting at windowStart (midnight, clinic time). Each working day is
// divided into SlotMinutes slots between OpenHour and CloseHour; a slot
// is free when no busy interval overlaps it.
func FreeWithin(windowStart time.Time, days int, busy []Slot, policy Policy) []Slot {
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}
	slotLen := time.Duration(policy.SlotMinutes) * time.Minute
	if slotLen <= 0 {
		slotLen = 30 * time.Minute
	}

	var free []Slot
	for d := 0; d < days; d++ {
		day := windowStart.AddDate(0, 0, d)
		open := time.Date(day.Year(), day.Month(), day.Day(), policy.OpenHour, 0, 0, 0, loc)
		close := time.Date(day.Year(), day.Month(), day.Day(), policy.CloseHour, 0, 0, 0, loc)

		for s := open; s.Add(slotLen).Before(close) || s.Add(slotLen).Equal(close); s = s.Add(slotLen) {
			if !overlapsAny(s, s.Add(slotLen), busy) {
				free = appendMerged(free, Slot{Start: s, End: s.Add(slotLen)})
			}
		}
	}
	return free
}

// overlapsAny reports whether [start, end) intersects any busy interval.
func overlapsAny(start, end time.Time, busy []Slot) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// appendMerged appends a slot, coalescing it with the previous one when
// they are contiguous, so the model sees "09:00-12:00" rather than six
// half-hour fragments.
func appendMerged(slots []Slot, s Slot) []Slot {
	if n := len(slots); n > 0 && slots[n-1].End.Equal(s.Start) {
		slots[n-1].End = s.End
		return slots
	}
	return append(slots, s)
}
