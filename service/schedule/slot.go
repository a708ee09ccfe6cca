package schedule

import (
	"time"
)

// The week is a fixed 7x48 grid: days run Monday=0 through Sunday=6 and
// each day splits into 48 half-hour slots. All slot arithmetic in the
// booking and reconciler paths goes through these functions so that
// reserving and releasing a range can never disagree on its bounds.
const (
	DaysPerWeek = 7
	SlotsPerDay = 48
	SlotMinutes = 30
)

// SlotTime converts a slot index to its wall-clock start time.
func SlotTime(slot int) (hour, minute int) {
	return slot / 2, (slot % 2) * SlotMinutes
}

// SlotIndex converts a wall-clock time to the slot containing it.
func SlotIndex(hour, minute int) int {
	if minute < SlotMinutes {
		return hour * 2
	}
	return hour*2 + 1
}

// StartSlot is the slot a booking's scheduled_at timestamp falls in.
func StartSlot(t time.Time) int {
	return SlotIndex(t.Hour(), t.Minute())
}

// Weekday maps a time to the grid's day index, Monday=0.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % DaysPerWeek
}

// ValidSlot reports whether (day, slot) addresses a cell of the grid.
func ValidSlot(day, slot int) bool {
	return day >= 0 && day < DaysPerWeek && slot >= 0 && slot < SlotsPerDay
}

// ValidRange reports whether [slot, slot+duration) stays inside one day.
func ValidRange(day, slot, duration int) bool {
	return ValidSlot(day, slot) && duration >= 1 && slot+duration <= SlotsPerDay
}

// NextOccurrence returns the next absolute time the given (day, slot)
// comes around, relative to now. If the slot is later today it resolves
// to today; otherwise it advances 1-7 days to the next matching weekday.
func NextOccurrence(now time.Time, day, slot int) time.Time {
	hour, minute := SlotTime(slot)

	daysAhead := (day - Weekday(now) + DaysPerWeek) % DaysPerWeek
	if daysAhead == 0 {
		today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if today.After(now) {
			return today
		}
		daysAhead = DaysPerWeek
	}

	next := now.AddDate(0, 0, daysAhead)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, now.Location())
}
