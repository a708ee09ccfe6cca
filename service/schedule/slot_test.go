package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotRoundTrip(t *testing.T) {
	for slot := 0; slot < SlotsPerDay; slot++ {
		hour, minute := SlotTime(slot)
		assert.Equal(t, slot, SlotIndex(hour, minute), "slot %d", slot)
		assert.True(t, minute == 0 || minute == 30)
	}
}

func TestSlotIndex(t *testing.T) {
	tests := []struct {
		name   string
		hour   int
		minute int
		want   int
	}{
		{name: "midnight", hour: 0, minute: 0, want: 0},
		{name: "first half hour", hour: 0, minute: 29, want: 0},
		{name: "second half hour", hour: 0, minute: 30, want: 1},
		{name: "nine sharp", hour: 9, minute: 0, want: 18},
		{name: "nine forty five", hour: 9, minute: 45, want: 19},
		{name: "last slot of the day", hour: 23, minute: 30, want: 47},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SlotIndex(tt.hour, tt.minute))
		})
	}
}

func TestWeekday(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want int
	}{
		{name: "monday", date: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), want: 0},
		{name: "wednesday", date: time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC), want: 2},
		{name: "saturday", date: time.Date(2026, 9, 5, 12, 0, 0, 0, time.UTC), want: 5},
		{name: "sunday", date: time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC), want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Weekday(tt.date))
		})
	}
}

func TestValidRange(t *testing.T) {
	tests := []struct {
		name     string
		day      int
		slot     int
		duration int
		want     bool
	}{
		{name: "single slot", day: 0, slot: 0, duration: 1, want: true},
		{name: "full day", day: 3, slot: 0, duration: 48, want: true},
		{name: "ends at midnight", day: 6, slot: 46, duration: 2, want: true},
		{name: "crosses midnight", day: 6, slot: 47, duration: 2, want: false},
		{name: "slot out of grid", day: 0, slot: 48, duration: 1, want: false},
		{name: "negative day", day: -1, slot: 0, duration: 1, want: false},
		{name: "day out of grid", day: 7, slot: 0, duration: 1, want: false},
		{name: "zero duration", day: 0, slot: 10, duration: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidRange(tt.day, tt.slot, tt.duration))
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	// Monday 2026-08-31 10:00 UTC.
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		day  int
		slot int
		want time.Time
	}{
		{
			name: "later today",
			day:  0,
			slot: 28, // 14:00
			want: time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "earlier today rolls a full week",
			day:  0,
			slot: 18, // 09:00, already past
			want: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly now rolls a full week",
			day:  0,
			slot: 20, // 10:00
			want: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "later this week",
			day:  3,
			slot: 33, // Thursday 16:30
			want: time.Date(2026, 9, 3, 16, 30, 0, 0, time.UTC),
		},
		{
			name: "sunday",
			day:  6,
			slot: 0,
			want: time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(now, tt.day, tt.slot)
			require.Equal(t, tt.want, got)
			assert.Equal(t, tt.day, Weekday(got))
			assert.Equal(t, tt.slot, StartSlot(got))
			assert.True(t, got.After(now))
		})
	}
}
