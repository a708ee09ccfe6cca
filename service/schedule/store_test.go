package schedule

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tutorlink/tutorlink-server/cmd/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.AvailabilitySlot{}))
	return db
}

func slotState(t *testing.T, db *gorm.DB, tutorID uint) map[SlotKey]bool {
	t.Helper()

	var rows []models.AvailabilitySlot
	require.NoError(t, db.Where("tutor_id = ?", tutorID).Find(&rows).Error)

	state := make(map[SlotKey]bool, len(rows))
	for _, row := range rows {
		state[SlotKey{Day: row.DayOfWeek, Slot: row.TimeSlot}] = row.IsAvailable
	}
	return state
}

func TestReplaceScheduleFromEmpty(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	desired := []SlotKey{{Day: 0, Slot: 18}, {Day: 0, Slot: 19}, {Day: 2, Slot: 30}}
	require.NoError(t, store.ReplaceSchedule(1, desired))

	state := slotState(t, db, 1)
	require.Len(t, state, 3)
	for _, key := range desired {
		assert.True(t, state[key], "slot %+v should be open", key)
	}
}

func TestReplaceScheduleDiff(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{
		{Day: 0, Slot: 18}, {Day: 0, Slot: 19}, {Day: 1, Slot: 10},
	}))

	// A booking closed slot (0, 19).
	require.NoError(t, store.CloseRange(1, 0, 19, 20))

	// New schedule drops (1, 10), keeps the first two, adds (3, 40).
	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{
		{Day: 0, Slot: 18}, {Day: 0, Slot: 19}, {Day: 3, Slot: 40},
	}))

	state := slotState(t, db, 1)
	require.Len(t, state, 3)

	assert.True(t, state[SlotKey{Day: 0, Slot: 18}])
	assert.True(t, state[SlotKey{Day: 3, Slot: 40}])
	// A slot present in both old and new schedules keeps its state, so
	// the booking's hold on (0, 19) survives the replacement.
	open, ok := state[SlotKey{Day: 0, Slot: 19}]
	require.True(t, ok)
	assert.False(t, open)

	_, dropped := state[SlotKey{Day: 1, Slot: 10}]
	assert.False(t, dropped)
}

func TestReplaceScheduleReAddAfterRemoval(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	// Publishing a slot, withdrawing it, and offering it again is an
	// ordinary sequence of schedule updates and must not trip over
	// the unique (tutor, day, slot) key.
	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{{Day: 0, Slot: 10}}))
	require.NoError(t, store.ReplaceSchedule(1, nil))
	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{{Day: 0, Slot: 10}}))

	state := slotState(t, db, 1)
	require.Len(t, state, 1)
	assert.True(t, state[SlotKey{Day: 0, Slot: 10}])

	open, err := store.IsOpen(1, 0, 10)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestReplaceScheduleInvalidSlot(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{{Day: 0, Slot: 18}}))

	tests := []struct {
		name string
		key  SlotKey
	}{
		{name: "slot out of grid", key: SlotKey{Day: 0, Slot: 48}},
		{name: "negative slot", key: SlotKey{Day: 0, Slot: -1}},
		{name: "day out of grid", key: SlotKey{Day: 7, Slot: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ReplaceSchedule(1, []SlotKey{{Day: 1, Slot: 1}, tt.key})
			require.ErrorIs(t, err, ErrInvalidSlot)

			// The rejected request must not have touched storage.
			state := slotState(t, db, 1)
			require.Len(t, state, 1)
			assert.True(t, state[SlotKey{Day: 0, Slot: 18}])
		})
	}
}

func TestIsOpen(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{{Day: 0, Slot: 18}}))

	open, err := store.IsOpen(1, 0, 18)
	require.NoError(t, err)
	assert.True(t, open)

	// Missing slot reads as closed, not as an error.
	open, err = store.IsOpen(1, 0, 19)
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, store.CloseRange(1, 0, 18, 19))
	open, err = store.IsOpen(1, 0, 18)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestCloseRangeIfOpen(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{
		{Day: 0, Slot: 18}, {Day: 0, Slot: 19}, {Day: 0, Slot: 20},
	}))

	closed, err := CloseRangeIfOpen(db, 1, 0, 18, 21)
	require.NoError(t, err)
	assert.Equal(t, int64(3), closed)

	// Second attempt finds nothing open.
	closed, err = CloseRangeIfOpen(db, 1, 0, 18, 21)
	require.NoError(t, err)
	assert.Equal(t, int64(0), closed)

	// A range with a gap can never report the full count.
	require.NoError(t, store.OpenRange(1, 0, 18, 19))
	closed, err = CloseRangeIfOpen(db, 1, 0, 18, 21)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)
}

func TestOpenRangeIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{{Day: 0, Slot: 18}, {Day: 0, Slot: 19}}))
	require.NoError(t, store.CloseRange(1, 0, 18, 20))

	require.NoError(t, store.OpenRange(1, 0, 18, 20))
	require.NoError(t, store.OpenRange(1, 0, 18, 20))

	state := slotState(t, db, 1)
	assert.True(t, state[SlotKey{Day: 0, Slot: 18}])
	assert.True(t, state[SlotKey{Day: 0, Slot: 19}])
}

func TestOpenSlotsOrdered(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.ReplaceSchedule(1, []SlotKey{
		{Day: 4, Slot: 10}, {Day: 0, Slot: 30}, {Day: 0, Slot: 2},
	}))
	require.NoError(t, store.CloseRange(1, 4, 10, 11))

	slots, err := store.OpenSlots(1)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 0, slots[0].DayOfWeek)
	assert.Equal(t, 2, slots[0].TimeSlot)
	assert.Equal(t, 30, slots[1].TimeSlot)
}
