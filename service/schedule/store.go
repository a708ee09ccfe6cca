package schedule

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
)

// ErrInvalidSlot is returned for any (day, slot) outside the grid,
// before storage is touched.
var ErrInvalidSlot = errors.New("invalid day or time slot")

// SlotKey addresses one cell of a tutor's weekly grid.
type SlotKey struct {
	Day  int
	Slot int
}

// Store is the availability data-access layer. All reads and writes of
// tutor_availability go through its named methods instead of per-handler
// query text.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ReplaceSchedule applies full-replacement semantics to a tutor's base
// schedule: stored slots missing from desired are deleted, desired slots
// not yet stored are inserted open, and slots present in both are left
// untouched, so rows closed by an active booking keep their state.
func (s *Store) ReplaceSchedule(tutorID uint, desired []SlotKey) error {
	desiredSet := make(map[SlotKey]bool, len(desired))
	for _, key := range desired {
		if !ValidSlot(key.Day, key.Slot) {
			return fmt.Errorf("%w: day %d, slot %d", ErrInvalidSlot, key.Day, key.Slot)
		}
		desiredSet[key] = true
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing []models.AvailabilitySlot
		if err := tx.Where("tutor_id = ?", tutorID).Find(&existing).Error; err != nil {
			return err
		}

		existingSet := make(map[SlotKey]bool, len(existing))
		for _, row := range existing {
			existingSet[SlotKey{Day: row.DayOfWeek, Slot: row.TimeSlot}] = true
		}

		for key := range existingSet {
			if desiredSet[key] {
				continue
			}
			// Hard delete: a soft-deleted row would keep its
			// (tutor, day, slot) key and block re-adding the slot.
			if err := tx.Unscoped().
				Where("tutor_id = ? AND day_of_week = ? AND time_slot = ?",
					tutorID, key.Day, key.Slot).
				Delete(&models.AvailabilitySlot{}).Error; err != nil {
				return err
			}
		}

		for key := range desiredSet {
			if existingSet[key] {
				continue
			}
			row := models.AvailabilitySlot{
				TutorID:     tutorID,
				DayOfWeek:   key.Day,
				TimeSlot:    key.Slot,
				IsAvailable: true,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// IsOpen reports whether the slot exists and is currently open.
func (s *Store) IsOpen(tutorID uint, day, slot int) (bool, error) {
	var row models.AvailabilitySlot
	err := s.db.Where("tutor_id = ? AND day_of_week = ? AND time_slot = ?", tutorID, day, slot).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.IsAvailable, nil
}

// OpenSlots lists a tutor's currently open slots ordered by day then
// slot index.
func (s *Store) OpenSlots(tutorID uint) ([]models.AvailabilitySlot, error) {
	var slots []models.AvailabilitySlot
	err := s.db.Where("tutor_id = ? AND is_available = ?", tutorID, true).
		Order("day_of_week, time_slot").
		Find(&slots).Error
	return slots, err
}

func (s *Store) OpenRange(tutorID uint, day, start, end int) error {
	return OpenRange(s.db, tutorID, day, start, end)
}

func (s *Store) CloseRange(tutorID uint, day, start, end int) error {
	return CloseRange(s.db, tutorID, day, start, end)
}

// OpenRange re-opens every slot in [start, end). Idempotent: slots that
// are already open, or that the tutor has since removed from the base
// schedule, are simply unaffected.
func OpenRange(tx *gorm.DB, tutorID uint, day, start, end int) error {
	return tx.Model(&models.AvailabilitySlot{}).
		Where("tutor_id = ? AND day_of_week = ? AND time_slot >= ? AND time_slot < ?",
			tutorID, day, start, end).
		Update("is_available", true).Error
}

// CloseRange closes every slot in [start, end) regardless of prior
// state. Idempotent.
func CloseRange(tx *gorm.DB, tutorID uint, day, start, end int) error {
	return tx.Model(&models.AvailabilitySlot{}).
		Where("tutor_id = ? AND day_of_week = ? AND time_slot >= ? AND time_slot < ?",
			tutorID, day, start, end).
		Update("is_available", false).Error
}

// CloseRangeIfOpen closes only slots that are currently open and
// returns how many rows it touched. Booking creation requires the count
// to equal the requested duration; because the guard and the write are
// one UPDATE, two transactions racing for the same range cannot both
// see the full count, which is what serializes concurrent bookings.
func CloseRangeIfOpen(tx *gorm.DB, tutorID uint, day, start, end int) (int64, error) {
	result := tx.Model(&models.AvailabilitySlot{}).
		Where("tutor_id = ? AND day_of_week = ? AND time_slot >= ? AND time_slot < ? AND is_available = ?",
			tutorID, day, start, end, true).
		Update("is_available", false)
	return result.RowsAffected, result.Error
}
