package booking

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/service/schedule"
)

var (
	// ErrTutorNotFound means the target tutor does not exist.
	ErrTutorNotFound = errors.New("tutor not found")
	// ErrBookingNotFound means the booking is missing or no longer active.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrSlotUnavailable means at least one slot in the requested range
	// is closed, missing, or was taken by a concurrent booking.
	ErrSlotUnavailable = errors.New("time slot not available")
	// ErrForbidden means the caller is neither party of the booking.
	ErrForbidden = errors.New("not a participant of this booking")
)

// Store is the booking ledger. It owns every mutation of the bookings
// table and keeps the availability grid consistent with it: creating a
// booking closes its slot range and cancelling re-opens it, each inside
// a single transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

type CreateParams struct {
	TutorID   uint
	StudentID uint
	DayOfWeek int
	TimeSlot  int
	Duration  int
	Frequency models.Frequency
}

// Create validates the requested range, computes the next occurrence
// relative to now and atomically closes the range while inserting the
// ledger row. When two requests race for overlapping slots, only the
// transaction whose guarded close covers the full range commits; the
// other rolls back with ErrSlotUnavailable.
func (s *Store) Create(params CreateParams, now time.Time) (*models.Booking, error) {
	if !schedule.ValidRange(params.DayOfWeek, params.TimeSlot, params.Duration) {
		return nil, fmt.Errorf("%w: day %d, slot %d, duration %d",
			schedule.ErrInvalidSlot, params.DayOfWeek, params.TimeSlot, params.Duration)
	}
	if !params.Frequency.Valid() {
		return nil, fmt.Errorf("invalid frequency %q", params.Frequency)
	}

	var tutor models.User
	err := s.db.Where("id = ? AND user_type = ?", params.TutorID, models.RoleTutor).First(&tutor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTutorNotFound
	}
	if err != nil {
		return nil, err
	}

	booking := models.Booking{
		TutorID:     params.TutorID,
		StudentID:   params.StudentID,
		DayOfWeek:   params.DayOfWeek,
		ScheduledAt: schedule.NextOccurrence(now, params.DayOfWeek, params.TimeSlot),
		Duration:    params.Duration,
		Frequency:   params.Frequency,
		Active:      true,
		Status:      models.BookingScheduled,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		closed, err := schedule.CloseRangeIfOpen(tx, params.TutorID, params.DayOfWeek,
			params.TimeSlot, params.TimeSlot+params.Duration)
		if err != nil {
			return err
		}
		// Every slot of the range must have been open, not just the
		// first one.
		if closed != int64(params.Duration) {
			return ErrSlotUnavailable
		}

		return tx.Create(&booking).Error
	})
	if err != nil {
		return nil, err
	}

	return &booking, nil
}

// Cancel deactivates the booking and releases its slot range. Only the
// booking's tutor or student may cancel. The status transition is
// conditional on the row still being active so a cancellation cannot
// clobber a completion the reconciler committed first.
func (s *Store) Cancel(bookingID uint, requesterID uint) error {
	var booking models.Booking
	err := s.db.Where("id = ? AND active = ?", bookingID, true).First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBookingNotFound
	}
	if err != nil {
		return err
	}

	if booking.TutorID != requesterID && booking.StudentID != requesterID {
		return ErrForbidden
	}

	startSlot := schedule.StartSlot(booking.ScheduledAt)

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Booking{}).
			Where("id = ? AND active = ?", booking.ID, true).
			Updates(map[string]interface{}{
				"active": false,
				"status": models.BookingCancelled,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race against the reconciler.
			return ErrBookingNotFound
		}

		return schedule.OpenRange(tx, booking.TutorID, booking.DayOfWeek,
			startSlot, startSlot+booking.Duration)
	})
}

// EndOf is when a booking's lesson finishes.
func EndOf(b *models.Booking) time.Time {
	return b.ScheduledAt.Add(time.Duration(b.Duration*schedule.SlotMinutes) * time.Minute)
}

// NextLessonFor returns the user's soonest booking that has not yet
// finished, with the counterpart profile preloaded.
func (s *Store) NextLessonFor(role models.Role, userID uint, now time.Time) (*models.Booking, error) {
	query := s.db.Model(&models.Booking{}).
		Where("active = ?", true).
		Order("scheduled_at ASC")

	switch role {
	case models.RoleTutor:
		query = query.Where("tutor_id = ?", userID).Preload("Student")
	default:
		query = query.Where("student_id = ?", userID).Preload("Tutor")
	}

	var bookings []models.Booking
	if err := query.Find(&bookings).Error; err != nil {
		return nil, err
	}
	for i := range bookings {
		if now.Before(EndOf(&bookings[i])) {
			return &bookings[i], nil
		}
	}
	return nil, ErrBookingNotFound
}

// CurrentLessonFor returns the user's booking whose call window is open:
// from five minutes before the start until the end of the lesson.
func (s *Store) CurrentLessonFor(userID uint, now time.Time) (*models.Booking, error) {
	var bookings []models.Booking
	err := s.db.Model(&models.Booking{}).
		Where("(tutor_id = ? OR student_id = ?) AND active = ?", userID, userID, true).
		Order("scheduled_at ASC").
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}

	for i := range bookings {
		opens := bookings[i].ScheduledAt.Add(-5 * time.Minute)
		if now.After(opens) && now.Before(EndOf(&bookings[i])) {
			return &bookings[i], nil
		}
	}
	return nil, ErrBookingNotFound
}

// UpsertRoom stores the call session for a booking, refreshing the
// token when a row already exists for it.
func (s *Store) UpsertRoom(room *models.JitsiRoom) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "booking_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"jwt_token"}),
	}).Create(room).Error
}
