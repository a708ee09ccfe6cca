package models

import (
	"time"

	"gorm.io/gorm"
)

// Frequency is a booking's recurrence policy.
type Frequency string

const (
	FrequencyOnce   Frequency = "once"
	FrequencyWeekly Frequency = "weekly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyOnce || f == FrequencyWeekly
}

// Booking status lifecycle: scheduled -> completed (expiry) or
// cancelled (explicit delete). Both end states are terminal for the
// row; weekly renewal inserts a fresh row instead of reusing this one.
const (
	BookingScheduled = "scheduled"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

// Booking reserves a contiguous range of Duration slots on DayOfWeek
// for a tutor/student pair. ScheduledAt is the absolute next occurrence
// and doubles as the recurrence anchor; the start slot is derived from
// its clock time, so creation and release always agree on the range.
// While Active is true the covered availability rows must stay closed.
type Booking struct {
	gorm.Model
	TutorID     uint      `gorm:"column:tutor_id;not null;index" json:"tutor_id"`
	StudentID   uint      `gorm:"column:student_id;not null;index" json:"student_id"`
	DayOfWeek   int       `gorm:"column:day_of_week;not null" json:"day_of_week"`
	ScheduledAt time.Time `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	Duration    int       `gorm:"column:duration;not null" json:"duration"`
	Frequency   Frequency `gorm:"column:frequency;size:20;not null" json:"frequency"`
	Active      bool      `gorm:"column:active;not null;default:true" json:"active"`
	Status      string    `gorm:"column:status;size:20;not null;default:scheduled" json:"status"`

	Tutor   *User `gorm:"foreignKey:TutorID" json:"tutor,omitempty"`
	Student *User `gorm:"foreignKey:StudentID" json:"student,omitempty"`
}

func (Booking) TableName() string {
	return "bookings"
}

// JitsiRoom records the call session minted for a booking. RoomName is
// deterministic per booking so both parties land in the same room; the
// token is refreshed on every link request.
type JitsiRoom struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BookingID uint      `gorm:"column:booking_id;uniqueIndex;not null" json:"booking_id"`
	RoomName  string    `gorm:"column:room_name;size:255;not null" json:"room_name"`
	JWTToken  string    `gorm:"column:jwt_token;type:text;not null" json:"jwt_token"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`

	Booking *Booking `gorm:"foreignKey:BookingID" json:"-"`
}

func (JitsiRoom) TableName() string {
	return "jitsi_rooms"
}
