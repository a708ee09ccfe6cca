package models

import (
	"gorm.io/gorm"
)

// AvailabilitySlot is one cell of a tutor's weekly 7x48 grid. DayOfWeek
// runs Monday=0 through Sunday=6, TimeSlot indexes 30-minute units from
// midnight (0-47). A row exists only for slots the tutor has opened;
// IsAvailable flips to false while an active booking occupies the slot.
type AvailabilitySlot struct {
	gorm.Model
	TutorID     uint `gorm:"column:tutor_id;not null;uniqueIndex:idx_tutor_day_slot" json:"tutor_id"`
	DayOfWeek   int  `gorm:"column:day_of_week;not null;uniqueIndex:idx_tutor_day_slot" json:"day_of_week"`
	TimeSlot    int  `gorm:"column:time_slot;not null;uniqueIndex:idx_tutor_day_slot" json:"time_slot"`
	IsAvailable bool `gorm:"column:is_available;not null;default:true" json:"is_available"`

	Tutor *User `gorm:"foreignKey:TutorID" json:"-"`
}

func (AvailabilitySlot) TableName() string {
	return "tutor_availability"
}
