package models

import (
	"time"

	"gorm.io/gorm"
)

// Role distinguishes the two account types. Handlers dispatch on it with
// a switch rather than comparing raw strings from the database.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	return r == RoleTutor || r == RoleStudent
}

type User struct {
	gorm.Model
	PublicID          string     `gorm:"column:public_id;size:36;uniqueIndex;not null" json:"public_id"`
	Email             string     `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash      string     `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role              Role       `gorm:"column:user_type;size:20;not null" json:"user_type"`
	FirstName         string     `gorm:"column:first_name;size:100;not null" json:"first_name"`
	LastName          string     `gorm:"column:last_name;size:100;not null" json:"last_name"`
	ProfilePictureURL string     `gorm:"column:profile_picture_url;size:255" json:"profile_picture_url"`
	Balance           float64    `gorm:"column:balance;default:0" json:"balance"`
	IsActive          bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastLoginAt       *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`

	TutorProfile TutorProfile `gorm:"embedded" json:"tutor_profile"`
}

// TutorProfile carries the tutor-only columns. Rows for students leave
// them at their zero values.
type TutorProfile struct {
	Subject            string  `gorm:"column:subject;size:100" json:"subject,omitempty"`
	ProfileTitle       string  `gorm:"column:profile_title;size:255" json:"profile_title,omitempty"`
	Bio                string  `gorm:"column:bio;type:text" json:"bio,omitempty"`
	HourlyRate         float64 `gorm:"column:hourly_rate" json:"hourly_rate,omitempty"`
	VideoIntroURL      string  `gorm:"column:video_intro_url;size:255" json:"video_intro_url,omitempty"`
	VerificationStatus string  `gorm:"column:verification_status;size:50" json:"verification_status,omitempty"`
	Rating             float64 `gorm:"column:rating;default:0" json:"rating,omitempty"`
	TotalReviews       int     `gorm:"column:total_reviews;default:0" json:"total_reviews,omitempty"`
}

func (User) TableName() string {
	return "users"
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index"`
	Token     string    `gorm:"size:10;not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
