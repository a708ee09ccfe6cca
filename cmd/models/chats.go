package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation is the single thread between one tutor and one student.
// The (tutor, student) pair is unique; starting an existing conversation
// returns the old row.
type Conversation struct {
	gorm.Model
	TutorID   uint `gorm:"column:tutor_id;not null;uniqueIndex:idx_tutor_student" json:"tutor_id"`
	StudentID uint `gorm:"column:student_id;not null;uniqueIndex:idx_tutor_student" json:"student_id"`

	Tutor   *User `gorm:"foreignKey:TutorID" json:"tutor,omitempty"`
	Student *User `gorm:"foreignKey:StudentID" json:"student,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"column:conversation_id;not null;index" json:"conversation_id"`
	SenderID       uint      `gorm:"column:sender_id;not null" json:"sender_id"`
	Content        string    `gorm:"column:content;type:text;not null" json:"content"`
	SentAt         time.Time `gorm:"column:sent_at;autoCreateTime" json:"sent_at"`
	IsRead         bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	Sender       *User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// ConversationSummary is the list-view shape: conversation plus the
// counterpart's display fields and last-message metadata from joins.
type ConversationSummary struct {
	ID              uint       `json:"id"`
	TutorID         uint       `json:"tutor_id"`
	StudentID       uint       `json:"student_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	UnreadCount     int        `json:"unread_count"`
	LastMessage     string     `json:"last_message_content"`
	LastMessageTime *time.Time `json:"last_message_time"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Image           string     `json:"image"`
}
