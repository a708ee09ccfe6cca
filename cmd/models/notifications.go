package models

import (
	"time"

	"gorm.io/gorm"
)

// Device is a registered Expo push token for a user's phone or browser.
type Device struct {
	gorm.Model
	UserID     uint   `gorm:"column:user_id;not null;index;uniqueIndex:idx_user_token" json:"user_id"`
	Token      string `gorm:"column:token;not null;uniqueIndex:idx_user_token" json:"token"`
	DeviceType string `gorm:"column:device_type;size:50" json:"device_type,omitempty"`
	DeviceName string `gorm:"column:device_name;size:100" json:"device_name,omitempty"`
}

func (Device) TableName() string {
	return "devices"
}

type NotificationHistory struct {
	gorm.Model
	UserID uint      `gorm:"column:user_id;index" json:"user_id"`
	Title  string    `gorm:"column:title;size:255" json:"title"`
	Body   string    `gorm:"column:body;type:text" json:"body"`
	Data   string    `gorm:"column:data;type:text" json:"data,omitempty"`
	Status string    `gorm:"column:status;size:20" json:"status"`
	SentAt time.Time `gorm:"column:sent_at" json:"sent_at"`
}

func (NotificationHistory) TableName() string {
	return "notification_history"
}
