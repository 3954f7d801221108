package models

import (
	"time"
)

type NotificationKind string

const (
	NotificationSuccess NotificationKind = "SUCCESS"
	NotificationAlert   NotificationKind = "ALERT"
	NotificationInfo    NotificationKind = "INFO"
)

type Notification struct {
	ID        string           `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID    string           `json:"userId" gorm:"type:uuid;not null;index:idx_notifications_user_created"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind" gorm:"type:varchar(10);default:'INFO'"`
	ReadAt    *time.Time       `json:"readAt"`
	CreatedAt time.Time        `json:"createdAt" gorm:"index:idx_notifications_user_created"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
