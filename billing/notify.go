package billing

import (
	"errors"
	"time"

	"fiscalai-backend/models"

	"gorm.io/gorm"
)

// notifyOnce inserts a notification unless the same user already received one
// with the same title inside the trailing window. This is a best-effort,
// time-windowed dedup rather than a strict key: an occasional duplicate
// message is cheap, unlike a duplicate charge. Returns whether a row was
// inserted.
func notifyOnce(tx *gorm.DB, userID, title, message string, kind models.NotificationKind, window time.Duration) (bool, error) {
	var existing models.Notification
	err := tx.Where("user_id = ? AND title = ? AND created_at > ?", userID, title, time.Now().Add(-window)).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	notification := models.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Kind:    kind,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return false, err
	}
	return true, nil
}

// NotifyOnce is the out-of-transaction variant used by callers outside the
// billing paths.
func (s *Service) NotifyOnce(userID, title, message string, kind models.NotificationKind, window time.Duration) (bool, error) {
	return notifyOnce(s.db, userID, title, message, kind, window)
}
