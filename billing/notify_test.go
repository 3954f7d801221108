package billing

import (
	"testing"
	"time"

	"fiscalai-backend/models"
	"fiscalai-backend/testutils"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestNotifyOnce_InsertsWhenWindowIsClear(t *testing.T) {
	gormDB, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	svc := NewService(gormDB, "test")

	mock.ExpectQuery(`SELECT (.+) FROM "notifications" WHERE user_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "notifications" (.+) RETURNING "id"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("n-1"))
	mock.ExpectCommit()

	inserted, err := svc.NotifyOnce(testUserID, "Payment Confirmed",
		"Your payment was confirmed.", models.NotificationSuccess, 30*time.Minute)

	assert.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyOnce_SuppressesDuplicateInsideWindow(t *testing.T) {
	gormDB, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	svc := NewService(gormDB, "test")

	mock.ExpectQuery(`SELECT (.+) FROM "notifications" WHERE user_id = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "user_id", "title", "created_at"}).
			AddRow("n-1", testUserID, "Payment Confirmed", time.Now().Add(-5*time.Minute)))

	inserted, err := svc.NotifyOnce(testUserID, "Payment Confirmed",
		"Your payment was confirmed.", models.NotificationSuccess, 30*time.Minute)

	assert.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
