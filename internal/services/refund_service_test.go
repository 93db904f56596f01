package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/messmate/backend/internal/config"
	"github.com/stretchr/testify/assert"
)

func testRefundConfig() *config.RefundConfig {
	return &config.RefundConfig{
		Window:          24 * time.Hour,
		MaxReasonLength: 500,
		ProcessedLimit:  50,
	}
}

func TestRefundService_Request(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewRefundService(db, NewWalletLedgerService(db), testRefundConfig())

	t.Run("claim inside the window is filed pending", func(t *testing.T) {
		scannedAt := time.Now().Add(-2 * time.Hour)

		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}).
				AddRow(7, 6000, scannedAt))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("INSERT INTO refund_requests").
			WithArgs(7, 11, int64(6000), "wrong scan", "pending", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))

		request, err := service.Request(7, 11, "wrong scan")
		assert.NoError(t, err)
		assert.Equal(t, 31, request.ID)
		assert.Equal(t, "pending", request.Status)
		assert.Equal(t, int64(6000), request.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("attendance not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(999).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}))

		_, err := service.Request(7, 999, "")
		assert.ErrorIs(t, err, ErrAttendanceNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claiming someone else's attendance is forbidden", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}).
				AddRow(8, 6000, time.Now()))

		_, err := service.Request(7, 11, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second claim for the same attendance is rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}).
				AddRow(7, 6000, time.Now()))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := service.Request(7, 11, "")
		assert.ErrorIs(t, err, ErrDuplicateRefundRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim outside the window is rejected", func(t *testing.T) {
		scannedAt := time.Now().Add(-25 * time.Hour)

		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}).
				AddRow(7, 6000, scannedAt))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := service.Request(7, 11, "too late")
		assert.ErrorIs(t, err, ErrRefundWindowExpired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique constraint backstops a racing duplicate", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, amount_paid, scanned_at FROM attendance WHERE id = \\$1").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_paid", "scanned_at"}).
				AddRow(7, 6000, time.Now()))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(11).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("INSERT INTO refund_requests").
			WithArgs(7, 11, int64(6000), "", "pending", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := service.Request(7, 11, "")
		assert.ErrorIs(t, err, ErrDuplicateRefundRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefundService_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewRefundService(db, NewWalletLedgerService(db), testRefundConfig())
	mealDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	expectRequestLock := func(status string) {
		mock.ExpectQuery("SELECT r.id, r.user_id, r.attendance_id, r.amount, r.status, m.meal_type, m.date FROM refund_requests r").
			WithArgs(31).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "attendance_id", "amount", "status", "meal_type", "date"}).
				AddRow(31, 7, 11, 6000, status, "lunch", mealDate))
	}

	t.Run("approval credits the captured amount in the same transaction", func(t *testing.T) {
		mock.ExpectBegin()
		expectRequestLock("pending")

		mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}).
				AddRow(7, 6000, 2))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs(7, int64(6000), "credit", "Refund for lunch on 2025-03-10", int64(12000), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(60))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, version = version \\+ 1").
			WithArgs(int64(12000), 7, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("UPDATE refund_requests SET status = \\$1, admin_remarks = \\$2, processed_at = \\$3 WHERE id = \\$4").
			WithArgs("approved", "verified", sqlmock.AnyArg(), 31).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		resolved, err := service.Resolve(31, ActionApprove, "verified")
		assert.NoError(t, err)
		assert.Equal(t, "approved", resolved.Status)
		assert.NotNil(t, resolved.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection flips status without touching the wallet", func(t *testing.T) {
		mock.ExpectBegin()
		expectRequestLock("pending")

		mock.ExpectExec("UPDATE refund_requests SET status = \\$1, admin_remarks = \\$2, processed_at = \\$3 WHERE id = \\$4").
			WithArgs("rejected", "no grounds", sqlmock.AnyArg(), 31).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		resolved, err := service.Resolve(31, ActionReject, "no grounds")
		assert.NoError(t, err)
		assert.Equal(t, "rejected", resolved.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already processed request cannot be resolved again", func(t *testing.T) {
		mock.ExpectBegin()
		expectRequestLock("approved")
		mock.ExpectRollback()

		_, err := service.Resolve(31, ActionApprove, "")
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown action", func(t *testing.T) {
		mock.ExpectBegin()
		expectRequestLock("pending")
		mock.ExpectRollback()

		_, err := service.Resolve(31, "escalate", "")
		assert.ErrorIs(t, err, ErrInvalidAction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown request", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT r.id, r.user_id, r.attendance_id, r.amount, r.status, m.meal_type, m.date FROM refund_requests r").
			WithArgs(999).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "attendance_id", "amount", "status", "meal_type", "date"}))
		mock.ExpectRollback()

		_, err := service.Resolve(999, ActionApprove, "")
		assert.ErrorIs(t, err, ErrRefundRequestNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
