package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/messmate/backend/internal/config"
	"github.com/messmate/backend/internal/services"
	"github.com/stretchr/testify/assert"
)

func newScanHandlerForTest(t *testing.T) (*ScanHandler, sqlmock.Sqlmock, redismock.ClientMock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()

	scanService := services.NewScanService(db, services.NewWalletLedgerService(db))
	qrService := services.NewQRService(db, redisClient, &config.QRConfig{
		CodeFolder: t.TempDir(),
		ImageSize:  256,
		SessionTTL: 5 * time.Minute,
	})

	return NewScanHandler(scanService, qrService), mock, redisMock, func() { db.Close() }
}

func expectSuccessfulScan(mock sqlmock.Sqlmock, rollNumber string) {
	mealDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, is_active, wallet_balance FROM users WHERE username = \\$1 AND role = 'student' FOR UPDATE").
		WithArgs(rollNumber).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active", "wallet_balance"}).
			AddRow(7, "Ayesha Khan", true, 12000))
	mock.ExpectQuery("SELECT date, meal_type, price FROM meals WHERE id = \\$1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"date", "meal_type", "price"}).
			AddRow(mealDate, "lunch", 6000))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 3).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}).
			AddRow(7, 12000, 1))
	mock.ExpectQuery("INSERT INTO wallet_transactions").
		WithArgs(7, int64(-6000), "debit", "Lunch on 2025-03-10", int64(6000), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(55))
	mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, version = version \\+ 1").
		WithArgs(int64(6000), 7, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO attendance").
		WithArgs(7, 3, int64(6000), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestScanHandler_Scan(t *testing.T) {
	handler, mock, redisMock, closeDB := newScanHandlerForTest(t)
	defer closeDB()

	t.Run("scan by roll number", func(t *testing.T) {
		expectSuccessfulScan(mock, "2024-CS-562")

		body := []byte(`{"roll_number":"2024-CS-562","meal_id":3}`)
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var result services.ScanResult
		json.Unmarshal(w.Body.Bytes(), &result)
		assert.Equal(t, "Ayesha Khan", result.StudentName)
		assert.Equal(t, int64(6000), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan by session token resolves the roll number first", func(t *testing.T) {
		redisMock.ExpectGet("scan_session:tok123").SetVal("2024-CS-562")
		redisMock.ExpectDel("scan_session:tok123").SetVal(1)
		expectSuccessfulScan(mock, "2024-CS-562")

		body := []byte(`{"session_token":"tok123","meal_id":3}`)
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired session token", func(t *testing.T) {
		redisMock.ExpectGet("scan_session:gone").RedisNil()

		body := []byte(`{"session_token":"gone","meal_id":3}`)
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("neither roll number nor token", func(t *testing.T) {
		body := []byte(`{"meal_id":3}`)
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient balance maps to forbidden", func(t *testing.T) {
		mealDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, name, is_active, wallet_balance FROM users WHERE username = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs("2024-CS-562").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active", "wallet_balance"}).
				AddRow(7, "Ayesha Khan", true, 100))
		mock.ExpectQuery("SELECT date, meal_type, price FROM meals WHERE id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"date", "meal_type", "price"}).
				AddRow(mealDate, "lunch", 6000))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(7, 3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		body := []byte(`{"roll_number":"2024-CS-562","meal_id":3}`)
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Rs. 1.00")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/scan", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		handler.Scan(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
