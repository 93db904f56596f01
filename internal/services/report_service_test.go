package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func expectRangeRows(mock sqlmock.Sqlmock, from, to string) {
	mealDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT m.date, m.meal_type, u.name, u.username, COALESCE\\(u.room_number, ''\\), a.amount_paid, a.scanned_at FROM attendance a").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"date", "meal_type", "name", "username", "room_number", "amount_paid", "scanned_at"}).
			AddRow(mealDate, "lunch", "Ayesha Khan", "2024-CS-562", "B-214", 6000, mealDate.Add(13*time.Hour)).
			AddRow(mealDate, "dinner", "Bilal Ahmed", "2024-EE-101", "", 7000, mealDate.Add(20*time.Hour)))
}

func TestReportService_RangeReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReportService(db, nil)

	t.Run("totals sum the captured amounts", func(t *testing.T) {
		expectRangeRows(mock, "2025-03-01", "2025-03-31")

		r := httptest.NewRequest("GET", "/admin/reports/range?from=2025-03-01&to=2025-03-31", nil)
		w := httptest.NewRecorder()

		service.RangeReport(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"total_revenue":13000`)
		assert.Contains(t, w.Body.String(), `"count":2`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing dates are a bad request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/admin/reports/range?from=2025-03-01", nil)
		w := httptest.NewRecorder()

		service.RangeReport(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reversed range is a bad request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/admin/reports/range?from=2025-03-31&to=2025-03-01", nil)
		w := httptest.NewRecorder()

		service.RangeReport(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReportService_ExportCSV(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReportService(db, nil)

	expectRangeRows(mock, "2025-03-01", "2025-03-31")

	r := httptest.NewRequest("GET", "/admin/reports/export?from=2025-03-01&to=2025-03-31", nil)
	w := httptest.NewRecorder()

	service.ExportCSV(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_2025-03-01_2025-03-31.csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "Date,Meal,Student,Roll Number,Room,Amount,Scanned At", lines[0])
	assert.Contains(t, lines[1], "2024-CS-562")
	assert.Contains(t, lines[1], "Rs. 60.00")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportService_Dashboard(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReportService(db, nil)

	t.Run("aggregates today's figures", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE role = 'student' AND is_active = true").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM meals WHERE date = \\$1 AND is_active = true").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\), COALESCE\\(SUM\\(a.amount_paid\\), 0\\) FROM attendance a").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(87, 520000))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM refund_requests WHERE status = 'pending'").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("SELECT m.meal_type, COUNT\\(a.id\\) FROM meals m").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"meal_type", "count"}).
				AddRow("breakfast", 40).
				AddRow("lunch", 47))
		mock.ExpectQuery("SELECT u.name, u.username, m.meal_type, a.amount_paid, a.scanned_at FROM attendance a").
			WillReturnRows(sqlmock.NewRows([]string{"name", "username", "meal_type", "amount_paid", "scanned_at"}).
				AddRow("Ayesha Khan", "2024-CS-562", "lunch", 6000, time.Now()))

		r := httptest.NewRequest("GET", "/admin/dashboard", nil)
		w := httptest.NewRecorder()

		service.Dashboard(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"total_students":120`)
		assert.Contains(t, w.Body.String(), `"today_revenue":520000`)
		assert.Contains(t, w.Body.String(), `"pending_refunds":2`)
		assert.Contains(t, w.Body.String(), `"lunch":47`)
		assert.Contains(t, w.Body.String(), "2024-CS-562")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReportService_Trends(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReportService(db, nil)

	t.Run("days without meals appear as zero points", func(t *testing.T) {
		today := localMidnight(time.Now())

		mock.ExpectQuery("SELECT m.date, COUNT\\(a.id\\), COALESCE\\(SUM\\(a.amount_paid\\), 0\\) FROM meals m").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"date", "count", "sum"}).
				AddRow(today, 42, 250000))

		r := httptest.NewRequest("GET", "/admin/reports/trends?days=7", nil)
		w := httptest.NewRecorder()

		service.Trends(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"attendance":42`)
		assert.Contains(t, w.Body.String(), `"attendance":0`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
