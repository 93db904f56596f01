package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const dashboardCacheTTL = 30 * time.Second

// ReportService aggregates attendance and revenue figures for the admin
// dashboard and exports date-range reports as CSV. Dashboard stats are
// cached briefly in Redis since every admin page load hits them.
type ReportService struct {
	db    *sql.DB
	redis *redis.Client
}

// DashboardStats is the admin landing page summary
type DashboardStats struct {
	TotalStudents   int            `json:"total_students"`
	TodayMeals      int            `json:"today_meals"`
	TodayAttendance int            `json:"today_attendance"`
	TodayRevenue    int64          `json:"today_revenue"`
	PendingRefunds  int            `json:"pending_refunds"`
	MealBreakdown   map[string]int `json:"meal_breakdown"`
	RecentScans     []RecentScan   `json:"recent_scans"`
}

// RecentScan is one row in the dashboard's latest-scans feed
type RecentScan struct {
	StudentName string    `json:"student_name"`
	RollNumber  string    `json:"roll_number"`
	MealType    string    `json:"meal_type"`
	AmountPaid  int64     `json:"amount_paid"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// TrendPoint is one day in a revenue or attendance trend
type TrendPoint struct {
	Date       string `json:"date"`
	Attendance int    `json:"attendance"`
	Revenue    int64  `json:"revenue"`
}

func NewReportService(db *sql.DB, redisClient *redis.Client) *ReportService {
	return &ReportService{db: db, redis: redisClient}
}

// Dashboard returns today's summary stats
// @Summary Admin dashboard stats
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} DashboardStats
// @Router /admin/dashboard [get]
func (s *ReportService) Dashboard(w http.ResponseWriter, r *http.Request) {
	if cached := s.cachedDashboard(r.Context()); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	stats, err := s.collectDashboard(time.Now())
	if err != nil {
		log.Printf("[REPORT] Dashboard query failed: %v", err)
		SendErrorResponse(w, "Failed to fetch dashboard stats", http.StatusInternalServerError, nil)
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch dashboard stats", http.StatusInternalServerError, nil)
		return
	}
	s.storeDashboard(r.Context(), payload)

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// Trends returns daily attendance and revenue for the last N days
// @Summary Attendance and revenue trends
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param days query int false "Window in days (default 7, max 90)"
// @Success 200 {object} object{trends=[]TrendPoint}
// @Router /admin/reports/trends [get]
func (s *ReportService) Trends(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}

	since := localMidnight(time.Now().AddDate(0, 0, -(days - 1)))
	points, err := s.collectTrends(since, days)
	if err != nil {
		log.Printf("[REPORT] Trends query failed: %v", err)
		SendErrorResponse(w, "Failed to fetch trends", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"trends": points})
}

// RangeReport returns attendance rows for a date range
// @Summary Date-range attendance report
// @Tags reports
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Router /admin/reports/range [get]
func (s *ReportService) RangeReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	rows, totalRevenue, err := s.collectRange(from, to)
	if err != nil {
		log.Printf("[REPORT] Range query failed: %v", err)
		SendErrorResponse(w, "Failed to fetch report", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"from":          from.Format("2006-01-02"),
		"to":            to.Format("2006-01-02"),
		"records":       rows,
		"count":         len(rows),
		"total_revenue": totalRevenue,
	})
}

// ExportCSV streams a date-range attendance report as CSV
// @Summary Export attendance report as CSV
// @Tags reports
// @Produce text/csv
// @Security BearerAuth
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {string} string "CSV body"
// @Failure 400 {object} ErrorResponse
// @Router /admin/reports/export [get]
func (s *ReportService) ExportCSV(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	rows, _, err := s.collectRange(from, to)
	if err != nil {
		log.Printf("[REPORT] Export query failed: %v", err)
		SendErrorResponse(w, "Failed to export report", http.StatusInternalServerError, nil)
		return
	}

	filename := fmt.Sprintf("attendance_%s_%s.csv", from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	writer := csv.NewWriter(w)
	writer.Write([]string{"Date", "Meal", "Student", "Roll Number", "Room", "Amount", "Scanned At"})
	for _, row := range rows {
		writer.Write([]string{
			row.MealDate,
			row.MealType,
			row.StudentName,
			row.RollNumber,
			row.RoomNumber,
			FormatAmount(row.AmountPaid),
			row.ScannedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Printf("[REPORT] CSV write failed: %v", err)
	}
}

// ReportRow is one attendance record in a date-range report
type ReportRow struct {
	MealDate    string    `json:"meal_date"`
	MealType    string    `json:"meal_type"`
	StudentName string    `json:"student_name"`
	RollNumber  string    `json:"roll_number"`
	RoomNumber  string    `json:"room_number"`
	AmountPaid  int64     `json:"amount_paid"`
	ScannedAt   time.Time `json:"scanned_at"`
}

func (s *ReportService) collectDashboard(now time.Time) (*DashboardStats, error) {
	today := now.Format("2006-01-02")
	stats := &DashboardStats{MealBreakdown: map[string]int{}}

	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE role = 'student' AND is_active = true`).
		Scan(&stats.TotalStudents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM meals WHERE date = $1 AND is_active = true`, today).
		Scan(&stats.TodayMeals)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(a.amount_paid), 0)
		FROM attendance a
		JOIN meals m ON m.id = a.meal_id
		WHERE m.date = $1`, today).Scan(&stats.TodayAttendance, &stats.TodayRevenue)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM refund_requests WHERE status = 'pending'`).
		Scan(&stats.PendingRefunds)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT m.meal_type, COUNT(a.id)
		FROM meals m
		LEFT JOIN attendance a ON a.meal_id = m.id
		WHERE m.date = $1
		GROUP BY m.meal_type`, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var mealType string
		var count int
		if err := rows.Scan(&mealType, &count); err != nil {
			return nil, err
		}
		stats.MealBreakdown[mealType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scanRows, err := s.db.Query(`
		SELECT u.name, u.username, m.meal_type, a.amount_paid, a.scanned_at
		FROM attendance a
		JOIN users u ON u.id = a.user_id
		JOIN meals m ON m.id = a.meal_id
		ORDER BY a.scanned_at DESC
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer scanRows.Close()

	stats.RecentScans = []RecentScan{}
	for scanRows.Next() {
		var scan RecentScan
		if err := scanRows.Scan(&scan.StudentName, &scan.RollNumber, &scan.MealType, &scan.AmountPaid, &scan.ScannedAt); err != nil {
			return nil, err
		}
		stats.RecentScans = append(stats.RecentScans, scan)
	}
	return stats, scanRows.Err()
}

func (s *ReportService) collectTrends(since time.Time, days int) ([]TrendPoint, error) {
	rows, err := s.db.Query(`
		SELECT m.date, COUNT(a.id), COALESCE(SUM(a.amount_paid), 0)
		FROM meals m
		LEFT JOIN attendance a ON a.meal_id = m.id
		WHERE m.date >= $1
		GROUP BY m.date
		ORDER BY m.date`, since.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := map[string]TrendPoint{}
	for rows.Next() {
		var date time.Time
		var point TrendPoint
		if err := rows.Scan(&date, &point.Attendance, &point.Revenue); err != nil {
			return nil, err
		}
		point.Date = date.Format("2006-01-02")
		byDate[point.Date] = point
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Days with no meals still appear as zero points so charts stay
	// contiguous.
	points := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i).Format("2006-01-02")
		if point, ok := byDate[day]; ok {
			points = append(points, point)
		} else {
			points = append(points, TrendPoint{Date: day})
		}
	}
	return points, nil
}

func (s *ReportService) collectRange(from, to time.Time) ([]ReportRow, int64, error) {
	rows, err := s.db.Query(`
		SELECT m.date, m.meal_type, u.name, u.username, COALESCE(u.room_number, ''), a.amount_paid, a.scanned_at
		FROM attendance a
		JOIN meals m ON m.id = a.meal_id
		JOIN users u ON u.id = a.user_id
		WHERE m.date BETWEEN $1 AND $2
		ORDER BY m.date, m.meal_type, u.username`,
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []ReportRow{}
	var totalRevenue int64
	for rows.Next() {
		var row ReportRow
		var mealDate time.Time
		if err := rows.Scan(&mealDate, &row.MealType, &row.StudentName, &row.RollNumber,
			&row.RoomNumber, &row.AmountPaid, &row.ScannedAt); err != nil {
			return nil, 0, err
		}
		row.MealDate = mealDate.Format("2006-01-02")
		totalRevenue += row.AmountPaid
		records = append(records, row)
	}
	return records, totalRevenue, rows.Err()
}

func (s *ReportService) cachedDashboard(ctx context.Context) []byte {
	if s.redis == nil {
		return nil
	}
	payload, err := s.redis.Get(ctx, "dashboard:stats").Bytes()
	if err != nil {
		return nil
	}
	return payload
}

func (s *ReportService) storeDashboard(ctx context.Context, payload []byte) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, "dashboard:stats", payload, dashboardCacheTTL).Err(); err != nil {
		log.Printf("[REPORT] Dashboard cache write failed: %v", err)
	}
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid or missing from date, expected YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid or missing to date, expected YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date must not be before from date")
	}
	return from, to, nil
}
