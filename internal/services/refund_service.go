package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/messmate/backend/internal/audit"
	"github.com/messmate/backend/internal/config"
	"github.com/messmate/backend/internal/models"
)

// Refund resolution actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// RefundService lets an eligible attendance be reversed exactly once.
// A request may be filed only by the attendance's owner inside the
// configured window, at most once per attendance ever; an admin then
// resolves it exactly once. Approval is the only path that re-credits a
// wallet from a refund, and it credits the amount captured at scan time,
// not the meal's current price.
type RefundService struct {
	db     *sql.DB
	ledger *WalletLedgerService
	audit  *audit.Logger
	cfg    *config.RefundConfig
}

func NewRefundService(db *sql.DB, ledger *WalletLedgerService, cfg *config.RefundConfig) *RefundService {
	return &RefundService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
		cfg:    cfg,
	}
}

// Request files a refund claim for an attendance owned by accountID.
func (s *RefundService) Request(accountID, attendanceID int, reason string) (*models.RefundRequest, error) {
	var (
		ownerID    int
		amountPaid int64
		scannedAt  time.Time
	)
	err := s.db.QueryRow(`
		SELECT user_id, amount_paid, scanned_at
		FROM attendance
		WHERE id = $1`, attendanceID).Scan(&ownerID, &amountPaid, &scannedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAttendanceNotFound
	}
	if err != nil {
		return nil, err
	}

	if ownerID != accountID {
		return nil, ErrUnauthorized
	}

	var exists bool
	err = s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM refund_requests
			WHERE attendance_id = $1
		)`, attendanceID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateRefundRequest
	}

	if time.Since(scannedAt) > s.cfg.Window {
		return nil, ErrRefundWindowExpired
	}

	if len(reason) > s.cfg.MaxReasonLength {
		reason = reason[:s.cfg.MaxReasonLength]
	}

	request := &models.RefundRequest{
		AccountID:    accountID,
		AttendanceID: attendanceID,
		Amount:       amountPaid,
		Reason:       reason,
		Status:       models.RefundPending,
		CreatedAt:    time.Now(),
	}

	err = s.db.QueryRow(`
		INSERT INTO refund_requests (user_id, attendance_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		request.AccountID, request.AttendanceID, request.Amount, request.Reason, request.Status, request.CreatedAt,
	).Scan(&request.ID)
	if err != nil {
		// Unique constraint on attendance_id backstops the racy
		// exists check above.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateRefundRequest
		}
		return nil, err
	}

	log.Printf("[REFUND] Request %d filed by account %d for attendance %d (%s)",
		request.ID, accountID, attendanceID, FormatAmount(amountPaid))
	return request, nil
}

// Resolve finalizes a pending request. approve credits the captured
// amount back through the ledger in the same transaction that flips the
// status; reject flips the status only. pending is the only resolvable
// state and each request resolves exactly once.
func (s *RefundService) Resolve(requestID int, action, remarks string) (*models.RefundRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		request  models.RefundRequest
		mealType string
		mealDate time.Time
	)
	err = tx.QueryRow(`
		SELECT r.id, r.user_id, r.attendance_id, r.amount, r.status, m.meal_type, m.date
		FROM refund_requests r
		JOIN attendance a ON a.id = r.attendance_id
		JOIN meals m ON m.id = a.meal_id
		WHERE r.id = $1
		FOR UPDATE OF r`, requestID).Scan(
		&request.ID, &request.AccountID, &request.AttendanceID, &request.Amount,
		&request.Status, &mealType, &mealDate)
	if err == sql.ErrNoRows {
		return nil, ErrRefundRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	if request.Status != models.RefundPending {
		return nil, ErrAlreadyProcessed
	}

	switch action {
	case ActionApprove:
		description := fmt.Sprintf("Refund for %s on %s", mealType, mealDate.Format("2006-01-02"))
		if _, err := s.ledger.ApplyTx(tx, request.AccountID, request.Amount, models.EntryCredit, description); err != nil {
			return nil, err
		}
		request.Status = models.RefundApproved
	case ActionReject:
		request.Status = models.RefundRejected
	default:
		return nil, ErrInvalidAction
	}

	now := time.Now()
	request.AdminRemarks = remarks
	request.ProcessedAt = &now

	_, err = tx.Exec(`
		UPDATE refund_requests
		SET status = $1, admin_remarks = $2, processed_at = $3
		WHERE id = $4`,
		request.Status, request.AdminRemarks, now, request.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogRefund(request.AccountID, request.ID, request.Amount, request.Status)
	log.Printf("[REFUND] Request %d %s (%s)", request.ID, request.Status, FormatAmount(request.Amount))
	return &request, nil
}

// ListForAccount returns the account's refund requests, newest first.
func (s *RefundService) ListForAccount(accountID int) ([]models.RefundRequest, error) {
	return s.queryRequests(`
		SELECT id, user_id, attendance_id, amount, reason, status, admin_remarks, created_at, processed_at
		FROM refund_requests
		WHERE user_id = $1
		ORDER BY created_at DESC`, accountID)
}

// ListPending returns every unresolved request, newest first.
func (s *RefundService) ListPending() ([]models.RefundRequest, error) {
	return s.queryRequests(`
		SELECT id, user_id, attendance_id, amount, reason, status, admin_remarks, created_at, processed_at
		FROM refund_requests
		WHERE status = 'pending'
		ORDER BY created_at DESC`)
}

// ListProcessed returns recently resolved requests.
func (s *RefundService) ListProcessed() ([]models.RefundRequest, error) {
	return s.queryRequests(`
		SELECT id, user_id, attendance_id, amount, reason, status, admin_remarks, created_at, processed_at
		FROM refund_requests
		WHERE status != 'pending'
		ORDER BY processed_at DESC
		LIMIT $1`, s.cfg.ProcessedLimit)
}

// EligibleAttendances lists the account's attendance rows still inside
// the refund window with no request filed yet.
func (s *RefundService) EligibleAttendances(accountID int) ([]models.Attendance, error) {
	cutoff := time.Now().Add(-s.cfg.Window)
	rows, err := s.db.Query(`
		SELECT a.id, a.user_id, a.meal_id, a.amount_paid, a.scanned_at
		FROM attendance a
		LEFT JOIN refund_requests r ON r.attendance_id = a.id
		WHERE a.user_id = $1 AND a.scanned_at >= $2 AND r.id IS NULL
		ORDER BY a.scanned_at DESC`, accountID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attendances := []models.Attendance{}
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.AccountID, &a.MealID, &a.AmountPaid, &a.ScannedAt); err != nil {
			return nil, err
		}
		attendances = append(attendances, a)
	}
	return attendances, rows.Err()
}

func (s *RefundService) queryRequests(query string, args ...any) ([]models.RefundRequest, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.RefundRequest{}
	for rows.Next() {
		var req models.RefundRequest
		var reason, remarks sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.AccountID, &req.AttendanceID, &req.Amount,
			&reason, &req.Status, &remarks, &req.CreatedAt, &processedAt); err != nil {
			return nil, err
		}
		req.Reason = reason.String
		req.AdminRemarks = remarks.String
		if processedAt.Valid {
			t := processedAt.Time
			req.ProcessedAt = &t
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
