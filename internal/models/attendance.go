package models

import "time"

// Attendance is proof-of-scan: the account consumed the meal and paid for
// it. AmountPaid is captured at scan time so later price edits never
// rewrite history. At most one row exists per (account, meal).
type Attendance struct {
	ID         int       `json:"id"`
	AccountID  int       `json:"account_id"`
	MealID     int       `json:"meal_id"`
	AmountPaid int64     `json:"amount_paid"` // in paise
	ScannedAt  time.Time `json:"scanned_at"`
}

// RefundRequest statuses. pending is the only non-terminal state.
const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundRejected = "rejected"
)

// RefundRequest is a claim that a specific attendance should be reversed.
// Amount is fixed from the attendance at creation time. At most one
// request ever exists per attendance, whatever its outcome.
type RefundRequest struct {
	ID           int        `json:"id"`
	AccountID    int        `json:"account_id"`
	AttendanceID int        `json:"attendance_id"`
	Amount       int64      `json:"amount"` // in paise
	Reason       string     `json:"reason,omitempty"`
	Status       string     `json:"status"`
	AdminRemarks string     `json:"admin_remarks,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}
