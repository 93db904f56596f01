package services

import "errors"

// Domain errors returned by the core scan/refund/catalog operations.
// Handlers map each to a distinct HTTP status and user-facing message;
// none of these may be swallowed or collapsed into a generic failure.
var (
	ErrAccountNotFound    = errors.New("student not found")
	ErrAccountDeactivated = errors.New("student account is deactivated")
	ErrMealNotFound       = errors.New("meal not found")
	ErrAlreadyScanned     = errors.New("already scanned for this meal")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")

	ErrDuplicateMeal     = errors.New("meal already exists for this date and type")
	ErrMealHasAttendance = errors.New("cannot delete meal with attendance records")

	ErrAttendanceNotFound     = errors.New("attendance record not found")
	ErrRefundRequestNotFound  = errors.New("refund request not found")
	ErrDuplicateRefundRequest = errors.New("refund already requested for this meal")
	ErrRefundWindowExpired    = errors.New("refund can only be requested within the allowed window after scanning")
	ErrAlreadyProcessed       = errors.New("request already processed")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidAction          = errors.New("invalid action")
)
