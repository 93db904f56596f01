package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendDomainError maps a core operation error to its HTTP status and
// renders the error's own message. Each rejection kind keeps a distinct,
// kiosk-readable reason string.
func SendDomainError(w http.ResponseWriter, err error) {
	SendErrorResponse(w, err.Error(), domainStatus(err), nil)
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrMealNotFound),
		errors.Is(err, ErrAttendanceNotFound),
		errors.Is(err, ErrRefundRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyScanned),
		errors.Is(err, ErrDuplicateMeal),
		errors.Is(err, ErrMealHasAttendance),
		errors.Is(err, ErrDuplicateRefundRequest),
		errors.Is(err, ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrAccountDeactivated),
		errors.Is(err, ErrRefundWindowExpired):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FormatAmount renders paise as a rupee string for user-facing messages.
func FormatAmount(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%sRs. %d.%02d", sign, paise/100, paise%100)
}
