package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/messmate/backend/internal/services"
)

// RefundHandler exposes the refund workflow: students file and track
// requests, admins review and resolve them.
type RefundHandler struct {
	refundService *services.RefundService
	validator     *services.ValidationHelper
}

// RefundRequestPayload represents a student's refund claim
// @Description Refund claim for one of the caller's attendance records
type RefundRequestPayload struct {
	AttendanceID int    `json:"attendance_id" validate:"required"`
	Reason       string `json:"reason,omitempty" validate:"max=500"`
}

// RefundResolvePayload represents an admin decision on a pending request
type RefundResolvePayload struct {
	Action  string `json:"action" validate:"required,oneof=approve reject"`
	Remarks string `json:"remarks,omitempty" validate:"max=500"`
}

func NewRefundHandler(refundService *services.RefundService) *RefundHandler {
	return &RefundHandler{
		refundService: refundService,
		validator:     services.NewValidationHelper(),
	}
}

// RequestRefund files a refund claim
// @Summary Request a refund
// @Description File a refund claim for one of the caller's own attendances, within the refund window
// @Tags refunds
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RefundRequestPayload true "Refund claim"
// @Success 201 {object} models.RefundRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /refunds [post]
func (h *RefundHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	accountID, ok := services.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RefundRequestPayload
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, err := h.refundService.Request(accountID, req.AttendanceID, req.Reason)
	if err != nil {
		log.Printf("[REFUND] Claim rejected for account %d, attendance %d: %v", accountID, req.AttendanceID, err)
		services.SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(request)
}

// MyRefunds lists the caller's refund requests
// @Summary List own refund requests
// @Tags refunds
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{refunds=[]models.RefundRequest}
// @Router /refunds [get]
func (h *RefundHandler) MyRefunds(w http.ResponseWriter, r *http.Request) {
	accountID, ok := services.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	requests, err := h.refundService.ListForAccount(accountID)
	if err != nil {
		log.Printf("[REFUND] List failed for account %d: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to fetch refund requests", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"refunds": requests})
}

// EligibleAttendances lists attendances the caller can still claim against
// @Summary List refund-eligible attendances
// @Tags refunds
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{attendances=[]models.Attendance}
// @Router /refunds/eligible [get]
func (h *RefundHandler) EligibleAttendances(w http.ResponseWriter, r *http.Request) {
	accountID, ok := services.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	attendances, err := h.refundService.EligibleAttendances(accountID)
	if err != nil {
		log.Printf("[REFUND] Eligible list failed for account %d: %v", accountID, err)
		services.SendErrorResponse(w, "Failed to fetch eligible attendances", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"attendances": attendances})
}

// PendingRefunds lists unresolved requests for admin review
// @Summary List pending refund requests
// @Tags refunds
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{refunds=[]models.RefundRequest,count=int}
// @Router /admin/refunds/pending [get]
func (h *RefundHandler) PendingRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := h.refundService.ListPending()
	if err != nil {
		log.Printf("[REFUND] Pending list failed: %v", err)
		services.SendErrorResponse(w, "Failed to fetch pending refunds", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"refunds": requests,
		"count":   len(requests),
	})
}

// ProcessedRefunds lists recently resolved requests
// @Summary List processed refund requests
// @Tags refunds
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{refunds=[]models.RefundRequest}
// @Router /admin/refunds/processed [get]
func (h *RefundHandler) ProcessedRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := h.refundService.ListProcessed()
	if err != nil {
		log.Printf("[REFUND] Processed list failed: %v", err)
		services.SendErrorResponse(w, "Failed to fetch processed refunds", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"refunds": requests})
}

// ResolveRefund approves or rejects a pending request
// @Summary Resolve a refund request
// @Description Approve (credits the captured amount back to the wallet) or reject a pending request; each request resolves exactly once
// @Tags refunds
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path int true "Refund request ID"
// @Param request body RefundResolvePayload true "Decision"
// @Success 200 {object} models.RefundRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/refunds/{requestId} [post]
func (h *RefundHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	requestID, err := strconv.Atoi(chi.URLParam(r, "requestId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request id", http.StatusBadRequest, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RefundResolvePayload
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	resolved, err := h.refundService.Resolve(requestID, req.Action, req.Remarks)
	if err != nil {
		log.Printf("[REFUND] Resolve failed for request %d: %v", requestID, err)
		services.SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resolved)
}
