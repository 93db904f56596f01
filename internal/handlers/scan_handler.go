package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/messmate/backend/internal/services"
)

// ScanHandler is the kiosk-facing surface. A kiosk posts either the
// roll number read straight off a student's QR card, or a one-time scan
// session token previously issued for that card.
type ScanHandler struct {
	scanService *services.ScanService
	qrService   *services.QRService
	validator   *services.ValidationHelper
}

// ScanRequest represents a kiosk scan submission
// @Description Kiosk scan payload; exactly one of roll_number or session_token is required
type ScanRequest struct {
	RollNumber   string `json:"roll_number,omitempty" example:"2024-CS-562"`
	SessionToken string `json:"session_token,omitempty"`
	MealID       int    `json:"meal_id" validate:"required"`
}

func NewScanHandler(scanService *services.ScanService, qrService *services.QRService) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		qrService:   qrService,
		validator:   services.NewValidationHelper(),
	}
}

// Scan processes a kiosk scan
// @Summary Scan a student for a meal
// @Description Validate the student and meal, debit the wallet and record attendance in one transaction
// @Tags scan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ScanRequest true "Scan request"
// @Success 200 {object} services.ScanResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /scan [post]
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ScanRequest
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

	rollNumber := req.RollNumber
	if rollNumber == "" {
		if req.SessionToken == "" {
			services.SendErrorResponse(w, "Either roll_number or session_token is required", http.StatusBadRequest, nil)
			return
		}
		resolved, err := h.qrService.ResolveScanSession(r.Context(), req.SessionToken)
		if err != nil {
			services.SendErrorResponse(w, "Invalid or expired scan session", http.StatusBadRequest, nil)
			return
		}
		rollNumber = resolved
	}

	result, err := h.scanService.Scan(rollNumber, req.MealID)
	if err != nil {
		log.Printf("[SCAN] Rejected %s for meal %d: %v", rollNumber, req.MealID, err)
		services.SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CreateSession issues a one-time kiosk scan token
// @Summary Create a scan session
// @Description Exchange a roll number for a short-lived one-time token a kiosk scanner page can submit
// @Tags scan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{roll_number=string} true "Session request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /scan/session [post]
func (h *ScanHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RollNumber string `json:"roll_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RollNumber == "" {
		services.SendErrorResponse(w, "roll_number is required", http.StatusBadRequest, nil)
		return
	}

	token, err := h.qrService.CreateScanSession(r.Context(), req.RollNumber)
	if err != nil {
		log.Printf("[SCAN] Session creation failed for %s: %v", req.RollNumber, err)
		services.SendErrorResponse(w, "Failed to create scan session", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"session_token": token})
}
