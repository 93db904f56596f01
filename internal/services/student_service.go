package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/messmate/backend/internal/audit"
	"github.com/messmate/backend/internal/models"
)

// Roll numbers follow YYYY-DEPT-XXX, e.g. 2024-CS-562.
var rollNumberRegex = regexp.MustCompile(`^\d{4}-[A-Za-z]{2,5}-\d{1,4}$`)

// StudentService covers admin-side student management: registration with
// QR issuance, listing/search, edits, soft deletion and wallet top-ups.
// Balances are only ever touched through the ledger; registration and
// top-up both go through WalletLedgerService.Apply.
type StudentService struct {
	db        *sql.DB
	ledger    *WalletLedgerService
	qr        *QRService
	audit     *audit.Logger
	validator *ValidationHelper
}

// RegisterStudentRequest represents the student registration payload
// @Description Student registration structure
type RegisterStudentRequest struct {
	Name           string `json:"name" validate:"required,min=2" example:"Ayesha Khan"`
	RollNumber     string `json:"roll_number" validate:"required" example:"2024-CS-562"`
	RoomNumber     string `json:"room_number,omitempty" example:"B-214"`
	Password       string `json:"password" validate:"required,min=4"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"` // in paise
}

type updateStudentRequest struct {
	Name       string `json:"name" validate:"required,min=2"`
	RoomNumber string `json:"room_number,omitempty"`
	Password   string `json:"password,omitempty"`
}

type addBalanceRequest struct {
	StudentID int   `json:"student_id" validate:"required"`
	Amount    int64 `json:"amount" validate:"required,gt=0"` // in paise
}

func NewStudentService(db *sql.DB, ledger *WalletLedgerService, qr *QRService) *StudentService {
	return &StudentService{
		db:        db,
		ledger:    ledger,
		qr:        qr,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// RegisterStudent creates a student account
// @Summary Register a student
// @Description Register a student with roll number, issue their QR identity and credit any initial balance through the ledger
// @Tags students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterStudentRequest true "Registration request"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/students [post]
func (s *StudentService) RegisterStudent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterStudentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !rollNumberRegex.MatchString(req.RollNumber) {
		SendErrorResponse(w, "Invalid roll number format. Use format: YYYY-DEPT-XXX (e.g., 2024-CS-562)", http.StatusBadRequest, nil)
		return
	}
	rollNumber := strings.ToUpper(req.RollNumber)

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("[STUDENT] Password hashing failed for %s: %v", rollNumber, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	account := models.Account{
		Username:   rollNumber,
		Name:       req.Name,
		Role:       models.RoleStudent,
		RoomNumber: req.RoomNumber,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}

	err = s.db.QueryRow(`
		INSERT INTO users (username, password_hash, name, role, room_number, wallet_balance, version, is_active, created_at)
		VALUES ($1, $2, $3, 'student', $4, 0, 1, true, $5)
		RETURNING id`,
		account.Username, passwordHash, account.Name, account.RoomNumber, account.CreatedAt,
	).Scan(&account.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			SendErrorResponse(w, "Roll number already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[STUDENT] Registration failed for %s: %v", rollNumber, err)
		SendErrorResponse(w, "Failed to register student", http.StatusInternalServerError, nil)
		return
	}

	qrPath, _, err := s.qr.GenerateStudentQR(rollNumber)
	if err != nil {
		log.Printf("[STUDENT] QR generation failed for %s: %v", rollNumber, err)
	} else {
		if _, err := s.db.Exec(`UPDATE users SET qr_code_path = $1 WHERE id = $2`, qrPath, account.ID); err != nil {
			log.Printf("[STUDENT] Failed to store QR path for %s: %v", rollNumber, err)
		}
		account.QRCodePath = qrPath
	}

	if req.InitialBalance > 0 {
		entry, err := s.ledger.Apply(account.ID, req.InitialBalance, models.EntryCredit, "Initial wallet balance")
		if err != nil {
			log.Printf("[STUDENT] Initial balance credit failed for %s: %v", rollNumber, err)
			SendErrorResponse(w, "Student created but initial balance credit failed", http.StatusInternalServerError, nil)
			return
		}
		account.WalletBalance = entry.BalanceAfter
		s.audit.LogTopUp(account.ID, req.InitialBalance)
	}

	log.Printf("[STUDENT] Registered %s (%s)", account.Name, rollNumber)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListStudents returns students filtered by status
// @Summary List students
// @Tags students
// @Produce json
// @Security BearerAuth
// @Param status query string false "active (default), inactive or all"
// @Success 200 {object} object{students=[]models.Account,count=int}
// @Router /admin/students [get]
func (s *StudentService) ListStudents(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, username, name, role, room_number, wallet_balance, qr_code_path, is_active, created_at
		FROM users
		WHERE role = 'student'`

	switch r.URL.Query().Get("status") {
	case "all":
	case "inactive":
		query += ` AND is_active = false`
	default:
		query += ` AND is_active = true`
	}
	query += ` ORDER BY name`

	students, err := s.queryStudents(query)
	if err != nil {
		log.Printf("[STUDENT] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch students", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"students": students,
		"count":    len(students),
	})
}

// SearchStudents searches by name, roll number or room
// @Summary Search students
// @Tags students
// @Produce json
// @Security BearerAuth
// @Param q query string true "Search term"
// @Success 200 {array} models.Account
// @Router /admin/students/search [get]
func (s *StudentService) SearchStudents(w http.ResponseWriter, r *http.Request) {
	term := "%" + r.URL.Query().Get("q") + "%"

	students, err := s.queryStudents(`
		SELECT id, username, name, role, room_number, wallet_balance, qr_code_path, is_active, created_at
		FROM users
		WHERE role = 'student'
		  AND (name ILIKE $1 OR username ILIKE $1 OR room_number ILIKE $1)
		ORDER BY name
		LIMIT 20`, term)
	if err != nil {
		log.Printf("[STUDENT] Search failed: %v", err)
		SendErrorResponse(w, "Failed to search students", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(students)
}

// GetStudent returns a student's detail with total meal count
// @Summary Get student detail
// @Tags students
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "Student ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /admin/students/{studentId} [get]
func (s *StudentService) GetStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.Atoi(chi.URLParam(r, "studentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid student id", http.StatusBadRequest, nil)
		return
	}

	student, err := s.fetchStudent(studentID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	var totalMeals int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attendance WHERE user_id = $1`, studentID).Scan(&totalMeals); err != nil {
		log.Printf("[STUDENT] Meal count failed for %d: %v", studentID, err)
		SendErrorResponse(w, "Failed to fetch student", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"student":     student,
		"total_meals": totalMeals,
	})
}

// UpdateStudent edits name, room and optionally the password
// @Summary Update student
// @Tags students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "Student ID"
// @Param request body updateStudentRequest true "Update request"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Router /admin/students/{studentId} [put]
func (s *StudentService) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.Atoi(chi.URLParam(r, "studentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid student id", http.StatusBadRequest, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req updateStudentRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Password != "" {
		passwordHash, err := HashPassword(req.Password)
		if err != nil {
			SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
			return
		}
		_, err = s.db.Exec(`
			UPDATE users SET name = $1, room_number = $2, password_hash = $3
			WHERE id = $4 AND role = 'student'`,
			req.Name, req.RoomNumber, passwordHash, studentID)
		if err != nil {
			log.Printf("[STUDENT] Update failed for %d: %v", studentID, err)
			SendErrorResponse(w, "Failed to update student", http.StatusInternalServerError, nil)
			return
		}
	} else {
		result, err := s.db.Exec(`
			UPDATE users SET name = $1, room_number = $2
			WHERE id = $3 AND role = 'student'`,
			req.Name, req.RoomNumber, studentID)
		if err != nil {
			log.Printf("[STUDENT] Update failed for %d: %v", studentID, err)
			SendErrorResponse(w, "Failed to update student", http.StatusInternalServerError, nil)
			return
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			SendDomainError(w, ErrAccountNotFound)
			return
		}
	}

	log.Printf("[STUDENT] Updated student %d", studentID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// SetStudentStatus activates or deactivates a student
// @Summary Toggle student status
// @Description Soft-delete or reactivate; student rows are never hard-deleted since ledger and attendance reference them
// @Tags students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "Student ID"
// @Param request body object{is_active=bool} true "Desired state"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /admin/students/{studentId}/status [post]
func (s *StudentService) SetStudentStatus(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.Atoi(chi.URLParam(r, "studentId"))
	if err != nil {
		SendErrorResponse(w, "Invalid student id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`
		UPDATE users SET is_active = $1
		WHERE id = $2 AND role = 'student'`, req.IsActive, studentID)
	if err != nil {
		log.Printf("[STUDENT] Status change failed for %d: %v", studentID, err)
		SendErrorResponse(w, "Failed to update status", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendDomainError(w, ErrAccountNotFound)
		return
	}

	log.Printf("[STUDENT] Student %d active=%v", studentID, req.IsActive)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "is_active": req.IsActive})
}

// AddBalance credits a student's wallet through the ledger
// @Summary Add wallet balance
// @Description Credit a top-up to a student's wallet; the balance change is a ledger append, never a direct write
// @Tags students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body addBalanceRequest true "Top-up request"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/students/add-balance [post]
func (s *StudentService) AddBalance(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req addBalanceRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := s.ledger.Apply(req.StudentID, req.Amount, models.EntryCredit, "Balance added by admin")
	if err != nil {
		log.Printf("[STUDENT] Top-up failed for %d: %v", req.StudentID, err)
		SendDomainError(w, err)
		return
	}

	s.audit.LogTopUp(req.StudentID, req.Amount)
	log.Printf("[STUDENT] Added %s to student %d", FormatAmount(req.Amount), req.StudentID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"message":     "Added " + FormatAmount(req.Amount) + " to wallet",
		"new_balance": entry.BalanceAfter,
	})
}

// WalletHistory returns the caller's ledger entries, newest first
// @Summary Wallet history
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64,transactions=[]models.LedgerEntry}
// @Router /wallet/transactions [get]
func (s *StudentService) WalletHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entries, err := s.ledger.History(accountID)
	if err != nil {
		log.Printf("[WALLET] History fetch failed for %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	var balance int64
	if len(entries) > 0 {
		balance = entries[0].BalanceAfter
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"balance":      balance,
		"transactions": entries,
	})
}

// AttendanceHistory returns the caller's attendance records
// @Summary Attendance history
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{attendances=[]models.Attendance}
// @Router /attendance [get]
func (s *StudentService) AttendanceHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, meal_id, amount_paid, scanned_at
		FROM attendance
		WHERE user_id = $1
		ORDER BY scanned_at DESC`, accountID)
	if err != nil {
		log.Printf("[WALLET] Attendance fetch failed for %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch attendance", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	attendances := []models.Attendance{}
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.AccountID, &a.MealID, &a.AmountPaid, &a.ScannedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch attendance", http.StatusInternalServerError, nil)
			return
		}
		attendances = append(attendances, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"attendances": attendances})
}

func (s *StudentService) fetchStudent(studentID int) (*models.Account, error) {
	var account models.Account
	var roomNumber, qrPath sql.NullString
	err := s.db.QueryRow(`
		SELECT id, username, name, role, room_number, wallet_balance, qr_code_path, is_active, created_at
		FROM users
		WHERE id = $1 AND role = 'student'`, studentID).Scan(
		&account.ID, &account.Username, &account.Name, &account.Role,
		&roomNumber, &account.WalletBalance, &qrPath, &account.IsActive, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	account.RoomNumber = roomNumber.String
	account.QRCodePath = qrPath.String
	return &account, nil
}

func (s *StudentService) queryStudents(query string, args ...any) ([]models.Account, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []models.Account{}
	for rows.Next() {
		var a models.Account
		var roomNumber, qrPath sql.NullString
		if err := rows.Scan(&a.ID, &a.Username, &a.Name, &a.Role, &roomNumber,
			&a.WalletBalance, &qrPath, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RoomNumber = roomNumber.String
		a.QRCodePath = qrPath.String
		students = append(students, a)
	}
	return students, rows.Err()
}
