package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/messmate/backend/internal/models"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Username string `json:"username" validate:"required" example:"2024-CS-562"`      // Roll number or admin username
	Password string `json:"password" validate:"required,min=4" example:"password123"` // Password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string         `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.Account `json:"user"`                                                    // Account information
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=4"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Login handles authentication for admins and students
// @Summary Login
// @Description Authenticate with roll number (students) or username (admins) and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {string} string "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Failure 403 {string} string "Account deactivated"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Roll numbers are stored uppercase; admin usernames are stored as
	// registered and match exactly.
	username := req.Username
	if rollNumberRegex.MatchString(username) {
		username = strings.ToUpper(username)
	}

	var account models.Account
	var passwordHash string
	var roomNumber sql.NullString
	err := s.db.QueryRow(`
		SELECT id, username, password_hash, name, role, room_number, wallet_balance, is_active, created_at
		FROM users
		WHERE username = $1`, username).Scan(
		&account.ID, &account.Username, &passwordHash, &account.Name, &account.Role,
		&roomNumber, &account.WalletBalance, &account.IsActive, &account.CreatedAt)
	if err != nil {
		log.Printf("[AUTH] User not found: %s", req.Username)
		SendErrorResponse(w, "Invalid username or password", http.StatusUnauthorized, nil)
		return
	}
	account.RoomNumber = roomNumber.String

	if !verifyPassword(req.Password, passwordHash) {
		log.Printf("[AUTH] Invalid password for user: %s", req.Username)
		SendErrorResponse(w, "Invalid username or password", http.StatusUnauthorized, nil)
		return
	}

	if account.Role == models.RoleStudent && !account.IsActive {
		log.Printf("[AUTH] Deactivated account login refused: %s", req.Username)
		SendErrorResponse(w, "Your account has been deactivated. Please contact the administrator.", http.StatusForbidden, nil)
		return
	}

	token, err := generateJWT(account.ID, account.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", account.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for %s (%s)", account.Username, account.Role)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: account})
}

// Logout handles logout
// @Summary Logout
// @Description Logout and blacklist the presented token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// ChangePassword updates the caller's password
// @Summary Change password
// @Description Change the authenticated account's password
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password change request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/change-password [post]
func (s *AuthService) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ChangePasswordRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var passwordHash string
	if err := s.db.QueryRow(`SELECT password_hash FROM users WHERE id = $1`, accountID).Scan(&passwordHash); err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	if !verifyPassword(req.CurrentPassword, passwordHash) {
		SendErrorResponse(w, "Current password is incorrect", http.StatusUnauthorized, nil)
		return
	}

	newHash, err := HashPassword(req.NewPassword)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for user %d: %v", accountID, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.db.Exec(`UPDATE users SET password_hash = $1 WHERE id = $2`, newHash, accountID); err != nil {
		log.Printf("[AUTH] Password update failed for user %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to change password", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Password changed for user %d", accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password changed successfully"})
}

// GetProfile returns the authenticated account
// @Summary Get own account
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Failure 401 {string} string "Unauthorized"
// @Router /auth/account [get]
func (s *AuthService) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var account models.Account
	var roomNumber, qrPath sql.NullString
	err := s.db.QueryRow(`
		SELECT id, username, name, role, room_number, wallet_balance, qr_code_path, is_active, created_at
		FROM users
		WHERE id = $1`, accountID).Scan(
		&account.ID, &account.Username, &account.Name, &account.Role,
		&roomNumber, &account.WalletBalance, &qrPath, &account.IsActive, &account.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[AUTH] Failed to fetch account %d: %v", accountID, err)
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}
	account.RoomNumber = roomNumber.String
	account.QRCodePath = qrPath.String

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// EnsureDefaultAdmin seeds the initial admin account when no admin row
// exists yet. Without it a fresh install has no way to reach the admin
// surface at all.
func EnsureDefaultAdmin(db *sql.DB) error {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE role = 'admin')`).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	password := viper.GetString("admin.default_password")
	if password == "" {
		password = "admin123"
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO users (username, password_hash, name, role, wallet_balance, version, is_active, created_at)
		VALUES ('admin', $1, 'Administrator', 'admin', 0, 1, true, $2)`,
		passwordHash, time.Now())
	if err != nil {
		return err
	}

	log.Printf("[AUTH] Default admin user created. Change the password after first login.")
	return nil
}

func generateJWT(accountID int, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": accountID,
		"role":    role,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// HashPassword derives an argon2id hash with parameters from config.
func HashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
