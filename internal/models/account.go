package models

import "time"

// Roles an account can hold. Students carry a wallet; admins do not.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

type Account struct {
	ID            int       `json:"id" example:"1"`                        // Account ID
	Username      string    `json:"username" example:"2024-CS-562"`        // Roll number for students, username for admins
	Name          string    `json:"name" example:"Ayesha Khan"`            // Display name
	Role          string    `json:"role" example:"student"`                // 'admin' or 'student'
	RoomNumber    string    `json:"room_number,omitempty" example:"B-214"` // Students only
	WalletBalance int64     `json:"wallet_balance"`                        // in paise, students only
	QRCodePath    string    `json:"qr_code_path,omitempty"`
	Version       int       `json:"-"` // for optimistic locking
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
