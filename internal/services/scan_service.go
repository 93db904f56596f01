package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/messmate/backend/internal/audit"
	"github.com/messmate/backend/internal/models"
)

// ScanService converts a presented (roll number, meal) pair into a paid
// attendance record. The debit and the attendance row commit in one
// database transaction; a debit without attendance, or the reverse, can
// never be observed.
type ScanService struct {
	db     *sql.DB
	ledger *WalletLedgerService
	audit  *audit.Logger
}

// ScanResult is the kiosk feedback for a successful scan.
type ScanResult struct {
	StudentName string `json:"student_name"`
	RollNumber  string `json:"roll_number"`
	MealType    string `json:"meal_type"`
	AmountPaid  int64  `json:"amount"`
	NewBalance  int64  `json:"new_balance"`
}

func NewScanService(db *sql.DB, ledger *WalletLedgerService) *ScanService {
	return &ScanService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
	}
}

// Scan validates the student/meal pairing and executes the debit plus
// attendance write. Preconditions are checked in order and short-circuit
// on the first failure, each returning its own sentinel error:
//
//	student exists -> account active -> meal exists -> not already
//	scanned -> balance covers the price.
//
// A repeated scan is a rejection, never a silent no-op, so a student can
// never be double-charged for one meal.
func (s *ScanService) Scan(rollNumber string, mealID int) (*ScanResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		studentID   int
		studentName string
		isActive    bool
		balance     int64
	)
	err = tx.QueryRow(`
		SELECT id, name, is_active, wallet_balance
		FROM users
		WHERE username = $1 AND role = 'student'
		FOR UPDATE`, rollNumber).Scan(&studentID, &studentName, &isActive, &balance)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if !isActive {
		return nil, ErrAccountDeactivated
	}

	var (
		mealDate time.Time
		mealType string
		price    int64
	)
	err = tx.QueryRow(`
		SELECT date, meal_type, price
		FROM meals
		WHERE id = $1`, mealID).Scan(&mealDate, &mealType, &price)
	if err == sql.ErrNoRows {
		return nil, ErrMealNotFound
	}
	if err != nil {
		return nil, err
	}

	var alreadyScanned bool
	err = tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM attendance
			WHERE user_id = $1 AND meal_id = $2
		)`, studentID, mealID).Scan(&alreadyScanned)
	if err != nil {
		return nil, err
	}
	if alreadyScanned {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyScanned, studentName)
	}

	if balance < price {
		return nil, fmt.Errorf("%w: current balance %s", ErrInsufficientFunds, FormatAmount(balance))
	}

	description := fmt.Sprintf("%s on %s", capitalize(mealType), mealDate.Format("2006-01-02"))
	entry, err := s.ledger.ApplyTx(tx, studentID, -price, models.EntryDebit, description)
	if err != nil {
		return nil, err
	}

	// amount_paid is captured here so later edits to the meal's price
	// never rewrite this attendance's financial history.
	_, err = tx.Exec(`
		INSERT INTO attendance (user_id, meal_id, amount_paid, scanned_at)
		VALUES ($1, $2, $3, $4)`,
		studentID, mealID, price, time.Now())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogScan(studentID, mealID, -price)
	log.Printf("[SCAN] %s scanned for %s, paid %s", rollNumber, mealType, FormatAmount(price))

	return &ScanResult{
		StudentName: studentName,
		RollNumber:  rollNumber,
		MealType:    mealType,
		AmountPaid:  price,
		NewBalance:  entry.BalanceAfter,
	}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
