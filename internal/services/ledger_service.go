package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/messmate/backend/internal/models"
)

// WalletLedgerService serializes every wallet balance mutation into an
// append-only wallet_transactions history. The wallet_balance column on
// users is a derived read; it is only ever written here, inside the same
// transaction that appends the ledger entry carrying balance_after.
//
// The ledger itself allows a balance to go negative. Callers that need a
// floor (the scan engine) enforce it before applying.
type WalletLedgerService struct {
	db *sql.DB
}

func NewWalletLedgerService(db *sql.DB) *WalletLedgerService {
	return &WalletLedgerService{db: db}
}

// Apply appends a signed amount to the account's ledger in its own
// transaction and returns the created entry.
func (s *WalletLedgerService) Apply(accountID int, amount int64, entryType, description string) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ApplyTx(tx, accountID, amount, entryType, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyTx appends a ledger entry inside the caller's transaction. The
// account row is locked for the duration of the transaction so concurrent
// applies against the same wallet serialize and balance_after values never
// collide or skip.
func (s *WalletLedgerService) ApplyTx(tx *sql.Tx, accountID int, amount int64, entryType, description string) (*models.LedgerEntry, error) {
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.WalletBalance + amount

	entry := &models.LedgerEntry{
		AccountID:    accountID,
		Amount:       amount,
		EntryType:    entryType,
		Description:  description,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now(),
	}

	err = tx.QueryRow(`
		INSERT INTO wallet_transactions (user_id, amount, transaction_type, description, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.AccountID, entry.Amount, entry.EntryType, entry.Description, entry.BalanceAfter, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	if err := s.updateBalance(tx, accountID, newBalance, account.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

// History returns the account's ledger entries, most recent first.
func (s *WalletLedgerService) History(accountID int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, amount, transaction_type, description, balance_after, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.EntryType, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *WalletLedgerService) lockAccount(tx *sql.Tx, accountID int) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, wallet_balance, version
		FROM users
		WHERE id = $1 AND role = 'student'
		FOR UPDATE`, accountID).Scan(&account.ID, &account.WalletBalance, &account.Version)

	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *WalletLedgerService) updateBalance(tx *sql.Tx, accountID int, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE users
		SET wallet_balance = $1, version = version + 1
		WHERE id = $2 AND version = $3`,
		newBalance, accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}

	return nil
}
