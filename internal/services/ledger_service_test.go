package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestWalletLedgerService_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletLedgerService(db)

	t.Run("credit appends entry and bumps balance", func(t *testing.T) {
		accountID := 7
		amount := int64(50000)

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}).
				AddRow(accountID, 12000, 3))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs(accountID, amount, "credit", "Balance added by admin", int64(62000), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, version = version \\+ 1 WHERE id = \\$2 AND version = \\$3").
			WithArgs(int64(62000), accountID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.Apply(accountID, amount, "credit", "Balance added by admin")
		assert.NoError(t, err)
		assert.Equal(t, 101, entry.ID)
		assert.Equal(t, int64(62000), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit records negative amount and lowered balance", func(t *testing.T) {
		accountID := 7
		amount := int64(-6000)

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}).
				AddRow(accountID, 12000, 3))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs(accountID, amount, "debit", "Lunch on 2025-03-10", int64(6000), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(102))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, version = version \\+ 1 WHERE id = \\$2 AND version = \\$3").
			WithArgs(int64(6000), accountID, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		entry, err := service.Apply(accountID, amount, "debit", "Lunch on 2025-03-10")
		assert.NoError(t, err)
		assert.Equal(t, int64(6000), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs(999).
			WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}))

		mock.ExpectRollback()

		_, err := service.Apply(999, 1000, "credit", "Balance added by admin")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent version bump aborts the apply", func(t *testing.T) {
		accountID := 7

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, wallet_balance, version FROM users WHERE id = \\$1 AND role = 'student' FOR UPDATE").
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_balance", "version"}).
				AddRow(accountID, 12000, 3))

		mock.ExpectQuery("INSERT INTO wallet_transactions").
			WithArgs(accountID, int64(1000), "credit", "Balance added by admin", int64(13000), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(103))

		mock.ExpectExec("UPDATE users SET wallet_balance = \\$1, version = version \\+ 1 WHERE id = \\$2 AND version = \\$3").
			WithArgs(int64(13000), accountID, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		_, err := service.Apply(accountID, 1000, "credit", "Balance added by admin")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletLedgerService(db)

	t.Run("entries come back newest first", func(t *testing.T) {
		now := time.Now()

		mock.ExpectQuery("SELECT id, user_id, amount, transaction_type, description, balance_after, created_at FROM wallet_transactions WHERE user_id = \\$1 ORDER BY created_at DESC, id DESC").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "transaction_type", "description", "balance_after", "created_at"}).
				AddRow(2, 7, -6000, "debit", "Lunch on 2025-03-10", 6000, now).
				AddRow(1, 7, 12000, "credit", "Initial wallet balance", 12000, now.Add(-time.Hour)))

		entries, err := service.History(7)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Equal(t, int64(6000), entries[0].BalanceAfter)
		assert.Equal(t, "Initial wallet balance", entries[1].Description)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no entries", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, amount, transaction_type, description, balance_after, created_at FROM wallet_transactions").
			WithArgs(8).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "transaction_type", "description", "balance_after", "created_at"}))

		entries, err := service.History(8)
		assert.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
