package models

import "time"

// Ledger entry categories. Amount sign always matches the category:
// positive for CREDIT, negative for DEBIT.
const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

// LedgerEntry is one immutable append to a student's wallet history.
// BalanceAfter snapshots the wallet balance immediately after this entry
// was applied; entries are never updated or deleted.
type LedgerEntry struct {
	ID           int       `json:"id"`
	AccountID    int       `json:"account_id"`
	Amount       int64     `json:"amount"` // in paise, signed
	EntryType    string    `json:"entry_type"`
	Description  string    `json:"description"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
