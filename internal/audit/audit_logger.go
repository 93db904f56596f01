package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is one structured audit record. Every wallet mutation (scan debit,
// admin top-up, refund credit) emits exactly one event after commit.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	AccountID int       `json:"account_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogScan(accountID, mealID int, amount int64) {
	a.log(Event{
		EventType: "SCAN_DEBIT",
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]int{"meal_id": mealID},
	})
}

func (a *Logger) LogTopUp(accountID int, amount int64) {
	a.log(Event{
		EventType: "WALLET_TOPUP",
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
	})
}

func (a *Logger) LogRefund(accountID, requestID int, amount int64, status string) {
	a.log(Event{
		EventType: "REFUND",
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
		Details:   map[string]int{"request_id": requestID},
	})
}

func (a *Logger) LogError(accountID int, operation string, err error) {
	a.log(Event{
		EventType: operation,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
