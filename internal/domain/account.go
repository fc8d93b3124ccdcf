package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a member's wallet. Balance only moves when a transaction
// completes; Held reserves funds for pending withdrawals.
type Account struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"owner_id"`
	AccountNumber string    `json:"account_number"`
	Balance       int64     `json:"balance"` // in cents
	Held          int64     `json:"held"`    // in cents
	Currency      string    `json:"currency"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available is the balance that may still be debited.
func (a Account) Available() int64 {
	return a.Balance - a.Held
}

// AccountBalance is the read model returned to wallet owners.
type AccountBalance struct {
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
	Currency  string `json:"currency"`
}

// AccountAudit compares the stored balance against the journal.
type AccountAudit struct {
	AccountID       uuid.UUID `json:"account_id"`
	Balance         int64     `json:"balance"`
	ComputedBalance int64     `json:"computed_balance"`
	Held            int64     `json:"held"`
	PendingHolds    int64     `json:"pending_holds"`
	OK              bool      `json:"ok"`
}
