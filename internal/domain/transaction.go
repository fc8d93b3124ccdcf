/**
 * @description
 * This file defines the core ledger models for the wallet-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point drift. Conversion to and from decimal happens only at
 *   the HTTP boundary (see money.go).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the kinds of journal entries.
type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "deposit"
	TransactionTypeWithdrawal   TransactionType = "withdrawal"
	TransactionTypeTransferOut  TransactionType = "transfer_out"
	TransactionTypeTransferIn   TransactionType = "transfer_in"
	TransactionTypeContribution TransactionType = "contribution"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransferOut,
		TransactionTypeTransferIn, TransactionTypeContribution:
		return true
	}
	return false
}

// IsCredit reports whether completed entries of this type increase the balance.
func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeTransferIn
}

// TransactionStatus is the lifecycle state of a journal entry.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether s can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is an entry in the journal. It maps to the `transactions` table.
// Only Status, CompletedAt and FailureReason ever change, and only while the
// entry is pending.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	AccountID             uuid.UUID         `json:"account_id"`
	Type                  TransactionType   `json:"type"`
	Amount                int64             `json:"amount"` // in cents
	Fee                   int64             `json:"fee"`    // in cents
	Status                TransactionStatus `json:"status"`
	Reference             string            `json:"reference"`
	CounterpartyAccountID *uuid.UUID        `json:"counterparty_account_id,omitempty"`
	CorrelationID         *uuid.UUID        `json:"correlation_id,omitempty"`
	CardID                *uuid.UUID        `json:"card_id,omitempty"`
	BankAccountNumber     *string           `json:"bank_account_number,omitempty"`
	GroupID               *string           `json:"group_id,omitempty"`
	Description           string            `json:"description"`
	FailureReason         *string           `json:"failure_reason,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// SignedEffect is the change a completed entry applies to its account balance.
func (t Transaction) SignedEffect() int64 {
	if t.Type.IsCredit() {
		return t.Amount
	}
	return -(t.Amount + t.Fee)
}

// NetAmount is the amount shown in statements: what actually moved in or out
// of the wallet, signed.
func (t Transaction) NetAmount() int64 {
	return t.SignedEffect()
}

// FeeEntry is the standalone line item recorded for every non-zero fee.
type FeeEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Kind          TransactionType `json:"kind"`
	Amount        int64           `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TransactionFilter narrows a journal query. Zero values mean "no filter".
type TransactionFilter struct {
	Type   TransactionType
	Status TransactionStatus
	From   *time.Time
	To     *time.Time
}

// TransactionSummary aggregates completed activity over a window.
type TransactionSummary struct {
	TotalDeposits      int64 `json:"total_deposits"`
	TotalWithdrawals   int64 `json:"total_withdrawals"`
	TotalTransfersIn   int64 `json:"total_transfers_in"`
	TotalTransfersOut  int64 `json:"total_transfers_out"`
	TotalContributions int64 `json:"total_contributions"`
	TotalFees          int64 `json:"total_fees"`
	NetFlow            int64 `json:"net_flow"`
	Count              int   `json:"count"`
}

// Add folds a completed entry into the summary.
func (s *TransactionSummary) Add(tx Transaction) {
	if tx.Status != StatusCompleted {
		return
	}
	switch tx.Type {
	case TransactionTypeDeposit:
		s.TotalDeposits += tx.Amount
	case TransactionTypeWithdrawal:
		s.TotalWithdrawals += tx.Amount
	case TransactionTypeTransferIn:
		s.TotalTransfersIn += tx.Amount
	case TransactionTypeTransferOut:
		s.TotalTransfersOut += tx.Amount
	case TransactionTypeContribution:
		s.TotalContributions += tx.Amount
	}
	s.TotalFees += tx.Fee
	s.NetFlow += tx.SignedEffect()
	s.Count++
}
