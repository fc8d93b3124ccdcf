package domain

import (
	"time"

	"github.com/google/uuid"
)

// SettlementEvent is the message the payment processor emits when a charge or
// payout reaches a new state.
type SettlementEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	Reference     string    `json:"reference"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TransactionEvent is published whenever a journal entry reaches a terminal state.
type TransactionEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	AccountID     uuid.UUID         `json:"account_id"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        int64             `json:"amount"`
	Fee           int64             `json:"fee"`
	Reference     string            `json:"reference"`
	FailureReason string            `json:"failure_reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// TransferEvent is published when both legs of a transfer complete.
type TransferEvent struct {
	CorrelationID      uuid.UUID `json:"correlation_id"`
	SenderAccountID    uuid.UUID `json:"sender_account_id"`
	RecipientAccountID uuid.UUID `json:"recipient_account_id"`
	Amount             int64     `json:"amount"`
	Description        string    `json:"description"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ContributionEvent is published once a contribution is confirmed.
type ContributionEvent struct {
	ContributionID uuid.UUID `json:"contribution_id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	AccountID      uuid.UUID `json:"account_id"`
	OwnerID        string    `json:"owner_id"`
	GroupID        string    `json:"group_id"`
	Amount         int64     `json:"amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}
