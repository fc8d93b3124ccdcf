package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContributionRecord links a completed contribution debit to a savings-group pool.
type ContributionRecord struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	GroupID       string    `json:"group_id"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	CreatedAt     time.Time `json:"created_at"`
}

// GroupMembership is what the group service tells us about a member.
type GroupMembership struct {
	GroupID                  string `json:"group_id"`
	OwnerID                  string `json:"user_id"`
	IsMember                 bool   `json:"is_member"`
	GroupActive              bool   `json:"group_active"`
	MinimumContributionCents int64  `json:"contribution_amount_cents"`
	ContributionFeeCents     int64  `json:"contribution_fee_cents"`
}
