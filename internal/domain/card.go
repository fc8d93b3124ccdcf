package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CardType is the brand detected from the card number prefix.
type CardType string

const (
	CardTypeVisa       CardType = "visa"
	CardTypeMastercard CardType = "mastercard"
	CardTypeAmex       CardType = "amex"
	CardTypeUnknown    CardType = "unknown"
)

// Card is a funding instrument linked to an account. The full card number and
// CVV are never stored.
type Card struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	HolderName  string    `json:"holder_name"`
	Last4       string    `json:"last4"`
	CardType    CardType  `json:"card_type"`
	ExpiryMonth int       `json:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year"` // four digits
	IsPrimary   bool      `json:"is_primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// MaskedNumber renders the card for display, e.g. "**** **** **** 1234".
func (c Card) MaskedNumber() string {
	return "**** **** **** " + c.Last4
}

// Expiry renders the expiry as MM/YY.
func (c Card) Expiry() string {
	return fmt.Sprintf("%02d/%02d", c.ExpiryMonth, c.ExpiryYear%100)
}

// ExpiredAt reports whether the card is no longer valid at t. Cards are valid
// through the last day of their expiry month.
func (c Card) ExpiredAt(t time.Time) bool {
	endOfMonth := time.Date(c.ExpiryYear, time.Month(c.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !t.UTC().Before(endOfMonth)
}
