package app

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const (
	cardNumberDigits       = 16
	maxFormattedCardLength = 19
	minHolderNameLength    = 2
	maxHolderNameLength    = 100
)

var (
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3}$`)
)

// AddCardInput is the raw card as entered by the member. Number and CVV are
// used for validation only and never stored.
type AddCardInput struct {
	Holder  string
	Number  string
	Expiry  string
	CVV     string
	Primary bool
}

// CardRegistry manages an account's funding cards.
type CardRegistry struct {
	repo store.Repository
	now  func() time.Time
}

func NewCardRegistry(repo store.Repository) *CardRegistry {
	return &CardRegistry{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// normalizeCardNumber strips the spaces and dashes members type between digit groups.
func normalizeCardNumber(raw string) (string, error) {
	if len(raw) > maxFormattedCardLength {
		return "", invalid("cardNumber", "must be at most %d characters", maxFormattedCardLength)
	}
	digits := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	if len(digits) != cardNumberDigits {
		return "", invalid("cardNumber", "must contain exactly %d digits", cardNumberDigits)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", invalid("cardNumber", "must contain digits only")
		}
	}
	return digits, nil
}

// DetectCardType guesses the brand from the first digit of the card number.
func DetectCardType(number string) domain.CardType {
	switch {
	case strings.HasPrefix(number, "4"):
		return domain.CardTypeVisa
	case strings.HasPrefix(number, "5"):
		return domain.CardTypeMastercard
	case strings.HasPrefix(number, "3"):
		return domain.CardTypeAmex
	default:
		return domain.CardTypeUnknown
	}
}

func parseExpiry(raw string) (month, year int, err error) {
	matches := expiryPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if matches == nil {
		return 0, 0, invalid("expiry", "must be MM/YY with a month from 01 to 12")
	}
	month, _ = strconv.Atoi(matches[1])
	yy, _ := strconv.Atoi(matches[2])
	return month, 2000 + yy, nil
}

func validateCard(input AddCardInput, now time.Time) (*domain.Card, error) {
	holder := strings.Join(strings.Fields(input.Holder), " ")
	if len(holder) < minHolderNameLength {
		return nil, invalid("cardholder", "must be at least %d characters", minHolderNameLength)
	}
	if len(holder) > maxHolderNameLength {
		return nil, invalid("cardholder", "must be at most %d characters", maxHolderNameLength)
	}

	number, err := normalizeCardNumber(input.Number)
	if err != nil {
		return nil, err
	}

	month, year, err := parseExpiry(input.Expiry)
	if err != nil {
		return nil, err
	}

	if !cvvPattern.MatchString(input.CVV) {
		return nil, invalid("cvv", "must be exactly 3 digits")
	}

	card := &domain.Card{
		ID:          uuid.New(),
		HolderName:  holder,
		Last4:       number[len(number)-4:],
		CardType:    DetectCardType(number),
		ExpiryMonth: month,
		ExpiryYear:  year,
		IsPrimary:   input.Primary,
		CreatedAt:   now,
	}
	if card.ExpiredAt(now) {
		return nil, invalid("expiry", "card has expired")
	}
	return card, nil
}

// Add validates and stores a card. Only the last four digits and the brand are
// kept. The first card on an account becomes primary.
func (r *CardRegistry) Add(ctx context.Context, accountID uuid.UUID, input AddCardInput) (*domain.Card, error) {
	card, err := validateCard(input, r.now())
	if err != nil {
		return nil, err
	}
	card.AccountID = accountID

	if !card.IsPrimary {
		existing, err := r.repo.ListCards(ctx, accountID)
		if err != nil {
			return nil, err
		}
		card.IsPrimary = len(existing) == 0
	}

	if err := r.repo.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// Remove deletes a card owned by the account. Removing the primary card leaves
// the account without one.
func (r *CardRegistry) Remove(ctx context.Context, accountID, cardID uuid.UUID) error {
	return r.repo.DeleteCard(ctx, accountID, cardID)
}

func (r *CardRegistry) SetPrimary(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	return r.repo.SetPrimaryCard(ctx, accountID, cardID)
}

func (r *CardRegistry) List(ctx context.Context, accountID uuid.UUID) ([]domain.Card, error) {
	return r.repo.ListCards(ctx, accountID)
}

// Usable returns an owned card that can still be charged.
func (r *CardRegistry) Usable(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	card, err := r.repo.FindCardByID(ctx, accountID, cardID)
	if err != nil {
		return nil, err
	}
	if card.ExpiredAt(r.now()) {
		return nil, invalid("card_id", "card ending in %s has expired", card.Last4)
	}
	return card, nil
}
