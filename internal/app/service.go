/**
 * @description
 * This file contains the `Service` facade for the wallet-service. It wires the
 * ledger, card registry, journal, transfer router, processor-backed wallet flows
 * and the contribution bridge over one repository, and owns account onboarding.
 *
 * Key features:
 * - Opens one wallet per owner with a unique 10-digit account number.
 * - Resolves the authenticated owner to their wallet for every member operation.
 * - Freezes and unfreezes accounts for the internal admin surface.
 *
 * @dependencies
 * - context, crypto/rand, errors, fmt, log, math/big, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/processor: For the card and bank payment processor.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/processor"
)

const (
	accountNumberMin      = 1000000000
	accountNumberSpan     = 9000000000
	accountNumberAttempts = 10
	DefaultCurrency       = "ZAR"
)

// Options configures the Service.
type Options struct {
	Currency         string
	Deposit          AmountLimits
	Withdraw         AmountLimits
	Transfer         AmountLimits
	ProcessorTimeout time.Duration
}

// Service provides the wallet's business operations.
type Service struct {
	repo          store.Repository
	currency      string
	Ledger        *Ledger
	Cards         *CardRegistry
	Journal       *Journal
	Transfers     *TransferRouter
	Wallet        *Wallet
	Contributions *ContributionBridge
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, gateway processor.Gateway, groups GroupDirectory, events *EventPublisher, opts Options) *Service {
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	ledger := NewLedger(repo, events)
	cards := NewCardRegistry(repo)
	return &Service{
		repo:          repo,
		currency:      currency,
		Ledger:        ledger,
		Cards:         cards,
		Journal:       NewJournal(repo),
		Transfers:     NewTransferRouter(repo, ledger, opts.Transfer),
		Wallet:        NewWallet(ledger, cards, gateway, WalletLimits{Deposit: opts.Deposit, Withdraw: opts.Withdraw}, currency, opts.ProcessorTimeout),
		Contributions: NewContributionBridge(repo, ledger, groups),
	}
}

// generateAccountNumber returns a random number in [1000000000, 9999999999].
func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(accountNumberSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+accountNumberMin), nil
}

// OpenAccount creates the owner's wallet. Calling it again for the same owner
// returns the existing wallet.
func (s *Service) OpenAccount(ctx context.Context, ownerID, currency string) (*domain.Account, bool, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, false, invalid("owner_id", "is required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return nil, false, invalid("currency", "must be a 3-letter ISO code")
	}

	if existing, err := s.repo.FindAccountByOwnerID(ctx, ownerID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, false, err
	}

	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, false, fmt.Errorf("generate account number: %w", err)
		}
		now := time.Now().UTC()
		account := &domain.Account{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			AccountNumber: number,
			Currency:      currency,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = s.repo.CreateAccount(ctx, account)
		switch {
		case err == nil:
			log.Printf("level=info component=service msg=\"account opened\" account_id=%s owner_id=%s", account.ID, ownerID)
			return account, true, nil
		case errors.Is(err, store.ErrDuplicateAccountNumber):
			log.Printf("level=warn component=service msg=\"account number collision; retrying\" attempt=%d", attempt)
		case errors.Is(err, store.ErrAccountExists):
			existing, findErr := s.repo.FindAccountByOwnerID(ctx, ownerID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		default:
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("could not allocate a unique account number after %d attempts", accountNumberAttempts)
}

// AccountForOwner resolves an authenticated owner to their wallet.
func (s *Service) AccountForOwner(ctx context.Context, ownerID string) (*domain.Account, error) {
	return s.repo.FindAccountByOwnerID(ctx, ownerID)
}

// SetAccountActive freezes or unfreezes an account. A frozen account keeps its
// balance but accepts no new movements.
func (s *Service) SetAccountActive(ctx context.Context, accountID uuid.UUID, active bool) (*domain.Account, error) {
	if err := s.repo.SetAccountActive(ctx, accountID, active); err != nil {
		return nil, err
	}
	log.Printf("level=info component=service msg=\"account activity changed\" account_id=%s active=%t", accountID, active)
	return s.repo.FindAccountByID(ctx, accountID)
}
