/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet-service. Business logic depends on the
 * interface only, so the PostgreSQL store can be swapped for the in-memory store in tests
 * and local runs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAccountNotFound      = fmt.Errorf("account %w", ErrNotFound)
	ErrCardNotFound         = fmt.Errorf("card %w", ErrNotFound)
	ErrTransactionNotFound  = fmt.Errorf("transaction %w", ErrNotFound)
	ErrContributionNotFound = fmt.Errorf("contribution %w", ErrNotFound)

	ErrDuplicateReference     = errors.New("duplicate transaction reference")
	ErrDuplicateAccountNumber = errors.New("duplicate account number")
	ErrAccountExists          = errors.New("account already exists for owner")
	ErrTransactionNotPending  = errors.New("transaction is not pending")
	ErrAccountNotLocked       = errors.New("account is not locked by this unit of work")
	ErrInvariantViolation     = errors.New("ledger invariant violation")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	SetAccountActive(ctx context.Context, accountID uuid.UUID, active bool) error

	// Card methods. Mutations serialize on the owning account.
	CreateCard(ctx context.Context, card *domain.Card) error
	FindCardByID(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error)
	ListCards(ctx context.Context, accountID uuid.UUID) ([]domain.Card, error)
	SetPrimaryCard(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error)
	DeleteCard(ctx context.Context, accountID, cardID uuid.UUID) error

	// WithinAccounts runs fn as one atomic unit of work while holding exclusive
	// locks on the given accounts, acquired in ascending id order. Nothing fn
	// writes is visible to others unless fn returns nil.
	WithinAccounts(ctx context.Context, accountIDs []uuid.UUID, fn func(LedgerTx) error) error

	// Journal methods
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error)
	FindTransactionsByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter domain.TransactionFilter, limit, offset int) ([]domain.Transaction, int, error)
	ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
	ComputeLedgerTotals(ctx context.Context, accountID uuid.UUID) (*LedgerTotals, error)

	// Contribution methods
	FindContributionByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.ContributionRecord, error)
	ListContributions(ctx context.Context, accountID uuid.UUID) ([]domain.ContributionRecord, error)
}

// LedgerTx is the view of the store inside a WithinAccounts unit of work.
// Writes are only allowed on accounts the unit of work has locked.
type LedgerTx interface {
	Account(accountID uuid.UUID) (*domain.Account, error)
	UpdateAccountFunds(ctx context.Context, accountID uuid.UUID, balance, held int64) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error)
	SumAmountSince(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, since time.Time) (int64, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	FinalizeTransaction(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus, completedAt time.Time, failureReason *string) error
	InsertFeeEntry(ctx context.Context, entry *domain.FeeEntry) error
	InsertContribution(ctx context.Context, record *domain.ContributionRecord) error
}

// LedgerTotals are the journal-derived figures used to audit an account.
type LedgerTotals struct {
	CompletedEffects int64
	PendingHolds     int64
}

// checkFunds rejects any balance/hold combination the ledger must never reach.
func checkFunds(accountID uuid.UUID, balance, held int64) error {
	if balance < 0 || held < 0 || balance-held < 0 {
		return fmt.Errorf("%w: account %s balance=%d held=%d", ErrInvariantViolation, accountID, balance, held)
	}
	return nil
}
