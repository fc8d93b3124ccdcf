/**
 * @description
 * The AccountLedger owns account balances. Every balance change happens inside a
 * store unit of work that holds the account lock, inserts or finalizes a journal
 * entry and writes the fee line item, so the balance always equals the sum of the
 * signed effects of the account's completed entries.
 *
 * Two shapes of mutation are supported:
 * - one-step Credit/Debit, where the entry is created and completed together;
 * - two-step Open/Reserve followed by Settle or Fail, used when an external
 *   processor sits between accepting and completing the movement.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const (
	maxReferenceLength   = 128
	maxDescriptionLength = 255
	maxLedgerAmount      = int64(1) << 50
)

// LedgerEntry describes one requested balance movement.
type LedgerEntry struct {
	AccountID             uuid.UUID
	Type                  domain.TransactionType
	Amount                int64
	Fee                   int64
	Reference             string
	Description           string
	CounterpartyAccountID *uuid.UUID
	CorrelationID         *uuid.UUID
	CardID                *uuid.UUID
	BankAccountNumber     *string
	GroupID               *string
	// DailyLimit caps the total of non-failed entries of this type since UTC
	// midnight. Zero disables the check.
	DailyLimit int64
}

// Ledger implements the AccountLedger.
type Ledger struct {
	repo   store.Repository
	events *EventPublisher
	now    func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(repo store.Repository, events *EventPublisher) *Ledger {
	return &Ledger{
		repo:   repo,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func validateEntry(entry LedgerEntry, credit bool) error {
	if entry.AccountID == uuid.Nil {
		return invalid("account_id", "is required")
	}
	if !entry.Type.Valid() {
		return invalid("type", "unknown transaction type %q", entry.Type)
	}
	if entry.Type.IsCredit() != credit {
		return invalid("type", "%s cannot be used for this operation", entry.Type)
	}
	if entry.Amount <= 0 {
		return invalid("amount", "must be greater than zero")
	}
	if entry.Amount > maxLedgerAmount || entry.Fee > maxLedgerAmount {
		return invalid("amount", "is too large")
	}
	if entry.Fee < 0 {
		return invalid("fee", "must not be negative")
	}
	if err := validateReference(entry.Reference); err != nil {
		return err
	}
	if len(entry.Description) > maxDescriptionLength {
		return invalid("description", "must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

func validateReference(reference string) error {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return invalid("reference", "an idempotency reference is required")
	}
	if trimmed != reference || len(reference) > maxReferenceLength {
		return invalid("reference", "must be at most %d characters without surrounding spaces", maxReferenceLength)
	}
	return nil
}

// replayOf returns the stored entry for a repeated reference, or
// ErrDuplicateReference when the reference was used for a different movement.
func replayOf(existing *domain.Transaction, entry LedgerEntry) (*domain.Transaction, error) {
	if existing.Type != entry.Type || existing.Amount != entry.Amount {
		return nil, fmt.Errorf("%w: reference %q already used for a %s of %s", store.ErrDuplicateReference, entry.Reference, existing.Type, domain.FormatAmount(existing.Amount))
	}
	return existing, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) newTransaction(entry LedgerEntry, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             entry.AccountID,
		Type:                  entry.Type,
		Amount:                entry.Amount,
		Fee:                   entry.Fee,
		Status:                domain.StatusPending,
		Reference:             entry.Reference,
		CounterpartyAccountID: entry.CounterpartyAccountID,
		CorrelationID:         entry.CorrelationID,
		CardID:                entry.CardID,
		BankAccountNumber:     entry.BankAccountNumber,
		GroupID:               entry.GroupID,
		Description:           entry.Description,
		CreatedAt:             now,
	}
}

// begin runs the checks shared by every new entry inside the unit of work. It
// returns the stored entry when the reference is a replay.
func (l *Ledger) begin(ctx context.Context, ltx store.LedgerTx, entry LedgerEntry, now time.Time) (*domain.Account, *domain.Transaction, error) {
	account, err := ltx.Account(entry.AccountID)
	if err != nil {
		return nil, nil, err
	}

	existing, err := ltx.FindTransactionByReference(ctx, entry.AccountID, entry.Reference)
	if err == nil {
		replay, replayErr := replayOf(existing, entry)
		return account, replay, replayErr
	}
	if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, nil, fmt.Errorf("lookup reference: %w", err)
	}

	if !account.Active {
		return nil, nil, ErrAccountInactive
	}

	if entry.DailyLimit > 0 {
		used, err := ltx.SumAmountSince(ctx, entry.AccountID, entry.Type, startOfDay(now))
		if err != nil {
			return nil, nil, err
		}
		if used+entry.Amount > entry.DailyLimit {
			return nil, nil, invalid("amount", "daily %s limit of R%s exceeded (R%s remaining)",
				entry.Type, domain.FormatAmount(entry.DailyLimit), domain.FormatAmount(max(entry.DailyLimit-used, 0)))
		}
	}

	return account, nil, nil
}

// complete applies a pending entry's effect and marks it completed. releaseHold
// is set when the entry reserved its funds with Reserve.
func (l *Ledger) complete(ctx context.Context, ltx store.LedgerTx, tx *domain.Transaction, releaseHold bool, now time.Time) error {
	account, err := ltx.Account(tx.AccountID)
	if err != nil {
		return err
	}

	balance := account.Balance + tx.SignedEffect()
	held := account.Held
	if releaseHold {
		held -= tx.Amount + tx.Fee
	}
	if err := ltx.UpdateAccountFunds(ctx, tx.AccountID, balance, held); err != nil {
		if errors.Is(err, store.ErrInvariantViolation) {
			log.Printf("level=error component=ledger msg=\"ledger invariant violated; aborting\" account_id=%s transaction_id=%s err=%v", tx.AccountID, tx.ID, err)
		}
		return err
	}

	if err := ltx.FinalizeTransaction(ctx, tx.ID, domain.StatusCompleted, now, nil); err != nil {
		return err
	}
	tx.Status = domain.StatusCompleted
	tx.CompletedAt = &now

	if tx.Fee > 0 {
		fee := &domain.FeeEntry{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			AccountID:     tx.AccountID,
			Kind:          tx.Type,
			Amount:        tx.Fee,
			CreatedAt:     now,
		}
		if err := ltx.InsertFeeEntry(ctx, fee); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) creditLocked(ctx context.Context, ltx store.LedgerTx, entry LedgerEntry, settle bool, now time.Time) (*domain.Transaction, bool, error) {
	_, replay, err := l.begin(ctx, ltx, entry, now)
	if err != nil || replay != nil {
		return replay, replay != nil, err
	}

	tx := l.newTransaction(entry, now)
	if err := ltx.InsertTransaction(ctx, tx); err != nil {
		return nil, false, err
	}
	if settle {
		if err := l.complete(ctx, ltx, tx, false, now); err != nil {
			return nil, false, err
		}
	}
	return tx, false, nil
}

func (l *Ledger) debitLocked(ctx context.Context, ltx store.LedgerTx, entry LedgerEntry, reserve bool, now time.Time) (*domain.Transaction, bool, error) {
	account, replay, err := l.begin(ctx, ltx, entry, now)
	if err != nil || replay != nil {
		return replay, replay != nil, err
	}

	total := entry.Amount + entry.Fee
	if total > account.Available() {
		return nil, false, ErrInsufficientFunds
	}

	tx := l.newTransaction(entry, now)
	if err := ltx.InsertTransaction(ctx, tx); err != nil {
		return nil, false, err
	}
	if reserve {
		return tx, false, ltx.UpdateAccountFunds(ctx, account.ID, account.Balance, account.Held+total)
	}
	if err := l.complete(ctx, ltx, tx, false, now); err != nil {
		return nil, false, err
	}
	return tx, false, nil
}

func (l *Ledger) runEntry(ctx context.Context, entry LedgerEntry, credit bool, fn func(store.LedgerTx, time.Time) (*domain.Transaction, bool, error)) (*domain.Transaction, error) {
	if err := validateEntry(entry, credit); err != nil {
		return nil, err
	}

	var (
		result   *domain.Transaction
		replayed bool
	)
	now := l.now()
	err := l.repo.WithinAccounts(ctx, []uuid.UUID{entry.AccountID}, func(ltx store.LedgerTx) error {
		var err error
		result, replayed, err = fn(ltx, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		l.events.TransactionFinalized(result)
	}
	return result, nil
}

// Credit creates and completes a credit entry (deposit or transfer_in). A
// replayed reference returns the original entry without crediting again.
func (l *Ledger) Credit(ctx context.Context, entry LedgerEntry) (*domain.Transaction, error) {
	return l.runEntry(ctx, entry, true, func(ltx store.LedgerTx, now time.Time) (*domain.Transaction, bool, error) {
		return l.creditLocked(ctx, ltx, entry, true, now)
	})
}

// Debit creates and completes a debit entry of amount+fee. It returns
// ErrInsufficientFunds without writing anything when available funds are short.
func (l *Ledger) Debit(ctx context.Context, entry LedgerEntry) (*domain.Transaction, error) {
	return l.runEntry(ctx, entry, false, func(ltx store.LedgerTx, now time.Time) (*domain.Transaction, bool, error) {
		return l.debitLocked(ctx, ltx, entry, false, now)
	})
}

// Open records a pending credit with no balance effect. Settle applies it.
func (l *Ledger) Open(ctx context.Context, entry LedgerEntry) (*domain.Transaction, error) {
	return l.runEntry(ctx, entry, true, func(ltx store.LedgerTx, now time.Time) (*domain.Transaction, bool, error) {
		return l.creditLocked(ctx, ltx, entry, false, now)
	})
}

// Reserve records a pending debit and holds amount+fee so no other debit can
// spend it. Settle deducts it; Fail releases it.
func (l *Ledger) Reserve(ctx context.Context, entry LedgerEntry) (*domain.Transaction, error) {
	return l.runEntry(ctx, entry, false, func(ltx store.LedgerTx, now time.Time) (*domain.Transaction, bool, error) {
		return l.debitLocked(ctx, ltx, entry, true, now)
	})
}

// holdsFunds reports whether a pending entry reserved its funds.
func holdsFunds(tx *domain.Transaction) bool {
	return tx.Status == domain.StatusPending && tx.Type == domain.TransactionTypeWithdrawal
}

// Settle completes a pending entry. Settling an already completed entry returns
// it unchanged; settling a failed one returns ErrTransactionNotPending.
func (l *Ledger) Settle(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return l.finalize(ctx, transactionID, domain.StatusCompleted, "")
}

// Fail marks a pending entry failed and releases any hold. Failing an already
// failed entry returns it unchanged; failing a completed one returns
// ErrTransactionNotPending.
func (l *Ledger) Fail(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	return l.finalize(ctx, transactionID, domain.StatusFailed, reason)
}

func (l *Ledger) finalize(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus, reason string) (*domain.Transaction, error) {
	tx, err := l.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	changed := false
	now := l.now()
	err = l.repo.WithinAccounts(ctx, []uuid.UUID{tx.AccountID}, func(ltx store.LedgerTx) error {
		current, err := ltx.FindTransactionByID(ctx, transactionID)
		if err != nil {
			return err
		}
		tx = current
		if current.Status.Terminal() {
			return nil
		}

		if status == domain.StatusCompleted {
			if err := l.complete(ctx, ltx, current, holdsFunds(current), now); err != nil {
				return err
			}
			changed = true
			return nil
		}

		if holdsFunds(current) {
			account, err := ltx.Account(current.AccountID)
			if err != nil {
				return err
			}
			if err := ltx.UpdateAccountFunds(ctx, account.ID, account.Balance, account.Held-(current.Amount+current.Fee)); err != nil {
				return err
			}
		}
		failureReason := optionalString(reason)
		if err := ltx.FinalizeTransaction(ctx, current.ID, domain.StatusFailed, now, failureReason); err != nil {
			return err
		}
		current.Status = domain.StatusFailed
		current.CompletedAt = &now
		current.FailureReason = failureReason
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if tx.Status != status {
		return tx, store.ErrTransactionNotPending
	}
	if changed {
		l.events.TransactionFinalized(tx)
	}
	return tx, nil
}

// Lookup returns the entry already stored under reference, if any.
func (l *Ledger) Lookup(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	return l.repo.FindTransactionByReference(ctx, accountID, reference)
}

// Balance returns the account's balance and the part of it that can still be spent.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error) {
	account, err := l.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountBalance{
		Balance:   account.Balance,
		Available: account.Available(),
		Currency:  account.Currency,
	}, nil
}

// ListTransactions pages through the account's journal.
func (l *Ledger) ListTransactions(ctx context.Context, accountID uuid.UUID, query JournalQuery) (*JournalPage, error) {
	return NewJournal(l.repo).List(ctx, accountID, query)
}

// Audit recomputes the balance from the journal. A mismatch means an entry was
// applied outside the ledger and is logged as an error.
func (l *Ledger) Audit(ctx context.Context, accountID uuid.UUID) (*domain.AccountAudit, error) {
	account, err := l.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	totals, err := l.repo.ComputeLedgerTotals(ctx, accountID)
	if err != nil {
		return nil, err
	}

	audit := &domain.AccountAudit{
		AccountID:       accountID,
		Balance:         account.Balance,
		ComputedBalance: totals.CompletedEffects,
		Held:            account.Held,
		PendingHolds:    totals.PendingHolds,
	}
	audit.OK = audit.Balance == audit.ComputedBalance && audit.Held == audit.PendingHolds
	if !audit.OK {
		log.Printf("level=error component=ledger msg=\"ledger audit mismatch\" account_id=%s balance=%d computed=%d held=%d pending_holds=%d",
			accountID, audit.Balance, audit.ComputedBalance, audit.Held, audit.PendingHolds)
	}
	return audit, nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
