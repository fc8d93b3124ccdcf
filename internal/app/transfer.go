package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const recipientInactiveReason = "recipient_account_inactive"

var accountNumberPattern = regexp.MustCompile(`^[0-9]{10}$`)

var errRecipientInactive = errors.New("recipient inactive")

// AmountLimits bounds a single operation and the daily total for its type.
// Zero values disable a bound.
type AmountLimits struct {
	Min   int64
	Max   int64
	Daily int64
}

func (l AmountLimits) check(field string, amount int64) error {
	if amount <= 0 {
		return invalid(field, "must be greater than zero")
	}
	if l.Min > 0 && amount < l.Min {
		return invalid(field, "must be at least R%s", domain.FormatAmount(l.Min))
	}
	if l.Max > 0 && amount > l.Max {
		return invalid(field, "must be at most R%s", domain.FormatAmount(l.Max))
	}
	return nil
}

type TransferInput struct {
	SenderAccountID        uuid.UUID
	RecipientAccountNumber string
	Amount                 int64
	Description            string
	Reference              string
}

// TransferResult holds both legs of a transfer. They always share a status.
type TransferResult struct {
	SenderTx    *domain.Transaction
	RecipientTx *domain.Transaction
}

// TransferRouter moves money between two wallets.
type TransferRouter struct {
	repo   store.Repository
	ledger *Ledger
	limits AmountLimits
}

func NewTransferRouter(repo store.Repository, ledger *Ledger, limits AmountLimits) *TransferRouter {
	return &TransferRouter{repo: repo, ledger: ledger, limits: limits}
}

// recipientReference keys the transfer_in leg on the recipient's account.
func recipientReference(correlationID uuid.UUID) string {
	return correlationID.String() + ":in"
}

// Transfer debits the sender and credits the recipient in one unit of work that
// holds both account locks. Both legs complete together; if the recipient is
// frozen nothing moves and both legs are recorded as failed.
func (r *TransferRouter) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if !accountNumberPattern.MatchString(in.RecipientAccountNumber) {
		return nil, invalid("recipient_account_number", "must be exactly 10 digits")
	}
	if err := r.limits.check("amount", in.Amount); err != nil {
		return nil, err
	}
	if err := validateReference(in.Reference); err != nil {
		return nil, err
	}

	recipient, err := r.repo.FindAccountByNumber(ctx, in.RecipientAccountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient.ID == in.SenderAccountID {
		return nil, invalid("recipient_account_number", "cannot transfer to your own account")
	}

	if existing, err := r.repo.FindTransactionByReference(ctx, in.SenderAccountID, in.Reference); err == nil {
		return r.replay(ctx, existing, in, recipient.ID)
	} else if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, err
	}

	correlationID := uuid.New()
	senderID := in.SenderAccountID
	outEntry := LedgerEntry{
		AccountID:             senderID,
		Type:                  domain.TransactionTypeTransferOut,
		Amount:                in.Amount,
		Fee:                   TransferFee(in.Amount),
		Reference:             in.Reference,
		Description:           in.Description,
		CounterpartyAccountID: &recipient.ID,
		CorrelationID:         &correlationID,
		DailyLimit:            r.limits.Daily,
	}
	inEntry := LedgerEntry{
		AccountID:             recipient.ID,
		Type:                  domain.TransactionTypeTransferIn,
		Amount:                in.Amount,
		Reference:             recipientReference(correlationID),
		Description:           in.Description,
		CounterpartyAccountID: &senderID,
		CorrelationID:         &correlationID,
	}
	if err := validateEntry(outEntry, false); err != nil {
		return nil, err
	}

	var (
		result   TransferResult
		replayed *domain.Transaction
	)
	now := r.ledger.now()
	err = r.repo.WithinAccounts(ctx, []uuid.UUID{senderID, recipient.ID}, func(ltx store.LedgerTx) error {
		recipientAccount, err := ltx.Account(recipient.ID)
		if err != nil {
			return err
		}

		out, isReplay, err := r.ledger.debitLocked(ctx, ltx, outEntry, false, now)
		if err != nil {
			return err
		}
		if isReplay {
			replayed = out
			return nil
		}
		if !recipientAccount.Active {
			return errRecipientInactive
		}

		credit, _, err := r.ledger.creditLocked(ctx, ltx, inEntry, true, now)
		if err != nil {
			return err
		}
		result = TransferResult{SenderTx: out, RecipientTx: credit}
		return nil
	})

	switch {
	case errors.Is(err, errRecipientInactive):
		return r.recordFailedPair(ctx, outEntry, inEntry)
	case err != nil:
		return nil, err
	case replayed != nil:
		return r.replay(ctx, replayed, in, recipient.ID)
	}

	log.Printf("level=info component=transfer msg=\"transfer completed\" correlation_id=%s sender_account_id=%s recipient_account_id=%s amount=%d",
		correlationID, senderID, recipient.ID, in.Amount)
	r.ledger.events.TransactionFinalized(result.SenderTx)
	r.ledger.events.TransactionFinalized(result.RecipientTx)
	r.ledger.events.TransferCompleted(result.SenderTx, result.RecipientTx)
	return &result, nil
}

// recordFailedPair writes both legs as failed so the attempt stays auditable.
// No balance changes.
func (r *TransferRouter) recordFailedPair(ctx context.Context, outEntry, inEntry LedgerEntry) (*TransferResult, error) {
	var result TransferResult
	now := r.ledger.now()
	reason := recipientInactiveReason
	err := r.repo.WithinAccounts(ctx, []uuid.UUID{outEntry.AccountID, inEntry.AccountID}, func(ltx store.LedgerTx) error {
		if existing, err := ltx.FindTransactionByReference(ctx, outEntry.AccountID, outEntry.Reference); err == nil {
			result.SenderTx = existing
			return nil
		}
		for _, entry := range []LedgerEntry{outEntry, inEntry} {
			tx := r.ledger.newTransaction(entry, now)
			if err := ltx.InsertTransaction(ctx, tx); err != nil {
				return err
			}
			if err := ltx.FinalizeTransaction(ctx, tx.ID, domain.StatusFailed, now, &reason); err != nil {
				return err
			}
			tx.Status = domain.StatusFailed
			tx.CompletedAt = &now
			tx.FailureReason = &reason
			if entry.Type == domain.TransactionTypeTransferOut {
				result.SenderTx = tx
			} else {
				result.RecipientTx = tx
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.RecipientTx != nil {
		log.Printf("level=warn component=transfer msg=\"transfer failed; recipient inactive\" sender_account_id=%s recipient_account_id=%s", outEntry.AccountID, inEntry.AccountID)
		r.ledger.events.TransactionFinalized(result.SenderTx)
	}
	return &result, ErrAccountInactive
}

// replay returns the stored pair for a reference the sender already used.
func (r *TransferRouter) replay(ctx context.Context, existing *domain.Transaction, in TransferInput, recipientID uuid.UUID) (*TransferResult, error) {
	entry := LedgerEntry{Type: domain.TransactionTypeTransferOut, Amount: in.Amount, Reference: in.Reference}
	out, err := replayOf(existing, entry)
	if err != nil {
		return nil, err
	}
	if out.CounterpartyAccountID == nil || *out.CounterpartyAccountID != recipientID || out.CorrelationID == nil {
		return nil, fmt.Errorf("%w: reference %q already used for a different recipient", store.ErrDuplicateReference, in.Reference)
	}

	legs, err := r.repo.FindTransactionsByCorrelationID(ctx, *out.CorrelationID)
	if err != nil {
		return nil, err
	}
	result := &TransferResult{SenderTx: out}
	for i := range legs {
		if legs[i].Type == domain.TransactionTypeTransferIn {
			result.RecipientTx = &legs[i]
		}
	}
	if out.Status == domain.StatusFailed {
		return result, ErrAccountInactive
	}
	return result, nil
}
