/**
 * @description
 * Card deposits and bank withdrawals. Both go through the payment processor, so
 * the ledger entry is opened (deposit) or reserved (withdrawal) first and only
 * settled once the processor answers. When the processor does not answer in time
 * the entry stays pending and the Reconciler or the settlement consumer finishes it.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/processor"
)

// DefaultProcessorTimeout bounds a single processor call when none is configured.
const DefaultProcessorTimeout = 15 * time.Second

type DepositInput struct {
	AccountID   uuid.UUID
	CardID      uuid.UUID
	Amount      int64
	Description string
	Reference   string
}

type WithdrawInput struct {
	AccountID         uuid.UUID
	BankAccountNumber string
	Amount            int64
	Description       string
	Reference         string
}

// WalletResult is what every money mutation returns to the member.
type WalletResult struct {
	Message     string              `json:"message"`
	NewBalance  int64               `json:"new_balance"`
	Transaction *domain.Transaction `json:"transaction"`
}

// WalletLimits configures the per-operation bounds.
type WalletLimits struct {
	Deposit  AmountLimits
	Withdraw AmountLimits
}

// Wallet runs the processor-backed flows.
type Wallet struct {
	ledger    *Ledger
	cards     *CardRegistry
	processor processor.Gateway
	limits    WalletLimits
	currency  string
	timeout   time.Duration
}

func NewWallet(ledger *Ledger, cards *CardRegistry, gateway processor.Gateway, limits WalletLimits, currency string, timeout time.Duration) *Wallet {
	if timeout <= 0 {
		timeout = DefaultProcessorTimeout
	}
	return &Wallet{
		ledger:    ledger,
		cards:     cards,
		processor: gateway,
		limits:    limits,
		currency:  currency,
		timeout:   timeout,
	}
}

// Deposit charges amount plus the deposit fee to a saved card and credits the
// full amount once the charge succeeds.
func (w *Wallet) Deposit(ctx context.Context, in DepositInput) (*WalletResult, error) {
	if err := w.limits.Deposit.check("amount", in.Amount); err != nil {
		return nil, err
	}
	if err := validateReference(in.Reference); err != nil {
		return nil, err
	}
	if result, found, err := w.replayed(ctx, in.AccountID, domain.TransactionTypeDeposit, in.Amount, in.Reference); found {
		return result, err
	}
	card, err := w.cards.Usable(ctx, in.AccountID, in.CardID)
	if err != nil {
		return nil, err
	}

	entry := LedgerEntry{
		AccountID:   in.AccountID,
		Type:        domain.TransactionTypeDeposit,
		Amount:      in.Amount,
		Fee:         DepositFee(in.Amount),
		Reference:   in.Reference,
		Description: in.Description,
		CardID:      &card.ID,
		DailyLimit:  w.limits.Deposit.Daily,
	}
	tx, err := w.ledger.Open(ctx, entry)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return w.outcome(ctx, tx)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	result, err := w.processor.Charge(callCtx, processor.ChargeRequest{
		Reference:   tx.ID.String(),
		CardID:      card.ID.String(),
		Last4:       card.Last4,
		Amount:      tx.Amount + tx.Fee,
		Currency:    w.currency,
		Description: tx.Description,
	})
	return w.resolve(ctx, tx, result, err)
}

// Withdraw reserves amount plus the withdrawal fee and pays the amount out to
// the member's bank account. The hold is released if the payout is declined.
func (w *Wallet) Withdraw(ctx context.Context, in WithdrawInput) (*WalletResult, error) {
	if err := w.limits.Withdraw.check("amount", in.Amount); err != nil {
		return nil, err
	}
	if err := validateReference(in.Reference); err != nil {
		return nil, err
	}
	if result, found, err := w.replayed(ctx, in.AccountID, domain.TransactionTypeWithdrawal, in.Amount, in.Reference); found {
		return result, err
	}
	if !accountNumberPattern.MatchString(in.BankAccountNumber) {
		return nil, invalid("bank_account_number", "must be exactly 10 digits")
	}

	bankAccount := in.BankAccountNumber
	entry := LedgerEntry{
		AccountID:         in.AccountID,
		Type:              domain.TransactionTypeWithdrawal,
		Amount:            in.Amount,
		Fee:               WithdrawalFee(in.Amount),
		Reference:         in.Reference,
		Description:       in.Description,
		BankAccountNumber: &bankAccount,
		DailyLimit:        w.limits.Withdraw.Daily,
	}
	tx, err := w.ledger.Reserve(ctx, entry)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return w.outcome(ctx, tx)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	result, err := w.processor.Payout(callCtx, processor.PayoutRequest{
		Reference:         tx.ID.String(),
		BankAccountNumber: bankAccount,
		Amount:            tx.Amount,
		Currency:          w.currency,
		Description:       tx.Description,
	})
	return w.resolve(ctx, tx, result, err)
}

// replayed reports whether reference was already used on the account and, if
// so, returns that entry's outcome. Cards and bank details are not checked
// again for a known reference.
func (w *Wallet) replayed(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, amount int64, reference string) (*WalletResult, bool, error) {
	existing, err := w.ledger.Lookup(ctx, accountID, reference)
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("lookup reference: %w", err)
	}
	tx, err := replayOf(existing, LedgerEntry{Type: txType, Amount: amount, Reference: reference})
	if err != nil {
		return nil, true, err
	}
	result, err := w.outcome(ctx, tx)
	return result, true, err
}

// resolve applies the processor's answer to a pending entry.
func (w *Wallet) resolve(ctx context.Context, tx *domain.Transaction, result *processor.Result, callErr error) (*WalletResult, error) {
	var errResp *processor.ErrorResponse
	switch {
	case callErr == nil && result.Status == processor.StatusSucceeded:
		settled, err := w.ledger.Settle(ctx, tx.ID)
		if err != nil {
			log.Printf("level=error component=wallet msg=\"settle after processor success failed\" transaction_id=%s err=%v", tx.ID, err)
			return w.pending(ctx, tx)
		}
		return w.outcome(ctx, settled)
	case callErr == nil && result.Status == processor.StatusFailed:
		return w.decline(ctx, tx, result.Reason)
	case errors.As(callErr, &errResp) && errResp.Rejected():
		return w.decline(ctx, tx, errResp.Message)
	case callErr != nil:
		log.Printf("level=warn component=wallet msg=\"processor outcome unknown; leaving pending\" transaction_id=%s type=%s err=%v", tx.ID, tx.Type, callErr)
	}
	return w.pending(ctx, tx)
}

func (w *Wallet) decline(ctx context.Context, tx *domain.Transaction, reason string) (*WalletResult, error) {
	if reason == "" {
		reason = "declined by processor"
	}
	failed, err := w.ledger.Fail(ctx, tx.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("record processor decline: %w", err)
	}
	log.Printf("level=info component=wallet msg=\"processor declined\" transaction_id=%s type=%s reason=%q", tx.ID, tx.Type, reason)
	return w.outcome(ctx, failed)
}

func (w *Wallet) pending(ctx context.Context, tx *domain.Transaction) (*WalletResult, error) {
	result, err := w.result(ctx, tx, "Your transaction is being processed")
	if err != nil {
		return nil, err
	}
	return result, ErrProcessingPending
}

// outcome turns a stored entry into the response its first attempt produced,
// so a replayed reference sees the same result.
func (w *Wallet) outcome(ctx context.Context, tx *domain.Transaction) (*WalletResult, error) {
	switch tx.Status {
	case domain.StatusPending:
		return w.pending(ctx, tx)
	case domain.StatusFailed:
		reason := ""
		if tx.FailureReason != nil {
			reason = *tx.FailureReason
		}
		result, err := w.result(ctx, tx, "Transaction failed")
		if err != nil {
			return nil, err
		}
		return result, &ProcessorError{Reason: reason}
	}

	var message string
	switch tx.Type {
	case domain.TransactionTypeDeposit:
		message = fmt.Sprintf("Deposit successful! R%s added to your wallet", domain.FormatAmount(tx.Amount))
	case domain.TransactionTypeWithdrawal:
		message = "Withdrawal successful"
	default:
		message = "Transaction successful"
	}
	return w.result(ctx, tx, message)
}

func (w *Wallet) result(ctx context.Context, tx *domain.Transaction, message string) (*WalletResult, error) {
	balance, err := w.ledger.Balance(ctx, tx.AccountID)
	if err != nil {
		return nil, err
	}
	return &WalletResult{Message: message, NewBalance: balance.Balance, Transaction: tx}, nil
}
