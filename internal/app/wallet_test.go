package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/processor"
)

func TestDepositCreditsFullAmountAndChargesFee(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)

	result, err := env.svc.Wallet.Deposit(context.Background(), DepositInput{
		AccountID: account.ID,
		CardID:    card.ID,
		Amount:    50000,
		Reference: "dep-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewBalance != 50000 {
		t.Fatalf("expected new balance 50000, got %d", result.NewBalance)
	}
	if result.Message != "Deposit successful! R500.00 added to your wallet" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if result.Transaction.Status != domain.StatusCompleted || result.Transaction.Fee != 750 {
		t.Fatalf("expected completed deposit with fee 750, got %+v", result.Transaction)
	}
	if len(env.gateway.charges) != 1 || env.gateway.charges[0].Amount != 50750 {
		t.Fatalf("expected one charge of 50750, got %+v", env.gateway.charges)
	}
	if env.gateway.charges[0].Reference != result.Transaction.ID.String() {
		t.Fatalf("expected charge reference to be the transaction id")
	}
	env.assertAudit(t, account.ID)
}

func TestDepositReplayDoesNotChargeTwice(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	input := DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"}

	first, err := env.svc.Wallet.Deposit(context.Background(), input)
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := env.svc.Wallet.Deposit(context.Background(), input)
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if first.Transaction.ID != second.Transaction.ID || second.NewBalance != 10000 {
		t.Fatalf("expected replay to return the original outcome, got %+v", second)
	}
	if len(env.gateway.charges) != 1 {
		t.Fatalf("expected a single charge, got %d", len(env.gateway.charges))
	}
}

func TestDepositReplayOutlivesCard(t *testing.T) {
	tests := []struct {
		name       string
		chargeErr  error
		wantErr    error
		wantStatus domain.TransactionStatus
	}{
		{name: "completed deposit", wantStatus: domain.StatusCompleted},
		{name: "pending deposit", chargeErr: context.DeadlineExceeded, wantErr: ErrProcessingPending, wantStatus: domain.StatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			account := env.openAccount(t, "user_1", 0)
			card := env.addCard(t, account.ID)
			ctx := context.Background()
			if tc.chargeErr != nil {
				env.gateway.chargeResult = nil
				env.gateway.chargeErr = tc.chargeErr
			}
			input := DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"}

			first, err := env.svc.Wallet.Deposit(ctx, input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("first deposit: expected %v, got %v", tc.wantErr, err)
			}
			if err := env.svc.Cards.Remove(ctx, account.ID, card.ID); err != nil {
				t.Fatalf("remove card: %v", err)
			}

			replay, err := env.svc.Wallet.Deposit(ctx, input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("replay: expected %v, got %v", tc.wantErr, err)
			}
			if replay == nil || replay.Transaction.ID != first.Transaction.ID || replay.Transaction.Status != tc.wantStatus {
				t.Fatalf("expected replay of %s, got %+v", first.Transaction.ID, replay)
			}
			if len(env.gateway.charges) != 1 {
				t.Fatalf("expected a single charge, got %d", len(env.gateway.charges))
			}
		})
	}
}

func TestDepositReplayOfExpiredCard(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	ctx := context.Background()
	input := DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"}

	first, err := env.svc.Wallet.Deposit(ctx, input)
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	env.svc.Cards.now = func() time.Time { return time.Now().UTC().AddDate(3, 0, 0) }

	replay, err := env.svc.Wallet.Deposit(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Transaction.ID != first.Transaction.ID || replay.NewBalance != 10000 {
		t.Fatalf("expected original outcome, got %+v", replay)
	}

	input.Reference = "dep-2"
	if _, err := env.svc.Wallet.Deposit(ctx, input); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected new deposit on expired card to be rejected, got %v", err)
	}
}

func TestDepositReplayWithDifferentAmountIsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	ctx := context.Background()

	if _, err := env.svc.Wallet.Deposit(ctx, DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := env.svc.Wallet.Deposit(ctx, DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 20000, Reference: "dep-1"}); !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestDepositDeclineFailsEntry(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	env.gateway.chargeResult = &processor.Result{Status: processor.StatusFailed, Reason: "card declined"}

	result, err := env.svc.Wallet.Deposit(context.Background(), DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"})
	if !errors.Is(err, ErrExternalProcessor) {
		t.Fatalf("expected ErrExternalProcessor, got %v", err)
	}
	if result == nil || result.Transaction.Status != domain.StatusFailed || result.NewBalance != 0 {
		t.Fatalf("expected failed entry and unchanged balance, got %+v", result)
	}
	env.assertAudit(t, account.ID)
}

func TestDepositTimeoutLeavesEntryPending(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	env.gateway.chargeResult = nil
	env.gateway.chargeErr = context.DeadlineExceeded

	result, err := env.svc.Wallet.Deposit(context.Background(), DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 10000, Reference: "dep-1"})
	if !errors.Is(err, ErrProcessingPending) {
		t.Fatalf("expected ErrProcessingPending, got %v", err)
	}
	if result.Transaction.Status != domain.StatusPending || result.NewBalance != 0 {
		t.Fatalf("expected pending entry and unchanged balance, got %+v", result)
	}
}

func TestDepositRejectsUnknownCardAndBounds(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 0)
	card := env.addCard(t, account.ID)
	ctx := context.Background()

	if _, err := env.svc.Wallet.Deposit(ctx, DepositInput{AccountID: account.ID, CardID: uuid.New(), Amount: 10000, Reference: "dep-1"}); !errors.Is(err, store.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if _, err := env.svc.Wallet.Deposit(ctx, DepositInput{AccountID: account.ID, CardID: card.ID, Amount: 99, Reference: "dep-2"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error below minimum, got %v", err)
	}
	if len(env.gateway.charges) != 0 {
		t.Fatalf("expected no charges, got %d", len(env.gateway.charges))
	}
}

func TestWithdrawScenarios(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		wantErr     error
		wantBalance int64
		wantPayouts int
	}{
		{name: "fee deducted with amount", amount: 5000, wantBalance: 4900, wantPayouts: 1},
		{name: "insufficient funds including fee", amount: 20000, wantErr: ErrInsufficientFunds, wantBalance: 10000},
		{name: "below minimum", amount: 500, wantErr: ErrValidation, wantBalance: 10000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			account := env.openAccount(t, "user_1", 10000)

			result, err := env.svc.Wallet.Withdraw(context.Background(), WithdrawInput{
				AccountID:         account.ID,
				BankAccountNumber: "1234567890",
				Amount:            tc.amount,
				Reference:         "wd-1",
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if _, lookupErr := env.svc.Ledger.Lookup(context.Background(), account.ID, "wd-1"); !errors.Is(lookupErr, store.ErrTransactionNotFound) {
					t.Fatalf("expected no entry, got %v", lookupErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if result.NewBalance != tc.wantBalance || result.Message != "Withdrawal successful" {
					t.Fatalf("unexpected result %+v", result)
				}
			}
			if got := env.balance(t, account.ID).Balance; got != tc.wantBalance {
				t.Fatalf("expected balance %d, got %d", tc.wantBalance, got)
			}
			if len(env.gateway.payouts) != tc.wantPayouts {
				t.Fatalf("expected %d payouts, got %d", tc.wantPayouts, len(env.gateway.payouts))
			}
			env.assertAudit(t, account.ID)
		})
	}
}

func TestWithdrawReplayReturnsOriginalOutcome(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	ctx := context.Background()

	first, err := env.svc.Wallet.Withdraw(ctx, WithdrawInput{AccountID: account.ID, BankAccountNumber: "1234567890", Amount: 5000, Reference: "wd-1"})
	if err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}
	replay, err := env.svc.Wallet.Withdraw(ctx, WithdrawInput{AccountID: account.ID, BankAccountNumber: "", Amount: 5000, Reference: "wd-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Transaction.ID != first.Transaction.ID || replay.NewBalance != 4900 {
		t.Fatalf("expected original outcome, got %+v", replay)
	}
	if len(env.gateway.payouts) != 1 {
		t.Fatalf("expected a single payout, got %d", len(env.gateway.payouts))
	}
}

func TestWithdrawRejectedPayoutReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	env.gateway.payoutResult = nil
	env.gateway.payoutErr = &processor.ErrorResponse{StatusCode: 422, Code: "invalid_account", Message: "bank account closed"}

	result, err := env.svc.Wallet.Withdraw(context.Background(), WithdrawInput{AccountID: account.ID, BankAccountNumber: "1234567890", Amount: 5000, Reference: "wd-1"})
	var procErr *ProcessorError
	if !errors.As(err, &procErr) || procErr.Reason != "bank account closed" {
		t.Fatalf("expected processor error with reason, got %v", err)
	}
	if result.Transaction.Status != domain.StatusFailed {
		t.Fatalf("expected failed entry, got %s", result.Transaction.Status)
	}
	balance := env.balance(t, account.ID)
	if balance.Balance != 10000 || balance.Available != 10000 {
		t.Fatalf("expected hold released, got %+v", balance)
	}
}

func TestWithdrawServerErrorKeepsHold(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	env.gateway.payoutResult = nil
	env.gateway.payoutErr = &processor.ErrorResponse{StatusCode: 503}

	_, err := env.svc.Wallet.Withdraw(context.Background(), WithdrawInput{AccountID: account.ID, BankAccountNumber: "1234567890", Amount: 5000, Reference: "wd-1"})
	if !errors.Is(err, ErrProcessingPending) {
		t.Fatalf("expected ErrProcessingPending, got %v", err)
	}
	balance := env.balance(t, account.ID)
	if balance.Balance != 10000 || balance.Available != 4900 {
		t.Fatalf("expected funds to stay held, got %+v", balance)
	}
	env.assertAudit(t, account.ID)
}
