package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
)

func seedAccount(t *testing.T, repo *MemoryRepository, owner, number string, balance int64) *domain.Account {
	t.Helper()
	now := time.Now().UTC()
	account := &domain.Account{
		ID:            uuid.New(),
		OwnerID:       owner,
		AccountNumber: number,
		Balance:       balance,
		Currency:      "ZAR",
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func pendingTx(accountID uuid.UUID, reference string, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      domain.TransactionTypeDeposit,
		Amount:    amount,
		Status:    domain.StatusPending,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryRepositoryCreateAccountRejectsDuplicates(t *testing.T) {
	repo := NewMemoryRepository()
	seedAccount(t, repo, "user_1", "1234567890", 0)

	dupOwner := &domain.Account{ID: uuid.New(), OwnerID: "user_1", AccountNumber: "1111111111"}
	if err := repo.CreateAccount(context.Background(), dupOwner); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	dupNumber := &domain.Account{ID: uuid.New(), OwnerID: "user_2", AccountNumber: "1234567890"}
	if err := repo.CreateAccount(context.Background(), dupNumber); !errors.Is(err, ErrDuplicateAccountNumber) {
		t.Fatalf("expected ErrDuplicateAccountNumber, got %v", err)
	}
}

func TestMemoryRepositoryWithinAccountsDiscardsWritesOnError(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 1000)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		if err := ltx.UpdateAccountFunds(ctx, account.ID, 5000, 0); err != nil {
			return err
		}
		if err := ltx.InsertTransaction(ctx, pendingTx(account.ID, "ref-1", 4000)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	stored, _ := repo.FindAccountByID(ctx, account.ID)
	if stored.Balance != 1000 {
		t.Fatalf("expected balance to stay 1000, got %d", stored.Balance)
	}
	if _, err := repo.FindTransactionByReference(ctx, account.ID, "ref-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected staged transaction to be discarded, got %v", err)
	}
}

func TestMemoryRepositoryRejectsDuplicateReferenceAndUnlockedWrites(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 0)
	other := seedAccount(t, repo, "user_2", "0987654321", 0)
	ctx := context.Background()

	err := repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		return ltx.InsertTransaction(ctx, pendingTx(account.ID, "ref-1", 100))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		return ltx.InsertTransaction(ctx, pendingTx(account.ID, "ref-1", 100))
	})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	err = repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		return ltx.InsertTransaction(ctx, pendingTx(other.ID, "ref-2", 100))
	})
	if !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("expected ErrAccountNotLocked, got %v", err)
	}
}

func TestMemoryRepositoryFinalizeIsOneWay(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 0)
	ctx := context.Background()
	tx := pendingTx(account.ID, "ref-1", 100)

	_ = repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		return ltx.InsertTransaction(ctx, tx)
	})

	finalize := func(status domain.TransactionStatus) error {
		return repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
			return ltx.FinalizeTransaction(ctx, tx.ID, status, time.Now().UTC(), nil)
		})
	}

	if err := finalize(domain.StatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := finalize(domain.StatusFailed); !errors.Is(err, ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending, got %v", err)
	}

	stored, _ := repo.FindTransactionByID(ctx, tx.ID)
	if stored.Status != domain.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("expected completed entry with completed_at, got %+v", stored)
	}
}

func TestMemoryRepositoryUpdateAccountFundsRejectsNegative(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 100)
	ctx := context.Background()

	err := repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		return ltx.UpdateAccountFunds(ctx, account.ID, 100, 150)
	})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestMemoryRepositoryPrimaryCardIsExclusive(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 0)
	ctx := context.Background()

	first := &domain.Card{ID: uuid.New(), AccountID: account.ID, Last4: "1111", IsPrimary: true, CreatedAt: time.Now().UTC()}
	second := &domain.Card{ID: uuid.New(), AccountID: account.ID, Last4: "2222", IsPrimary: true, CreatedAt: time.Now().UTC().Add(time.Second)}
	if err := repo.CreateCard(ctx, first); err != nil {
		t.Fatalf("create first card: %v", err)
	}
	if err := repo.CreateCard(ctx, second); err != nil {
		t.Fatalf("create second card: %v", err)
	}

	cards, _ := repo.ListCards(ctx, account.ID)
	if len(cards) != 2 || cards[0].ID != second.ID || !cards[0].IsPrimary || cards[1].IsPrimary {
		t.Fatalf("expected second card to be the only primary, got %+v", cards)
	}

	if _, err := repo.SetPrimaryCard(ctx, account.ID, first.ID); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	cards, _ = repo.ListCards(ctx, account.ID)
	if cards[0].ID != first.ID || !cards[0].IsPrimary || cards[1].IsPrimary {
		t.Fatalf("expected first card to be the only primary, got %+v", cards)
	}

	if err := repo.DeleteCard(ctx, uuid.New(), first.ID); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound for foreign account, got %v", err)
	}
	if !errors.Is(ErrCardNotFound, ErrNotFound) {
		t.Fatal("expected card not found to match ErrNotFound")
	}
}

func TestMemoryRepositoryListTransactionsBounds(t *testing.T) {
	repo := NewMemoryRepository()
	account := seedAccount(t, repo, "user_1", "1234567890", 0)
	ctx := context.Background()

	err := repo.WithinAccounts(ctx, []uuid.UUID{account.ID}, func(ltx LedgerTx) error {
		for _, ref := range []string{"ref-1", "ref-2", "ref-3"} {
			if err := ltx.InsertTransaction(ctx, pendingTx(account.ID, ref, 100)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	tests := []struct {
		name          string
		limit, offset int
		wantItems     int
	}{
		{name: "first page", limit: 2, offset: 0, wantItems: 2},
		{name: "negative offset starts at zero", limit: 2, offset: -20, wantItems: 2},
		{name: "past the end", limit: 2, offset: 10, wantItems: 0},
		{name: "huge limit", limit: int(^uint(0) >> 1), offset: 1, wantItems: 2},
		{name: "huge offset", limit: 10, offset: int(^uint(0) >> 1), wantItems: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, total, err := repo.ListTransactions(ctx, account.ID, domain.TransactionFilter{}, tc.limit, tc.offset)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != 3 || len(items) != tc.wantItems {
				t.Fatalf("expected total 3 and %d items, got total %d and %d items", tc.wantItems, total, len(items))
			}
		})
	}
}
