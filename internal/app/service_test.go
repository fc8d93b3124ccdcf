package app

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

type collidingRepo struct {
	*store.MemoryRepository
	collisions int
}

func (r *collidingRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	if r.collisions > 0 {
		r.collisions--
		return store.ErrDuplicateAccountNumber
	}
	return r.MemoryRepository.CreateAccount(ctx, account)
}

func TestOpenAccountIsIdempotentPerOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, created, err := env.svc.OpenAccount(ctx, "user_1", "")
	if err != nil || !created {
		t.Fatalf("expected new account, got created=%t err=%v", created, err)
	}
	if account.Currency != "ZAR" || !account.Active || account.Balance != 0 {
		t.Fatalf("unexpected account %+v", account)
	}
	number, err := strconv.ParseInt(account.AccountNumber, 10, 64)
	if err != nil || len(account.AccountNumber) != 10 || number < accountNumberMin {
		t.Fatalf("expected 10-digit account number, got %q", account.AccountNumber)
	}

	again, created, err := env.svc.OpenAccount(ctx, "user_1", "")
	if err != nil || created || again.ID != account.ID {
		t.Fatalf("expected existing account, got %+v created=%t err=%v", again, created, err)
	}

	if _, _, err := env.svc.OpenAccount(ctx, " ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty owner, got %v", err)
	}
	if _, _, err := env.svc.OpenAccount(ctx, "user_2", "RANDS"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad currency, got %v", err)
	}
}

func TestOpenAccountRetriesNumberCollisions(t *testing.T) {
	repo := &collidingRepo{MemoryRepository: store.NewMemoryRepository(), collisions: 3}
	svc := NewService(repo, newGatewayStub(), &groupsStub{}, nil, Options{})

	account, created, err := svc.OpenAccount(context.Background(), "user_1", "")
	if err != nil || !created {
		t.Fatalf("expected account after collisions, got %v", err)
	}
	if repo.collisions != 0 {
		t.Fatalf("expected every collision to be retried, %d left", repo.collisions)
	}
	if account.Currency != DefaultCurrency {
		t.Fatalf("expected default currency, got %s", account.Currency)
	}

	repo.collisions = accountNumberAttempts
	if _, _, err := svc.OpenAccount(context.Background(), "user_2", ""); err == nil {
		t.Fatal("expected an error once every attempt collides")
	}
}
