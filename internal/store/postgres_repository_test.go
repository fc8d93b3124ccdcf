package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stokvel/wallet-service/internal/domain"
)

func TestBuildTransactionFilter(t *testing.T) {
	accountID := uuid.New()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	tests := []struct {
		name      string
		filter    domain.TransactionFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "account only",
			filter:    domain.TransactionFilter{},
			wantWhere: "account_id = $1",
			wantArgs:  []any{accountID},
		},
		{
			name:      "type and status",
			filter:    domain.TransactionFilter{Type: domain.TransactionTypeDeposit, Status: domain.StatusPending},
			wantWhere: "account_id = $1 AND type = $2 AND status = $3",
			wantArgs:  []any{accountID, "deposit", "pending"},
		},
		{
			name:      "date range",
			filter:    domain.TransactionFilter{From: &from, To: &to},
			wantWhere: "account_id = $1 AND created_at >= $2 AND created_at < $3",
			wantArgs:  []any{accountID, from, to},
		},
		{
			name:      "status and upper bound keep placeholders dense",
			filter:    domain.TransactionFilter{Status: domain.StatusFailed, To: &to},
			wantWhere: "account_id = $1 AND status = $2 AND created_at < $3",
			wantArgs:  []any{accountID, "failed", to},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildTransactionFilter(accountID, tt.filter)
			if where != tt.wantWhere {
				t.Fatalf("expected where %q, got %q", tt.wantWhere, where)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("expected %d args, got %d: %v", len(tt.wantArgs), len(args), args)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Fatalf("arg %d: expected %v, got %v", i+1, tt.wantArgs[i], args[i])
				}
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	referenceClash := &pgconn.PgError{Code: "23505", ConstraintName: "transactions_account_reference_key"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "matching constraint", err: referenceClash, constraint: "transactions_account_reference_key", want: true},
		{name: "wrapped error", err: fmt.Errorf("insert: %w", referenceClash), constraint: "transactions_account_reference_key", want: true},
		{name: "any constraint", err: referenceClash, constraint: "", want: true},
		{name: "other constraint", err: referenceClash, constraint: "accounts_owner_id_key", want: false},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: "transactions_account_reference_key"}, constraint: "", want: false},
		{name: "not a postgres error", err: errors.New("boom"), constraint: "", want: false},
		{name: "nil", err: nil, constraint: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

type rowStub struct {
	err error
}

func (r rowStub) Scan(dest ...any) error {
	return r.err
}

func TestScannersMapNoRows(t *testing.T) {
	if _, err := scanAccount(rowStub{err: pgx.ErrNoRows}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := scanCard(rowStub{err: pgx.ErrNoRows}); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if _, err := scanTransaction(rowStub{err: pgx.ErrNoRows}); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := scanContribution(rowStub{err: pgx.ErrNoRows}); !errors.Is(err, ErrContributionNotFound) {
		t.Fatalf("expected ErrContributionNotFound, got %v", err)
	}

	boom := errors.New("connection reset")
	if _, err := scanTransaction(rowStub{err: boom}); !errors.Is(err, boom) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected the driver error to pass through, got %v", err)
	}
}

func TestPostgresLedgerTxRequiresLockedAccounts(t *testing.T) {
	locked := domain.Account{ID: uuid.New(), Balance: 1000}
	ltx := &postgresLedgerTx{accounts: map[uuid.UUID]domain.Account{locked.ID: locked}}
	ctx := context.Background()
	stranger := uuid.New()

	if _, err := ltx.Account(stranger); !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("Account: expected ErrAccountNotLocked, got %v", err)
	}
	if err := ltx.UpdateAccountFunds(ctx, stranger, 10, 0); !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("UpdateAccountFunds: expected ErrAccountNotLocked, got %v", err)
	}
	if err := ltx.InsertTransaction(ctx, &domain.Transaction{ID: uuid.New(), AccountID: stranger}); !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("InsertTransaction: expected ErrAccountNotLocked, got %v", err)
	}
	if err := ltx.InsertFeeEntry(ctx, &domain.FeeEntry{ID: uuid.New(), AccountID: stranger}); !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("InsertFeeEntry: expected ErrAccountNotLocked, got %v", err)
	}
	if err := ltx.InsertContribution(ctx, &domain.ContributionRecord{ID: uuid.New(), AccountID: stranger}); !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("InsertContribution: expected ErrAccountNotLocked, got %v", err)
	}

	// Overdrafts are rejected before any SQL runs.
	if err := ltx.UpdateAccountFunds(ctx, locked.ID, 100, 200); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for held above balance, got %v", err)
	}
	if err := ltx.UpdateAccountFunds(ctx, locked.ID, -1, 0); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for a negative balance, got %v", err)
	}
	account, _ := ltx.Account(locked.ID)
	if account.Balance != 1000 {
		t.Fatalf("expected locked snapshot to stay 1000, got %d", account.Balance)
	}
}
