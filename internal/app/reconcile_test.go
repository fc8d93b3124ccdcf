package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/pkg/processor"
)

func TestReconcilerResolvesPendingEntries(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	ctx := context.Background()

	clock := time.Now().UTC()
	env.svc.Ledger.now = func() time.Time { return clock }

	open := func(reference string, amount int64) *domain.Transaction {
		tx, err := env.svc.Ledger.Open(ctx, LedgerEntry{AccountID: account.ID, Type: domain.TransactionTypeDeposit, Amount: amount, Reference: reference})
		if err != nil {
			t.Fatalf("open %s: %v", reference, err)
		}
		return tx
	}
	settled := open("dep-ok", 1000)
	declined := open("dep-declined", 2000)
	waiting := open("dep-waiting", 3000)
	unknown := open("dep-unknown", 4000)
	reserved, err := env.svc.Ledger.Reserve(ctx, LedgerEntry{AccountID: account.ID, Type: domain.TransactionTypeWithdrawal, Amount: 5000, Fee: 100, Reference: "wd-ok"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	env.gateway.statuses[settled.ID.String()] = &processor.Result{Status: processor.StatusSucceeded}
	env.gateway.statuses[declined.ID.String()] = &processor.Result{Status: processor.StatusFailed, Reason: "do not honour"}
	env.gateway.statuses[waiting.ID.String()] = &processor.Result{Status: processor.StatusPending}
	env.gateway.statuses[reserved.ID.String()] = &processor.Result{Status: processor.StatusSucceeded}

	reconciler := NewReconciler(env.repo, env.svc.Ledger, env.gateway, ReconcileOptions{})

	summary, err := reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Checked != 0 {
		t.Fatalf("expected fresh entries to be left alone, got %+v", summary)
	}

	clock = clock.Add(5 * time.Minute)
	summary, err = reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Checked != 5 || summary.Settled != 2 || summary.Failed != 2 || summary.StillPending != 1 || summary.Errors != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	for _, tc := range []struct {
		tx   *domain.Transaction
		want domain.TransactionStatus
	}{
		{settled, domain.StatusCompleted},
		{declined, domain.StatusFailed},
		{waiting, domain.StatusPending},
		{unknown, domain.StatusFailed},
		{reserved, domain.StatusCompleted},
	} {
		stored, _ := env.repo.FindTransactionByID(ctx, tc.tx.ID)
		if stored.Status != tc.want {
			t.Fatalf("expected %s to be %s, got %s", stored.Reference, tc.want, stored.Status)
		}
	}

	balance := env.balance(t, account.ID)
	if balance.Balance != 10000+1000-5100 || balance.Available != balance.Balance {
		t.Fatalf("unexpected balance after reconciliation %+v", balance)
	}
	env.assertAudit(t, account.ID)
}

func TestSchedulerRunsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	reconciler := NewReconciler(env.repo, env.svc.Ledger, env.gateway, ReconcileOptions{BatchSize: 10000})
	if reconciler.opts.BatchSize != maxReconcileBatchSize {
		t.Fatalf("expected batch size clamp to %d, got %d", maxReconcileBatchSize, reconciler.opts.BatchSize)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := NewScheduler(reconciler, "", logger)
	if scheduler.schedule != DefaultReconcileSchedule {
		t.Fatalf("expected default schedule, got %q", scheduler.schedule)
	}
	scheduler.ReconcilePending()

	bad := NewScheduler(reconciler, "not a schedule", logger)
	if err := bad.Start(); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}
