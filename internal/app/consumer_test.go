package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

type failingLookupRepo struct {
	store.Repository
}

func (failingLookupRepo) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return nil, context.DeadlineExceeded
}

func settlementPayload(t *testing.T, event domain.SettlementEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestSettlementConsumerFinalizesPendingEntries(t *testing.T) {
	env := newTestEnv(t)
	account := env.openAccount(t, "user_1", 10000)
	ctx := context.Background()
	consumer := NewSettlementConsumer(env.repo, env.svc.Ledger)

	deposit, err := env.svc.Ledger.Open(ctx, LedgerEntry{AccountID: account.ID, Type: domain.TransactionTypeDeposit, Amount: 5000, Fee: 200, Reference: "dep-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	withdrawal, err := env.svc.Ledger.Reserve(ctx, LedgerEntry{AccountID: account.ID, Type: domain.TransactionTypeWithdrawal, Amount: 2000, Fee: 40, Reference: "wd-1"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if !consumer.HandleMessage(settlementPayload(t, domain.SettlementEvent{EventID: "e1", TransactionID: deposit.ID.String(), Status: "successful"})) {
		t.Fatal("expected deposit event to be acked")
	}
	if !consumer.HandleMessage(settlementPayload(t, domain.SettlementEvent{EventID: "e2", TransactionID: withdrawal.ID.String(), Status: "declined", Reason: "account closed"})) {
		t.Fatal("expected withdrawal event to be acked")
	}

	balance := env.balance(t, account.ID)
	if balance.Balance != 15000 || balance.Available != 15000 {
		t.Fatalf("expected deposit settled and hold released, got %+v", balance)
	}
	stored, _ := env.repo.FindTransactionByID(ctx, withdrawal.ID)
	if stored.Status != domain.StatusFailed || *stored.FailureReason != "account closed" {
		t.Fatalf("expected failed withdrawal with reason, got %+v", stored)
	}

	// A late contradicting event must not reverse the settled deposit.
	if !consumer.HandleMessage(settlementPayload(t, domain.SettlementEvent{EventID: "e3", TransactionID: deposit.ID.String(), Status: "failed"})) {
		t.Fatal("expected contradicting replay to be acked")
	}
	if got := env.balance(t, account.ID).Balance; got != 15000 {
		t.Fatalf("expected balance unchanged by replay, got %d", got)
	}
	env.assertAudit(t, account.ID)
}

func TestSettlementConsumerAcksUnusableEvents(t *testing.T) {
	env := newTestEnv(t)
	consumer := NewSettlementConsumer(env.repo, env.svc.Ledger)

	tests := map[string][]byte{
		"malformed json":      []byte("{"),
		"missing id":          settlementPayload(t, domain.SettlementEvent{Status: "successful"}),
		"unknown transaction": settlementPayload(t, domain.SettlementEvent{TransactionID: uuid.NewString(), Status: "successful"}),
		"processing status":   settlementPayload(t, domain.SettlementEvent{TransactionID: uuid.NewString(), Status: "processing"}),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if !consumer.HandleMessage(body) {
				t.Fatal("expected message to be acked")
			}
		})
	}
}

func TestSettlementConsumerRequeuesTransientErrors(t *testing.T) {
	consumer := NewSettlementConsumer(failingLookupRepo{}, nil)
	body := settlementPayload(t, domain.SettlementEvent{TransactionID: uuid.NewString(), Status: "successful"})
	if consumer.HandleMessage(body) {
		t.Fatal("expected transient store error to nack the message")
	}
}
