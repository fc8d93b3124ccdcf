package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const settlementHandleTimeout = 15 * time.Second

// SettlementConsumer finishes pending deposits and withdrawals from the
// processor's settlement events.
type SettlementConsumer struct {
	repo   store.Repository
	ledger *Ledger
}

func NewSettlementConsumer(repo store.Repository, ledger *Ledger) *SettlementConsumer {
	return &SettlementConsumer{repo: repo, ledger: ledger}
}

// HandleMessage returns false only for failures worth redelivering.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	rawID := strings.TrimSpace(event.TransactionID)
	if rawID == "" {
		rawID = strings.TrimSpace(event.Reference)
	}
	transactionID, err := uuid.Parse(rawID)
	if err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"event without a usable transaction id\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), settlementHandleTimeout)
	defer cancel()

	if err := c.processEvent(ctx, transactionID, event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"processing error\" event_id=%s transaction_id=%s err=%v", event.EventID, transactionID, err)
		return false
	}
	return true
}

func (c *SettlementConsumer) processEvent(ctx context.Context, transactionID uuid.UUID, event domain.SettlementEvent) error {
	tx, err := c.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=warn component=settlement_consumer msg=\"no transaction for event; acknowledging\" event_id=%s transaction_id=%s", event.EventID, transactionID)
			return nil
		}
		return fmt.Errorf("lookup transaction: %w", err)
	}
	if tx.Type != domain.TransactionTypeDeposit && tx.Type != domain.TransactionTypeWithdrawal {
		log.Printf("level=warn component=settlement_consumer msg=\"event for a transaction the processor does not settle\" transaction_id=%s type=%s", tx.ID, tx.Type)
		return nil
	}

	switch normalizeStatus(event.Status) {
	case domain.StatusCompleted:
		_, err = c.ledger.Settle(ctx, tx.ID)
	case domain.StatusFailed:
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "declined by processor"
		}
		_, err = c.ledger.Fail(ctx, tx.ID, reason)
	default:
		return nil
	}

	if errors.Is(err, store.ErrTransactionNotPending) {
		log.Printf("level=warn component=settlement_consumer msg=\"event contradicts final status; ignoring\" transaction_id=%s status=%s event_status=%s", tx.ID, tx.Status, event.Status)
		return nil
	}
	return err
}

func normalizeStatus(status string) domain.TransactionStatus {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "succeeded", "successful", "success", "completed":
		return domain.StatusCompleted
	case "failed", "failure", "declined", "reversed":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}
