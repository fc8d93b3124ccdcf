package app

import (
	"context"
	"log"
	"time"

	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/pkg/rabbitmq"
)

const (
	RoutingKeyTransactionCompleted  = "wallet.transaction.completed"
	RoutingKeyTransactionFailed     = "wallet.transaction.failed"
	RoutingKeyTransferCompleted     = "wallet.transfer.completed"
	RoutingKeyContributionConfirmed = "contribution.confirmed"

	publishTimeout = 5 * time.Second
)

// EventPublisher publishes ledger events. Events are best-effort: the journal
// is authoritative, so publish failures are logged and never returned.
type EventPublisher struct {
	producer rabbitmq.Publisher
	exchange string
}

// NewEventPublisher wraps a producer. A nil producer falls back to the no-op publisher.
func NewEventPublisher(producer rabbitmq.Publisher, exchange string) *EventPublisher {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &EventPublisher{producer: producer, exchange: exchange}
}

func (p *EventPublisher) publish(routingKey string, body interface{}) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.producer.Publish(ctx, p.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=events msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// TransactionFinalized announces a journal entry reaching a terminal status.
func (p *EventPublisher) TransactionFinalized(tx *domain.Transaction) {
	if tx == nil || !tx.Status.Terminal() {
		return
	}
	event := domain.TransactionEvent{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Type:          tx.Type,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Reference:     tx.Reference,
		OccurredAt:    time.Now().UTC(),
	}
	if tx.FailureReason != nil {
		event.FailureReason = *tx.FailureReason
	}
	routingKey := RoutingKeyTransactionCompleted
	if tx.Status == domain.StatusFailed {
		routingKey = RoutingKeyTransactionFailed
	}
	p.publish(routingKey, event)
}

func (p *EventPublisher) TransferCompleted(out, in *domain.Transaction) {
	if out == nil || in == nil || out.CorrelationID == nil {
		return
	}
	p.publish(RoutingKeyTransferCompleted, domain.TransferEvent{
		CorrelationID:      *out.CorrelationID,
		SenderAccountID:    out.AccountID,
		RecipientAccountID: in.AccountID,
		Amount:             out.Amount,
		Description:        out.Description,
		OccurredAt:         time.Now().UTC(),
	})
}

func (p *EventPublisher) ContributionConfirmed(record *domain.ContributionRecord, ownerID string) {
	if record == nil {
		return
	}
	p.publish(RoutingKeyContributionConfirmed, domain.ContributionEvent{
		ContributionID: record.ID,
		TransactionID:  record.TransactionID,
		AccountID:      record.AccountID,
		OwnerID:        ownerID,
		GroupID:        record.GroupID,
		Amount:         record.Amount,
		OccurredAt:     time.Now().UTC(),
	})
}
