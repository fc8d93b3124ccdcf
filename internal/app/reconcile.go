package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
	"github.com/stokvel/wallet-service/pkg/processor"
)

const (
	DefaultReconcileMinAge    = 2 * time.Minute
	DefaultReconcileAlertAge  = 24 * time.Hour
	DefaultReconcileBatchSize = 100
	maxReconcileBatchSize     = 500

	processorNoRecordReason = "processor_has_no_record"
)

// ReconcileOptions tunes the reconciliation pass.
type ReconcileOptions struct {
	MinAge    time.Duration
	AlertAge  time.Duration
	BatchSize int
}

// ReconcileSummary counts what one pass did.
type ReconcileSummary struct {
	Checked      int `json:"checked"`
	Settled      int `json:"settled"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

// Reconciler asks the processor about deposits and withdrawals left pending
// by a timeout and settles or fails them.
type Reconciler struct {
	repo      store.Repository
	ledger    *Ledger
	processor processor.Gateway
	opts      ReconcileOptions
	running   sync.Mutex
}

func NewReconciler(repo store.Repository, ledger *Ledger, gateway processor.Gateway, opts ReconcileOptions) *Reconciler {
	if opts.MinAge <= 0 {
		opts.MinAge = DefaultReconcileMinAge
	}
	if opts.AlertAge <= 0 {
		opts.AlertAge = DefaultReconcileAlertAge
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultReconcileBatchSize
	}
	if opts.BatchSize > maxReconcileBatchSize {
		opts.BatchSize = maxReconcileBatchSize
	}
	return &Reconciler{repo: repo, ledger: ledger, processor: gateway, opts: opts}
}

func processorKind(txType domain.TransactionType) (processor.Kind, bool) {
	switch txType {
	case domain.TransactionTypeDeposit:
		return processor.KindCharge, true
	case domain.TransactionTypeWithdrawal:
		return processor.KindPayout, true
	default:
		return "", false
	}
}

// Run performs one pass. Overlapping passes are skipped rather than queued.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{}
	if !r.running.TryLock() {
		log.Printf("level=info component=reconciler msg=\"pass already running; skipping\"")
		return summary, nil
	}
	defer r.running.Unlock()

	now := r.ledger.now()
	pending, err := r.repo.ListPendingTransactions(ctx, now.Add(-r.opts.MinAge), r.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		tx := &pending[i]
		kind, ok := processorKind(tx.Type)
		if !ok {
			continue
		}
		summary.Checked++
		r.reconcileOne(ctx, tx, kind, now, summary)
	}

	if summary.Checked > 0 {
		log.Printf("level=info component=reconciler msg=\"pass finished\" checked=%d settled=%d failed=%d still_pending=%d errors=%d",
			summary.Checked, summary.Settled, summary.Failed, summary.StillPending, summary.Errors)
	}
	return summary, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, tx *domain.Transaction, kind processor.Kind, now time.Time, summary *ReconcileSummary) {
	result, err := r.processor.Status(ctx, kind, tx.ID.String())

	var errResp *processor.ErrorResponse
	switch {
	case err == nil && result.Status == processor.StatusSucceeded:
		_, err = r.ledger.Settle(ctx, tx.ID)
		if err == nil {
			summary.Settled++
		}
	case err == nil && result.Status == processor.StatusFailed:
		_, err = r.ledger.Fail(ctx, tx.ID, result.Reason)
		if err == nil {
			summary.Failed++
		}
	case errors.As(err, &errResp) && errResp.NotFound():
		_, err = r.ledger.Fail(ctx, tx.ID, processorNoRecordReason)
		if err == nil {
			summary.Failed++
		}
	case err == nil:
		summary.StillPending++
		if age := now.Sub(tx.CreatedAt); age >= r.opts.AlertAge {
			log.Printf("level=error component=reconciler msg=\"transaction pending past alert age; needs manual review\" transaction_id=%s account_id=%s type=%s age=%s",
				tx.ID, tx.AccountID, tx.Type, age.Truncate(time.Second))
		}
		return
	}

	if err != nil && !errors.Is(err, store.ErrTransactionNotPending) {
		summary.Errors++
		log.Printf("level=warn component=reconciler msg=\"reconcile failed\" transaction_id=%s type=%s err=%v", tx.ID, tx.Type, err)
	}
}
