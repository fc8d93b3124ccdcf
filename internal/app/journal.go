package app

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	exportPageSize = 500

	// maxOffset keeps (page-1)*perPage within a 32-bit int.
	maxOffset = math.MaxInt32
)

// JournalQuery selects one page of an account's history.
type JournalQuery struct {
	Page    int
	PerPage int
	Filter  domain.TransactionFilter
}

// JournalPage is one page of history, newest first.
type JournalPage struct {
	Items       []domain.Transaction `json:"transactions"`
	Total       int                  `json:"total"`
	Pages       int                  `json:"pages"`
	CurrentPage int                  `json:"current_page"`
	PerPage     int                  `json:"per_page"`
}

// Journal is the read side of the transaction journal.
type Journal struct {
	repo store.Repository
}

func NewJournal(repo store.Repository) *Journal {
	return &Journal{repo: repo}
}

// clampPage applies the default and maximum page sizes.
func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func validateFilter(filter domain.TransactionFilter) error {
	if filter.Type != "" && !filter.Type.Valid() {
		return invalid("type", "unknown transaction type %q", filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return invalid("status", "unknown status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return invalid("from", "must be before to")
	}
	return nil
}

// List returns one page of the account's journal. Consecutive pages are
// disjoint and together cover every matching entry exactly once.
func (j *Journal) List(ctx context.Context, accountID uuid.UUID, query JournalQuery) (*JournalPage, error) {
	if err := validateFilter(query.Filter); err != nil {
		return nil, err
	}
	page, perPage := clampPage(query.Page, query.PerPage)
	if page-1 > maxOffset/perPage {
		return nil, invalid("page", "must be at most %d", maxOffset/perPage+1)
	}

	items, total, err := j.repo.ListTransactions(ctx, accountID, query.Filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}

	pages := (total + perPage - 1) / perPage
	return &JournalPage{
		Items:       items,
		Total:       total,
		Pages:       pages,
		CurrentPage: page,
		PerPage:     perPage,
	}, nil
}

// Get returns one of the account's entries.
func (j *Journal) Get(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := j.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.AccountID != accountID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

// Export returns every entry created in [from, to), newest first.
func (j *Journal) Export(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.Transaction, error) {
	filter := domain.TransactionFilter{From: &from, To: &to}
	all := make([]domain.Transaction, 0)
	for offset := 0; ; offset += exportPageSize {
		items, total, err := j.repo.ListTransactions(ctx, accountID, filter, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < exportPageSize || offset+len(items) >= total {
			return all, nil
		}
	}
}

// Summary aggregates completed activity since the given time.
func (j *Journal) Summary(ctx context.Context, accountID uuid.UUID, since, until time.Time) (*domain.TransactionSummary, error) {
	txs, err := j.Export(ctx, accountID, since, until)
	if err != nil {
		return nil, err
	}
	summary := &domain.TransactionSummary{}
	for _, tx := range txs {
		summary.Add(tx)
	}
	return summary, nil
}
