package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/domain"
)

type referenceKey struct {
	accountID uuid.UUID
	reference string
}

// MemoryRepository is an in-process Repository used by tests and by
// STORE_DRIVER=memory local runs. Account mutations are serialized with one
// mutex per account; mu only guards the maps themselves.
type MemoryRepository struct {
	mu               sync.RWMutex
	accounts         map[uuid.UUID]domain.Account
	accountsByOwner  map[string]uuid.UUID
	accountsByNumber map[string]uuid.UUID
	cards            map[uuid.UUID]domain.Card
	transactions     map[uuid.UUID]domain.Transaction
	references       map[referenceKey]uuid.UUID
	feeEntries       []domain.FeeEntry
	contributions    map[uuid.UUID]domain.ContributionRecord

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:         make(map[uuid.UUID]domain.Account),
		accountsByOwner:  make(map[string]uuid.UUID),
		accountsByNumber: make(map[string]uuid.UUID),
		cards:            make(map[uuid.UUID]domain.Card),
		transactions:     make(map[uuid.UUID]domain.Transaction),
		references:       make(map[referenceKey]uuid.UUID),
		contributions:    make(map[uuid.UUID]domain.ContributionRecord),
		locks:            make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *MemoryRepository) accountLock(accountID uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[accountID] = lock
	}
	return lock
}

// CreateAccount stores a new account, enforcing owner and number uniqueness.
func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accountsByOwner[account.OwnerID]; ok {
		return ErrAccountExists
	}
	if _, ok := r.accountsByNumber[account.AccountNumber]; ok {
		return ErrDuplicateAccountNumber
	}
	r.accounts[account.ID] = *account
	r.accountsByOwner[account.OwnerID] = account.ID
	r.accountsByNumber[account.AccountNumber] = account.ID
	return nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) FindAccountByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.accountsByOwner[ownerID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.FindAccountByID(ctx, id)
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.accountsByNumber[accountNumber]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.FindAccountByID(ctx, id)
}

func (r *MemoryRepository) SetAccountActive(ctx context.Context, accountID uuid.UUID, active bool) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Active = active
	account.UpdatedAt = time.Now().UTC()
	r.accounts[accountID] = account
	return nil
}

// CreateCard stores a card, demoting the current primary card when the new one is primary.
func (r *MemoryRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	lock := r.accountLock(card.AccountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[card.AccountID]; !ok {
		return ErrAccountNotFound
	}
	if card.IsPrimary {
		r.demotePrimaryLocked(card.AccountID)
	}
	r.cards[card.ID] = *card
	return nil
}

func (r *MemoryRepository) FindCardByID(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[cardID]
	if !ok || card.AccountID != accountID {
		return nil, ErrCardNotFound
	}
	return &card, nil
}

// ListCards returns the account's cards, primary first and then newest first.
func (r *MemoryRepository) ListCards(ctx context.Context, accountID uuid.UUID) ([]domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]domain.Card, 0)
	for _, card := range r.cards {
		if card.AccountID == accountID {
			cards = append(cards, card)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].IsPrimary != cards[j].IsPrimary {
			return cards[i].IsPrimary
		}
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.After(cards[j].CreatedAt)
		}
		return bytes.Compare(cards[i].ID[:], cards[j].ID[:]) > 0
	})
	return cards, nil
}

func (r *MemoryRepository) SetPrimaryCard(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[cardID]
	if !ok || card.AccountID != accountID {
		return nil, ErrCardNotFound
	}
	r.demotePrimaryLocked(accountID)
	card.IsPrimary = true
	r.cards[cardID] = card
	return &card, nil
}

func (r *MemoryRepository) DeleteCard(ctx context.Context, accountID, cardID uuid.UUID) error {
	lock := r.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[cardID]
	if !ok || card.AccountID != accountID {
		return ErrCardNotFound
	}
	delete(r.cards, cardID)
	return nil
}

func (r *MemoryRepository) demotePrimaryLocked(accountID uuid.UUID) {
	for id, card := range r.cards {
		if card.AccountID == accountID && card.IsPrimary {
			card.IsPrimary = false
			r.cards[id] = card
		}
	}
}

// WithinAccounts locks every account in ascending id order, stages fn's writes
// and applies them only if fn succeeds.
func (r *MemoryRepository) WithinAccounts(ctx context.Context, accountIDs []uuid.UUID, fn func(LedgerTx) error) error {
	ids := sortedUniqueIDs(accountIDs)
	for _, id := range ids {
		lock := r.accountLock(id)
		lock.Lock()
		defer lock.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ltx := &memoryLedgerTx{
		repo:      r,
		accounts:  make(map[uuid.UUID]domain.Account, len(ids)),
		inserted:  make(map[uuid.UUID]domain.Transaction),
		finalized: make(map[uuid.UUID]domain.Transaction),
	}
	r.mu.RLock()
	for _, id := range ids {
		account, ok := r.accounts[id]
		if !ok {
			r.mu.RUnlock()
			return ErrAccountNotFound
		}
		ltx.accounts[id] = account
	}
	r.mu.RUnlock()

	if err := fn(ltx); err != nil {
		return err
	}
	ltx.commit()
	return nil
}

func sortedUniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (r *MemoryRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *MemoryRepository) FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.references[referenceKey{accountID: accountID, reference: reference}]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tx := r.transactions[id]
	return &tx, nil
}

func (r *MemoryRepository) FindTransactionsByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.CorrelationID != nil && *tx.CorrelationID == correlationID {
			out = append(out, tx)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListTransactions returns one page of the account's journal, newest first,
// and the total number of entries matching the filter.
func (r *MemoryRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, filter domain.TransactionFilter, limit, offset int) ([]domain.Transaction, int, error) {
	r.mu.RLock()
	matched := make([]domain.Transaction, 0)
	for _, tx := range r.transactions {
		if tx.AccountID == accountID && matchesFilter(tx, filter) {
			matched = append(matched, tx)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Transaction{}, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepository) ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	pending := make([]domain.Transaction, 0)
	for _, tx := range r.transactions {
		if tx.Status == domain.StatusPending && tx.CreatedAt.Before(olderThan) {
			pending = append(pending, tx)
		}
	}
	r.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *MemoryRepository) ComputeLedgerTotals(ctx context.Context, accountID uuid.UUID) (*LedgerTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	totals := &LedgerTotals{}
	for _, tx := range r.transactions {
		if tx.AccountID != accountID {
			continue
		}
		switch {
		case tx.Status == domain.StatusCompleted:
			totals.CompletedEffects += tx.SignedEffect()
		case tx.Status == domain.StatusPending && tx.Type == domain.TransactionTypeWithdrawal:
			totals.PendingHolds += tx.Amount + tx.Fee
		}
	}
	return totals, nil
}

func (r *MemoryRepository) FindContributionByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.ContributionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.contributions[transactionID]
	if !ok {
		return nil, ErrContributionNotFound
	}
	return &record, nil
}

func (r *MemoryRepository) ListContributions(ctx context.Context, accountID uuid.UUID) ([]domain.ContributionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ContributionRecord, 0)
	for _, record := range r.contributions {
		if record.AccountID == accountID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FeeEntries returns the recorded fee line items for an account.
func (r *MemoryRepository) FeeEntries(accountID uuid.UUID) []domain.FeeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.FeeEntry
	for _, entry := range r.feeEntries {
		if entry.AccountID == accountID {
			out = append(out, entry)
		}
	}
	return out
}

func matchesFilter(tx domain.Transaction, filter domain.TransactionFilter) bool {
	if filter.Type != "" && tx.Type != filter.Type {
		return false
	}
	if filter.Status != "" && tx.Status != filter.Status {
		return false
	}
	if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !tx.CreatedAt.Before(*filter.To) {
		return false
	}
	return true
}

func sortNewestFirst(txs []domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return bytes.Compare(txs[i].ID[:], txs[j].ID[:]) > 0
	})
}

type memoryLedgerTx struct {
	repo          *MemoryRepository
	accounts      map[uuid.UUID]domain.Account
	dirty         []uuid.UUID
	inserted      map[uuid.UUID]domain.Transaction
	insertOrder   []uuid.UUID
	finalized     map[uuid.UUID]domain.Transaction
	feeEntries    []domain.FeeEntry
	contributions []domain.ContributionRecord
}

func (t *memoryLedgerTx) Account(accountID uuid.UUID) (*domain.Account, error) {
	account, ok := t.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotLocked
	}
	return &account, nil
}

func (t *memoryLedgerTx) UpdateAccountFunds(ctx context.Context, accountID uuid.UUID, balance, held int64) error {
	account, ok := t.accounts[accountID]
	if !ok {
		return ErrAccountNotLocked
	}
	if err := checkFunds(accountID, balance, held); err != nil {
		return err
	}
	account.Balance = balance
	account.Held = held
	account.UpdatedAt = time.Now().UTC()
	t.accounts[accountID] = account
	t.dirty = append(t.dirty, accountID)
	return nil
}

func (t *memoryLedgerTx) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	if tx, ok := t.finalized[transactionID]; ok {
		return &tx, nil
	}
	if tx, ok := t.inserted[transactionID]; ok {
		return &tx, nil
	}
	return t.repo.FindTransactionByID(ctx, transactionID)
}

func (t *memoryLedgerTx) FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	for _, id := range t.insertOrder {
		tx := t.inserted[id]
		if tx.AccountID == accountID && tx.Reference == reference {
			return t.FindTransactionByID(ctx, id)
		}
	}
	tx, err := t.repo.FindTransactionByReference(ctx, accountID, reference)
	if err != nil {
		return nil, err
	}
	return t.FindTransactionByID(ctx, tx.ID)
}

func (t *memoryLedgerTx) SumAmountSince(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, since time.Time) (int64, error) {
	var total int64
	counted := make(map[uuid.UUID]struct{})
	add := func(tx domain.Transaction) {
		if _, ok := counted[tx.ID]; ok {
			return
		}
		counted[tx.ID] = struct{}{}
		if tx.AccountID == accountID && tx.Type == txType && tx.Status != domain.StatusFailed && !tx.CreatedAt.Before(since) {
			total += tx.Amount
		}
	}
	for _, tx := range t.finalized {
		add(tx)
	}
	for _, tx := range t.inserted {
		add(tx)
	}
	t.repo.mu.RLock()
	for _, tx := range t.repo.transactions {
		add(tx)
	}
	t.repo.mu.RUnlock()
	return total, nil
}

func (t *memoryLedgerTx) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, ok := t.accounts[tx.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	if _, err := t.FindTransactionByReference(ctx, tx.AccountID, tx.Reference); err == nil {
		return ErrDuplicateReference
	}
	t.inserted[tx.ID] = *tx
	t.insertOrder = append(t.insertOrder, tx.ID)
	return nil
}

func (t *memoryLedgerTx) FinalizeTransaction(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus, completedAt time.Time, failureReason *string) error {
	tx, err := t.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if _, ok := t.accounts[tx.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	if tx.Status != domain.StatusPending {
		return ErrTransactionNotPending
	}
	at := completedAt
	tx.Status = status
	tx.CompletedAt = &at
	tx.FailureReason = failureReason
	if _, ok := t.inserted[transactionID]; ok {
		t.inserted[transactionID] = *tx
		return nil
	}
	t.finalized[transactionID] = *tx
	return nil
}

func (t *memoryLedgerTx) InsertFeeEntry(ctx context.Context, entry *domain.FeeEntry) error {
	if _, ok := t.accounts[entry.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	t.feeEntries = append(t.feeEntries, *entry)
	return nil
}

func (t *memoryLedgerTx) InsertContribution(ctx context.Context, record *domain.ContributionRecord) error {
	if _, ok := t.accounts[record.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	t.contributions = append(t.contributions, *record)
	return nil
}

func (t *memoryLedgerTx) commit() {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range t.dirty {
		r.accounts[id] = t.accounts[id]
	}
	for _, id := range t.insertOrder {
		tx := t.inserted[id]
		r.transactions[id] = tx
		r.references[referenceKey{accountID: tx.AccountID, reference: tx.Reference}] = id
	}
	for id, tx := range t.finalized {
		r.transactions[id] = tx
	}
	r.feeEntries = append(r.feeEntries, t.feeEntries...)
	for _, record := range t.contributions {
		r.contributions[record.TransactionID] = record
	}
}
