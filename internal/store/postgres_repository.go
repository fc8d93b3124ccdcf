/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for accounts, cards, the transaction journal, fee line items
 * and contribution records.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stokvel/wallet-service/internal/domain"
)

const (
	accountColumns     = `id, owner_id, account_number, balance, held, currency, active, created_at, updated_at`
	cardColumns        = `id, account_id, holder_name, last4, card_type, expiry_month, expiry_year, is_primary, created_at`
	transactionColumns = `id, account_id, type, amount, fee, status, reference, counterparty_account_id, correlation_id,
		card_id, bank_account_number, group_id, description, failure_reason, created_at, completed_at`
	contributionColumns = `id, transaction_id, account_id, group_id, amount, fee, created_at`

	uniqueViolation = "23505"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both the pool and an open pgx transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.OwnerID,
		&account.AccountNumber,
		&account.Balance,
		&account.Held,
		&account.Currency,
		&account.Active,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var card domain.Card
	var cardType string
	err := row.Scan(
		&card.ID,
		&card.AccountID,
		&card.HolderName,
		&card.Last4,
		&cardType,
		&card.ExpiryMonth,
		&card.ExpiryYear,
		&card.IsPrimary,
		&card.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	card.CardType = domain.CardType(cardType)
	return &card, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status string
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&txType,
		&tx.Amount,
		&tx.Fee,
		&status,
		&tx.Reference,
		&tx.CounterpartyAccountID,
		&tx.CorrelationID,
		&tx.CardID,
		&tx.BankAccountNumber,
		&tx.GroupID,
		&tx.Description,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

func scanContribution(row rowScanner) (*domain.ContributionRecord, error) {
	var record domain.ContributionRecord
	err := row.Scan(
		&record.ID,
		&record.TransactionID,
		&record.AccountID,
		&record.GroupID,
		&record.Amount,
		&record.Fee,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return &record, nil
}

// CreateAccount inserts a new wallet account.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, account_number, balance, held, currency, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.OwnerID,
		account.AccountNumber,
		account.Balance,
		account.Held,
		account.Currency,
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err, "accounts_owner_id_key"):
		return ErrAccountExists
	case isUniqueViolation(err, "accounts_account_number_key"):
		return ErrDuplicateAccountNumber
	case err != nil:
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

func (r *PostgresRepository) FindAccountByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID))
}

func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber))
}

func (r *PostgresRepository) SetAccountActive(ctx context.Context, accountID uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET active = $2, updated_at = NOW() WHERE id = $1`, accountID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// withAccountRowLock runs fn in a transaction holding the account row lock,
// which is how card mutations serialize per account.
func (r *PostgresRepository) withAccountRowLock(ctx context.Context, accountID uuid.UUID, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	// Use FOR UPDATE to lock the row, preventing races on the primary flag.
	err = tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateCard inserts a card. A primary card demotes the previous primary in the same transaction.
func (r *PostgresRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	return r.withAccountRowLock(ctx, card.AccountID, func(tx pgx.Tx) error {
		if card.IsPrimary {
			if _, err := tx.Exec(ctx, `UPDATE cards SET is_primary = FALSE WHERE account_id = $1 AND is_primary`, card.AccountID); err != nil {
				return err
			}
		}
		query := `
			INSERT INTO cards (` + cardColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.Exec(ctx, query,
			card.ID,
			card.AccountID,
			card.HolderName,
			card.Last4,
			string(card.CardType),
			card.ExpiryMonth,
			card.ExpiryYear,
			card.IsPrimary,
			card.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) FindCardByID(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	return scanCard(r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 AND account_id = $2`, cardID, accountID))
}

func (r *PostgresRepository) ListCards(ctx context.Context, accountID uuid.UUID) ([]domain.Card, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE account_id = $1
		ORDER BY is_primary DESC, created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := make([]domain.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

func (r *PostgresRepository) SetPrimaryCard(ctx context.Context, accountID, cardID uuid.UUID) (*domain.Card, error) {
	var card *domain.Card
	err := r.withAccountRowLock(ctx, accountID, func(tx pgx.Tx) error {
		var err error
		card, err = scanCard(tx.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 AND account_id = $2`, cardID, accountID))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE cards SET is_primary = FALSE WHERE account_id = $1 AND is_primary AND id <> $2`, accountID, cardID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE cards SET is_primary = TRUE WHERE id = $1`, cardID); err != nil {
			return err
		}
		card.IsPrimary = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (r *PostgresRepository) DeleteCard(ctx context.Context, accountID, cardID uuid.UUID) error {
	return r.withAccountRowLock(ctx, accountID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM cards WHERE id = $1 AND account_id = $2`, cardID, accountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCardNotFound
		}
		return nil
	})
}

// WithinAccounts opens a transaction and locks every account row with a single
// ordered SELECT ... FOR UPDATE, so concurrent callers always lock in the same order.
func (r *PostgresRepository) WithinAccounts(ctx context.Context, accountIDs []uuid.UUID, fn func(LedgerTx) error) error {
	ids := sortedUniqueIDs(accountIDs)
	idStrings := make([]string, 0, len(ids))
	for _, id := range ids {
		idStrings = append(idStrings, id.String())
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, idStrings)
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	locked := make(map[uuid.UUID]domain.Account, len(ids))
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			rows.Close()
			return scanErr
		}
		locked[account.ID] = *account
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(locked) != len(ids) {
		return ErrAccountNotFound
	}

	if err := fn(&postgresLedgerTx{tx: tx, accounts: locked}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return findTransactionByID(ctx, r.db, transactionID)
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	return findTransactionByReference(ctx, r.db, accountID, reference)
}

func findTransactionByID(ctx context.Context, q querier, transactionID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
}

func findTransactionByReference(ctx context.Context, q querier, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	return scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 AND reference = $2`, accountID, reference))
}

func (r *PostgresRepository) FindTransactionsByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE correlation_id = $1
		ORDER BY created_at DESC, id DESC
	`, correlationID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// buildTransactionFilter renders the WHERE clause shared by the list and count queries.
func buildTransactionFilter(accountID uuid.UUID, filter domain.TransactionFilter) (string, []any) {
	clauses := []string{"account_id = $1"}
	args := []any{accountID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// ListTransactions returns one page of the account's journal and the total count.
// The (created_at, id) ordering is total, so pages never overlap or skip rows.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, filter domain.TransactionFilter, limit, offset int) ([]domain.Transaction, int, error) {
	where, args := buildTransactionFilter(accountID, filter)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, transactionColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (r *PostgresRepository) ListPendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *PostgresRepository) ComputeLedgerTotals(ctx context.Context, accountID uuid.UUID) (*LedgerTotals, error) {
	if _, err := r.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	totals := &LedgerTotals{}
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE
				WHEN status = 'completed' AND type IN ('deposit', 'transfer_in') THEN amount
				WHEN status = 'completed' THEN -(amount + fee)
				ELSE 0
			END), 0),
			COALESCE(SUM(CASE
				WHEN status = 'pending' AND type = 'withdrawal' THEN amount + fee
				ELSE 0
			END), 0)
		FROM transactions
		WHERE account_id = $1
	`, accountID).Scan(&totals.CompletedEffects, &totals.PendingHolds)
	if err != nil {
		return nil, fmt.Errorf("compute ledger totals: %w", err)
	}
	return totals, nil
}

func (r *PostgresRepository) FindContributionByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.ContributionRecord, error) {
	return scanContribution(r.db.QueryRow(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE transaction_id = $1`, transactionID))
}

func (r *PostgresRepository) ListContributions(ctx context.Context, accountID uuid.UUID) ([]domain.ContributionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ContributionRecord, 0)
	for rows.Next() {
		record, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// postgresLedgerTx is the LedgerTx backed by an open pgx transaction.
type postgresLedgerTx struct {
	tx       pgx.Tx
	accounts map[uuid.UUID]domain.Account
}

func (t *postgresLedgerTx) Account(accountID uuid.UUID) (*domain.Account, error) {
	account, ok := t.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotLocked
	}
	return &account, nil
}

func (t *postgresLedgerTx) UpdateAccountFunds(ctx context.Context, accountID uuid.UUID, balance, held int64) error {
	account, ok := t.accounts[accountID]
	if !ok {
		return ErrAccountNotLocked
	}
	if err := checkFunds(accountID, balance, held); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2, held = $3, updated_at = NOW() WHERE id = $1`, accountID, balance, held)
	if err != nil {
		return fmt.Errorf("update account funds: %w", err)
	}
	account.Balance = balance
	account.Held = held
	t.accounts[accountID] = account
	return nil
}

func (t *postgresLedgerTx) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return findTransactionByID(ctx, t.tx, transactionID)
}

func (t *postgresLedgerTx) FindTransactionByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.Transaction, error) {
	return findTransactionByReference(ctx, t.tx, accountID, reference)
}

func (t *postgresLedgerTx) SumAmountSince(ctx context.Context, accountID uuid.UUID, txType domain.TransactionType, since time.Time) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1 AND type = $2 AND status <> 'failed' AND created_at >= $3
	`, accountID, string(txType), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return total, nil
}

func (t *postgresLedgerTx) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, ok := t.accounts[tx.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := t.tx.Exec(ctx, query,
		tx.ID,
		tx.AccountID,
		string(tx.Type),
		tx.Amount,
		tx.Fee,
		string(tx.Status),
		tx.Reference,
		tx.CounterpartyAccountID,
		tx.CorrelationID,
		tx.CardID,
		tx.BankAccountNumber,
		tx.GroupID,
		tx.Description,
		tx.FailureReason,
		tx.CreatedAt,
		tx.CompletedAt,
	)
	if isUniqueViolation(err, "transactions_account_reference_key") {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// FinalizeTransaction moves a pending entry to a terminal status. Terminal
// entries are never touched again.
func (t *postgresLedgerTx) FinalizeTransaction(ctx context.Context, transactionID uuid.UUID, status domain.TransactionStatus, completedAt time.Time, failureReason *string) error {
	var accountID uuid.UUID
	err := t.tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, completed_at = $3, failure_reason = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING account_id
	`, transactionID, string(status), completedAt, failureReason).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, findErr := findTransactionByID(ctx, t.tx, transactionID); findErr != nil {
			return findErr
		}
		return ErrTransactionNotPending
	}
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if _, ok := t.accounts[accountID]; !ok {
		return ErrAccountNotLocked
	}
	return nil
}

func (t *postgresLedgerTx) InsertFeeEntry(ctx context.Context, entry *domain.FeeEntry) error {
	if _, ok := t.accounts[entry.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fee_entries (id, transaction_id, account_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.TransactionID, entry.AccountID, string(entry.Kind), entry.Amount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fee entry: %w", err)
	}
	return nil
}

func (t *postgresLedgerTx) InsertContribution(ctx context.Context, record *domain.ContributionRecord) error {
	if _, ok := t.accounts[record.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO contributions (`+contributionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.ID, record.TransactionID, record.AccountID, record.GroupID, record.Amount, record.Fee, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}
