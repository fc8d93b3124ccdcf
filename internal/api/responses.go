package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/stokvel/wallet-service/internal/app"
	"github.com/stokvel/wallet-service/internal/domain"
)

// money renders cents as a JSON number in major units, e.g. 1234.50.
type money int64

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(domain.FormatAmount(int64(m))), nil
}

type balanceResponse struct {
	Balance   money  `json:"balance"`
	Available money  `json:"available"`
	Currency  string `json:"currency"`
}

type transactionResponse struct {
	ID                    uuid.UUID                `json:"id"`
	Type                  domain.TransactionType   `json:"type"`
	Amount                money                    `json:"amount"`
	Fee                   money                    `json:"fee"`
	NetAmount             money                    `json:"net_amount"`
	Status                domain.TransactionStatus `json:"status"`
	Reference             string                   `json:"reference"`
	Description           string                   `json:"description"`
	CounterpartyAccountID *uuid.UUID               `json:"counterparty_account_id,omitempty"`
	CardID                *uuid.UUID               `json:"card_id,omitempty"`
	BankAccountNumber     *string                  `json:"bank_account_number,omitempty"`
	GroupID               *string                  `json:"group_id,omitempty"`
	FailureReason         *string                  `json:"failure_reason,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
	CompletedAt           *time.Time               `json:"completed_at,omitempty"`
}

func newTransactionResponse(tx *domain.Transaction) *transactionResponse {
	if tx == nil {
		return nil
	}
	return &transactionResponse{
		ID:                    tx.ID,
		Type:                  tx.Type,
		Amount:                money(tx.Amount),
		Fee:                   money(tx.Fee),
		NetAmount:             money(tx.NetAmount()),
		Status:                tx.Status,
		Reference:             tx.Reference,
		Description:           tx.Description,
		CounterpartyAccountID: tx.CounterpartyAccountID,
		CardID:                tx.CardID,
		BankAccountNumber:     tx.BankAccountNumber,
		GroupID:               tx.GroupID,
		FailureReason:         tx.FailureReason,
		CreatedAt:             tx.CreatedAt,
		CompletedAt:           tx.CompletedAt,
	}
}

func newTransactionResponses(txs []domain.Transaction) []*transactionResponse {
	out := make([]*transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionResponse(&txs[i]))
	}
	return out
}

type transactionPageResponse struct {
	Transactions []*transactionResponse `json:"transactions"`
	Total        int                    `json:"total"`
	Pages        int                    `json:"pages"`
	CurrentPage  int                    `json:"current_page"`
	PerPage      int                    `json:"per_page"`
}

// walletResponse is returned by every money mutation. Error is only set when
// the attempt was recorded but did not succeed.
type walletResponse struct {
	Message     string               `json:"message"`
	NewBalance  money                `json:"new_balance"`
	Transaction *transactionResponse `json:"transaction"`
	Error       string               `json:"error,omitempty"`
}

func newWalletResponse(result *app.WalletResult) walletResponse {
	return walletResponse{
		Message:     result.Message,
		NewBalance:  money(result.NewBalance),
		Transaction: newTransactionResponse(result.Transaction),
	}
}

type cardResponse struct {
	ID           uuid.UUID       `json:"id"`
	HolderName   string          `json:"holder_name"`
	Last4        string          `json:"last4"`
	MaskedNumber string          `json:"masked_number"`
	CardType     domain.CardType `json:"card_type"`
	Expiry       string          `json:"expiry"`
	IsPrimary    bool            `json:"is_primary"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newCardResponse(card *domain.Card) cardResponse {
	return cardResponse{
		ID:           card.ID,
		HolderName:   card.HolderName,
		Last4:        card.Last4,
		MaskedNumber: card.MaskedNumber(),
		CardType:     card.CardType,
		Expiry:       card.Expiry(),
		IsPrimary:    card.IsPrimary,
		CreatedAt:    card.CreatedAt,
	}
}

type contributionResponse struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	GroupID       string    `json:"group_id"`
	Amount        money     `json:"amount"`
	Fee           money     `json:"fee"`
	CreatedAt     time.Time `json:"created_at"`
}

func newContributionResponse(record *domain.ContributionRecord) contributionResponse {
	return contributionResponse{
		ID:            record.ID,
		TransactionID: record.TransactionID,
		GroupID:       record.GroupID,
		Amount:        money(record.Amount),
		Fee:           money(record.Fee),
		CreatedAt:     record.CreatedAt,
	}
}

type summaryResponse struct {
	PeriodDays         int       `json:"period_days"`
	Since              time.Time `json:"since"`
	Until              time.Time `json:"until"`
	TotalDeposits      money     `json:"total_deposits"`
	TotalWithdrawals   money     `json:"total_withdrawals"`
	TotalTransfersIn   money     `json:"total_transfers_in"`
	TotalTransfersOut  money     `json:"total_transfers_out"`
	TotalContributions money     `json:"total_contributions"`
	TotalFees          money     `json:"total_fees"`
	NetFlow            money     `json:"net_flow"`
	Count              int       `json:"count"`
}

type accountResponse struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"owner_id"`
	AccountNumber string    `json:"account_number"`
	Balance       money     `json:"balance"`
	Available     money     `json:"available"`
	Currency      string    `json:"currency"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

func newAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{
		ID:            account.ID,
		OwnerID:       account.OwnerID,
		AccountNumber: account.AccountNumber,
		Balance:       money(account.Balance),
		Available:     money(account.Available()),
		Currency:      account.Currency,
		Active:        account.Active,
		CreatedAt:     account.CreatedAt,
	}
}

type auditResponse struct {
	AccountID       uuid.UUID `json:"account_id"`
	Balance         money     `json:"balance"`
	ComputedBalance money     `json:"computed_balance"`
	Held            money     `json:"held"`
	PendingHolds    money     `json:"pending_holds"`
	OK              bool      `json:"ok"`
}
