package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stokvel/wallet-service/internal/app"
	"github.com/stokvel/wallet-service/internal/domain"
)

const missingReferenceMessage = "Idempotency-Key header or reference is required"

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	CardID      string          `json:"card_id"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

type withdrawRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	BankAccountNumber string          `json:"bank_account_number"`
	Description       string          `json:"description"`
	Reference         string          `json:"reference"`
}

type transferRequest struct {
	Amount                 decimal.Decimal `json:"amount"`
	RecipientAccountNumber string          `json:"recipient_account_number"`
	Description            string          `json:"description"`
	Reference              string          `json:"reference"`
}

type contributeRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// DepositHandler charges a saved card and credits the wallet.
func (h *WalletHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if !h.decodeBody(w, r, "deposit", &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}
	cardID, err := uuid.Parse(strings.TrimSpace(req.CardID))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "card_id: must be a valid card id")
		return
	}
	reference := requestReference(r, req.Reference)
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, missingReferenceMessage)
		return
	}

	log.Printf("level=info component=api endpoint=deposit outcome=accepted account_id=%s card_id=%s amount=%d", account.ID, cardID, amount)
	result, err := h.service.Wallet.Deposit(r.Context(), app.DepositInput{
		AccountID:   account.ID,
		CardID:      cardID,
		Amount:      amount,
		Description: req.Description,
		Reference:   reference,
	})
	h.writeWalletResult(w, "deposit", result, err)
}

// WithdrawHandler pays out to a bank account.
func (h *WalletHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !h.decodeBody(w, r, "withdraw", &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, "withdraw", err)
		return
	}
	reference := requestReference(r, req.Reference)
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, missingReferenceMessage)
		return
	}

	log.Printf("level=info component=api endpoint=withdraw outcome=accepted account_id=%s amount=%d", account.ID, amount)
	result, err := h.service.Wallet.Withdraw(r.Context(), app.WithdrawInput{
		AccountID:         account.ID,
		BankAccountNumber: strings.TrimSpace(req.BankAccountNumber),
		Amount:            amount,
		Description:       req.Description,
		Reference:         reference,
	})
	h.writeWalletResult(w, "withdraw", result, err)
}

// TransferHandler moves money to another wallet by account number.
func (h *WalletHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !h.decodeBody(w, r, "transfer", &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}
	reference := requestReference(r, req.Reference)
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, missingReferenceMessage)
		return
	}

	log.Printf("level=info component=api endpoint=transfer outcome=accepted account_id=%s amount=%d", account.ID, amount)
	transfer, err := h.service.Transfers.Transfer(r.Context(), app.TransferInput{
		SenderAccountID:        account.ID,
		RecipientAccountNumber: strings.TrimSpace(req.RecipientAccountNumber),
		Amount:                 amount,
		Description:            req.Description,
		Reference:              reference,
	})
	if transfer == nil || transfer.SenderTx == nil {
		h.writeWalletResult(w, "transfer", nil, err)
		return
	}

	message := "Transfer successful"
	if transfer.SenderTx.Status == domain.StatusFailed {
		message = "Transfer failed"
	}
	balance, balanceErr := h.service.Ledger.Balance(r.Context(), account.ID)
	if balanceErr != nil {
		h.writeServiceError(w, "transfer", balanceErr)
		return
	}
	h.writeWalletResult(w, "transfer", &app.WalletResult{
		Message:     message,
		NewBalance:  balance.Balance,
		Transaction: transfer.SenderTx,
	}, err)
}

// ContributeHandler pays the member's contribution into a stokvel group.
func (h *WalletHandlers) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	var req contributeRequest
	if !h.decodeBody(w, r, "contribute", &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, "contribute", err)
		return
	}
	reference := requestReference(r, req.Reference)
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, missingReferenceMessage)
		return
	}

	log.Printf("level=info component=api endpoint=contribute outcome=accepted account_id=%s group_id=%s amount=%d", account.ID, groupID, amount)
	result, err := h.service.Contributions.Contribute(r.Context(), app.ContributeInput{
		AccountID:   account.ID,
		OwnerID:     account.OwnerID,
		GroupID:     groupID,
		Amount:      amount,
		Description: req.Description,
		Reference:   reference,
	})
	if err != nil {
		h.writeServiceError(w, "contribute", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      result.Message,
		"new_balance":  money(result.NewBalance),
		"contribution": newContributionResponse(result.Contribution),
	})
}

// writeWalletResult writes a mutation's outcome. Attempts that were recorded
// but did not complete still return the stored entry alongside the error.
func (h *WalletHandlers) writeWalletResult(w http.ResponseWriter, endpoint string, result *app.WalletResult, err error) {
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, newWalletResponse(result))
	case result == nil:
		h.writeServiceError(w, endpoint, err)
	case errors.Is(err, app.ErrProcessingPending):
		h.writeJSON(w, http.StatusAccepted, newWalletResponse(result))
	default:
		status, message := statusFor(err)
		log.Printf("level=warn component=api endpoint=%s outcome=failed status=%d transaction_id=%s err=%v", endpoint, status, result.Transaction.ID, err)
		response := newWalletResponse(result)
		response.Error = message
		h.writeJSON(w, status, response)
	}
}
