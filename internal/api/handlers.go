/**
 * @description
 * This file contains the HTTP handlers for the member wallet API. Handlers are
 * responsible for parsing incoming requests, resolving the authenticated owner to
 * their wallet, calling the appropriate methods on the application service, and
 * writing the HTTP response. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * @dependencies
 * - encoding/csv, encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stokvel/wallet-service/internal/app"
	"github.com/stokvel/wallet-service/internal/domain"
	"github.com/stokvel/wallet-service/internal/store"
)

const (
	defaultReportDays = 30
	maxReportDays     = 365
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service    *app.Service
	reconciler *app.Reconciler
	now        func() time.Time
}

// NewWalletHandlers creates a new instance of WalletHandlers. The reconciler
// may be nil, which disables the manual reconcile endpoint.
func NewWalletHandlers(service *app.Service, reconciler *app.Reconciler) *WalletHandlers {
	return &WalletHandlers{
		service:    service,
		reconciler: reconciler,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// resolveAccount maps the authenticated owner to their wallet. It writes the
// error response itself and reports whether the handler may continue.
func (h *WalletHandlers) resolveAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return nil, false
	}

	account, err := h.service.AccountForOwner(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"wallet lookup failed\" owner_id=%s err=%v", ownerID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return account, true
}

// GetBalanceHandler returns the wallet's balance and spendable amount.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	balance, err := h.service.Ledger.Balance(r.Context(), account.ID)
	if err != nil {
		h.writeServiceError(w, "get_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{
		Balance:   money(balance.Balance),
		Available: money(balance.Available),
		Currency:  balance.Currency,
	})
}

// ListTransactionsHandler returns one page of the wallet's history, newest first.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	query, err := parseJournalQuery(r)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}

	page, err := h.service.Journal.List(r.Context(), account.ID, query)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionPageResponse{
		Transactions: newTransactionResponses(page.Items),
		Total:        page.Total,
		Pages:        page.Pages,
		CurrentPage:  page.CurrentPage,
		PerPage:      page.PerPage,
	})
}

// GetTransactionHandler returns one of the wallet's entries.
func (h *WalletHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	tx, err := h.service.Journal.Get(r.Context(), account.ID, transactionID)
	if err != nil {
		h.writeServiceError(w, "get_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

// ExportTransactionsHandler streams the last `days` of history as CSV.
func (h *WalletHandlers) ExportTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	days, err := parseDays(r)
	if err != nil {
		h.writeServiceError(w, "export_transactions", err)
		return
	}
	until := h.now()
	txs, err := h.service.Journal.Export(r.Context(), account.ID, until.AddDate(0, 0, -days), until)
	if err != nil {
		h.writeServiceError(w, "export_transactions", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"transactions-%s.csv\"", until.Format("20060102")))
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"Date", "Type", "Amount", "Fee", "Net Amount", "Status", "Reference", "Description"})
	for _, tx := range txs {
		_ = writer.Write([]string{
			tx.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(tx.Type),
			domain.FormatAmount(tx.Amount),
			domain.FormatAmount(tx.Fee),
			domain.FormatAmount(tx.NetAmount()),
			string(tx.Status),
			tx.Reference,
			tx.Description,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Printf("level=warn component=api endpoint=export_transactions msg=\"csv write failed\" account_id=%s err=%v", account.ID, err)
	}
}

// SummaryHandler aggregates completed activity over the last `days`.
func (h *WalletHandlers) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	days, err := parseDays(r)
	if err != nil {
		h.writeServiceError(w, "summary", err)
		return
	}
	until := h.now()
	since := until.AddDate(0, 0, -days)
	summary, err := h.service.Journal.Summary(r.Context(), account.ID, since, until)
	if err != nil {
		h.writeServiceError(w, "summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaryResponse{
		PeriodDays:         days,
		Since:              since,
		Until:              until,
		TotalDeposits:      money(summary.TotalDeposits),
		TotalWithdrawals:   money(summary.TotalWithdrawals),
		TotalTransfersIn:   money(summary.TotalTransfersIn),
		TotalTransfersOut:  money(summary.TotalTransfersOut),
		TotalContributions: money(summary.TotalContributions),
		TotalFees:          money(summary.TotalFees),
		NetFlow:            money(summary.NetFlow),
		Count:              summary.Count,
	})
}

type addCardRequest struct {
	Cardholder string `json:"cardholder"`
	CardNumber string `json:"cardNumber"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
	Primary    bool   `json:"primary"`
}

// ListCardsHandler returns the wallet's funding cards.
func (h *WalletHandlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	cards, err := h.service.Cards.List(r.Context(), account.ID)
	if err != nil {
		h.writeServiceError(w, "list_cards", err)
		return
	}
	out := make([]cardResponse, 0, len(cards))
	for i := range cards {
		out = append(out, newCardResponse(&cards[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"cards": out})
}

// AddCardHandler validates and stores a new card. Only the last four digits are kept.
func (h *WalletHandlers) AddCardHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req addCardRequest
	if !h.decodeBody(w, r, "add_card", &req) {
		return
	}

	card, err := h.service.Cards.Add(r.Context(), account.ID, app.AddCardInput{
		Holder:  req.Cardholder,
		Number:  req.CardNumber,
		Expiry:  req.Expiry,
		CVV:     req.CVV,
		Primary: req.Primary,
	})
	if err != nil {
		h.writeServiceError(w, "add_card", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newCardResponse(card))
}

// UpdateCardHandler makes a card the wallet's primary card.
func (h *WalletHandlers) UpdateCardHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	cardID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid card ID format")
		return
	}
	var req struct {
		Primary *bool `json:"primary"`
	}
	if !h.decodeBody(w, r, "update_card", &req) {
		return
	}
	if req.Primary == nil || !*req.Primary {
		h.writeError(w, http.StatusBadRequest, "primary: only true is supported")
		return
	}

	card, err := h.service.Cards.SetPrimary(r.Context(), account.ID, cardID)
	if err != nil {
		h.writeServiceError(w, "update_card", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCardResponse(card))
}

// DeleteCardHandler removes a card from the wallet.
func (h *WalletHandlers) DeleteCardHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	cardID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid card ID format")
		return
	}
	if err := h.service.Cards.Remove(r.Context(), account.ID, cardID); err != nil {
		h.writeServiceError(w, "delete_card", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListContributionsHandler returns the wallet's stokvel contributions.
func (h *WalletHandlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	records, err := h.service.Contributions.Contributions(r.Context(), account.ID)
	if err != nil {
		h.writeServiceError(w, "list_contributions", err)
		return
	}
	out := make([]contributionResponse, 0, len(records))
	for i := range records {
		out = append(out, newContributionResponse(&records[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"contributions": out})
}

func parseJournalQuery(r *http.Request) (app.JournalQuery, error) {
	q := r.URL.Query()
	var query app.JournalQuery
	var err error

	if query.Page, err = optionalInt(q.Get("page"), "page"); err != nil {
		return query, err
	}
	if query.PerPage, err = optionalInt(q.Get("per_page"), "per_page"); err != nil {
		return query, err
	}
	query.Filter.Type = domain.TransactionType(strings.TrimSpace(q.Get("type")))
	query.Filter.Status = domain.TransactionStatus(strings.TrimSpace(q.Get("status")))

	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := parseTime(raw, false)
		if err != nil {
			return query, &app.ValidationError{Field: "from", Message: err.Error()}
		}
		query.Filter.From = &from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := parseTime(raw, true)
		if err != nil {
			return query, &app.ValidationError{Field: "to", Message: err.Error()}
		}
		query.Filter.To = &to
	}
	return query, nil
}

func optionalInt(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &app.ValidationError{Field: field, Message: "must be a whole number"}
	}
	return value, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain `to` date
// covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func parseDays(r *http.Request) (int, error) {
	days, err := optionalInt(r.URL.Query().Get("days"), "days")
	if err != nil {
		return 0, err
	}
	if days == 0 {
		return defaultReportDays, nil
	}
	if days < 0 || days > maxReportDays {
		return 0, &app.ValidationError{Field: "days", Message: fmt.Sprintf("must be between 1 and %d", maxReportDays)}
	}
	return days, nil
}

// parseAmount converts a decimal amount from the request into cents.
func parseAmount(value decimal.Decimal) (int64, error) {
	cents, err := domain.ParseAmount(value)
	if err != nil {
		return 0, &app.ValidationError{Field: "amount", Message: err.Error()}
	}
	return cents, nil
}

// requestReference picks the idempotency key: the Idempotency-Key header wins
// over the body's reference.
func requestReference(r *http.Request, bodyReference string) string {
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(bodyReference)
}

func (h *WalletHandlers) decodeBody(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service and store errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a generic 500.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	} else {
		log.Printf("level=warn component=api endpoint=%s outcome=reject status=%d err=%v", endpoint, status, err)
	}
	h.writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	var validationErr *app.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.Is(err, app.ErrNotGroupMember):
		return http.StatusBadRequest, "You are not an active member of this group"
	case errors.Is(err, app.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, app.ErrRecipientNotFound):
		return http.StatusNotFound, "Recipient account not found"
	case errors.Is(err, store.ErrCardNotFound):
		return http.StatusNotFound, "Card not found"
	case errors.Is(err, store.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, app.ErrGroupNotFound):
		return http.StatusNotFound, "Group not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrDuplicateReference):
		return http.StatusConflict, "Reference already used for a different request"
	case errors.Is(err, app.ErrAccountInactive):
		return http.StatusLocked, "Account is not active"
	case errors.Is(err, app.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests. Please try again shortly."
	case errors.Is(err, app.ErrExternalProcessor):
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeJSON is a helper for writing JSON responses.
func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
