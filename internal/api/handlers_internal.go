package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateAccountHandler opens a wallet for a newly onboarded member. Calling it
// again for the same owner returns the existing wallet with 200.
func (h *WalletHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		Currency string `json:"currency"`
	}
	if !h.decodeBody(w, r, "create_account", &req) {
		return
	}

	account, created, err := h.service.OpenAccount(r.Context(), req.OwnerID, req.Currency)
	if err != nil {
		h.writeServiceError(w, "create_account", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, newAccountResponse(account))
}

// DeactivateAccountHandler freezes a wallet.
func (h *WalletHandlers) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.setAccountActive(w, r, false)
}

// ActivateAccountHandler unfreezes a wallet.
func (h *WalletHandlers) ActivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.setAccountActive(w, r, true)
}

func (h *WalletHandlers) setAccountActive(w http.ResponseWriter, r *http.Request, active bool) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID format")
		return
	}

	account, err := h.service.SetAccountActive(r.Context(), accountID, active)
	if err != nil {
		h.writeServiceError(w, "set_account_active", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// AuditAccountHandler recomputes a wallet's balance from its journal.
func (h *WalletHandlers) AuditAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID format")
		return
	}

	audit, err := h.service.Ledger.Audit(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "audit_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, auditResponse{
		AccountID:       audit.AccountID,
		Balance:         money(audit.Balance),
		ComputedBalance: money(audit.ComputedBalance),
		Held:            money(audit.Held),
		PendingHolds:    money(audit.PendingHolds),
		OK:              audit.OK,
	})
}

// ReconcileHandler runs one reconciliation pass on demand.
func (h *WalletHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Reconciliation is not configured")
		return
	}

	summary, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, "reconcile", err)
		return
	}
	log.Printf("level=info component=api endpoint=reconcile outcome=completed checked=%d settled=%d failed=%d", summary.Checked, summary.Settled, summary.Failed)
	h.writeJSON(w, http.StatusOK, summary)
}
