/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the member
 * wallet API, the internal service-to-service API, and applies the middleware each
 * surface needs (JWT auth, internal key auth, CORS, per-member rate limiting).
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the mobile and web clients.
 */

package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/stokvel/wallet-service/internal/app"
)

const mutationRateScope = "wallet_mutation"

// RouterConfig carries the auth and throttling settings for the router.
type RouterConfig struct {
	JWTSecret      string
	JWTIssuer      string
	InternalAPIKey string
	CORSOrigins    []string
	RateLimiter    app.RateLimiter
	MutationLimit  int
}

// WalletRoutes creates and returns the router for the wallet service.
func WalletRoutes(h *WalletHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestIDHeader)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// Credentials are only shared with explicitly listed origins.
	allowCredentials := !slices.Contains(origins, "*")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api/wallet", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))

		r.Get("/balance", h.GetBalanceHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/export", h.ExportTransactionsHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)
		r.Get("/summary", h.SummaryHandler)
		r.Get("/cards", h.ListCardsHandler)
		r.Get("/contributions", h.ListContributionsHandler)

		// Everything that writes is throttled per member.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, mutationRateScope, cfg.MutationLimit))

			r.Post("/cards", h.AddCardHandler)
			r.Put("/cards/{id}", h.UpdateCardHandler)
			r.Delete("/cards/{id}", h.DeleteCardHandler)
			r.Post("/deposit", h.DepositHandler)
			r.Post("/withdraw", h.WithdrawHandler)
			r.Post("/transfer", h.TransferHandler)
			r.Post("/groups/{groupID}/contributions", h.ContributeHandler)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/accounts/{id}/deactivate", h.DeactivateAccountHandler)
		r.Post("/accounts/{id}/activate", h.ActivateAccountHandler)
		r.Get("/accounts/{id}/audit", h.AuditAccountHandler)
		r.Post("/reconcile", h.ReconcileHandler)
	})

	return r
}
