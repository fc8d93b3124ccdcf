/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, request tagging and per-member rate limiting.
 *
 * @dependencies
 * - context, crypto/subtle, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: For member token validation.
 * - github.com/go-chi/chi/v5/middleware: For the request id.
 * - internal/app: For the rate limiter.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stokvel/wallet-service/internal/app"
)

// OwnerIDContextKey is a custom type for the context key to avoid collisions.
type OwnerIDContextKey string

const ownerIDKey OwnerIDContextKey = "ownerID"

const mutationRateWindow = time.Minute

// JWTAuthMiddleware validates HS256 bearer tokens and stores the `sub` claim
// as the wallet owner id. An empty issuer skips the issuer check.
func JWTAuthMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeJSONError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
			if issuer != "" {
				options = append(options, jwt.WithIssuer(issuer))
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if len(key) == 0 {
					return nil, fmt.Errorf("jwt secret not configured")
				}
				return key, nil
			}, options...)
			if err != nil || !token.Valid {
				log.Printf("level=warn component=auth msg=\"token rejected\" err=%v", err)
				writeJSONError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ownerID, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(ownerID) == "" {
				writeJSONError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware guards service-to-service routes with a shared key.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				log.Println("level=error component=auth msg=\"internal api key not configured\"")
				writeJSONError(w, http.StatusServiceUnavailable, "Internal API disabled")
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDHeader echoes chi's request id back to the caller.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware caps requests per owner per minute. Limiter errors let
// the request through.
func RateLimitMiddleware(limiter app.RateLimiter, scope string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, ok := GetOwnerID(r.Context())
			if limiter == nil || limit <= 0 || !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), scope, ownerID, limit, mutationRateWindow)
			if err != nil {
				log.Printf("level=warn component=rate_limit msg=\"rate limiter unavailable; allowing request\" scope=%s owner_id=%s err=%v", scope, ownerID, err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				log.Printf("level=warn component=rate_limit msg=\"request throttled\" scope=%s owner_id=%s count=%d", scope, ownerID, decision.Count)
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests. Please try again shortly.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetOwnerID retrieves the authenticated wallet owner from the request context.
func GetOwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDKey).(string)
	return ownerID, ok
}
