// Package middleware provides HTTP middleware for the fundwatch API.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/civicwatch/fundwatch/internal/auth"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// AuthMiddleware verifies bearer tokens and stores the resulting claims in
// the request context. Missing, malformed, invalid and expired tokens all
// answer 401.
type AuthMiddleware struct {
	issuer *auth.Issuer
	log    *logger.Logger
}

// NewAuthMiddleware creates an authentication middleware.
func NewAuthMiddleware(issuer *auth.Issuer, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{issuer: issuer, log: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondError(w, errors.Unauthorized("Missing Authorization header."))
			return
		}
		tokenString, ok := auth.FromHeader(header)
		if !ok {
			respondError(w, errors.Unauthorized("Invalid Authorization header format."))
			return
		}

		claims, err := m.issuer.Verify(tokenString)
		if err != nil {
			m.log.WithContext(r.Context()).WithError(err).Warn("token verification failed")
			respondError(w, err)
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = logger.WithUser(ctx, claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError writes the standard error envelope for an error produced
// before a handler runs.
func respondError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": svcErr.Message,
	})
}
