// Package auth — middleware.go provides HTTP middleware for extracting and
// validating Bearer tokens from the Authorization header, injecting the
// authenticated claims into the request context for downstream handlers.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/models"
)

type contextKey string

// ContextKeyClaims is the context key for the authenticated request's
// validated access-token claims.
const ContextKeyClaims contextKey = "auth_claims"

// ClaimsFromContext retrieves the authenticated claims from the request
// context. ok is false if the request was not authenticated.
func ClaimsFromContext(ctx context.Context) (models.Claims, bool) {
	c, ok := ctx.Value(ContextKeyClaims).(models.Claims)
	return c, ok
}

// RequireAuth returns middleware that validates the Bearer access token and
// injects its claims into the request context. Requests without a valid
// token receive a 401 with wire code "InvalidToken".
func RequireAuth(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(svc, r)
			if err != nil {
				writeTokenError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that validates a Bearer token if present
// but does not require one. An invalid token is treated the same as a
// missing one: the request proceeds unauthenticated rather than failing.
func OptionalAuth(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := authenticate(svc, r); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(svc *Service, r *http.Request) (models.Claims, error) {
	token := extractBearerToken(r)
	if token == "" {
		return models.Claims{}, models.ErrTokenInvalid
	}
	return svc.VerifyAccess(token)
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	message := models.ErrTokenInvalid.Message
	if errors.Is(err, jwt.ErrTokenExpired) {
		message = "access token has expired"
	}
	apiutil.WriteError(w, r, models.KindUnauthenticated.HTTPStatus(), models.ErrTokenInvalid.WireCode(), message)
}
