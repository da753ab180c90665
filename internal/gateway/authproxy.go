package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/models"
)

// refreshHeader carries the opaque refresh token for gateway-level silent
// refresh; kept out of the Authorization header since that slot is reserved
// for the access token the upstream itself will validate.
const refreshHeader = "X-Refresh-Token"

// authenticate validates the request's bearer token, transparently rotating
// it via s.auth.Refresh when it is merely expired and a refresh token is
// present. On success it sets the new access/refresh tokens on the response
// so the client can persist them, and returns claims for header injection.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (models.Claims, bool) {
	token := extractBearerToken(r)
	if token != "" {
		claims, err := s.auth.VerifyAccess(token)
		if err == nil {
			return claims, true
		}
		if !isExpiredToken(err) {
			apiutil.WriteError(w, r, models.KindUnauthenticated.HTTPStatus(), models.ErrTokenInvalid.WireCode(), models.ErrTokenInvalid.Message)
			return models.Claims{}, false
		}
	}

	refreshToken := r.Header.Get(refreshHeader)
	if refreshToken == "" {
		apiutil.WriteError(w, r, models.KindUnauthenticated.HTTPStatus(), models.ErrTokenInvalid.WireCode(), models.ErrTokenInvalid.Message)
		return models.Claims{}, false
	}

	pair, err := s.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		apiutil.WriteError(w, r, models.KindUnauthenticated.HTTPStatus(), models.ErrTokenInvalid.WireCode(), "refresh token is invalid or has been revoked")
		return models.Claims{}, false
	}

	claims, err := s.auth.VerifyAccess(pair.AccessToken)
	if err != nil {
		apiutil.WriteError(w, r, models.KindInternal.HTTPStatus(), "Internal", "issued access token failed self-verification")
		return models.Claims{}, false
	}

	w.Header().Set("X-New-Access-Token", pair.AccessToken)
	w.Header().Set("X-New-Refresh-Token", pair.RefreshToken)
	r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	return claims, true
}

func isExpiredToken(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

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
