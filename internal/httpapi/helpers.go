package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/models"
)

// mustClaims fetches the authenticated caller's claims from the request
// context, writing a 401 and returning false if somehow absent (the
// RequireAuth middleware guarantees this never happens on a route that
// uses it, but handlers stay defensive rather than panic on a context miss).
func mustClaims(w http.ResponseWriter, r *http.Request) (models.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		apiutil.WriteError(w, r, http.StatusUnauthorized, models.ErrTokenInvalid.WireCode(), "authentication required")
		return models.Claims{}, false
	}
	return claims, true
}

// urlULID parses the named chi URL parameter as a ULID, writing a 400 and
// returning false on a malformed value.
func urlULID(w http.ResponseWriter, r *http.Request, name string) (models.ULID, bool) {
	raw := chi.URLParam(r, name)
	id, err := models.ParseULID(raw)
	if err != nil {
		apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", name+" is not a valid identifier")
		return models.ULID{}, false
	}
	return id, true
}
