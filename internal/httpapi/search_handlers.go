package api

import (
	"net/http"
	"strconv"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/models"
	"github.com/fechatter/fechatter/internal/search"
)

const defaultSearchLimit = 20

// handleSearchMessages handles GET /api/search/messages?q=&chat_id=&limit=.
func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		apiutil.WriteError(w, r, http.StatusServiceUnavailable, "upstream_unavailable", "search is not configured")
		return
	}
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var chatID models.ULID
	if raw := r.URL.Query().Get("chat_id"); raw != "" {
		id, err := models.ParseULID(raw)
		if err != nil {
			apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "chat_id is not a valid identifier")
			return
		}
		chatID = id
	}

	results, err := s.Search.SearchMessages(r.Context(), search.SearchInput{
		ViewerID: claims.UserID,
		Query:    query,
		Limit:    limit,
		ChatID:   chatID,
	})
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, results)
}
