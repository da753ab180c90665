package api

import (
	"net/http"
	"strings"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/models"
)

// handleSSE handles GET /api/events. Browsers can't set an Authorization
// header on an EventSource connection, so the access token may arrive via
// either the header or an access_token query parameter; both are verified
// the same way before the stream opens.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		apiutil.WriteError(w, r, http.StatusUnauthorized, models.ErrTokenInvalid.WireCode(), "authentication required")
		return
	}

	claims, err := s.Auth.VerifyAccess(token)
	if err != nil {
		apiutil.WriteError(w, r, http.StatusUnauthorized, models.ErrTokenInvalid.WireCode(), "access token is invalid or expired")
		return
	}

	GlobalMetrics.SSEConnectionsTotal.Add(1)
	GlobalMetrics.SSEConnectionsCurr.Add(1)
	defer GlobalMetrics.SSEConnectionsCurr.Add(-1)

	if err := s.Notify.ServeSSE(w, r, claims.UserID); err != nil {
		s.Logger.Warn("sse connection ended with error", "user_id", claims.UserID.String(), "error", err)
	}
}

// handleOnlineUsers handles GET /api/online-users, returning a presence
// snapshot of the caller's workspace.
func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	online, err := s.Notify.OnlineUsers(r.Context(), claims.WorkspaceID)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"online_user_ids": online})
}

func bearerToken(r *http.Request) string {
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
