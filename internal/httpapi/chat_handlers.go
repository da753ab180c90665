package api

import (
	"net/http"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/models"
)

// handleListChats handles GET /api/workspace/chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chats, err := s.Chat.ListChats(r.Context(), claims.WorkspaceID, claims.UserID)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, chats)
}

type createChatRequest struct {
	Kind      models.ChatKind `json:"kind"`
	Name      *string         `json:"name"`
	MemberIDs []string        `json:"member_ids"`
}

// handleCreateChat handles POST /api/workspace/chats.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	memberIDs := make([]models.ULID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := models.ParseULID(raw)
		if err != nil {
			apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "member_ids contains an invalid identifier")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	created, err := s.Chat.CreateChat(r.Context(), chat.CreateChatInput{
		WorkspaceID: claims.WorkspaceID,
		CreatorID:   claims.UserID,
		Kind:        req.Kind,
		Name:        req.Name,
		MemberIDs:   memberIDs,
	})
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, created)
}

// handleGetChat handles GET /api/chat/{chatID}.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	summary, err := s.Chat.GetChat(r.Context(), chatID, claims.UserID)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, summary)
}

type updateChatRequest struct {
	Name *string `json:"name"`
}

// handleUpdateChat handles PATCH /api/chat/{chatID}.
func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	var req updateChatRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	updated, err := s.Chat.UpdateChat(r.Context(), chat.UpdateChatInput{
		ChatID:  chatID,
		ActorID: claims.UserID,
		Name:    req.Name,
	})
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, updated)
}

// handleDeleteChat handles DELETE /api/chat/{chatID}.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	if err := s.Chat.DeleteChat(r.Context(), chatID, claims.UserID); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}

// handleListMembers handles GET /api/chat/{chatID}/members. Membership
// doubles as a view, so reuse GetChat's authorization rather than exposing
// a separate members table scan.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	summary, err := s.Chat.GetChat(r.Context(), chatID, claims.UserID)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, summary)
}

type addMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// handleAddMembers handles POST /api/chat/{chatID}/members.
func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	var req addMembersRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	memberIDs := make([]models.ULID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := models.ParseULID(raw)
		if err != nil {
			apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "member_ids contains an invalid identifier")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	if err := s.Chat.AddMembers(r.Context(), chatID, claims.UserID, memberIDs); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}
