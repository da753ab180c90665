package api

import (
	"net/http"
	"strconv"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/models"
)

const defaultMessagePageSize = 50

// handleListMessages handles GET /api/chat/{chatID}/messages?before=&limit=.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}

	limit := defaultMessagePageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = &n
		}
	}

	messages, err := s.Chat.ListMessages(r.Context(), chat.ListMessagesInput{
		ChatID:   chatID,
		ViewerID: claims.UserID,
		Before:   before,
		Limit:    limit,
	})
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content        string           `json:"content"`
	Files          []models.FileRef `json:"files"`
	IdempotencyKey *string          `json:"idempotency_key"`
}

// handleSendMessage handles POST /api/chat/{chatID}/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	msg, err := s.Chat.SendMessage(r.Context(), chat.SendMessageInput{
		ChatID:         chatID,
		SenderID:       claims.UserID,
		Content:        req.Content,
		Files:          req.Files,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	GlobalMetrics.MessagesSentTotal.Add(1)
	apiutil.WriteJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// handleEditMessage handles PATCH /api/chat/{chatID}/messages/{messageID}.
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	messageID, ok := urlULID(w, r, "messageID")
	if !ok {
		return
	}
	var req editMessageRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	msg, err := s.Chat.EditMessage(r.Context(), chatID, messageID, claims.UserID, req.Content)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, msg)
}

// handleDeleteMessage handles DELETE /api/chat/{chatID}/messages/{messageID}.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	messageID, ok := urlULID(w, r, "messageID")
	if !ok {
		return
	}
	if err := s.Chat.DeleteMessage(r.Context(), chatID, messageID, claims.UserID); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}

type markReadRequest struct {
	Seq int64 `json:"seq"`
}

// handleMarkRead handles POST /api/chat/{chatID}/messages/{messageID}/read.
// The sequence number isn't in the URL (spec.md's route only names the
// message), so the client supplies it in the body; it's the Seq on the
// message the read receipt advances to.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	messageID, ok := urlULID(w, r, "messageID")
	if !ok {
		return
	}
	var req markReadRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	if err := s.Chat.MarkRead(r.Context(), chatID, claims.UserID, messageID, req.Seq); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}

// handleTypingStart handles POST /api/chat/{chatID}/typing/start.
func (s *Server) handleTypingStart(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	if err := s.Notify.StartTyping(r.Context(), chatID, claims.UserID); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}

// handleTypingStop handles POST /api/chat/{chatID}/typing/stop.
func (s *Server) handleTypingStop(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	chatID, ok := urlULID(w, r, "chatID")
	if !ok {
		return
	}
	if err := s.Notify.StopTyping(r.Context(), chatID, claims.UserID); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}
