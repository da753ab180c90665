package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
	"github.com/fechatter/fechatter/internal/permissions"
)

// CreateChatInput is the request payload for CreateChat.
type CreateChatInput struct {
	WorkspaceID models.ULID
	CreatorID   models.ULID
	Kind        models.ChatKind
	Name        *string
	MemberIDs   []models.ULID // other members; the creator is always included as Owner
}

// CreateChat creates a chat and its initial membership in one transaction.
// MemberIDs plus the creator must form a valid cardinality for Kind.
func (s *Service) CreateChat(ctx context.Context, in CreateChatInput) (models.Chat, error) {
	total := len(in.MemberIDs) + 1
	if !permissions.ValidMembership(in.Kind, total) {
		return models.Chat{}, models.ErrInvalidMembership
	}

	chat := models.Chat{
		ID:          models.NewULID(),
		WorkspaceID: in.WorkspaceID,
		Kind:        in.Kind,
		Name:        in.Name,
		CreatedBy:   in.CreatorID,
	}

	allMembers := append([]models.ULID{in.CreatorID}, in.MemberIDs...)

	err := apiutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.requireSameWorkspace(ctx, tx, in.WorkspaceID, allMembers); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO chats (id, workspace_id, kind, name, created_by) VALUES ($1, $2, $3, $4, $5)`,
			chat.ID.String(), chat.WorkspaceID.String(), string(chat.Kind), chat.Name, chat.CreatedBy.String(),
		)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}

		for _, uid := range allMembers {
			role := models.MemberRoleMember
			if uid == in.CreatorID {
				role = models.MemberRoleOwner
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)`,
				chat.ID.String(), uid.String(), string(role),
			); err != nil {
				return fmt.Errorf("insert chat member %s: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Chat{}, err
	}

	for _, uid := range allMembers {
		s.publishMemberEvent(eventbus.SubjectMemberJoined, chat.ID, uid)
	}

	return chat, nil
}

// requireSameWorkspace fails with models.ErrNotInWorkspace unless every
// member already belongs to workspaceID.
func (s *Service) requireSameWorkspace(ctx context.Context, tx pgx.Tx, workspaceID models.ULID, memberIDs []models.ULID) error {
	ids := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		ids[i] = id.String()
	}
	var count int
	err := tx.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE workspace_id = $1 AND id = ANY($2)`,
		workspaceID.String(), ids,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check workspace membership: %w", err)
	}
	if count != len(memberIDs) {
		return models.ErrNotInWorkspace
	}
	return nil
}

// GetChat loads a chat and authorizes viewerID to view it.
func (s *Service) GetChat(ctx context.Context, chatID, viewerID models.ULID) (models.ChatSummary, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return models.ChatSummary{}, err
	}

	membership, err := s.loadMembership(ctx, chatID, viewerID)
	if err != nil {
		return models.ChatSummary{}, err
	}
	actor := permissions.Actor{UserID: viewerID, Membership: membership}
	if !permissions.Can(actor, chat.Kind, permissions.ActionViewChat) {
		return models.ChatSummary{}, models.ErrPermissionDenied
	}

	role := models.MemberRoleMember
	if membership != nil {
		role = membership.Role
	}
	return models.ChatSummary{Chat: chat, ViewerRole: role}, nil
}

// ListChats returns every chat viewerID belongs to within workspaceID, plus
// every PublicChannel in the workspace the viewer hasn't joined yet (public
// channels are viewable by any workspace member per permissions.Can, so they
// must be listed even absent a chat_members row). Cache-aside with a short
// TTL; a cache error or miss falls through to Postgres transparently.
func (s *Service) ListChats(ctx context.Context, workspaceID, viewerID models.ULID) ([]models.ChatSummary, error) {
	cacheKey := listChatsCacheKey(workspaceID, viewerID)

	if s.cache != nil {
		var cached []models.ChatSummary
		if s.cache.GetJSON(ctx, cacheKey, &cached) {
			return cached, nil
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.workspace_id, c.kind, c.name, c.created_by, c.created_at, cm.role,
		        (SELECT max(created_at) FROM messages WHERE chat_id = c.id AND deleted_at IS NULL)
		 FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id
		 WHERE c.workspace_id = $1 AND cm.user_id = $2

		 UNION ALL

		 SELECT c.id, c.workspace_id, c.kind, c.name, c.created_by, c.created_at, $3,
		        (SELECT max(created_at) FROM messages WHERE chat_id = c.id AND deleted_at IS NULL)
		 FROM chats c
		 WHERE c.workspace_id = $1 AND c.kind = $4
		   AND NOT EXISTS (SELECT 1 FROM chat_members cm WHERE cm.chat_id = c.id AND cm.user_id = $2)

		 ORDER BY created_at DESC`,
		workspaceID.String(), viewerID.String(), string(models.MemberRoleMember), string(models.ChatKindPublicChannel),
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []models.ChatSummary
	for rows.Next() {
		var summary models.ChatSummary
		var idStr, wsStr, kind, createdBy, role string
		if err := rows.Scan(&idStr, &wsStr, &kind, &summary.Name, &createdBy, &summary.CreatedAt, &role, &summary.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		summary.ID = models.MustParseULID(idStr)
		summary.WorkspaceID = models.MustParseULID(wsStr)
		summary.Kind = models.ChatKind(kind)
		summary.CreatedBy = models.MustParseULID(createdBy)
		summary.ViewerRole = models.MemberRole(role)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat summaries: %w", err)
	}

	if s.cache != nil {
		s.cache.SetJSON(ctx, cacheKey, out, s.limits.ChatCacheTTL)
	}
	return out, nil
}

// UpdateChatInput is the request payload for UpdateChat.
type UpdateChatInput struct {
	ChatID  models.ULID
	ActorID models.ULID
	Name    *string
}

// UpdateChat renames a chat. Only the chat's Owner may do this.
func (s *Service) UpdateChat(ctx context.Context, in UpdateChatInput) (models.Chat, error) {
	chat, err := s.loadChat(ctx, in.ChatID)
	if err != nil {
		return models.Chat{}, err
	}
	if err := s.authorize(ctx, chat, in.ActorID, permissions.ActionUpdateChat); err != nil {
		return models.Chat{}, err
	}

	if _, err := s.pool.Exec(ctx, `UPDATE chats SET name = $1 WHERE id = $2`, in.Name, in.ChatID.String()); err != nil {
		return models.Chat{}, fmt.Errorf("update chat: %w", err)
	}
	chat.Name = in.Name

	s.invalidateChatMemberCaches(ctx, in.ChatID)
	s.publishMemberEvent(eventbus.SubjectChatUpdated, in.ChatID, in.ActorID)

	return chat, nil
}

// DeleteChat permanently removes a chat. DMs are permanent and can never be
// deleted; only Group/PrivateChannel/PublicChannel chats may be, and only by
// their Owner.
func (s *Service) DeleteChat(ctx context.Context, chatID, actorID models.ULID) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind == models.ChatKindDM {
		return models.NewError(models.KindConflict, "DMPermanent", "direct messages cannot be deleted")
	}
	if err := s.authorize(ctx, chat, actorID, permissions.ActionDeleteChat); err != nil {
		return err
	}

	members, err := s.memberIDs(ctx, chatID)
	if err != nil {
		return err
	}

	err = apiutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID.String()); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1`, chatID.String()); err != nil {
			return fmt.Errorf("delete chat members: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID.String()); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, uid := range members {
		s.invalidateListCache(ctx, chat.WorkspaceID, uid)
		s.publishMemberEvent(eventbus.SubjectMemberLeft, chatID, uid)
	}
	return nil
}

// AddMembers adds newMembers to chatID. Only the Owner may add members, and
// DMs (fixed at exactly 2 members) never accept additions.
func (s *Service) AddMembers(ctx context.Context, chatID, actorID models.ULID, newMembers []models.ULID) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind == models.ChatKindDM {
		return models.ErrInvalidMembership
	}
	if err := s.authorize(ctx, chat, actorID, permissions.ActionAddMembers); err != nil {
		return err
	}

	err = apiutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.requireSameWorkspace(ctx, tx, chat.WorkspaceID, newMembers); err != nil {
			return err
		}
		for _, uid := range newMembers {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)
				 ON CONFLICT (chat_id, user_id) DO NOTHING`,
				chatID.String(), uid.String(), string(models.MemberRoleMember),
			); err != nil {
				return fmt.Errorf("insert chat member %s: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateChatMemberCaches(ctx, chatID)
	for _, uid := range newMembers {
		s.publishMemberEvent(eventbus.SubjectMemberJoined, chatID, uid)
	}
	return nil
}

// RemoveMembers removes members from chatID. Only the Owner may remove
// members, and the removal must leave a cardinality valid for the chat's
// kind (e.g. a Group may never drop below 3 members).
func (s *Service) RemoveMembers(ctx context.Context, chatID, actorID models.ULID, toRemove []models.ULID) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind == models.ChatKindDM {
		return models.ErrInvalidMembership
	}
	if err := s.authorize(ctx, chat, actorID, permissions.ActionRemoveMembers); err != nil {
		return err
	}

	currentCount, err := s.memberCount(ctx, chatID)
	if err != nil {
		return err
	}
	remaining := currentCount - len(toRemove)
	if !permissions.ValidMembership(chat.Kind, remaining) {
		return models.ErrInvalidMembership
	}

	ids := make([]string, len(toRemove))
	for i, uid := range toRemove {
		ids[i] = uid.String()
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = ANY($2) AND role != $3`,
		chatID.String(), ids, string(models.MemberRoleOwner),
	); err != nil {
		return fmt.Errorf("remove chat members: %w", err)
	}

	s.invalidateChatMemberCaches(ctx, chatID)
	for _, uid := range toRemove {
		s.publishMemberEvent(eventbus.SubjectMemberLeft, chatID, uid)
	}
	return nil
}

// TransferOwner reassigns the Owner role from actorID to newOwnerID, who
// must already be a member of the chat.
func (s *Service) TransferOwner(ctx context.Context, chatID, actorID, newOwnerID models.ULID) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, chat, actorID, permissions.ActionTransferOwner); err != nil {
		return err
	}

	newOwnerMembership, err := s.loadMembership(ctx, chatID, newOwnerID)
	if err != nil {
		return err
	}
	if newOwnerMembership == nil {
		return models.ErrNotFound
	}

	err = apiutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE chat_members SET role = $1 WHERE chat_id = $2 AND user_id = $3`,
			string(models.MemberRoleMember), chatID.String(), actorID.String(),
		); err != nil {
			return fmt.Errorf("demote previous owner: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE chat_members SET role = $1 WHERE chat_id = $2 AND user_id = $3`,
			string(models.MemberRoleOwner), chatID.String(), newOwnerID.String(),
		); err != nil {
			return fmt.Errorf("promote new owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateChatMemberCaches(ctx, chatID)
	s.publishMemberEvent(eventbus.SubjectChatUpdated, chatID, newOwnerID)
	return nil
}

func (s *Service) authorize(ctx context.Context, chat models.Chat, actorID models.ULID, action permissions.Action) error {
	membership, err := s.loadMembership(ctx, chat.ID, actorID)
	if err != nil {
		return err
	}
	actor := permissions.Actor{UserID: actorID, Membership: membership}
	if !permissions.Can(actor, chat.Kind, action) {
		return models.ErrPermissionDenied
	}
	return nil
}

func (s *Service) loadChat(ctx context.Context, chatID models.ULID) (models.Chat, error) {
	var chat models.Chat
	var idStr, wsStr, kind, createdBy string
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, kind, name, created_by, created_at FROM chats WHERE id = $1`,
		chatID.String(),
	).Scan(&idStr, &wsStr, &kind, &chat.Name, &createdBy, &chat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chat{}, models.ErrNotFound
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	chat.ID = models.MustParseULID(idStr)
	chat.WorkspaceID = models.MustParseULID(wsStr)
	chat.Kind = models.ChatKind(kind)
	chat.CreatedBy = models.MustParseULID(createdBy)
	return chat, nil
}

// loadMembership returns nil (not an error) when userID is not a member of
// chatID, matching permissions.Actor's "nil means non-member" convention.
func (s *Service) loadMembership(ctx context.Context, chatID, userID models.ULID) (*models.ChatMember, error) {
	var m models.ChatMember
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role, joined_at FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		chatID.String(), userID.String(),
	).Scan(&role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	m.ChatID = chatID
	m.UserID = userID
	m.Role = models.MemberRole(role)
	return &m, nil
}

func (s *Service) memberCount(ctx context.Context, chatID models.ULID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chat_members WHERE chat_id = $1`, chatID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chat members: %w", err)
	}
	return count, nil
}

func (s *Service) memberIDs(ctx context.Context, chatID models.ULID) ([]models.ULID, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID.String())
	if err != nil {
		return nil, fmt.Errorf("list chat member ids: %w", err)
	}
	defer rows.Close()

	var ids []models.ULID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, models.MustParseULID(idStr))
	}
	return ids, rows.Err()
}

func (s *Service) invalidateChatMemberCaches(ctx context.Context, chatID models.ULID) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return
	}
	members, err := s.memberIDs(ctx, chatID)
	if err != nil {
		return
	}
	for _, uid := range members {
		s.invalidateListCache(ctx, chat.WorkspaceID, uid)
	}
}

func (s *Service) invalidateListCache(ctx context.Context, workspaceID, userID models.ULID) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, listChatsCacheKey(workspaceID, userID))
}

func listChatsCacheKey(workspaceID, userID models.ULID) string {
	return cache.PrefixCache + "chatlist:" + workspaceID.String() + ":" + userID.String()
}

// publishMemberEvent fires a membership-change event after the owning
// transaction has already committed. Publish failures are logged, not
// returned: the caller's mutation already succeeded and a missed fan-out
// event only delays a client-side refresh, handled by each client's own
// periodic re-fetch.
func (s *Service) publishMemberEvent(subject string, chatID, userID models.ULID) {
	ctx, cancel := backgroundCtx()
	defer cancel()

	env, err := eventbus.NewEnvelope(subject, chatID, userID, map[string]string{
		"chat_id": chatID.String(),
		"user_id": userID.String(),
	})
	if err != nil {
		s.logger.Error("failed to build member event envelope", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Warn("failed to publish member event", "subject", subject, "error", err)
	}
}
