package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
	"github.com/fechatter/fechatter/internal/permissions"
)

// editWindow bounds how long after creation a message may still be edited.
const editWindow = 15 * time.Minute

// SendMessageInput is the request payload for SendMessage.
type SendMessageInput struct {
	ChatID         models.ULID
	SenderID       models.ULID
	Content        string
	Files          []models.FileRef
	IdempotencyKey *string
}

// SendMessage validates authorship, bounds per-chat concurrency with a
// semaphore, and inserts the message transactionally alongside an outbox
// row. A retry carrying the same IdempotencyKey returns the original
// message rather than creating a duplicate.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (models.Message, error) {
	chat, err := s.loadChat(ctx, in.ChatID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.authorize(ctx, chat, in.SenderID, permissions.ActionSendMessage); err != nil {
		return models.Message{}, err
	}

	content, err := validateContent(in.Content)
	if err != nil {
		return models.Message{}, err
	}

	sem := s.sendSemaphore(in.ChatID.String())
	acquireCtx, cancel := context.WithTimeout(ctx, s.limits.SendDeadline)
	defer cancel()
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return models.Message{}, models.ErrBackpressure
	}
	defer sem.Release(1)

	if in.IdempotencyKey != nil {
		if existing, found, err := s.findByIdempotencyKey(ctx, in.ChatID, in.SenderID, *in.IdempotencyKey); err != nil {
			return models.Message{}, err
		} else if found {
			return existing, nil
		}
	}

	members, err := s.memberIDs(ctx, in.ChatID)
	if err != nil {
		return models.Message{}, err
	}
	senderName, err := s.userFullname(ctx, in.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	chatName := ""
	if chat.Name != nil {
		chatName = *chat.Name
	}

	msg := models.Message{
		ID:             models.NewULID(),
		ChatID:         in.ChatID,
		SenderID:       in.SenderID,
		Content:        content,
		Files:          in.Files,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	// env is built inside the transaction, once seq is known, so the published
	// payload's embedded Message always carries its real sequence number.
	var env models.EventEnvelope
	err = apiutil.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int64
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, content, files, idempotency_key, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING seq`,
			msg.ID.String(), msg.ChatID.String(), msg.SenderID.String(), msg.Content,
			filesJSON(msg.Files), msg.IdempotencyKey, msg.CreatedAt,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msg.Seq = seq

		evt := models.MessageEvent{
			Message:     msg,
			MemberIDs:   members,
			ChatName:    chatName,
			SenderName:  senderName,
			WorkspaceID: chat.WorkspaceID,
		}
		var buildErr error
		env, buildErr = eventbus.NewEnvelope(eventbus.SubjectMessageCreated, msg.ChatID, msg.SenderID, evt)
		if buildErr != nil {
			return fmt.Errorf("build message event: %w", buildErr)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO outbox_events (event_id, subject, payload, chat_id, user_id) VALUES ($1, $2, $3, $4, $5)`,
			env.EventID, env.Subject, env.Payload, msg.ChatID.String(), msg.SenderID.String(),
		); err != nil {
			return fmt.Errorf("insert outbox row: %w", err)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			if existing, found, lookupErr := s.findByIdempotencyKey(ctx, in.ChatID, in.SenderID, derefOr(in.IdempotencyKey, "")); lookupErr == nil && found {
				return existing, nil
			}
		}
		return models.Message{}, err
	}

	s.publishAndMarkOutbox(env)
	s.invalidateListCache(ctx, chat.WorkspaceID, in.SenderID)

	return msg, nil
}

// publishAndMarkOutbox publishes env inline immediately after commit. On
// success the outbox row is marked published right away; on failure the row
// is left for the background sweep in outbox.go to retry.
func (s *Service) publishAndMarkOutbox(env models.EventEnvelope) {
	ctx, cancel := backgroundCtx()
	defer cancel()

	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Warn("inline publish failed, leaving outbox row for sweep", "event_id", env.EventID, "subject", env.Subject, "error", err)
		return
	}
	if _, err := s.pool.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE event_id = $1`, env.EventID); err != nil {
		s.logger.Warn("failed to mark outbox row published", "event_id", env.EventID, "error", err)
	}
}

func (s *Service) findByIdempotencyKey(ctx context.Context, chatID, senderID models.ULID, key string) (models.Message, bool, error) {
	if key == "" {
		return models.Message{}, false, nil
	}
	msg, err := s.loadMessageByPredicate(ctx,
		`SELECT id, seq, chat_id, sender_id, content, files, idempotency_key, created_at, edited_at, deleted_at
		 FROM messages WHERE chat_id = $1 AND sender_id = $2 AND idempotency_key = $3`,
		chatID.String(), senderID.String(), key,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, true, nil
}

// ListMessagesInput is the request payload for ListMessages.
type ListMessagesInput struct {
	ChatID   models.ULID
	ViewerID models.ULID
	Before   *int64 // exclusive upper bound on Seq; nil means "most recent"
	Limit    int
}

// ListMessages returns up to Limit messages older than Before, newest first,
// for chats ViewerID may view. Soft-deleted messages are returned tombstoned
// (Content cleared) rather than omitted, so clients can render a "deleted"
// placeholder in place.
func (s *Service) ListMessages(ctx context.Context, in ListMessagesInput) ([]models.Message, error) {
	chat, err := s.loadChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, chat, in.ViewerID, permissions.ActionViewChat); err != nil {
		return nil, err
	}

	limit := clampLimit(in.Limit)
	before := int64(1) << 62
	if in.Before != nil {
		before = *in.Before
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, chat_id, sender_id, content, files, idempotency_key, created_at, edited_at, deleted_at
		 FROM messages WHERE chat_id = $1 AND seq < $2
		 ORDER BY seq DESC LIMIT $3`,
		in.ChatID.String(), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if msg.IsDeleted() {
			msg.Content = ""
			msg.Files = nil
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// EditMessage replaces a message's content. Only the original author may
// edit, only within editWindow of creation, and never a soft-deleted
// message.
func (s *Service) EditMessage(ctx context.Context, chatID, messageID, actorID models.ULID, newContent string) (models.Message, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := s.loadMessageByPredicate(ctx,
		`SELECT id, seq, chat_id, sender_id, content, files, idempotency_key, created_at, edited_at, deleted_at
		 FROM messages WHERE id = $1 AND chat_id = $2`,
		messageID.String(), chatID.String(),
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, models.ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted() {
		return models.Message{}, models.NewError(models.KindConflict, "MessageDeleted", "cannot edit a deleted message")
	}
	if msg.SenderID != actorID {
		return models.Message{}, models.ErrPermissionDenied
	}
	if time.Since(msg.CreatedAt) > editWindow {
		return models.Message{}, models.NewError(models.KindConflict, "EditWindowExpired", "messages can only be edited within 15 minutes of sending")
	}

	content, err := validateContent(newContent)
	if err != nil {
		return models.Message{}, err
	}

	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3`,
		content, now, messageID.String(),
	); err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	msg.Content = content
	msg.EditedAt = &now

	s.publishMessageEvent(eventbus.SubjectMessageEdited, chat, msg)
	return msg, nil
}

// DeleteMessage soft-deletes a message. The original author or a chat Owner
// may delete it.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID, actorID models.ULID) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	msg, err := s.loadMessageByPredicate(ctx,
		`SELECT id, seq, chat_id, sender_id, content, files, idempotency_key, created_at, edited_at, deleted_at
		 FROM messages WHERE id = $1 AND chat_id = $2`,
		messageID.String(), chatID.String(),
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if msg.IsDeleted() {
		return nil
	}

	membership, err := s.loadMembership(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	actor := permissions.Actor{UserID: actorID, Membership: membership, IsMessageAuthor: msg.SenderID == actorID}
	if !permissions.Can(actor, chat.Kind, permissions.ActionDeleteMessage) {
		return models.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `UPDATE messages SET deleted_at = $1 WHERE id = $2`, now, messageID.String()); err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	msg.DeletedAt = &now

	s.publishMessageEvent(eventbus.SubjectMessageDeleted, chat, msg)
	return nil
}

// MarkRead advances ViewerID's read receipt for ChatID, monotonically. A
// call carrying a Seq behind the existing receipt is a no-op.
func (s *Service) MarkRead(ctx context.Context, chatID, viewerID, lastReadMessageID models.ULID, lastReadSeq int64) error {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, chat, viewerID, permissions.ActionViewChat); err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO read_receipts (chat_id, user_id, last_read_message_id, last_read_seq, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (chat_id, user_id) DO UPDATE
		 SET last_read_message_id = excluded.last_read_message_id,
		     last_read_seq = excluded.last_read_seq,
		     updated_at = excluded.updated_at
		 WHERE read_receipts.last_read_seq < excluded.last_read_seq`,
		chatID.String(), viewerID.String(), lastReadMessageID.String(), lastReadSeq,
	)
	if err != nil {
		return fmt.Errorf("upsert read receipt: %w", err)
	}

	env, err := eventbus.NewEnvelope(eventbus.SubjectReadReceipt, chatID, viewerID, models.ReadReceipt{
		ChatID:            chatID,
		UserID:            viewerID,
		LastReadMessageID: lastReadMessageID,
		LastReadSeq:       lastReadSeq,
	})
	if err != nil {
		s.logger.Error("failed to build read receipt event", "error", err)
		return nil
	}
	bgCtx, cancel := backgroundCtx()
	defer cancel()
	if err := s.bus.Publish(bgCtx, env); err != nil {
		s.logger.Warn("failed to publish read receipt", "error", err)
	}
	return nil
}

// publishMessageEvent builds the shared MessageEvent payload (member list,
// chat name, sender name, workspace_id) so every message subject — not just
// message.created.v1 — carries enough context for a Meilisearch AddDocuments
// upsert to never blank out the display fields a prior event already set.
func (s *Service) publishMessageEvent(subject string, chat models.Chat, msg models.Message) {
	ctx, cancel := backgroundCtx()
	defer cancel()

	evt, err := s.buildMessageEvent(ctx, chat, msg)
	if err != nil {
		s.logger.Error("failed to build message event context", "subject", subject, "error", err)
		return
	}
	env, err := eventbus.NewEnvelope(subject, msg.ChatID, msg.SenderID, evt)
	if err != nil {
		s.logger.Error("failed to build message event envelope", "subject", subject, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		s.logger.Warn("failed to publish message event", "subject", subject, "error", err)
	}
}

// buildMessageEvent assembles a MessageEvent from msg and its chat's current
// membership; used wherever a message event needs denormalized chat/sender
// context for downstream consumers.
func (s *Service) buildMessageEvent(ctx context.Context, chat models.Chat, msg models.Message) (models.MessageEvent, error) {
	members, err := s.memberIDs(ctx, chat.ID)
	if err != nil {
		return models.MessageEvent{}, err
	}
	senderName, err := s.userFullname(ctx, msg.SenderID)
	if err != nil {
		return models.MessageEvent{}, err
	}
	chatName := ""
	if chat.Name != nil {
		chatName = *chat.Name
	}
	return models.MessageEvent{
		Message:     msg,
		MemberIDs:   members,
		ChatName:    chatName,
		SenderName:  senderName,
		WorkspaceID: chat.WorkspaceID,
	}, nil
}

func (s *Service) userFullname(ctx context.Context, userID models.ULID) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT fullname FROM users WHERE id = $1`, userID.String()).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("load sender fullname: %w", err)
	}
	return name, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var idStr, chatIDStr, senderIDStr string
	var files []byte
	err := row.Scan(&idStr, &msg.Seq, &chatIDStr, &senderIDStr, &msg.Content, &files,
		&msg.IdempotencyKey, &msg.CreatedAt, &msg.EditedAt, &msg.DeletedAt)
	if err != nil {
		return models.Message{}, err
	}
	msg.ID = models.MustParseULID(idStr)
	msg.ChatID = models.MustParseULID(chatIDStr)
	msg.SenderID = models.MustParseULID(senderIDStr)
	msg.Files = parseFilesJSON(files)
	return msg, nil
}

func (s *Service) loadMessageByPredicate(ctx context.Context, query string, args ...interface{}) (models.Message, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	return scanMessage(row)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
