package search

import (
	"context"
	"fmt"
	"time"

	"github.com/fechatter/fechatter/internal/models"
)

// ReindexChat pages through a chat's full message history and bulk-applies
// it to the index. It is the backfill path: a chat created before the
// indexer existed, or one recovered from a corrupted index, reindexes by
// calling this once.
//
// AddDocuments overwrites by call order, not by comparing field values: a
// page read before a live edit commits but applied to the index after the
// edit's own event does would silently clobber the edit with stale content.
// dropStaleDocs guards every write in a page against that race by
// fetching the document currently in the index and skipping the write
// whenever its edited_at (or created_at, for a never-edited message) is
// already at or past the reindex candidate's own timestamp.
func (s *Service) ReindexChat(ctx context.Context, chatID models.ULID) (int, error) {
	var chatName *string
	var workspaceIDStr string
	if err := s.pool.QueryRow(ctx, `SELECT name, workspace_id FROM chats WHERE id = $1`, chatID.String()).
		Scan(&chatName, &workspaceIDStr); err != nil {
		return 0, fmt.Errorf("loading chat for reindex: %w", err)
	}
	chatNameVal := ""
	if chatName != nil {
		chatNameVal = *chatName
	}

	var total int
	var lastSeq int64

	for {
		rows, err := s.pool.Query(ctx,
			`SELECT m.id, m.chat_id, m.sender_id, u.fullname, m.content, m.created_at, m.edited_at, m.deleted_at, m.seq
			 FROM messages m
			 JOIN users u ON u.id = m.sender_id
			 WHERE m.chat_id = $1 AND m.seq > $2
			 ORDER BY m.seq ASC
			 LIMIT $3`,
			chatID.String(), lastSeq, reindexPageSize,
		)
		if err != nil {
			return total, fmt.Errorf("querying messages for reindex: %w", err)
		}

		var page []MessageDoc
		var deletedIDs []string
		for rows.Next() {
			var (
				idStr, chatIDStr, senderIDStr, senderName, content string
				createdAt                                          time.Time
				editedAt, deletedAt                                *time.Time
				seq                                                int64
			)
			if err := rows.Scan(&idStr, &chatIDStr, &senderIDStr, &senderName, &content, &createdAt, &editedAt, &deletedAt, &seq); err != nil {
				rows.Close()
				return total, fmt.Errorf("scanning message row: %w", err)
			}
			lastSeq = seq
			if deletedAt != nil {
				deletedIDs = append(deletedIDs, idStr)
				continue
			}
			doc := MessageDoc{
				ID:          idStr,
				ChatID:      chatIDStr,
				SenderID:    senderIDStr,
				SenderName:  senderName,
				ChatName:    chatNameVal,
				WorkspaceID: workspaceIDStr,
				Content:     content,
				CreatedAt:   createdAt.Unix(),
			}
			if editedAt != nil {
				doc.EditedAt = editedAt.Unix()
			}
			page = append(page, doc)
		}
		closeErr := rows.Err()
		rows.Close()
		if closeErr != nil {
			return total, fmt.Errorf("iterating message rows: %w", closeErr)
		}

		applied := s.dropStaleDocs(page)
		if len(applied) > 0 {
			if _, err := s.index.AddDocuments(applied, docOpts()); err != nil {
				return total, fmt.Errorf("reindex batch upsert: %w", err)
			}
			total += len(applied)
		}
		if len(deletedIDs) > 0 {
			if _, err := s.index.DeleteDocuments(deletedIDs); err != nil {
				return total, fmt.Errorf("reindex batch delete: %w", err)
			}
		}

		if len(page)+len(deletedIDs) < reindexPageSize {
			break
		}
	}

	return total, nil
}

// indexTimestamp is the subset of MessageDoc needed to compare a candidate
// reindex write against whatever is already in the index.
type indexTimestamp struct {
	CreatedAt int64 `json:"created_at"`
	EditedAt  int64 `json:"edited_at,omitempty"`
}

func (t indexTimestamp) effective() int64 {
	if t.EditedAt != 0 {
		return t.EditedAt
	}
	return t.CreatedAt
}

// dropStaleDocs filters page down to documents whose own timestamp is newer
// than whatever is currently indexed, so a reindex pass can never regress a
// document a concurrent live edit has already moved forward.
func (s *Service) dropStaleDocs(page []MessageDoc) []MessageDoc {
	applied := make([]MessageDoc, 0, len(page))
	for _, doc := range page {
		candidate := indexTimestamp{CreatedAt: doc.CreatedAt, EditedAt: doc.EditedAt}.effective()

		var existing indexTimestamp
		if err := s.index.GetDocument(doc.ID, nil, &existing); err == nil && existing.effective() >= candidate {
			continue
		}
		applied = append(applied, doc)
	}
	return applied
}
