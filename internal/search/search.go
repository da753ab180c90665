// Package search integrates Meilisearch as Fechatter's full-text message
// index. It batches message lifecycle events off the bus into bounded
// windows, bulk-applies them to the index, and serves authorization-gated
// search queries restricted to chats the caller belongs to.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meilisearch/meilisearch-go"

	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

const (
	// IndexMessages is the only Meilisearch index Fechatter maintains;
	// chats and users are relational lookups, not full-text targets.
	IndexMessages = "messages"

	indexQueueGroup = "search-indexers"
	reindexPageSize = 500
)

// MessageDoc is a message's projection into the search index. Fields are
// flattened and snake_cased for Meilisearch's document JSON, not reused from
// models.Message directly, so the index schema can evolve independently of
// the wire/storage representation.
type MessageDoc struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	ChatName    string `json:"chat_name,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"created_at"`
	EditedAt    int64  `json:"edited_at,omitempty"`
}

// Config wires a Service's dependencies, mirroring the teacher's sketched
// search.New(search.Config{URL, APIKey, Pool, Logger}) call shape extended
// with a Bus (this service is event-driven) and the batching knobs from
// config.SearchConfig.
type Config struct {
	URL          string
	APIKey       string
	Pool         *pgxpool.Pool
	Bus          eventbus.Transport
	Logger       *slog.Logger
	BatchSize    int
	BatchTimeout time.Duration
}

// Service is the search indexer's composition root.
type Service struct {
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
	pool   *pgxpool.Pool
	bus    eventbus.Transport
	logger *slog.Logger

	batcher *batcher
	subs    []eventbus.Subscription
}

// New connects to Meilisearch and builds the batcher. It does not touch
// index settings or the bus; call EnsureIndexes then Start to bring the
// service fully online.
func New(cfg Config) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("search: URL must not be empty")
	}

	var opts []meilisearch.Option
	if cfg.APIKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(cfg.APIKey))
	}
	client := meilisearch.New(cfg.URL, opts...)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 2 * time.Second
	}

	svc := &Service{
		client: client,
		index:  client.Index(IndexMessages),
		pool:   cfg.Pool,
		bus:    cfg.Bus,
		logger: cfg.Logger,
	}
	svc.batcher = newBatcher(batchSize, batchTimeout, svc.applyBatch, svc.deadLetter, cfg.Logger)
	return svc, nil
}

// docOpts is the AddDocuments option Fechatter always passes: documents are
// already keyed by "id" so Meilisearch never has to guess the primary key.
func docOpts() *meilisearch.DocumentsQuery {
	primaryKey := "id"
	return &meilisearch.DocumentsQuery{PrimaryKey: &primaryKey}
}

// EnsureIndexes creates the messages index if absent and declares its
// searchable, filterable, and sortable attributes. Safe to call on every
// startup; re-declaring identical settings is a no-op in Meilisearch.
func (s *Service) EnsureIndexes(ctx context.Context) error {
	if _, err := s.client.GetIndex(IndexMessages); err != nil {
		if _, err := s.client.CreateIndex(&meilisearch.IndexConfig{
			Uid:        IndexMessages,
			PrimaryKey: "id",
		}); err != nil {
			return fmt.Errorf("creating %s index: %w", IndexMessages, err)
		}
	}

	if _, err := s.index.UpdateSearchableAttributes(&[]string{"content", "sender_name", "chat_name"}); err != nil {
		return fmt.Errorf("setting searchable attributes: %w", err)
	}
	if _, err := s.index.UpdateFilterableAttributes(&[]string{"chat_id", "sender_id", "workspace_id"}); err != nil {
		return fmt.Errorf("setting filterable attributes: %w", err)
	}
	if _, err := s.index.UpdateSortableAttributes(&[]string{"created_at"}); err != nil {
		return fmt.Errorf("setting sortable attributes: %w", err)
	}
	return nil
}

// Start subscribes to message lifecycle events as a queue group, so that
// replicas of this service share indexing load instead of each one
// double-applying every event.
func (s *Service) Start() error {
	subjects := []string{eventbus.SubjectMessageCreated, eventbus.SubjectMessageEdited, eventbus.SubjectMessageDeleted}
	for _, subject := range subjects {
		sub, err := s.bus.QueueSubscribe(subject, indexQueueGroup, s.handleEvent)
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.batcher.start()
	return nil
}

// Stop unsubscribes from the bus and flushes any pending batch.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.batcher.stop()
}

func (s *Service) handleEvent(env models.EventEnvelope) {
	var evt models.MessageEvent
	if err := unmarshalPayload(env, &evt); err != nil {
		s.logger.Error("search: decoding message event", "subject", env.Subject, "error", err)
		return
	}

	if env.Subject == eventbus.SubjectMessageDeleted {
		s.batcher.enqueue(batchOp{kind: opDelete, messageID: evt.Message.ID.String(), env: env})
		return
	}

	s.batcher.enqueue(batchOp{kind: opUpsert, doc: toDoc(evt), env: env})
}

func toDoc(evt models.MessageEvent) MessageDoc {
	msg := evt.Message
	doc := MessageDoc{
		ID:          msg.ID.String(),
		ChatID:      msg.ChatID.String(),
		SenderID:    msg.SenderID.String(),
		SenderName:  evt.SenderName,
		ChatName:    evt.ChatName,
		WorkspaceID: evt.WorkspaceID.String(),
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt.Unix(),
	}
	if msg.EditedAt != nil {
		doc.EditedAt = msg.EditedAt.Unix()
	}
	return doc
}

// SearchInput is the request payload for SearchMessages.
type SearchInput struct {
	ViewerID models.ULID
	Query    string
	Limit    int
	// ChatID, if set, narrows results to a single chat the viewer belongs
	// to instead of every chat they're a member of.
	ChatID models.ULID
}

// SearchMessages runs query against the index, filtered to chats ViewerID
// actually belongs to, so a result can never leak content from a chat the
// caller isn't a member of.
func (s *Service) SearchMessages(ctx context.Context, in SearchInput) ([]MessageDoc, error) {
	chatIDs, err := s.viewerChatIDs(ctx, in.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("loading viewer chats: %w", err)
	}
	if len(chatIDs) == 0 {
		return nil, nil
	}

	if !in.ChatID.IsZero() {
		requested := in.ChatID.String()
		found := false
		for _, id := range chatIDs {
			if id == requested {
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
		chatIDs = []string{requested}
	}

	limit := in.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	resp, err := s.index.Search(in.Query, &meilisearch.SearchRequest{
		Filter: buildChatFilter(chatIDs),
		Limit:  int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	docs := make([]MessageDoc, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		doc, err := decodeHit(hit)
		if err != nil {
			s.logger.Warn("search: decoding search hit", "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Service) viewerChatIDs(ctx context.Context, viewerID models.ULID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM chat_members WHERE user_id = $1`, viewerID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func buildChatFilter(chatIDs []string) string {
	filter := "chat_id IN ["
	for i, id := range chatIDs {
		if i > 0 {
			filter += ", "
		}
		filter += `"` + id + `"`
	}
	return filter + "]"
}

// HealthCheck verifies the Meilisearch connection is alive.
func (s *Service) HealthCheck(ctx context.Context) error {
	_, err := s.client.Health()
	return err
}
