// Package chat implements Fechatter's chat domain service: creating and
// managing chats and their membership, and sending, listing, editing, and
// deleting messages within them. Every mutation is authorized against
// internal/permissions before touching Postgres.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

// Limits bounds the service's concurrency and cache behavior; populated from
// config.LimitsConfig at construction so tests can use tighter values.
type Limits struct {
	MaxConcurrentSendsPerChat int64
	SendDeadline              time.Duration
	ChatCacheTTL              time.Duration
	OutboxGracePeriod         time.Duration
}

// DefaultLimits mirrors config.defaults() for callers (tests, tools) that
// don't load a full Config.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentSendsPerChat: 16,
		SendDeadline:              2 * time.Second,
		ChatCacheTTL:              30 * time.Second,
		OutboxGracePeriod:         10 * time.Second,
	}
}

// Service is the chat domain service's composition root: one pool, one bus,
// one cache, shared across every chat in the process.
type Service struct {
	pool   *pgxpool.Pool
	bus    eventbus.Transport
	cache  *cache.Client
	logger *slog.Logger
	limits Limits

	sendSemMu sync.Mutex
	sendSems  map[string]*semaphore.Weighted
}

// New builds a chat Service. cache may be nil, in which case list/get
// operations always fall through to Postgres.
func New(pool *pgxpool.Pool, bus eventbus.Transport, cacheClient *cache.Client, limits Limits, logger *slog.Logger) *Service {
	return &Service{
		pool:     pool,
		bus:      bus,
		cache:    cacheClient,
		logger:   logger,
		limits:   limits,
		sendSems: make(map[string]*semaphore.Weighted),
	}
}

// sendSemaphore returns the per-chat send semaphore, creating it on first
// use. The map itself is protected by sendSemMu; each semaphore is then safe
// for concurrent Acquire/Release without further locking.
func (s *Service) sendSemaphore(chatID string) *semaphore.Weighted {
	s.sendSemMu.Lock()
	defer s.sendSemMu.Unlock()
	sem, ok := s.sendSems[chatID]
	if !ok {
		sem = semaphore.NewWeighted(s.limits.MaxConcurrentSendsPerChat)
		s.sendSems[chatID] = sem
	}
	return sem
}

// backgroundCtx detaches from a request context's cancellation for
// publish-after-commit work that must run to completion even if the HTTP
// request that triggered it has already returned a response.
func backgroundCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Start subscribes to membership and chat-update events so that other
// replicas of this service invalidate their list-chats cache entries when a
// peer's mutation changes them, not just the replica that performed it.
func (s *Service) Start() error {
	subjects := []string{eventbus.SubjectMemberJoined, eventbus.SubjectMemberLeft, eventbus.SubjectChatUpdated}
	for _, subject := range subjects {
		if _, err := s.bus.Subscribe(subject, s.handleCacheInvalidation); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleCacheInvalidation(env models.EventEnvelope) {
	if env.UserID.IsZero() {
		return
	}
	chat, err := s.loadChat(context.Background(), env.ChatID)
	if err != nil {
		return
	}
	s.invalidateListCache(context.Background(), chat.WorkspaceID, env.UserID)
}
