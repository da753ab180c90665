// Package notify implements Fechatter's notification hub: a per-user SSE
// connection registry fed by the event bus, with presence (flap-suppressed)
// and typing (TTL-coalesced) built on the same Redis-compatible cache the
// chat service uses.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

// Limits bounds connection behavior; populated from config.LimitsConfig.
type Limits struct {
	QueueDepth       int
	HeartbeatInterval time.Duration
}

// DefaultLimits mirrors config.defaults() for callers that don't load a
// full Config.
func DefaultLimits() Limits {
	return Limits{QueueDepth: 256, HeartbeatInterval: 30 * time.Second}
}

// Hub is the notification hub's composition root.
type Hub struct {
	pool   *pgxpool.Pool
	bus    eventbus.Transport
	cache  *cache.Client
	logger *slog.Logger
	limits Limits

	registry *registry
	presence *presenceTracker
	sub      eventbus.Subscription
}

// New builds a Hub. cache is required: presence and typing have no
// Postgres fallback, unlike the chat service's cache-aside reads.
func New(pool *pgxpool.Pool, bus eventbus.Transport, cacheClient *cache.Client, limits Limits, logger *slog.Logger) *Hub {
	h := &Hub{
		pool:     pool,
		bus:      bus,
		cache:    cacheClient,
		logger:   logger,
		limits:   limits,
		registry: newRegistry(),
	}
	h.presence = newPresenceTracker(cacheClient, bus, logger)
	return h
}

// Start subscribes to every Fechatter subject and begins fanning events out
// to connected clients. Call once from the server's startup path.
func (h *Hub) Start() error {
	sub, err := h.bus.SubscribeWildcard(eventbus.WildcardAll, h.handleEnvelope)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", eventbus.WildcardAll, err)
	}
	h.sub = sub
	return nil
}

// Stop unsubscribes from the bus. Open connections are left for their own
// HTTP handlers to close as requests are canceled.
func (h *Hub) Stop() {
	if h.sub != nil {
		h.sub.Unsubscribe()
	}
}

func (h *Hub) handleEnvelope(subject string, env models.EventEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var recipients []string
	var err error
	switch {
	case isMessageSubject(subject):
		recipients, err = memberIDsFromPayload(env)
		if err != nil {
			// Payload carried no usable member list (an older producer, a
			// malformed event): fall back to the authoritative table rather
			// than dropping the event on the floor.
			h.logger.Warn("notify: message event payload missing member list, falling back to chat_members", "subject", subject, "error", err)
			recipients, err = h.chatMemberIDs(ctx, env.ChatID)
		}
	case !env.ChatID.IsZero():
		recipients, err = h.chatMemberIDs(ctx, env.ChatID)
	case !env.UserID.IsZero():
		recipients, err = h.workspacePeerIDs(ctx, env.UserID)
	default:
		return
	}
	if err != nil {
		h.logger.Warn("notify: resolving fan-out recipients failed", "subject", subject, "error", err)
		return
	}

	for _, userID := range recipients {
		for _, conn := range h.registry.connectionsFor(userID) {
			if !conn.Send(env) {
				h.evictLagging(conn)
			}
		}
	}
}

// evictLagging closes a connection whose send queue overflowed; the
// connection's own writer loop observes the close and emits a final
// "lagging" status frame before the handler returns.
func (h *Hub) evictLagging(conn *Connection) {
	h.logger.Warn("notify: evicting lagging connection", "user_id", conn.UserID.String(), "conn_id", conn.ID)
	conn.Close()
	h.registry.remove(conn)
}

// isMessageSubject reports whether subject carries a models.MessageEvent
// payload, whose MemberIDs field is the authoritative recipient list: the
// hub reads it directly instead of re-querying chat_members for every
// message, edit, and delete.
func isMessageSubject(subject string) bool {
	switch subject {
	case eventbus.SubjectMessageCreated, eventbus.SubjectMessageEdited, eventbus.SubjectMessageDeleted:
		return true
	default:
		return false
	}
}

func memberIDsFromPayload(env models.EventEnvelope) ([]string, error) {
	var evt models.MessageEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return nil, err
	}
	if len(evt.MemberIDs) == 0 {
		return nil, fmt.Errorf("message event payload carried no member ids")
	}
	ids := make([]string, len(evt.MemberIDs))
	for i, id := range evt.MemberIDs {
		ids[i] = id.String()
	}
	return ids, nil
}

func (h *Hub) chatMemberIDs(ctx context.Context, chatID models.ULID) ([]string, error) {
	rows, err := h.pool.Query(ctx, `SELECT user_id FROM chat_members WHERE chat_id = $1`, chatID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// OnlineUsers returns the subset of workspaceID's members currently marked
// present. Presence lives in the shared cache rather than this process's
// connection registry, so the answer is correct across a multi-instance
// deployment, not just connections held by this replica.
func (h *Hub) OnlineUsers(ctx context.Context, workspaceID models.ULID) ([]models.ULID, error) {
	rows, err := h.pool.Query(ctx, `SELECT id FROM users WHERE workspace_id = $1`, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("notify: loading workspace members: %w", err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("notify: scanning workspace members: %w", err)
	}

	var online []models.ULID
	for _, raw := range ids {
		present, err := h.cache.GetPresence(ctx, raw)
		if err != nil {
			h.logger.Debug("notify: presence lookup failed", "user_id", raw, "error", err)
			continue
		}
		if !present {
			continue
		}
		id, err := models.ParseULID(raw)
		if err != nil {
			continue
		}
		online = append(online, id)
	}
	return online, nil
}

func (h *Hub) workspacePeerIDs(ctx context.Context, userID models.ULID) ([]string, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT id FROM users WHERE workspace_id = (SELECT workspace_id FROM users WHERE id = $1)`,
		userID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]string, error) {
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

// newConnID generates a unique connection identifier; distinct from message
// or event IDs so log correlation never confuses the two.
func newConnID() string {
	return models.NewULID().String()
}
