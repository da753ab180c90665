package notify

import (
	"context"
	"time"

	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

// typingTTL bounds how long a single typing/start is coalesced before a
// repeat call is allowed to re-publish; clients re-send typing/start every
// few seconds while the user keeps typing, so this is shorter than a
// human's natural pause between keystrokes.
const typingTTL = 4 * time.Second

// typingEvent is the payload published on SubjectTyping.
type typingEvent struct {
	ChatID models.ULID `json:"chat_id"`
	UserID models.ULID `json:"user_id"`
	State  string      `json:"state"`
}

// StartTyping publishes a typing/start for userID in chatID, coalescing
// duplicate calls within typingTTL so a client that re-sends on every
// keystroke doesn't flood the bus.
func (h *Hub) StartTyping(ctx context.Context, chatID, userID models.ULID) error {
	if h.cache == nil || !h.cache.CoalesceTyping(ctx, chatID.String(), userID.String(), typingTTL) {
		return nil
	}
	return h.publishTyping(ctx, chatID, userID, "start")
}

// StopTyping publishes a typing/stop unconditionally; stops are not
// coalesced since they are infrequent (one per pause, not one per
// keystroke) and a client expects stop events to render promptly.
func (h *Hub) StopTyping(ctx context.Context, chatID, userID models.ULID) error {
	return h.publishTyping(ctx, chatID, userID, "stop")
}

func (h *Hub) publishTyping(ctx context.Context, chatID, userID models.ULID, state string) error {
	env, err := eventbus.NewEnvelope(eventbus.SubjectTyping, chatID, userID, typingEvent{
		ChatID: chatID, UserID: userID, State: state,
	})
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, env)
}
