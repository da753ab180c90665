package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

// presenceTTL is how long a presence key survives without a refresh before
// it is treated as stale; SSE connections refresh it on every heartbeat.
const presenceTTL = 90 * time.Second

// offlineDebounce is how long markOffline waits before actually publishing
// an offline transition, so a client reconnecting within a network blip
// (page reload, brief connectivity loss) never causes a visible
// online/offline/online flap for other users.
const offlineDebounce = 5 * time.Second

// presenceTracker wraps the cache's presence keys with flap suppression: a
// markOffline schedules a delayed check rather than publishing immediately,
// and is canceled if the same user reconnects (markOnline) first.
type presenceTracker struct {
	cache  *cache.Client
	bus    eventbus.Transport
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

func newPresenceTracker(cacheClient *cache.Client, bus eventbus.Transport, logger *slog.Logger) *presenceTracker {
	return &presenceTracker{
		cache:   cacheClient,
		bus:     bus,
		logger:  logger,
		pending: make(map[string]context.CancelFunc),
	}
}

// markOnline cancels any pending offline transition for userID and
// publishes an online status if the user wasn't already marked online.
func (p *presenceTracker) markOnline(ctx context.Context, userID models.ULID) {
	key := userID.String()

	p.mu.Lock()
	if cancel, ok := p.pending[key]; ok {
		cancel()
		delete(p.pending, key)
	}
	p.mu.Unlock()

	wasOnline, _ := p.cache.GetPresence(ctx, key)
	if err := p.cache.SetPresence(ctx, key, presenceTTL); err != nil {
		p.logger.Debug("notify: set presence failed", "user_id", key, "error", err)
	}
	if !wasOnline {
		p.publish(userID, models.PresenceOnline)
	}
}

// markOffline schedules a debounced offline transition; a markOnline call
// for the same user within offlineDebounce cancels it.
func (p *presenceTracker) markOffline(ctx context.Context, userID models.ULID) {
	key := userID.String()
	debounceCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if prev, ok := p.pending[key]; ok {
		prev()
	}
	p.pending[key] = cancel
	p.mu.Unlock()

	go func() {
		timer := time.NewTimer(offlineDebounce)
		defer timer.Stop()
		select {
		case <-debounceCtx.Done():
			return
		case <-timer.C:
		}

		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()

		p.cache.ClearPresence(context.Background(), key)
		p.publish(userID, models.PresenceOffline)
	}()
}

func (p *presenceTracker) publish(userID models.ULID, status models.PresenceStatus) {
	presence := models.Presence{UserID: userID, Status: status, LastSeenAt: time.Now().UTC()}
	env, err := eventbus.NewEnvelope(eventbus.SubjectPresence, models.ULID{}, userID, presence)
	if err != nil {
		p.logger.Error("notify: building presence envelope", "error", err)
		return
	}
	ctx, cancelPublish := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelPublish()
	if err := p.bus.Publish(ctx, env); err != nil {
		p.logger.Warn("notify: publishing presence update failed", "user_id", userID.String(), "error", err)
	}
}
