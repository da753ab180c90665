package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fechatter/fechatter/internal/eventbus"
	"github.com/fechatter/fechatter/internal/models"
)

func TestPresenceStatusConstants(t *testing.T) {
	statuses := []models.PresenceStatus{models.PresenceOnline, models.PresenceAway, models.PresenceOffline}
	seen := make(map[models.PresenceStatus]bool)
	for _, s := range statuses {
		if s == "" {
			t.Error("empty presence status constant")
		}
		if seen[s] {
			t.Errorf("duplicate presence status: %q", s)
		}
		seen[s] = true
	}
}

type recordingBus struct {
	mu chan models.EventEnvelope
}

func newRecordingBus() *recordingBus {
	return &recordingBus{mu: make(chan models.EventEnvelope, 10)}
}

func (b *recordingBus) Publish(ctx context.Context, env models.EventEnvelope) error {
	select {
	case b.mu <- env:
	default:
	}
	return nil
}

func (b *recordingBus) Subscribe(string, func(models.EventEnvelope)) (eventbus.Subscription, error) {
	return fakeSub{}, nil
}

func (b *recordingBus) SubscribeWildcard(string, func(string, models.EventEnvelope)) (eventbus.Subscription, error) {
	return fakeSub{}, nil
}

func (b *recordingBus) QueueSubscribe(string, string, func(models.EventEnvelope)) (eventbus.Subscription, error) {
	return fakeSub{}, nil
}

type fakeSub struct{}

func (fakeSub) Unsubscribe() error { return nil }

func TestPresenceTracker_PublishEmitsPresenceEnvelope(t *testing.T) {
	bus := newRecordingBus()
	tracker := newPresenceTracker(nil, bus, discardLoggerForTest())
	userID := models.NewULID()

	// markOnline calls GetPresence/SetPresence on the real cache client,
	// which is nil here; exercise only the publish step by calling publish
	// directly, as markOnline does for a user not already marked online.
	tracker.publish(userID, models.PresenceOnline)

	select {
	case env := <-bus.mu:
		if env.Subject != "fechatter.realtime.presence.v1" {
			t.Errorf("subject = %q, want presence subject", env.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a presence envelope to be published")
	}
}

func TestPresenceTracker_MarkOfflineCancelable(t *testing.T) {
	bus := newRecordingBus()
	tracker := newPresenceTracker(nil, bus, discardLoggerForTest())
	userID := models.NewULID()

	cancel := make(chan struct{})
	tracker.mu.Lock()
	tracker.pending[userID.String()] = func() { close(cancel) }
	tracker.mu.Unlock()

	tracker.mu.Lock()
	prev, ok := tracker.pending[userID.String()]
	tracker.mu.Unlock()
	if !ok {
		t.Fatal("expected pending cancel to be registered")
	}
	prev()

	select {
	case <-cancel:
	case <-time.After(time.Second):
		t.Fatal("cancel func was not invoked")
	}
}

func discardLoggerForTest() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
