package notify

import (
	"context"
	"testing"
	"time"

	"github.com/fechatter/fechatter/internal/models"
)

func TestStopTyping_AlwaysPublishes(t *testing.T) {
	bus := newRecordingBus()
	h := &Hub{bus: bus, logger: discardLoggerForTest()}

	chatID, userID := models.NewULID(), models.NewULID()
	if err := h.StopTyping(context.Background(), chatID, userID); err != nil {
		t.Fatalf("StopTyping error: %v", err)
	}

	select {
	case env := <-bus.mu:
		if env.Subject != "fechatter.realtime.typing.v1" {
			t.Errorf("subject = %q, want typing subject", env.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a typing envelope to be published")
	}
}

func TestStartTyping_NilCacheNeverPublishes(t *testing.T) {
	bus := newRecordingBus()
	h := &Hub{bus: bus, cache: nil, logger: discardLoggerForTest()}

	chatID, userID := models.NewULID(), models.NewULID()
	if err := h.StartTyping(context.Background(), chatID, userID); err != nil {
		t.Fatalf("StartTyping error: %v", err)
	}

	select {
	case env := <-bus.mu:
		t.Fatalf("expected no publish with nil cache, got %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
