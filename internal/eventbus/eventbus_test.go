package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/fechatter/fechatter/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestSignVerify_RoundTrip confirms an envelope signed then verified with the
// same secret is accepted, and that its payload bytes survive the
// marshal/unmarshal trip unchanged.
func TestSignVerify_RoundTrip(t *testing.T) {
	env, err := NewEnvelope("fechatter.messages.message.created.v1", models.NewULID(), models.NewULID(),
		map[string]string{"content": "hello"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	Sign(&env, "topsecret")
	if env.Signature == "" {
		t.Fatal("expected Sign to populate Signature")
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}
	roundTripped, err := unmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}

	if !Verify(roundTripped, "topsecret") {
		t.Fatal("expected round-tripped envelope to verify against the signing secret")
	}
	if string(roundTripped.Payload) != string(env.Payload) {
		t.Errorf("payload bytes changed across the round trip: got %s, want %s", roundTripped.Payload, env.Payload)
	}
}

func TestSign_EmptySecretLeavesSignatureBlank(t *testing.T) {
	env, err := NewEnvelope("fechatter.messages.message.created.v1", models.NewULID(), models.NewULID(), "x")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	Sign(&env, "")
	if env.Signature != "" {
		t.Errorf("expected no signature when secret is empty, got %q", env.Signature)
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	env, err := NewEnvelope("fechatter.messages.message.created.v1", models.NewULID(), models.NewULID(),
		map[string]string{"content": "hello"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	Sign(&env, "topsecret")

	var tampered map[string]string
	if err := json.Unmarshal(env.Payload, &tampered); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	tampered["content"] = "goodbye"
	raw, err := json.Marshal(tampered)
	if err != nil {
		t.Fatalf("marshal tampered payload: %v", err)
	}
	env.Payload = raw

	if Verify(env, "topsecret") {
		t.Error("expected a tampered payload to fail verification")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	env, err := NewEnvelope("fechatter.messages.message.created.v1", models.NewULID(), models.NewULID(), "x")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	Sign(&env, "right-secret")
	if Verify(env, "wrong-secret") {
		t.Error("expected verification to fail against a different secret")
	}
}

func TestNewEnvelope_SetsRoutingFields(t *testing.T) {
	chatID := models.NewULID()
	userID := models.NewULID()
	env, err := NewEnvelope("fechatter.messages.message.created.v1", chatID, userID, "payload")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.ChatID != chatID || env.UserID != userID {
		t.Errorf("routing fields not preserved: got chat=%s user=%s", env.ChatID, env.UserID)
	}
	if env.EventID == "" {
		t.Error("expected a non-empty EventID")
	}
	if env.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be set")
	}
}

func TestClassify_TerminalVsRetryable(t *testing.T) {
	if classify(nil) != nil {
		t.Error("expected classify(nil) to return nil")
	}
	if !errors.As(classify(nats.ErrInvalidSubject), new(*backoff.PermanentError)) {
		t.Error("expected an invalid-subject error to classify as permanent")
	}
	if errors.As(classify(nats.ErrTimeout), new(*backoff.PermanentError)) {
		t.Error("expected a timeout error to classify as retryable, not permanent")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nats.ErrConnectionClosed, true},
		{nats.ErrTimeout, true},
		{io.EOF, true},
		{nats.ErrInvalidSubject, false},
		{nats.ErrAuthorization, false},
		{errors.New("some other transient failure"), true},
	}
	for _, c := range cases {
		if got := isRetryable(c.err); got != c.want {
			t.Errorf("isRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryPublish_SucceedsWithoutRetrying(t *testing.T) {
	attempts, err := RetryPublish(context.Background(), time.Second, discardLogger(), func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("RetryPublish: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPublish_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int
	attempts, err := RetryPublish(context.Background(), time.Second, discardLogger(), func() error {
		calls++
		if calls < 3 {
			return nats.ErrTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryPublish: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPublish_StopsImmediatelyOnTerminalError(t *testing.T) {
	var calls int
	attempts, err := RetryPublish(context.Background(), time.Second, discardLogger(), func() error {
		calls++
		return nats.ErrInvalidSubject
	})
	if err == nil {
		t.Fatal("expected a terminal error to be returned")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retries after a terminal error)", attempts)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
