package eventbus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fechatter/fechatter/internal/models"
)

// NewEnvelope builds an EventEnvelope with a time-ordered (v7) event_id and
// the current timestamp. payload is marshaled to payload_json; chatID/userID
// are routing hints copied alongside the payload so the notification hub can
// decide fan-out without re-parsing the payload on every delivery.
func NewEnvelope(subject string, chatID, userID models.ULID, payload interface{}) (models.EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.EventEnvelope{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return models.EventEnvelope{}, err
	}
	return models.EventEnvelope{
		EventID:    id.String(),
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		ChatID:     chatID,
		UserID:     userID,
		Payload:    raw,
	}, nil
}

// Sign computes HMAC-SHA256 over event_id ‖ subject ‖ payload_json without
// copying the payload, and writes the hex digest into env.Signature.
func Sign(env *models.EventEnvelope, secret string) {
	if secret == "" {
		return
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(env.EventID))
	mac.Write([]byte(env.Subject))
	mac.Write(env.Payload)
	env.Signature = hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether env's signature matches the expected HMAC for the
// given secret. An envelope with no signature is accepted only when
// verification is not required by the caller.
func Verify(env models.EventEnvelope, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(env.EventID))
	mac.Write([]byte(env.Subject))
	mac.Write(env.Payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(env.Signature))
}

func marshalEnvelope(env models.EventEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (models.EventEnvelope, error) {
	var env models.EventEnvelope
	err := json.Unmarshal(data, &env)
	return env, err
}
