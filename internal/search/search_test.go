package search

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fechatter/fechatter/internal/models"
)

func TestMessageDoc_OmitEmptyEditedAt(t *testing.T) {
	doc := MessageDoc{
		ID:        "01J000000000000000000000",
		ChatID:    "01J000000000000000000001",
		SenderID:  "01J000000000000000000002",
		Content:   "hello there",
		CreatedAt: 1700000000,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if _, exists := raw["edited_at"]; exists {
		t.Error("edited_at should be omitted when zero")
	}
}

func TestMessageDoc_JSONRoundTrip(t *testing.T) {
	doc := MessageDoc{
		ID:        "msg1",
		ChatID:    "chat1",
		SenderID:  "user1",
		Content:   "edited content",
		CreatedAt: 1700000000,
		EditedAt:  1700000100,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var decoded MessageDoc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded != doc {
		t.Errorf("round trip = %+v, want %+v", decoded, doc)
	}
}

func TestDocOpts(t *testing.T) {
	opts := docOpts()
	if opts == nil {
		t.Fatal("docOpts returned nil")
	}
	if opts.PrimaryKey == nil || *opts.PrimaryKey != "id" {
		t.Errorf("PrimaryKey = %v, want \"id\"", opts.PrimaryKey)
	}
}

func TestToDoc(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	edited := now.Add(time.Minute)
	workspaceID := models.NewULID()
	evt := models.MessageEvent{
		Message: models.Message{
			ID:        models.NewULID(),
			ChatID:    models.NewULID(),
			SenderID:  models.NewULID(),
			Content:   "hi",
			CreatedAt: now,
			EditedAt:  &edited,
		},
		ChatName:    "general",
		SenderName:  "Ada Lovelace",
		WorkspaceID: workspaceID,
	}

	doc := toDoc(evt)
	if doc.ID != evt.Message.ID.String() {
		t.Errorf("ID = %q, want %q", doc.ID, evt.Message.ID.String())
	}
	if doc.CreatedAt != now.Unix() {
		t.Errorf("CreatedAt = %d, want %d", doc.CreatedAt, now.Unix())
	}
	if doc.EditedAt != edited.Unix() {
		t.Errorf("EditedAt = %d, want %d", doc.EditedAt, edited.Unix())
	}
	if doc.SenderName != "Ada Lovelace" || doc.ChatName != "general" {
		t.Errorf("unexpected denormalized fields: %+v", doc)
	}
	if doc.WorkspaceID != workspaceID.String() {
		t.Errorf("WorkspaceID = %q, want %q", doc.WorkspaceID, workspaceID.String())
	}
}

func TestToDoc_NoEditedAt(t *testing.T) {
	evt := models.MessageEvent{
		Message: models.Message{
			ID:        models.NewULID(),
			ChatID:    models.NewULID(),
			SenderID:  models.NewULID(),
			Content:   "hi",
			CreatedAt: time.Now().UTC(),
		},
	}
	doc := toDoc(evt)
	if doc.EditedAt != 0 {
		t.Errorf("EditedAt = %d, want 0", doc.EditedAt)
	}
}

func TestBuildChatFilter(t *testing.T) {
	got := buildChatFilter([]string{"a", "b"})
	want := `chat_id IN ["a", "b"]`
	if got != want {
		t.Errorf("buildChatFilter = %q, want %q", got, want)
	}
}

func TestBuildChatFilter_Single(t *testing.T) {
	got := buildChatFilter([]string{"only"})
	want := `chat_id IN ["only"]`
	if got != want {
		t.Errorf("buildChatFilter = %q, want %q", got, want)
	}
}

func TestUnmarshalPayload_Empty(t *testing.T) {
	env := models.EventEnvelope{}
	var msg models.Message
	if err := unmarshalPayload(env, &msg); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestUnmarshalPayload_Message(t *testing.T) {
	msg := models.Message{ID: models.NewULID(), Content: "hi"}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	env := models.EventEnvelope{Payload: raw}

	var decoded models.Message
	if err := unmarshalPayload(env, &decoded); err != nil {
		t.Fatalf("unmarshalPayload error: %v", err)
	}
	if decoded.Content != "hi" {
		t.Errorf("Content = %q, want %q", decoded.Content, "hi")
	}
}

func TestDecodeHit(t *testing.T) {
	hit := map[string]interface{}{
		"id":         "msg1",
		"chat_id":    "chat1",
		"sender_id":  "user1",
		"content":    "hello",
		"created_at": float64(1700000000),
	}
	doc, err := decodeHit(hit)
	if err != nil {
		t.Fatalf("decodeHit error: %v", err)
	}
	if doc.ID != "msg1" || doc.Content != "hello" || doc.CreatedAt != 1700000000 {
		t.Errorf("decodeHit = %+v, unexpected", doc)
	}
}
