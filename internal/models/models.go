// Package models defines the shared data types for Fechatter: users,
// workspaces, chats, messages, files, tokens, and the event envelope that
// carries domain events across the bus. Types carry JSON tags for API
// serialization and match the Postgres schema in internal/database/migrations.
package models

import (
	"encoding/json"
	"time"
)

// User is an account within a single workspace. Corresponds to the users table.
type User struct {
	ID           ULID       `json:"id"`
	WorkspaceID  ULID       `json:"workspace_id"`
	Email        string     `json:"email"`
	Fullname     string     `json:"fullname"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserStatus is the lifecycle state of a User.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

// IsActive reports whether the user may authenticate and act.
func (u User) IsActive() bool { return u.Status == UserStatusActive }

// Workspace is a tenant boundary: users, chats, and files never cross it.
type Workspace struct {
	ID          ULID      `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID ULID      `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatKind is the conversation shape, constraining membership cardinality.
type ChatKind string

const (
	ChatKindDM             ChatKind = "dm"
	ChatKindGroup          ChatKind = "group"
	ChatKindPrivateChannel ChatKind = "private_channel"
	ChatKindPublicChannel  ChatKind = "public_channel"
)

// Chat is a conversation container. DM requires exactly 2 distinct members,
// Group requires at least 3, channels require at least the creator. Chats
// never move across workspaces once created.
type Chat struct {
	ID          ULID      `json:"id"`
	WorkspaceID ULID      `json:"workspace_id"`
	Kind        ChatKind  `json:"kind"`
	Name        *string   `json:"name,omitempty"`
	CreatedBy   ULID      `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemberRole is a ChatMember's standing within a chat.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

// ChatMember ties a User to a Chat with a role. (chat_id, user_id) is unique;
// the Owner role is unique per chat.
type ChatMember struct {
	ChatID   ULID       `json:"chat_id"`
	UserID   ULID       `json:"user_id"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// FileRef is a content-addressed reference to an uploaded file. Files sharing
// a SHA256 digest deduplicate to the same storage_key.
type FileRef struct {
	StorageKey string `json:"storage_key"`
	Size       int64  `json:"size"`
	Mime       string `json:"mime"`
	SHA256     string `json:"sha256"`
}

// Message is an append-only chat message with soft edit/delete. Once
// persisted, (ChatID, ID) is immutable except for Content, EditedAt, and
// DeletedAt.
type Message struct {
	ID             ULID       `json:"id"`
	Seq            int64      `json:"seq"`
	ChatID         ULID       `json:"chat_id"`
	SenderID       ULID       `json:"sender_id"`
	Content        string     `json:"content"`
	Files          []FileRef  `json:"files,omitempty"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the message has been tombstoned.
func (m Message) IsDeleted() bool { return m.DeletedAt != nil }

// MessageEvent is the payload published for message lifecycle events. It
// carries the full message plus the chat/sender context a consumer would
// otherwise have to re-query Postgres for: the notification hub resolves
// fan-out recipients straight from MemberIDs, and the search indexer
// populates MessageDoc's display fields, both without a synchronous database
// round trip per event.
type MessageEvent struct {
	Message     Message `json:"message"`
	MemberIDs   []ULID  `json:"member_ids"`
	ChatName    string  `json:"chat_name,omitempty"`
	SenderName  string  `json:"sender_name"`
	WorkspaceID ULID    `json:"workspace_id"`
}

// RefreshToken is one link in a user's refresh chain. A presented token whose
// ReplacedBy is non-nil indicates reuse: the whole chain must be revoked.
type RefreshToken struct {
	TokenHash  string     `json:"-"`
	UserID     ULID       `json:"user_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReplacedBy *string    `json:"-"`
	Revoked    bool       `json:"-"`
	RevokedAt  *time.Time `json:"-"`
}

// ReadReceipt tracks the last message a user has read in a chat. Monotonically
// non-decreasing per (ChatID, UserID).
type ReadReceipt struct {
	ChatID            ULID      `json:"chat_id"`
	UserID            ULID      `json:"user_id"`
	LastReadMessageID ULID      `json:"last_read_message_id"`
	LastReadSeq       int64     `json:"last_read_seq"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PresenceStatus is a user's derived liveness state.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is derived from live SSE connections and explicit updates; it is
// ephemeral and lives in the cache, not Postgres.
type Presence struct {
	UserID     ULID           `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// EventEnvelope wraps a domain event for publication on the event bus.
// Consumers dedupe on EventID; Signature, when present, covers EventID,
// Subject, and PayloadJSON.
type EventEnvelope struct {
	EventID    string          `json:"event_id"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	ChatID     ULID            `json:"chat_id,omitempty"`
	UserID     ULID            `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload_json"`
	Signature  string          `json:"signature,omitempty"`
}

// Claims are the validated contents of an access token.
type Claims struct {
	UserID      ULID      `json:"user_id"`
	WorkspaceID ULID      `json:"workspace_id"`
	ExpiresAt   time.Time `json:"exp"`
}

// ChatSummary is the list_chats response shape: a Chat plus the viewer's role
// and a last-activity hint, matching the REST response for /workspace/chats.
type ChatSummary struct {
	Chat
	ViewerRole    MemberRole `json:"viewer_role"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
}
