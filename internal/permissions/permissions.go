// Package permissions implements Fechatter's chat-level authorization. Every
// chat kind (DM, Group, PrivateChannel, PublicChannel) resolves down to two
// roles, Owner and Member; the rules here decide which actions each role,
// plus workspace membership, allows. Authorization is enforced here and
// re-checked in the chat service itself — callers never rely on the gateway
// or a client-supplied role to have done it for them.
package permissions

import "github.com/fechatter/fechatter/internal/models"

// Action is one authorization-gated chat operation.
type Action string

const (
	ActionViewChat      Action = "view_chat"
	ActionSendMessage   Action = "send_message"
	ActionEditMessage   Action = "edit_message"
	ActionDeleteMessage Action = "delete_message"
	ActionUpdateChat    Action = "update_chat"
	ActionDeleteChat    Action = "delete_chat"
	ActionAddMembers    Action = "add_members"
	ActionRemoveMembers Action = "remove_members"
	ActionTransferOwner Action = "transfer_owner"
)

// Actor is the fields needed to resolve an action's outcome: the acting
// user's membership in the chat (nil when they are not a member) and, for
// message-scoped actions, whether they authored the message in question.
type Actor struct {
	UserID      models.ULID
	Membership  *models.ChatMember // nil if the actor is not a chat member
	IsMessageAuthor bool
}

// Can resolves whether actor may perform action on a chat of the given kind.
// Resolution order mirrors a capability check, cheapest and most permissive
// gate first:
//  1. Not a member at all -> only PublicChannel allows viewing; everything
//     else is denied outright.
//  2. Message authorship grants edit/delete of one's own messages regardless
//     of chat role.
//  3. Owner-only actions (update/delete chat, member management, ownership
//     transfer) require the Owner role.
//  4. Any other action just requires membership.
func Can(actor Actor, kind models.ChatKind, action Action) bool {
	if actor.Membership == nil {
		if action == ActionViewChat && kind == models.ChatKindPublicChannel {
			return true
		}
		return false
	}

	switch action {
	case ActionEditMessage, ActionDeleteMessage:
		if actor.IsMessageAuthor {
			return true
		}
		return actor.Membership.Role == models.MemberRoleOwner
	case ActionUpdateChat, ActionDeleteChat, ActionAddMembers, ActionRemoveMembers, ActionTransferOwner:
		return actor.Membership.Role == models.MemberRoleOwner
	default:
		return true
	}
}

// IsOwner reports whether membership (which may be nil for a non-member)
// holds the Owner role.
func IsOwner(membership *models.ChatMember) bool {
	return membership != nil && membership.Role == models.MemberRoleOwner
}

// IsMember reports whether membership is non-nil, i.e. the user belongs to
// the chat at all.
func IsMember(membership *models.ChatMember) bool {
	return membership != nil
}

// MinMembers returns the minimum member cardinality required for kind, per
// the data model invariants: DM exactly 2, Group at least 3, channels at
// least the creator (1).
func MinMembers(kind models.ChatKind) int {
	switch kind {
	case models.ChatKindDM:
		return 2
	case models.ChatKindGroup:
		return 3
	default:
		return 1
	}
}

// ValidMembership reports whether memberCount is a legal cardinality for
// kind. DM additionally requires exactly 2, never more.
func ValidMembership(kind models.ChatKind, memberCount int) bool {
	switch kind {
	case models.ChatKindDM:
		return memberCount == 2
	default:
		return memberCount >= MinMembers(kind)
	}
}
