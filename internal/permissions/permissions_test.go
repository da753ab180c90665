package permissions

import (
	"testing"

	"github.com/fechatter/fechatter/internal/models"
)

func owner() *models.ChatMember {
	return &models.ChatMember{Role: models.MemberRoleOwner}
}

func member() *models.ChatMember {
	return &models.ChatMember{Role: models.MemberRoleMember}
}

func TestCan_NonMember(t *testing.T) {
	a := Actor{}
	if Can(a, models.ChatKindPublicChannel, ActionViewChat) != true {
		t.Error("non-member should be able to view a public channel")
	}
	if Can(a, models.ChatKindGroup, ActionViewChat) {
		t.Error("non-member should not view a non-public chat")
	}
	if Can(a, models.ChatKindPublicChannel, ActionSendMessage) {
		t.Error("non-member should not send messages even in a public channel")
	}
}

func TestCan_OwnerOnlyActions(t *testing.T) {
	ownerActions := []Action{ActionUpdateChat, ActionDeleteChat, ActionAddMembers, ActionRemoveMembers, ActionTransferOwner}
	for _, action := range ownerActions {
		if !Can(Actor{Membership: owner()}, models.ChatKindGroup, action) {
			t.Errorf("owner should be able to %s", action)
		}
		if Can(Actor{Membership: member()}, models.ChatKindGroup, action) {
			t.Errorf("member should not be able to %s", action)
		}
	}
}

func TestCan_MessageAuthorship(t *testing.T) {
	a := Actor{Membership: member(), IsMessageAuthor: true}
	if !Can(a, models.ChatKindGroup, ActionEditMessage) {
		t.Error("author should be able to edit their own message")
	}
	if !Can(a, models.ChatKindGroup, ActionDeleteMessage) {
		t.Error("author should be able to delete their own message")
	}

	notAuthor := Actor{Membership: member(), IsMessageAuthor: false}
	if Can(notAuthor, models.ChatKindGroup, ActionEditMessage) {
		t.Error("non-author member should not be able to edit someone else's message")
	}

	ownerNotAuthor := Actor{Membership: owner(), IsMessageAuthor: false}
	if !Can(ownerNotAuthor, models.ChatKindGroup, ActionDeleteMessage) {
		t.Error("owner should be able to delete another member's message")
	}
}

func TestCan_MemberDefaultActions(t *testing.T) {
	if !Can(Actor{Membership: member()}, models.ChatKindGroup, ActionSendMessage) {
		t.Error("member should be able to send messages")
	}
	if !Can(Actor{Membership: member()}, models.ChatKindGroup, ActionViewChat) {
		t.Error("member should be able to view the chat")
	}
}

func TestIsOwner(t *testing.T) {
	if IsOwner(nil) {
		t.Error("nil membership should not be owner")
	}
	if !IsOwner(owner()) {
		t.Error("owner membership should be owner")
	}
	if IsOwner(member()) {
		t.Error("member membership should not be owner")
	}
}

func TestIsMember(t *testing.T) {
	if IsMember(nil) {
		t.Error("nil membership should not be a member")
	}
	if !IsMember(member()) {
		t.Error("non-nil membership should be a member")
	}
}

func TestValidMembership(t *testing.T) {
	tests := []struct {
		kind  models.ChatKind
		count int
		want  bool
	}{
		{models.ChatKindDM, 2, true},
		{models.ChatKindDM, 1, false},
		{models.ChatKindDM, 3, false},
		{models.ChatKindGroup, 3, true},
		{models.ChatKindGroup, 2, false},
		{models.ChatKindGroup, 10, true},
		{models.ChatKindPrivateChannel, 1, true},
		{models.ChatKindPublicChannel, 1, true},
		{models.ChatKindPublicChannel, 0, false},
	}
	for _, tc := range tests {
		if got := ValidMembership(tc.kind, tc.count); got != tc.want {
			t.Errorf("ValidMembership(%s, %d) = %v, want %v", tc.kind, tc.count, got, tc.want)
		}
	}
}

func TestMinMembers(t *testing.T) {
	if MinMembers(models.ChatKindDM) != 2 {
		t.Error("DM min members should be 2")
	}
	if MinMembers(models.ChatKindGroup) != 3 {
		t.Error("Group min members should be 3")
	}
	if MinMembers(models.ChatKindPrivateChannel) != 1 {
		t.Error("PrivateChannel min members should be 1")
	}
}
