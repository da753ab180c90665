package models

import (
	"testing"
	"time"
)

func TestUserStatus_IsActive(t *testing.T) {
	tests := []struct {
		name   string
		status UserStatus
		want   bool
	}{
		{"active", UserStatusActive, true},
		{"suspended", UserStatusSuspended, false},
		{"deleted", UserStatusDeleted, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := User{Status: tc.status}
			if got := u.IsActive(); got != tc.want {
				t.Errorf("IsActive() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessage_IsDeleted(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		deletedAt *time.Time
		want      bool
	}{
		{"not deleted", nil, false},
		{"deleted", &now, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := Message{DeletedAt: tc.deletedAt}
			if got := m.IsDeleted(); got != tc.want {
				t.Errorf("IsDeleted() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChatKindConstants(t *testing.T) {
	kinds := []ChatKind{ChatKindDM, ChatKindGroup, ChatKindPrivateChannel, ChatKindPublicChannel}
	seen := make(map[ChatKind]bool)
	for _, k := range kinds {
		if k == "" {
			t.Error("empty chat kind constant")
		}
		if seen[k] {
			t.Errorf("duplicate chat kind: %s", k)
		}
		seen[k] = true
	}
}

func TestMemberRoleConstants(t *testing.T) {
	if MemberRoleOwner == MemberRoleMember {
		t.Error("owner and member roles must be distinct")
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, 400},
		{KindUnauthenticated, 401},
		{KindPermissionDenied, 403},
		{KindNotFound, 404},
		{KindConflict, 409},
		{KindBackpressure, 429},
		{KindUpstreamUnavailable, 503},
		{KindInternal, 500},
		{Kind("unknown"), 500},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			if got := tc.kind.HTTPStatus(); got != tc.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestError_WireCode(t *testing.T) {
	e := NewError(KindConflict, "EmailTaken", "email taken")
	if got := e.WireCode(); got != "EmailTaken" {
		t.Errorf("WireCode() = %q, want %q", got, "EmailTaken")
	}

	e2 := &Error{Kind: KindInternal}
	if got := e2.WireCode(); got != string(KindInternal) {
		t.Errorf("WireCode() default = %q, want %q", got, string(KindInternal))
	}
}

func TestError_Error(t *testing.T) {
	e := NewError(KindNotFound, "NotFound", "chat not found")
	if got := e.Error(); got != "chat not found" {
		t.Errorf("Error() = %q, want %q", got, "chat not found")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := ErrNotFound
	wrapped := Wrap(cause, "lookup failed")
	if wrapped.Unwrap() != cause {
		t.Error("Unwrap() did not return the wrapped cause")
	}
	if wrapped.Kind != KindInternal {
		t.Errorf("Wrap() kind = %v, want Internal", wrapped.Kind)
	}
}
