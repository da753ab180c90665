package chat

import (
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"normal message", "hello there", false},
		{"trims whitespace", "  hi  ", false},
		{"empty after trim", "   ", true},
		{"empty string", "", true},
		{"exactly at limit", strings.Repeat("a", maxMessageContentRunes), false},
		{"over limit", strings.Repeat("a", maxMessageContentRunes+1), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := validateContent(tc.content)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateContent(%q) error = %v, wantErr %v", tc.content, err, tc.wantErr)
			}
			if err == nil && got != strings.TrimSpace(tc.content) {
				t.Errorf("validateContent(%q) = %q, want trimmed", tc.content, got)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, defaultListLimit},
		{-5, defaultListLimit},
		{10, 10},
		{maxListLimit, maxListLimit},
		{maxListLimit + 50, maxListLimit},
	}

	for _, tc := range tests {
		if got := clampLimit(tc.limit); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}
