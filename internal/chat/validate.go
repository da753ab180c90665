package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/fechatter/fechatter/internal/models"
)

const (
	maxMessageContentRunes = 8000
	defaultListLimit       = 50
	maxListLimit           = 200
)

// validateContent trims content and rejects it if empty or too long.
func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", models.NewError(models.KindInvalidInput, "EmptyContent", "message content must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxMessageContentRunes {
		return "", models.NewError(models.KindInvalidInput, "ContentTooLong", "message content exceeds the maximum length")
	}
	return trimmed, nil
}

// clampLimit constrains a requested page size to [1, maxListLimit],
// defaulting to defaultListLimit when limit is zero or negative.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
