package cache

import "testing"

func TestKeyPrefixes(t *testing.T) {
	prefixes := map[string]string{
		"session":    PrefixSession,
		"presence":   PrefixPresence,
		"ratelimit":  PrefixRateLimit,
		"cache":      PrefixCache,
		"typing":     PrefixTyping,
	}

	for name, prefix := range prefixes {
		if prefix == "" {
			t.Errorf("%s prefix is empty", name)
		}
		if prefix[len(prefix)-1] != ':' {
			t.Errorf("%s prefix %q does not end with ':'", name, prefix)
		}
	}
}

func TestRateLimitResult_Zero(t *testing.T) {
	var r RateLimitResult
	if r.Allowed {
		t.Error("zero-value RateLimitResult should not be Allowed")
	}
}
