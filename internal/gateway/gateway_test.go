package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fechatter/fechatter/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Listen:      "127.0.0.1:0",
		CORSOrigins: []string{"https://app.fechatter.test"},
		Upstreams: []config.UpstreamConfig{
			{
				Name:    "chat",
				Servers: []string{"http://127.0.0.1:9101"},
				CircuitBreaker: config.UpstreamCircuitBreakerConfig{
					FailureThreshold:  2,
					RecoveryTimeoutMs: 50,
					HalfOpenMax:       1,
				},
				Retry: config.UpstreamRetryConfig{MaxAttempts: 2, BackoffMs: 1},
			},
		},
		Routes: []config.RouteConfig{
			{PathPattern: "/api/v1/chats", Upstream: "chat", AuthRequired: true},
			{PathPattern: "/api/v1/auth", Upstream: "chat", AuthRequired: false},
		},
		RateLimit: config.GatewayRateLimitConfig{
			Standard: config.RateLimitTier{RequestsPerMinute: 600},
		},
	}
}

func TestBuildRouteTable_LongestPrefixWins(t *testing.T) {
	table, err := buildRouteTable(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("buildRouteTable error: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/chats/abc123", nil)
	rt := table.match(r)
	if rt == nil || rt.pathPattern != "/api/v1/chats" {
		t.Fatalf("match = %+v, want /api/v1/chats", rt)
	}
}

func TestBuildRouteTable_UnknownUpstreamErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Routes[0].Upstream = "nonexistent"
	if _, err := buildRouteTable(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for route referencing unknown upstream")
	}
}

func TestRouteMatch_MethodMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Routes[0].Methods = []string{"POST"}
	table, err := buildRouteTable(cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildRouteTable error: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	if rt := table.match(r); rt != nil {
		t.Fatalf("expected no match for GET against a POST-only route, got %+v", rt)
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := newBreaker(config.UpstreamCircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeoutMs: 20, HalfOpenMax: 1})

	if !b.allow() {
		t.Fatal("expected closed breaker to allow")
	}
	b.recordFailure()
	if !b.allow() {
		t.Fatal("expected breaker to still allow after one failure")
	}
	b.recordFailure()
	if b.allow() {
		t.Fatal("expected breaker to reject once failure threshold is reached")
	}

	time.Sleep(30 * time.Millisecond)
	if !b.allow() {
		t.Fatal("expected breaker to allow a half-open probe after recovery timeout")
	}
	b.recordSuccess()
	if !b.allow() {
		t.Fatal("expected breaker to stay closed after a successful probe")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(config.UpstreamCircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeoutMs: 10, HalfOpenMax: 1})
	b.recordFailure()
	if b.allow() {
		t.Fatal("expected breaker open after one failure with threshold 1")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.allow() {
		t.Fatal("expected half-open probe to be allowed")
	}
	b.recordFailure()
	if b.allow() {
		t.Fatal("expected breaker to re-open after half-open probe failure")
	}
}

func TestBreaker_HalfOpenClosesOnlyAfterHalfOpenMaxSuccesses(t *testing.T) {
	b := newBreaker(config.UpstreamCircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeoutMs: 10, HalfOpenMax: 3})
	b.recordFailure()
	if b.allow() {
		t.Fatal("expected breaker open after one failure with threshold 1")
	}
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if !b.allow() {
			t.Fatalf("expected half-open probe %d to be allowed", i+1)
		}
		b.recordSuccess()
		if breakerState(b.state.Load()) != breakerHalfOpen {
			t.Fatalf("expected breaker to remain half-open after %d of 3 successes", i+1)
		}
	}

	if !b.allow() {
		t.Fatal("expected third half-open probe to be allowed")
	}
	b.recordSuccess()
	if breakerState(b.state.Load()) != breakerClosed {
		t.Fatal("expected breaker to close after halfOpenMax consecutive successes")
	}
}

func TestCorsAllowed(t *testing.T) {
	origins := []string{"https://app.fechatter.test"}
	if !corsAllowed(origins, "https://app.fechatter.test") {
		t.Error("expected exact origin match to be allowed")
	}
	if corsAllowed(origins, "https://evil.test") {
		t.Error("expected non-matching origin to be rejected")
	}
	if !corsAllowed([]string{"*"}, "https://anything.test") {
		t.Error("expected wildcard origin to allow anything")
	}
}

func TestIsAdminPath(t *testing.T) {
	if !isAdminPath("/admin/users") {
		t.Error("expected /admin/users to be an admin path")
	}
	if isAdminPath("/api/v1/chats") {
		t.Error("expected /api/v1/chats to not be an admin path")
	}
}

func TestTierLimit_FallsBackWhenUnset(t *testing.T) {
	if got := tierLimit(config.RateLimitTier{}, 600); got != 600 {
		t.Errorf("tierLimit = %d, want fallback 600", got)
	}
	if got := tierLimit(config.RateLimitTier{RequestsPerMinute: 3000}, 600); got != 3000 {
		t.Errorf("tierLimit = %d, want configured 3000", got)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	if !isRetryableStatus(nil, http.StatusBadGateway) {
		t.Error("expected default retryable statuses to include 502")
	}
	if isRetryableStatus(nil, http.StatusNotFound) {
		t.Error("expected 404 to not be retryable by default")
	}
	if !isRetryableStatus([]int{599}, 599) {
		t.Error("expected configured status to be retryable")
	}
}
