package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fechatter/fechatter/internal/models"
)

func TestValidPasswordLength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"valid 8 chars", "12345678", true},
		{"valid long", "a very long and secure password indeed!", true},
		{"too short", "1234567", false},
		{"empty", "", false},
		{"exactly 128 chars", string(make([]byte, 128)), true},
		{"129 chars too long", string(make([]byte, 129)), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidPasswordLength(tc.password); got != tc.want {
				t.Errorf("ValidPasswordLength(len=%d) = %v, want %v", len(tc.password), got, tc.want)
			}
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("expected matching password to verify")
	}

	ok, err = VerifyPassword("wrong password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("expected non-matching password to not verify")
	}
}

func TestNeedsRehash(t *testing.T) {
	hash, err := HashPassword("a password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if NeedsRehash(hash) {
		t.Error("a hash produced with current params should not need rehash")
	}
	if !NeedsRehash("not a valid hash") {
		t.Error("an undecodable hash should be treated conservatively, not panic")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	userID := models.NewULID()
	workspaceID := models.NewULID()

	token, err := NewAccessToken(userID, workspaceID, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}

	claims, err := ValidateAccessToken(token, "test-secret")
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("UserID = %s, want %s", claims.UserID, userID)
	}
	if claims.WorkspaceID != workspaceID {
		t.Errorf("WorkspaceID = %s, want %s", claims.WorkspaceID, workspaceID)
	}
}

func TestAccessToken_WrongSecret(t *testing.T) {
	token, err := NewAccessToken(models.NewULID(), models.NewULID(), "right-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	if _, err := ValidateAccessToken(token, "wrong-secret"); err == nil {
		t.Error("expected validation to fail with the wrong secret")
	}
}

func TestAccessToken_Expired(t *testing.T) {
	token, err := NewAccessToken(models.NewULID(), models.NewULID(), "test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	if _, err := ValidateAccessToken(token, "test-secret"); err == nil {
		t.Error("expected validation to fail for an expired token")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid bearer", "Bearer abc123", "abc123"},
		{"case insensitive", "bearer abc123", "abc123"},
		{"BEARER", "BEARER abc123", "abc123"},
		{"with spaces in token", "Bearer  abc123 ", "abc123"},
		{"empty", "", ""},
		{"no bearer prefix", "Token abc123", ""},
		{"bearer only", "Bearer", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got := extractBearerToken(req)
			if got != tc.want {
				t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestClaimsFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if _, ok := ClaimsFromContext(req.Context()); ok {
		t.Error("expected no claims on a bare request context")
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	svc := New(nil, "test-secret", time.Hour, 24*time.Hour, nil)
	handler := RequireAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	svc := New(nil, "test-secret", time.Hour, 24*time.Hour, nil)
	userID := models.NewULID()
	workspaceID := models.NewULID()
	token, err := NewAccessToken(userID, workspaceID, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}

	var gotClaims models.Claims
	handler := RequireAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotClaims.UserID != userID {
		t.Errorf("UserID = %s, want %s", gotClaims.UserID, userID)
	}
}

func TestOptionalAuth_NoToken(t *testing.T) {
	svc := New(nil, "test-secret", time.Hour, 24*time.Hour, nil)
	called := false
	handler := OptionalAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := ClaimsFromContext(r.Context()); ok {
			t.Error("expected no claims when no token was presented")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected the handler to still be called without a token")
	}
}
