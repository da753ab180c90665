package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/models"
)

func TestCorsMiddleware(t *testing.T) {
	handler := corsMiddleware([]string{"https://example.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if acao := w.Header().Get("Access-Control-Allow-Origin"); acao != "https://example.com" {
		t.Errorf("ACAO = %q, want %q", acao, "https://example.com")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req2.Header.Set("Origin", "https://evil.com")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if acao := w2.Header().Get("Access-Control-Allow-Origin"); acao != "" {
		t.Errorf("ACAO should be empty for disallowed origin, got %q", acao)
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	handler := corsMiddleware([]string{"*"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestMaxBodySize_SkipsMultipart(t *testing.T) {
	var gotBody http.Request
	handler := maxBodySize(10)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody = *r
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotBody.Header.Get("Content-Type") == "" {
		t.Fatal("handler was not invoked")
	}
}

func TestHandleHealthCheck(t *testing.T) {
	s := &Server{Version: "test-version"}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test-version" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestUrlULID_Invalid(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("chatID", "not-a-ulid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	_, ok := urlULID(w, req, "chatID")
	if ok {
		t.Fatal("expected urlULID to reject a malformed identifier")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUrlULID_Valid(t *testing.T) {
	id := models.NewULID()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("chatID", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	got, ok := urlULID(w, req, "chatID")
	if !ok {
		t.Fatal("expected urlULID to accept a valid identifier")
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
}

func TestMustClaims_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	_, ok := mustClaims(w, req)
	if ok {
		t.Fatal("expected mustClaims to fail without injected claims")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMustClaims_Authenticated(t *testing.T) {
	want := models.Claims{UserID: models.NewULID(), WorkspaceID: models.NewULID()}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.ContextKeyClaims, want))
	w := httptest.NewRecorder()

	got, ok := mustClaims(w, req)
	if !ok {
		t.Fatal("expected mustClaims to succeed with injected claims")
	}
	if got.UserID != want.UserID {
		t.Errorf("UserID = %s, want %s", got.UserID, want.UserID)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(req); got != "abc123" {
		t.Errorf("bearerToken = %q, want %q", got, "abc123")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerToken(req2); got != "" {
		t.Errorf("bearerToken with no header = %q, want empty", got)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.Header.Set("Authorization", "Basic xyz")
	if got := bearerToken(req3); got != "" {
		t.Errorf("bearerToken with non-Bearer scheme = %q, want empty", got)
	}
}
