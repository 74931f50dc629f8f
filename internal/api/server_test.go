package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckQueryLimitsDepth(t *testing.T) {
	query := "{ block { transactions { contractActions { id } } } }"
	if err := checkQueryLimits(query, 10, 0); err != nil {
		t.Fatalf("unexpected error under depth limit: %v", err)
	}
	if err := checkQueryLimits(query, 2, 0); err == nil {
		t.Fatal("expected error for query exceeding depth limit")
	}
}

func TestCheckQueryLimitsComplexity(t *testing.T) {
	query := "{\nblock {\nheight\nhash\n}\n}"
	if err := checkQueryLimits(query, 0, 10); err != nil {
		t.Fatalf("unexpected error under complexity limit: %v", err)
	}
	if err := checkQueryLimits(query, 0, 1); err == nil {
		t.Fatal("expected error for query exceeding complexity limit")
	}
}

func TestCheckQueryLimitsDisabled(t *testing.T) {
	if err := checkQueryLimits("{ anything { goes here forever } }", 0, 0); err != nil {
		t.Fatalf("zero limits should disable checks, got: %v", err)
	}
}

func TestCorsMiddlewarePreflight(t *testing.T) {
	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handlerCalled = true })

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()

	corsMiddleware(next).ServeHTTP(rec, req)

	if handlerCalled {
		t.Fatal("preflight request should not reach the wrapped handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want echoed origin", got)
	}
}

func TestCorsMiddlewarePassesThrough(t *testing.T) {
	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	rec := httptest.NewRecorder()

	corsMiddleware(next).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatal("non-preflight request should reach the wrapped handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
