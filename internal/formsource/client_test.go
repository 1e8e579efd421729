package formsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPClientSendsExpectedRequest(t *testing.T) {
	var capturedAuth string
	var capturedQuery string
	var capturedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"response_id":"r1","token":"tok_1","submitted_at":"2024-03-01T10:00:00Z","answers":[]}],"total_items":1,"page_count":1}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	page, err := client.Responses(context.Background(), "form123", "token_abc", 1000, "tok_0")
	if err != nil {
		t.Fatalf("responses failed: %v", err)
	}
	if capturedPath != "/forms/form123/responses" {
		t.Fatalf("unexpected path %s", capturedPath)
	}
	if capturedAuth != "Bearer token_abc" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if !strings.Contains(capturedQuery, "page_size=1000") || !strings.Contains(capturedQuery, "after=tok_0") {
		t.Fatalf("unexpected query %q", capturedQuery)
	}
	if len(page.Items) != 1 || page.Items[0].Token != "tok_1" {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.TotalItems != 1 {
		t.Fatalf("expected total_items 1, got %d", page.TotalItems)
	}
	if len(page.Items[0].Raw) == 0 {
		t.Fatalf("expected raw payload to be retained")
	}
}

func TestHTTPClientFailsOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := client.Responses(context.Background(), "form123", "bad_token", 1000, "")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", statusErr.Status)
	}
	if !strings.Contains(statusErr.Hint, "form id") {
		t.Fatalf("expected remediation hint, got %q", statusErr.Hint)
	}
}

func TestHTTPClientFailsOnNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login required</html>"))
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := client.Responses(context.Background(), "form123", "token", 1000, "")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if !strings.Contains(statusErr.Hint, "text/html") {
		t.Fatalf("expected content type in hint, got %q", statusErr.Hint)
	}
}

func TestHTTPClientRequiresConfig(t *testing.T) {
	client := NewHTTPClient(HTTPClientOptions{})
	if _, err := client.Responses(context.Background(), "", "token", 1000, ""); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig for empty form id, got %v", err)
	}
	if _, err := client.Responses(context.Background(), "form123", "", 1000, ""); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig for empty token, got %v", err)
	}
}
