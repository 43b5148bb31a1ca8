package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hmle/sitegen/internal/status"
)

func init() {
	pollInterval = time.Millisecond
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestGenerateSubmission(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/generate": `{"session_id":"ws_1_abc","status":"started"}`,
	})
	client := ts.client()

	resp, err := client.post(ctx, "/api/generate", map[string]any{
		"tax_code":      "0123456789",
		"color_palette": "warm",
		"website_style": "corporate",
		"wp_url":        "https://shop.example",
		"wp_username":   "admin",
		"wp_password":   "app-pass",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.SessionID != "ws_1_abc" {
		t.Errorf("session_id = %q, want ws_1_abc", result.SessionID)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["tax_code"] != "0123456789" {
		t.Errorf("body.tax_code = %v", body["tax_code"])
	}
	if body["wp_password"] != "app-pass" {
		t.Errorf("body.wp_password = %v", body["wp_password"])
	}
}

func TestFollowProgressFinishes(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/progress/ws_done": `{"session_id":"ws_done","stage":"complete","progress":100,"message":"Done!","completed":true}`,
	})

	if err := followProgress(ctx, ts.client(), "ws_done"); err != nil {
		t.Fatalf("followProgress: %v", err)
	}
}

func TestFollowProgressReportsFailure(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/progress/ws_bad": `{"session_id":"ws_bad","stage":"error","progress":40,"message":"failed","error":"WordPress connection failed"}`,
	})

	if err := followProgress(ctx, ts.client(), "ws_bad"); err == nil {
		t.Fatal("failed session did not error")
	}
}

func TestFollowProgressGivesUpAfterRepeatedFailures(t *testing.T) {
	// No route registered, so every poll gets a 404 body that does not
	// decode into a status.
	ts := newTestServer(t, map[string]string{})

	if err := followProgress(ctx, ts.client(), "ws_gone"); err == nil {
		t.Fatal("unreachable session did not error")
	}
	if len(ts.requests) < 5 {
		t.Errorf("gave up after %d polls, want at least 5", len(ts.requests))
	}
}

func TestFetchProgress(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/progress/ws_run": `{"session_id":"ws_run","stage":"content","progress":55,"message":"Writing pages..."}`,
	})

	st, err := fetchProgress(ctx, ts.client(), "ws_run")
	if err != nil {
		t.Fatalf("fetchProgress: %v", err)
	}
	want := status.Status{SessionID: "ws_run", Stage: "content", Progress: 55, Message: "Writing pages..."}
	if st.SessionID != want.SessionID || st.Stage != want.Stage || st.Progress != want.Progress {
		t.Errorf("status = %+v, want %+v", st, want)
	}
}

func TestDecodeJSONErrorBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/api/results/ws_none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	if err := decodeJSON(resp, &v); err == nil {
		t.Fatal("404 response did not error")
	}
}
