package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/images"
	"github.com/hmle/sitegen/internal/status"
	"github.com/hmle/sitegen/internal/storage"
)

type stubRunner struct {
	mu       sync.Mutex
	sessions []string
	password string
	started  chan struct{}
}

func (s *stubRunner) Run(_ context.Context, sessionID, wpPassword string) {
	s.mu.Lock()
	s.sessions = append(s.sessions, sessionID)
	s.password = wpPassword
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
}

type stubBusiness struct{}

func (stubBusiness) Collect(_ context.Context, taxCode string, _ func(int, string)) (business.Info, error) {
	if !business.ValidTaxCode(taxCode) {
		return business.Info{}, fmt.Errorf("%w: %q", business.ErrInvalidTaxCode, taxCode)
	}
	return business.Info{TaxCode: taxCode, CompanyName: "Sunrise Trading", Source: "web_search"}, nil
}

type stubImages struct{}

func (stubImages) Search(context.Context, string, int) ([]images.Candidate, error) {
	return []images.Candidate{{ID: "u1", Source: "unsplash", Width: 1200, Height: 800}}, nil
}

type stubTester struct{ err error }

func (s stubTester) TestConnection(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Site Admin", nil
}

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	cache   *cache.Store
	runner  *stubRunner
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cacheStore, err := cache.New(cache.Config{Dir: t.TempDir(), Enabled: true, DefaultTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	runner := &stubRunner{started: make(chan struct{})}
	deps := Deps{
		Store:        store,
		Cache:        cacheStore,
		Status:       status.NewReporter(store, cacheStore),
		Runner:       runner,
		Business:     stubBusiness{},
		Images:       stubImages{},
		NewTester:    func(_, _, password string) ConnectionTester { return stubTester{} },
		AdminToken:   "admin-token",
		PollInterval: 5 * time.Millisecond,
	}
	return &testEnv{handler: NewHandler(deps), store: store, cache: cacheStore, runner: runner}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func validGenerateRequest() GenerateRequest {
	return GenerateRequest{
		TaxCode:      "0123456789",
		ColorPalette: "professional-blue",
		WebsiteStyle: "corporate",
		WPURL:        "https://shop.example/",
		WPUsername:   "admin",
		WPPassword:   "app-pass",
	}
}

func TestGenerate(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodPost, "/api/generate", validGenerateRequest(), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.SessionID, "ws_") {
		t.Errorf("session_id = %q", resp.SessionID)
	}

	sess, err := env.store.GetSession(resp.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.WPURL != "https://shop.example" {
		t.Errorf("wp_url = %q, want trailing slash trimmed", sess.WPURL)
	}
	if sess.WPPasswordHash == "" || sess.WPPasswordHash == "app-pass" {
		t.Errorf("password stored in plaintext or not at all: %q", sess.WPPasswordHash)
	}

	select {
	case <-env.runner.started:
	case <-time.After(time.Second):
		t.Fatal("runner never started")
	}
	if env.runner.password != "app-pass" {
		t.Errorf("runner got password %q", env.runner.password)
	}
}

func TestGenerateValidation(t *testing.T) {
	env := setup(t)

	missing := validGenerateRequest()
	missing.WPPassword = ""
	if rec := env.do(t, http.MethodPost, "/api/generate", missing, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing field: status = %d", rec.Code)
	}

	badCode := validGenerateRequest()
	badCode.TaxCode = "12ab"
	rec := env.do(t, http.MethodPost, "/api/generate", badCode, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad tax code: status = %d", rec.Code)
	}
	var envlp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envlp); err != nil {
		t.Fatal(err)
	}
	if envlp.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", envlp.Error.Type)
	}
}

func TestProgressUnknownSession(t *testing.T) {
	env := setup(t)

	if rec := env.do(t, http.MethodGet, "/api/progress/ws_ghost", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProgressFailedSessionIsOK(t *testing.T) {
	env := setup(t)

	env.store.CreateSession(storage.Session{SessionID: "ws_f", TaxCode: "0123456789"})
	env.store.InitProgress("ws_f")
	env.store.MarkError("ws_f", "WordPress connection failed")

	rec := env.do(t, http.MethodGet, "/api/progress/ws_f", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("a failed session polls as 200, got %d", rec.Code)
	}
	var st status.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Stage != storage.StageError || st.Error == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestProgressStream(t *testing.T) {
	env := setup(t)

	env.store.CreateSession(storage.Session{SessionID: "ws_s", TaxCode: "0123456789"})
	env.store.InitProgress("ws_s")
	env.store.MarkComplete("ws_s")

	rec := env.do(t, http.MethodGet, "/api/progress/ws_s/stream", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("body = %q", body)
	}
	var st status.Status
	if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(body, "data: "))), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Completed {
		t.Errorf("final event not terminal: %+v", st)
	}
}

func TestResults(t *testing.T) {
	env := setup(t)

	if rec := env.do(t, http.MethodGet, "/api/results/ws_none", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing result: status = %d", rec.Code)
	}

	env.store.SaveResult("ws_r", `{"success":true,"pages_count":5}`)
	rec := env.do(t, http.MethodGet, "/api/results/ws_r", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"success":true,"pages_count":5}` {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestWordPressTest(t *testing.T) {
	env := setup(t)

	body := map[string]string{"wp_url": "https://shop.example", "wp_username": "admin", "wp_password": "pw"}
	rec := env.do(t, http.MethodPost, "/api/wordpress/test", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		User    string `json:"user"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || resp.User != "Site Admin" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBusinessValidate(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodGet, "/api/business/validate?tax_code=0123456789", nil, nil)
	var resp struct {
		Valid bool `json:"valid"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Valid {
		t.Error("valid code reported invalid")
	}

	rec = env.do(t, http.MethodGet, "/api/business/validate?tax_code=xyz", nil, nil)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Valid {
		t.Error("invalid code reported valid")
	}
}

func TestBusinessPreview(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodGet, "/api/business/0123456789", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info business.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.CompanyName != "Sunrise Trading" {
		t.Errorf("info = %+v", info)
	}

	if rec := env.do(t, http.MethodGet, "/api/business/bogus", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid code: status = %d", rec.Code)
	}
}

func TestImageSearch(t *testing.T) {
	env := setup(t)

	rec := env.do(t, http.MethodGet, "/api/images/search?query=bakery", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Results []images.Candidate `json:"results"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("results = %+v", resp.Results)
	}

	if rec := env.do(t, http.MethodGet, "/api/images/search", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d", rec.Code)
	}
}

func TestCacheAdminAuth(t *testing.T) {
	env := setup(t)

	if rec := env.do(t, http.MethodGet, "/api/cache/stats", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/cache/stats", nil, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/cache/stats", nil, map[string]string{"Authorization": "Bearer admin-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Enabled {
		t.Error("stats report disabled store")
	}
}

func TestCacheAdminRoundTrip(t *testing.T) {
	env := setup(t)
	auth := map[string]string{"Authorization": "Bearer admin-token"}

	if err := env.cache.Put(cache.NamespaceAI, "sitemap_abc", map[string]string{"title": "Sunrise"}, nil, time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/cache/entries?namespace=ai", nil, auth)
	var list struct {
		Entries []cache.EntryInfo `json:"entries"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Entries) != 1 {
		t.Fatalf("entries = %+v", list.Entries)
	}

	rec = env.do(t, http.MethodGet, "/api/cache/search?q=Sunrise", nil, auth)
	var hits struct {
		Hits []cache.SearchHit `json:"hits"`
	}
	json.Unmarshal(rec.Body.Bytes(), &hits)
	if len(hits.Hits) != 1 {
		t.Errorf("hits = %+v", hits.Hits)
	}

	if rec := env.do(t, http.MethodDelete, "/api/cache/?namespace=ai", nil, auth); rec.Code != http.StatusOK {
		t.Fatalf("clear: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/cache/entries?namespace=ai", nil, auth)
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Entries) != 0 {
		t.Errorf("entries after clear = %+v", list.Entries)
	}
}
