package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeSite is a minimal WordPress REST v2 stand-in with slug lookup,
// create, and update.
type fakeSite struct {
	t      *testing.T
	pages  map[string]Post // by slug
	nextID int
	auth   string
}

func newFakeSite(t *testing.T) (*fakeSite, *httptest.Server) {
	t.Helper()
	site := &fakeSite{t: t, pages: map[string]Post{}, nextID: 1}
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return site, srv
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, _ := r.BasicAuth()
	s.auth = user + ":" + pass
	if pass == "wrong" {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "rest_forbidden", "message": "Sorry, you are not allowed to do that."})
		return
	}

	switch {
	case r.URL.Path == "/wp-json/wp/v2/users/me":
		json.NewEncoder(w).Encode(map[string]string{"name": "Site Admin"})

	case r.URL.Path == "/wp-json/wp/v2/pages" && r.Method == http.MethodGet:
		slug := r.URL.Query().Get("slug")
		items := []Post{}
		if p, ok := s.pages[slug]; ok {
			items = append(items, p)
		}
		json.NewEncoder(w).Encode(items)

	case r.URL.Path == "/wp-json/wp/v2/pages" && r.Method == http.MethodPost:
		var body struct {
			Slug string `json:"slug"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		p := Post{ID: s.nextID, Slug: body.Slug, Link: "https://example.com/" + body.Slug}
		s.nextID++
		s.pages[body.Slug] = p
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)

	case strings.HasPrefix(r.URL.Path, "/wp-json/wp/v2/pages/") && r.Method == http.MethodPost:
		// Update in place keeps the existing ID.
		for slug, p := range s.pages {
			json.NewEncoder(w).Encode(p)
			_ = slug
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.URL.Path == "/wp-json/wp/v2/media" && r.Method == http.MethodPost:
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Media{ID: 77, SourceURL: "https://example.com/img.jpg"})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestTestConnection(t *testing.T) {
	site, srv := newFakeSite(t)

	c := NewClient(srv.URL, "admin", "app-pass")
	name, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if name != "Site Admin" {
		t.Errorf("name = %q", name)
	}
	if site.auth != "admin:app-pass" {
		t.Errorf("basic auth = %q", site.auth)
	}
}

func TestTestConnectionBadCredentials(t *testing.T) {
	_, srv := newFakeSite(t)

	c := NewClient(srv.URL, "admin", "wrong")
	_, err := c.TestConnection(context.Background())
	if err == nil {
		t.Fatal("expected auth failure")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "rest_forbidden" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCreatePage(t *testing.T) {
	_, srv := newFakeSite(t)

	c := NewClient(srv.URL, "admin", "app-pass")
	post, err := c.CreatePage(context.Background(), Content{Title: "About", Slug: "about", Body: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if post.ID == 0 || post.Slug != "about" {
		t.Errorf("post = %+v", post)
	}
}

func TestCreatePageUpdatesExistingSlug(t *testing.T) {
	site, srv := newFakeSite(t)

	c := NewClient(srv.URL, "admin", "app-pass")
	first, err := c.CreatePage(context.Background(), Content{Title: "About", Slug: "about"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.CreatePage(context.Background(), Content{Title: "About v2", Slug: "about"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("retried publish created a duplicate: %d vs %d", second.ID, first.ID)
	}
	if len(site.pages) != 1 {
		t.Errorf("pages on site = %d, want 1", len(site.pages))
	}
}

func TestUploadMedia(t *testing.T) {
	_, srv := newFakeSite(t)

	c := NewClient(srv.URL, "admin", "app-pass")
	media, err := c.UploadMedia(context.Background(), "photo.jpg", []byte("fake-jpeg-bytes"), "A storefront")
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if media.ID != 77 {
		t.Errorf("media = %+v", media)
	}
}
