package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hmle/sitegen/internal/cache"
)

// stubCompleter routes each prompt to a canned response by substring match
// and counts every call so tests can assert cache hits.
type stubCompleter struct {
	mu        sync.Mutex
	calls     int
	responses map[string]string // prompt substring -> response
	err       error
}

func (s *stubCompleter) Complete(_ context.Context, _, user string, _ int, _ float64) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	for sub, resp := range s.responses {
		if strings.Contains(user, sub) {
			return resp, nil
		}
	}
	return "", fmt.Errorf("no stubbed response for prompt: %.80s", user)
}

func (s *stubCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(cache.Config{Dir: t.TempDir(), Enabled: true, DefaultTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testBusiness() BusinessInfo {
	return BusinessInfo{
		TaxCode:  "0123456789",
		Name:     "Sunrise Bakery",
		Industry: "Food & Beverage",
		Address:  "12 Main St",
	}
}

func sitemapJSON(pages int) string {
	sm := Sitemap{WebsiteTitle: "Sunrise Bakery", Tagline: "Fresh daily"}
	for i := 0; i < pages; i++ {
		sm.Pages = append(sm.Pages, PageSpec{
			Title:       fmt.Sprintf("Page %d", i+1),
			Slug:        fmt.Sprintf("page-%d", i+1),
			Description: "a page",
			InMainMenu:  true,
		})
	}
	body, _ := json.Marshal(sm)
	return string(body)
}

func TestGenerateSitemap(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Produce a sitemap": "```json\n" + sitemapJSON(5) + "\n```",
	}}
	g := NewGenerator(stub, testCache(t), nil)

	sm, err := g.GenerateSitemap(context.Background(), testBusiness(), "corporate")
	if err != nil {
		t.Fatalf("GenerateSitemap: %v", err)
	}
	if len(sm.Pages) != 5 {
		t.Errorf("pages = %d, want 5", len(sm.Pages))
	}
	if sm.WebsiteTitle != "Sunrise Bakery" {
		t.Errorf("title = %q", sm.WebsiteTitle)
	}
}

func TestGenerateSitemapCached(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Produce a sitemap": sitemapJSON(5),
	}}
	g := NewGenerator(stub, testCache(t), nil)

	if _, err := g.GenerateSitemap(context.Background(), testBusiness(), "corporate"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.GenerateSitemap(context.Background(), testBusiness(), "corporate"); err != nil {
		t.Fatal(err)
	}
	if stub.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (second sitemap should come from cache)", stub.callCount())
	}
}

func TestChangedBusinessRecordInvalidatesCache(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Produce a sitemap": sitemapJSON(5),
	}}
	g := NewGenerator(stub, testCache(t), nil)

	if _, err := g.GenerateSitemap(context.Background(), testBusiness(), "corporate"); err != nil {
		t.Fatal(err)
	}

	// Same tax code, but the record gained a phone number (say, a re-run
	// where enhancement found more contact details). The cached sitemap
	// was generated from the thinner record and must not be reused.
	enhanced := testBusiness()
	enhanced.Phone = "+84912345678"
	if _, err := g.GenerateSitemap(context.Background(), enhanced, "corporate"); err != nil {
		t.Fatal(err)
	}
	if stub.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (enhanced record should regenerate)", stub.callCount())
	}
}

func TestGenerateSitemapMalformed(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Produce a sitemap": "Sorry, I cannot help with that.",
	}}
	g := NewGenerator(stub, testCache(t), nil)

	_, err := g.GenerateSitemap(context.Background(), testBusiness(), "corporate")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestGeneratePageFillsSlugAndMeta(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Write the full content": `{"title": "About Us", "content": "## Our Story\n\nSunrise Bakery has baked bread since 1998."}`,
	}}
	g := NewGenerator(stub, testCache(t), nil)

	page, err := g.GeneratePage(context.Background(), testBusiness(), PageSpec{Title: "About", Slug: "about"}, "warm", "corporate")
	if err != nil {
		t.Fatalf("GeneratePage: %v", err)
	}
	if page.Slug != "about" {
		t.Errorf("slug = %q, want the sitemap slug", page.Slug)
	}
	if page.MetaDescription == "" {
		t.Error("meta description not derived from content")
	}
	if strings.Contains(page.MetaDescription, "#") {
		t.Errorf("meta description kept markdown noise: %q", page.MetaDescription)
	}
}

func TestGenerateBlogTopicsFallback(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Propose 5 blog post topics": "here are some ideas: baking, bread, cakes",
	}}
	g := NewGenerator(stub, testCache(t), nil)

	topics, err := g.GenerateBlogTopics(context.Background(), testBusiness())
	if err != nil {
		t.Fatalf("GenerateBlogTopics: %v", err)
	}
	if len(topics) != 5 {
		t.Errorf("fallback topics = %d, want 5", len(topics))
	}
	if !strings.Contains(topics[0].Title, "Sunrise Bakery") {
		t.Errorf("fallback topics not personalized: %q", topics[0].Title)
	}
}

func TestGenerateBlogTopicsTransportErrorPropagates(t *testing.T) {
	stub := &stubCompleter{err: errors.New("connection refused")}
	g := NewGenerator(stub, testCache(t), nil)

	if _, err := g.GenerateBlogTopics(context.Background(), testBusiness()); err == nil {
		t.Fatal("transport error must not be swallowed by the topic fallback")
	}
}

func TestGenerateArticle(t *testing.T) {
	stub := &stubCompleter{responses: map[string]string{
		"Write a complete blog article": `{"title": "Why Sourdough Takes Time", "content": "## Patience\n\nGood bread cannot be rushed.", "category": "Guides", "tags": ["bread"]}`,
	}}
	g := NewGenerator(stub, testCache(t), nil)

	topic := Topic{Title: "Why Sourdough Takes Time", Category: "Baking", MetaDescription: "Slow bread."}
	art, err := g.GenerateArticle(context.Background(), testBusiness(), topic)
	if err != nil {
		t.Fatalf("GenerateArticle: %v", err)
	}
	if art.Slug != "why-sourdough-takes-time" {
		t.Errorf("slug = %q", art.Slug)
	}
	if art.MetaDescription != "Slow bread." {
		t.Errorf("meta = %q, want topic meta as fallback", art.MetaDescription)
	}
	if art.Category != "Guides" {
		t.Errorf("category = %q, want the model's category kept", art.Category)
	}
}

func websiteStub(pages int) *stubCompleter {
	topics := `[
		{"title": "Topic One", "meta_description": "m1", "category": "News", "tags": ["a"], "target_keywords": ["k"]},
		{"title": "Topic Two", "meta_description": "m2", "category": "News", "tags": ["b"], "target_keywords": ["k"]}
	]`
	return &stubCompleter{responses: map[string]string{
		"Produce a sitemap":             sitemapJSON(pages),
		"Write the full content":        `{"title": "T", "content": "body text", "meta_description": "m"}`,
		"Propose 5 blog post topics":    topics,
		"Write a complete blog article": `{"title": "A", "content": "article body", "meta_description": "m"}`,
	}}
}

func TestGenerateWebsite(t *testing.T) {
	stub := websiteStub(4)
	g := NewGenerator(stub, testCache(t), nil)

	var lastPct int
	site, err := g.GenerateWebsite(context.Background(), testBusiness(), "warm", "corporate", func(pct int, _ string) {
		if pct < lastPct {
			t.Errorf("progress regressed: %d -> %d", lastPct, pct)
		}
		lastPct = pct
	})
	if err != nil {
		t.Fatalf("GenerateWebsite: %v", err)
	}
	if len(site.Pages) != 4 {
		t.Errorf("pages = %d, want 4", len(site.Pages))
	}
	if len(site.Articles) != 2 {
		t.Errorf("articles = %d, want 2", len(site.Articles))
	}
	// Pages come back in sitemap order even though they run in parallel.
	for i, p := range site.Pages {
		if p.Slug != site.Sitemap.Pages[i].Slug {
			t.Errorf("page %d out of order: %q vs %q", i, p.Slug, site.Sitemap.Pages[i].Slug)
		}
	}
	// sitemap + 4 pages + topics + 2 articles
	if stub.callCount() != 8 {
		t.Errorf("calls = %d, want 8", stub.callCount())
	}
}

func TestGenerateWebsiteResumesFromCache(t *testing.T) {
	store := testCache(t)
	stub := websiteStub(3)
	g := NewGenerator(stub, store, nil)

	if _, err := g.GenerateWebsite(context.Background(), testBusiness(), "warm", "corporate", nil); err != nil {
		t.Fatal(err)
	}
	first := stub.callCount()

	// A second run over the same cache pays for nothing.
	if _, err := g.GenerateWebsite(context.Background(), testBusiness(), "warm", "corporate", nil); err != nil {
		t.Fatal(err)
	}
	if stub.callCount() != first {
		t.Errorf("resumed run made %d extra calls", stub.callCount()-first)
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{`Sure! Here it is: {"a":1} Hope that helps.`, `{"a":1}`},
		{`[{"a":1}]`, `[{"a":1}]`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		if got := cleanJSON(tt.in); got != tt.want {
			t.Errorf("cleanJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"About Us", "about-us"},
		{"  Fresh Bread -- Daily!  ", "fresh-bread-daily"},
		{"FAQ", "faq"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
