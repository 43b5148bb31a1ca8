package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hmle/sitegen/internal/cache"
)

// ErrMalformed marks model output that arrived but could not be parsed as
// the expected JSON. Callers distinguish it from transport failures: a
// malformed topic list falls back to canned topics, a dead network does not.
var ErrMalformed = errors.New("malformed model output")

// Completer is the single LLM call the generator needs.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

const (
	sitemapMaxTokens = 2000
	pageMaxTokens    = 2500
	topicsMaxTokens  = 1500
	articleMaxTokens = 3000

	parallelPages    = 3
	parallelArticles = 3
)

// Generator produces website content from a business profile. Every
// sub-call is cached under a key derived from its own inputs, so a re-run
// after a partial failure only pays for the calls that never finished.
type Generator struct {
	llm    Completer
	cache  *cache.Store
	logger *slog.Logger
}

func NewGenerator(llm Completer, store *cache.Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: llm, cache: store, logger: logger}
}

func cacheKey(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + hex.EncodeToString(sum[:])[:16]
}

// bizKey serializes the whole business record for cache keying, so a
// record that gained a field (say, enhancement found an address)
// invalidates content generated from the older, thinner record.
func bizKey(biz BusinessInfo) string {
	b, _ := json.Marshal(biz)
	return string(b)
}

// GenerateSitemap plans the site structure for the business.
func (g *Generator) GenerateSitemap(ctx context.Context, biz BusinessInfo, style string) (Sitemap, error) {
	key := cacheKey("sitemap_", bizKey(biz), style)

	var sm Sitemap
	if g.cache.Get(cache.NamespaceAI, key, &sm) && len(sm.Pages) > 0 {
		return sm, nil
	}

	raw, err := g.llm.Complete(ctx, sitemapSystem, sitemapPrompt(biz, style), sitemapMaxTokens, 0.7)
	if err != nil {
		return Sitemap{}, fmt.Errorf("generating sitemap: %w", err)
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &sm); err != nil {
		return Sitemap{}, fmt.Errorf("%w: sitemap: %v", ErrMalformed, err)
	}
	if len(sm.Pages) == 0 {
		return Sitemap{}, fmt.Errorf("%w: sitemap contains no pages", ErrMalformed)
	}
	for i := range sm.Pages {
		if sm.Pages[i].Slug == "" {
			sm.Pages[i].Slug = Slugify(sm.Pages[i].Title)
		}
	}
	if sm.WebsiteTitle == "" {
		sm.WebsiteTitle = biz.Name
	}

	g.putCache(key, sm)
	return sm, nil
}

// GeneratePage writes the copy for one sitemap page.
func (g *Generator) GeneratePage(ctx context.Context, biz BusinessInfo, spec PageSpec, palette, style string) (Page, error) {
	key := cacheKey("page_content_", bizKey(biz), spec.Slug, palette, style)

	var page Page
	if g.cache.Get(cache.NamespaceAI, key, &page) && page.Content != "" {
		return page, nil
	}

	raw, err := g.llm.Complete(ctx, pageSystem, pagePrompt(biz, spec, palette, style), pageMaxTokens, 0.7)
	if err != nil {
		return Page{}, fmt.Errorf("generating page %q: %w", spec.Slug, err)
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &page); err != nil {
		return Page{}, fmt.Errorf("%w: page %q: %v", ErrMalformed, spec.Slug, err)
	}
	if page.Title == "" {
		page.Title = spec.Title
	}
	page.Slug = spec.Slug
	if page.MetaDescription == "" {
		page.MetaDescription = deriveMetaDescription(page.Content)
	}

	g.putCache(key, page)
	return page, nil
}

// GenerateBlogTopics plans the blog posts. A malformed topic list from the
// model falls back to a canned set instead of failing the run; transport
// errors still propagate.
func (g *Generator) GenerateBlogTopics(ctx context.Context, biz BusinessInfo) ([]Topic, error) {
	key := cacheKey("blog_topics_", bizKey(biz))

	var topics []Topic
	if g.cache.Get(cache.NamespaceAI, key, &topics) && len(topics) > 0 {
		return topics, nil
	}

	raw, err := g.llm.Complete(ctx, topicsSystem, topicsPrompt(biz), topicsMaxTokens, 0.8)
	if err != nil {
		return nil, fmt.Errorf("generating blog topics: %w", err)
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &topics); err != nil || len(topics) == 0 {
		g.logger.Warn("unparseable blog topic list, using fallback topics", "tax_code", biz.TaxCode, "error", err)
		return fallbackTopics(biz), nil
	}

	g.putCache(key, topics)
	return topics, nil
}

// GenerateArticle writes out one blog post from its topic.
func (g *Generator) GenerateArticle(ctx context.Context, biz BusinessInfo, topic Topic) (Article, error) {
	key := cacheKey("blog_article_", bizKey(biz), topic.Title)

	var art Article
	if g.cache.Get(cache.NamespaceAI, key, &art) && art.Content != "" {
		return art, nil
	}

	raw, err := g.llm.Complete(ctx, articleSystem, articlePrompt(biz, topic), articleMaxTokens, 0.7)
	if err != nil {
		return Article{}, fmt.Errorf("generating article %q: %w", topic.Title, err)
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &art); err != nil {
		return Article{}, fmt.Errorf("%w: article %q: %v", ErrMalformed, topic.Title, err)
	}
	if art.Title == "" {
		art.Title = topic.Title
	}
	art.Slug = Slugify(art.Title)
	if art.MetaDescription == "" {
		art.MetaDescription = topic.MetaDescription
	}
	if art.Category == "" {
		art.Category = topic.Category
	}
	if len(art.Tags) == 0 {
		art.Tags = topic.Tags
	}

	g.putCache(key, art)
	return art, nil
}

// GenerateWebsite assembles the whole site: sitemap, then pages in
// parallel, then topics, then articles in parallel. onProgress receives
// stage-relative percentages (0-100) and a status message; pass nil to
// skip reporting.
func (g *Generator) GenerateWebsite(ctx context.Context, biz BusinessInfo, palette, style string, onProgress func(pct int, message string)) (*Website, error) {
	report := func(pct int, msg string) {
		if onProgress != nil {
			onProgress(pct, msg)
		}
	}

	report(5, "Planning website structure...")
	sitemap, err := g.GenerateSitemap(ctx, biz, style)
	if err != nil {
		return nil, err
	}
	report(15, fmt.Sprintf("Planned %d pages", len(sitemap.Pages)))

	pages := make([]Page, len(sitemap.Pages))
	var donePages atomic.Int32
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelPages)
	for i, spec := range sitemap.Pages {
		eg.Go(func() error {
			page, err := g.GeneratePage(egCtx, biz, spec, palette, style)
			if err != nil {
				return err
			}
			pages[i] = page
			n := donePages.Add(1)
			report(15+int(n)*45/len(sitemap.Pages), fmt.Sprintf("Wrote page %q", page.Title))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	report(65, "Planning blog topics...")
	topics, err := g.GenerateBlogTopics(ctx, biz)
	if err != nil {
		return nil, err
	}

	articles := make([]Article, len(topics))
	var doneArticles atomic.Int32
	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(parallelArticles)
	for i, topic := range topics {
		eg.Go(func() error {
			art, err := g.GenerateArticle(egCtx, biz, topic)
			if err != nil {
				return err
			}
			articles[i] = art
			n := doneArticles.Add(1)
			report(65+int(n)*35/len(topics), fmt.Sprintf("Wrote article %q", art.Title))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Website{Sitemap: sitemap, Pages: pages, Topics: topics, Articles: articles}, nil
}

func (g *Generator) putCache(key string, payload any) {
	if err := g.cache.Put(cache.NamespaceAI, key, payload, nil, cache.TTLDefault); err != nil && !errors.Is(err, cache.ErrDisabled) {
		g.logger.Warn("caching generated content failed", "key", key, "error", err)
	}
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// cleanJSON strips markdown fences and leading/trailing prose from model
// output, leaving the outermost JSON object or array.
func cleanJSON(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start, closing := objStart, byte('}')
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start, closing = arrStart, ']'
	}
	if start < 0 {
		return s
	}
	end := strings.LastIndexByte(s, closing)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a URL slug.
func Slugify(title string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}

var markdownNoise = regexp.MustCompile(`[#*_\x60\[\]()>]`)

// deriveMetaDescription builds a description from the first sentences of
// the content, capped at 160 characters.
func deriveMetaDescription(content string) string {
	text := markdownNoise.ReplaceAllString(content, "")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= 160 {
		return text
	}
	cut := text[:160]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
