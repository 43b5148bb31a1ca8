// Package images finds, ranks, downloads, and uploads stock photos for
// generated pages and posts. Providers without an API key are skipped;
// having no provider at all just means no images, never a failed run.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/wordpress"
)

// ErrNoResults is returned when no provider produced a usable image.
var ErrNoResults = errors.New("no image results")

// MediaUploader is the slice of the publishing client the image stage
// needs. *wordpress.Client satisfies it.
type MediaUploader interface {
	UploadMedia(ctx context.Context, filename string, data []byte, altText string) (wordpress.Media, error)
	SetFeaturedImage(ctx context.Context, endpoint string, postID, mediaID int) error
}

const (
	maxImageBytes    = 10 << 20
	maxContentImages = 3
	downloadTimeout  = 30 * time.Second
)

// Config carries the manager's settings. Providers are built from the keys
// that are present.
type Config struct {
	UnsplashAccessKey string
	PexelsAPIKey      string
	PixabayAPIKey     string
	DownloadDir       string

	// Test seams. Empty values mean the real endpoints.
	UnsplashBaseURL string
	PexelsBaseURL   string
	PixabayBaseURL  string
	HTTPClient      *http.Client
}

// Manager coordinates provider search, ranking, download, and upload.
type Manager struct {
	providers   []Provider
	cache       *cache.Store
	logger      *slog.Logger
	downloadDir string
	httpClient  *http.Client
}

func NewManager(cfg Config, store *cache.Store, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: downloadTimeout}
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads/images"
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image download dir: %w", err)
	}

	m := &Manager{
		cache:       store,
		logger:      logger,
		downloadDir: cfg.DownloadDir,
		httpClient:  cfg.HTTPClient,
	}
	if cfg.UnsplashAccessKey != "" {
		m.providers = append(m.providers, NewUnsplash(cfg.UnsplashAccessKey, cfg.UnsplashBaseURL, cfg.HTTPClient))
	}
	if cfg.PexelsAPIKey != "" {
		m.providers = append(m.providers, NewPexels(cfg.PexelsAPIKey, cfg.PexelsBaseURL, cfg.HTTPClient))
	}
	if cfg.PixabayAPIKey != "" {
		m.providers = append(m.providers, NewPixabay(cfg.PixabayAPIKey, cfg.PixabayBaseURL, cfg.HTTPClient))
	}
	return m, nil
}

// HasProviders reports whether any image source is configured.
func (m *Manager) HasProviders() bool { return len(m.providers) > 0 }

// Search fans out to all configured providers concurrently, memoizes each
// provider's results, deduplicates by (source, id), and returns at most
// limit candidates in stable provider order.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	results := make([][]Candidate, len(m.providers))
	var mu sync.Mutex
	var lastErr error

	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range m.providers {
		eg.Go(func() error {
			found, err := m.searchProvider(egCtx, p, query, limit)
			if err != nil {
				m.logger.Warn("image provider search failed", "provider", p.Name(), "query", query, "error", err)
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return nil // one dead provider must not kill the others
			}
			results[i] = found
			return nil
		})
	}
	eg.Wait()

	seen := map[string]bool{}
	var merged []Candidate
	for _, found := range results {
		for _, c := range found {
			key := c.Source + "/" + c.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, c)
		}
	}
	if len(merged) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (m *Manager) searchProvider(ctx context.Context, p Provider, query string, limit int) ([]Candidate, error) {
	key := fmt.Sprintf("search_%s_%s", p.Name(), query)

	var cached []Candidate
	if m.cache.Get(cache.NamespaceImages, key, &cached) {
		if len(cached) > limit {
			cached = cached[:limit]
		}
		return cached, nil
	}

	found, err := p.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Put(cache.NamespaceImages, key, found, map[string]any{"provider": p.Name(), "query": query}, cache.TTLDefault); err != nil && !errors.Is(err, cache.ErrDisabled) {
		m.logger.Warn("caching image search failed", "key", key, "error", err)
	}
	return found, nil
}

// SelectBest ranks candidates and returns the winner. Landscape images
// score +10, resolution above one megapixel +5, unsplash +3, pexels +2.
// Ties keep the earlier candidate, so ranking is deterministic for a given
// input order.
func SelectBest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	sort.SliceStable(scored, func(i, j int) bool {
		return score(scored[i]) > score(scored[j])
	})
	return scored[0], true
}

func score(c Candidate) int {
	s := 0
	if c.Width > c.Height {
		s += 10
	}
	if c.Width*c.Height > 1_000_000 {
		s += 5
	}
	switch c.Source {
	case "unsplash":
		s += 3
	case "pexels":
		s += 2
	}
	return s
}

var stopWords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "a": true, "an": true,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)

// DeriveQuery extracts a short search query from a title plus optional
// context: lowercase, strip punctuation, drop stop words and words of three
// letters or fewer, keep the top three words by frequency.
func DeriveQuery(title, contextHint string) string {
	text := nonAlnumRe.ReplaceAllString(strings.ToLower(title+" "+contextHint), "")

	freq := map[string]int{}
	var order []string
	for _, w := range strings.Fields(text) {
		if len(w) <= 3 || stopWords[w] {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > 3 {
		order = order[:3]
	}
	return strings.Join(order, " ")
}

var headingRe = regexp.MustCompile(`(?m)^#{2,3}\s+(.+)$`)

// ExtractHeadings returns up to three H2/H3 headings from markdown, used
// to pick in-content image subjects.
func ExtractHeadings(markdown string) []string {
	var out []string
	for _, m := range headingRe.FindAllStringSubmatch(markdown, -1) {
		h := strings.TrimSpace(m[1])
		if h == "" {
			continue
		}
		out = append(out, h)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Download fetches the candidate into the download directory and returns
// the local path. The path is memoized by source URL; a cached path whose
// file has since been deleted is treated as a miss.
func (m *Manager) Download(ctx context.Context, c Candidate) (string, error) {
	var cachedPath string
	if m.cache.Get(cache.NamespaceImages, c.URL, &cachedPath) {
		if _, err := os.Stat(cachedPath); err == nil {
			return cachedPath, nil
		}
	}

	downloadURL := c.DownloadURL
	if downloadURL == "" {
		downloadURL = c.URL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	localPath := filepath.Join(m.downloadDir, fmt.Sprintf("image_%s_%s.%s", c.Source, c.ID, extensionOf(downloadURL)))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}

	if err := m.cache.Put(cache.NamespaceImages, c.URL, localPath, map[string]any{
		"source": c.Source, "width": c.Width, "height": c.Height, "file_size": len(data),
	}, m.cache.ImageTTL()); err != nil && !errors.Is(err, cache.ErrDisabled) {
		m.logger.Warn("caching image path failed", "url", c.URL, "error", err)
	}
	return localPath, nil
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "jpg"
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return "jpg"
	}
	return ext
}

// AssignFeatured finds the best image for the given subject, uploads it,
// and sets it as the featured image of an existing page or post.
func (m *Manager) AssignFeatured(ctx context.Context, up MediaUploader, endpoint string, postID int, title, contextHint string) (wordpress.Media, error) {
	query := DeriveQuery(title, contextHint)
	if query == "" {
		query = title
	}

	candidates, err := m.Search(ctx, query, 10)
	if err != nil {
		return wordpress.Media{}, err
	}
	best, ok := SelectBest(candidates)
	if !ok {
		return wordpress.Media{}, fmt.Errorf("%w for %q", ErrNoResults, query)
	}

	media, err := m.uploadCandidate(ctx, up, best, title)
	if err != nil {
		return wordpress.Media{}, err
	}
	if err := up.SetFeaturedImage(ctx, endpoint, postID, media.ID); err != nil {
		return wordpress.Media{}, err
	}
	return media, nil
}

// UploadContentImages finds one image per content heading (up to three)
// and uploads them. Individual failures are logged and skipped; the run
// keeps whatever succeeded.
func (m *Manager) UploadContentImages(ctx context.Context, up MediaUploader, title, markdown string) []wordpress.Media {
	var uploaded []wordpress.Media
	for _, heading := range ExtractHeadings(markdown) {
		query := DeriveQuery(heading, title)
		if query == "" {
			continue
		}
		candidates, err := m.Search(ctx, query, 5)
		if err != nil {
			m.logger.Warn("content image search failed", "heading", heading, "error", err)
			continue
		}
		best, ok := SelectBest(candidates)
		if !ok {
			continue
		}
		media, err := m.uploadCandidate(ctx, up, best, heading)
		if err != nil {
			m.logger.Warn("content image upload failed", "heading", heading, "error", err)
			continue
		}
		uploaded = append(uploaded, media)
		if len(uploaded) == maxContentImages {
			break
		}
	}
	return uploaded
}

func (m *Manager) uploadCandidate(ctx context.Context, up MediaUploader, c Candidate, altFallback string) (wordpress.Media, error) {
	localPath, err := m.Download(ctx, c)
	if err != nil {
		return wordpress.Media{}, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return wordpress.Media{}, err
	}
	alt := c.AltText
	if alt == "" {
		alt = altFallback
	}
	return up.UploadMedia(ctx, filepath.Base(localPath), data, alt)
}
