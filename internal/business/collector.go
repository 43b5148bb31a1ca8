package business

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hmle/sitegen/internal/cache"
)

// ErrInvalidTaxCode is returned for codes that do not match the registry
// format. It is the only error Collect returns; everything downstream is
// best-effort.
var ErrInvalidTaxCode = errors.New("invalid tax code format")

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 2 << 20
)

// Config carries the collector's endpoints. Zero values get production
// defaults; tests point every URL at a local server.
type Config struct {
	HTTPClient    *http.Client
	PortalURL     string
	SearchURL     string
	DirectoryURLs []string
	UserAgent     string
}

type source struct {
	name   string
	label  string
	weight int
	fetch  func(ctx context.Context, taxCode string) (Info, error)
}

// Collector resolves a tax code to a business record by trying a fixed,
// ordered list of sources until one produces a company name.
type Collector struct {
	cfg     Config
	cache   *cache.Store
	logger  *slog.Logger
	sources []source
}

func NewCollector(cfg Config, store *cache.Store, logger *slog.Logger) *Collector {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.PortalURL == "" {
		cfg.PortalURL = "https://dangkykinhdoanh.gov.vn/en/Pages/default.aspx"
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://duckduckgo.com/html/"
	}
	if len(cfg.DirectoryURLs) == 0 {
		cfg.DirectoryURLs = []string{
			"https://www.yellowpages.vn/",
			"https://www.vietnamyp.com/",
			"https://www.vietbiz.com.vn/",
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{cfg: cfg, cache: store, logger: logger}
	c.sources = []source{
		{name: "official_portal", label: "Checking the business registry...", weight: 20, fetch: c.fromOfficialPortal},
		{name: "web_search", label: "Searching the web...", weight: 30, fetch: c.fromWebSearch},
		{name: "business_directories", label: "Checking business directories...", weight: 25, fetch: c.fromDirectories},
	}
	return c
}

// Collect resolves the tax code. report (optional) receives stage-relative
// progress percentages and a status message. The returned record may be
// empty apart from the tax code; callers check Found().
func (c *Collector) Collect(ctx context.Context, taxCode string, report func(pct int, message string)) (Info, error) {
	if !ValidTaxCode(taxCode) {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidTaxCode, taxCode)
	}
	if report == nil {
		report = func(int, string) {}
	}

	var cached Info
	if c.cache.Get(cache.NamespaceBusiness, taxCode, &cached) && cached.Found() {
		report(100, "Using previously collected business data")
		return cached, nil
	}

	info := Info{
		TaxCode:     taxCode,
		CollectedAt: time.Now().UTC(),
		Debug:       DebugInfo{SourceErrors: map[string]string{}},
	}

	report(10, "Looking up business information...")

	totalWeight := 0
	for _, s := range c.sources {
		totalWeight += s.weight
	}

	done := 0
	for _, s := range c.sources {
		report(10+done*80/totalWeight, s.label)
		info.Debug.SourcesTried = append(info.Debug.SourcesTried, s.name)

		data, err := s.fetch(ctx, taxCode)
		done += s.weight
		if err != nil {
			c.logger.Warn("business source failed", "source", s.name, "tax_code", taxCode, "error", err)
			info.Debug.SourceErrors[s.name] = err.Error()
			continue
		}
		if data.Found() {
			merge(&info, data)
			info.Source = s.name
			info.Debug.SuccessfulSource = s.name
			break
		}
	}

	if info.Found() && (info.Phone == "" || info.Email == "" || info.Website == "") {
		report(92, "Enhancing business profile...")
		if enhanced, err := c.enhance(ctx, info.CompanyName); err == nil {
			fillMissing(&info, enhanced)
			info.Debug.Enhanced = true
		} else {
			c.logger.Warn("enhancement search failed", "company", info.CompanyName, "error", err)
		}
	}

	if err := c.cache.Put(cache.NamespaceBusiness, taxCode, info, map[string]any{"source": info.Source}, cache.TTLDefault); err != nil && !errors.Is(err, cache.ErrDisabled) {
		c.logger.Warn("caching business record failed", "tax_code", taxCode, "error", err)
	}

	report(100, "Business information collected")
	return info, nil
}

func merge(dst *Info, src Info) {
	dst.CompanyName = src.CompanyName
	fillMissing(dst, src)
}

// fillMissing copies contact fields from src that dst lacks.
func fillMissing(dst *Info, src Info) {
	if dst.Address == "" {
		dst.Address = src.Address
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.Website == "" {
		dst.Website = src.Website
	}
	if dst.Industry == "" {
		dst.Industry = src.Industry
	}
	if dst.BusinessType == "" {
		dst.BusinessType = src.BusinessType
	}
}

// --- Sources ---

func (c *Collector) fromOfficialPortal(ctx context.Context, taxCode string) (Info, error) {
	body, err := c.fetchCached(ctx, "official_portal_"+taxCode, c.cfg.PortalURL+"?q="+url.QueryEscape(taxCode))
	if err != nil {
		return Info{}, err
	}

	doc, err := parsePage(body)
	if err != nil {
		return Info{}, err
	}
	return extractPortal(doc), nil
}

func (c *Collector) fromWebSearch(ctx context.Context, taxCode string) (Info, error) {
	queries := []string{
		fmt.Sprintf("%q Vietnam company business", taxCode),
		fmt.Sprintf("%q Vietnam enterprise registration", taxCode),
		fmt.Sprintf("mã số thuế %q Vietnam", taxCode),
	}

	var lastErr error
	for _, q := range queries {
		pageURL := c.cfg.SearchURL + "?q=" + url.QueryEscape(q)
		info, err := c.searchAndExtract(ctx, "web_search_"+hashKey(q), pageURL, taxCode)
		if err != nil {
			lastErr = err
			continue
		}
		if info.Found() {
			return info, nil
		}
	}
	return Info{}, lastErr
}

func (c *Collector) fromDirectories(ctx context.Context, taxCode string) (Info, error) {
	var lastErr error
	for _, dir := range c.cfg.DirectoryURLs {
		pageURL := dir + "?q=" + url.QueryEscape(taxCode)
		info, err := c.searchAndExtract(ctx, "directory_"+hashKey(pageURL), pageURL, taxCode)
		if err != nil {
			lastErr = err
			continue
		}
		if info.Found() {
			return info, nil
		}
	}
	return Info{}, lastErr
}

// searchAndExtract fetches a results page, finds the first link that looks
// like a business listing, and extracts the record from the listing page.
func (c *Collector) searchAndExtract(ctx context.Context, cacheKey, pageURL, taxCode string) (Info, error) {
	body, err := c.fetchCached(ctx, cacheKey, pageURL)
	if err != nil {
		return Info{}, err
	}

	doc, err := parsePage(body)
	if err != nil {
		return Info{}, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return Info{}, err
	}

	for _, l := range collectLinks(doc) {
		if !looksLikeListing(l, taxCode) {
			continue
		}
		ref, err := url.Parse(l.href)
		if err != nil {
			continue
		}
		listingURL := base.ResolveReference(ref).String()
		listingBody, err := c.fetchCached(ctx, "listing_"+hashKey(listingURL), listingURL)
		if err != nil {
			continue
		}
		if info := extractListing(listingBody); info.Found() {
			return info, nil
		}
	}
	return Info{}, nil
}

// enhance runs one extra contact-details search for an already-identified
// company and extracts whatever patterns appear on the results page.
func (c *Collector) enhance(ctx context.Context, companyName string) (Info, error) {
	q := fmt.Sprintf("%q Vietnam contact phone email website", companyName)
	body, err := c.fetchCached(ctx, "enhancement_"+hashKey(companyName), c.cfg.SearchURL+"?q="+url.QueryEscape(q))
	if err != nil {
		return Info{}, err
	}
	info := extractListing(body)
	info.CompanyName = ""
	return info, nil
}

// fetchCached GETs a URL, memoizing successful responses in the api
// namespace so repeated collections do not re-hit external sites.
func (c *Collector) fetchCached(ctx context.Context, key, rawURL string) (string, error) {
	var body string
	if c.cache.Get(cache.NamespaceAPI, key, &body) {
		return body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	body = string(data)

	if err := c.cache.Put(cache.NamespaceAPI, key, body, map[string]any{"url": rawURL}, cache.TTLDefault); err != nil && !errors.Is(err, cache.ErrDisabled) {
		c.logger.Warn("caching response failed", "key", key, "error", err)
	}
	return body, nil
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
