// Package wordpress publishes generated content to a WordPress site over
// the REST v2 API with basic authentication (application passwords).
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to one WordPress site.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client for the site at baseURL (scheme + host, no
// /wp-json suffix) authenticating as username with an application password.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Post is a page or post as the REST API returns it.
type Post struct {
	ID   int    `json:"id"`
	Slug string `json:"slug"`
	Link string `json:"link"`
}

// Media is an uploaded media item.
type Media struct {
	ID        int    `json:"id"`
	SourceURL string `json:"source_url"`
}

// Content is what the caller wants published.
type Content struct {
	Title         string
	Slug          string
	Body          string
	Excerpt       string
	Status        string // defaults to "publish"
	FeaturedMedia int
}

// APIError is a non-2xx response from the site.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wordpress API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("wordpress API error %d", e.StatusCode)
}

// TestConnection verifies the URL and credentials by fetching the
// authenticated user. It returns the display name on success.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var user struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/wp-json/wp/v2/users/me", nil, "", &user); err != nil {
		return "", fmt.Errorf("connection test failed: %w", err)
	}
	return user.Name, nil
}

// CreatePage publishes a page. If a page with the same slug already exists
// it is updated in place, so a retried run never produces duplicates.
func (c *Client) CreatePage(ctx context.Context, content Content) (Post, error) {
	return c.upsert(ctx, "/wp-json/wp/v2/pages", content)
}

// CreatePost publishes a blog post with the same slug semantics as
// CreatePage.
func (c *Client) CreatePost(ctx context.Context, content Content) (Post, error) {
	return c.upsert(ctx, "/wp-json/wp/v2/posts", content)
}

func (c *Client) upsert(ctx context.Context, endpoint string, content Content) (Post, error) {
	if content.Status == "" {
		content.Status = "publish"
	}

	body := map[string]any{
		"title":   content.Title,
		"slug":    content.Slug,
		"content": content.Body,
		"status":  content.Status,
	}
	if content.Excerpt != "" {
		body["excerpt"] = content.Excerpt
	}
	if content.FeaturedMedia > 0 {
		body["featured_media"] = content.FeaturedMedia
	}

	target := endpoint
	if existing, ok, err := c.findBySlug(ctx, endpoint, content.Slug); err != nil {
		return Post{}, err
	} else if ok {
		target = endpoint + "/" + strconv.Itoa(existing.ID)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Post{}, fmt.Errorf("marshaling content: %w", err)
	}

	var created Post
	if err := c.do(ctx, http.MethodPost, target, bytes.NewReader(payload), "application/json", &created); err != nil {
		return Post{}, fmt.Errorf("publishing %q: %w", content.Slug, err)
	}
	return created, nil
}

// findBySlug looks up an existing page or post by slug. Drafts and
// published items both count.
func (c *Client) findBySlug(ctx context.Context, endpoint, slug string) (Post, bool, error) {
	var items []Post
	path := endpoint + "?" + url.Values{"slug": {slug}, "status": {"publish,draft"}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, "", &items); err != nil {
		return Post{}, false, fmt.Errorf("looking up slug %q: %w", slug, err)
	}
	if len(items) == 0 {
		return Post{}, false, nil
	}
	return items[0], true, nil
}

// UploadMedia uploads an image and sets its alt text.
func (c *Client) UploadMedia(ctx context.Context, filename string, data []byte, altText string) (Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Media{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Media{}, err
	}
	if altText != "" {
		mw.WriteField("alt_text", altText)
	}
	if err := mw.Close(); err != nil {
		return Media{}, err
	}

	var media Media
	if err := c.do(ctx, http.MethodPost, "/wp-json/wp/v2/media", &buf, mw.FormDataContentType(), &media); err != nil {
		return Media{}, fmt.Errorf("uploading %q: %w", filename, err)
	}
	return media, nil
}

// SetFeaturedImage attaches an uploaded media item as the featured image
// of an existing page or post.
func (c *Client) SetFeaturedImage(ctx context.Context, endpoint string, postID, mediaID int) error {
	payload, _ := json.Marshal(map[string]int{"featured_media": mediaID})
	path := endpoint + "/" + strconv.Itoa(postID)
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", nil); err != nil {
		return fmt.Errorf("setting featured image on %d: %w", postID, err)
	}
	return nil
}

// Endpoints for SetFeaturedImage.
const (
	EndpointPages = "/wp-json/wp/v2/pages"
	EndpointPosts = "/wp-json/wp/v2/posts"
)

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		json.Unmarshal(data, apiErr)
		return apiErr
	}

	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
