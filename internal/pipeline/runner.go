// Package pipeline runs one website generation end to end: collect the
// business record, generate content, publish to WordPress, and attach
// images. It owns the stage ordering and the fatal/non-fatal asymmetry:
// business and images absorb failures, content and publishing do not.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/content"
	"github.com/hmle/sitegen/internal/images"
	"github.com/hmle/sitegen/internal/storage"
	"github.com/hmle/sitegen/internal/wordpress"
)

// BusinessCollector resolves a tax code to a business record.
type BusinessCollector interface {
	Collect(ctx context.Context, taxCode string, report func(pct int, message string)) (business.Info, error)
}

// ContentGenerator produces the whole site from a business profile.
type ContentGenerator interface {
	GenerateWebsite(ctx context.Context, biz content.BusinessInfo, palette, style string, onProgress func(pct int, message string)) (*content.Website, error)
}

// Publisher is the per-session publishing client. It is created fresh for
// every run because credentials arrive with the request and are never
// stored in plaintext.
type Publisher interface {
	TestConnection(ctx context.Context) (string, error)
	CreatePage(ctx context.Context, c wordpress.Content) (wordpress.Post, error)
	CreatePost(ctx context.Context, c wordpress.Content) (wordpress.Post, error)
	images.MediaUploader
}

// ImageAssigner decorates published pages and posts with stock photos.
type ImageAssigner interface {
	HasProviders() bool
	AssignFeatured(ctx context.Context, up images.MediaUploader, endpoint string, postID int, title, contextHint string) (wordpress.Media, error)
	UploadContentImages(ctx context.Context, up images.MediaUploader, title, markdown string) []wordpress.Media
}

// Result is the terminal record stored for the session.
type Result struct {
	Success     bool     `json:"success"`
	WebsiteURL  string   `json:"website_url,omitempty"`
	PagesCount  int      `json:"pages_count,omitempty"`
	PostsCount  int      `json:"posts_count,omitempty"`
	ImagesCount int      `json:"images_count,omitempty"`
	Duration    string   `json:"generation_time,omitempty"`
	NextSteps   []string `json:"next_steps,omitempty"`
	Error       string   `json:"error,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// Runner executes generation sessions. All fields are required except
// Logger.
type Runner struct {
	Store        *storage.Store
	Business     BusinessCollector
	Content      ContentGenerator
	Images       ImageAssigner
	NewPublisher func(siteURL, username, password string) Publisher
	Logger       *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes the pipeline for an existing session. The publish password
// arrives as an argument and lives only for the duration of the run. Run
// never returns an error to its caller (it is launched fire-and-forget);
// all outcomes land in the progress ledger and the result record.
func (r *Runner) Run(ctx context.Context, sessionID, wpPassword string) {
	started := time.Now()
	log := r.logger().With("session_id", sessionID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline panicked", "panic", rec)
			r.fail(sessionID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	sess, err := r.Store.GetSession(sessionID)
	if err != nil {
		log.Error("loading session failed", "error", err)
		return
	}
	if err := r.Store.InitProgress(sessionID); err != nil {
		log.Error("initializing progress failed", "error", err)
		return
	}

	report := func(stage string, pct int, msg string) {
		if err := r.Store.UpdateProgress(sessionID, stage, pct, msg); err != nil {
			log.Warn("progress write failed", "stage", stage, "error", err)
		}
	}

	// Stage 1: business lookup. An empty record is not fatal; the content
	// stage works from whatever we found.
	log.Info("pipeline started", "tax_code", sess.TaxCode)
	info, err := r.Business.Collect(ctx, sess.TaxCode, func(pct int, msg string) {
		report(storage.StageBusiness, pct, msg)
	})
	if err != nil {
		r.fail(sessionID, fmt.Sprintf("business lookup failed: %v", err))
		return
	}
	if !info.Found() {
		log.Warn("no business record found, continuing with a minimal profile")
	}

	// Stage 2: content generation. Fatal on error; without content there
	// is nothing to publish.
	site, err := r.Content.GenerateWebsite(ctx, businessProfile(info), sess.ColorPalette, sess.WebsiteStyle, func(pct int, msg string) {
		report(storage.StageContent, pct, msg)
	})
	if err != nil {
		r.fail(sessionID, fmt.Sprintf("content generation failed: %v", err))
		return
	}

	// Stage 3: publishing. Credentials are verified before any write so a
	// bad password fails fast instead of after paid generation work.
	pub := r.NewPublisher(sess.WPURL, sess.WPUsername, wpPassword)
	report(storage.StageWordPress, 0, "Connecting to WordPress...")
	if _, err := pub.TestConnection(ctx); err != nil {
		r.fail(sessionID, fmt.Sprintf("WordPress connection failed: %v", err))
		return
	}

	pages := make([]wordpress.Post, 0, len(site.Pages))
	for i, page := range site.Pages {
		report(storage.StageWordPress, 5+i*55/len(site.Pages), fmt.Sprintf("Publishing page %q...", page.Title))
		created, err := pub.CreatePage(ctx, wordpress.Content{
			Title:   page.Title,
			Slug:    page.Slug,
			Body:    page.Content,
			Excerpt: page.MetaDescription,
		})
		if err != nil {
			r.fail(sessionID, fmt.Sprintf("publishing page %q failed: %v", page.Slug, err))
			return
		}
		pages = append(pages, created)
	}

	posts := make([]wordpress.Post, 0, len(site.Articles))
	for i, art := range site.Articles {
		report(storage.StageWordPress, 60+i*35/max(len(site.Articles), 1), fmt.Sprintf("Publishing article %q...", art.Title))
		created, err := pub.CreatePost(ctx, wordpress.Content{
			Title:   art.Title,
			Slug:    art.Slug,
			Body:    art.Content,
			Excerpt: art.MetaDescription,
		})
		if err != nil {
			r.fail(sessionID, fmt.Sprintf("publishing article %q failed: %v", art.Slug, err))
			return
		}
		posts = append(posts, created)
	}
	report(storage.StageWordPress, 100, "All content published")

	// Stage 4: images. Every failure here is per-item and non-fatal; a
	// site without photos is still a delivered site.
	imageCount := 0
	if !r.Images.HasProviders() {
		report(storage.StageImages, 100, "No image providers configured, skipping images")
	} else {
		for i, page := range site.Pages {
			report(storage.StageImages, i*100/len(site.Pages), fmt.Sprintf("Finding images for %q...", page.Title))
			if _, err := r.Images.AssignFeatured(ctx, pub, wordpress.EndpointPages, pages[i].ID, page.Title, info.CompanyName); err != nil {
				log.Warn("featured image skipped", "page", page.Slug, "error", err)
			} else {
				imageCount++
			}
			imageCount += len(r.Images.UploadContentImages(ctx, pub, page.Title, page.Content))
		}
		for i, art := range site.Articles {
			if _, err := r.Images.AssignFeatured(ctx, pub, wordpress.EndpointPosts, posts[i].ID, art.Title, info.CompanyName); err != nil {
				log.Warn("featured image skipped", "post", art.Slug, "error", err)
			} else {
				imageCount++
			}
		}
	}

	if err := r.Store.MarkComplete(sessionID); err != nil {
		log.Error("marking session complete failed", "error", err)
	}

	r.saveResult(sessionID, Result{
		Success:     true,
		WebsiteURL:  sess.WPURL,
		PagesCount:  len(pages),
		PostsCount:  len(posts),
		ImagesCount: imageCount,
		Duration:    time.Since(started).Round(time.Second).String(),
		NextSteps: []string{
			"Review the generated pages and adjust wording where needed",
			"Pick a theme that matches the chosen color palette",
			"Set up the site menu from the published pages",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	log.Info("pipeline finished", "pages", len(pages), "posts", len(posts), "images", imageCount,
		"duration", time.Since(started).Round(time.Second))
}

// fail moves the session into the terminal error state and records an
// error result.
func (r *Runner) fail(sessionID, message string) {
	r.logger().Error("pipeline failed", "session_id", sessionID, "error", message)
	if err := r.Store.MarkError(sessionID, message); err != nil {
		r.logger().Error("marking session failed", "session_id", sessionID, "error", err)
	}
	r.saveResult(sessionID, Result{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Runner) saveResult(sessionID string, res Result) {
	data, err := json.Marshal(res)
	if err != nil {
		r.logger().Error("marshaling result failed", "session_id", sessionID, "error", err)
		return
	}
	if err := r.Store.SaveResult(sessionID, string(data)); err != nil {
		r.logger().Error("saving result failed", "session_id", sessionID, "error", err)
	}
}

// businessProfile maps the collected record to the generator's input. A
// business nothing was found for still gets a name, so prompts stay
// coherent.
func businessProfile(info business.Info) content.BusinessInfo {
	name := info.CompanyName
	if name == "" {
		name = "Company " + info.TaxCode
	}
	return content.BusinessInfo{
		TaxCode:     info.TaxCode,
		Name:        name,
		Address:     info.Address,
		Phone:       info.Phone,
		Email:       info.Email,
		Industry:    info.Industry,
		Description: info.BusinessType,
	}
}
