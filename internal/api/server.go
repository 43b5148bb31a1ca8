// Package api exposes the generation service over HTTP: session submission
// and polling for the wizard client, preview endpoints, and a bearer-guarded
// cache admin surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/images"
	"github.com/hmle/sitegen/internal/status"
	"github.com/hmle/sitegen/internal/storage"
)

// Starter launches one generation run in the background.
type Starter interface {
	Run(ctx context.Context, sessionID, wpPassword string)
}

// BusinessLookup previews business collection without a session.
type BusinessLookup interface {
	Collect(ctx context.Context, taxCode string, report func(pct int, message string)) (business.Info, error)
}

// ImageSearcher previews image search without a session.
type ImageSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]images.Candidate, error)
}

// ConnectionTester verifies publish credentials.
type ConnectionTester interface {
	TestConnection(ctx context.Context) (string, error)
}

// Deps carries everything the handlers need.
type Deps struct {
	Store    *storage.Store
	Cache    *cache.Store
	Status   *status.Reporter
	Runner   Starter
	Business BusinessLookup
	Images   ImageSearcher
	// NewTester builds a throwaway publishing client for credential checks.
	NewTester func(siteURL, username, password string) ConnectionTester
	// AdminToken guards /api/cache. Empty disables the admin surface.
	AdminToken string
	Logger     *slog.Logger
	// PollInterval is the SSE poll cadence; zero means one second.
	PollInterval time.Duration
}

// NewHandler builds the full router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", handleGenerate(deps))
		r.Get("/progress/{sessionID}", handleProgress(deps))
		r.Get("/progress/{sessionID}/stream", handleProgressStream(deps))
		r.Get("/results/{sessionID}", handleResults(deps))
		r.Post("/wordpress/test", handleWordPressTest(deps))
		r.Get("/business/validate", handleBusinessValidate())
		r.Get("/business/{taxCode}", handleBusinessPreview(deps))
		r.Get("/images/search", handleImageSearch(deps))

		if deps.AdminToken != "" {
			r.Route("/cache", func(r chi.Router) {
				r.Use(BearerAuth(deps.AdminToken))
				r.Get("/stats", handleCacheStats(deps))
				r.Get("/entries", handleCacheList(deps))
				r.Get("/entries/view", handleCacheView(deps))
				r.Get("/export", handleCacheExport(deps))
				r.Get("/search", handleCacheSearch(deps))
				r.Post("/cleanup", handleCacheCleanup(deps))
				r.Delete("/", handleCacheClear(deps))
			})
		}
	})

	return r
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func statusTerminal(st status.Status) bool {
	return st.Completed || st.Stage == storage.StageError
}
