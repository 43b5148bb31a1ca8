package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/images"
	"github.com/hmle/sitegen/internal/storage"
)

const maxRequestBody = 1 << 20

// GenerateRequest is the wizard's submission.
type GenerateRequest struct {
	TaxCode      string `json:"tax_code"`
	ColorPalette string `json:"color_palette"`
	WebsiteStyle string `json:"website_style"`
	WPURL        string `json:"wp_url"`
	WPUsername   string `json:"wp_username"`
	WPPassword   string `json:"wp_password"`
}

func (req GenerateRequest) validate() error {
	missing := []string{}
	for field, value := range map[string]string{
		"tax_code":      req.TaxCode,
		"color_palette": req.ColorPalette,
		"website_style": req.WebsiteStyle,
		"wp_url":        req.WPURL,
		"wp_username":   req.WPUsername,
		"wp_password":   req.WPPassword,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if !business.ValidTaxCode(req.TaxCode) {
		return fmt.Errorf("invalid tax code format: %q", req.TaxCode)
	}
	if !strings.HasPrefix(req.WPURL, "http://") && !strings.HasPrefix(req.WPURL, "https://") {
		return fmt.Errorf("wp_url must include a scheme")
	}
	return nil
}

func newSessionID() string {
	return fmt.Sprintf("ws_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing credentials: %w", err)
	}
	return string(hash), nil
}

func trimURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		defer r.Body.Close()

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		// Only a hash of the publish password is persisted; the plaintext
		// rides along in memory into the background run, which is detached
		// from the request context because it outlives this request.
		sessionID, err := startSession(deps, req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		deps.Logger.Info("generation session started", "session_id", sessionID, "tax_code", req.TaxCode)
		respondJSON(w, http.StatusAccepted, map[string]any{
			"session_id": sessionID,
			"status":     "started",
		})
	}
}

func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		st, err := deps.Status.Get(sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown session %q", sessionID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading status: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, st)
	}
}

// handleProgressStream pushes status over SSE until the session reaches a
// terminal state. Clients that cannot hold the stream fall back to polling
// the plain progress endpoint.
func handleProgressStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
			return
		}

		if _, err := deps.Status.Get(sessionID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown session %q", sessionID)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ticker := time.NewTicker(deps.PollInterval)
		defer ticker.Stop()

		for {
			st, err := deps.Status.Get(sessionID)
			if err != nil {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

			if statusTerminal(st) {
				return
			}
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func handleResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		result, err := deps.Store.GetResult(sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no result for session %q", sessionID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading result: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(result))
	}
}

func handleWordPressTest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		defer r.Body.Close()

		var req struct {
			WPURL      string `json:"wp_url"`
			WPUsername string `json:"wp_username"`
			WPPassword string `json:"wp_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.WPURL == "" || req.WPUsername == "" || req.WPPassword == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "wp_url, wp_username and wp_password are required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		// A failed connection is a normal outcome for this endpoint, not an
		// API error.
		user, err := deps.NewTester(strings.TrimRight(req.WPURL, "/"), req.WPUsername, req.WPPassword).TestConnection(ctx)
		if err != nil {
			respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	}
}

func handleBusinessValidate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taxCode := r.URL.Query().Get("tax_code")
		respondJSON(w, http.StatusOK, map[string]any{
			"tax_code": taxCode,
			"valid":    business.ValidTaxCode(taxCode),
		})
	}
}

func handleBusinessPreview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taxCode := chi.URLParam(r, "taxCode")

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		info, err := deps.Business.Collect(ctx, taxCode, nil)
		if errors.Is(err, business.ErrInvalidTaxCode) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "collecting business info: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, info)
	}
}

func handleImageSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		found, err := deps.Images.Search(r.Context(), query, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "image search failed: %v", err)
			return
		}
		if found == nil {
			found = []images.Candidate{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"query": query, "results": found})
	}
}
