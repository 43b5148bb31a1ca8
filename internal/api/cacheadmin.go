package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/hmle/sitegen/internal/cache"
)

// Cache admin handlers. All of them are read-mostly debugging aids except
// clear and cleanup; the whole group sits behind bearer auth.

func cacheNamespaceParam(r *http.Request) string {
	return r.URL.Query().Get("namespace")
}

func cacheError(w http.ResponseWriter, err error) {
	if errors.Is(err, cache.ErrUnknownNamespace) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Cache.Stats()
		if err != nil {
			cacheError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleCacheList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := deps.Cache.List(cacheNamespaceParam(r), limit)
		if err != nil {
			cacheError(w, err)
			return
		}
		if entries == nil {
			entries = []cache.EntryInfo{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func handleCacheView(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns := cacheNamespaceParam(r)
		key := r.URL.Query().Get("key")
		if ns == "" || key == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "namespace and key are required")
			return
		}
		env, err := deps.Cache.View(ns, key)
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found_error", "no entry for key %q in %s", key, ns)
			return
		}
		if err != nil {
			cacheError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, env)
	}
}

func handleCacheExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		export, err := deps.Cache.Export(cacheNamespaceParam(r))
		if err != nil {
			cacheError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, export)
	}
}

func handleCacheSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		hits, err := deps.Cache.Search(query, cacheNamespaceParam(r))
		if err != nil {
			cacheError(w, err)
			return
		}
		if hits == nil {
			hits = []cache.SearchHit{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"query": query, "hits": hits})
	}
}

func handleCacheCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := deps.Cache.Cleanup()
		if err != nil {
			cacheError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
	}
}

func handleCacheClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns := cacheNamespaceParam(r)
		if err := deps.Cache.Clear(ns); err != nil {
			cacheError(w, err)
			return
		}
		deps.Logger.Info("cache cleared", "namespace", ns)
		respondJSON(w, http.StatusOK, map[string]any{"cleared": true, "namespace": ns})
	}
}
