package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Admin operations over the store: statistics, listing, inspection, export,
// search, and eager cleanup. These are debugging aids; none of them are
// needed for cache correctness (expiry is checked lazily on read).

// NamespaceStats describes one namespace partition.
type NamespaceStats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats summarizes the whole store.
type Stats struct {
	Enabled    bool                      `json:"enabled"`
	Dir        string                    `json:"dir"`
	Namespaces map[string]NamespaceStats `json:"namespaces"`
}

// Stats walks every namespace and counts entry files and bytes.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		Enabled:    s.cfg.Enabled,
		Dir:        s.cfg.Dir,
		Namespaces: make(map[string]NamespaceStats, len(Namespaces)),
	}
	for _, ns := range Namespaces {
		files, err := s.entryFiles(ns)
		if err != nil {
			return Stats{}, err
		}
		var bytes int64
		for _, f := range files {
			if info, err := os.Stat(f); err == nil {
				bytes += info.Size()
			}
		}
		st.Namespaces[ns] = NamespaceStats{Entries: len(files), TotalBytes: bytes}
	}
	return st, nil
}

// EntryInfo is a listing row for one cached entry.
type EntryInfo struct {
	Namespace string `json:"namespace"`
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes"`
	CachedAt  string `json:"cached_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expired   bool   `json:"expired"`
	Corrupt   bool   `json:"corrupt,omitempty"`
}

// List returns up to limit entries for the namespace (all namespaces when
// empty), newest first.
func (s *Store) List(namespace string, limit int) ([]EntryInfo, error) {
	namespaces := Namespaces
	if namespace != "" {
		if !validNamespace(namespace) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
		}
		namespaces = []string{namespace}
	}
	if limit <= 0 {
		limit = 50
	}

	var entries []EntryInfo
	for _, ns := range namespaces {
		files, err := s.entryFiles(ns)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			info := EntryInfo{Namespace: ns, File: filepath.Base(f)}
			if fi, err := os.Stat(f); err == nil {
				info.SizeBytes = fi.Size()
			}
			env, err := s.readEnvelope(f)
			if err != nil {
				info.Corrupt = true
			} else {
				info.CachedAt = env.CachedAt.Format("2006-01-02 15:04:05")
				info.ExpiresAt = env.ExpiresAt.Format("2006-01-02 15:04:05")
				info.Expired = !env.Valid(s.now())
			}
			entries = append(entries, info)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CachedAt > entries[j].CachedAt })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// View loads the full envelope for (namespace, key). The key may be the
// original caller key or an on-disk file name from List.
func (s *Store) View(namespace, key string) (Envelope, error) {
	if !validNamespace(namespace) {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}

	path := s.filename(namespace, key)
	if _, err := os.Stat(path); err == nil {
		return s.readEnvelope(path)
	}

	// Fall back to matching a listed file name or sanitized-key prefix.
	files, err := s.entryFiles(namespace)
	if err != nil {
		return Envelope{}, err
	}
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	for _, f := range files {
		base := filepath.Base(f)
		if base == key || strings.HasPrefix(base, safe+"_") {
			return s.readEnvelope(f)
		}
	}
	return Envelope{}, os.ErrNotExist
}

// Export returns every entry envelope per namespace (all namespaces when
// empty), for dumping to JSON.
func (s *Store) Export(namespace string) (map[string][]Envelope, error) {
	namespaces := Namespaces
	if namespace != "" {
		if !validNamespace(namespace) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
		}
		namespaces = []string{namespace}
	}

	out := make(map[string][]Envelope, len(namespaces))
	for _, ns := range namespaces {
		files, err := s.entryFiles(ns)
		if err != nil {
			return nil, err
		}
		envs := []Envelope{}
		for _, f := range files {
			env, err := s.readEnvelope(f)
			if err != nil {
				continue // corrupt entries are skipped, not fatal
			}
			envs = append(envs, env)
		}
		out[ns] = envs
	}
	return out, nil
}

// SearchHit is one match from Search.
type SearchHit struct {
	Namespace string `json:"namespace"`
	File      string `json:"file"`
	Snippet   string `json:"snippet"`
}

// Search does a substring match over the serialized payload of every entry
// in the namespace (all namespaces when empty).
func (s *Store) Search(query, namespace string) ([]SearchHit, error) {
	namespaces := Namespaces
	if namespace != "" {
		if !validNamespace(namespace) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
		}
		namespaces = []string{namespace}
	}

	var hits []SearchHit
	needle := []byte(query)
	for _, ns := range namespaces {
		files, err := s.entryFiles(ns)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			idx := bytes.Index(data, needle)
			if idx < 0 {
				continue
			}
			hits = append(hits, SearchHit{
				Namespace: ns,
				File:      filepath.Base(f),
				Snippet:   snippet(data, idx, len(needle)),
			})
		}
	}
	return hits, nil
}

func snippet(data []byte, idx, n int) string {
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + n + 40
	if end > len(data) {
		end = len(data)
	}
	return string(data[start:end])
}

// Cleanup eagerly deletes expired and corrupt entries across all
// namespaces and returns the number of files removed.
func (s *Store) Cleanup() (int, error) {
	removed := 0
	now := s.now()
	for _, ns := range Namespaces {
		files, err := s.entryFiles(ns)
		if err != nil {
			return removed, err
		}
		for _, f := range files {
			env, err := s.readEnvelope(f)
			if err == nil && env.Valid(now) {
				continue
			}
			if os.Remove(f) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) entryFiles(namespace string) ([]string, error) {
	dir := filepath.Join(s.cfg.Dir, namespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
