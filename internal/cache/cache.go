// Package cache implements the file-backed memoization store used to
// remember expensive external calls (AI completions, API responses, image
// searches, business lookups) across requests and processes.
//
// Caching is best-effort and advisory: a miss, a corrupt entry, or a
// disabled store all look the same to callers (no value), and every caller
// must be able to recompute from scratch.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Cache namespaces. Each namespace is a separate directory and can be
// cleared, exported, and inspected independently.
const (
	NamespaceAI       = "ai"
	NamespaceAPI      = "api"
	NamespaceImages   = "images"
	NamespaceBusiness = "business"
	NamespaceSessions = "sessions"
)

// Namespaces lists all valid namespaces in a stable order.
var Namespaces = []string{NamespaceAI, NamespaceAPI, NamespaceImages, NamespaceBusiness, NamespaceSessions}

// TTLDefault asks Put to apply the store's configured default TTL. Any
// negative ttl behaves the same; zero is a real TTL and produces an entry
// that is already expired.
const TTLDefault time.Duration = -1

// ErrDisabled is returned by Put when the store is switched off.
var ErrDisabled = errors.New("cache disabled")

// ErrUnknownNamespace is returned for namespaces outside Namespaces.
var ErrUnknownNamespace = errors.New("unknown cache namespace")

const fileExt = ".cache"

// Config carries the store settings. It is passed explicitly so tests can
// run independent stores with different TTLs in one process.
type Config struct {
	Dir        string
	Enabled    bool
	DefaultTTL time.Duration
	ImageTTL   time.Duration
}

// Envelope is the on-disk entry format.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Valid reports whether the entry has not expired at the given instant.
func (e Envelope) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is a namespaced, expiring, file-backed key/value store. Entries for
// distinct keys never contend; a single key's write is atomic (temp file +
// rename) so concurrent readers never observe a half-written entry.
type Store struct {
	cfg Config
	now func() time.Time
}

// New creates a Store rooted at cfg.Dir and ensures the namespace
// directories exist. A disabled store is still constructed (admin
// operations keep working on whatever files exist).
func New(cfg Config) (*Store, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = 7 * 24 * time.Hour
	}
	s := &Store{cfg: cfg, now: time.Now}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithClock creates a Store with a custom clock (for tests).
func NewWithClock(cfg Config, now func() time.Time) (*Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	s.now = now
	return s, nil
}

// Enabled reports whether writes are accepted and reads consulted.
func (s *Store) Enabled() bool { return s.cfg.Enabled }

// DefaultTTL returns the TTL applied when callers pass TTLDefault to Put.
func (s *Store) DefaultTTL() time.Duration { return s.cfg.DefaultTTL }

// ImageTTL returns the longer TTL intended for downloaded image entries.
func (s *Store) ImageTTL() time.Duration { return s.cfg.ImageTTL }

func (s *Store) ensureDirs() error {
	for _, ns := range Namespaces {
		if err := os.MkdirAll(filepath.Join(s.cfg.Dir, ns), 0o755); err != nil {
			return fmt.Errorf("creating cache directory for %s: %w", ns, err)
		}
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// filename maps (namespace, key) to a deterministic path. The sanitized key
// keeps entries human-readable on disk; the hash suffix covers the full key
// so two keys that sanitize identically still get distinct files.
func (s *Store) filename(namespace, key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	if len(safe) > 120 {
		safe = safe[:120]
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.cfg.Dir, namespace, safe+"_"+hex.EncodeToString(sum[:])[:32]+fileExt)
}

func validNamespace(namespace string) bool {
	for _, ns := range Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// Put serializes payload (plus free-form metadata) under (namespace, key)
// with the given TTL. A negative ttl (see TTLDefault) means the store
// default; ttl zero writes an entry whose expires_at is now, so a
// subsequent Get misses. Repeated writes for the same key overwrite the
// previous entry.
func (s *Store) Put(namespace, key string, payload any, metadata map[string]any, ttl time.Duration) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !validNamespace(namespace) {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	if ttl < 0 {
		ttl = s.cfg.DefaultTTL
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling cache payload: %w", err)
	}

	now := s.now()
	env := Envelope{
		Payload:   raw,
		Metadata:  metadata,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling cache envelope: %w", err)
	}

	path := s.filename(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating namespace dir: %w", err)
	}

	// Write to a temp file in the same directory and rename into place so a
	// concurrent reader never sees a partial entry.
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	return nil
}

// Get loads the entry under (namespace, key) into dest and reports whether
// a valid entry was found. Missing files, corrupt entries, and expired
// entries are all plain misses: the caller recomputes.
func (s *Store) Get(namespace, key string, dest any) bool {
	if !s.cfg.Enabled {
		return false
	}

	env, err := s.readEnvelope(s.filename(namespace, key))
	if err != nil {
		return false
	}
	if !env.Valid(s.now()) {
		return false
	}
	if dest == nil {
		return true
	}
	return json.Unmarshal(env.Payload, dest) == nil
}

// readEnvelope decodes one entry file. Decode failures come back as a typed
// error so callers that care (View, tests) can tell corruption from absence.
func (s *Store) readEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &CorruptEntryError{Path: path, Err: err}
	}
	return env, nil
}

// CorruptEntryError marks an entry file that exists but cannot be decoded.
type CorruptEntryError struct {
	Path string
	Err  error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Path, e.Err)
}

func (e *CorruptEntryError) Unwrap() error { return e.Err }

// Clear deletes every entry in the given namespace, or in all namespaces
// when namespace is empty.
func (s *Store) Clear(namespace string) error {
	if namespace == "" {
		for _, ns := range Namespaces {
			if err := s.clearDir(filepath.Join(s.cfg.Dir, ns)); err != nil {
				return err
			}
		}
		return nil
	}
	if !validNamespace(namespace) {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	return s.clearDir(filepath.Join(s.cfg.Dir, namespace))
}

func (s *Store) clearDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing %s: %w", dir, err)
	}
	return os.MkdirAll(dir, 0o755)
}
