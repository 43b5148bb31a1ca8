// Package status assembles the client-facing view of a generation
// session: the ledger's progress record plus debug detail pulled from the
// business cache.
package status

import (
	"fmt"
	"time"

	"github.com/hmle/sitegen/internal/business"
	"github.com/hmle/sitegen/internal/cache"
	"github.com/hmle/sitegen/internal/storage"
)

// Status is what pollers see.
type Status struct {
	SessionID string     `json:"session_id"`
	Stage     string     `json:"stage"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	Completed bool       `json:"completed"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	Debug     *DebugInfo `json:"debug_info,omitempty"`
}

// DebugInfo surfaces what the business stage actually did, read back from
// its cached record.
type DebugInfo struct {
	BusinessCached   bool     `json:"business_cached"`
	CompanyName      string   `json:"company_name,omitempty"`
	SourcesTried     []string `json:"sources_tried,omitempty"`
	SuccessfulSource string   `json:"successful_source,omitempty"`
}

// Reporter reads session state. It never mutates anything.
type Reporter struct {
	store *storage.Store
	cache *cache.Store
}

func NewReporter(store *storage.Store, cacheStore *cache.Store) *Reporter {
	return &Reporter{store: store, cache: cacheStore}
}

// Get returns the status for a session. A session that was never created
// comes back as storage.ErrNotFound; a session that failed comes back as a
// normal status with Stage "error". Callers must not conflate the two.
func (r *Reporter) Get(sessionID string) (Status, error) {
	p, err := r.store.GetProgress(sessionID)
	if err != nil {
		return Status{}, fmt.Errorf("loading progress for %s: %w", sessionID, err)
	}

	st := Status{
		SessionID: p.SessionID,
		Stage:     p.CurrentStage,
		Progress:  p.StageProgress,
		Message:   p.StatusMessage,
		Completed: p.Completed,
		Error:     p.ErrorMessage,
		UpdatedAt: p.UpdatedAt,
	}
	st.Debug = r.debugInfo(sessionID)
	return st, nil
}

func (r *Reporter) debugInfo(sessionID string) *DebugInfo {
	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return nil
	}

	var info business.Info
	if !r.cache.Get(cache.NamespaceBusiness, sess.TaxCode, &info) {
		return &DebugInfo{BusinessCached: false}
	}
	return &DebugInfo{
		BusinessCached:   true,
		CompanyName:      info.CompanyName,
		SourcesTried:     info.Debug.SourcesTried,
		SuccessfulSource: info.Debug.SuccessfulSource,
	}
}
