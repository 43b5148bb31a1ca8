package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Pipeline stages a session passes through, in order. "complete" and
// "error" are terminal.
const (
	StageBusiness  = "business"
	StageContent   = "content"
	StageWordPress = "wordpress"
	StageImages    = "images"
	StageComplete  = "complete"
	StageError     = "error"
)

// Session holds the immutable inputs of one generation job. The publish
// password is stored only as a bcrypt hash for audit; the plaintext is
// carried in memory from submission into the pipeline run.
type Session struct {
	SessionID      string
	TaxCode        string
	ColorPalette   string
	WebsiteStyle   string
	WPURL          string
	WPUsername     string
	WPPasswordHash string
	CreatedAt      time.Time
}

// Progress is the mutable execution state of one session.
type Progress struct {
	SessionID     string
	CurrentStage  string
	StageProgress int // 0-100 within the current stage
	StatusMessage string
	Completed     bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the record accepts no further stage updates.
func (p Progress) Terminal() bool {
	return p.Completed || p.CurrentStage == StageError
}
