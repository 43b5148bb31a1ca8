// Package storage persists generation sessions, their progress records,
// and final results in a SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding sessions, progress, and results.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sitegen.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

// CreateSession inserts the session row. A retried create with the same
// session_id is a no-op, not an error.
func (s *Store) CreateSession(sess Session) error {
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO generation_sessions (session_id, tax_code, color_palette, website_style, wp_url, wp_username, wp_password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sess.SessionID, sess.TaxCode, sess.ColorPalette, sess.WebsiteStyle,
		sess.WPURL, sess.WPUsername, sess.WPPasswordHash,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSession loads the session row by ID.
func (s *Store) GetSession(sessionID string) (Session, error) {
	var sess Session
	var createdAt string
	err := s.db.QueryRow(`
		SELECT session_id, tax_code, color_palette, website_style, wp_url, wp_username, wp_password_hash, created_at
		FROM generation_sessions WHERE session_id = ?`, sessionID,
	).Scan(&sess.SessionID, &sess.TaxCode, &sess.ColorPalette, &sess.WebsiteStyle,
		&sess.WPURL, &sess.WPUsername, &sess.WPPasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.CreatedAt = t
	return sess, nil
}

// --- Progress ---

// InitProgress creates the progress record for a new session at
// stage=business, progress=0. Re-initialization is a no-op.
func (s *Store) InitProgress(sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO generation_progress (session_id, current_stage, stage_progress, status_message, completed, created_at, updated_at)
		VALUES (?, ?, 0, 'Starting website generation...', 0, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, StageBusiness, now, now,
	)
	return err
}

// UpdateProgress overwrites stage/progress/message for the session. Once
// the record is terminal (completed or error) the update is a silent no-op
// so a straggling pipeline write cannot resurrect a finished session.
// Returns ErrNotFound if no progress record exists.
func (s *Store) UpdateProgress(sessionID, stage string, progress int, message string) error {
	res, err := s.db.Exec(`
		UPDATE generation_progress
		SET current_stage = ?, stage_progress = ?, status_message = ?, updated_at = ?
		WHERE session_id = ? AND completed = 0 AND current_stage != ?`,
		stage, progress, message, time.Now().UTC().Format(time.RFC3339), sessionID, StageError,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.progressNoopOrMissing(sessionID)
	}
	return nil
}

// MarkComplete flags the session's pipeline as fully finished.
func (s *Store) MarkComplete(sessionID string) error {
	res, err := s.db.Exec(`
		UPDATE generation_progress
		SET completed = 1, current_stage = ?, stage_progress = 100, updated_at = ?
		WHERE session_id = ? AND completed = 0 AND current_stage != ?`,
		StageComplete, time.Now().UTC().Format(time.RFC3339), sessionID, StageError,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.progressNoopOrMissing(sessionID)
	}
	return nil
}

// MarkError moves the session into the terminal error state with the given
// message. Marking an already-terminal record is a no-op.
func (s *Store) MarkError(sessionID, message string) error {
	res, err := s.db.Exec(`
		UPDATE generation_progress
		SET current_stage = ?, error_message = ?, updated_at = ?
		WHERE session_id = ? AND completed = 0 AND current_stage != ?`,
		StageError, message, time.Now().UTC().Format(time.RFC3339), sessionID, StageError,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.progressNoopOrMissing(sessionID)
	}
	return nil
}

// progressNoopOrMissing distinguishes "record is terminal" (nil) from
// "record does not exist" (ErrNotFound) after a zero-row update.
func (s *Store) progressNoopOrMissing(sessionID string) error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM generation_progress WHERE session_id = ?", sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// GetProgress loads the progress record for the session.
func (s *Store) GetProgress(sessionID string) (Progress, error) {
	var p Progress
	var completed int
	var errMsg sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT session_id, current_stage, stage_progress, status_message, completed, error_message, created_at, updated_at
		FROM generation_progress WHERE session_id = ?`, sessionID,
	).Scan(&p.SessionID, &p.CurrentStage, &p.StageProgress, &p.StatusMessage, &completed, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Progress{}, ErrNotFound
	}
	if err != nil {
		return Progress{}, err
	}
	p.Completed = completed == 1
	p.ErrorMessage = errMsg.String

	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Progress{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Progress{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// --- Results ---

// SaveResult upserts the final result JSON for the session. A retried
// pipeline run overwrites the prior result.
func (s *Store) SaveResult(sessionID, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO generation_results (session_id, result_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET result_json = excluded.result_json, created_at = excluded.created_at`,
		sessionID, resultJSON, now,
	)
	return err
}

// GetResult returns the stored result JSON for the session.
func (s *Store) GetResult(sessionID string) (string, error) {
	var resultJSON string
	err := s.db.QueryRow("SELECT result_json FROM generation_results WHERE session_id = ?", sessionID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return resultJSON, err
}
