package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string) Session {
	return Session{
		SessionID:      id,
		TaxCode:        "0123456789",
		ColorPalette:   "professional-blue",
		WebsiteStyle:   "corporate",
		WPURL:          "https://example.com",
		WPUsername:     "admin",
		WPPasswordHash: "$2a$10$fakehash",
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)

	want := testSession("ws_001")
	if err := s.CreateSession(want); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession("ws_001")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.TaxCode != want.TaxCode || got.WPURL != want.WPURL || got.WPPasswordHash != want.WPPasswordHash {
		t.Errorf("session mismatch: got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("ws_dup")
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}

	// A retried create with the same ID must be a no-op, not a crash.
	sess.TaxCode = "9999999999"
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("retried CreateSession: %v", err)
	}

	got, err := s.GetSession("ws_dup")
	if err != nil {
		t.Fatal(err)
	}
	if got.TaxCode != "0123456789" {
		t.Errorf("retried create overwrote original row: tax_code = %q", got.TaxCode)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) = %v, want ErrNotFound", err)
	}
}

func TestProgressLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_p"); err != nil {
		t.Fatalf("InitProgress: %v", err)
	}

	p, err := s.GetProgress("ws_p")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if p.CurrentStage != StageBusiness || p.StageProgress != 0 {
		t.Errorf("initial progress = %s/%d, want business/0", p.CurrentStage, p.StageProgress)
	}

	if err := s.UpdateProgress("ws_p", StageContent, 40, "Generating website content..."); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	p, err = s.GetProgress("ws_p")
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStage != StageContent || p.StageProgress != 40 {
		t.Errorf("progress = %s/%d, want content/40", p.CurrentStage, p.StageProgress)
	}
	if p.StatusMessage != "Generating website content..." {
		t.Errorf("message = %q", p.StatusMessage)
	}
}

func TestUpdateProgressMissingSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateProgress("ghost", StageBusiness, 10, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProgress(ghost) = %v, want ErrNotFound", err)
	}
}

func TestMarkCompleteIsTerminal(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_c"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkComplete("ws_c"); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	// A late update must not un-terminal the record.
	if err := s.UpdateProgress("ws_c", StageImages, 50, "late write"); err != nil {
		t.Fatalf("update after complete should be a no-op, got %v", err)
	}

	p, err := s.GetProgress("ws_c")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Completed || p.CurrentStage != StageComplete || p.StageProgress != 100 {
		t.Errorf("terminal record mutated: %+v", p)
	}
}

func TestMarkErrorIsTerminal(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_e"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkError("ws_e", "WordPress connection failed: 401"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	if err := s.UpdateProgress("ws_e", StageWordPress, 90, "late write"); err != nil {
		t.Fatalf("update after error should be a no-op, got %v", err)
	}
	if err := s.MarkComplete("ws_e"); err != nil {
		t.Fatalf("MarkComplete after error should be a no-op, got %v", err)
	}

	p, err := s.GetProgress("ws_e")
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStage != StageError {
		t.Errorf("stage = %s, want error", p.CurrentStage)
	}
	if p.ErrorMessage != "WordPress connection failed: 401" {
		t.Errorf("error message = %q", p.ErrorMessage)
	}
	if p.Completed {
		t.Error("errored session marked completed")
	}
	if !p.Terminal() {
		t.Error("Terminal() = false for errored record")
	}
}

func TestProgressMonotonicWithinStage(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_m"); err != nil {
		t.Fatal(err)
	}

	steps := []int{5, 10, 15, 35, 60, 95, 100}
	last := -1
	for _, pct := range steps {
		if err := s.UpdateProgress("ws_m", StageBusiness, pct, "collecting"); err != nil {
			t.Fatalf("UpdateProgress(%d): %v", pct, err)
		}
		p, err := s.GetProgress("ws_m")
		if err != nil {
			t.Fatal(err)
		}
		if p.StageProgress < last {
			t.Errorf("stage progress regressed: %d -> %d", last, p.StageProgress)
		}
		last = p.StageProgress
	}
}

func TestResultUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveResult("ws_r", `{"success":false,"error":"first run"}`); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult("ws_r", `{"success":true,"pages_count":6}`); err != nil {
		t.Fatalf("SaveResult upsert: %v", err)
	}

	got, err := s.GetResult("ws_r")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got != `{"success":true,"pages_count":6}` {
		t.Errorf("result = %s, want the overwritten value", got)
	}
}

func TestGetResultNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetResult("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResult(missing) = %v, want ErrNotFound", err)
	}
}

func TestInitProgressIdempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_i"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProgress("ws_i", StageContent, 50, "halfway"); err != nil {
		t.Fatal(err)
	}
	if err := s.InitProgress("ws_i"); err != nil {
		t.Fatalf("re-init: %v", err)
	}

	p, err := s.GetProgress("ws_i")
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentStage != StageContent || p.StageProgress != 50 {
		t.Errorf("re-init reset the record: %+v", p)
	}
}

func TestUpdatedAtAdvances(t *testing.T) {
	s := openTestStore(t)

	if err := s.InitProgress("ws_t"); err != nil {
		t.Fatal(err)
	}
	p1, _ := s.GetProgress("ws_t")

	time.Sleep(1100 * time.Millisecond) // RFC3339 second resolution
	if err := s.UpdateProgress("ws_t", StageBusiness, 50, "x"); err != nil {
		t.Fatal(err)
	}
	p2, _ := s.GetProgress("ws_t")

	if !p2.UpdatedAt.After(p1.UpdatedAt) {
		t.Errorf("updated_at did not advance: %v -> %v", p1.UpdatedAt, p2.UpdatedAt)
	}
}
