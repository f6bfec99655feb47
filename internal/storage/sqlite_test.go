package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/jobtrack/internal/tracker"
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

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 123456789, time.UTC)

func sampleRecord(name string) tracker.CompanyRecord {
	return tracker.CompanyRecord{
		Name:                name,
		Status:              tracker.Interview,
		LastInteractionType: tracker.Call,
		LastInteractionAt:   t0,
		Notes: []tracker.Note{
			{ID: name + "-n1", At: t0, Source: tracker.Call, Text: "phone screen went well", Synced: true},
		},
		RemoteRef: "page-" + name,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func upsert(t *testing.T, s *Store, rec tracker.CompanyRecord) {
	t.Helper()
	err := s.Update(context.Background(), func(tx tracker.StateTx) error {
		return tx.Upsert(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("Upsert(%q): %v", rec.Name, err)
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
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
	if s2.Path() != filepath.Join(dir, DBFile) {
		t.Errorf("Path() = %q", s2.Path())
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_companies_status", "idx_notes_company_seq"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleRecord("Acme")
	ignored := tracker.Applied
	want.Notes = append(want.Notes, tracker.Note{
		ID: "Acme-n2", At: t0.Add(time.Hour), Source: tracker.Email, Text: "thanks for applying",
		CompanyGuess: "Acme Corp", IgnoredStatus: &ignored,
		KeyPoints: []string{"Next steps: onsite next week", "Role: platform team"},
	})
	upsert(t, s, want)

	got, err := s.Get(ctx, "Acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestGet_CaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	upsert(t, s, sampleRecord("Acme"))

	a, err := s.Get(ctx, "Acme")
	if err != nil {
		t.Fatalf("Get(Acme): %v", err)
	}
	b, err := s.Get(ctx, "ACME ")
	if err != nil {
		t.Fatalf("Get(ACME ): %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("Get(Acme) and Get(ACME ) differ")
	}
	if b.Name != "Acme" {
		t.Errorf("Name = %q, want canonical Acme", b.Name)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "Nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: err = %v, want ErrNotFound", err)
	}

	err := s.View(ctx, func(tx tracker.StateTx) error {
		rec, err := tx.Get(ctx, "Nobody")
		if err != nil {
			return err
		}
		if rec != nil {
			t.Errorf("tx.Get returned %+v, want nil", rec)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestUpsert_ReplacesRowAndAppendsNotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("Acme")
	rec.Notes[0].Synced = false
	upsert(t, s, rec)

	next := rec.Clone()
	next.Status = tracker.Rejected
	next.LastInteractionType = tracker.Email
	next.LastInteractionAt = t0.Add(24 * time.Hour)
	next.Notes[0].Synced = true
	next.Notes = append(next.Notes, tracker.Note{ID: "Acme-n2", At: next.LastInteractionAt, Source: tracker.Email, Text: "unfortunately"})
	upsert(t, s, next)

	got, err := s.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(next) {
		t.Errorf("got %+v\nwant %+v", got, next)
	}
}

func TestUpsert_StoredNoteTextIsNeverEdited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("Acme")
	upsert(t, s, rec)

	edited := rec.Clone()
	edited.Notes[0].Text = "rewritten"
	upsert(t, s, edited)

	got, err := s.Get(ctx, "Acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Notes[0].Text != "phone screen went well" {
		t.Errorf("note text = %q, stored notes must not change", got.Notes[0].Text)
	}
}

func TestUpsert_RemoteRefIsImmutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	unpushed := sampleRecord("Acme")
	unpushed.RemoteRef = ""
	upsert(t, s, unpushed)

	// Empty to set is the one allowed transition.
	pushed := unpushed.Clone()
	pushed.RemoteRef = "page-1"
	upsert(t, s, pushed)

	for _, ref := range []string{"", "page-2"} {
		changed := pushed.Clone()
		changed.RemoteRef = ref
		changed.Status = tracker.Offer
		err := s.Update(ctx, func(tx tracker.StateTx) error {
			return tx.Upsert(ctx, changed)
		})
		if !errors.Is(err, ErrRemoteRefChanged) {
			t.Errorf("Upsert with ref %q: err = %v, want ErrRemoteRefChanged", ref, err)
		}
	}

	got, err := s.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RemoteRef != "page-1" || got.Status != tracker.Interview {
		t.Errorf("RemoteRef = %q, Status = %v; rejected upserts must not apply", got.RemoteRef, got.Status)
	}
}

func TestUpsert_RejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), func(tx tracker.StateTx) error {
		return tx.Upsert(context.Background(), tracker.CompanyRecord{Name: "  "})
	})
	if !errors.Is(err, tracker.ErrMissingCompany) {
		t.Errorf("err = %v, want ErrMissingCompany", err)
	}
}

func TestList_OrderedByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Globex", "acme", "Initech"} {
		upsert(t, s, sampleRecord(name))
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, r := range list {
		names = append(names, r.Name)
		if len(r.Notes) != 1 {
			t.Errorf("%s: %d notes, want 1", r.Name, len(r.Notes))
		}
	}
	want := []string{"acme", "Globex", "Initech"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("push failed")

	err := s.Update(ctx, func(tx tracker.StateTx) error {
		if err := tx.Upsert(ctx, sampleRecord("Acme")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err = %v, want %v", err, boom)
	}
	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record visible after rollback: err = %v", err)
	}
}

func TestUpdate_RollsBackOnPanic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		s.Update(ctx, func(tx tracker.StateTx) error {
			if err := tx.Upsert(ctx, sampleRecord("Acme")); err != nil {
				return err
			}
			panic("interrupted")
		})
	}()

	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record visible after panic: err = %v", err)
	}
	// The store must still be usable.
	upsert(t, s, sampleRecord("Globex"))
}

func TestView_DoesNotCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx tracker.StateTx) error {
		return tx.Upsert(ctx, sampleRecord("Acme"))
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("View committed a write: err = %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleRecord("Acme")
	b := sampleRecord("Globex")
	b.Status = tracker.Rejected
	c := sampleRecord("Initech")
	upsert(t, s, a)
	upsert(t, s, b)
	upsert(t, s, c)

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[tracker.Interview] != 2 || counts[tracker.Rejected] != 1 || counts[tracker.Offer] != 0 {
		t.Errorf("counts = %v", counts)
	}
	if len(counts) != len(tracker.Statuses()) {
		t.Errorf("counts has %d keys, want every status", len(counts))
	}
}

func TestCorruptRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	upsert(t, s, sampleRecord("Acme"))

	if _, err := s.db.Exec(`UPDATE companies SET status = 'Ghosted' WHERE key = 'acme'`); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}
	if _, err := s.Get(ctx, "Acme"); !errors.Is(err, ErrCorruptState) {
		t.Errorf("Get: err = %v, want ErrCorruptState", err)
	}
	if _, err := s.List(ctx); !errors.Is(err, ErrCorruptState) {
		t.Errorf("List: err = %v, want ErrCorruptState", err)
	}
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = 'x'
	}
	if err := os.WriteFile(filepath.Join(dir, DBFile), garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(dir)
	if !errors.Is(err, ErrCorruptState) {
		t.Errorf("Open: err = %v, want ErrCorruptState", err)
	}
}
