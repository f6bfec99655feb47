package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/remote"
	"github.com/kalambet/jobtrack/internal/storage"
	"github.com/kalambet/jobtrack/internal/tracker"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storage.Store
	mem     *remote.Memory
	tracker *Tracker
}

func newFixture(t *testing.T, withRemote bool) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, mem: remote.NewMemory()}
	var rem remote.Remote
	if withRemote {
		rem = remote.WithRetry(f.mem, remote.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		}, nil)
	}
	f.tracker = New(s, rem, nil, WithClock(func() time.Time { return t0.Add(30 * 24 * time.Hour) }))
	return f
}

func (f *fixture) track(t *testing.T, in evidence.Input, at time.Time) *Result {
	t.Helper()
	res, err := f.tracker.Track(context.Background(), in, at)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	return res
}

func TestTrack_NewCompanyFromCall(t *testing.T) {
	f := newFixture(t, true)

	res := f.track(t, evidence.Input{
		Kind:    tracker.Call,
		Text:    "We'd like to move forward to a technical interview",
		Company: "Acme",
	}, t0)

	rec, err := f.store.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Name != "Acme" || rec.Status != tracker.Interview || rec.LastInteractionType != tracker.Call {
		t.Errorf("record = %+v", rec)
	}
	if !res.Created || !res.Pushed {
		t.Errorf("Created = %v, Pushed = %v", res.Created, res.Pushed)
	}
	if rec.RemoteRef == "" || rec.RemoteRef != res.Record.RemoteRef {
		t.Errorf("RemoteRef = %q, result ref = %q", rec.RemoteRef, res.Record.RemoteRef)
	}
	if len(rec.Notes) != 1 || !rec.Notes[0].Synced {
		t.Errorf("notes = %+v, want one synced note", rec.Notes)
	}
	if len(res.Drift) != 0 {
		t.Errorf("Drift = %v", res.Drift)
	}
	if f.mem.Pages() != 1 {
		t.Errorf("remote pages = %d, want 1", f.mem.Pages())
	}
}

func TestTrack_RejectionEmailAgainstExisting(t *testing.T) {
	f := newFixture(t, true)
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "We'd like to move forward to a technical interview", Company: "Acme"}, t0)

	at := t0.Add(48 * time.Hour)
	res := f.track(t, evidence.Input{
		Kind:    tracker.Email,
		Text:    "Unfortunately we are moving forward with other candidates",
		Company: "ACME ",
	}, at)

	rec, _ := f.store.Get(context.Background(), "Acme")
	if rec.Status != tracker.Rejected {
		t.Errorf("Status = %v, want Rejected", rec.Status)
	}
	if rec.Name != "Acme" {
		t.Errorf("Name = %q, want Acme", rec.Name)
	}
	if len(rec.Notes) != 2 || rec.Notes[1].Source != tracker.Email {
		t.Errorf("notes = %+v, want two with the email last", rec.Notes)
	}
	if !rec.LastInteractionAt.Equal(at) || rec.LastInteractionType != tracker.Email {
		t.Errorf("last interaction = %s %v", rec.LastInteractionType, rec.LastInteractionAt)
	}
	if res.Created || res.PreviousStatus != tracker.Interview || !res.StatusChanged() {
		t.Errorf("result = %+v", res)
	}
	if f.mem.Creates() != 1 {
		t.Errorf("remote creates = %d, want 1", f.mem.Creates())
	}
	if got := len(f.mem.Notes(rec.RemoteRef)); got != 2 {
		t.Errorf("remote notes = %d, want 2", got)
	}
}

func TestTrack_MissingCompanyWritesNothing(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.tracker.Track(context.Background(), evidence.Input{
		Kind: tracker.Call,
		Text: "thanks for the chat, talk soon",
	}, t0)
	if !errors.Is(err, tracker.ErrMissingCompany) {
		t.Fatalf("err = %v, want ErrMissingCompany", err)
	}
	all, _ := f.store.List(context.Background())
	if len(all) != 0 {
		t.Errorf("store has %d records, want 0", len(all))
	}
	if f.mem.Pushes() != 0 {
		t.Errorf("remote was called")
	}
}

func TestTrack_RemoteUnavailableRollsBack(t *testing.T) {
	f := newFixture(t, true)
	boom := errors.New("connection reset")
	f.mem.FailNext(boom, boom, boom)

	_, err := f.tracker.Track(context.Background(), evidence.Input{
		Kind: tracker.Call, Text: "phone screen next week", Company: "Globex",
	}, t0)
	if !errors.Is(err, tracker.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	if _, err := f.store.Get(context.Background(), "Globex"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}

func TestTrack_RemoteMissingIsNotRecreated(t *testing.T) {
	f := newFixture(t, true)
	res := f.track(t, evidence.Input{Kind: tracker.Call, Text: "phone screen", Company: "Acme"}, t0)
	f.mem.Archive(res.Record.RemoteRef)

	_, err := f.tracker.Track(context.Background(), evidence.Input{
		Kind: tracker.Email, Text: "your application", Company: "Acme",
	}, t0.Add(time.Hour))
	if !errors.Is(err, tracker.ErrRemoteMissing) {
		t.Fatalf("err = %v, want ErrRemoteMissing", err)
	}
	rec, _ := f.store.Get(context.Background(), "Acme")
	if len(rec.Notes) != 1 || rec.RemoteRef != res.Record.RemoteRef {
		t.Errorf("local record changed: %+v", rec)
	}
	if f.mem.Creates() != 1 {
		t.Errorf("creates = %d, want 1", f.mem.Creates())
	}
}

func TestTrack_LocalOnlyThenSync(t *testing.T) {
	f := newFixture(t, false)
	if !f.tracker.LocalOnly() {
		t.Fatal("expected local-only tracker")
	}
	res := f.track(t, evidence.Input{Kind: tracker.Call, Text: "onsite on Friday", Company: "Initech"}, t0)
	if res.Pushed || res.Record.RemoteRef != "" {
		t.Errorf("local-only result = %+v", res)
	}
	if _, err := f.tracker.Sync(context.Background()); !errors.Is(err, ErrLocalOnly) {
		t.Errorf("Sync err = %v, want ErrLocalOnly", err)
	}

	// Same store, now with a workspace.
	online := New(f.store, f.mem, nil)
	st, _ := online.Stats(context.Background())
	if st.Unsynced != 1 {
		t.Errorf("Unsynced = %d, want 1", st.Unsynced)
	}
	rep, err := online.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(rep.Pushed) != 1 || rep.Pushed[0] != "Initech" {
		t.Errorf("Pushed = %v", rep.Pushed)
	}
	rec, _ := f.store.Get(context.Background(), "Initech")
	if rec.RemoteRef == "" || len(rec.UnsyncedNotes()) != 0 {
		t.Errorf("record after sync = %+v", rec)
	}

	// A second sync has nothing to do.
	rep, err = online.Sync(context.Background())
	if err != nil || len(rep.Pushed) != 0 {
		t.Errorf("second Sync = %+v, %v", rep, err)
	}
	if f.mem.Pushes() != 1 {
		t.Errorf("pushes = %d, want 1", f.mem.Pushes())
	}
}

func TestSync_ReportsFailures(t *testing.T) {
	f := newFixture(t, false)
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "x", Company: "Acme"}, t0)
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "x", Company: "Globex"}, t0)

	f.mem.FailNext(remote.ErrRejected)
	rep, err := New(f.store, f.mem, nil).Sync(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(rep.Failed) != 1 || len(rep.Pushed) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

// racingState runs before ahead of the first Update, standing in for another
// process that commits between Sync's listing and its transaction.
type racingState struct {
	*storage.Store
	before func()
}

func (s *racingState) Update(ctx context.Context, fn func(tx tracker.StateTx) error) error {
	if before := s.before; before != nil {
		s.before = nil
		before()
	}
	return s.Store.Update(ctx, fn)
}

func TestSync_SkipsRecordsPushedConcurrently(t *testing.T) {
	f := newFixture(t, false)
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "onsite on Friday", Company: "Initech"}, t0)

	state := &racingState{Store: f.store}
	state.before = func() {
		if _, err := New(f.store, f.mem, nil).Sync(context.Background()); err != nil {
			t.Errorf("concurrent Sync: %v", err)
		}
	}
	rep, err := New(state, f.mem, nil).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(rep.Pushed) != 0 || len(rep.Failed) != 0 {
		t.Errorf("report = %+v, want nothing pushed", rep)
	}
	if f.mem.Pushes() != 1 {
		t.Errorf("pushes = %d, want 1", f.mem.Pushes())
	}
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, true)
	f.track(t, evidence.Input{Kind: tracker.Email, Text: "Unfortunately not this time", Company: "Acme"}, t0)

	res, err := f.tracker.SetStatus(context.Background(), "acme", tracker.Interview, "reopened")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if res.PreviousStatus != tracker.Rejected || res.Record.Status != tracker.Interview {
		t.Errorf("result = %+v", res)
	}
	rec, _ := f.store.Get(context.Background(), "Acme")
	if rec.Status != tracker.Interview || rec.Notes[len(rec.Notes)-1].Source != tracker.Manual {
		t.Errorf("record = %+v", rec)
	}

	if _, err := f.tracker.SetStatus(context.Background(), "Nobody", tracker.Applied, ""); !errors.Is(err, tracker.ErrUnknownCompany) {
		t.Errorf("err = %v, want ErrUnknownCompany", err)
	}
}

func TestFollowUpsAndStats(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.track(t, evidence.Input{Kind: tracker.Email, Text: "thank you for applying", Company: "Old Co"}, t0)
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "onsite scheduled", Company: "Older Co"}, t0.Add(-24*time.Hour))
	f.track(t, evidence.Input{Kind: tracker.Email, Text: "thank you for applying", Company: "Fresh Co"}, t0.Add(29*24*time.Hour))
	f.track(t, evidence.Input{Kind: tracker.Email, Text: "unfortunately", Company: "Done Co"}, t0)

	due, err := f.tracker.FollowUps(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("FollowUps: %v", err)
	}
	if len(due) != 2 || due[0].Name != "Older Co" || due[1].Name != "Old Co" {
		names := make([]string, len(due))
		for i, r := range due {
			names[i] = r.Name
		}
		t.Errorf("FollowUps = %v, want [Older Co Old Co]", names)
	}

	st, err := f.tracker.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.ByStatus[tracker.Applied] != 2 || st.ByStatus[tracker.Interview] != 1 ||
		st.ByStatus[tracker.Rejected] != 1 || st.ByStatus[tracker.Offer] != 0 || st.Unsynced != 0 {
		t.Errorf("Stats = %+v", st)
	}

	applied, _ := f.tracker.List(ctx, tracker.Applied)
	if len(applied) != 2 {
		t.Errorf("List(Applied) = %d records, want 2", len(applied))
	}
}

func TestGetAndSnapshot(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.track(t, evidence.Input{Kind: tracker.Call, Text: "phone screen", Company: "Acme"}, t0)

	rec, err := f.tracker.Get(ctx, "ACME")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap, err := f.tracker.Snapshot(ctx, rec)
	if err != nil || snap == nil || snap.Status != tracker.Interview {
		t.Errorf("Snapshot = %+v, %v", snap, err)
	}
	if _, err := f.tracker.Get(ctx, "nobody"); !errors.Is(err, tracker.ErrUnknownCompany) {
		t.Errorf("err = %v, want ErrUnknownCompany", err)
	}
}
