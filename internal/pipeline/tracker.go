// Package pipeline runs one piece of evidence through extraction,
// reconciliation, the local store and the remote workspace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/remote"
	"github.com/kalambet/jobtrack/internal/tracker"
)

// Result describes what one tracking operation did.
type Result struct {
	Record   tracker.CompanyRecord
	Evidence tracker.Evidence

	Created        bool
	PreviousStatus tracker.Status
	// Pushed is false in local-only mode.
	Pushed bool
	// Drift lists fields where the workspace read-back disagreed with the
	// committed record. It is informational; the local record stands.
	Drift []string
}

// StatusChanged reports whether the operation moved the status.
func (r Result) StatusChanged() bool {
	return r.Created || r.PreviousStatus != r.Record.Status
}

// Tracker is the single entry point for recording evidence. Every operation
// runs inside one LocalState.Update, so concurrent callers serialize on the
// store's lock and a failed push leaves local state untouched.
type Tracker struct {
	state     tracker.LocalState
	remote    remote.Remote
	extractor *evidence.Extractor
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a Tracker. rem may be nil, in which case records are kept
// locally and left for a later Sync.
func New(state tracker.LocalState, rem remote.Remote, ex *evidence.Extractor, opts ...Option) *Tracker {
	if ex == nil {
		ex = evidence.NewExtractor(nil)
	}
	t := &Tracker{
		state:     state,
		remote:    rem,
		extractor: ex,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// LocalOnly reports whether the tracker runs without a remote workspace.
func (t *Tracker) LocalOnly() bool { return t.remote == nil }

// Extractor returns the extractor used by Track.
func (t *Tracker) Extractor() *evidence.Extractor { return t.extractor }

// Track records one piece of evidence:
//  1. Extract company, status and key points from the input
//  2. Load the existing record, if any, and reconcile
//  3. Push the record to the workspace (with the remote's retry policy)
//  4. Commit the record with its ref and notes marked synced
//  5. Read the page back and log any drift
//
// A zero at means now. Nothing is written when step 2 or 3 fails.
func (t *Tracker) Track(ctx context.Context, in evidence.Input, at time.Time) (*Result, error) {
	if at.IsZero() {
		at = t.now()
	}
	ev := t.extractor.Extract(in)
	res := &Result{Evidence: ev}

	err := t.state.Update(ctx, func(tx tracker.StateTx) error {
		var existing *tracker.CompanyRecord
		if ev.HasCompany() {
			var err error
			if existing, err = tx.Get(ctx, ev.CompanyGuess); err != nil {
				return err
			}
		}
		rec, err := tracker.Reconcile(existing, ev, in.Kind, at)
		if err != nil {
			return err
		}
		res.Created = existing == nil
		if existing != nil {
			res.PreviousStatus = existing.Status
		}

		if rec, err = t.push(ctx, rec); err != nil {
			return err
		}
		res.Pushed = t.remote != nil
		res.Record = rec
		return tx.Upsert(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("tracking %s evidence: %w", in.Kind, err)
	}

	t.log.Info("evidence tracked",
		"company", res.Record.Name,
		"source", in.Kind,
		"status", res.Record.Status,
		"created", res.Created,
		"trigger", ev.Trigger,
	)
	res.Drift = t.verify(ctx, res.Record)
	return res, nil
}

// SetStatus overrides the status of an existing company. It is the only way
// to move a status backwards or out of Rejected.
func (t *Tracker) SetStatus(ctx context.Context, company string, status tracker.Status, reason string) (*Result, error) {
	at := t.now()
	res := &Result{}
	err := t.state.Update(ctx, func(tx tracker.StateTx) error {
		existing, err := tx.Get(ctx, company)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%q: %w", company, tracker.ErrUnknownCompany)
		}
		res.PreviousStatus = existing.Status

		rec, err := tracker.Override(*existing, status, at, reason)
		if err != nil {
			return err
		}
		if rec, err = t.push(ctx, rec); err != nil {
			return err
		}
		res.Pushed = t.remote != nil
		res.Record = rec
		return tx.Upsert(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("setting status: %w", err)
	}
	t.log.Info("status overridden", "company", res.Record.Name, "from", res.PreviousStatus, "to", status)
	res.Drift = t.verify(ctx, res.Record)
	return res, nil
}

// push writes rec to the workspace and returns it with the ref assigned and
// every note marked synced. Without a remote rec is returned unchanged.
func (t *Tracker) push(ctx context.Context, rec tracker.CompanyRecord) (tracker.CompanyRecord, error) {
	if t.remote == nil {
		return rec, nil
	}
	ref, err := t.remote.PushRecord(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("syncing %q: %w", rec.Name, err)
	}
	if rec.RemoteRef != "" && ref != rec.RemoteRef {
		return rec, fmt.Errorf("syncing %q: workspace returned ref %s for record bound to %s", rec.Name, ref, rec.RemoteRef)
	}
	rec.RemoteRef = ref
	for i := range rec.Notes {
		rec.Notes[i].Synced = true
	}
	return rec, nil
}

func (t *Tracker) verify(ctx context.Context, rec tracker.CompanyRecord) []string {
	if t.remote == nil || rec.RemoteRef == "" {
		return nil
	}
	snap, err := t.remote.FetchRecord(ctx, rec.RemoteRef)
	if err != nil {
		t.log.Warn("could not read back workspace page", "company", rec.Name, "error", err)
		return nil
	}
	if snap == nil {
		t.log.Warn("workspace page vanished after push", "company", rec.Name, "page", rec.RemoteRef)
		return []string{"page missing"}
	}
	drift := snap.Diff(rec)
	if len(drift) > 0 {
		t.log.Warn("workspace page differs from local record", "company", rec.Name, "fields", drift)
	}
	return drift
}

// Get returns the record for company.
func (t *Tracker) Get(ctx context.Context, company string) (tracker.CompanyRecord, error) {
	var rec *tracker.CompanyRecord
	err := t.state.View(ctx, func(tx tracker.StateTx) error {
		var err error
		rec, err = tx.Get(ctx, company)
		return err
	})
	if err != nil {
		return tracker.CompanyRecord{}, err
	}
	if rec == nil {
		return tracker.CompanyRecord{}, fmt.Errorf("%q: %w", company, tracker.ErrUnknownCompany)
	}
	return *rec, nil
}

// Snapshot returns the workspace view of rec, or nil in local-only mode or
// when the record was never pushed.
func (t *Tracker) Snapshot(ctx context.Context, rec tracker.CompanyRecord) (*remote.Snapshot, error) {
	if t.remote == nil || rec.RemoteRef == "" {
		return nil, nil
	}
	return t.remote.FetchRecord(ctx, rec.RemoteRef)
}

// List returns every record ordered by name, optionally restricted to the
// given statuses.
func (t *Tracker) List(ctx context.Context, statuses ...tracker.Status) ([]tracker.CompanyRecord, error) {
	var all []tracker.CompanyRecord
	err := t.state.View(ctx, func(tx tracker.StateTx) error {
		var err error
		all, err = tx.List(ctx)
		return err
	})
	if err != nil || len(statuses) == 0 {
		return all, err
	}
	want := make(map[tracker.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := all[:0]
	for _, r := range all {
		if want[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

// FollowUps returns active companies with no interaction for at least
// after, oldest first.
func (t *Tracker) FollowUps(ctx context.Context, after time.Duration) ([]tracker.CompanyRecord, error) {
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := t.now().Add(-after)
	var out []tracker.CompanyRecord
	for _, r := range all {
		if r.Status.Active() && !r.LastInteractionAt.After(cutoff) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastInteractionAt.Before(out[j].LastInteractionAt)
	})
	return out, nil
}

// Stats summarizes the pipeline.
type Stats struct {
	Total    int
	ByStatus map[tracker.Status]int
	Unsynced int // records with no ref or with notes not yet pushed
}

// Stats counts records per status.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	all, err := t.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(all), ByStatus: make(map[tracker.Status]int)}
	for _, s := range tracker.Statuses() {
		st.ByStatus[s] = 0
	}
	for _, r := range all {
		st.ByStatus[r.Status]++
		if needsSync(r) {
			st.Unsynced++
		}
	}
	return st, nil
}

func needsSync(r tracker.CompanyRecord) bool {
	return r.RemoteRef == "" || len(r.UnsyncedNotes()) > 0
}

// SyncReport lists the outcome of a Sync run.
type SyncReport struct {
	Pushed []string
	Failed map[string]error
}

// ErrLocalOnly is returned by Sync when no remote is configured.
var ErrLocalOnly = errors.New("no remote workspace configured")

// errUpToDate aborts a sync transaction whose record was pushed since it was
// listed.
var errUpToDate = errors.New("already up to date")

// Sync pushes every record that was never pushed or has unsynced notes, one
// transaction per company. A failure for one company does not stop the
// others; the returned error joins all failures.
func (t *Tracker) Sync(ctx context.Context) (SyncReport, error) {
	rep := SyncReport{Failed: make(map[string]error)}
	if t.remote == nil {
		return rep, ErrLocalOnly
	}
	pending, err := t.List(ctx)
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, candidate := range pending {
		if !needsSync(candidate) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name := candidate.Name
		err := t.state.Update(ctx, func(tx tracker.StateTx) error {
			rec, err := tx.Get(ctx, name)
			if err != nil {
				return err
			}
			if rec == nil || !needsSync(*rec) {
				return errUpToDate
			}
			pushed, err := t.push(ctx, *rec)
			if err != nil {
				return err
			}
			return tx.Upsert(ctx, pushed)
		})
		if errors.Is(err, errUpToDate) {
			t.log.Debug("sync skipped, already up to date", "company", name)
			continue
		}
		if err != nil {
			t.log.Warn("sync failed", "company", name, "error", err)
			rep.Failed[name] = err
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		t.log.Info("synced", "company", name)
		rep.Pushed = append(rep.Pushed, name)
	}
	return rep, errors.Join(errs...)
}
