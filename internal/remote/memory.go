package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// Memory is an in-process Remote. It keeps the same idempotency rules as the
// Notion remote and can be told to fail, which makes it the test double for
// everything above this package.
type Memory struct {
	mu      sync.Mutex
	pages   map[string]*memPage
	seq     int
	creates int
	pushes  int

	failures []error
}

type memPage struct {
	snap     Snapshot
	notes    []tracker.Note
	archived bool
}

// NewMemory returns an empty in-memory workspace.
func NewMemory() *Memory {
	return &Memory{pages: make(map[string]*memPage)}
}

// FailNext makes the next len(errs) calls return errs in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// PushRecord implements Remote.
func (m *Memory) PushRecord(ctx context.Context, rec tracker.CompanyRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextFailure(ctx); err != nil {
		return "", err
	}
	m.pushes++

	ref := rec.RemoteRef
	if ref != "" {
		p, ok := m.pages[ref]
		if !ok || p.archived {
			return "", fmt.Errorf("page %s for %q: %w", ref, rec.Name, tracker.ErrRemoteMissing)
		}
	} else {
		ref = m.findLocked(rec.Name)
	}

	p, ok := m.pages[ref]
	if !ok {
		m.seq++
		m.creates++
		ref = fmt.Sprintf("mem-%d", m.seq)
		p = &memPage{}
		m.pages[ref] = p
	}
	p.snap = Snapshot{
		Ref:                 ref,
		URL:                 "memory://" + ref,
		Name:                rec.Name,
		Status:              rec.Status,
		LastInteractionType: rec.LastInteractionType,
		LastInteractionAt:   rec.LastInteractionAt,
		NextStep:            rec.Status.NextStep(),
	}
	for _, n := range rec.UnsyncedNotes() {
		p.notes = append(p.notes, n)
	}
	return ref, nil
}

// FetchRecord implements Remote.
func (m *Memory) FetchRecord(ctx context.Context, ref string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextFailure(ctx); err != nil {
		return nil, err
	}
	p, ok := m.pages[ref]
	if !ok || p.archived {
		return nil, nil
	}
	s := p.snap
	return &s, nil
}

// FindByName returns the ref of the live page titled name, or "".
func (m *Memory) FindByName(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(name)
}

func (m *Memory) findLocked(name string) string {
	for ref, p := range m.pages {
		if !p.archived && tracker.Key(p.snap.Name) == tracker.Key(name) {
			return ref
		}
	}
	return ""
}

// Archive hides a page, as if it was deleted in the workspace.
func (m *Memory) Archive(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[ref]; ok {
		p.archived = true
	}
}

// Notes returns the notes appended to page ref.
func (m *Memory) Notes(ref string) []tracker.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[ref]
	if !ok {
		return nil
	}
	return append([]tracker.Note(nil), p.notes...)
}

// Pages returns the number of live pages.
func (m *Memory) Pages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pages {
		if !p.archived {
			n++
		}
	}
	return n
}

// Creates returns how many pages were ever created.
func (m *Memory) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Pushes returns the number of successful PushRecord calls.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

func (m *Memory) nextFailure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}
