package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var newNoteID = func() string { return uuid.New().String() }

// Reconcile merges ev into existing and returns the resulting record.
// existing is nil for a company seen for the first time. The input record is
// never modified; the returned value shares no memory with it.
//
// Status only moves forward along NotApplied < Applied < Interview < Offer.
// Rejected is reachable from any status and, once set, never changes again
// through Reconcile. Every call appends exactly one note and overwrites the
// last-interaction fields.
func Reconcile(existing *CompanyRecord, ev Evidence, kind SourceKind, at time.Time) (CompanyRecord, error) {
	note := Note{
		ID:     newNoteID(),
		At:     at,
		Source: kind,
		Text:   ev.NoteText,
	}
	if len(ev.KeyPoints) > 0 {
		note.KeyPoints = append([]string(nil), ev.KeyPoints...)
	}

	if existing == nil {
		name := strings.TrimSpace(ev.CompanyGuess)
		if name == "" {
			return CompanyRecord{}, fmt.Errorf("reconciling %s evidence: %w", kind, ErrMissingCompany)
		}
		status := NotApplied
		if ev.StatusGuess != nil {
			status = *ev.StatusGuess
		}
		return CompanyRecord{
			Name:                name,
			Status:              status,
			LastInteractionType: kind,
			LastInteractionAt:   at,
			Notes:               []Note{note},
			CreatedAt:           at,
			UpdatedAt:           at,
		}, nil
	}

	rec := existing.Clone()

	if guess := strings.TrimSpace(ev.CompanyGuess); guess != "" && guess != rec.Name {
		note.CompanyGuess = guess
	}

	if ev.StatusGuess != nil {
		if next, ok := advance(rec.Status, *ev.StatusGuess); ok {
			rec.Status = next
		} else if *ev.StatusGuess != rec.Status {
			ignored := *ev.StatusGuess
			note.IgnoredStatus = &ignored
		}
	}

	rec.LastInteractionType = kind
	rec.LastInteractionAt = at
	rec.UpdatedAt = at
	rec.Notes = append(rec.Notes, note)
	return rec, nil
}

// advance applies the forward-only merge policy.
func advance(current, guess Status) (Status, bool) {
	if current == Rejected {
		return current, false
	}
	if guess == Rejected {
		return Rejected, true
	}
	if guess > current {
		return guess, true
	}
	return current, false
}

// Override sets the status of an existing record regardless of the merge
// policy, including leaving Rejected. It appends one Manual note describing
// the change and leaves the last-interaction fields alone. This is the only
// path that moves a status backwards.
func Override(existing CompanyRecord, status Status, at time.Time, reason string) (CompanyRecord, error) {
	if !status.Valid() {
		return CompanyRecord{}, fmt.Errorf("override for %q: invalid status %d", existing.Name, int(status))
	}
	rec := existing.Clone()
	text := fmt.Sprintf("Status set manually: %s -> %s", rec.Status, status)
	if reason = strings.TrimSpace(reason); reason != "" {
		text += "\n" + reason
	}
	rec.Status = status
	rec.UpdatedAt = at
	rec.Notes = append(rec.Notes, Note{
		ID:     newNoteID(),
		At:     at,
		Source: Manual,
		Text:   text,
	})
	return rec, nil
}
