package tracker

import (
	"fmt"
	"strings"
	"time"
)

// Status is the application pipeline stage of a company.
type Status int

const (
	NotApplied Status = iota
	Applied
	Interview
	Offer
	Rejected
)

var statusLabels = [...]string{
	NotApplied: "Not Applied",
	Applied:    "Applied",
	Interview:  "Interview",
	Offer:      "Offer",
	Rejected:   "Rejected",
}

// Statuses lists every status in pipeline order.
func Statuses() []Status {
	return []Status{NotApplied, Applied, Interview, Offer, Rejected}
}

func (s Status) String() string {
	if s < NotApplied || s > Rejected {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusLabels[s]
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= NotApplied && s <= Rejected
}

// ParseStatus accepts a label case-insensitively, with or without spaces,
// dashes or underscores ("Not Applied", "not_applied", "NOTAPPLIED").
func ParseStatus(s string) (Status, error) {
	norm := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	for i, label := range statusLabels {
		if strings.ReplaceAll(strings.ToLower(label), " ", "") == norm {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Active reports whether the company is still in a live pipeline stage
// that warrants following up.
func (s Status) Active() bool {
	return s == Applied || s == Interview || s == Offer
}

// NextStep is the suggested action shown next to a status in the workspace.
func (s Status) NextStep() string {
	switch s {
	case NotApplied, Rejected:
		return "Apply"
	case Interview:
		return "Prepare"
	default:
		return "Follow Up"
	}
}

// SourceKind identifies where a piece of evidence came from.
type SourceKind string

const (
	Call  SourceKind = "call"
	Email SourceKind = "email"

	// Manual marks notes written by an explicit status override.
	Manual SourceKind = "manual"
)

// ParseSourceKind parses "call" or "email" case-insensitively. Manual is
// not an evidence source and is rejected.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case Call:
		return Call, nil
	case Email:
		return Email, nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// Label is the capitalised form used in note headings and the workspace.
func (k SourceKind) Label() string {
	switch k {
	case Call:
		return "Call"
	case Email:
		return "Email"
	case Manual:
		return "Manual"
	}
	return string(k)
}

// Note is one append-only entry in a company's history.
type Note struct {
	ID     string
	At     time.Time
	Source SourceKind
	Text   string

	// CompanyGuess holds an extracted company name that differed from the
	// record's canonical name.
	CompanyGuess string
	// IgnoredStatus holds a status guess that the merge policy refused.
	IgnoredStatus *Status
	// KeyPoints are the extracted highlights shown with the note.
	KeyPoints []string
	// Synced is set once the note has been written to the remote workspace.
	Synced bool
}

// CompanyRecord is the tracked state for one company.
type CompanyRecord struct {
	Name                string
	Status              Status
	LastInteractionType SourceKind
	LastInteractionAt   time.Time
	Notes               []Note
	RemoteRef           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Key returns the lookup key for a company name: trimmed and lower-cased.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Key returns the record's lookup key.
func (r CompanyRecord) Key() string {
	return Key(r.Name)
}

// Clone returns a deep copy of r.
func (r CompanyRecord) Clone() CompanyRecord {
	cp := r
	if r.Notes != nil {
		cp.Notes = make([]Note, len(r.Notes))
		for i, n := range r.Notes {
			if n.IgnoredStatus != nil {
				s := *n.IgnoredStatus
				n.IgnoredStatus = &s
			}
			if n.KeyPoints != nil {
				n.KeyPoints = append([]string(nil), n.KeyPoints...)
			}
			cp.Notes[i] = n
		}
	}
	return cp
}

// UnsyncedNotes returns the notes not yet written to the remote workspace.
func (r CompanyRecord) UnsyncedNotes() []Note {
	var out []Note
	for _, n := range r.Notes {
		if !n.Synced {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether two records hold the same state.
func (r CompanyRecord) Equal(o CompanyRecord) bool {
	if r.Name != o.Name || r.Status != o.Status || r.RemoteRef != o.RemoteRef ||
		r.LastInteractionType != o.LastInteractionType ||
		!r.LastInteractionAt.Equal(o.LastInteractionAt) ||
		!r.CreatedAt.Equal(o.CreatedAt) || !r.UpdatedAt.Equal(o.UpdatedAt) ||
		len(r.Notes) != len(o.Notes) {
		return false
	}
	for i := range r.Notes {
		if !r.Notes[i].equal(o.Notes[i]) {
			return false
		}
	}
	return true
}

func (n Note) equal(o Note) bool {
	if n.ID != o.ID || !n.At.Equal(o.At) || n.Source != o.Source || n.Text != o.Text ||
		n.CompanyGuess != o.CompanyGuess || n.Synced != o.Synced || len(n.KeyPoints) != len(o.KeyPoints) {
		return false
	}
	for i := range n.KeyPoints {
		if n.KeyPoints[i] != o.KeyPoints[i] {
			return false
		}
	}
	switch {
	case n.IgnoredStatus == nil && o.IgnoredStatus == nil:
		return true
	case n.IgnoredStatus == nil || o.IgnoredStatus == nil:
		return false
	}
	return *n.IgnoredStatus == *o.IgnoredStatus
}

// Evidence is the structured result of extracting one piece of raw input.
type Evidence struct {
	CompanyGuess string  // empty when nothing could be determined
	StatusGuess  *Status // nil when no status is implied
	NoteText     string

	// Trigger is the phrase that produced StatusGuess.
	Trigger string
	// KeyPoints are informational highlights (next steps, schedule, role).
	KeyPoints []string
}

// HasCompany reports whether a company name was determined.
func (e Evidence) HasCompany() bool {
	return strings.TrimSpace(e.CompanyGuess) != ""
}

// StatusPtr is a convenience for building Evidence literals.
func StatusPtr(s Status) *Status {
	return &s
}
