// Package remote pushes company records to the workspace and reads them back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// ErrRejected marks a request the workspace refused outright (bad token,
// missing permission, invalid properties). Retrying it cannot help.
var ErrRejected = errors.New("remote rejected request")

// Remote is the workspace the tracker mirrors records into.
//
// PushRecord is idempotent: with rec.RemoteRef set it updates that page, and
// without one it adopts an existing page titled rec.Name before creating a new
// one. Notes that are not marked Synced are appended to the page. A ref that no
// longer resolves yields tracker.ErrRemoteMissing.
//
// FetchRecord returns nil when the page does not exist.
type Remote interface {
	PushRecord(ctx context.Context, rec tracker.CompanyRecord) (ref string, err error)
	FetchRecord(ctx context.Context, ref string) (*Snapshot, error)
}

// Snapshot is the workspace's view of one company.
type Snapshot struct {
	Ref                 string
	URL                 string
	Name                string
	Status              tracker.Status
	LastInteractionType tracker.SourceKind
	LastInteractionAt   time.Time
	NextStep            string
}

// Diff lists the fields where the snapshot disagrees with rec. Timestamps are
// compared at minute precision.
func (s Snapshot) Diff(rec tracker.CompanyRecord) []string {
	var out []string
	if s.Name != rec.Name {
		out = append(out, fmt.Sprintf("name %q != %q", s.Name, rec.Name))
	}
	if s.Status != rec.Status {
		out = append(out, fmt.Sprintf("status %s != %s", s.Status, rec.Status))
	}
	if s.LastInteractionType != rec.LastInteractionType {
		out = append(out, fmt.Sprintf("last interaction %q != %q", s.LastInteractionType, rec.LastInteractionType))
	}
	if !s.LastInteractionAt.Truncate(time.Minute).Equal(rec.LastInteractionAt.Truncate(time.Minute)) {
		out = append(out, fmt.Sprintf("last interaction date %s != %s",
			s.LastInteractionAt.Format(time.RFC3339), rec.LastInteractionAt.Format(time.RFC3339)))
	}
	return out
}

// noteHeading is the heading written above each note on the page.
func noteHeading(n tracker.Note) string {
	return fmt.Sprintf("%s · %s", n.Source.Label(), n.At.Local().Format("2006-01-02 15:04"))
}

// noteLines are the annotation lines written under a note's text.
func noteLines(n tracker.Note) []string {
	var out []string
	if n.CompanyGuess != "" {
		out = append(out, fmt.Sprintf("Company mentioned as: %s", n.CompanyGuess))
	}
	if n.IgnoredStatus != nil {
		out = append(out, fmt.Sprintf("Status hint not applied: %s", *n.IgnoredStatus))
	}
	return out
}

// chunk splits s into pieces of at most size bytes on rune boundaries.
func chunk(s string, size int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
