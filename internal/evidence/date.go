package evidence

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var filenameDateRe = regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})`)

// DateFromFilename returns the date embedded in a file name as YYYY-MM-DD,
// YYYY_MM_DD or YYYYMMDD, in loc. ok is false when the name has no valid date.
func DateFromFilename(path string, loc *time.Location) (t time.Time, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, m := range filenameDateRe.FindAllStringSubmatch(filepath.Base(path), -1) {
		t, err := time.ParseInLocation("20060102", m[1]+m[2]+m[3], loc)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseWhen parses a user- or header-supplied timestamp in any common layout
// ("2026-03-02", "Mon, 2 Mar 2026 10:00:00 -0500", "March 2 2026 3pm").
func ParseWhen(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
