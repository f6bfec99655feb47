package evidence

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const minKeyPointLen = 4

// KeyPoints returns "Label: text" highlights found in text, in vocabulary
// order, without duplicates. Scheduled entries that parse as a date get the
// normalised date appended.
func (e *Extractor) KeyPoints(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, rule := range e.vocab.keyPoints {
		for _, re := range rule.res {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				v := strings.Join(strings.Fields(m[1]), " ")
				v = strings.TrimRight(v, ",;:")
				if len(v) < minKeyPointLen {
					continue
				}
				if rule.label == "Scheduled" {
					if t, err := dateparse.ParseAny(v); err == nil && t.Year() > 1 {
						v += " (" + t.Format(scheduledLayout(t)) + ")"
					}
				}
				kp := rule.label + ": " + v
				if seen[strings.ToLower(kp)] {
					continue
				}
				seen[strings.ToLower(kp)] = true
				out = append(out, kp)
			}
		}
	}
	return out
}

func scheduledLayout(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 {
		return "2006-01-02"
	}
	return "2006-01-02 15:04"
}
