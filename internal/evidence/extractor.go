package evidence

import (
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// Input is one piece of raw evidence.
type Input struct {
	Kind tracker.SourceKind
	Text string

	// Company is the caller-supplied company name; it always wins.
	Company string
	// Summary replaces Text as the note body when set.
	Summary string

	// Email headers, used only for company inference.
	Sender  string
	Subject string
}

// Extractor turns raw text into Evidence. It holds no state besides its
// vocabulary and is safe for concurrent use.
type Extractor struct {
	vocab *Vocabulary
}

// NewExtractor returns an extractor over v, or over the built-in vocabulary
// when v is nil.
func NewExtractor(v *Vocabulary) *Extractor {
	if v == nil {
		v = DefaultVocabulary()
	}
	return &Extractor{vocab: v}
}

// Extract produces the evidence for in.
func (e *Extractor) Extract(in Input) tracker.Evidence {
	ev := tracker.Evidence{NoteText: in.Text}
	if in.Summary != "" {
		ev.NoteText = in.Summary
	}

	if c := strings.TrimSpace(in.Company); c != "" {
		ev.CompanyGuess = c
	} else {
		ev.CompanyGuess = e.GuessCompany(in)
	}

	st, trigger := e.GuessStatus(in.Text)
	if st == nil && in.Subject != "" {
		st, trigger = e.GuessStatus(in.Subject)
	}
	ev.StatusGuess = st
	ev.Trigger = trigger
	ev.KeyPoints = e.KeyPoints(in.Text)
	return ev
}

// GuessStatus scans text for the highest-priority status category with a
// matching phrase. Within that category the earliest match is returned as the
// trigger. It returns nil when nothing matches.
func (e *Extractor) GuessStatus(text string) (*tracker.Status, string) {
	for _, cat := range e.vocab.statusRes {
		best, trigger := -1, ""
		for _, p := range cat.phrases {
			loc := p.re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			if best < 0 || loc[0] < best {
				best, trigger = loc[0], text[loc[0]:loc[1]]
			}
		}
		if best >= 0 {
			return tracker.StatusPtr(cat.status), trigger
		}
	}
	return nil, ""
}

// GuessCompany infers a company name from the body, then (for email) the
// sender's domain, then the subject. It returns "" when nothing fits.
func (e *Extractor) GuessCompany(in Input) string {
	if c := firstPatternMatch(e.vocab.companyRes, in.Text); c != "" {
		return c
	}
	if in.Kind == tracker.Email && in.Sender != "" {
		if c := e.companyFromSender(in.Sender); c != "" {
			return c
		}
	}
	return firstPatternMatch(e.vocab.subjectRes, in.Subject)
}

// companyFromSender turns "jane@careers.acme.com" into "Acme".
func (e *Extractor) companyFromSender(sender string) string {
	addr := sender
	if a, err := mail.ParseAddress(sender); err == nil {
		addr = a.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	domain := strings.ToLower(strings.Trim(addr[at+1:], " >."))
	if domain == "" || e.vocab.ignoredDomain(domain) {
		return ""
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}
	labels = labels[:len(labels)-1]
	// Second-level public suffixes such as co.uk or com.au.
	if n := len(labels); n >= 2 && len(labels[n-1]) <= 3 && secondLevel[labels[n-1]] {
		labels = labels[:n-1]
	}
	name := labels[len(labels)-1]
	if name == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(name, "-", " "))
}

var secondLevel = map[string]bool{"co": true, "com": true, "org": true, "net": true, "ac": true, "gov": true}

// firstPatternMatch returns the longest capture of the first pattern that
// matches text.
func firstPatternMatch(res []*regexp.Regexp, text string) string {
	if text == "" {
		return ""
	}
	for _, re := range res {
		best := ""
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if c := strings.TrimSpace(m[1]); len(c) > len(best) {
				best = c
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}
