package evidence

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/jobtrack/internal/tracker"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// namePattern is substituted for {name} in company and subject patterns: a
// run of capitalised words, optionally joined by "&".
const namePattern = `[A-Z][A-Za-z0-9&]*(?:[ \t]+(?:&[ \t]+)?[A-Z][A-Za-z0-9&]*)*`

// StatusPhrases is one status category and the phrases that imply it.
type StatusPhrases struct {
	Status  tracker.Status `yaml:"status"`
	Phrases []string       `yaml:"phrases"`
}

// KeyPointRule captures informational highlights under a label.
type KeyPointRule struct {
	Label    string   `yaml:"label"`
	Patterns []string `yaml:"patterns"`
}

// Vocabulary is the configurable data the extractor matches against. The order
// of Statuses is the priority order.
type Vocabulary struct {
	Statuses             []StatusPhrases `yaml:"statuses"`
	CompanyPatterns      []string        `yaml:"company_patterns"`
	SubjectPatterns      []string        `yaml:"subject_patterns"`
	IgnoredSenderDomains []string        `yaml:"ignored_sender_domains"`
	KeyPoints            []KeyPointRule  `yaml:"key_points"`

	statusRes  []statusMatcher
	companyRes []*regexp.Regexp
	subjectRes []*regexp.Regexp
	keyPoints  []keyPointMatcher
}

type statusMatcher struct {
	status  tracker.Status
	phrases []phraseMatcher
}

type phraseMatcher struct {
	phrase string
	re     *regexp.Regexp
}

type keyPointMatcher struct {
	label string
	res   []*regexp.Regexp
}

// DefaultVocabulary returns the built-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := ParseVocabulary(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("built-in vocabulary: %v", err))
	}
	return v
}

// LoadVocabulary reads a vocabulary file. An empty path returns the built-in
// vocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

// ParseVocabulary decodes and compiles a YAML vocabulary.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if err := v.compile(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (v *Vocabulary) compile() error {
	if len(v.Statuses) == 0 {
		return fmt.Errorf("vocabulary has no status categories")
	}

	seen := make(map[tracker.Status]bool)
	for _, cat := range v.Statuses {
		if !cat.Status.Valid() {
			return fmt.Errorf("invalid status %d", int(cat.Status))
		}
		if seen[cat.Status] {
			return fmt.Errorf("status %s listed twice", cat.Status)
		}
		seen[cat.Status] = true

		m := statusMatcher{status: cat.Status}
		for _, p := range cat.Phrases {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(p) + `\b`)
			if err != nil {
				return fmt.Errorf("status %s phrase %q: %w", cat.Status, p, err)
			}
			m.phrases = append(m.phrases, phraseMatcher{phrase: p, re: re})
		}
		v.statusRes = append(v.statusRes, m)
	}

	var err error
	if v.companyRes, err = compileNamePatterns("company", v.CompanyPatterns); err != nil {
		return err
	}
	if v.subjectRes, err = compileNamePatterns("subject", v.SubjectPatterns); err != nil {
		return err
	}

	for i := range v.IgnoredSenderDomains {
		v.IgnoredSenderDomains[i] = strings.ToLower(strings.TrimSpace(v.IgnoredSenderDomains[i]))
	}

	for _, rule := range v.KeyPoints {
		m := keyPointMatcher{label: rule.Label}
		for _, p := range rule.Patterns {
			re, err := compileCapturing(p)
			if err != nil {
				return fmt.Errorf("key point %q: %w", rule.Label, err)
			}
			m.res = append(m.res, re)
		}
		v.keyPoints = append(v.keyPoints, m)
	}
	return nil
}

func compileNamePatterns(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := compileCapturing(strings.ReplaceAll(p, "{name}", namePattern))
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileCapturing(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern needs a capture group")
	}
	return re, nil
}

// ignoredDomain reports whether mail from domain says nothing about the employer.
func (v *Vocabulary) ignoredDomain(domain string) bool {
	for _, d := range v.IgnoredSenderDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
