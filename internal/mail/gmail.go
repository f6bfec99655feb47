package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/kalambet/jobtrack/internal/evidence"
)

// ErrNoMessage is returned when a search matches nothing.
var ErrNoMessage = errors.New("no matching message")

// JobKeywords narrow a company search to job-related mail.
var JobKeywords = []string{"interview", "application", "job opportunity", "position", "employment"}

// SearchWindow limits company searches to recent mail, in Gmail query syntax.
const SearchWindow = "3m"

// Gmail reads messages from one mailbox.
type Gmail struct {
	svc  *gmail.Service
	user string
	log  *slog.Logger
}

// NewGmail builds a client from explicit API options. user is the mailbox,
// "me" when empty.
func NewGmail(ctx context.Context, user string, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	if user == "" {
		user = "me"
	}
	return &Gmail{svc: svc, user: user, log: slog.Default()}, nil
}

// NewGmailFromFiles authorizes with an OAuth client credentials file and a
// previously issued token file. The token is refreshed in memory as needed
// but never written back.
func NewGmailFromFiles(ctx context.Context, credentialsFile, tokenFile, user string) (*Gmail, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading gmail credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing gmail credentials: %w", err)
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return NewGmail(ctx, user, option.WithTokenSource(cfg.TokenSource(ctx, tok)))
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gmail token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing gmail token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("gmail token %s holds no access or refresh token", path)
	}
	return &tok, nil
}

// Ping reads the mailbox profile.
func (g *Gmail) Ping(ctx context.Context) error {
	if _, err := g.svc.Users.GetProfile(g.user).Context(ctx).Do(); err != nil {
		return fmt.Errorf("reading gmail profile: %w", err)
	}
	return nil
}

// Fetch returns message id.
func (g *Gmail) Fetch(ctx context.Context, id string) (*Message, error) {
	m, err := g.svc.Users.Messages.Get(g.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}
	return fromGmail(m)
}

// SearchCompany returns the newest recent job-related message that mentions
// company.
func (g *Gmail) SearchCompany(ctx context.Context, company string) (*Message, error) {
	q := SearchQuery(company)
	g.log.Debug("searching gmail", "query", q)
	res, err := g.svc.Users.Messages.List(g.user).Q(q).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("searching mail for %q: %w", company, err)
	}
	if len(res.Messages) == 0 {
		return nil, fmt.Errorf("searching mail for %q: %w", company, ErrNoMessage)
	}
	return g.Fetch(ctx, res.Messages[0].Id)
}

// SearchQuery builds the Gmail query used by SearchCompany.
func SearchQuery(company string) string {
	terms := make([]string, len(JobKeywords))
	for i, k := range JobKeywords {
		terms[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf("(%s) AND (%s) newer_than:%s",
		strings.TrimSpace(company), strings.Join(terms, " OR "), SearchWindow)
}

func fromGmail(m *gmail.Message) (*Message, error) {
	out := &Message{ID: m.Id}
	if m.InternalDate > 0 {
		out.Date = time.UnixMilli(m.InternalDate)
	}
	if m.Payload == nil {
		return nil, fmt.Errorf("message %s: %w", m.Id, ErrNoBody)
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			out.From = h.Value
		case "subject":
			out.Subject = h.Value
		case "date":
			if d, ok := parseDate(h.Value); ok {
				out.Date = d
			}
		}
	}

	var parts bodyParts
	if err := walkParts(m.Payload, &parts); err != nil {
		return nil, fmt.Errorf("message %s: %w", m.Id, err)
	}
	body, err := parts.text()
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.Id, err)
	}
	out.Body = body
	return out, nil
}

func walkParts(p *gmail.MessagePart, parts *bodyParts) error {
	if len(p.Parts) > 0 {
		for _, child := range p.Parts {
			if err := walkParts(child, parts); err != nil {
				return err
			}
		}
		return nil
	}
	if p.Body == nil || p.Body.Data == "" {
		return nil
	}
	data, err := decodeGmailData(p.Body.Data)
	if err != nil {
		return fmt.Errorf("decoding %s part: %w", p.MimeType, err)
	}
	parts.add(strings.ToLower(p.MimeType), string(data))
	return nil
}

// decodeGmailData decodes URL-safe base64 with or without padding.
func decodeGmailData(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// parseDate accepts RFC 5322 dates and the looser forms seen in the wild.
func parseDate(s string) (time.Time, bool) {
	if d, err := mail.ParseDate(s); err == nil {
		return d, true
	}
	if d, err := evidence.ParseWhen(s, time.Local); err == nil {
		return d, true
	}
	return time.Time{}, false
}
