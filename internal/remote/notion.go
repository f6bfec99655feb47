package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dstotijn/go-notion"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// Database property names.
const (
	propName            = "Name"
	propStatus          = "Status"
	propLastInteraction = "Last Interaction"
	propLastDate        = "Last Interaction Date"
	propNextStep        = "Next Step"
)

// Notion API limits.
const (
	maxRichText     = 2000 // characters per rich text object
	maxAppendBlocks = 100  // children per append request
)

// Notion mirrors records into a Notion database, one page per company.
type Notion struct {
	api        *notion.Client
	databaseID string
	log        *slog.Logger
}

// NotionOption configures a Notion remote.
type NotionOption func(*notionConfig)

type notionConfig struct {
	httpClient *http.Client
	log        *slog.Logger
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) NotionOption {
	return func(cfg *notionConfig) { cfg.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) NotionOption {
	return func(cfg *notionConfig) { cfg.log = l }
}

// NewNotion returns a remote for the database databaseID.
func NewNotion(token, databaseID string, opts ...NotionOption) *Notion {
	cfg := notionConfig{log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	var clientOpts []notion.ClientOption
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, notion.WithHTTPClient(cfg.httpClient))
	}
	return &Notion{
		api:        notion.NewClient(token, clientOpts...),
		databaseID: databaseID,
		log:        cfg.log,
	}
}

// Ping runs a one-row query to check the database is reachable.
func (n *Notion) Ping(ctx context.Context) error {
	_, err := n.api.QueryDatabase(ctx, n.databaseID, &notion.DatabaseQuery{PageSize: 1})
	if err != nil {
		return fmt.Errorf("querying notion database: %w", classifyNotion(err))
	}
	return nil
}

// PushRecord implements Remote.
func (n *Notion) PushRecord(ctx context.Context, rec tracker.CompanyRecord) (string, error) {
	props := pageProperties(rec)

	ref := rec.RemoteRef
	if ref == "" {
		found, err := n.FindByName(ctx, rec.Name)
		if err != nil {
			return "", err
		}
		ref = found
		if ref != "" {
			n.log.Info("adopting existing notion page", "company", rec.Name, "page", ref)
		}
	}

	if ref == "" {
		page, err := n.api.CreatePage(ctx, notion.CreatePageParams{
			ParentType:             notion.ParentTypeDatabase,
			ParentID:               n.databaseID,
			DatabasePageProperties: &props,
		})
		if err != nil {
			return "", fmt.Errorf("creating notion page for %q: %w", rec.Name, classifyNotion(err))
		}
		ref = page.ID
		n.log.Info("created notion page", "company", rec.Name, "page", ref)
	} else {
		if rec.RemoteRef != "" {
			if err := n.checkLive(ctx, rec); err != nil {
				return "", err
			}
		}
		_, err := n.api.UpdatePage(ctx, ref, notion.UpdatePageParams{DatabasePageProperties: props})
		if err != nil {
			if isNotFound(err) && rec.RemoteRef != "" {
				return "", fmt.Errorf("notion page %s for %q: %w", ref, rec.Name, tracker.ErrRemoteMissing)
			}
			return "", fmt.Errorf("updating notion page for %q: %w", rec.Name, classifyNotion(err))
		}
	}

	blocks := noteBlocks(rec.UnsyncedNotes())
	for len(blocks) > 0 {
		batch := blocks[:min(len(blocks), maxAppendBlocks)]
		if _, err := n.api.AppendBlockChildren(ctx, ref, batch); err != nil {
			return "", fmt.Errorf("appending notes for %q: %w", rec.Name, classifyNotion(err))
		}
		blocks = blocks[len(batch):]
	}
	return ref, nil
}

// checkLive reports ErrRemoteMissing when the record's page was deleted or
// moved to the trash. Notion still serves trashed pages, and accepts updates
// to them, so a 404 alone does not catch it.
func (n *Notion) checkLive(ctx context.Context, rec tracker.CompanyRecord) error {
	page, err := n.api.FindPageByID(ctx, rec.RemoteRef)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("notion page %s for %q: %w", rec.RemoteRef, rec.Name, tracker.ErrRemoteMissing)
		}
		return fmt.Errorf("fetching notion page for %q: %w", rec.Name, classifyNotion(err))
	}
	if page.Archived {
		return fmt.Errorf("notion page %s for %q is archived: %w", rec.RemoteRef, rec.Name, tracker.ErrRemoteMissing)
	}
	return nil
}

// FetchRecord implements Remote.
func (n *Notion) FetchRecord(ctx context.Context, ref string) (*Snapshot, error) {
	page, err := n.api.FindPageByID(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching notion page %s: %w", ref, classifyNotion(err))
	}
	if page.Archived {
		return nil, nil
	}
	return snapshotFromPage(page), nil
}

// FindByName returns the ID of the first live page whose title equals name,
// or "" if there is none.
func (n *Notion) FindByName(ctx context.Context, name string) (string, error) {
	res, err := n.api.QueryDatabase(ctx, n.databaseID, &notion.DatabaseQuery{
		Filter: &notion.DatabaseQueryFilter{
			Property: propName,
			DatabaseQueryPropertyFilter: notion.DatabaseQueryPropertyFilter{
				RichText: &notion.TextPropertyFilter{Equals: strings.TrimSpace(name)},
			},
		},
		PageSize: 10,
	})
	if err != nil {
		return "", fmt.Errorf("searching notion for %q: %w", name, classifyNotion(err))
	}
	for _, p := range res.Results {
		if p.Archived {
			continue
		}
		if tracker.Key(snapshotFromPage(p).Name) == tracker.Key(name) {
			return p.ID, nil
		}
	}
	return "", nil
}

func pageProperties(rec tracker.CompanyRecord) notion.DatabasePageProperties {
	props := notion.DatabasePageProperties{
		propName:     notion.DatabasePageProperty{Title: richText(rec.Name)},
		propStatus:   notion.DatabasePageProperty{Select: &notion.SelectOptions{Name: rec.Status.String()}},
		propNextStep: notion.DatabasePageProperty{Select: &notion.SelectOptions{Name: rec.Status.NextStep()}},
	}
	if rec.LastInteractionType != "" {
		props[propLastInteraction] = notion.DatabasePageProperty{
			Select: &notion.SelectOptions{Name: rec.LastInteractionType.Label()},
		}
	}
	if !rec.LastInteractionAt.IsZero() {
		props[propLastDate] = notion.DatabasePageProperty{
			Date: &notion.Date{Start: notion.NewDateTime(rec.LastInteractionAt, true)},
		}
	}
	return props
}

func noteBlocks(notes []tracker.Note) []notion.Block {
	var blocks []notion.Block
	for _, n := range notes {
		blocks = append(blocks, notion.Heading3Block{RichText: richText(noteHeading(n))})
		for _, part := range chunk(n.Text, maxRichText) {
			blocks = append(blocks, notion.ParagraphBlock{RichText: richText(part)})
		}
		for _, kp := range n.KeyPoints {
			blocks = append(blocks, notion.BulletedListItemBlock{RichText: richText(kp)})
		}
		for _, line := range noteLines(n) {
			blocks = append(blocks, notion.ParagraphBlock{RichText: richText(line)})
		}
	}
	return blocks
}

func snapshotFromPage(p notion.Page) *Snapshot {
	s := &Snapshot{Ref: p.ID, URL: p.URL}
	props, ok := p.Properties.(notion.DatabasePageProperties)
	if !ok {
		return s
	}
	s.Name = plainText(props[propName].Title)
	if sel := props[propStatus].Select; sel != nil {
		if st, err := tracker.ParseStatus(sel.Name); err == nil {
			s.Status = st
		}
	}
	if sel := props[propLastInteraction].Select; sel != nil {
		if k, err := tracker.ParseSourceKind(sel.Name); err == nil {
			s.LastInteractionType = k
		}
	}
	if d := props[propLastDate].Date; d != nil {
		s.LastInteractionAt = d.Start.Time
	}
	if sel := props[propNextStep].Select; sel != nil {
		s.NextStep = sel.Name
	}
	return s
}

// richText builds a Notion rich_text slice from a plain string.
func richText(s string) []notion.RichText {
	if s == "" {
		return nil
	}
	return []notion.RichText{{Text: &notion.Text{Content: s}}}
}

func plainText(rt []notion.RichText) string {
	var sb strings.Builder
	for _, r := range rt {
		switch {
		case r.PlainText != "":
			sb.WriteString(r.PlainText)
		case r.Text != nil:
			sb.WriteString(r.Text.Content)
		}
	}
	return sb.String()
}

func isNotFound(err error) bool {
	var apiErr *notion.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// classifyNotion marks client errors other than rate limiting as ErrRejected.
func classifyNotion(err error) error {
	var apiErr *notion.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
