package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/tracker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tracker       *pipeline.Tracker
	FollowUpAfter time.Duration
	Version       string
}

// NewMCPServer creates an MCP server exposing the tracker as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"jobtrack",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("jobtrack keeps a per-company record of a job search. Record calls and emails, then query status."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("track_call",
			mcp.WithDescription("Record a call transcript or call notes against a company."),
			mcp.WithString("text", mcp.Description("Transcript or notes"), mcp.Required()),
			mcp.WithString("company", mcp.Description("Company name; inferred from the text when omitted")),
			mcp.WithString("summary", mcp.Description("Short note stored instead of the full text")),
			mcp.WithString("date", mcp.Description("When the call happened; defaults to now")),
		),
		mcpTrack(deps, tracker.Call),
	)

	s.AddTool(
		mcp.NewTool("track_email",
			mcp.WithDescription("Record an email from or about a company."),
			mcp.WithString("text", mcp.Description("Email body"), mcp.Required()),
			mcp.WithString("company", mcp.Description("Company name; inferred when omitted")),
			mcp.WithString("sender", mcp.Description("From header, used to infer the company")),
			mcp.WithString("subject", mcp.Description("Subject line")),
			mcp.WithString("date", mcp.Description("When the email was received; defaults to now")),
		),
		mcpTrack(deps, tracker.Email),
	)

	s.AddTool(
		mcp.NewTool("company_status",
			mcp.WithDescription("Show the tracked record for one company, including its notes."),
			mcp.WithString("company", mcp.Description("Company name"), mcp.Required()),
		),
		mcpCompanyStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_companies",
			mcp.WithDescription("List tracked companies, optionally filtered by status."),
			mcp.WithString("status", mcp.Description("Not Applied, Applied, Interview, Offer or Rejected")),
		),
		mcpListCompanies(deps),
	)

	s.AddTool(
		mcp.NewTool("followups",
			mcp.WithDescription("List active applications with no interaction for a number of days."),
			mcp.WithNumber("days", mcp.Description("Days without interaction (default from config)")),
		),
		mcpFollowUps(deps),
	)

	s.AddTool(
		mcp.NewTool("set_status",
			mcp.WithDescription("Manually set a company's status, bypassing the forward-only rule."),
			mcp.WithString("company", mcp.Description("Company name"), mcp.Required()),
			mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
			mcp.WithString("reason", mcp.Description("Why the status was changed")),
		),
		mcpSetStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobtrack://stats",
			"Pipeline Stats",
			mcp.WithResourceDescription("Company counts by status as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpTrack(deps MCPDeps, kind tracker.SourceKind) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		var at time.Time
		if raw := req.GetString("date", ""); raw != "" {
			if at, err = evidence.ParseWhen(raw, time.Local); err != nil {
				return mcpError(fmt.Sprintf("invalid date %q: %v", raw, err)), nil
			}
		}

		res, err := deps.Tracker.Track(ctx, evidence.Input{
			Kind:    kind,
			Text:    text,
			Company: req.GetString("company", ""),
			Summary: req.GetString("summary", ""),
			Sender:  req.GetString("sender", ""),
			Subject: req.GetString("subject", ""),
		}, at)
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", errorKind(err), err)), nil
		}
		return mcpJSON(toTrackView(res))
	}
}

func mcpCompanyStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		company, err := req.RequireString("company")
		if err != nil {
			return mcpError("company is required"), nil
		}
		rec, err := deps.Tracker.Get(ctx, company)
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", errorKind(err), err)), nil
		}
		return mcpJSON(toCompanyView(rec, true))
	}
}

func mcpListCompanies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var statuses []tracker.Status
		if raw := req.GetString("status", ""); raw != "" {
			st, err := tracker.ParseStatus(raw)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			statuses = append(statuses, st)
		}
		recs, err := deps.Tracker.List(ctx, statuses...)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		out := make([]companyView, 0, len(recs))
		for _, r := range recs {
			out = append(out, toCompanyView(r, false))
		}
		return mcpJSON(out)
	}
}

func mcpFollowUps(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		after := deps.FollowUpAfter
		if after <= 0 {
			after = 7 * 24 * time.Hour
		}
		if days := req.GetInt("days", 0); days > 0 {
			after = time.Duration(days) * 24 * time.Hour
		}
		recs, err := deps.Tracker.FollowUps(ctx, after)
		if err != nil {
			return mcpError(fmt.Sprintf("followups failed: %v", err)), nil
		}
		out := make([]companyView, 0, len(recs))
		for _, r := range recs {
			out = append(out, toCompanyView(r, false))
		}
		return mcpJSON(out)
	}
}

func mcpSetStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		company, err := req.RequireString("company")
		if err != nil {
			return mcpError("company is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcpError("status is required"), nil
		}
		st, err := tracker.ParseStatus(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		res, err := deps.Tracker.SetStatus(ctx, company, st, req.GetString("reason", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", errorKind(err), err)), nil
		}
		return mcpText(fmt.Sprintf("%s: %s -> %s", res.Record.Name, res.PreviousStatus, res.Record.Status)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Tracker.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
		b, err := json.Marshal(toStatsView(st))
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
