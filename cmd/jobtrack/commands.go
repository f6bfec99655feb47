package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/jobtrack/internal/config"
	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/mail"
	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/tracker"
)

// --- call ---

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [audio-file]",
		Short: "Record a call from a recording or a transcript",
		Long: `Record a call against a company.

An audio file is transcribed and the transcript saved next to it as
<file>.txt; a second run reuses the saved transcript. The call date comes
from --date, then from a YYYY-MM-DD or YYYYMMDD in the file name, then now.

Examples:
  jobtrack call ~/calls/2026-03-02-acme.m4a --company Acme
  jobtrack call --transcript notes.txt --company "Globex Corp"
  jobtrack call --transcript notes.txt --summary "Recruiter screen, good fit"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, _ := cmd.Flags().GetString("transcript")
			company, _ := cmd.Flags().GetString("company")
			summary, _ := cmd.Flags().GetString("summary")
			date, _ := cmd.Flags().GetString("date")

			if len(args) == 0 && transcript == "" {
				return fmt.Errorf("an audio file or --transcript is required")
			}
			source := transcript
			if source == "" {
				source = args[0]
			}
			at, err := interactionDate(date, source, time.Time{})
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				var text string
				if transcript != "" {
					if text, err = evidence.ReadFile(transcript); err != nil {
						return err
					}
				} else {
					printStep("Transcribing %s", filepath.Base(args[0]))
					if text, err = a.transcriber().TranscribeAndSave(ctx, args[0]); err != nil {
						return err
					}
				}
				return track(cmd, a, evidence.Input{
					Kind:    tracker.Call,
					Text:    text,
					Company: company,
					Summary: summary,
				}, at)
			})
		},
	}
	cmd.Flags().String("transcript", "", "transcript or notes file (.txt, .html, .pdf) instead of audio")
	cmd.Flags().String("company", "", "company name (inferred from the text when omitted)")
	cmd.Flags().String("summary", "", "short note to store instead of the full transcript")
	cmd.Flags().String("date", "", "when the call happened")
	return cmd
}

// --- email ---

func newEmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Record an email from Gmail or a file",
		Long: `Record an email against a company.

Examples:
  jobtrack email --id 18c2f0a9d1e2b3c4
  jobtrack email --search "Acme Corp"
  jobtrack email --file offer.eml
  jobtrack email --file rejection.txt --company Globex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			search, _ := cmd.Flags().GetString("search")
			file, _ := cmd.Flags().GetString("file")
			company, _ := cmd.Flags().GetString("company")
			date, _ := cmd.Flags().GetString("date")

			return withApp(cmd, func(ctx context.Context, a *app) error {
				var msg *mail.Message
				var err error
				switch {
				case file != "":
					msg, err = readMessageFile(file)
				case id != "" || search != "":
					var mb mailbox
					if mb, err = a.mailbox(ctx); err != nil {
						return err
					}
					if id != "" {
						printStep("Fetching message %s", id)
						msg, err = mb.Fetch(ctx, id)
					} else {
						printStep("Searching mail for %s", search)
						msg, err = mb.SearchCompany(ctx, search)
						if company == "" {
							company = search
						}
					}
				}
				if err != nil {
					return err
				}
				if msg.Subject != "" {
					printStatus("Subject", "%s", msg.Subject)
				}

				at, err := interactionDate(date, "", msg.Date)
				if err != nil {
					return err
				}
				return track(cmd, a, msg.Input(company), at)
			})
		},
	}
	cmd.Flags().String("id", "", "Gmail message id")
	cmd.Flags().String("search", "", "take the newest job-related Gmail message mentioning this company")
	cmd.Flags().String("file", "", "message file (.eml) or body text (.txt, .html, .pdf)")
	cmd.Flags().String("company", "", "company name (inferred from sender or text when omitted)")
	cmd.Flags().String("date", "", "when the email was received (default: its Date header)")
	cmd.MarkFlagsMutuallyExclusive("id", "search", "file")
	cmd.MarkFlagsOneRequired("id", "search", "file")
	return cmd
}

func readMessageFile(path string) (*mail.Message, error) {
	if strings.EqualFold(filepath.Ext(path), ".eml") {
		return mail.ReadEML(path)
	}
	text, err := evidence.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &mail.Message{Body: text}, nil
}

// interactionDate picks the explicit date, then a date in the file name,
// then fallback. A zero result means now.
func interactionDate(flag, path string, fallback time.Time) (time.Time, error) {
	if flag != "" {
		t, err := evidence.ParseWhen(flag, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --date: %w", err)
		}
		return t, nil
	}
	if path != "" {
		if t, ok := evidence.DateFromFilename(path, time.Local); ok {
			return t, nil
		}
	}
	return fallback, nil
}

func track(cmd *cobra.Command, a *app, in evidence.Input, at time.Time) error {
	res, err := a.tracker.Track(cmd.Context(), in, at)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrMissingCompany):
			printError("Could not tell which company this is about; pass --company")
		case errors.Is(err, tracker.ErrRemoteMissing):
			printError("The Notion page for this company was deleted; nothing was recorded")
		case errors.Is(err, tracker.ErrRemoteUnavailable):
			printError("Notion is unreachable; nothing was recorded, try again later")
		}
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// --- status ---

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <company>",
		Short: "Show a company's record and its Notion page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.Get(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n", colorize(colorBold, rec.Name))
				fmt.Fprintf(out, "  Status:           %s\n", statusColor(rec.Status))
				fmt.Fprintf(out, "  Next step:        %s\n", rec.Status.NextStep())
				fmt.Fprintf(out, "  Last interaction: %s (%s)\n", rec.LastInteractionAt.Format("2006-01-02 15:04"), rec.LastInteractionType.Label())
				fmt.Fprintf(out, "  Notes:            %d\n", len(rec.Notes))
				for _, n := range rec.Notes {
					fmt.Fprintf(out, "    %s  %-6s %s\n", n.At.Format("2006-01-02"), n.Source.Label(), truncate(n.Text, 80))
				}

				snap, err := a.tracker.Snapshot(ctx, rec)
				switch {
				case a.tracker.LocalOnly():
					printStatus("Notion", "not configured")
				case err != nil:
					printWarning("Could not read the Notion page: %v", err)
				case snap == nil && rec.RemoteRef == "":
					printStatus("Notion", "not synced yet")
				case snap == nil:
					printWarning("Notion page %s no longer exists", rec.RemoteRef)
				default:
					printStatus("Notion", "%s", snap.URL)
					if drift := snap.Diff(rec); len(drift) > 0 {
						printWarning("Notion page differs: %s", strings.Join(drift, "; "))
					}
				}
				return nil
			})
		},
	}
}

// --- list ---

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringSlice("status")
			var statuses []tracker.Status
			for _, r := range raw {
				st, err := tracker.ParseStatus(r)
				if err != nil {
					return err
				}
				statuses = append(statuses, st)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				recs, err := a.tracker.List(ctx, statuses...)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No companies tracked.")
					return nil
				}
				printTable(cmd, recs)
				return nil
			})
		},
	}
	cmd.Flags().StringSlice("status", nil, "only companies in these statuses")
	return cmd
}

func printTable(cmd *cobra.Command, recs []tracker.CompanyRecord) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPANY\tSTATUS\tLAST\tDATE\tNEXT STEP")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Status, r.LastInteractionType.Label(),
			r.LastInteractionAt.Format("2006-01-02"), r.Status.NextStep())
	}
	tw.Flush()
}

// --- followups ---

func newFollowUpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "followups",
		Short: "List active applications that have gone quiet",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				after := a.cfg.FollowUp.After()
				if days > 0 {
					after = time.Duration(days) * 24 * time.Hour
				}
				recs, err := a.tracker.FollowUps(ctx, after)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					printSuccess("Nothing to follow up on")
					return nil
				}
				printTable(cmd, recs)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 0, "days without interaction (default: followup.after_days)")
	return cmd
}

// --- set-status ---

func newSetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <company> <status>",
		Short: "Override a company's status",
		Long: `Override a company's status. Unlike evidence, an override may move the
status backwards. A note recording the change is added.

Statuses: Not Applied, Applied, Interview, Offer, Rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			st, err := tracker.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.tracker.SetStatus(ctx, args[0], st, reason)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().String("reason", "", "why the status changed")
	return cmd
}

// --- stats ---

var statsLabels = []struct {
	status tracker.Status
	label  string
}{
	{tracker.NotApplied, "Leads"},
	{tracker.Applied, "Applications"},
	{tracker.Interview, "Interviews"},
	{tracker.Offer, "Offers"},
	{tracker.Rejected, "Rejections"},
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count companies per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.tracker.Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, l := range statsLabels {
					fmt.Fprintf(out, "%-13s %d\n", l.label+":", st.ByStatus[l.status])
				}
				fmt.Fprintf(out, "%-13s %d\n", "Total:", st.Total)
				if st.Unsynced > 0 {
					printWarning("%d companies have changes not yet in Notion", st.Unsynced)
				}
				return nil
			})
		},
	}
}

// --- sync ---

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push records that were saved while Notion was not configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.tracker.Sync(ctx)
				if errors.Is(err, pipeline.ErrLocalOnly) {
					return fmt.Errorf("%w: set notion.database_id and notion.token first", err)
				}
				for _, name := range rep.Pushed {
					printSuccess("Pushed %s", name)
				}
				for name, ferr := range rep.Failed {
					printError("%s: %v", name, ferr)
				}
				if err != nil {
					return fmt.Errorf("%d of %d companies failed to sync", len(rep.Failed), len(rep.Failed)+len(rep.Pushed))
				}
				if len(rep.Pushed) == 0 {
					printSuccess("Everything is in sync")
				}
				return nil
			})
		},
	}
}

// --- data ---

func newDataCmd() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Export stored data",
	}
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every company record with its notes as JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				recs, err := a.tracker.List(ctx)
				if err != nil {
					return err
				}

				writer := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating output file: %w", err)
					}
					defer f.Close()
					writer = f
				}

				enc := json.NewEncoder(writer)
				for _, r := range recs {
					if err := enc.Encode(map[string]any{"type": "company", "data": r}); err != nil {
						return err
					}
				}
				if output != "" {
					printSuccess("Exported %d companies to %s", len(recs), output)
				}
				return nil
			})
		},
	}
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataCmd.AddCommand(exportCmd)
	return dataCmd
}

// --- config ---

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, k := range config.ShowAll(cfg) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		},
	}
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := config.SetKey(key, value); err != nil {
				return err
			}
			for _, k := range config.ShowAll(config.Config{}) {
				if k.Key == key && k.Secret {
					value = "(secret stored)"
				}
			}
			printSuccess("Set %s = %s", key, value)
			return nil
		},
	}
	configCmd.AddCommand(showCmd, setCmd)
	return configCmd
}
