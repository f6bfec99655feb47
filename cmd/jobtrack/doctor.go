package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errSkipped marks a check for an integration that is not configured.
var errSkipped = errors.New("not configured")

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type checkResult struct {
	detail string
	err    error
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check storage, Notion, Gmail, transcription and the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				checks := doctorChecks(a)
				results := runChecks(ctx, checks)

				failed := 0
				for i, c := range checks {
					r := results[i]
					switch {
					case errors.Is(r.err, errSkipped):
						printStatus(c.name, "%s", colorize(colorYellow, "not configured"))
					case r.err != nil:
						failed++
						printStatus(c.name, "%s", colorize(colorRed, r.err.Error()))
					default:
						printStatus(c.name, "%s", colorize(colorGreen, r.detail))
					}
				}
				printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
				if failed > 0 {
					return fmt.Errorf("%d checks failed", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("timeout", 15*time.Second, "overall time limit for the checks")
	return cmd
}

func doctorChecks(a *app) []check {
	return []check{
		{"Storage", func(ctx context.Context) (string, error) {
			counts, err := a.store.CountByStatus(ctx)
			if err != nil {
				return "", err
			}
			total := 0
			for _, n := range counts {
				total += n
			}
			return fmt.Sprintf("ok, %d companies", total), nil
		}},
		{"Notion", func(ctx context.Context) (string, error) {
			if a.notion == nil {
				return "", errSkipped
			}
			if err := a.notion.Ping(ctx); err != nil {
				return "", err
			}
			return "database reachable", nil
		}},
		{"Gmail", func(ctx context.Context) (string, error) {
			mb, err := a.mailbox(ctx)
			if errors.Is(err, errGmailNotConfigured) {
				return "", errSkipped
			}
			if err != nil {
				return "", err
			}
			if err := mb.Ping(ctx); err != nil {
				return "", err
			}
			return "mailbox reachable", nil
		}},
		{"Transcription", func(ctx context.Context) (string, error) {
			if a.cfg.Whisper.APIKey == "" && a.cfg.Whisper.BaseURL == "https://api.openai.com/v1" {
				return "", errSkipped
			}
			if err := a.transcriber().Ping(ctx); err != nil {
				return "", err
			}
			return "endpoint reachable at " + a.cfg.Whisper.BaseURL, nil
		}},
		{"Server", func(ctx context.Context) (string, error) {
			c, err := newAPIClient(a.cfg)
			if err != nil {
				return "", err
			}
			total, localOnly, err := c.serverStats(ctx)
			if err != nil {
				return "stopped", nil
			}
			mode := "with Notion"
			if localOnly {
				mode = "local-only"
			}
			return fmt.Sprintf("running on port %d (%s, %d companies)", a.cfg.Server.Port, mode, total), nil
		}},
	}
}

// runChecks runs every check concurrently. A failing check does not cancel
// the others.
func runChecks(ctx context.Context, checks []check) []checkResult {
	results := make([]checkResult, len(checks))
	var g errgroup.Group
	g.SetLimit(4)
	for i, c := range checks {
		g.Go(func() error {
			detail, err := c.run(ctx)
			results[i] = checkResult{detail: detail, err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
