package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/tracker"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// statusColor highlights terminal and hopeful statuses.
func statusColor(s tracker.Status) string {
	switch s {
	case tracker.Offer:
		return colorize(colorGreen, s.String())
	case tracker.Rejected:
		return colorize(colorRed, s.String())
	case tracker.Interview:
		return colorize(colorCyan, s.String())
	}
	return s.String()
}

// printResult reports one tracking operation. The record line goes to w so
// it can be piped; everything else is decoration on stderr.
func printResult(w io.Writer, res *pipeline.Result) {
	rec := res.Record
	switch {
	case res.Created:
		printSuccess("Added %s as %s", rec.Name, rec.Status)
	case res.StatusChanged():
		printSuccess("%s: %s → %s", rec.Name, res.PreviousStatus, rec.Status)
	default:
		printSuccess("%s: still %s", rec.Name, rec.Status)
	}
	if res.Evidence.Trigger != "" {
		printStatus("Matched", "%q", res.Evidence.Trigger)
	}
	if n := lastNote(rec); n != nil && n.IgnoredStatus != nil {
		printStatus("Ignored", "%s (status does not move backwards)", n.IgnoredStatus)
	}
	printStatus("Next step", "%s", rec.Status.NextStep())
	for _, kp := range res.Evidence.KeyPoints {
		printStatus("Key point", "%s", kp)
	}
	if !res.Pushed {
		printWarning("Notion is not configured; saved locally. Run `jobtrack sync` once it is.")
	}
	if len(res.Drift) > 0 {
		printWarning("Notion page differs from the local record: %s", strings.Join(res.Drift, "; "))
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Name, rec.Status, rec.LastInteractionAt.Format("2006-01-02"))
}

func lastNote(rec tracker.CompanyRecord) *tracker.Note {
	if len(rec.Notes) == 0 {
		return nil
	}
	return &rec.Notes[len(rec.Notes)-1]
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
