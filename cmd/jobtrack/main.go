package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobtrack",
		Short: "Track job applications from calls and emails",
		Long: `jobtrack keeps one record per company you are talking to. Each call
transcript or email is read for the company, a status hint and key points,
merged into the local record, and pushed to a Notion database.

Statuses only move forward (Not Applied, Applied, Interview, Offer) unless
the evidence says Rejected; use set-status to override.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if os.Getenv("NO_COLOR") != "" {
				noColor = true
			}
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newCallCmd(),
		newEmailCmd(),
		newStatusCmd(),
		newListCmd(),
		newFollowUpsCmd(),
		newSetStatusCmd(),
		newStatsCmd(),
		newSyncCmd(),
		newDoctorCmd(),
		newConfigCmd(),
		newDataCmd(),
		newServeCmd(),
		newStopCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the jobtrack version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jobtrack version %s\n", version)
		},
	}
}
