package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/inboxsync/internal/control"
	"github.com/vietddude/inboxsync/internal/core/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync [owner]",
	Short: "List new messages into the queue and sync them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *control.App) error {
			final, err := app.Sync(ctx, ownerArg(args))
			printProgress(cmd, final)
			return err
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [owner]",
	Short: "Reclaim stale items and drain the queue without listing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *control.App) error {
			final, err := app.Resume(ctx, ownerArg(args))
			printProgress(cmd, final)
			return err
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [owner]",
	Short: "Classify stored messages that have no label yet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *control.App) error {
			report, err := app.Classify(ctx, ownerArg(args))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages, %d matched, %d no match, %d failed\n",
				report.OwnerID, report.Total, report.Matched, report.NoMatch, report.Failed)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, resumeCmd, classifyCmd)
}

func printProgress(cmd *cobra.Command, p domain.SyncProgress) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "stage=%s queued=%d synced=%d failed=%d batches=%d\n",
		p.Stage, p.Queued, p.Synced, p.Failed, p.Batch)
	for _, e := range p.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}
