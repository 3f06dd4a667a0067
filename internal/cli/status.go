package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/inboxsync/internal/control"
)

var showDropped int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and message counts for every owner",
	RunE:  runStatus,
}

var resetQueueCmd = &cobra.Command{
	Use:   "reset-queue [owner]",
	Short: "Remove every queued item for an owner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *control.App) error {
			n, err := app.ResetQueue(ctx, ownerArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d queued items\n", n)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().IntVar(&showDropped, "dropped", 0, "also list the N most recent dropped items per owner")
	rootCmd.AddCommand(statusCmd, resetQueueCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *control.App) error {
		statuses, err := app.Status(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "OWNER\tPENDING\tCLAIMED\tMESSAGES\tDROPPED\tRUNNING\tLAST STAGE\tUPDATED")

		for _, st := range statuses {
			stage, updated := "-", "-"
			if st.Last != nil {
				stage = string(st.Last.Stage)
				updated = st.Last.UpdatedAt.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%t\t%s\t%s\n",
				st.OwnerID, st.Queue.Pending, st.Queue.Claimed, st.Messages, st.Dropped, st.Running, stage, updated)
		}
		_ = w.Flush()

		if showDropped <= 0 {
			return nil
		}
		for _, st := range statuses {
			items, err := app.Dropped(ctx, st.OwnerID, showDropped)
			if err != nil {
				return err
			}
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tretries=%d\t%s\t%s\n",
					st.OwnerID, it.ID, it.RetryCount, it.DroppedAt.Format(time.RFC3339), it.Error)
			}
		}
		return nil
	})
}
