package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/fitstate/internal/persistence/sqlite"
	"example.com/fitstate/internal/syncq"
)

// NewQueueCommand groups sync queue subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the sync queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	var abandonedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled queue entries in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := sqlite.Open(ctx, opts.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.LoadEntries(ctx)
			if err != nil {
				return err
			}
			filtered := make([]syncq.Entry, 0, len(entries))
			for _, e := range entries {
				if abandonedOnly && e.State != syncq.StateAbandoned {
					continue
				}
				filtered = append(filtered, e)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), filtered)
			}
			if len(filtered) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tSTATE\tKEY\tLAMPORT\tATTEMPTS\tLAST ERROR")
			for _, e := range filtered {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", e.Seq, e.State, e.Key(), e.Lamport, e.Attempts, e.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&abandonedOnly, "abandoned", false, "only list abandoned entries")
	return cmd
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <seq>",
		Short: "Requeue an abandoned entry with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("seq must be a sequence number: %w", err)
			}
			ctx := cmd.Context()
			db, err := sqlite.Open(ctx, opts.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			queue := syncq.NewQueue(syncq.WithJournal(db))
			if err := queue.Load(ctx); err != nil {
				return err
			}
			entry, err := queue.Retry(ctx, seq)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s as seq %d.\n", entry.Key(), entry.Seq)
			return nil
		},
	}
}
