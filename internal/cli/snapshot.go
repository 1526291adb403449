package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/fitstate/internal/persistence/sqlite"
)

// NewSnapshotCommand groups snapshot subcommands.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect stored state snapshots",
	}
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	return cmd
}

func newSnapshotListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshot namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := sqlite.Open(ctx, opts.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			infos, err := db.Snapshots(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				if infos == nil {
					infos = []sqlite.SnapshotInfo{}
				}
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAMESPACE\tBYTES\tUPDATED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Namespace, info.Size, info.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newSnapshotShowCommand(opts *RootOptions) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a snapshot document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := sqlite.Open(ctx, opts.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			doc, ok, err := db.LoadSnapshot(ctx, namespace)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no snapshot in namespace %q", namespace)
			}
			var out bytes.Buffer
			if err := json.Indent(&out, doc, "", "  "); err != nil {
				return fmt.Errorf("snapshot %q is not valid JSON: %w", namespace, err)
			}
			out.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(out.Bytes())
			return err
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "snapshot namespace")
	return cmd
}
