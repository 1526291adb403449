package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/fitstate/internal/domain"
	"example.com/fitstate/internal/persistence/sqlite"
	"example.com/fitstate/internal/selector"
	"example.com/fitstate/internal/store"
)

// NewDerivedCommand creates the derived command.
func NewDerivedCommand(opts *RootOptions) *cobra.Command {
	var (
		namespace string
		day       string
	)
	cmd := &cobra.Command{
		Use:   "derived",
		Short: "Compute derived values from a snapshot",
		Long: `Load a snapshot and evaluate every selector for one day.

Examples:
  fitstatectl derived --db ./fitstate.db
  fitstatectl derived --day 2026-03-02 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if day == "" {
				day = domain.DayOf(time.Now())
			}
			if _, err := domain.ParseDay(day); err != nil {
				return fmt.Errorf("day must be YYYY-MM-DD: %w", err)
			}
			ctx := cmd.Context()
			db, err := sqlite.Open(ctx, opts.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			st := store.New("fitstatectl", store.WithSnapshotter(db, namespace))
			if err := st.Load(ctx); err != nil {
				return err
			}
			set := selector.New().Compute(st.State(), day)
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), set)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Day:       %s\n", set.Day)
			fmt.Fprintf(w, "Rank:      %s (tier %d)\n", set.Rank.Name, set.Rank.Tier)
			fmt.Fprintf(w, "XP:        %d, %.0f%% to next rank\n", st.State().Gamification.TotalXP, set.XPProgress.Fraction*100)
			fmt.Fprintf(w, "Workouts:  %d today, %d this week\n", len(set.WorkoutsForDate), set.Weekly.Workouts)
			fmt.Fprintf(w, "Recovery:  %d\n", set.Recovery.Score)
			if set.Program.Enrolled {
				fmt.Fprintf(w, "Program:   %s %d/%d\n", set.Program.ProgramName, set.Program.Completed, set.Program.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "snapshot namespace")
	cmd.Flags().StringVar(&day, "day", "", "day to evaluate (YYYY-MM-DD, default today)")
	return cmd
}
