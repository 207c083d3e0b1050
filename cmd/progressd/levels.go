package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/study-progress/internal/domain/progress"
)

func newLevelsCmd() *cobra.Command {
	var (
		asJSON bool
		xp     int64
	)

	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the level curve, or the level for --xp",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("xp") {
				level := progress.CalculateLevel(xp)
				_, _ = fmt.Fprintf(out, "level %d, %.1f%% to next, %d XP needed\n",
					level, progress.LevelProgress(xp), progress.XPToNextLevel(xp))
				return nil
			}

			table := progress.LevelTable()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			_, _ = fmt.Fprintln(tw, "LEVEL\tXP\tDELTA\t")
			for _, row := range table {
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t\n", row.Level, row.XP, row.Delta)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	cmd.Flags().Int64Var(&xp, "xp", 0, "report the level reached with this much XP")
	return cmd
}
