package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/progress/catalog"
)

func newCatalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Inspect badge catalogs"}

	cat.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a YAML badge catalog (built-in when no path is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := catalog.Load(path)
			if err != nil {
				return err
			}
			problems := catalog.Check(c)
			for _, p := range problems {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p.BadgeID, p.Reason)
			}
			if len(problems) > 0 {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "known fields: %s\n", strings.Join(progress.NumericFieldNames(), ", "))
				_, _ = fmt.Fprintf(out, "known sets: %s\n", strings.Join(progress.SetFieldNames(), ", "))
				return fmt.Errorf("catalog has %d problem(s)", len(problems))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d badges\n", c.Len())
			return nil
		},
	})

	cat.AddCommand(&cobra.Command{
		Use:   "dump [path]",
		Short: "Print a catalog as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := catalog.Load(path)
			if err != nil {
				return err
			}
			return catalog.Encode(cmd.OutOrStdout(), c)
		},
	})

	return cat
}
