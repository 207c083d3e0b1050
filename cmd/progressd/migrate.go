package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/study-progress/config"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/postgres"
)

func newMigrateCmd(envFiles *[]string) *cobra.Command {
	migrate := &cobra.Command{Use: "migrate", Short: "Manage the postgres schema"}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, *envFiles, func(ctx context.Context, m *postgres.Migrator) error {
				n, err := m.Migrate(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest applied migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, *envFiles, func(ctx context.Context, m *postgres.Migrator) error {
				if err := m.Rollback(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rolled back")
				return nil
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and their state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, *envFiles, func(ctx context.Context, m *postgres.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return printMigrations(cmd.OutOrStdout(), status)
			})
		},
	})

	return migrate
}

// withMigrator подключается к postgres и выполняет fn. Для sqlite и memory
// схема создаётся при открытии, поэтому команда лишь сообщает об этом.
func withMigrator(cmd *cobra.Command, envFiles []string, fn func(context.Context, *postgres.Migrator) error) error {
	cfg, err := loadConfig(envFiles)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.DriverPostgres {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "driver %s applies its schema on open, nothing to do\n", cfg.Database.Driver)
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(ctx, postgres.NewMigrator(conn))
}

func printMigrations(w io.Writer, migrations []postgres.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, m := range migrations {
		state, at := "pending", "-"
		if m.IsApplied {
			state = "applied"
			at = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Version, m.Name, state, at)
	}
	return tw.Flush()
}
