package main

import (
	"errors"
	"fmt"

	"github.com/bissquit/notify-relay/internal/config"
	"github.com/bissquit/notify-relay/internal/notifications/sqlite"
	"github.com/bissquit/notify-relay/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(migrateDirectionCmd("up", "Apply all pending migrations", postgres.MigrateUp))
	cmd.AddCommand(migrateDirectionCmd("down", "Roll back all migrations", postgres.MigrateDown))

	return cmd
}

func migrateDirectionCmd(use, short string, direction postgres.MigrateDirection) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			switch cfg.Database.Driver {
			case config.DriverPostgres:
				if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath, direction); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
			case config.DriverSQLite:
				if direction != postgres.MigrateUp {
					return errors.New("sqlite schema does not support rollback")
				}
				// The embedded schema is applied on open.
				repo, err := sqlite.Open(cmd.Context(), cfg.Database.SQLitePath)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				if err := repo.Close(); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", use)
			return nil
		},
	}
}
