package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReelForge/internal/adapter/postgres"
	"github.com/Strob0t/ReelForge/internal/adapter/sqlite"
	"github.com/Strob0t/ReelForge/internal/config"
)

var errMigrateBackend = errors.New("migrate applies to the postgres backend only; sqlite migrates on open")

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage checkpoint database migrations",
	}
	migrateCmd.AddCommand(newMigrateUpCommand(ctx))
	migrateCmd.AddCommand(newMigrateDownCommand(ctx))
	migrateCmd.AddCommand(newMigrateStatusCommand(ctx))
	return migrateCmd
}

func newMigrateUpCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			switch cfg.Checkpoint.Backend {
			case "postgres":
				if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
					return err
				}
			case "sqlite":
				db, err := sqlite.Open(cmd.Context(), cfg.SQLite)
				if err != nil {
					return err
				}
				if err := db.Close(); err != nil {
					return err
				}
			default:
				return errMigrateBackend
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newMigrateDownCommand(ctx *commandContext) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requirePostgres(ctx)
			if err != nil {
				return err
			}
			if steps < 1 {
				return fmt.Errorf("--steps must be >= 1")
			}
			if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func newMigrateStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requirePostgres(ctx)
			if err != nil {
				return err
			}
			states, err := postgres.MigrationStatus(cmd.Context(), cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			v, err := postgres.MigrationVersion(cmd.Context(), cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(states))
			for _, s := range states {
				applied := "pending"
				if s.Applied {
					applied = s.AppliedAt.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, []string{strconv.FormatInt(s.Version, 10), filepath.Base(s.Name), applied})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Version", "File", "Applied"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "current version: %d\n", v)
			return nil
		},
	}
}

func requirePostgres(ctx *commandContext) (*config.Config, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Checkpoint.Backend != "postgres" {
		return nil, errMigrateBackend
	}
	return cfg, nil
}
