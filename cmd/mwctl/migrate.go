package main

import (
	"fmt"
	"strconv"

	"mailwizz/internal/config"
	"mailwizz/internal/database"
	"mailwizz/internal/database/migration"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Manage versioned SQL migrations",
	}

	c.AddCommand(migrateUpCmd())
	c.AddCommand(migrateDownCmd())
	c.AddCommand(migrateStatusCmd())
	c.AddCommand(migrateForceCmd())
	return c
}

func withMigrations(fn func(*migration.MigrationService) error) error {
	cfg := config.Load()
	service, err := database.OpenMigrations(cfg.Database)
	if err != nil {
		return err
	}
	defer service.Close()
	return fn(service)
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrations(func(s *migration.MigrationService) error {
				return s.RunMigrations(cmd.Context())
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrations(func(s *migration.MigrationService) error {
				return s.Rollback(cmd.Context(), steps)
			})
		},
	}

	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrations(func(s *migration.MigrationService) error {
				status, err := s.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version after fixing a dirty state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrations(func(s *migration.MigrationService) error {
				return s.Force(cmd.Context(), version)
			})
		},
	}
}
