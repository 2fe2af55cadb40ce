package main

import (
	"fmt"

	"mailwizz/internal/services"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, verify and restore SQLite database backups",
	}

	c.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a backup and drop backups beyond BACKUP_MAX_COUNT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackups(func(s *services.BackupServiceImpl) error {
				info, err := s.CreateBackup(cmd.Context())
				if err != nil {
					return err
				}
				if _, err := s.CleanupOldBackups(cmd.Context()); err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackups(func(s *services.BackupServiceImpl) error {
				backups, err := s.ListBackups(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(backups)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "verify <filename>",
		Short: "Run an integrity check on a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(func(s *services.BackupServiceImpl) error {
				if err := s.ValidateBackup(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("%s is valid\n", args[0])
				return nil
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "restore <filename>",
		Short: "Replace the database file with a backup; stop the server first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackups(func(s *services.BackupServiceImpl) error {
				if err := s.RestoreBackup(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Database restored from %s\n", args[0])
				return nil
			})
		},
	})
	return c
}

func withBackups(fn func(*services.BackupServiceImpl) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(services.NewBackupService(rt.db, rt.cfg.Database.Path, rt.cfg.Backup))
}
