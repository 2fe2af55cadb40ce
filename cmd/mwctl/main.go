package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"mailwizz/internal/config"
	"mailwizz/internal/database"
	"mailwizz/internal/handlers"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:          "mwctl",
		Short:        "MailWizz maintenance tool",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			loadEnv(envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env.local, then .env)")

	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(housekeepingCmd())
	cmd.AddCommand(webhooksCmd())
	cmd.AddCommand(bouncesCmd())
	cmd.AddCommand(quotaCmd())
	cmd.AddCommand(adminCmd())
	cmd.AddCommand(backupCmd())
	return cmd
}

func loadEnv(envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("Warning: failed to load %s: %v", envFile, err)
		}
		return
	}
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load(".env")
	}
}

// runtime 命令执行所需的配置、数据库和外部依赖
type runtime struct {
	cfg  *config.Config
	db   *gorm.DB
	deps handlers.Dependencies
}

func openRuntime() (*runtime, error) {
	cfg := config.Load()

	db, err := database.Initialize(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := handlers.LoadDependencies(cfg)
	if err != nil {
		database.Close(db)
		return nil, err
	}
	return &runtime{cfg: cfg, db: db, deps: deps}, nil
}

func (r *runtime) Close() {
	if err := r.deps.Close(); err != nil {
		log.Printf("Warning: failed to close event publisher: %v", err)
	}
	if err := database.Close(r.db); err != nil {
		log.Printf("Warning: failed to close database: %v", err)
	}
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
