package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
)

// MigrationService 迁移服务实现
type MigrationService struct {
	migrator IMigrator
	config   MigrationConfig
	logger   *log.Logger
}

// NewMigrationService 创建新的迁移服务
func NewMigrationService(logger *log.Logger) *MigrationService {
	if logger == nil {
		logger = log.New(os.Stdout, "[MIGRATION] ", log.LstdFlags)
	}

	return &MigrationService{
		logger: logger,
	}
}

// Initialize 初始化迁移服务
func (s *MigrationService) Initialize(db *sql.DB, config MigrationConfig) error {
	if config.TableName == "" {
		config.TableName = "schema_migrations"
	}
	if config.DatabaseName == "" {
		config.DatabaseName = DialectSQLite
	}

	if info, err := os.Stat(config.MigrationsPath); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory %s does not exist", config.MigrationsPath)
	}

	migrator, err := NewGolangMigrator(db, config)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	s.migrator = migrator
	s.config = config

	s.logger.Printf("Migration service initialized with path: %s (%s)", config.MigrationsPath, config.DatabaseName)
	return nil
}

// RunMigrations 运行迁移
func (s *MigrationService) RunMigrations(ctx context.Context) error {
	if s.migrator == nil {
		return fmt.Errorf("migration service not initialized")
	}

	version, dirty, err := s.migrator.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Printf("Current migration version: %d (dirty: %v)", version, dirty)

	// 上次迁移中断时，先回到上一个干净的版本再重新执行
	if dirty {
		previous := version - 1
		if previous < 1 {
			previous = -1
		}
		s.logger.Printf("Database is in dirty state at version %d, forcing version %d", version, previous)
		if err := s.migrator.Force(ctx, previous); err != nil {
			return fmt.Errorf("failed to recover from dirty state at version %d: %w", version, err)
		}
	}

	s.logger.Println("Running up migrations...")
	if err := s.migrator.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if finalVersion, _, err := s.migrator.Version(ctx); err == nil {
		s.logger.Printf("Migrations completed successfully, current version: %d", finalVersion)
	}
	return nil
}

// Status 获取当前迁移状态
func (s *MigrationService) Status(ctx context.Context) (*Status, error) {
	if s.migrator == nil {
		return nil, fmt.Errorf("migration service not initialized")
	}

	version, dirty, err := s.migrator.Version(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		Dialect: s.config.DatabaseName,
		Version: version,
		Dirty:   dirty,
		Path:    s.config.MigrationsPath,
	}, nil
}

// Rollback 回滚指定步数
func (s *MigrationService) Rollback(ctx context.Context, steps int) error {
	if s.migrator == nil {
		return fmt.Errorf("migration service not initialized")
	}

	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive")
	}

	s.logger.Printf("Rolling back %d migration steps...", steps)
	if err := s.migrator.Steps(ctx, -steps); err != nil {
		return fmt.Errorf("failed to rollback %d steps: %w", steps, err)
	}

	s.logger.Printf("Successfully rolled back %d migration steps", steps)
	return nil
}

// Force 强制设置迁移版本，用于手动修复dirty状态
func (s *MigrationService) Force(ctx context.Context, version int) error {
	if s.migrator == nil {
		return fmt.Errorf("migration service not initialized")
	}
	s.logger.Printf("Forcing migration version %d", version)
	return s.migrator.Force(ctx, version)
}

// Close 关闭服务
func (s *MigrationService) Close() error {
	if s.migrator != nil {
		return s.migrator.Close()
	}
	return nil
}
