package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// GolangMigrator golang-migrate的实现
type GolangMigrator struct {
	migrate *migrate.Migrate
	config  MigrationConfig
}

// NewGolangMigrator 创建新的golang-migrate迁移器
func NewGolangMigrator(db *sql.DB, config MigrationConfig) (*GolangMigrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	if config.MigrationsPath == "" {
		return nil, fmt.Errorf("migrations path cannot be empty")
	}

	driver, err := databaseDriver(db, config)
	if err != nil {
		return nil, err
	}

	// 构建文件路径URL
	sourceURL := fmt.Sprintf("file://%s", filepath.ToSlash(config.MigrationsPath))

	m, err := migrate.NewWithDatabaseInstance(sourceURL, config.DatabaseName, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &GolangMigrator{
		migrate: m,
		config:  config,
	}, nil
}

// databaseDriver 按方言创建golang-migrate数据库驱动
func databaseDriver(db *sql.DB, config MigrationConfig) (database.Driver, error) {
	var (
		driver database.Driver
		err    error
	)

	switch config.DatabaseName {
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{
			MigrationsTable: config.TableName,
		})
	case DialectMySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{
			MigrationsTable: config.TableName,
		})
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{
			MigrationsTable: config.TableName,
		})
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %s", config.DatabaseName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration driver: %w", config.DatabaseName, err)
	}
	return driver, nil
}

// Up 执行向上迁移
func (g *GolangMigrator) Up(ctx context.Context) error {
	if err := g.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run up migrations: %w", err)
	}
	return nil
}

// Down 执行向下迁移
func (g *GolangMigrator) Down(ctx context.Context) error {
	if err := g.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run down migrations: %w", err)
	}
	return nil
}

// Steps 执行指定步数的迁移，负数为回滚
func (g *GolangMigrator) Steps(ctx context.Context, n int) error {
	if err := g.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run %d migration steps: %w", n, err)
	}
	return nil
}

// Force 强制设置迁移版本
func (g *GolangMigrator) Force(ctx context.Context, version int) error {
	if err := g.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Version 获取当前迁移版本
func (g *GolangMigrator) Version(ctx context.Context) (int, bool, error) {
	v, dirty, err := g.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return int(v), dirty, nil
}

// Close 关闭迁移器，同时会关闭传入的数据库连接
func (g *GolangMigrator) Close() error {
	sourceErr, dbErr := g.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close migration database: %w", dbErr)
	}
	return nil
}
