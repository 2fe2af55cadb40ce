package migration

import (
	"context"
	"database/sql"
)

// 迁移方言，同时也是迁移文件的子目录名
const (
	DialectSQLite   = "sqlite3"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// IMigrator 数据库迁移接口
type IMigrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error

	// Version 获取当前迁移版本，没有执行过迁移时返回0
	Version(ctx context.Context) (version int, dirty bool, err error)

	Close() error
}

// MigrationConfig 迁移配置
type MigrationConfig struct {
	MigrationsPath string
	DatabaseName   string // 方言：sqlite3、mysql、postgres
	TableName      string // 迁移版本表名，默认为 schema_migrations
}

// Status 当前迁移状态
type Status struct {
	Dialect string `json:"dialect"`
	Version int    `json:"version"`
	Dirty   bool   `json:"dirty"`
	Path    string `json:"path"`
}

// IMigrationService 迁移服务接口，供启动流程和命令行使用
type IMigrationService interface {
	Initialize(db *sql.DB, config MigrationConfig) error
	RunMigrations(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)
	Rollback(ctx context.Context, steps int) error
	Force(ctx context.Context, version int) error
	Close() error
}
