package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mailwizz/internal/config"
	"mailwizz/internal/database/migration"
	"mailwizz/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// 迁移使用的database/sql驱动
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// 支持的数据库驱动
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Initialize 初始化数据库连接、迁移并同步默认管理员
func Initialize(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Database, cfg.Logging.SQLLevel)
	if err != nil {
		return nil, err
	}

	// 执行数据库迁移
	if err := Migrate(db, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 创建默认管理员用户
	if err := createDefaultAdmin(db, cfg.Auth); err != nil {
		return nil, fmt.Errorf("failed to create default admin: %w", err)
	}

	// 同步管理员密码与环境变量
	if err := syncAdminPassword(db, cfg.Auth); err != nil {
		return nil, fmt.Errorf("failed to sync admin password: %w", err)
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// Open 按配置的驱动打开数据库连接
func Open(cfg config.DatabaseConfig, sqlLevel string) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, gormConfig(sqlLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// 优化连接池参数
	optimizeConnectionPool(sqlDB, cfg)

	if driverName(cfg) == DriverSQLite {
		// 应用SQLite性能优化
		applySQLiteOptimizations(db)
	}

	return db, nil
}

// InitializeInMemory 创建内存SQLite数据库并建表，用于测试和命令行演示
func InitializeInMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), gormConfig("silent"))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// 内存数据库只能使用一个连接，否则每个连接看到的是不同的数据库
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate in-memory database: %w", err)
	}
	return db, nil
}

// Migrate 根据模型建表，然后执行版本化SQL迁移（默认数据和组合索引）
func Migrate(db *gorm.DB, cfg config.DatabaseConfig) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	log.Println("Model schema migration completed")

	return runMigrations(cfg)
}

func gormConfig(sqlLevel string) *gorm.Config {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  parseLogLevel(sqlLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	return &gorm.Config{
		Logger:                                   gormLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}

func driverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return DriverSQLite
	}
	return strings.ToLower(cfg.Driver)
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch driverName(cfg) {
	case DriverSQLite:
		// 确保数据库目录存在
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if cfg.PureGo {
			// 使用纯Go SQLite驱动
			return sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path}, nil
		}
		// 使用标准CGO SQLite驱动
		return sqlite.Open(cfg.Path), nil
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.New("DB_DSN is required for mysql")
		}
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("DB_DSN is required for postgres")
		}
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// runMigrations 执行版本化SQL迁移
func runMigrations(cfg config.DatabaseConfig) error {
	if cfg.MigrationsPath == "" {
		log.Println("No migrations path configured, skipping SQL migrations")
		return nil
	}

	migrationService, err := OpenMigrations(cfg)
	if err != nil {
		return err
	}
	defer migrationService.Close()

	if err := migrationService.RunMigrations(context.Background()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migration completed successfully")
	return nil
}

// OpenMigrations 为迁移创建单独的数据库连接和迁移服务，关闭服务时会一并关闭连接
func OpenMigrations(cfg config.DatabaseConfig) (*migration.MigrationService, error) {
	sqlDriver, dsn, dialect := migrationTarget(cfg)

	migrationDB, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration database connection: %w", err)
	}

	migrationService := migration.NewMigrationService(nil)

	// 每种数据库使用自己的迁移目录
	migrationConfig := migration.MigrationConfig{
		MigrationsPath: filepath.Join(cfg.MigrationsPath, dialect),
		DatabaseName:   dialect,
		TableName:      "schema_migrations",
	}

	if err := migrationService.Initialize(migrationDB, migrationConfig); err != nil {
		migrationDB.Close()
		return nil, fmt.Errorf("failed to initialize migration service: %w", err)
	}
	return migrationService, nil
}

// migrationTarget 返回迁移使用的sql驱动名、连接串和方言目录
func migrationTarget(cfg config.DatabaseConfig) (string, string, string) {
	switch driverName(cfg) {
	case DriverMySQL:
		return "mysql", cfg.DSN, migration.DialectMySQL
	case DriverPostgres:
		return "postgres", cfg.DSN, migration.DialectPostgres
	}
	if cfg.PureGo {
		return "sqlite", cfg.Path, migration.DialectSQLite
	}
	return "sqlite3", cfg.Path, migration.DialectSQLite
}

// createDefaultAdmin 创建默认管理员用户
func createDefaultAdmin(db *gorm.DB, auth config.AuthConfig) error {
	// 检查是否已存在管理员用户
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	// 如果已有用户，跳过创建
	if count > 0 {
		return nil
	}

	adminUsername, adminPassword := adminCredentials(auth)

	// 创建管理员用户
	admin := &models.User{
		Username:    adminUsername,
		Password:    adminPassword, // 会在BeforeCreate钩子中自动加密
		Email:       auth.AdminEmail,
		DisplayName: "Administrator",
		Role:        models.UserRoleAdmin,
		IsActive:    true,
	}

	if err := db.Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	log.Printf("Default admin user created: %s", adminUsername)
	return nil
}

// syncAdminPassword 同步管理员密码与环境变量
func syncAdminPassword(db *gorm.DB, auth config.AuthConfig) error {
	adminUsername, adminPassword := adminCredentials(auth)

	// 查找管理员用户
	var admin models.User
	if err := db.Where("username = ?", adminUsername).First(&admin).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to query admin user: %w", err)
		}

		// 找不到指定用户名的管理员，可能是用户名变更了
		if err := db.Where("role = ?", models.UserRoleAdmin).Order("id").First(&admin).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("No admin user found to sync password")
				return nil
			}
			return fmt.Errorf("failed to find admin user: %w", err)
		}

		log.Printf("Admin username updated from '%s' to '%s'", admin.Username, adminUsername)
		admin.Username = adminUsername
	}

	changed := false
	if !admin.CheckPassword(adminPassword) {
		if err := admin.SetPassword(adminPassword); err != nil {
			return fmt.Errorf("failed to set new password: %w", err)
		}
		changed = true
		log.Printf("Admin password synchronized with environment variables for user: %s", admin.Username)
	}
	if !admin.IsActive {
		admin.IsActive = true
		changed = true
		log.Printf("Admin user activated: %s", admin.Username)
	}
	if admin.Role != models.UserRoleAdmin {
		admin.Role = models.UserRoleAdmin
		changed = true
	}

	if !changed && admin.Username == adminUsername {
		log.Printf("Admin user is already synchronized: %s", admin.Username)
		return nil
	}

	if err := db.Save(&admin).Error; err != nil {
		return fmt.Errorf("failed to update admin user: %w", err)
	}
	return nil
}

func adminCredentials(auth config.AuthConfig) (string, string) {
	username := auth.AdminUsername
	password := auth.AdminPassword
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = "admin123"
	}
	return username, password
}

// optimizeConnectionPool 优化连接池配置
func optimizeConnectionPool(sqlDB *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
}

// applySQLiteOptimizations 应用SQLite性能优化
func applySQLiteOptimizations(db *gorm.DB) {
	optimizations := []string{
		// 启用WAL模式以提高并发性能
		"PRAGMA journal_mode = WAL",

		// 设置同步模式为NORMAL，平衡性能和安全性
		"PRAGMA synchronous = NORMAL",

		// 增加缓存大小到64MB
		"PRAGMA cache_size = -65536",

		// 设置临时存储为内存
		"PRAGMA temp_store = MEMORY",

		// 写锁等待时间，后台任务和请求同时写入时避免立即失败
		"PRAGMA busy_timeout = 5000",

		// 设置WAL自动检查点
		"PRAGMA wal_autocheckpoint = 1000",
	}

	for _, pragma := range optimizations {
		if err := db.Exec(pragma).Error; err != nil {
			log.Printf("Warning: failed to execute %s: %v", pragma, err)
		}
	}

	log.Println("SQLite performance optimizations applied")
}

// BatchTransaction 批量事务处理
func BatchTransaction(db *gorm.DB, batchSize int, fn func(*gorm.DB, int) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return fn(tx, batchSize)
	})
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
