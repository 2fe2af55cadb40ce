package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mailwizz/internal/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const backupPrefix = "mailwizz_backup_"

// BackupService 数据库备份服务接口
type BackupService interface {
	CreateBackup(ctx context.Context) (*BackupInfo, error)
	ListBackups(ctx context.Context) ([]*BackupInfo, error)
	RestoreBackup(ctx context.Context, filename string) error
	DeleteBackup(ctx context.Context, filename string) error
	CleanupOldBackups(ctx context.Context) (int, error)
	ValidateBackup(ctx context.Context, filename string) error

	StartScheduler(ctx context.Context) error
	StopScheduler()
}

// BackupInfo 备份文件信息
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	IsValid   bool      `json:"is_valid"`
}

// BackupServiceImpl SQLite备份实现，MySQL和PostgreSQL交给数据库自身的工具
type BackupServiceImpl struct {
	db       *gorm.DB
	dbPath   string
	cfg      config.BackupConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewBackupService 创建备份服务
func NewBackupService(db *gorm.DB, dbPath string, cfg config.BackupConfig) *BackupServiceImpl {
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Dir == "" {
		cfg.Dir = "./backups"
	}

	return &BackupServiceImpl{
		db:       db,
		dbPath:   dbPath,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

func (s *BackupServiceImpl) supported() bool {
	return s.db.Dialector.Name() == "sqlite"
}

// resolve 把文件名限制在备份目录内
func (s *BackupServiceImpl) resolve(filename string) (string, error) {
	name := filepath.Base(filename)
	if name != filename || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
		return "", ErrBackupNotFound
	}
	path := filepath.Join(s.cfg.Dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", ErrBackupNotFound
	}
	return path, nil
}

// CreateBackup 使用VACUUM INTO生成一致的快照
func (s *BackupServiceImpl) CreateBackup(ctx context.Context) (*BackupInfo, error) {
	if !s.supported() {
		return nil, ErrBackupUnsupported
	}
	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	filename := backupPrefix + time.Now().Format("20060102_150405.000000") + ".db"
	path := filepath.Join(s.cfg.Dir, filename)

	log.Printf("Creating database backup: %s", path)
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup file info: %w", err)
	}

	info := &BackupInfo{
		Filename:  filename,
		Size:      fileInfo.Size(),
		CreatedAt: fileInfo.ModTime(),
		IsValid:   true,
	}
	if err := s.ValidateBackup(ctx, filename); err != nil {
		log.Printf("Warning: backup validation failed: %v", err)
		info.IsValid = false
	}

	log.Printf("Backup created: %s (%d bytes)", filename, info.Size)
	return info, nil
}

// ListBackups 按时间倒序列出备份
func (s *BackupServiceImpl) ListBackups(ctx context.Context) ([]*BackupInfo, error) {
	files, err := os.ReadDir(s.cfg.Dir)
	if os.IsNotExist(err) {
		return []*BackupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := make([]*BackupInfo, 0, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		fileInfo, err := file.Info()
		if err != nil {
			log.Printf("Warning: failed to get file info for %s: %v", name, err)
			continue
		}
		backups = append(backups, &BackupInfo{
			Filename:  name,
			Size:      fileInfo.Size(),
			CreatedAt: fileInfo.ModTime(),
			IsValid:   fileInfo.Size() > 0,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Filename > backups[j].Filename
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// RestoreBackup 用备份覆盖数据库文件，调用方需在之后重新打开连接
func (s *BackupServiceImpl) RestoreBackup(ctx context.Context, filename string) error {
	if !s.supported() {
		return ErrBackupUnsupported
	}
	if err := s.ValidateBackup(ctx, filename); err != nil {
		return fmt.Errorf("backup validation failed: %w", err)
	}
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}

	log.Printf("Restoring database from: %s", path)

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	current := s.dbPath + ".restore_backup"
	if err := copyFile(s.dbPath, current); err != nil {
		log.Printf("Warning: failed to keep current database: %v", err)
	}

	if err := copyFile(path, s.dbPath); err != nil {
		if restoreErr := copyFile(current, s.dbPath); restoreErr != nil {
			log.Printf("Critical: failed to restore original database: %v", restoreErr)
		}
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	os.Remove(current)
	log.Printf("Database restored from: %s", filename)
	return nil
}

// DeleteBackup 删除备份
func (s *BackupServiceImpl) DeleteBackup(ctx context.Context, filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	log.Printf("Backup deleted: %s", filename)
	return nil
}

// CleanupOldBackups 只保留最新的MaxBackups份
func (s *BackupServiceImpl) CleanupOldBackups(ctx context.Context) (int, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= s.cfg.MaxBackups {
		return 0, nil
	}

	deleted := 0
	for _, backup := range backups[s.cfg.MaxBackups:] {
		if err := s.DeleteBackup(ctx, backup.Filename); err != nil {
			log.Printf("Warning: failed to delete old backup %s: %v", backup.Filename, err)
			continue
		}
		deleted++
	}
	log.Printf("Cleaned up %d old backups", deleted)
	return deleted, nil
}

// ValidateBackup 打开备份并执行完整性检查，检查失败时返回ErrBackupCorrupt
func (s *BackupServiceImpl) ValidateBackup(ctx context.Context, filename string) error {
	if !s.supported() {
		return ErrBackupUnsupported
	}
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}

	testDB, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("%w: failed to open backup database: %v", ErrBackupCorrupt, err)
	}
	sqlDB, err := testDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var result string
	if err := testDB.WithContext(ctx).Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("%w: integrity check failed: %v", ErrBackupCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check failed: %s", ErrBackupCorrupt, result)
	}
	if !testDB.Migrator().HasTable("customers") {
		return fmt.Errorf("%w: missing the customers table", ErrBackupCorrupt)
	}
	return nil
}

// StartScheduler 启动定时备份
func (s *BackupServiceImpl) StartScheduler(ctx context.Context) error {
	if !s.supported() {
		return ErrBackupUnsupported
	}
	log.Printf("Starting database backup service (interval: %v, max backups: %d)...", s.cfg.Interval, s.cfg.MaxBackups)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.CreateBackup(ctx); err != nil {
					log.Printf("Scheduled backup failed: %v", err)
					continue
				}
				if _, err := s.CleanupOldBackups(ctx); err != nil {
					log.Printf("Failed to cleanup old backups: %v", err)
				}
			case <-s.stopChan:
				log.Println("Stopping database backup service...")
				return
			case <-ctx.Done():
				log.Println("Context cancelled, stopping database backup service...")
				return
			}
		}
	}()

	return nil
}

// StopScheduler 停止定时备份
func (s *BackupServiceImpl) StopScheduler() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
