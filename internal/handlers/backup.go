package handlers

import (
	"errors"

	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// CreateBackup 创建数据库备份
func (h *Handler) CreateBackup(c *gin.Context) {
	backup, err := h.backupService.CreateBackup(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	h.respondWithCreated(c, backup, "Backup created successfully")
}

// ListBackups 列出所有备份
func (h *Handler) ListBackups(c *gin.Context) {
	backups, err := h.backupService.ListBackups(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	h.respondWithSuccess(c, gin.H{
		"backups": backups,
		"count":   len(backups),
	}, "Backups retrieved successfully")
}

// ValidateBackup 验证备份文件，只有完整性检查失败时返回is_valid=false
func (h *Handler) ValidateBackup(c *gin.Context) {
	err := h.backupService.ValidateBackup(c.Request.Context(), c.Param("filename"))
	if err != nil && !errors.Is(err, services.ErrBackupCorrupt) {
		h.respondWithServiceError(c, err)
		return
	}
	if err != nil {
		h.respondWithSuccess(c, gin.H{
			"is_valid": false,
			"error":    err.Error(),
		}, "Backup validation completed")
		return
	}

	h.respondWithSuccess(c, gin.H{"is_valid": true}, "Backup is valid")
}

// DeleteBackup 删除备份
func (h *Handler) DeleteBackup(c *gin.Context) {
	if err := h.backupService.DeleteBackup(c.Request.Context(), c.Param("filename")); err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	h.respondWithSuccess(c, nil, "Backup deleted successfully")
}

// CleanupOldBackups 清理过期备份
func (h *Handler) CleanupOldBackups(c *gin.Context) {
	deleted, err := h.backupService.CleanupOldBackups(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	h.respondWithSuccess(c, gin.H{"deleted": deleted}, "Old backups cleaned up successfully")
}
