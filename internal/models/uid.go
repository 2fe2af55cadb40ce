package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	uidLength      = 13
	uidAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxUIDAttempts = 10
)

// GenerateUID 生成13位小写字母数字的唯一标识
func GenerateUID() string {
	return GenerateCode(uidLength, uidAlphabet)
}

// GenerateCode 使用uuid的随机字节生成指定长度的编码
func GenerateCode(length int, alphabet string) string {
	var sb strings.Builder
	sb.Grow(length)
	for sb.Len() < length {
		id := uuid.New()
		for _, b := range id {
			if sb.Len() >= length {
				break
			}
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
		}
	}
	return sb.String()
}

// ensureUniqueValue 为字段生成唯一值；字段已有值时保持不变，保证多次保存结果一致
func ensureUniqueValue(tx *gorm.DB, model interface{}, column string, value *string, generate func() string) error {
	if *value != "" {
		return nil
	}

	for i := 0; i < maxUIDAttempts; i++ {
		candidate := generate()

		var count int64
		if err := newDB(tx).Unscoped().Model(model).Where(column+" = ?", candidate).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check %s uniqueness: %w", column, err)
		}
		if count == 0 {
			*value = candidate
			return nil
		}
	}

	return fmt.Errorf("failed to generate unique %s after %d attempts", column, maxUIDAttempts)
}

// ensureUID 为uid字段生成唯一值
func ensureUID(tx *gorm.DB, model interface{}, column string, value *string) error {
	return ensureUniqueValue(tx, model, column, value, GenerateUID)
}
