package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel 基础模型，包含通用字段
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 接口，用于自定义表名
type TableNamer interface {
	TableName() string
}

// Labeled 提供字段显示名称和帮助文本的模型
type Labeled interface {
	AttributeLabels() map[string]string
	AttributeHelpTexts() map[string]string
}

// 通用字段的显示名称，各模型在此基础上扩展
func baseLabels() map[string]string {
	return map[string]string{
		"id":         "ID",
		"created_at": "Date added",
		"updated_at": "Last updated",
	}
}

// mergeLabels 合并字段名称映射，后者覆盖前者
func mergeLabels(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// newDB 在钩子中创建不带当前语句条件的会话，复用同一个连接/事务
func newDB(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true})
}
