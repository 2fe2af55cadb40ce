package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

var optionKeyPattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// Option 应用设置，键为 category.key 形式，值以JSON文本存储
// 值保存在text列，sqlite下数字不会被转成INTEGER
type Option struct {
	Category  string          `gorm:"primaryKey;size:150" json:"category"`
	Key       string          `gorm:"primaryKey;size:150" json:"key" validate:"required,max=150"`
	Value     json.RawMessage `gorm:"type:text;serializer:json" json:"value"`
	CreatedAt time.Time       `json:"date_added"`
	UpdatedAt time.Time       `json:"last_updated"`
}

// TableName 指定表名
func (Option) TableName() string {
	return "options"
}

// AttributeLabels 字段显示名称
func (Option) AttributeLabels() map[string]string {
	return map[string]string{
		"category":     "Category",
		"key":          "Key",
		"value":        "Value",
		"date_added":   "Date added",
		"last_updated": "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (Option) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"category": "The option group, for example system.cron.process_delivery_bounce",
	}
}

// BeforeSave 保存前验证键名
func (o *Option) BeforeSave(tx *gorm.DB) error {
	errs, err := validation.Collect(o)
	if err != nil {
		return err
	}
	if !optionKeyPattern.MatchString(o.Category + "." + o.Key) {
		errs.Add("category", validation.Message("", "", o.AttributeLabels()["category"]))
	}
	if len(o.Value) == 0 {
		o.Value = json.RawMessage("null")
	}
	return errs.OrNil()
}

// Decode 把值解码到目标
func (o *Option) Decode(target interface{}) error {
	if len(o.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(o.Value, target); err != nil {
		return fmt.Errorf("failed to decode option %s.%s: %w", o.Category, o.Key, err)
	}
	return nil
}

// Encode 把任意值编码为选项值
func (o *Option) Encode(value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode option %s.%s: %w", o.Category, o.Key, err)
	}
	o.Value = json.RawMessage(data)
	return nil
}
