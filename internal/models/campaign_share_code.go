package models

import (
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

const (
	shareCodeLength   = 40
	shareCodeAlphabet = "abcdef0123456789"
)

// CampaignShareCode 活动分享码，其他客户可以凭码导入活动
type CampaignShareCode struct {
	ID        uint      `gorm:"primarykey" json:"code_id"`
	Code      string    `gorm:"size:40;uniqueIndex;not null" json:"code"`
	Used      bool      `gorm:"not null" json:"used"`
	CreatedAt time.Time `json:"date_added"`
	UpdatedAt time.Time `json:"last_updated"`

	Campaigns []Campaign `gorm:"many2many:campaign_share_code_to_campaign;" json:"campaigns,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignShareCode) TableName() string {
	return "campaign_share_code"
}

// AttributeLabels 字段显示名称
func (CampaignShareCode) AttributeLabels() map[string]string {
	return map[string]string{
		"code_id":      "Code",
		"code":         "Code",
		"used":         "Used",
		"date_added":   "Date added",
		"last_updated": "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignShareCode) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"code": "Give this code to another customer so that the shared campaigns can be imported into their account",
	}
}

// GenerateShareCode 生成40位十六进制分享码
func GenerateShareCode() string {
	return GenerateCode(shareCodeLength, shareCodeAlphabet)
}

// BeforeSave 没有分享码时生成唯一分享码，已有分享码保持不变
func (c *CampaignShareCode) BeforeSave(tx *gorm.DB) error {
	if err := ensureUniqueValue(tx, &CampaignShareCode{}, "code", &c.Code, GenerateShareCode); err != nil {
		return err
	}
	return validation.Struct(c)
}
