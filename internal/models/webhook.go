package models

import (
	"time"

	"mailwizz/internal/validation"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 活动webhook事件
const (
	WebhookEventOpen  = "open"
	WebhookEventClick = "click"
)

// CampaignWebhook 活动事件回调地址
type CampaignWebhook struct {
	ID           uint      `gorm:"primarykey" json:"webhook_id"`
	CampaignID   uint      `gorm:"not null;index" json:"campaign_id" validate:"required"`
	Event        string    `gorm:"size:10;not null;index" json:"event" validate:"required,oneof=open click"`
	WebhookURL   string    `gorm:"column:webhook_url;size:255;not null" json:"webhook_url" validate:"required,url,max=255"`
	TrackURLHash string    `gorm:"column:track_url_hash;size:40" json:"track_url_hash,omitempty" validate:"omitempty,len=40,hexadecimal"`
	CreatedAt    time.Time `json:"date_added"`
	UpdatedAt    time.Time `json:"last_updated"`

	Campaign *Campaign              `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	Queue    []CampaignWebhookQueue `gorm:"foreignKey:WebhookID" json:"-" validate:"-"`
}

// TableName 指定表名
func (CampaignWebhook) TableName() string {
	return "campaign_track_webhook"
}

// AttributeLabels 字段显示名称
func (CampaignWebhook) AttributeLabels() map[string]string {
	return map[string]string{
		"webhook_id":     "Webhook",
		"campaign_id":    "Campaign",
		"event":          "Event",
		"webhook_url":    "Webhook url",
		"track_url_hash": "Track url",
		"date_added":     "Date added",
		"last_updated":   "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignWebhook) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"event":          "The event that triggers the webhook",
		"webhook_url":    "The url where the event data is posted",
		"track_url_hash": "For click webhooks, only trigger when this campaign url is clicked",
	}
}

// BeforeSave 保存前验证，打开事件不能指定链接
func (w *CampaignWebhook) BeforeSave(tx *gorm.DB) error {
	if w.Event == WebhookEventOpen {
		w.TrackURLHash = ""
	}
	return validation.Struct(w)
}

// MatchesURL 点击webhook是否匹配被点击的链接
func (w *CampaignWebhook) MatchesURL(hash string) bool {
	return w.TrackURLHash == "" || w.TrackURLHash == hash
}

// CampaignWebhookQueue 等待投递的webhook请求
type CampaignWebhookQueue struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	WebhookID  uint           `gorm:"not null;index" json:"webhook_id" validate:"required"`
	Payload    datatypes.JSON `gorm:"not null" json:"payload"`
	RetryCount int            `gorm:"not null" json:"retry_count" validate:"gte=0"`
	NextRetry  time.Time      `gorm:"not null;index" json:"next_retry"`
	LastError  string         `gorm:"size:255" json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"date_added"`
	UpdatedAt  time.Time      `json:"last_updated"`

	Webhook *CampaignWebhook `gorm:"foreignKey:WebhookID" json:"webhook,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignWebhookQueue) TableName() string {
	return "campaign_track_webhook_queue"
}

// AttributeLabels 字段显示名称
func (CampaignWebhookQueue) AttributeLabels() map[string]string {
	return map[string]string{
		"id":           "ID",
		"webhook_id":   "Webhook",
		"payload":      "Payload",
		"retry_count":  "Retry count",
		"next_retry":   "Next retry",
		"last_error":   "Last error",
		"date_added":   "Date added",
		"last_updated": "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignWebhookQueue) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 没有设置下次重试时间时默认为当前时间
func (q *CampaignWebhookQueue) BeforeSave(tx *gorm.DB) error {
	if q.NextRetry.IsZero() {
		q.NextRetry = time.Now()
	}
	if len(q.Payload) == 0 {
		q.Payload = datatypes.JSON("{}")
	}
	q.LastError = truncate(q.LastError, 255)
	return validation.Struct(q)
}
