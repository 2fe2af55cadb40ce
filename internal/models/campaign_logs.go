package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// CampaignURL 活动中被追踪的链接
type CampaignURL struct {
	ID          uint      `gorm:"primarykey" json:"url_id"`
	CampaignID  uint      `gorm:"not null;index;uniqueIndex:idx_campaign_url_hash" json:"campaign_id" validate:"required"`
	Hash        string    `gorm:"size:40;not null;uniqueIndex:idx_campaign_url_hash" json:"hash"`
	Destination string    `gorm:"type:text;not null" json:"destination" validate:"required,url"`
	CreatedAt   time.Time `json:"date_added"`

	Campaign  *Campaign          `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	TrackURLs []CampaignTrackURL `gorm:"foreignKey:URLID" json:"-" validate:"-"`
}

// TableName 指定表名
func (CampaignURL) TableName() string {
	return "campaign_url"
}

// AttributeLabels 字段显示名称
func (CampaignURL) AttributeLabels() map[string]string {
	return map[string]string{
		"url_id":      "Url",
		"campaign_id": "Campaign",
		"hash":        "Hash",
		"destination": "Destination",
		"date_added":  "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignURL) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"destination": "The url where the subscriber is redirected after the click is recorded",
	}
}

// HashURL 计算活动链接的哈希
func HashURL(campaignID uint, destination string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s", campaignID, destination)))
	return hex.EncodeToString(sum[:])
}

// BeforeSave 保存前计算哈希并验证
func (u *CampaignURL) BeforeSave(tx *gorm.DB) error {
	if u.Hash == "" {
		u.Hash = HashURL(u.CampaignID, u.Destination)
	}
	return validation.Struct(u)
}

// 投递日志状态
const (
	DeliveryStatusSuccess        = "success"
	DeliveryStatusError          = "error"
	DeliveryStatusTemporaryError = "temporary-error"
	DeliveryStatusFatalError     = "fatal-error"
	DeliveryStatusBlacklisted    = "blacklisted"
	DeliveryStatusGiveup         = "giveup"
)

// CampaignDeliveryLog 活动投递日志
type CampaignDeliveryLog struct {
	ID                uint      `gorm:"primarykey" json:"log_id"`
	CampaignID        uint      `gorm:"not null;index" json:"campaign_id"`
	SubscriberID      uint      `gorm:"not null;index" json:"subscriber_id"`
	ServerID          *uint     `gorm:"index" json:"server_id,omitempty"`
	Message           string    `gorm:"type:text" json:"message"`
	Processed         bool      `gorm:"not null" json:"processed"`
	Retries           int       `gorm:"not null" json:"retries" validate:"gte=0"`
	MaxRetries        int       `gorm:"not null" json:"max_retries" validate:"gte=0"`
	EmailMessageID    string    `gorm:"size:255;index" json:"email_message_id"`
	DeliveryConfirmed bool      `gorm:"not null" json:"delivery_confirmed"`
	Status            string    `gorm:"size:20;not null;index" json:"status" validate:"required,oneof=success error temporary-error fatal-error blacklisted giveup"`
	CreatedAt         time.Time `gorm:"index" json:"date_added"`
	UpdatedAt         time.Time `json:"last_updated"`

	Campaign   *Campaign       `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	Subscriber *ListSubscriber `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty" validate:"-"`
	Server     *DeliveryServer `gorm:"foreignKey:ServerID" json:"-" validate:"-"`
}

// TableName 指定表名
func (CampaignDeliveryLog) TableName() string {
	return "campaign_delivery_log"
}

// AttributeLabels 字段显示名称
func (CampaignDeliveryLog) AttributeLabels() map[string]string {
	return map[string]string{
		"log_id":             "Log",
		"campaign_id":        "Campaign",
		"subscriber_id":      "Subscriber",
		"server_id":          "Server",
		"message":            "Message",
		"processed":          "Processed",
		"retries":            "Retries",
		"max_retries":        "Max retries",
		"email_message_id":   "Email message id",
		"delivery_confirmed": "Delivery confirmed",
		"status":             "Status",
		"date_added":         "Date added",
		"last_updated":       "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignDeliveryLog) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 保存前验证
func (l *CampaignDeliveryLog) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(l)
}

// 退信类型
const (
	BounceTypeHard     = "hard"
	BounceTypeSoft     = "soft"
	BounceTypeInternal = "internal"
)

// CampaignBounceLog 活动退信日志
type CampaignBounceLog struct {
	ID           uint      `gorm:"primarykey" json:"log_id"`
	CampaignID   uint      `gorm:"not null;index" json:"campaign_id" validate:"required"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id" validate:"required"`
	Message      string    `gorm:"type:text" json:"message"`
	BounceType   string    `gorm:"size:10;not null" json:"bounce_type" validate:"required,oneof=hard soft internal"`
	Processed    bool      `gorm:"not null;index" json:"processed"`
	CreatedAt    time.Time `gorm:"index" json:"date_added"`

	Campaign   *Campaign       `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	Subscriber *ListSubscriber `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignBounceLog) TableName() string {
	return "campaign_bounce_log"
}

// AttributeLabels 字段显示名称
func (CampaignBounceLog) AttributeLabels() map[string]string {
	return map[string]string{
		"log_id":        "Log",
		"campaign_id":   "Campaign",
		"subscriber_id": "Subscriber",
		"message":       "Message",
		"bounce_type":   "Bounce type",
		"processed":     "Processed",
		"date_added":    "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignBounceLog) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"bounce_type": "Hard bounces blacklist the subscriber, soft and internal bounces are only recorded",
	}
}

// BeforeSave 保存前验证
func (l *CampaignBounceLog) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(l)
}

// CampaignTrackOpen 活动打开记录
type CampaignTrackOpen struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CampaignID   uint      `gorm:"not null;index" json:"campaign_id"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id"`
	IPAddress    string    `gorm:"column:ip_address;size:45" json:"ip_address" validate:"omitempty,ip"`
	UserAgent    string    `gorm:"size:255" json:"user_agent" validate:"max=255"`
	CreatedAt    time.Time `gorm:"index" json:"date_added"`

	Campaign   *Campaign       `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	Subscriber *ListSubscriber `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignTrackOpen) TableName() string {
	return "campaign_track_open"
}

// AttributeLabels 字段显示名称
func (CampaignTrackOpen) AttributeLabels() map[string]string {
	return map[string]string{
		"id":            "ID",
		"campaign_id":   "Campaign",
		"subscriber_id": "Subscriber",
		"ip_address":    "Ip address",
		"user_agent":    "User agent",
		"date_added":    "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignTrackOpen) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 截断过长的User-Agent后验证
func (t *CampaignTrackOpen) BeforeSave(tx *gorm.DB) error {
	t.UserAgent = truncate(t.UserAgent, 255)
	return validation.Struct(t)
}

// CampaignTrackURL 活动链接点击记录
type CampaignTrackURL struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	URLID        uint      `gorm:"column:url_id;not null;index" json:"url_id"`
	SubscriberID uint      `gorm:"not null;index" json:"subscriber_id"`
	IPAddress    string    `gorm:"column:ip_address;size:45" json:"ip_address" validate:"omitempty,ip"`
	UserAgent    string    `gorm:"size:255" json:"user_agent" validate:"max=255"`
	CreatedAt    time.Time `gorm:"index" json:"date_added"`

	URL        *CampaignURL    `gorm:"foreignKey:URLID" json:"url,omitempty" validate:"-"`
	Subscriber *ListSubscriber `gorm:"foreignKey:SubscriberID" json:"subscriber,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignTrackURL) TableName() string {
	return "campaign_track_url"
}

// AttributeLabels 字段显示名称
func (CampaignTrackURL) AttributeLabels() map[string]string {
	return map[string]string{
		"id":            "ID",
		"url_id":        "Url",
		"subscriber_id": "Subscriber",
		"ip_address":    "Ip address",
		"user_agent":    "User agent",
		"date_added":    "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CampaignTrackURL) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 截断过长的User-Agent后验证
func (t *CampaignTrackURL) BeforeSave(tx *gorm.DB) error {
	t.UserAgent = truncate(t.UserAgent, 255)
	return validation.Struct(t)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
