package models

import (
	"strings"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 自动回复触发事件
const (
	AutoresponderEventAfterSubscribe    = "AFTER-SUBSCRIBE"
	AutoresponderEventAfterCampaignOpen = "AFTER-CAMPAIGN-OPEN"
)

// 自动回复时间单位
const (
	AutoresponderTimeUnitMinute = "minute"
	AutoresponderTimeUnitHour   = "hour"
	AutoresponderTimeUnitDay    = "day"
	AutoresponderTimeUnitWeek   = "week"
	AutoresponderTimeUnitMonth  = "month"
)

// CampaignOption 活动选项
type CampaignOption struct {
	BaseModel
	CampaignID     uint `gorm:"uniqueIndex;not null" json:"campaign_id"`
	OpenTracking   bool `gorm:"not null" json:"open_tracking"`
	URLTracking    bool `gorm:"column:url_tracking;not null" json:"url_tracking"`
	JSONFeed       bool `gorm:"column:json_feed;not null" json:"json_feed"`
	XMLFeed        bool `gorm:"column:xml_feed;not null" json:"xml_feed"`
	EmbedImages    bool `gorm:"not null" json:"embed_images"`
	PlainTextEmail bool `gorm:"not null" json:"plain_text_email"`

	// 统计报告接收邮箱，逗号分隔
	EmailStats string `gorm:"size:255" json:"email_stats" validate:"max=255"`

	// 自动回复设置
	AutoresponderEvent     string `gorm:"size:20" json:"autoresponder_event" validate:"omitempty,oneof=AFTER-SUBSCRIBE AFTER-CAMPAIGN-OPEN"`
	AutoresponderTimeUnit  string `gorm:"size:6" json:"autoresponder_time_unit" validate:"omitempty,oneof=minute hour day week month"`
	AutoresponderTimeValue int    `gorm:"not null" json:"autoresponder_time_value" validate:"gte=0"`
	AutoresponderOpenID    *uint  `json:"autoresponder_open_campaign_id,omitempty"`

	MaxSendCount  int `gorm:"not null" json:"max_send_count" validate:"gte=0"`
	GiveupCounter int `gorm:"not null" json:"giveup_counter" validate:"gte=0"`

	Campaign *Campaign `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
}

// TableName 指定表名
func (CampaignOption) TableName() string {
	return "campaign_options"
}

// AttributeLabels 字段显示名称
func (CampaignOption) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"campaign_id":                    "Campaign",
		"open_tracking":                  "Open tracking",
		"url_tracking":                   "Url tracking",
		"json_feed":                      "Json feed",
		"xml_feed":                       "Xml feed",
		"embed_images":                   "Embed images",
		"plain_text_email":               "Plain text email",
		"email_stats":                    "Email stats",
		"autoresponder_event":            "Autoresponder event",
		"autoresponder_time_unit":        "Autoresponder time unit",
		"autoresponder_time_value":       "Autoresponder time value",
		"autoresponder_open_campaign_id": "Send only to subscribers that opened",
		"max_send_count":                 "Max. send count",
		"giveup_counter":                 "Giveup counter",
	})
}

// AttributeHelpTexts 字段帮助文本
func (CampaignOption) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"open_tracking":            "Whether to enable tracking of campaign opens",
		"url_tracking":             "Whether to enable url tracking",
		"json_feed":                "Whether your campaign will parse a remote JSON feed",
		"xml_feed":                 "Whether your campaign will parse a remote XML feed",
		"embed_images":             "Whether to embed images in the email instead of linking them",
		"plain_text_email":         "Whether to send a plain text version of the email along with the html one",
		"email_stats":              "Where to send the campaign stats when the sending is done, separate multiple addresses with a comma",
		"autoresponder_event":      "The event that will trigger sending this autoresponder",
		"autoresponder_time_unit":  "The time unit used to delay sending after the event",
		"autoresponder_time_value": "How many time units to wait after the event before sending",
		"max_send_count":           "Maximum number of subscribers that will receive this campaign, 0 for no limit",
		"giveup_counter":           "How many times the sending was given up because of errors",
	}
}

// NewCampaignOption 默认开启打开和链接追踪
func NewCampaignOption() *CampaignOption {
	return &CampaignOption{
		OpenTracking:   true,
		URLTracking:    true,
		PlainTextEmail: true,
	}
}

// BeforeSave 保存前验证统计邮箱
func (o *CampaignOption) BeforeSave(tx *gorm.DB) error {
	errs, err := validation.Collect(o)
	if err != nil {
		return err
	}
	for _, email := range o.StatsRecipients() {
		if validation.Validator().Var(email, "email") != nil {
			errs.Add("email_stats", validation.Message("email", "", o.AttributeLabels()["email_stats"]))
			break
		}
	}
	return errs.OrNil()
}

// StatsRecipients 解析统计报告接收邮箱
func (o *CampaignOption) StatsRecipients() []string {
	var out []string
	for _, part := range strings.Split(o.EmailStats, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clone 复制选项，不包含主键和所属活动
func (o *CampaignOption) Clone() *CampaignOption {
	clone := *o
	clone.BaseModel = BaseModel{}
	clone.CampaignID = 0
	clone.Campaign = nil
	clone.GiveupCounter = 0
	return &clone
}

// CampaignTemplate 活动模板内容
type CampaignTemplate struct {
	BaseModel
	CampaignID    uint   `gorm:"uniqueIndex;not null" json:"campaign_id"`
	Name          string `gorm:"size:255" json:"name" validate:"max=255"`
	Content       string `gorm:"type:text" json:"content"`
	InlineCSS     bool   `gorm:"column:inline_css;not null" json:"inline_css"`
	Minify        bool   `gorm:"not null" json:"minify"`
	PlainText     string `gorm:"type:text" json:"plain_text"`
	OnlyPlainText bool   `gorm:"not null" json:"only_plain_text"`
	AutoPlainText bool   `gorm:"not null" json:"auto_plain_text"`

	Campaign *Campaign `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
}

// TableName 指定表名
func (CampaignTemplate) TableName() string {
	return "campaign_templates"
}

// AttributeLabels 字段显示名称
func (CampaignTemplate) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"campaign_id":     "Campaign",
		"name":            "Name",
		"content":         "Content",
		"inline_css":      "Inline css",
		"minify":          "Minify",
		"plain_text":      "Plain text",
		"only_plain_text": "Only plain text",
		"auto_plain_text": "Auto plain text",
	})
}

// AttributeHelpTexts 字段帮助文本
func (CampaignTemplate) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"inline_css":      "Whether the parser should extract the css from the head of the document and inline it for each matching attribute found in the document body",
		"minify":          "Whether the template should be minified before being sent",
		"plain_text":      "This is the plain text version of the html template. If left empty and autogenerate option is set to \"yes\" then this will be created based on your html template",
		"only_plain_text": "Whether the template contains only plain text and should be treated like so by all parsers",
		"auto_plain_text": "Whether the plain text version of the html template should be auto generated",
	}
}

// BeforeSave 保存前检查纯文本模板
func (t *CampaignTemplate) BeforeSave(tx *gorm.DB) error {
	errs, err := validation.Collect(t)
	if err != nil {
		return err
	}
	if t.OnlyPlainText && strings.TrimSpace(t.PlainText) == "" {
		errs.Add("plain_text", validation.Message("required", "", t.AttributeLabels()["plain_text"]))
	}
	return errs.OrNil()
}

// Clone 复制模板，不包含主键和所属活动
func (t *CampaignTemplate) Clone() *CampaignTemplate {
	clone := *t
	clone.BaseModel = BaseModel{}
	clone.CampaignID = 0
	clone.Campaign = nil
	return &clone
}
