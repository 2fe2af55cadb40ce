package models

import (
	"strings"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 活动类型
const (
	CampaignTypeRegular       = "regular"
	CampaignTypeAutoresponder = "autoresponder"
)

// 活动状态
const (
	CampaignStatusDraft          = "draft"
	CampaignStatusPendingSending = "pending-sending"
	CampaignStatusSending        = "sending"
	CampaignStatusSent           = "sent"
	CampaignStatusPaused         = "paused"
	CampaignStatusPendingApprove = "pending-approve"
	CampaignStatusBlocked        = "blocked"
	CampaignStatusPendingDelete  = "pending-delete"
)

// Campaign 邮件活动模型
type Campaign struct {
	BaseModel
	CampaignUID string `gorm:"column:campaign_uid;uniqueIndex;size:13;not null" json:"campaign_uid"`
	CustomerID  uint   `gorm:"not null;index" json:"customer_id" validate:"required"`
	ListID      uint   `gorm:"not null;index" json:"list_id" validate:"required"`
	GroupID     *uint  `gorm:"index" json:"group_id,omitempty"`
	Type        string `gorm:"size:15;not null" json:"type" validate:"required,oneof=regular autoresponder"`
	Name        string `gorm:"size:255;not null" json:"name" validate:"required,max=255"`

	// 邮件头信息
	FromName  string `gorm:"size:100" json:"from_name" validate:"max=100"`
	FromEmail string `gorm:"size:100" json:"from_email" validate:"omitempty,email,max=100"`
	ReplyTo   string `gorm:"size:100" json:"reply_to" validate:"omitempty,email,max=100"`
	ToName    string `gorm:"size:255" json:"to_name" validate:"max=255"`
	Subject   string `gorm:"size:255" json:"subject" validate:"max=255"`

	// 发送时间
	SendAt     *time.Time `gorm:"index" json:"send_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	DeliveryLogsArchived bool   `gorm:"not null" json:"delivery_logs_archived"`
	Status               string `gorm:"size:20;not null;index" json:"status" validate:"required,oneof=draft pending-sending sending sent paused pending-approve blocked pending-delete"`

	// 关联关系
	Customer     *Customer             `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	List         *List                 `gorm:"foreignKey:ListID" json:"list,omitempty" validate:"-"`
	Group        *CampaignGroup        `gorm:"foreignKey:GroupID" json:"group,omitempty" validate:"-"`
	Option       *CampaignOption       `gorm:"foreignKey:CampaignID" json:"option,omitempty" validate:"-"`
	Template     *CampaignTemplate     `gorm:"foreignKey:CampaignID" json:"template,omitempty" validate:"-"`
	URLs         []CampaignURL         `gorm:"foreignKey:CampaignID" json:"urls,omitempty" validate:"-"`
	DeliveryLogs []CampaignDeliveryLog `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	BounceLogs   []CampaignBounceLog   `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	TrackOpens   []CampaignTrackOpen   `gorm:"foreignKey:CampaignID" json:"-" validate:"-"`
	Webhooks     []CampaignWebhook     `gorm:"foreignKey:CampaignID" json:"webhooks,omitempty" validate:"-"`
	ShareCodes   []CampaignShareCode   `gorm:"many2many:campaign_share_code_to_campaign;" json:"-" validate:"-"`
}

// TableName 指定表名
func (Campaign) TableName() string {
	return "campaigns"
}

// AttributeLabels 字段显示名称
func (Campaign) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"campaign_uid":           "Unique ID",
		"customer_id":            "Customer",
		"list_id":                "List",
		"group_id":               "Group",
		"type":                   "Type",
		"name":                   "Campaign name",
		"from_name":              "From name",
		"from_email":             "From email",
		"reply_to":               "Reply to",
		"to_name":                "To name",
		"subject":                "Subject",
		"send_at":                "Send at",
		"started_at":             "Started at",
		"finished_at":            "Finished at",
		"delivery_logs_archived": "Delivery logs archived",
		"status":                 "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (Campaign) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"name":       "The campaign name, for your reference only",
		"list_id":    "The list that will receive this campaign",
		"group_id":   "Group this campaign with other similar campaigns",
		"from_name":  "This is the name of the sender, it defaults to the list from name",
		"from_email": "This is the sender email address, it defaults to the list from email",
		"reply_to":   "If a subscriber replies to this campaign, this is the email address where the reply will go",
		"to_name":    "This is the To header shown in emails, you can use list custom field tags like [FNAME]",
		"subject":    "Campaign subject, you can use list custom field tags like [FNAME]",
		"send_at":    "Uses your account timezone. If not set, the campaign is sent as soon as possible",
	}
}

// NewCampaign 创建草稿活动
func NewCampaign(customerID, listID uint, name string) *Campaign {
	return &Campaign{
		CustomerID: customerID,
		ListID:     listID,
		Name:       name,
		Type:       CampaignTypeRegular,
		Status:     CampaignStatusDraft,
	}
}

// BeforeSave 保存前生成uid、默认发送时间并验证
func (c *Campaign) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &Campaign{}, "campaign_uid", &c.CampaignUID); err != nil {
		return err
	}
	c.FromEmail = strings.ToLower(strings.TrimSpace(c.FromEmail))
	if c.Status != CampaignStatusDraft && c.SendAt == nil {
		now := time.Now()
		c.SendAt = &now
	}
	return validation.Struct(c)
}

// IsDraft 是否为草稿
func (c *Campaign) IsDraft() bool {
	return c.Status == CampaignStatusDraft
}

// IsPendingSending 是否等待发送
func (c *Campaign) IsPendingSending() bool {
	return c.Status == CampaignStatusPendingSending
}

// IsSending 是否正在发送
func (c *Campaign) IsSending() bool {
	return c.Status == CampaignStatusSending
}

// IsSent 是否已发送完成
func (c *Campaign) IsSent() bool {
	return c.Status == CampaignStatusSent
}

// IsPaused 是否已暂停
func (c *Campaign) IsPaused() bool {
	return c.Status == CampaignStatusPaused
}

// IsBlocked 是否被封禁
func (c *Campaign) IsBlocked() bool {
	return c.Status == CampaignStatusBlocked
}

// IsPendingDelete 是否等待删除
func (c *Campaign) IsPendingDelete() bool {
	return c.Status == CampaignStatusPendingDelete
}

// IsAutoresponder 是否为自动回复活动
func (c *Campaign) IsAutoresponder() bool {
	return c.Type == CampaignTypeAutoresponder
}

// CanBeEdited 草稿、暂停和待审核的活动可以编辑
func (c *Campaign) CanBeEdited() bool {
	switch c.Status {
	case CampaignStatusDraft, CampaignStatusPaused, CampaignStatusPendingApprove:
		return true
	}
	return false
}

// CanBeScheduled 是否可以安排发送
func (c *Campaign) CanBeScheduled() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusPaused
}

// CanBePaused 是否可以暂停
func (c *Campaign) CanBePaused() bool {
	return c.Status == CampaignStatusPendingSending || c.Status == CampaignStatusSending
}

// CanBeResumed 是否可以恢复
func (c *Campaign) CanBeResumed() bool {
	return c.Status == CampaignStatusPaused
}

// CanBeApproved 是否可以审核通过
func (c *Campaign) CanBeApproved() bool {
	return c.Status == CampaignStatusPendingApprove || c.Status == CampaignStatusBlocked
}

// CanBeBlocked 是否可以封禁
func (c *Campaign) CanBeBlocked() bool {
	switch c.Status {
	case CampaignStatusPendingSending, CampaignStatusSending, CampaignStatusPaused, CampaignStatusPendingApprove:
		return true
	}
	return false
}

// CanBeDeleted 正在发送的活动不能删除
func (c *Campaign) CanBeDeleted() bool {
	return c.Status != CampaignStatusSending && c.Status != CampaignStatusPendingDelete
}

// CampaignGroup 活动分组
type CampaignGroup struct {
	BaseModel
	GroupUID   string `gorm:"column:group_uid;uniqueIndex;size:13;not null" json:"group_uid"`
	CustomerID uint   `gorm:"not null;index" json:"customer_id" validate:"required"`
	Name       string `gorm:"size:255;not null" json:"name" validate:"required,max=255"`

	Customer  *Customer  `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	Campaigns []Campaign `gorm:"foreignKey:GroupID" json:"campaigns,omitempty" validate:"-"`
}

// TableName 指定表名
func (CampaignGroup) TableName() string {
	return "campaign_groups"
}

// AttributeLabels 字段显示名称
func (CampaignGroup) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"group_uid":   "Unique ID",
		"customer_id": "Customer",
		"name":        "Name",
	})
}

// AttributeHelpTexts 字段帮助文本
func (CampaignGroup) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"name": "The name of the group",
	}
}

// BeforeSave 保存前生成uid并验证
func (g *CampaignGroup) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &CampaignGroup{}, "group_uid", &g.GroupUID); err != nil {
		return err
	}
	return validation.Struct(g)
}
