package models

import (
	"strings"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 列表状态
const (
	ListStatusActive        = "active"
	ListStatusPendingDelete = "pending-delete"
	ListStatusArchived      = "archived"
)

// 列表可见性
const (
	ListVisibilityPublic  = "public"
	ListVisibilityPrivate = "private"
)

// 订阅/退订确认方式
const (
	OptInOutSingle = "single"
	OptInOutDouble = "double"
)

// List 邮件列表模型
type List struct {
	BaseModel
	ListUID                   string `gorm:"column:list_uid;uniqueIndex;size:13;not null" json:"list_uid"`
	CustomerID                uint   `gorm:"not null;index" json:"customer_id" validate:"required"`
	Name                      string `gorm:"size:255;not null" json:"name" validate:"required,max=255"`
	DisplayName               string `gorm:"size:255" json:"display_name" validate:"max=255"`
	Description               string `gorm:"type:text" json:"description" validate:"max=65535"`
	Visibility                string `gorm:"size:15;not null" json:"visibility" validate:"required,oneof=public private"`
	OptIn                     string `gorm:"column:opt_in;size:15;not null" json:"opt_in" validate:"required,oneof=single double"`
	OptOut                    string `gorm:"column:opt_out;size:15;not null" json:"opt_out" validate:"required,oneof=single double"`
	WelcomeEmail              bool   `gorm:"not null" json:"welcome_email"`
	SubscriberRequireApproval bool   `gorm:"not null" json:"subscriber_require_approval"`

	// 默认发件信息
	FromName  string `gorm:"size:100;not null" json:"from_name" validate:"required,max=100"`
	FromEmail string `gorm:"size:100;not null" json:"from_email" validate:"required,email,max=100"`
	ReplyTo   string `gorm:"size:100" json:"reply_to" validate:"omitempty,email,max=100"`
	Subject   string `gorm:"size:255" json:"subject" validate:"max=255"`

	Status string `gorm:"size:15;not null;index" json:"status" validate:"required,oneof=active pending-delete archived"`

	// 关联关系
	Customer    *Customer        `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	Fields      []ListField      `gorm:"foreignKey:ListID" json:"fields,omitempty" validate:"-"`
	Subscribers []ListSubscriber `gorm:"foreignKey:ListID" json:"subscribers,omitempty" validate:"-"`
	Campaigns   []Campaign       `gorm:"foreignKey:ListID" json:"campaigns,omitempty" validate:"-"`

	// 统计信息（不存储）
	SubscribersCount int64 `gorm:"-" json:"subscribers_count,omitempty"`
}

// TableName 指定表名
func (List) TableName() string {
	return "lists"
}

// AttributeLabels 字段显示名称
func (List) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"list_uid":                    "Unique ID",
		"customer_id":                 "Customer",
		"name":                        "Name",
		"display_name":                "Display name",
		"description":                 "Description",
		"visibility":                  "Visibility",
		"opt_in":                      "Opt in",
		"opt_out":                     "Opt out",
		"welcome_email":               "Welcome email",
		"subscriber_require_approval": "Subscriber require approval",
		"from_name":                   "From name",
		"from_email":                  "From email",
		"reply_to":                    "Reply to",
		"subject":                     "Subject",
		"status":                      "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (List) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"name":                        "Your mail list verbose name. It will be shown in your customer area sections",
		"display_name":                "Your mail list display name. This name will be used in subscription forms and template tags parsing for campaigns",
		"description":                 "Please use an accurate list description, but keep it brief",
		"visibility":                  "Public lists are shown on the website landing page, providing a way of getting new subscribers",
		"opt_in":                      "Double opt-in will send a confirmation email while single opt-in will not",
		"opt_out":                     "Double opt-out will send a confirmation email while single opt-out will not",
		"welcome_email":               "Whether the subscriber should receive a welcome email as defined in your list pages",
		"subscriber_require_approval": "Whether the subscriber must be manually approved in the list",
		"from_name":                   "This is the default name shown in the FROM field of your campaigns",
		"from_email":                  "This is the default email address shown in the FROM field of your campaigns",
		"reply_to":                    "If a subscriber replies to your campaign, this is the email address where the reply will go",
		"subject":                     "Default subject for campaigns, this can be changed for any particular campaign",
	}
}

// NewList 创建带默认设置的列表
func NewList(customerID uint, name string) *List {
	return &List{
		CustomerID: customerID,
		Name:       name,
		Visibility: ListVisibilityPublic,
		OptIn:      OptInOutDouble,
		OptOut:     OptInOutSingle,
		Status:     ListStatusActive,
	}
}

// BeforeSave 保存前生成uid并验证
func (l *List) BeforeSave(tx *gorm.DB) error {
	if err := ensureUID(tx, &List{}, "list_uid", &l.ListUID); err != nil {
		return err
	}
	if l.DisplayName == "" {
		l.DisplayName = l.Name
	}
	l.FromEmail = strings.ToLower(strings.TrimSpace(l.FromEmail))
	return validation.Struct(l)
}

// IsPendingDelete 是否等待删除
func (l *List) IsPendingDelete() bool {
	return l.Status == ListStatusPendingDelete
}

// 列表字段类型
const (
	ListFieldTypeText            = "text"
	ListFieldTypeTextarea        = "textarea"
	ListFieldTypeDropdown        = "dropdown"
	ListFieldTypeMultiselect     = "multiselect"
	ListFieldTypeCheckbox        = "checkbox"
	ListFieldTypeRadiolist       = "radiolist"
	ListFieldTypeDate            = "date"
	ListFieldTypeDatetime        = "datetime"
	ListFieldTypeEmail           = "email"
	ListFieldTypeNumber          = "number"
	ListFieldTypePhone           = "phonenumber"
	ListFieldTypeURL             = "url"
	ListFieldTypeCountry         = "country"
	ListFieldTypeConsentCheckbox = "consentcheckbox"
)

// 字段可见性
const (
	FieldVisibilityVisible = "visible"
	FieldVisibilityHidden  = "hidden"
	FieldVisibilityNone    = "none"
)

// ListFieldTagEmail 每个列表都有的邮箱字段标签
const ListFieldTagEmail = "EMAIL"

// ListField 列表自定义字段
type ListField struct {
	BaseModel
	ListID       uint   `gorm:"not null;index" json:"list_id" validate:"required"`
	Type         string `gorm:"size:20;not null" json:"type" validate:"required,oneof=text textarea dropdown multiselect checkbox radiolist date datetime email number phonenumber url country consentcheckbox"`
	Label        string `gorm:"size:255;not null" json:"label" validate:"required,max=255"`
	Tag          string `gorm:"size:50;not null" json:"tag" validate:"required,listtag"`
	DefaultValue string `gorm:"size:255" json:"default_value" validate:"max=255"`
	HelpText     string `gorm:"size:255" json:"help_text" validate:"max=255"`
	Description  string `gorm:"type:text" json:"description" validate:"max=65535"`
	Required     bool   `gorm:"not null" json:"required"`
	Visibility   string `gorm:"size:15;not null" json:"visibility" validate:"required,oneof=visible hidden none"`
	SortOrder    int    `gorm:"not null" json:"sort_order" validate:"gte=-100,lte=100"`

	List   *List            `gorm:"foreignKey:ListID" json:"list,omitempty" validate:"-"`
	Values []ListFieldValue `gorm:"foreignKey:FieldID" json:"-" validate:"-"`
}

// TableName 指定表名
func (ListField) TableName() string {
	return "list_fields"
}

// AttributeLabels 字段显示名称
func (ListField) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"list_id":       "List",
		"type":          "Type",
		"label":         "Label",
		"tag":           "Tag",
		"default_value": "Default value",
		"help_text":     "Help text",
		"description":   "Description",
		"required":      "Required",
		"visibility":    "Visibility",
		"sort_order":    "Sort order",
	})
}

// AttributeHelpTexts 字段帮助文本
func (ListField) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"label":         "This is what your subscribers will see above the input field",
		"tag":           "The tag must be unique among the list tags. It must start with a letter, end with a letter or number and contain only alpha-numeric chars and underscores, all uppercased. The tag can be used in your templates like: [TAG]",
		"default_value": "In case this field is not required and you need a default value for it",
		"help_text":     "This is a help text that will be shown to your subscribers under the input field",
		"required":      "Whether the subscriber is required to fill in this field",
		"visibility":    "Hidden fields are not shown to subscribers",
		"sort_order":    "Decide the order of the fields shown in the form",
	}
}

// BeforeSave 保存前规范化标签并检查同一列表内唯一
func (f *ListField) BeforeSave(tx *gorm.DB) error {
	f.Tag = strings.ToUpper(strings.TrimSpace(f.Tag))
	if f.Visibility == "" {
		f.Visibility = FieldVisibilityVisible
	}

	errs, err := validation.Collect(f)
	if err != nil {
		return err
	}
	if _, exists := errs["tag"]; !exists && f.ListID != 0 {
		var count int64
		query := newDB(tx).Model(&ListField{}).Where("list_id = ? AND tag = ?", f.ListID, f.Tag)
		if f.ID != 0 {
			query = query.Where("id <> ?", f.ID)
		}
		if err := query.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			errs.Add("tag", "Tag \""+f.Tag+"\" has already been taken.")
		}
	}
	return errs.OrNil()
}

// IsEmailField 是否为内置的邮箱字段
func (f *ListField) IsEmailField() bool {
	return f.Tag == ListFieldTagEmail
}

// ListFieldValue 订阅者的字段值
type ListFieldValue struct {
	BaseModel
	FieldID      uint   `gorm:"not null;index" json:"field_id"`
	SubscriberID uint   `gorm:"not null;index" json:"subscriber_id"`
	Value        string `gorm:"size:255" json:"value" validate:"max=255"`

	Field      *ListField      `gorm:"foreignKey:FieldID" json:"field,omitempty" validate:"-"`
	Subscriber *ListSubscriber `gorm:"foreignKey:SubscriberID" json:"-" validate:"-"`
}

// TableName 指定表名
func (ListFieldValue) TableName() string {
	return "list_field_values"
}

// AttributeLabels 字段显示名称
func (ListFieldValue) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"field_id":      "Field",
		"subscriber_id": "Subscriber",
		"value":         "Value",
	})
}

// AttributeHelpTexts 字段帮助文本
func (ListFieldValue) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 保存前验证
func (v *ListFieldValue) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(v)
}

// 订阅者状态
const (
	SubscriberStatusUnconfirmed  = "unconfirmed"
	SubscriberStatusConfirmed    = "confirmed"
	SubscriberStatusUnsubscribed = "unsubscribed"
	SubscriberStatusBlacklisted  = "blacklisted"
	SubscriberStatusUnapproved   = "unapproved"
	SubscriberStatusDisabled     = "disabled"
	SubscriberStatusMoved        = "moved"
)

// 订阅来源
const (
	SubscriberSourceWeb    = "web"
	SubscriberSourceAPI    = "api"
	SubscriberSourceImport = "import"
)

// ListSubscriber 列表订阅者
type ListSubscriber struct {
	BaseModel
	SubscriberUID string `gorm:"column:subscriber_uid;uniqueIndex;size:13;not null" json:"subscriber_uid"`
	ListID        uint   `gorm:"not null;index" json:"list_id" validate:"required"`
	Email         string `gorm:"size:100;not null;index" json:"email" validate:"required,email,max=100"`
	IPAddress     string `gorm:"column:ip_address;size:45" json:"ip_address" validate:"omitempty,ip"`
	Source        string `gorm:"size:15;not null" json:"source" validate:"required,oneof=web api import"`
	Status        string `gorm:"size:15;not null;index" json:"status" validate:"required,oneof=unconfirmed confirmed unsubscribed blacklisted unapproved disabled moved"`

	List        *List            `gorm:"foreignKey:ListID" json:"list,omitempty" validate:"-"`
	FieldValues []ListFieldValue `gorm:"foreignKey:SubscriberID" json:"field_values,omitempty" validate:"-"`
}

// TableName 指定表名
func (ListSubscriber) TableName() string {
	return "list_subscribers"
}

// AttributeLabels 字段显示名称
func (ListSubscriber) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"subscriber_uid": "Unique ID",
		"list_id":        "List",
		"email":          "Email",
		"ip_address":     "Ip address",
		"source":         "Source",
		"status":         "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (ListSubscriber) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"source": "Where the subscriber came from",
	}
}

// BeforeSave 保存前生成uid、规范化邮箱并检查同一列表内唯一
func (s *ListSubscriber) BeforeSave(tx *gorm.DB) error {
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	if s.Source == "" {
		s.Source = SubscriberSourceWeb
	}
	if err := ensureUID(tx, &ListSubscriber{}, "subscriber_uid", &s.SubscriberUID); err != nil {
		return err
	}

	errs, err := validation.Collect(s)
	if err != nil {
		return err
	}
	if _, exists := errs["email"]; !exists && s.ListID != 0 {
		var count int64
		query := newDB(tx).Model(&ListSubscriber{}).Where("list_id = ? AND email = ?", s.ListID, s.Email)
		if s.ID != 0 {
			query = query.Where("id <> ?", s.ID)
		}
		if err := query.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			errs.Add("email", "Email \""+s.Email+"\" has already been taken.")
		}
	}
	return errs.OrNil()
}

// IsConfirmed 是否已确认
func (s *ListSubscriber) IsConfirmed() bool {
	return s.Status == SubscriberStatusConfirmed
}

// CanReceiveEmails 是否可以接收邮件
func (s *ListSubscriber) CanReceiveEmails() bool {
	return s.Status == SubscriberStatusConfirmed
}

// ListSubscriberListMove 订阅者在列表之间移动的记录
type ListSubscriberListMove struct {
	ID                      uint      `gorm:"primarykey" json:"id"`
	SourceSubscriberID      uint      `gorm:"not null;index" json:"source_subscriber_id" validate:"required"`
	SourceListID            uint      `gorm:"not null;index" json:"source_list_id" validate:"required"`
	DestinationSubscriberID uint      `gorm:"not null;index" json:"destination_subscriber_id" validate:"required"`
	DestinationListID       uint      `gorm:"not null;index" json:"destination_list_id" validate:"required"`
	CreatedAt               time.Time `json:"date_added"`
	UpdatedAt               time.Time `json:"last_updated"`

	SourceSubscriber      *ListSubscriber `gorm:"foreignKey:SourceSubscriberID" json:"source_subscriber,omitempty" validate:"-"`
	SourceList            *List           `gorm:"foreignKey:SourceListID" json:"source_list,omitempty" validate:"-"`
	DestinationSubscriber *ListSubscriber `gorm:"foreignKey:DestinationSubscriberID" json:"destination_subscriber,omitempty" validate:"-"`
	DestinationList       *List           `gorm:"foreignKey:DestinationListID" json:"destination_list,omitempty" validate:"-"`
}

// TableName 指定表名
func (ListSubscriberListMove) TableName() string {
	return "list_subscriber_list_move"
}

// AttributeLabels 字段显示名称
func (ListSubscriberListMove) AttributeLabels() map[string]string {
	return map[string]string{
		"id":                        "ID",
		"source_subscriber_id":      "Source subscriber",
		"source_list_id":            "Source list",
		"destination_subscriber_id": "Destination subscriber",
		"destination_list_id":       "Destination list",
		"date_added":                "Date added",
		"last_updated":              "Last updated",
	}
}

// AttributeHelpTexts 字段帮助文本
func (ListSubscriberListMove) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}

// BeforeSave 保存前验证
func (m *ListSubscriberListMove) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(m)
}
