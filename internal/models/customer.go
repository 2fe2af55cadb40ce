package models

import (
	"strings"
	"time"

	"mailwizz/internal/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 客户状态
const (
	CustomerStatusActive         = "active"
	CustomerStatusInactive       = "inactive"
	CustomerStatusPendingConfirm = "pending-confirm"
	CustomerStatusPendingDelete  = "pending-delete"
)

// Customer 客户模型
type Customer struct {
	BaseModel
	CustomerUID string     `gorm:"column:customer_uid;uniqueIndex;size:13;not null" json:"customer_uid"`
	GroupID     *uint      `gorm:"index" json:"group_id,omitempty"`
	FirstName   string     `gorm:"size:100" json:"first_name" validate:"max=100"`
	LastName    string     `gorm:"size:100" json:"last_name" validate:"max=100"`
	Email       string     `gorm:"uniqueIndex;size:150;not null" json:"email" validate:"required,email,max=150"`
	Password    string     `gorm:"not null;size:255" json:"-"`
	Timezone    string     `gorm:"size:50;default:'UTC'" json:"timezone" validate:"omitempty,timezone"`
	Status      string     `gorm:"size:20;not null;default:'inactive';index" json:"status" validate:"required,oneof=active inactive pending-confirm pending-delete"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// 关联关系
	Group           *CustomerGroup      `gorm:"foreignKey:GroupID" json:"group,omitempty" validate:"-"`
	Lists           []List              `gorm:"foreignKey:CustomerID" json:"lists,omitempty" validate:"-"`
	Campaigns       []Campaign          `gorm:"foreignKey:CustomerID" json:"campaigns,omitempty" validate:"-"`
	QuotaMarks      []CustomerQuotaMark `gorm:"foreignKey:CustomerID" json:"quota_marks,omitempty" validate:"-"`
	DeliveryServers []DeliveryServer    `gorm:"foreignKey:CustomerID" json:"delivery_servers,omitempty" validate:"-"`
	Surveys         []Survey            `gorm:"foreignKey:CustomerID" json:"surveys,omitempty" validate:"-"`
}

// TableName 指定表名
func (Customer) TableName() string {
	return "customers"
}

// AttributeLabels 字段显示名称
func (Customer) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"customer_uid":  "Unique ID",
		"group_id":      "Group",
		"first_name":    "First name",
		"last_name":     "Last name",
		"email":         "Email",
		"password":      "Password",
		"timezone":      "Timezone",
		"status":        "Status",
		"last_login_at": "Last login",
	})
}

// AttributeHelpTexts 字段帮助文本
func (Customer) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"group_id": "The group decides the sending quota and the delivery servers this customer can use",
		"email":    "The email address is also used to sign in",
		"timezone": "Campaigns are scheduled relative to this timezone",
	}
}

// FullName 完整姓名，没有姓名时返回邮箱
func (c *Customer) FullName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}

// IsActive 是否为激活状态
func (c *Customer) IsActive() bool {
	return c.Status == CustomerStatusActive
}

// BeforeSave 保存前生成uid、规范化邮箱并验证
func (c *Customer) BeforeSave(tx *gorm.DB) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := ensureUID(tx, &Customer{}, "customer_uid", &c.CustomerUID); err != nil {
		return err
	}
	return validation.Struct(c)
}

// BeforeCreate 创建前钩子，加密密码
func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	return c.hashPassword()
}

// BeforeUpdate 更新前钩子，明文密码会被加密
func (c *Customer) BeforeUpdate(tx *gorm.DB) error {
	return c.hashPassword()
}

func (c *Customer) hashPassword() error {
	if c.Password == "" || isBcryptHash(c.Password) {
		return nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.Password = string(hashed)
	return nil
}

// CheckPassword 验证密码
func (c *Customer) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)) == nil
}

// 配额时间单位
const (
	QuotaTimeUnitHour  = "hour"
	QuotaTimeUnitDay   = "day"
	QuotaTimeUnitWeek  = "week"
	QuotaTimeUnitMonth = "month"
	QuotaTimeUnitYear  = "year"
)

// Unlimited 表示不限制的数值
const Unlimited = -1

// CustomerGroup 客户分组模型，包含发送配额和资源上限
type CustomerGroup struct {
	BaseModel
	Name      string `gorm:"size:100;not null" json:"name" validate:"required,max=100"`
	IsDefault bool   `gorm:"not null;default:false;index" json:"is_default"`

	// 发送配额
	Quota           int    `gorm:"not null" json:"quota" validate:"gte=-1"`
	QuotaTimeValue  int    `gorm:"not null" json:"quota_time_value" validate:"gte=-1"`
	QuotaTimeUnit   string `gorm:"size:10;not null" json:"quota_time_unit" validate:"required,oneof=hour day week month year"`
	QuotaWaitExpire bool   `gorm:"not null" json:"quota_wait_expire"`

	// 资源上限
	MaxLists       int `gorm:"not null" json:"max_lists" validate:"gte=-1"`
	MaxSubscribers int `gorm:"not null" json:"max_subscribers" validate:"gte=-1"`
	MaxCampaigns   int `gorm:"not null" json:"max_campaigns" validate:"gte=-1"`

	// 关联关系
	Customers       []Customer       `gorm:"foreignKey:GroupID" json:"customers,omitempty" validate:"-"`
	DeliveryServers []DeliveryServer `gorm:"many2many:delivery_server_to_customer_group;" json:"delivery_servers,omitempty" validate:"-"`
}

// TableName 指定表名
func (CustomerGroup) TableName() string {
	return "customer_groups"
}

// AttributeLabels 字段显示名称
func (CustomerGroup) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"name":              "Name",
		"is_default":        "Default group",
		"quota":             "Sending quota",
		"quota_time_value":  "Time value",
		"quota_time_unit":   "Time unit",
		"quota_wait_expire": "Wait for quota to expire",
		"max_lists":         "Max. lists",
		"max_subscribers":   "Max. subscribers",
		"max_campaigns":     "Max. campaigns",
	})
}

// AttributeHelpTexts 字段帮助文本
func (CustomerGroup) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"quota":             "How many emails the customers of this group can send, -1 for unlimited",
		"quota_time_value":  "The quota is counted over this amount of time units, -1 to disable the time window",
		"quota_time_unit":   "The unit for the quota time value",
		"quota_wait_expire": "Whether customers must wait for the time window to expire before the quota resets once it is reached",
		"max_lists":         "Maximum number of lists a customer can create, -1 for unlimited",
		"max_subscribers":   "Maximum number of subscribers a customer can have across all lists, -1 for unlimited",
		"max_campaigns":     "Maximum number of campaigns a customer can create, -1 for unlimited",
	}
}

// BeforeSave 保存前验证
func (g *CustomerGroup) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(g)
}

// NewCustomerGroup 创建不限配额和资源的分组
func NewCustomerGroup(name string) *CustomerGroup {
	return &CustomerGroup{
		Name:            name,
		Quota:           Unlimited,
		QuotaTimeValue:  Unlimited,
		QuotaTimeUnit:   QuotaTimeUnitMonth,
		QuotaWaitExpire: true,
		MaxLists:        Unlimited,
		MaxSubscribers:  Unlimited,
		MaxCampaigns:    Unlimited,
	}
}

// HasUnlimitedQuota 是否不限发送配额
func (g *CustomerGroup) HasUnlimitedQuota() bool {
	return g.Quota == Unlimited
}

// QuotaWindow 配额时间窗口，没有时间窗口时返回0
func (g *CustomerGroup) QuotaWindow() time.Duration {
	if g.QuotaTimeValue <= 0 {
		return 0
	}
	value := time.Duration(g.QuotaTimeValue)
	switch g.QuotaTimeUnit {
	case QuotaTimeUnitHour:
		return value * time.Hour
	case QuotaTimeUnitDay:
		return value * 24 * time.Hour
	case QuotaTimeUnitWeek:
		return value * 7 * 24 * time.Hour
	case QuotaTimeUnitMonth:
		return value * 30 * 24 * time.Hour
	case QuotaTimeUnitYear:
		return value * 365 * 24 * time.Hour
	}
	return 0
}

// CustomerQuotaMark 客户配额周期起点
type CustomerQuotaMark struct {
	ID         uint      `gorm:"primarykey" json:"mark_id"`
	CustomerID uint      `gorm:"not null;index" json:"customer_id"`
	CreatedAt  time.Time `gorm:"index" json:"date_added"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
}

// TableName 指定表名
func (CustomerQuotaMark) TableName() string {
	return "customer_quota_mark"
}

// AttributeLabels 字段显示名称
func (CustomerQuotaMark) AttributeLabels() map[string]string {
	return map[string]string{
		"mark_id":     "Mark",
		"customer_id": "Customer",
		"date_added":  "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (CustomerQuotaMark) AttributeHelpTexts() map[string]string {
	return map[string]string{}
}
