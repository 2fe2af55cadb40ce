package models

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 投递服务器类型
const (
	DeliveryServerTypeSMTP     = "smtp"
	DeliveryServerTypeSendmail = "sendmail"
	DeliveryServerTypePHPMail  = "php-mail"
)

// 投递服务器状态
const (
	DeliveryServerStatusActive   = "active"
	DeliveryServerStatusInactive = "inactive"
	DeliveryServerStatusInUse    = "in-use"
	DeliveryServerStatusDisabled = "disabled"
)

// 投递服务器用途
const (
	DeliveryServerUseForAll           = "all"
	DeliveryServerUseForCampaigns     = "campaigns"
	DeliveryServerUseForTransactional = "transactional"
	DeliveryServerUseForEmailTests    = "email-tests"
	DeliveryServerUseForReports       = "reports"
	DeliveryServerUseForListEmails    = "list-emails"
)

// DeliveryServerHeader 投递时附加的邮件头
type DeliveryServerHeader struct {
	Name  string `json:"name" validate:"required,header_name"`
	Value string `json:"value" validate:"required,max=255"`
}

// DeliveryServer 投递服务器模型
type DeliveryServer struct {
	BaseModel
	CustomerID     *uint  `gorm:"index" json:"customer_id,omitempty"`
	BounceServerID *uint  `gorm:"index" json:"bounce_server_id,omitempty"`
	Type           string `gorm:"size:50;not null" json:"type" validate:"required,oneof=smtp sendmail php-mail"`
	Name           string `gorm:"size:255" json:"name" validate:"max=255"`

	// 连接信息
	Hostname string `gorm:"size:255" json:"hostname" validate:"omitempty,hostname_or_ip,max=255"`
	Username string `gorm:"size:255" json:"username" validate:"max=255"`
	Password string `gorm:"size:255" json:"-"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Protocol string `gorm:"size:10" json:"protocol" validate:"omitempty,oneof=tls ssl starttls"`
	Timeout  int    `gorm:"not null" json:"timeout" validate:"gte=5,lte=120"`

	// 发件人信息
	FromEmail    string `gorm:"size:150;not null" json:"from_email" validate:"required,email,max=150"`
	FromName     string `gorm:"size:150" json:"from_name" validate:"max=150"`
	ReplyToEmail string `gorm:"size:150" json:"reply_to_email" validate:"omitempty,email,max=150"`
	ForceFrom    bool   `gorm:"not null" json:"force_from"`

	// 发送限制
	Probability           int `gorm:"not null" json:"probability" validate:"min=1,max=100"`
	HourlyQuota           int `gorm:"not null" json:"hourly_quota" validate:"gte=0"`
	DailyQuota            int `gorm:"not null" json:"daily_quota" validate:"gte=0"`
	MonthlyQuota          int `gorm:"not null" json:"monthly_quota" validate:"gte=0"`
	PauseAfterSend        int `gorm:"not null" json:"pause_after_send" validate:"gte=0"`
	MaxConnectionMessages int `gorm:"not null" json:"max_connection_messages" validate:"gte=1"`

	Locked bool   `gorm:"not null" json:"locked"`
	UseFor string `gorm:"size:20;not null" json:"use_for" validate:"required,oneof=all campaigns transactional email-tests reports list-emails"`
	Status string `gorm:"size:20;not null;index" json:"status" validate:"required,oneof=active inactive in-use disabled"`

	// 附加邮件头，以JSON格式存储
	AdditionalHeaders string                 `gorm:"type:text" json:"-"`
	Headers           []DeliveryServerHeader `gorm:"-" json:"additional_headers" validate:"dive"`

	// 关联关系
	Customer       *Customer                    `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	BounceServer   *BounceServer                `gorm:"foreignKey:BounceServerID" json:"bounce_server,omitempty" validate:"-"`
	CustomerGroups []CustomerGroup              `gorm:"many2many:delivery_server_to_customer_group;" json:"customer_groups,omitempty" validate:"-"`
	DomainPolicies []DeliveryServerDomainPolicy `gorm:"foreignKey:ServerID" json:"domain_policies,omitempty" validate:"-"`
	UsageLogs      []DeliveryServerUsageLog     `gorm:"foreignKey:ServerID" json:"-" validate:"-"`
}

// TableName 指定表名
func (DeliveryServer) TableName() string {
	return "delivery_servers"
}

// AttributeLabels 字段显示名称
func (DeliveryServer) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"customer_id":             "Customer",
		"bounce_server_id":        "Bounce server",
		"type":                    "Type",
		"name":                    "Name",
		"hostname":                "Hostname",
		"username":                "Username",
		"password":                "Password",
		"port":                    "Port",
		"protocol":                "Protocol",
		"timeout":                 "Timeout",
		"from_email":              "From email",
		"from_name":               "From name",
		"reply_to_email":          "Reply-To email",
		"force_from":              "Force FROM",
		"probability":             "Probability",
		"hourly_quota":            "Hourly quota",
		"daily_quota":             "Daily quota",
		"monthly_quota":           "Monthly quota",
		"pause_after_send":        "Pause after send",
		"max_connection_messages": "Max. connection messages",
		"locked":                  "Locked",
		"use_for":                 "Use for",
		"status":                  "Status",
		"additional_headers":      "Additional headers",
	})
}

// AttributeHelpTexts 字段帮助文本
func (DeliveryServer) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"bounce_server_id":        "The server that will handle bounce emails for this delivery server",
		"hostname":                "The hostname of your SMTP server, usually something like smtp.domain.com",
		"username":                "The username of your SMTP server, usually something like you@domain.com",
		"port":                    "The port of your SMTP server, usually 25, 465 or 587",
		"protocol":                "Your SMTP server connection protocol, if unsure, leave it empty",
		"timeout":                 "The maximum number of seconds we should wait for the server to respond to our request",
		"from_email":              "The default email address used in the FROM header when nothing is specified",
		"force_from":              "When to force the FROM email address, useful when your server does not allow other addresses",
		"probability":             "When having multiple servers from where you send, the probability helps to choose one server more than another",
		"hourly_quota":            "In case there are limits that apply for sending with this server, you can set a hourly quota, 0 for unlimited",
		"daily_quota":             "In case there are limits that apply for sending with this server, you can set a daily quota, 0 for unlimited",
		"monthly_quota":           "In case there are limits that apply for sending with this server, you can set a monthly quota, 0 for unlimited",
		"pause_after_send":        "The number of microseconds to pause after an email is sent",
		"max_connection_messages": "The maximum number of messages to send through a single connection",
		"locked":                  "Whether this server is locked and assigned customers cannot change or delete it",
		"use_for":                 "For which type of sending can this server be used",
		"additional_headers":      "Extra headers added to every email sent through this server, names must start with X-",
	}
}

// NewDeliveryServer 创建带默认设置的投递服务器
func NewDeliveryServer(serverType string) *DeliveryServer {
	return &DeliveryServer{
		Type:                  serverType,
		Port:                  25,
		Timeout:               30,
		Probability:           100,
		MaxConnectionMessages: 1,
		UseFor:                DeliveryServerUseForAll,
		Status:                DeliveryServerStatusInactive,
	}
}

// BeforeSave 保存前验证并把附加邮件头编码为JSON
func (s *DeliveryServer) BeforeSave(tx *gorm.DB) error {
	s.Hostname = strings.TrimSpace(s.Hostname)
	s.FromEmail = strings.ToLower(strings.TrimSpace(s.FromEmail))

	errs, err := validation.Collect(s)
	if err != nil {
		return err
	}
	if s.Type == DeliveryServerTypeSMTP {
		labels := s.AttributeLabels()
		if s.Hostname == "" {
			errs.Add("hostname", validation.Message("required", "", labels["hostname"]))
		}
		if s.Port == 0 {
			errs.Add("port", validation.Message("required", "", labels["port"]))
		}
	}
	if err := errs.OrNil(); err != nil {
		return err
	}

	return s.encodeHeaders()
}

// AfterFind 查询后解码附加邮件头
func (s *DeliveryServer) AfterFind(tx *gorm.DB) error {
	return s.decodeHeaders()
}

func (s *DeliveryServer) encodeHeaders() error {
	if len(s.Headers) == 0 {
		s.AdditionalHeaders = ""
		return nil
	}
	data, err := json.Marshal(s.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode additional headers: %w", err)
	}
	s.AdditionalHeaders = string(data)
	return nil
}

func (s *DeliveryServer) decodeHeaders() error {
	if s.AdditionalHeaders == "" {
		s.Headers = nil
		return nil
	}
	var headers []DeliveryServerHeader
	if err := json.Unmarshal([]byte(s.AdditionalHeaders), &headers); err != nil {
		return fmt.Errorf("failed to decode additional headers: %w", err)
	}
	s.Headers = headers
	return nil
}

// IsActive 是否可用
func (s *DeliveryServer) IsActive() bool {
	return s.Status == DeliveryServerStatusActive || s.Status == DeliveryServerStatusInUse
}

// IsSystemServer 是否为系统服务器（不属于任何客户）
func (s *DeliveryServer) IsSystemServer() bool {
	return s.CustomerID == nil
}

// CanBeUsedFor 检查服务器是否可以用于指定的发送类型
func (s *DeliveryServer) CanBeUsedFor(useFor string) bool {
	return s.UseFor == DeliveryServerUseForAll || s.UseFor == useFor
}

// DisplayName 显示名称
func (s *DeliveryServer) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Hostname != "" {
		return s.Hostname
	}
	return fmt.Sprintf("%s-%d", s.Type, s.ID)
}

// 域名策略
const (
	DomainPolicyAllow = "allow"
	DomainPolicyDeny  = "deny"
)

// DeliveryServerDomainPolicy 投递服务器的收件域名策略
type DeliveryServerDomainPolicy struct {
	BaseModel
	ServerID uint   `gorm:"not null;index" json:"server_id"`
	Domain   string `gorm:"size:64;not null" json:"domain" validate:"required,domain_pattern,max=64"`
	Policy   string `gorm:"size:15;not null" json:"policy" validate:"required,oneof=allow deny"`

	Server *DeliveryServer `gorm:"foreignKey:ServerID" json:"server,omitempty" validate:"-"`
}

// TableName 指定表名
func (DeliveryServerDomainPolicy) TableName() string {
	return "delivery_server_domain_policy"
}

// AttributeLabels 字段显示名称
func (DeliveryServerDomainPolicy) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"server_id": "Server",
		"domain":    "Domain",
		"policy":    "Policy",
	})
}

// AttributeHelpTexts 字段帮助文本
func (DeliveryServerDomainPolicy) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"domain": "The recipient domain this policy applies to, use * for all domains or *.example.com for subdomains",
		"policy": "Whether sending to this domain through the server is allowed or denied",
	}
}

// BeforeSave 保存前规范化域名并验证
func (p *DeliveryServerDomainPolicy) BeforeSave(tx *gorm.DB) error {
	p.Domain = strings.ToLower(strings.TrimSpace(p.Domain))
	return validation.Struct(p)
}

// Matches 检查收件人域名是否匹配此策略
func (p *DeliveryServerDomainPolicy) Matches(domain string) bool {
	domain = strings.ToLower(domain)
	if p.Domain == "*" || p.Domain == domain {
		return true
	}
	matched, err := path.Match(p.Domain, domain)
	return err == nil && matched
}

// 用量日志的投递类型
const (
	DeliveryForCampaign      = "campaign"
	DeliveryForList          = "list"
	DeliveryForTransactional = "transactional"
	DeliveryForTest          = "test"
)

// DeliveryServerUsageLog 投递服务器用量日志
type DeliveryServerUsageLog struct {
	ID                uint      `gorm:"primarykey" json:"log_id"`
	ServerID          *uint     `gorm:"index" json:"server_id,omitempty"`
	CustomerID        *uint     `gorm:"index" json:"customer_id,omitempty"`
	DeliveryFor       string    `gorm:"size:15;not null;default:'campaign'" json:"delivery_for" validate:"required,oneof=campaign list transactional test"`
	CustomerCountable bool      `gorm:"not null" json:"customer_countable"`
	CreatedAt         time.Time `gorm:"index" json:"date_added"`

	Server   *DeliveryServer `gorm:"foreignKey:ServerID" json:"server,omitempty" validate:"-"`
	Customer *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
}

// TableName 指定表名
func (DeliveryServerUsageLog) TableName() string {
	return "delivery_server_usage_log"
}

// AttributeLabels 字段显示名称
func (DeliveryServerUsageLog) AttributeLabels() map[string]string {
	return map[string]string{
		"log_id":             "Log",
		"server_id":          "Server",
		"customer_id":        "Customer",
		"delivery_for":       "Delivery for",
		"customer_countable": "Customer countable",
		"date_added":         "Date added",
	}
}

// AttributeHelpTexts 字段帮助文本
func (DeliveryServerUsageLog) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"customer_countable": "Whether this delivery counts towards the customer sending quota",
	}
}

// BeforeSave 保存前验证
func (l *DeliveryServerUsageLog) BeforeSave(tx *gorm.DB) error {
	return validation.Struct(l)
}
