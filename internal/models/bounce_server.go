package models

import (
	"fmt"
	"strings"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// 退信服务器协议
const (
	BounceServiceIMAP = "imap"
	BounceServicePOP3 = "pop3"
)

// 退信服务器连接加密方式
const (
	BounceProtocolSSL   = "ssl"
	BounceProtocolTLS   = "tls"
	BounceProtocolNoTLS = "notls"
)

// 退信服务器状态
const (
	BounceServerStatusActive   = "active"
	BounceServerStatusInactive = "inactive"
	BounceServerStatusCronRun  = "cron-running"
	BounceServerStatusDisabled = "disabled"
)

// BounceServer 退信邮箱服务器模型
type BounceServer struct {
	BaseModel
	CustomerID           *uint  `gorm:"index" json:"customer_id,omitempty"`
	Hostname             string `gorm:"size:150;not null" json:"hostname" validate:"required,hostname_or_ip,max=150"`
	Email                string `gorm:"size:150" json:"email" validate:"omitempty,email,max=150"`
	Username             string `gorm:"size:150;not null" json:"username" validate:"required,max=150"`
	Password             string `gorm:"size:255;not null" json:"-"`
	Service              string `gorm:"size:10;not null" json:"service" validate:"required,oneof=imap pop3"`
	Port                 int    `gorm:"not null" json:"port" validate:"required,min=1,max=65535"`
	Protocol             string `gorm:"size:10;not null" json:"protocol" validate:"required,oneof=ssl tls notls"`
	ValidateSSL          bool   `gorm:"column:validate_ssl;not null" json:"validate_ssl"`
	Mailbox              string `gorm:"size:100" json:"mailbox" validate:"max=100"`
	SearchCharset        string `gorm:"size:50" json:"search_charset" validate:"max=50"`
	DeleteAllMessages    bool   `gorm:"not null" json:"delete_all_messages"`
	DisableAuthenticator string `gorm:"size:50" json:"disable_authenticator" validate:"max=50"`
	Locked               bool   `gorm:"not null" json:"locked"`
	Status               string `gorm:"size:20;not null;index" json:"status" validate:"required,oneof=active inactive cron-running disabled"`

	// 关联关系
	Customer        *Customer        `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	DeliveryServers []DeliveryServer `gorm:"foreignKey:BounceServerID" json:"delivery_servers,omitempty" validate:"-"`
}

// TableName 指定表名
func (BounceServer) TableName() string {
	return "bounce_servers"
}

// AttributeLabels 字段显示名称
func (BounceServer) AttributeLabels() map[string]string {
	return mergeLabels(baseLabels(), map[string]string{
		"customer_id":           "Customer",
		"hostname":              "Hostname",
		"email":                 "Email",
		"username":              "Username",
		"password":              "Password",
		"service":               "Service",
		"port":                  "Port",
		"protocol":              "Protocol",
		"validate_ssl":          "Validate ssl",
		"mailbox":               "Mailbox",
		"search_charset":        "Search charset",
		"delete_all_messages":   "Delete all messages",
		"disable_authenticator": "Disable authenticator",
		"locked":                "Locked",
		"status":                "Status",
	})
}

// AttributeHelpTexts 字段帮助文本
func (BounceServer) AttributeHelpTexts() map[string]string {
	return map[string]string{
		"hostname":              "The hostname of your IMAP/POP3 server",
		"username":              "The username of your IMAP/POP3 server, usually something like you@domain.com",
		"service":               "Your server type, if unsure, choose IMAP",
		"port":                  "The port of your IMAP/POP3 server, usually for IMAP this is 143 and for POP3 is 110. If you use SSL, the port for IMAP is 993 and for POP3 is 995",
		"protocol":              "The security protocol used to connect to the server",
		"validate_ssl":          "When using SSL/TLS, whether to validate the certificate or not",
		"mailbox":               "The mailbox that is scanned for bounces, INBOX when empty",
		"search_charset":        "Search charset, defaults to UTF-8 but might require to leave empty for some servers",
		"delete_all_messages":   "Whether to delete all messages from the server, not only the ones that were processed",
		"disable_authenticator": "If in order to establish the connection you need to disable an authenticator, type it here, e.g. GSSAPI",
		"locked":                "Whether this server is locked and assigned customers cannot change or delete it",
	}
}

// NewBounceServer 创建带默认设置的IMAP退信服务器
func NewBounceServer() *BounceServer {
	return &BounceServer{
		Service:       BounceServiceIMAP,
		Port:          143,
		Protocol:      BounceProtocolNoTLS,
		Mailbox:       "INBOX",
		SearchCharset: "UTF-8",
		Status:        BounceServerStatusInactive,
	}
}

// BeforeSave 保存前验证
func (s *BounceServer) BeforeSave(tx *gorm.DB) error {
	s.Hostname = strings.TrimSpace(s.Hostname)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.DisableAuthenticator = strings.ToUpper(strings.TrimSpace(s.DisableAuthenticator))
	return validation.Struct(s)
}

// MailboxName 实际扫描的邮箱目录
func (s *BounceServer) MailboxName() string {
	if s.Mailbox == "" {
		return "INBOX"
	}
	return s.Mailbox
}

// Address 连接地址
func (s *BounceServer) Address() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// IsActive 是否可用
func (s *BounceServer) IsActive() bool {
	return s.Status == BounceServerStatusActive
}
