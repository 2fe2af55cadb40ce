package config

import "strings"

// ServerPreset 常见邮件服务商的投递和退信服务器设置
type ServerPreset struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	// 投递（SMTP）
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPProtocol string `json:"smtp_protocol"` // "", "tls", "ssl", "starttls"

	// 退信（IMAP/POP3）
	BounceService  string `json:"bounce_service,omitempty"`
	BounceHost     string `json:"bounce_host,omitempty"`
	BouncePort     int    `json:"bounce_port,omitempty"`
	BounceProtocol string `json:"bounce_protocol,omitempty"` // "ssl", "tls", "notls"

	Domains []string          `json:"domains"`
	Limits  map[string]int    `json:"limits,omitempty"`
	Notes   map[string]string `json:"notes,omitempty"`
}

// GetServerPresets 获取内置服务商预设
func GetServerPresets() map[string]ServerPreset {
	return map[string]ServerPreset{
		"gmail": {
			Name:           "gmail",
			DisplayName:    "Gmail",
			SMTPHost:       "smtp.gmail.com",
			SMTPPort:       465,
			SMTPProtocol:   "ssl",
			BounceService:  "imap",
			BounceHost:     "imap.gmail.com",
			BouncePort:     993,
			BounceProtocol: "ssl",
			Domains:        []string{"gmail.com", "googlemail.com"},
			Limits: map[string]int{
				"daily_quota": 500,
			},
			Notes: map[string]string{
				"app_password_required": "true",
			},
		},
		"outlook": {
			Name:           "outlook",
			DisplayName:    "Outlook/Hotmail",
			SMTPHost:       "smtp-mail.outlook.com",
			SMTPPort:       587,
			SMTPProtocol:   "starttls",
			BounceService:  "imap",
			BounceHost:     "outlook.office365.com",
			BouncePort:     993,
			BounceProtocol: "ssl",
			Domains:        []string{"outlook.*", "hotmail.*", "live.*", "msn.com"},
			Limits: map[string]int{
				"daily_quota": 300,
			},
		},
		"yahoo": {
			Name:           "yahoo",
			DisplayName:    "Yahoo Mail",
			SMTPHost:       "smtp.mail.yahoo.com",
			SMTPPort:       465,
			SMTPProtocol:   "ssl",
			BounceService:  "imap",
			BounceHost:     "imap.mail.yahoo.com",
			BouncePort:     993,
			BounceProtocol: "ssl",
			Domains:        []string{"yahoo.*", "ymail.com"},
		},
		"zoho": {
			Name:           "zoho",
			DisplayName:    "Zoho Mail",
			SMTPHost:       "smtp.zoho.com",
			SMTPPort:       465,
			SMTPProtocol:   "ssl",
			BounceService:  "imap",
			BounceHost:     "imap.zoho.com",
			BouncePort:     993,
			BounceProtocol: "ssl",
			Domains:        []string{"zoho.com", "zohomail.com"},
		},
		"amazon-ses": {
			Name:         "amazon-ses",
			DisplayName:  "Amazon SES (SMTP)",
			SMTPHost:     "email-smtp.us-east-1.amazonaws.com",
			SMTPPort:     587,
			SMTPProtocol: "starttls",
			Domains:      []string{},
			Limits: map[string]int{
				"hourly_quota": 200,
			},
			Notes: map[string]string{
				"region": "change the hostname to match your SES region",
			},
		},
		"sendgrid": {
			Name:         "sendgrid",
			DisplayName:  "SendGrid (SMTP)",
			SMTPHost:     "smtp.sendgrid.net",
			SMTPPort:     587,
			SMTPProtocol: "starttls",
			Domains:      []string{},
			Notes: map[string]string{
				"username": "apikey",
			},
		},
		"mailgun": {
			Name:         "mailgun",
			DisplayName:  "Mailgun (SMTP)",
			SMTPHost:     "smtp.mailgun.org",
			SMTPPort:     587,
			SMTPProtocol: "starttls",
			Domains:      []string{},
		},
		"custom": {
			Name:           "custom",
			DisplayName:    "Custom SMTP",
			SMTPPort:       25,
			BounceService:  "imap",
			BouncePort:     143,
			BounceProtocol: "notls",
			Domains:        []string{}, // 支持任意域名
		},
	}
}

// GetPresetByDomain 根据邮箱域名获取服务商预设
func GetPresetByDomain(domain string) *ServerPreset {
	domain = strings.ToLower(domain)
	presets := GetServerPresets()

	for _, preset := range presets {
		for _, supportedDomain := range preset.Domains {
			if DomainMatches(supportedDomain, domain) {
				p := preset
				return &p
			}
		}
	}

	// 如果没有找到匹配的服务商，返回自定义配置
	custom := presets["custom"]
	return &custom
}

// GetPresetByName 根据名称获取服务商预设
func GetPresetByName(name string) *ServerPreset {
	presets := GetServerPresets()
	if preset, exists := presets[name]; exists {
		return &preset
	}
	return nil
}

// DomainMatches 判断域匹配，支持后缀通配 *.（例如 outlook.* 匹配 outlook.com/outlook.fr）
func DomainMatches(pattern string, domain string) bool {
	if pattern == "" || domain == "" {
		return false
	}

	// 通配符后缀：xxx.*
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return domain == prefix || strings.HasPrefix(domain, prefix+".")
	}

	// 精确匹配
	return pattern == domain
}
