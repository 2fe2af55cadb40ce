package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailwizz/internal/proxy"
)

// 连接加密方式，和投递服务器的protocol字段一致
const (
	SecurityNone     = ""
	SecuritySSL      = "ssl"
	SecurityTLS      = "tls"
	SecuritySTARTTLS = "starttls"
)

// Config SMTP连接配置
type Config struct {
	Host               string
	Port               int
	Security           string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Proxy              *proxy.ProxyConfig
}

// Address 服务器地址
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client SMTP客户端
type Client struct {
	client    *smtp.Client
	config    Config
	connected bool
	mutex     sync.Mutex
}

// NewClient 创建SMTP客户端
func NewClient(config Config) *Client {
	return &Client{config: config}
}

// Connect 连接并认证
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connected {
		return nil
	}

	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer, err := proxy.CreateDialer(c.config.Proxy, timeout)
	if err != nil {
		return fmt.Errorf("failed to create dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := proxy.DialContext(ctx, dialer, "tcp", c.config.Address())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.Address(), err)
	}
	conn.SetDeadline(time.Now().Add(timeout))

	tlsConfig := &tls.Config{
		ServerName:         c.config.Host,
		InsecureSkipVerify: c.config.InsecureSkipVerify,
	}

	security := strings.ToLower(c.config.Security)
	if security == SecuritySSL || security == SecurityTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("failed to dial TLS: %w", err)
		}
		conn = tlsConn
	}

	smtpClient, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	switch security {
	case SecuritySSL, SecurityTLS:
	case SecuritySTARTTLS:
		if err := smtpClient.StartTLS(tlsConfig); err != nil {
			smtpClient.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	case SecurityNone:
	default:
		smtpClient.Close()
		return fmt.Errorf("unsupported security type: %s", c.config.Security)
	}

	if err := c.authenticate(smtpClient, security); err != nil {
		smtpClient.Close()
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	c.client = smtpClient
	c.connected = true
	return nil
}

// authenticate 服务器不支持AUTH或没有用户名时跳过认证
func (c *Client) authenticate(smtpClient *smtp.Client, security string) error {
	if c.config.Username == "" {
		return nil
	}
	if ok, _ := smtpClient.Extension("AUTH"); !ok {
		return nil
	}

	// 明文连接上net/smtp的PlainAuth会拒绝发送密码
	if security == SecurityNone {
		return smtpClient.Auth(&PlainAuthNoTLS{
			username: c.config.Username,
			password: c.config.Password,
		})
	}
	return smtpClient.Auth(smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host))
}

// PlainAuthNoTLS 不检查TLS状态的PLAIN认证器
type PlainAuthNoTLS struct {
	identity, username, password string
}

// Start 开始认证
func (a *PlainAuthNoTLS) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := []byte(a.identity + "\x00" + a.username + "\x00" + a.password)
	return "PLAIN", resp, nil
}

// Next 认证下一步
func (a *PlainAuthNoTLS) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge")
	}
	return nil, nil
}

// Noop 检查连接是否可用
func (c *Client) Noop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return fmt.Errorf("SMTP client not connected")
	}
	return c.client.Noop()
}

// SendRaw 发送原始邮件数据
func (c *Client) SendRaw(from string, to []string, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return fmt.Errorf("SMTP client not connected")
	}

	if err := c.client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err := c.client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish email data: %w", err)
	}
	return nil
}

// Send 组装并发送邮件
func (c *Client) Send(message *Message) error {
	data, err := message.Build()
	if err != nil {
		return err
	}
	return c.SendRaw(message.From.Address, message.Recipients(), data)
}

// Close 断开连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}

	err := c.client.Quit()
	c.client = nil
	c.connected = false
	return err
}
