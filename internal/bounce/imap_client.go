package bounce

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"mailwizz/internal/proxy"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// 连接加密方式，与退信服务器的protocol字段一致
const (
	SecuritySSL   = "ssl"
	SecurityTLS   = "tls"
	SecurityNoTLS = "notls"
)

// MailboxConfig 退信邮箱连接配置
type MailboxConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Security    string
	ValidateSSL bool
	Mailbox     string
	Timeout     time.Duration
	Proxy       *proxy.ProxyConfig
}

// Mailbox 已登录的IMAP退信邮箱
type Mailbox struct {
	client *client.Client
	config MailboxConfig
}

// Dial 连接并登录IMAP服务器
func Dial(ctx context.Context, config MailboxConfig) (*Mailbox, error) {
	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer, err := proxy.CreateDialer(config.Proxy, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialer: %w", err)
	}

	if config.Proxy != nil {
		log.Printf("[DEBUG] IMAP connecting to %s via %s proxy %s:%d", addr, config.Proxy.Type, config.Proxy.Host, config.Proxy.Port)
	}

	conn, err := proxy.DialContext(ctx, dialer, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName:         config.Host,
		InsecureSkipVerify: !config.ValidateSSL,
	}

	switch strings.ToLower(config.Security) {
	case SecuritySSL:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to connect to IMAP server with TLS: %w", err)
		}
		conn = tlsConn
	case SecurityTLS, SecurityNoTLS, "":
	default:
		conn.Close()
		return nil, fmt.Errorf("unsupported security type: %s", config.Security)
	}

	// 会话内所有命令共享同一个截止时间
	conn.SetDeadline(time.Now().Add(2 * timeout))

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}

	if strings.ToLower(config.Security) == SecurityTLS {
		if err := imapClient.StartTLS(tlsConfig); err != nil {
			imapClient.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if err := imapClient.Login(config.Username, config.Password); err != nil {
		imapClient.Close()
		return nil, fmt.Errorf("IMAP authentication failed: %w", err)
	}

	return &Mailbox{client: imapClient, config: config}, nil
}

// Close 登出并关闭连接
func (m *Mailbox) Close() error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Logout(); err != nil {
		return m.client.Close()
	}
	return nil
}

// Select 选择要扫描的邮箱目录
func (m *Mailbox) Select() error {
	name := m.config.Mailbox
	if name == "" {
		name = "INBOX"
	}
	if _, err := m.client.Select(name, false); err != nil {
		return fmt.Errorf("failed to select mailbox %s: %w", name, err)
	}
	return nil
}

// Unseen 未读邮件的UID，最多返回limit个
func (m *Mailbox) Unseen(limit int) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids, nil
}

// Fetch 逐封读取邮件原文，不改变已读标记
func (m *Mailbox) Fetch(uids []uint32, fn func(uid uint32, body io.Reader) error) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var firstErr error
	for msg := range messages {
		if firstErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		if err := fn(msg.Uid, body); err != nil {
			firstErr = err
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	return firstErr
}

// MarkSeen 标记为已读
func (m *Mailbox) MarkSeen(uids []uint32) error {
	return m.addFlag(uids, imap.SeenFlag)
}

// Delete 标记删除并清除
func (m *Mailbox) Delete(uids []uint32) error {
	if err := m.addFlag(uids, imap.DeletedFlag); err != nil {
		return err
	}
	if err := m.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge messages: %w", err)
	}
	return nil
}

func (m *Mailbox) addFlag(uids []uint32, flag string) error {
	if len(uids) == 0 {
		return nil
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqSet, item, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("failed to set %s flag: %w", flag, err)
	}
	return nil
}
