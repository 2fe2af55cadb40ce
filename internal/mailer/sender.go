package mailer

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Sender 投递接口，服务层通过它测试连接和发送
type Sender interface {
	// Test 连接、认证并发送NOOP
	Test(ctx context.Context, config Config) error

	// Send 发送一封邮件
	Send(ctx context.Context, config Config, message *Message) error
}

// SMTPSender 每次调用建立新连接的SMTP投递
type SMTPSender struct{}

// NewSMTPSender 创建SMTP投递
func NewSMTPSender() *SMTPSender {
	return &SMTPSender{}
}

// Test 测试连接
func (s *SMTPSender) Test(ctx context.Context, config Config) error {
	client := NewClient(config)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if err := client.Noop(); err != nil {
		return fmt.Errorf("NOOP failed: %w", err)
	}
	return nil
}

// Send 发送邮件
func (s *SMTPSender) Send(ctx context.Context, config Config, message *Message) error {
	client := NewClient(config)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	return client.Send(message)
}

// MockSender 不连接网络的投递实现，测试或ENV=test时使用
type MockSender struct {
	Err      error
	Sent     []*Message
	Tested   []Config
	mutex    sync.Mutex
	logSends bool
}

// NewMockSender 创建模拟投递
func NewMockSender(logSends bool) *MockSender {
	return &MockSender{logSends: logSends}
}

// Test 记录测试请求
func (s *MockSender) Test(ctx context.Context, config Config) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Tested = append(s.Tested, config)
	return s.Err
}

// Send 记录邮件
func (s *MockSender) Send(ctx context.Context, config Config, message *Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.Err != nil {
		return s.Err
	}
	if _, err := message.Build(); err != nil {
		return err
	}
	s.Sent = append(s.Sent, message)
	if s.logSends {
		log.Printf("Mock delivery to %v via %s: %s", message.Recipients(), config.Address(), message.Subject)
	}
	return nil
}
