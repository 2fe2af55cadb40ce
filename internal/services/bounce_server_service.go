package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"mailwizz/internal/bounce"
	"mailwizz/internal/models"
	"mailwizz/internal/proxy"

	"gorm.io/gorm"
)

// BounceServerService 退信服务器管理
type BounceServerService struct {
	db      *gorm.DB
	proxy   *proxy.ProxyConfig
	timeout time.Duration
	dial    func(ctx context.Context, config bounce.MailboxConfig) (mailbox, error)
}

// mailbox 退信邮箱的操作，由bounce.Mailbox实现
type mailbox interface {
	Select() error
	Unseen(limit int) ([]uint32, error)
	Fetch(uids []uint32, fn func(uid uint32, body io.Reader) error) error
	MarkSeen(uids []uint32) error
	Delete(uids []uint32) error
	Close() error
}

func dialMailbox(ctx context.Context, config bounce.MailboxConfig) (mailbox, error) {
	return bounce.Dial(ctx, config)
}

// NewBounceServerService 创建退信服务器服务
func NewBounceServerService(db *gorm.DB, proxyCfg *proxy.ProxyConfig, timeout time.Duration) *BounceServerService {
	return &BounceServerService{db: db, proxy: proxyCfg, timeout: timeout, dial: dialMailbox}
}

// ListServers 分页列出退信服务器
func (s *BounceServerService) ListServers(ctx context.Context, scope ServerScope, p Pagination) (*Page[models.BounceServer], error) {
	query := scope.apply(s.db.WithContext(ctx).Model(&models.BounceServer{})).Order("id DESC")
	page, err := paginate[models.BounceServer](query, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list bounce servers: %w", err)
	}
	return page, nil
}

// GetServer 获取退信服务器
func (s *BounceServerService) GetServer(ctx context.Context, scope ServerScope, id uint) (*models.BounceServer, error) {
	var server models.BounceServer
	if err := scope.apply(s.db.WithContext(ctx)).First(&server, id).Error; err != nil {
		return nil, notFound(err, ErrBounceServerNotFound)
	}
	return &server, nil
}

// SaveServer 创建或更新退信服务器；客户不能修改被锁定的服务器
func (s *BounceServerService) SaveServer(ctx context.Context, scope ServerScope, server *models.BounceServer) error {
	if scope.CustomerID != nil {
		server.CustomerID = scope.CustomerID
	}

	if server.ID != 0 {
		existing, err := s.GetServer(ctx, scope, server.ID)
		if err != nil {
			return err
		}
		if existing.Locked && scope.CustomerID != nil {
			return ErrServerLocked
		}
		if server.Password == "" {
			server.Password = existing.Password
		}
		if scope.CustomerID != nil {
			server.Locked = existing.Locked
		}
	}
	return s.db.WithContext(ctx).Omit("Customer", "DeliveryServers").Save(server).Error
}

// DeleteServer 删除退信服务器并解除投递服务器的关联
func (s *BounceServerService) DeleteServer(ctx context.Context, scope ServerScope, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var server models.BounceServer
		if err := scope.apply(tx).First(&server, id).Error; err != nil {
			return notFound(err, ErrBounceServerNotFound)
		}
		if server.Locked && scope.CustomerID != nil {
			return ErrServerLocked
		}
		err := tx.Model(&models.DeliveryServer{}).Where("bounce_server_id = ?", id).UpdateColumn("bounce_server_id", nil).Error
		if err != nil {
			return err
		}
		return tx.Delete(&server).Error
	})
}

// MailboxConfig 退信服务器的连接配置
func (s *BounceServerService) MailboxConfig(server *models.BounceServer) bounce.MailboxConfig {
	return bounce.MailboxConfig{
		Host:        server.Hostname,
		Port:        server.Port,
		Username:    server.Username,
		Password:    server.Password,
		Security:    server.Protocol,
		ValidateSSL: server.ValidateSSL,
		Mailbox:     server.MailboxName(),
		Timeout:     s.timeout,
		Proxy:       s.proxy,
	}
}

// open 连接服务器并选择邮箱目录
func (s *BounceServerService) open(ctx context.Context, server *models.BounceServer) (mailbox, error) {
	if server.Service != models.BounceServiceIMAP {
		return nil, ErrUnsupportedServerType
	}
	box, err := s.dial(ctx, s.MailboxConfig(server))
	if err != nil {
		return nil, err
	}
	if err := box.Select(); err != nil {
		box.Close()
		return nil, err
	}
	return box, nil
}

// TestConnection 连接并登录退信服务器，成功后激活未启用的服务器
func (s *BounceServerService) TestConnection(ctx context.Context, scope ServerScope, id uint) error {
	server, err := s.GetServer(ctx, scope, id)
	if err != nil {
		return err
	}

	box, err := s.open(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", server.Address(), err)
	}
	box.Close()

	if server.Status == models.BounceServerStatusInactive {
		return s.db.WithContext(ctx).Model(server).UpdateColumn("status", models.BounceServerStatusActive).Error
	}
	return nil
}
