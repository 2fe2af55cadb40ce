package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/mailer"
	"mailwizz/internal/models"
	"mailwizz/internal/proxy"

	"github.com/emersion/go-message/mail"
	"gorm.io/gorm"
)

const serverUsageCacheTTL = 30 * time.Second

// DeliveryServerService 投递服务器管理和选择
type DeliveryServerService struct {
	db     *gorm.DB
	sender mailer.Sender
	quota  *QuotaService
	cache  cache.Cache
	proxy  *proxy.ProxyConfig

	now      func() time.Time
	rnd      *rand.Rand
	rndMutex sync.Mutex
}

// NewDeliveryServerService 创建投递服务器服务
func NewDeliveryServerService(db *gorm.DB, sender mailer.Sender, quota *QuotaService, cacheManager *cache.CacheManager, proxyConfig *proxy.ProxyConfig) *DeliveryServerService {
	if cacheManager == nil {
		cacheManager = cache.GlobalCacheManager
	}
	return &DeliveryServerService{
		db:     db,
		sender: sender,
		quota:  quota,
		cache:  cacheManager.ServerCache(),
		proxy:  proxyConfig,
		now:    time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ServerScope 服务器访问范围，CustomerID为nil表示管理员
type ServerScope struct {
	CustomerID *uint
}

func (sc ServerScope) apply(query *gorm.DB) *gorm.DB {
	if sc.CustomerID == nil {
		return query
	}
	return query.Where("customer_id = ?", *sc.CustomerID)
}

// ListServers 分页列出投递服务器
func (s *DeliveryServerService) ListServers(ctx context.Context, scope ServerScope, p Pagination) (*Page[models.DeliveryServer], error) {
	query := scope.apply(s.db.WithContext(ctx).Model(&models.DeliveryServer{})).Order("id DESC")
	page, err := paginate[models.DeliveryServer](query, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery servers: %w", err)
	}
	return page, nil
}

// GetServer 获取服务器及其域名策略
func (s *DeliveryServerService) GetServer(ctx context.Context, scope ServerScope, id uint) (*models.DeliveryServer, error) {
	var server models.DeliveryServer
	query := scope.apply(s.db.WithContext(ctx).Preload("DomainPolicies").Preload("CustomerGroups"))
	if err := query.First(&server, id).Error; err != nil {
		return nil, notFound(err, ErrDeliveryServerNotFound)
	}
	return &server, nil
}

// SaveServer 创建或更新服务器；客户不能修改被锁定的服务器
func (s *DeliveryServerService) SaveServer(ctx context.Context, scope ServerScope, server *models.DeliveryServer) error {
	if scope.CustomerID != nil {
		server.CustomerID = scope.CustomerID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if server.ID != 0 {
			var existing models.DeliveryServer
			if err := scope.apply(tx).First(&existing, server.ID).Error; err != nil {
				return notFound(err, ErrDeliveryServerNotFound)
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
		if server.BounceServerID != nil {
			var bounce models.BounceServer
			if err := scope.apply(tx).First(&bounce, *server.BounceServerID).Error; err != nil {
				return notFound(err, ErrBounceServerNotFound)
			}
		}
		return tx.Omit("CustomerGroups", "DomainPolicies", "UsageLogs", "Customer", "BounceServer").Save(server).Error
	})
}

// DeleteServer 删除服务器及其域名策略和分组关联
func (s *DeliveryServerService) DeleteServer(ctx context.Context, scope ServerScope, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var server models.DeliveryServer
		if err := scope.apply(tx).First(&server, id).Error; err != nil {
			return notFound(err, ErrDeliveryServerNotFound)
		}
		if server.Locked && scope.CustomerID != nil {
			return ErrServerLocked
		}
		if err := tx.Where("server_id = ?", id).Delete(&models.DeliveryServerDomainPolicy{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&server).Association("CustomerGroups").Clear(); err != nil {
			return err
		}
		// 用量日志仍计入客户配额，只解除和服务器的关联
		if err := tx.Model(&models.DeliveryServerUsageLog{}).Where("server_id = ?", id).UpdateColumn("server_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&server).Error
	})
}

// AddDomainPolicy 为服务器添加收件域名策略
func (s *DeliveryServerService) AddDomainPolicy(ctx context.Context, scope ServerScope, serverID uint, domain, policy string) (*models.DeliveryServerDomainPolicy, error) {
	if _, err := s.GetServer(ctx, scope, serverID); err != nil {
		return nil, err
	}
	item := &models.DeliveryServerDomainPolicy{ServerID: serverID, Domain: domain, Policy: policy}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteDomainPolicy 删除域名策略
func (s *DeliveryServerService) DeleteDomainPolicy(ctx context.Context, scope ServerScope, serverID, policyID uint) error {
	if _, err := s.GetServer(ctx, scope, serverID); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("id = ? AND server_id = ?", policyID, serverID).Delete(&models.DeliveryServerDomainPolicy{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("domain policy %d not found", policyID)
	}
	return nil
}

// AttachGroups 设置系统服务器可用的客户分组
func (s *DeliveryServerService) AttachGroups(ctx context.Context, serverID uint, groupIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var server models.DeliveryServer
		if err := tx.First(&server, serverID).Error; err != nil {
			return notFound(err, ErrDeliveryServerNotFound)
		}
		if !server.IsSystemServer() {
			return fmt.Errorf("customer servers cannot be attached to groups")
		}

		groups := make([]models.CustomerGroup, 0, len(groupIDs))
		if len(groupIDs) > 0 {
			if err := tx.Where("id IN ?", groupIDs).Find(&groups).Error; err != nil {
				return err
			}
			if len(groups) != len(groupIDs) {
				return ErrGroupNotFound
			}
		}
		return tx.Model(&server).Omit("CustomerGroups.*").Association("CustomerGroups").Replace(groups)
	})
}

// PickServer 为客户选择发送服务器：优先客户自己的服务器，其次分组允许的系统服务器
func (s *DeliveryServerService) PickServer(ctx context.Context, customer *models.Customer, toEmail, useFor string) (*models.DeliveryServer, error) {
	domain := emailDomain(toEmail)

	var candidates []models.DeliveryServer
	if customer != nil {
		owned, err := s.loadCandidates(ctx, s.db.WithContext(ctx).Where("customer_id = ?", customer.ID))
		if err != nil {
			return nil, err
		}
		candidates = s.usable(ctx, owned, domain, useFor)
	}

	if len(candidates) == 0 {
		system, err := s.systemServersFor(ctx, customer)
		if err != nil {
			return nil, err
		}
		candidates = s.usable(ctx, system, domain, useFor)
	}

	if len(candidates) == 0 {
		return nil, ErrNoDeliveryServer
	}
	return s.weightedPick(candidates), nil
}

// systemServersFor 分组关联了系统服务器时只使用这些服务器，否则使用全部系统服务器
func (s *DeliveryServerService) systemServersFor(ctx context.Context, customer *models.Customer) ([]models.DeliveryServer, error) {
	query := s.db.WithContext(ctx).Where("customer_id IS NULL")

	if customer != nil && customer.GroupID != nil {
		var attached int64
		err := s.db.WithContext(ctx).Table("delivery_server_to_customer_group").
			Where("customer_group_id = ?", *customer.GroupID).
			Count(&attached).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load group servers: %w", err)
		}
		if attached > 0 {
			query = query.Where("id IN (?)", s.db.Table("delivery_server_to_customer_group").
				Select("delivery_server_id").
				Where("customer_group_id = ?", *customer.GroupID))
		}
	}

	return s.loadCandidates(ctx, query)
}

func (s *DeliveryServerService) loadCandidates(ctx context.Context, query *gorm.DB) ([]models.DeliveryServer, error) {
	var servers []models.DeliveryServer
	err := query.Preload("DomainPolicies").
		Where("status IN ?", []string{models.DeliveryServerStatusActive, models.DeliveryServerStatusInUse}).
		Order("id ASC").
		Find(&servers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery servers: %w", err)
	}
	return servers, nil
}

// usable 过滤用途、域名策略和服务器配额
func (s *DeliveryServerService) usable(ctx context.Context, servers []models.DeliveryServer, domain, useFor string) []models.DeliveryServer {
	out := make([]models.DeliveryServer, 0, len(servers))
	for _, server := range servers {
		if !server.IsActive() || !server.CanBeUsedFor(useFor) {
			continue
		}
		if domain != "" && !domainAllowed(server.DomainPolicies, domain) {
			continue
		}
		ok, err := s.withinServerQuota(ctx, &server)
		if err != nil {
			log.Printf("Failed to check quota of delivery server %d: %v", server.ID, err)
			continue
		}
		if ok {
			out = append(out, server)
		}
	}
	return out
}

// domainAllowed 最具体的匹配策略生效，相同具体程度时deny优先；
// 没有匹配时，存在allow策略即表示只允许列出的域名
func domainAllowed(policies []models.DeliveryServerDomainPolicy, domain string) bool {
	var matched *models.DeliveryServerDomainPolicy
	hasAllow := false
	for i := range policies {
		policy := &policies[i]
		if policy.Policy == models.DomainPolicyAllow {
			hasAllow = true
		}
		if !policy.Matches(domain) {
			continue
		}
		if matched == nil || policySpecificity(policy) > policySpecificity(matched) ||
			(policySpecificity(policy) == policySpecificity(matched) && policy.Policy == models.DomainPolicyDeny) {
			matched = policy
		}
	}
	if matched != nil {
		return matched.Policy == models.DomainPolicyAllow
	}
	return !hasAllow
}

func policySpecificity(p *models.DeliveryServerDomainPolicy) int {
	if p.Domain == "*" {
		return 0
	}
	if strings.HasPrefix(p.Domain, "*") {
		return len(p.Domain)
	}
	// 精确域名比同长度的通配更具体
	return len(p.Domain) + 1000
}

// withinServerQuota 检查服务器的小时/天/月发送量，0表示不限制
func (s *DeliveryServerService) withinServerQuota(ctx context.Context, server *models.DeliveryServer) (bool, error) {
	now := s.now()
	limits := []struct {
		name  string
		limit int
		since time.Time
	}{
		{"hour", server.HourlyQuota, now.Truncate(time.Hour)},
		{"day", server.DailyQuota, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())},
		{"month", server.MonthlyQuota, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())},
	}

	for _, l := range limits {
		if l.limit <= 0 {
			continue
		}
		count, err := s.serverUsage(ctx, server.ID, l.name, l.since)
		if err != nil {
			return false, err
		}
		if count >= int64(l.limit) {
			return false, nil
		}
	}
	return true, nil
}

func serverUsageCacheKey(serverID uint, period string) string {
	return fmt.Sprintf("server:usage:%d:%s", serverID, period)
}

func (s *DeliveryServerService) serverUsage(ctx context.Context, serverID uint, period string, since time.Time) (int64, error) {
	key := serverUsageCacheKey(serverID, period)

	var cached cachedUsage
	if cache.Fetch(s.cache, key, &cached) && cached.Since.Equal(since) {
		return cached.Count, nil
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeliveryServerUsageLog{}).
		Where("server_id = ? AND created_at >= ?", serverID, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	cache.Store(s.cache, key, cachedUsage{Since: since, Count: count}, serverUsageCacheTTL)
	return count, nil
}

// weightedPick 按probability加权随机选择
func (s *DeliveryServerService) weightedPick(servers []models.DeliveryServer) *models.DeliveryServer {
	total := 0
	for _, server := range servers {
		total += server.Probability
	}

	s.rndMutex.Lock()
	n := s.rnd.Intn(total)
	s.rndMutex.Unlock()

	for i := range servers {
		n -= servers[i].Probability
		if n < 0 {
			return &servers[i]
		}
	}
	return &servers[len(servers)-1]
}

// LogUsage 记录一次投递，计入配额时清除客户的用量缓存
func (s *DeliveryServerService) LogUsage(ctx context.Context, server *models.DeliveryServer, customerID *uint, deliveryFor string, countable bool) error {
	entry := &models.DeliveryServerUsageLog{
		CustomerID:        customerID,
		DeliveryFor:       deliveryFor,
		CustomerCountable: countable && customerID != nil,
	}
	if server != nil {
		entry.ServerID = &server.ID
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log delivery server usage: %w", err)
	}

	if server != nil {
		for _, period := range []string{"hour", "day", "month"} {
			s.cache.Delete(serverUsageCacheKey(server.ID, period))
		}
	}
	if entry.CustomerCountable && s.quota != nil {
		s.quota.InvalidateUsage(*customerID)
	}
	return nil
}

// MailerConfig 由服务器设置生成SMTP连接配置
func (s *DeliveryServerService) MailerConfig(server *models.DeliveryServer) mailer.Config {
	return mailer.Config{
		Host:     server.Hostname,
		Port:     server.Port,
		Security: server.Protocol,
		Username: server.Username,
		Password: server.Password,
		Timeout:  time.Duration(server.Timeout) * time.Second,
		Proxy:    s.proxy,
	}
}

// TestConnection 测试SMTP服务器连接，成功后激活未启用的服务器
func (s *DeliveryServerService) TestConnection(ctx context.Context, scope ServerScope, id uint) error {
	server, err := s.GetServer(ctx, scope, id)
	if err != nil {
		return err
	}
	if server.Type != models.DeliveryServerTypeSMTP {
		return ErrUnsupportedServerType
	}

	if err := s.sender.Test(ctx, s.MailerConfig(server)); err != nil {
		return fmt.Errorf("connection to %s failed: %w", server.DisplayName(), err)
	}

	if server.Status == models.DeliveryServerStatusInactive {
		err := s.db.WithContext(ctx).Model(server).UpdateColumn("status", models.DeliveryServerStatusActive).Error
		if err != nil {
			return err
		}
		server.Status = models.DeliveryServerStatusActive
	}
	return nil
}

// SendTestEmail 通过指定服务器发送测试邮件
func (s *DeliveryServerService) SendTestEmail(ctx context.Context, scope ServerScope, id uint, to string) error {
	server, err := s.GetServer(ctx, scope, id)
	if err != nil {
		return err
	}
	if server.Type != models.DeliveryServerTypeSMTP {
		return ErrUnsupportedServerType
	}

	recipient, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	message := &mailer.Message{
		From:     &mail.Address{Name: server.FromName, Address: server.FromEmail},
		To:       []*mail.Address{recipient},
		Subject:  "Delivery server test message",
		TextBody: fmt.Sprintf("This is a test message sent through the delivery server %s.", server.DisplayName()),
	}
	if server.ReplyToEmail != "" {
		message.ReplyTo = &mail.Address{Address: server.ReplyToEmail}
	}
	for _, header := range server.Headers {
		message.Headers = append(message.Headers, mailer.Header{Name: header.Name, Value: header.Value})
	}

	if err := s.sender.Send(ctx, s.MailerConfig(server), message); err != nil {
		return fmt.Errorf("failed to send test email: %w", err)
	}
	return s.LogUsage(ctx, server, server.CustomerID, models.DeliveryForTest, false)
}
