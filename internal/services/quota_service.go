package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"gorm.io/gorm"
)

// QuotaStatus 客户当前配额周期的状态
type QuotaStatus struct {
	CustomerID  uint       `json:"customer_id"`
	Unlimited   bool       `json:"unlimited"`
	Quota       int        `json:"quota"`
	Usage       int64      `json:"usage"`
	Remaining   int64      `json:"remaining"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	WaitExpire  bool       `json:"wait_expire"`
	OverQuota   bool       `json:"over_quota"`
}

// QuotaService 客户发送配额
type QuotaService struct {
	db        *gorm.DB
	cache     cache.Cache
	publisher events.EventPublisher
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewQuotaService 创建配额服务
func NewQuotaService(db *gorm.DB, cacheManager *cache.CacheManager, publisher events.EventPublisher, cacheTTL time.Duration) *QuotaService {
	if cacheManager == nil {
		cacheManager = cache.GlobalCacheManager
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &QuotaService{
		db:        db,
		cache:     cacheManager.QuotaCache(),
		publisher: publisher,
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

func usageCacheKey(customerID uint) string {
	return fmt.Sprintf("quota:usage:%d", customerID)
}

// GetQuotaStatus 计算配额状态，周期过期（或达到配额且不等待过期）时开启新的周期
func (s *QuotaService) GetQuotaStatus(ctx context.Context, customerID uint) (*QuotaStatus, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).Preload("Group").First(&customer, customerID).Error; err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}

	status := &QuotaStatus{CustomerID: customerID, Quota: models.Unlimited, Unlimited: true}
	group := customer.Group
	if group == nil || group.HasUnlimitedQuota() {
		return status, nil
	}
	status.Unlimited = false
	status.Quota = group.Quota
	status.WaitExpire = group.QuotaWaitExpire

	mark, err := s.currentMark(ctx, customerID)
	if err != nil {
		return nil, err
	}
	usage, err := s.usageSince(ctx, customerID, mark.CreatedAt)
	if err != nil {
		return nil, err
	}

	window := group.QuotaWindow()
	now := s.now()
	expired := window > 0 && now.Sub(mark.CreatedAt) >= window
	reached := usage >= int64(group.Quota)
	if expired || (reached && !group.QuotaWaitExpire) {
		if mark, err = s.createMark(ctx, customerID); err != nil {
			return nil, err
		}
		usage = 0
	}

	status.Usage = usage
	status.WindowStart = mark.CreatedAt
	if window > 0 {
		end := mark.CreatedAt.Add(window)
		status.WindowEnd = &end
	}
	status.Remaining = int64(group.Quota) - usage
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	status.OverQuota = status.Remaining == 0
	return status, nil
}

// CheckQuota 检查客户是否还能发送count封邮件
func (s *QuotaService) CheckQuota(ctx context.Context, customerID uint, count int) error {
	status, err := s.GetQuotaStatus(ctx, customerID)
	if err != nil {
		return err
	}
	if status.Unlimited || status.Remaining >= int64(count) {
		return nil
	}

	if s.publisher != nil {
		events.PublishQuietly(ctx, s.publisher, events.NewEvent(events.EventCustomerQuotaReached, customerID, status))
	}
	return ErrOverQuota
}

// ResetQuota 立即开启新的配额周期
func (s *QuotaService) ResetQuota(ctx context.Context, customerID uint) error {
	if err := s.db.WithContext(ctx).First(&models.Customer{}, customerID).Error; err != nil {
		return notFound(err, ErrCustomerNotFound)
	}
	if _, err := s.createMark(ctx, customerID); err != nil {
		return err
	}
	log.Printf("Quota reset for customer %d", customerID)
	return nil
}

// InvalidateUsage 记录用量后清除缓存的用量统计
func (s *QuotaService) InvalidateUsage(customerID uint) {
	s.cache.Delete(usageCacheKey(customerID))
}

// currentMark 最近的配额周期起点，没有时创建
func (s *QuotaService) currentMark(ctx context.Context, customerID uint) (*models.CustomerQuotaMark, error) {
	var mark models.CustomerQuotaMark
	err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at DESC, id DESC").First(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.createMark(ctx, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota mark: %w", err)
	}
	return &mark, nil
}

func (s *QuotaService) createMark(ctx context.Context, customerID uint) (*models.CustomerQuotaMark, error) {
	mark := &models.CustomerQuotaMark{CustomerID: customerID, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(mark).Error; err != nil {
		return nil, fmt.Errorf("failed to create quota mark: %w", err)
	}
	s.InvalidateUsage(customerID)
	return mark, nil
}

type cachedUsage struct {
	Since time.Time `json:"since"`
	Count int64     `json:"count"`
}

// usageSince 周期内计入配额的发送量
func (s *QuotaService) usageSince(ctx context.Context, customerID uint, since time.Time) (int64, error) {
	key := usageCacheKey(customerID)

	var cached cachedUsage
	if cache.Fetch(s.cache, key, &cached) && cached.Since.Equal(since) {
		return cached.Count, nil
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeliveryServerUsageLog{}).
		Where("customer_id = ? AND customer_countable = ? AND created_at >= ?", customerID, true, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count quota usage: %w", err)
	}

	cache.Store(s.cache, key, cachedUsage{Since: since, Count: count}, s.cacheTTL)
	return count, nil
}
