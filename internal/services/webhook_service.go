package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"mailwizz/internal/config"
	"mailwizz/internal/models"

	"github.com/sony/gobreaker"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookService 活动webhook管理和投递队列
type WebhookService interface {
	// StartScheduler 启动队列投递调度器
	StartScheduler(ctx context.Context) error

	// StopScheduler 停止调度器
	StopScheduler()

	// ProcessQueue 投递到期的队列项
	ProcessQueue(ctx context.Context) (*WebhookRunResult, error)

	// Enqueue 为活动的匹配webhook加入队列，返回加入的数量
	Enqueue(ctx context.Context, campaignID uint, event, urlHash string, payload interface{}) (int, error)

	ListWebhooks(ctx context.Context, campaignID uint) ([]models.CampaignWebhook, error)
	CreateWebhook(ctx context.Context, webhook *models.CampaignWebhook) error
	DeleteWebhook(ctx context.Context, campaignID, webhookID uint) error
	QueueSize(ctx context.Context) (int64, error)
}

// WebhookRunResult 一次队列处理的结果
type WebhookRunResult struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Dropped   int `json:"dropped"`
}

// WebhookServiceImpl webhook服务实现
type WebhookServiceImpl struct {
	db       *gorm.DB
	config   config.WebhookConfig
	client   *http.Client
	stopChan chan struct{}
	ticker   *time.Ticker
	now      func() time.Time

	breakers      map[string]*gobreaker.CircuitBreaker
	breakersMutex sync.Mutex
}

// NewWebhookService 创建webhook服务
func NewWebhookService(db *gorm.DB, cfg config.WebhookConfig) *WebhookServiceImpl {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &WebhookServiceImpl{
		db:       db,
		config:   cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		stopChan: make(chan struct{}),
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// StartScheduler 启动队列投递调度器
func (s *WebhookServiceImpl) StartScheduler(ctx context.Context) error {
	log.Printf("Starting webhook queue service (interval %s)...", s.config.Interval)

	s.ticker = time.NewTicker(s.config.Interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if _, err := s.ProcessQueue(ctx); err != nil {
					log.Printf("Failed to process webhook queue: %v", err)
				}
			case <-s.stopChan:
				log.Println("Stopping webhook queue service...")
				return
			case <-ctx.Done():
				log.Println("Context cancelled, stopping webhook queue service...")
				return
			}
		}
	}()

	return nil
}

// StopScheduler 停止调度器
func (s *WebhookServiceImpl) StopScheduler() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)
}

// ListWebhooks 活动的webhook
func (s *WebhookServiceImpl) ListWebhooks(ctx context.Context, campaignID uint) ([]models.CampaignWebhook, error) {
	var webhooks []models.CampaignWebhook
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("id ASC").Find(&webhooks).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return webhooks, nil
}

// CreateWebhook 创建webhook，点击webhook指定的链接必须属于该活动
func (s *WebhookServiceImpl) CreateWebhook(ctx context.Context, webhook *models.CampaignWebhook) error {
	if webhook.Event == models.WebhookEventClick && webhook.TrackURLHash != "" {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.CampaignURL{}).
			Where("campaign_id = ? AND hash = ?", webhook.CampaignID, webhook.TrackURLHash).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrURLNotFound
		}
	}
	return s.db.WithContext(ctx).Omit("Campaign", "Queue").Create(webhook).Error
}

// DeleteWebhook 删除webhook及其队列
func (s *WebhookServiceImpl) DeleteWebhook(ctx context.Context, campaignID, webhookID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var webhook models.CampaignWebhook
		if err := tx.Where("id = ? AND campaign_id = ?", webhookID, campaignID).First(&webhook).Error; err != nil {
			return notFound(err, ErrWebhookNotFound)
		}
		if err := tx.Where("webhook_id = ?", webhook.ID).Delete(&models.CampaignWebhookQueue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&webhook).Error
	})
}

// Enqueue 为活动的匹配webhook加入队列
func (s *WebhookServiceImpl) Enqueue(ctx context.Context, campaignID uint, event, urlHash string, payload interface{}) (int, error) {
	var webhooks []models.CampaignWebhook
	if err := s.db.WithContext(ctx).Where("campaign_id = ? AND event = ?", campaignID, event).Find(&webhooks).Error; err != nil {
		return 0, fmt.Errorf("failed to load webhooks: %w", err)
	}
	if len(webhooks) == 0 {
		return 0, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	queued := 0
	for _, webhook := range webhooks {
		if event == models.WebhookEventClick && !webhook.MatchesURL(urlHash) {
			continue
		}
		item := &models.CampaignWebhookQueue{WebhookID: webhook.ID, Payload: datatypes.JSON(data)}
		if err := s.db.WithContext(ctx).Omit("Webhook").Create(item).Error; err != nil {
			return queued, fmt.Errorf("failed to enqueue webhook %d: %w", webhook.ID, err)
		}
		queued++
	}
	return queued, nil
}

// QueueSize 队列中等待投递的数量
func (s *WebhookServiceImpl) QueueSize(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CampaignWebhookQueue{}).Count(&count).Error
	return count, err
}

// ProcessQueue 投递到期的队列项：2xx删除，失败按重试次数的平方分钟后重试，超过最大重试次数后丢弃
func (s *WebhookServiceImpl) ProcessQueue(ctx context.Context) (*WebhookRunResult, error) {
	var items []models.CampaignWebhookQueue
	err := s.db.WithContext(ctx).Preload("Webhook").
		Where("next_retry <= ?", s.now()).
		Order("next_retry ASC, id ASC").
		Limit(s.config.BatchSize).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook queue: %w", err)
	}

	result := &WebhookRunResult{}
	if len(items) == 0 {
		return result, nil
	}

	log.Printf("Processing %d webhook queue items", len(items))

	for i := range items {
		item := &items[i]
		if item.Webhook == nil {
			if err := s.db.WithContext(ctx).Delete(item).Error; err != nil {
				log.Printf("Failed to remove orphaned webhook queue item %d: %v", item.ID, err)
			}
			result.Dropped++
			continue
		}

		deliverErr := s.deliver(ctx, item.Webhook.WebhookURL, item.Payload)
		if deliverErr == nil {
			if err := s.db.WithContext(ctx).Delete(item).Error; err != nil {
				log.Printf("Failed to remove delivered webhook queue item %d: %v", item.ID, err)
			}
			result.Delivered++
			continue
		}

		retries := item.RetryCount + 1
		if retries > s.config.MaxRetries {
			log.Printf("Dropping webhook queue item %d after %d attempts: %v", item.ID, retries, deliverErr)
			if err := s.db.WithContext(ctx).Delete(item).Error; err != nil {
				log.Printf("Failed to remove webhook queue item %d: %v", item.ID, err)
			}
			result.Dropped++
			continue
		}

		err := s.db.WithContext(ctx).Model(item).UpdateColumns(map[string]interface{}{
			"retry_count": retries,
			"next_retry":  s.now().Add(retryDelay(retries)),
			"last_error":  truncateError(deliverErr),
			"updated_at":  s.now(),
		}).Error
		if err != nil {
			log.Printf("Failed to reschedule webhook queue item %d: %v", item.ID, err)
		}
		result.Retried++
	}

	log.Printf("Webhook queue processed: %d delivered, %d retried, %d dropped", result.Delivered, result.Retried, result.Dropped)
	return result, nil
}

const maxErrorLength = 255

// retryDelay 第n次重试前等待n²分钟
func retryDelay(retries int) time.Duration {
	return time.Duration(retries*retries) * time.Minute
}

// truncateError 按字符截断，不拆开多字节字符
func truncateError(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLength {
		return msg
	}
	return string([]rune(msg)[:maxErrorLength])
}

// deliver 通过目标主机的熔断器POST JSON
func (s *WebhookServiceImpl) deliver(ctx context.Context, target string, payload []byte) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}

	_, err = s.breaker(u.Host).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "MailWizz Webhook")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook responded with status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// breaker 每个主机一个熔断器，连续失败5次后暂停请求该主机
func (s *WebhookServiceImpl) breaker(host string) *gobreaker.CircuitBreaker {
	s.breakersMutex.Lock()
	defer s.breakersMutex.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook:" + host,
		Timeout: s.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
	s.breakers[host] = cb
	return cb
}
