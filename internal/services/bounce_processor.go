package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"mailwizz/internal/bounce"
	"mailwizz/internal/config"
	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"gorm.io/gorm"
)

// BounceProcessor 扫描退信邮箱并记录退信
type BounceProcessor interface {
	// StartScheduler 启动退信扫描调度器
	StartScheduler(ctx context.Context) error

	// StopScheduler 停止调度器
	StopScheduler()

	// ProcessAll 扫描所有启用的退信服务器
	ProcessAll(ctx context.Context) (*BounceRunResult, error)

	// ProcessServer 扫描单个退信服务器
	ProcessServer(ctx context.Context, server *models.BounceServer) (*BounceRunResult, error)

	// RecordBounce 保存一条已解析的退信
	RecordBounce(ctx context.Context, b *bounce.Bounce) (*models.CampaignBounceLog, error)
}

// BounceRunResult 一次扫描的结果
type BounceRunResult struct {
	Servers  int `json:"servers"`
	Messages int `json:"messages"`
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (r *BounceRunResult) add(other *BounceRunResult) {
	r.Servers += other.Servers
	r.Messages += other.Messages
	r.Recorded += other.Recorded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// BounceProcessorImpl 退信处理实现
type BounceProcessorImpl struct {
	db        *gorm.DB
	config    config.BounceConfig
	servers   *BounceServerService
	lists     *ListService
	publisher events.EventPublisher
	stopChan  chan struct{}
	ticker    *time.Ticker
}

// NewBounceProcessor 创建退信处理器
func NewBounceProcessor(db *gorm.DB, cfg config.BounceConfig, servers *BounceServerService, lists *ListService, publisher events.EventPublisher) *BounceProcessorImpl {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &BounceProcessorImpl{
		db:        db,
		config:    cfg,
		servers:   servers,
		lists:     lists,
		publisher: publisher,
		stopChan:  make(chan struct{}),
	}
}

// StartScheduler 启动退信扫描调度器
func (p *BounceProcessorImpl) StartScheduler(ctx context.Context) error {
	log.Printf("Starting bounce processing service (interval %s)...", p.config.Interval)

	p.ticker = time.NewTicker(p.config.Interval)

	go func() {
		for {
			select {
			case <-p.ticker.C:
				if _, err := p.ProcessAll(ctx); err != nil {
					log.Printf("Failed to process bounce servers: %v", err)
				}
			case <-p.stopChan:
				log.Println("Stopping bounce processing service...")
				return
			case <-ctx.Done():
				log.Println("Context cancelled, stopping bounce processing service...")
				return
			}
		}
	}()

	return nil
}

// StopScheduler 停止调度器
func (p *BounceProcessorImpl) StopScheduler() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.stopChan)
}

// ProcessAll 依次扫描启用的IMAP退信服务器，单个服务器失败不影响其他服务器
func (p *BounceProcessorImpl) ProcessAll(ctx context.Context) (*BounceRunResult, error) {
	var servers []models.BounceServer
	err := p.db.WithContext(ctx).
		Where("status = ? AND service = ?", models.BounceServerStatusActive, models.BounceServiceIMAP).
		Order("id ASC").
		Find(&servers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load bounce servers: %w", err)
	}

	total := &BounceRunResult{}
	if len(servers) == 0 {
		return total, nil
	}

	log.Printf("Processing %d bounce servers", len(servers))

	for i := range servers {
		result, err := p.ProcessServer(ctx, &servers[i])
		if err != nil {
			log.Printf("Failed to process bounce server %d (%s): %v", servers[i].ID, servers[i].Address(), err)
			total.Failed++
			continue
		}
		total.add(result)
	}

	log.Printf("Bounce processing done: %d messages, %d recorded, %d skipped", total.Messages, total.Recorded, total.Skipped)
	return total, nil
}

// ProcessServer 扫描未读邮件，处理后标记已读，配置了删除时删除邮件
func (p *BounceProcessorImpl) ProcessServer(ctx context.Context, server *models.BounceServer) (*BounceRunResult, error) {
	// 扫描期间标记为运行中，避免重复扫描
	claim := p.db.WithContext(ctx).Model(&models.BounceServer{}).
		Where("id = ? AND status = ?", server.ID, models.BounceServerStatusActive).
		UpdateColumn("status", models.BounceServerStatusCronRun)
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return &BounceRunResult{}, nil
	}
	defer func() {
		err := p.db.WithContext(context.Background()).Model(&models.BounceServer{}).
			Where("id = ? AND status = ?", server.ID, models.BounceServerStatusCronRun).
			UpdateColumn("status", models.BounceServerStatusActive).Error
		if err != nil {
			log.Printf("Failed to release bounce server %d: %v", server.ID, err)
		}
	}()

	box, err := p.servers.open(ctx, server)
	if err != nil {
		return nil, err
	}
	defer box.Close()

	uids, err := box.Unseen(p.config.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &BounceRunResult{Servers: 1}
	if len(uids) == 0 {
		return result, nil
	}

	handled := make([]uint32, 0, len(uids))
	err = box.Fetch(uids, func(uid uint32, body io.Reader) error {
		result.Messages++
		handled = append(handled, uid)

		parsed, err := bounce.ParseBounce(body)
		if err != nil {
			log.Printf("Failed to parse bounce message %d on server %d: %v", uid, server.ID, err)
			result.Skipped++
			return nil
		}
		if _, err := p.RecordBounce(ctx, parsed); err != nil {
			if !errors.Is(err, bounce.ErrNotIdentified) && !errors.Is(err, ErrCampaignNotFound) && !errors.Is(err, ErrSubscriberNotFound) {
				return err
			}
			result.Skipped++
			return nil
		}
		result.Recorded++
		return nil
	})
	if err != nil {
		return result, err
	}

	if server.DeleteAllMessages {
		err = box.Delete(handled)
	} else {
		err = box.MarkSeen(handled)
	}
	return result, err
}

// RecordBounce 保存退信日志，硬退信时将订阅者加入黑名单
func (p *BounceProcessorImpl) RecordBounce(ctx context.Context, b *bounce.Bounce) (*models.CampaignBounceLog, error) {
	if !b.Identified() {
		return nil, bounce.ErrNotIdentified
	}

	var campaign models.Campaign
	if err := p.db.WithContext(ctx).Where("campaign_uid = ?", b.CampaignUID).First(&campaign).Error; err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}

	var subscriber models.ListSubscriber
	err := p.db.WithContext(ctx).
		Where("subscriber_uid = ? AND list_id = ?", b.SubscriberUID, campaign.ListID).
		First(&subscriber).Error
	if err != nil {
		return nil, notFound(err, ErrSubscriberNotFound)
	}

	entry := &models.CampaignBounceLog{
		CampaignID:   campaign.ID,
		SubscriberID: subscriber.ID,
		Message:      b.Message(),
		BounceType:   b.Type,
		Processed:    b.Type != models.BounceTypeHard,
	}
	if err := p.db.WithContext(ctx).Omit("Campaign", "Subscriber").Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to save bounce log: %w", err)
	}

	// 硬退信在订阅者加入黑名单后才算处理完成
	if b.Type == models.BounceTypeHard && p.blacklist(ctx, &subscriber) {
		entry.Processed = true
		if err := p.db.WithContext(ctx).Model(entry).UpdateColumn("processed", true).Error; err != nil {
			log.Printf("Failed to mark bounce log %d processed: %v", entry.ID, err)
		}
	}

	events.PublishQuietly(ctx, p.publisher, events.NewEvent(events.EventCampaignBounced, campaign.CustomerID, events.BounceEventData{
		CampaignUID:   campaign.CampaignUID,
		SubscriberUID: subscriber.SubscriberUID,
		BounceType:    b.Type,
	}))
	return entry, nil
}

func (p *BounceProcessorImpl) blacklist(ctx context.Context, subscriber *models.ListSubscriber) bool {
	if p.lists == nil {
		return false
	}
	var list models.List
	if err := p.db.WithContext(ctx).First(&list, subscriber.ListID).Error; err != nil {
		log.Printf("Failed to load list of subscriber %s: %v", subscriber.SubscriberUID, err)
		return false
	}
	err := p.lists.Blacklist(ctx, &list, subscriber)
	if err != nil && !errors.Is(err, ErrInvalidStatusTransition) {
		log.Printf("Failed to blacklist subscriber %s: %v", subscriber.SubscriberUID, err)
		return false
	}
	return true
}
