package services

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"gorm.io/gorm"
)

// TrackingService 记录打开和点击
type TrackingService struct {
	db        *gorm.DB
	webhooks  WebhookService
	publisher events.EventPublisher
}

// NewTrackingService 创建追踪服务
func NewTrackingService(db *gorm.DB, webhooks WebhookService, publisher events.EventPublisher) *TrackingService {
	return &TrackingService{db: db, webhooks: webhooks, publisher: publisher}
}

// TrackRequest 追踪请求的来源信息
type TrackRequest struct {
	CampaignUID   string
	SubscriberUID string
	IPAddress     string
	UserAgent     string
}

// WebhookPayload 投递给webhook的数据
type WebhookPayload struct {
	Event      string            `json:"event"`
	Campaign   WebhookCampaign   `json:"campaign"`
	Subscriber WebhookSubscriber `json:"subscriber"`
	URL        string            `json:"url,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// WebhookCampaign webhook数据中的活动信息
type WebhookCampaign struct {
	UID  string `json:"campaign_uid"`
	Name string `json:"name"`
}

// WebhookSubscriber webhook数据中的订阅者信息
type WebhookSubscriber struct {
	UID   string `json:"subscriber_uid"`
	Email string `json:"email"`
}

// resolve 查找活动和属于活动列表的订阅者
func (s *TrackingService) resolve(ctx context.Context, req *TrackRequest) (*models.Campaign, *models.ListSubscriber, error) {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).Preload("Option").Where("campaign_uid = ?", req.CampaignUID).First(&campaign).Error; err != nil {
		return nil, nil, notFound(err, ErrCampaignNotFound)
	}

	var subscriber models.ListSubscriber
	err := s.db.WithContext(ctx).
		Where("subscriber_uid = ? AND list_id = ?", req.SubscriberUID, campaign.ListID).
		First(&subscriber).Error
	if err != nil {
		return nil, nil, notFound(err, ErrSubscriberNotFound)
	}
	return &campaign, &subscriber, nil
}

// validIP 只保存合法的IP地址
func validIP(ip string) string {
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

// TrackOpen 记录打开，活动关闭了打开追踪时忽略
func (s *TrackingService) TrackOpen(ctx context.Context, req *TrackRequest) error {
	campaign, subscriber, err := s.resolve(ctx, req)
	if err != nil {
		return err
	}
	if campaign.Option != nil && !campaign.Option.OpenTracking {
		return nil
	}

	open := &models.CampaignTrackOpen{
		CampaignID:   campaign.ID,
		SubscriberID: subscriber.ID,
		IPAddress:    validIP(req.IPAddress),
		UserAgent:    req.UserAgent,
	}
	if err := s.db.WithContext(ctx).Omit("Campaign", "Subscriber").Create(open).Error; err != nil {
		return fmt.Errorf("failed to record open: %w", err)
	}

	s.notify(ctx, campaign, subscriber, models.WebhookEventOpen, "", "", open.IPAddress, open.UserAgent)
	return nil
}

// TrackClick 记录点击并返回跳转地址
func (s *TrackingService) TrackClick(ctx context.Context, req *TrackRequest, hash string) (string, error) {
	campaign, subscriber, err := s.resolve(ctx, req)
	if err != nil {
		return "", err
	}

	var campaignURL models.CampaignURL
	if err := s.db.WithContext(ctx).Where("campaign_id = ? AND hash = ?", campaign.ID, hash).First(&campaignURL).Error; err != nil {
		return "", notFound(err, ErrURLNotFound)
	}
	if campaign.Option != nil && !campaign.Option.URLTracking {
		return campaignURL.Destination, nil
	}

	click := &models.CampaignTrackURL{
		URLID:        campaignURL.ID,
		SubscriberID: subscriber.ID,
		IPAddress:    validIP(req.IPAddress),
		UserAgent:    req.UserAgent,
	}
	if err := s.db.WithContext(ctx).Omit("URL", "Subscriber").Create(click).Error; err != nil {
		return "", fmt.Errorf("failed to record click: %w", err)
	}

	s.notify(ctx, campaign, subscriber, models.WebhookEventClick, hash, campaignURL.Destination, click.IPAddress, click.UserAgent)
	return campaignURL.Destination, nil
}

// notify 加入webhook队列并发布事件，失败只记录日志
func (s *TrackingService) notify(ctx context.Context, campaign *models.Campaign, subscriber *models.ListSubscriber, event, hash, destination, ip, userAgent string) {
	payload := WebhookPayload{
		Event:      event,
		Campaign:   WebhookCampaign{UID: campaign.CampaignUID, Name: campaign.Name},
		Subscriber: WebhookSubscriber{UID: subscriber.SubscriberUID, Email: subscriber.Email},
		URL:        destination,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Timestamp:  time.Now(),
	}
	if s.webhooks != nil {
		if _, err := s.webhooks.Enqueue(ctx, campaign.ID, event, hash, payload); err != nil {
			log.Printf("Failed to enqueue %s webhooks for campaign %s: %v", event, campaign.CampaignUID, err)
		}
	}

	eventType := events.EventCampaignOpened
	if event == models.WebhookEventClick {
		eventType = events.EventCampaignClicked
	}
	events.PublishQuietly(ctx, s.publisher, events.NewEvent(eventType, campaign.CustomerID, events.TrackingEventData{
		CampaignUID:   campaign.CampaignUID,
		SubscriberUID: subscriber.SubscriberUID,
		URL:           destination,
		IPAddress:     ip,
	}))
}
