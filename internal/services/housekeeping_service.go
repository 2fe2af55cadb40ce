package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"mailwizz/internal/config"
	"mailwizz/internal/database"
	"mailwizz/internal/models"

	"gorm.io/gorm"
)

// HousekeepingOptionCategory 清理设置的选项分类，值覆盖配置文件
const HousekeepingOptionCategory = "system.cron.housekeeping"

// HousekeepingService 定期清理过期数据
type HousekeepingService interface {
	// StartScheduler 启动清理调度器
	StartScheduler(ctx context.Context) error

	// StopScheduler 停止调度器
	StopScheduler()

	// RunOnce 执行一次完整清理
	RunOnce(ctx context.Context) (*HousekeepingResult, error)
}

// HousekeepingResult 各类数据的清理数量
type HousekeepingResult struct {
	UnconfirmedSubscribers  int64 `json:"unconfirmed_subscribers"`
	UnsubscribedSubscribers int64 `json:"unsubscribed_subscribers"`
	ListMoves               int64 `json:"list_moves"`
	DeliveryLogs            int64 `json:"delivery_logs"`
	UsageLogs               int64 `json:"usage_logs"`
	TrackingLogs            int64 `json:"tracking_logs"`
	BounceLogs              int64 `json:"bounce_logs"`
	WebhookQueue            int64 `json:"webhook_queue"`
	Responders              int64 `json:"responders"`
	Customers               int64 `json:"customers"`
	Lists                   int64 `json:"lists"`
	Campaigns               int64 `json:"campaigns"`
	Surveys                 int64 `json:"surveys"`
}

// Total 清理总数
func (r *HousekeepingResult) Total() int64 {
	return r.UnconfirmedSubscribers + r.UnsubscribedSubscribers + r.ListMoves + r.DeliveryLogs +
		r.UsageLogs + r.TrackingLogs + r.BounceLogs + r.WebhookQueue + r.Responders +
		r.Customers + r.Lists + r.Campaigns + r.Surveys
}

// HousekeepingServiceImpl 清理服务实现
type HousekeepingServiceImpl struct {
	db       *gorm.DB
	config   config.HousekeepingConfig
	options  *OptionService
	stopChan chan struct{}
	ticker   *time.Ticker
	now      func() time.Time
}

// NewHousekeepingService 创建清理服务
func NewHousekeepingService(db *gorm.DB, cfg config.HousekeepingConfig, options *OptionService) *HousekeepingServiceImpl {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &HousekeepingServiceImpl{
		db:       db,
		config:   cfg,
		options:  options,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// StartScheduler 启动清理调度器
func (s *HousekeepingServiceImpl) StartScheduler(ctx context.Context) error {
	log.Printf("Starting housekeeping service (interval %s)...", s.config.Interval)

	s.ticker = time.NewTicker(s.config.Interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					log.Printf("Housekeeping failed: %v", err)
				}
			case <-s.stopChan:
				log.Println("Stopping housekeeping service...")
				return
			case <-ctx.Done():
				log.Println("Context cancelled, stopping housekeeping service...")
				return
			}
		}
	}()

	return nil
}

// StopScheduler 停止调度器
func (s *HousekeepingServiceImpl) StopScheduler() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)
}

// retention 读取保留天数，选项优先于配置
func (s *HousekeepingServiceImpl) retention(ctx context.Context, key string, fallback int) int {
	if s.options == nil {
		return fallback
	}
	return s.options.GetInt(ctx, HousekeepingOptionCategory, key, fallback)
}

// cutoff 天数为0时返回false表示不清理
func (s *HousekeepingServiceImpl) cutoff(ctx context.Context, key string, fallback int) (time.Time, bool) {
	days := s.retention(ctx, key, fallback)
	if days <= 0 {
		return time.Time{}, false
	}
	return s.now().AddDate(0, 0, -days), true
}

// RunOnce 执行一次完整清理，先删除待删除的客户、列表、活动和调查，然后清理过期日志
func (s *HousekeepingServiceImpl) RunOnce(ctx context.Context) (*HousekeepingResult, error) {
	log.Printf("Running housekeeping (batch size %d)", s.config.BatchSize)

	result := &HousekeepingResult{}
	var err error

	if result.Customers, err = s.purgeEntities(ctx, &models.Customer{}, "status = ?", []interface{}{models.CustomerStatusPendingDelete}, s.purgeCustomers); err != nil {
		return result, fmt.Errorf("failed to purge customers: %w", err)
	}
	if result.Lists, err = s.purgeEntities(ctx, &models.List{}, "status = ?", []interface{}{models.ListStatusPendingDelete}, s.purgeLists); err != nil {
		return result, fmt.Errorf("failed to purge lists: %w", err)
	}
	if result.Campaigns, err = s.purgeEntities(ctx, &models.Campaign{}, "status = ?", []interface{}{models.CampaignStatusPendingDelete}, s.purgeCampaigns); err != nil {
		return result, fmt.Errorf("failed to purge campaigns: %w", err)
	}
	if result.Surveys, err = s.purgeEntities(ctx, &models.Survey{}, "status = ?", []interface{}{models.SurveyStatusPendingDelete}, s.purgeSurveys); err != nil {
		return result, fmt.Errorf("failed to purge surveys: %w", err)
	}

	if before, ok := s.cutoff(ctx, "unconfirmed_days", s.config.UnconfirmedDays); ok {
		result.UnconfirmedSubscribers, err = s.purgeEntities(ctx, &models.ListSubscriber{},
			"status = ? AND created_at < ?", []interface{}{models.SubscriberStatusUnconfirmed, before}, s.purgeSubscribers)
		if err != nil {
			return result, fmt.Errorf("failed to purge unconfirmed subscribers: %w", err)
		}
	}
	if before, ok := s.cutoff(ctx, "unsubscribed_days", s.config.UnsubscribedDays); ok {
		result.UnsubscribedSubscribers, err = s.purgeEntities(ctx, &models.ListSubscriber{},
			"status = ? AND updated_at < ?", []interface{}{models.SubscriberStatusUnsubscribed, before}, s.purgeSubscribers)
		if err != nil {
			return result, fmt.Errorf("failed to purge unsubscribed subscribers: %w", err)
		}
	}

	// 源或目标订阅者已不存在的移动记录
	live := s.db.Model(&models.ListSubscriber{}).Select("id")
	if result.ListMoves, err = s.purgeRows(ctx, &models.ListSubscriberListMove{},
		"source_subscriber_id NOT IN (?) OR destination_subscriber_id NOT IN (?)", live, live); err != nil {
		return result, fmt.Errorf("failed to purge list moves: %w", err)
	}

	if before, ok := s.cutoff(ctx, "delivery_log_days", s.config.DeliveryLogDays); ok {
		if result.DeliveryLogs, err = s.purgeRows(ctx, &models.CampaignDeliveryLog{}, "created_at < ?", before); err != nil {
			return result, fmt.Errorf("failed to purge delivery logs: %w", err)
		}
	}
	if before, ok := s.cutoff(ctx, "usage_log_days", s.config.UsageLogDays); ok {
		if result.UsageLogs, err = s.purgeRows(ctx, &models.DeliveryServerUsageLog{}, "created_at < ?", before); err != nil {
			return result, fmt.Errorf("failed to purge usage logs: %w", err)
		}
	}
	if before, ok := s.cutoff(ctx, "tracking_log_days", s.config.TrackingLogDays); ok {
		opens, err := s.purgeRows(ctx, &models.CampaignTrackOpen{}, "created_at < ?", before)
		if err != nil {
			return result, fmt.Errorf("failed to purge open logs: %w", err)
		}
		clicks, err := s.purgeRows(ctx, &models.CampaignTrackURL{}, "created_at < ?", before)
		if err != nil {
			return result, fmt.Errorf("failed to purge click logs: %w", err)
		}
		result.TrackingLogs = opens + clicks
	}
	if before, ok := s.cutoff(ctx, "bounce_log_days", s.config.BounceLogDays); ok {
		if result.BounceLogs, err = s.purgeRows(ctx, &models.CampaignBounceLog{}, "processed = ? AND created_at < ?", true, before); err != nil {
			return result, fmt.Errorf("failed to purge bounce logs: %w", err)
		}
	}
	if before, ok := s.cutoff(ctx, "webhook_queue_days", s.config.WebhookQueueDays); ok {
		if result.WebhookQueue, err = s.purgeRows(ctx, &models.CampaignWebhookQueue{}, "created_at < ?", before); err != nil {
			return result, fmt.Errorf("failed to purge webhook queue: %w", err)
		}
	}
	if before, ok := s.cutoff(ctx, "responder_days", s.config.ResponderDays); ok {
		result.Responders, err = s.purgeEntities(ctx, &models.SurveyResponder{}, "created_at < ?", []interface{}{before}, s.purgeResponders)
		if err != nil {
			return result, fmt.Errorf("failed to purge survey responders: %w", err)
		}
	}

	log.Printf("Housekeeping completed: %d records removed", result.Total())
	return result, nil
}

// purgeRows 分批物理删除满足条件的记录
func (s *HousekeepingServiceImpl) purgeRows(ctx context.Context, model interface{}, query string, args ...interface{}) (int64, error) {
	var total int64
	for {
		ids, err := pluckIDs(s.db.WithContext(ctx).Limit(s.config.BatchSize), model, query, args...)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		result := s.db.WithContext(ctx).Unscoped().Where("id IN ?", ids).Delete(model)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if len(ids) < s.config.BatchSize {
			return total, nil
		}
	}
}

// purgeEntities 分批删除记录及其关联数据，每批一个事务
func (s *HousekeepingServiceImpl) purgeEntities(ctx context.Context, model interface{}, query string, args []interface{}, purge func(tx *gorm.DB, ids []uint) error) (int64, error) {
	var total int64
	for {
		ids, err := pluckIDs(s.db.WithContext(ctx).Limit(s.config.BatchSize), model, query, args...)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		err = database.BatchTransaction(s.db.WithContext(ctx), s.config.BatchSize, func(tx *gorm.DB, _ int) error {
			return purge(tx, ids)
		})
		if err != nil {
			return total, err
		}
		total += int64(len(ids))
		if len(ids) < s.config.BatchSize {
			return total, nil
		}
	}
}

func pluckIDs(db *gorm.DB, model interface{}, query string, args ...interface{}) ([]uint, error) {
	var ids []uint
	err := db.Unscoped().Model(model).Where(query, args...).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func deleteIn(tx *gorm.DB, model interface{}, column string, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Unscoped().Where(column+" IN ?", ids).Delete(model).Error
}

func (s *HousekeepingServiceImpl) purgeCustomers(tx *gorm.DB, ids []uint) error {
	listIDs, err := pluckIDs(tx, &models.List{}, "customer_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeLists(tx, listIDs); err != nil {
		return err
	}
	campaignIDs, err := pluckIDs(tx, &models.Campaign{}, "customer_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeCampaigns(tx, campaignIDs); err != nil {
		return err
	}
	surveyIDs, err := pluckIDs(tx, &models.Survey{}, "customer_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeSurveys(tx, surveyIDs); err != nil {
		return err
	}

	serverIDs, err := pluckIDs(tx, &models.DeliveryServer{}, "customer_id IN ?", ids)
	if err != nil {
		return err
	}
	if len(serverIDs) > 0 {
		if err := deleteIn(tx, &models.DeliveryServerDomainPolicy{}, "server_id", serverIDs); err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM delivery_server_to_customer_group WHERE delivery_server_id IN ?", serverIDs).Error; err != nil {
			return err
		}
		if err := deleteIn(tx, &models.DeliveryServer{}, "id", serverIDs); err != nil {
			return err
		}
	}

	bounceIDs, err := pluckIDs(tx, &models.BounceServer{}, "customer_id IN ?", ids)
	if err != nil {
		return err
	}
	if len(bounceIDs) > 0 {
		err := tx.Model(&models.DeliveryServer{}).Where("bounce_server_id IN ?", bounceIDs).UpdateColumn("bounce_server_id", nil).Error
		if err != nil {
			return err
		}
		if err := deleteIn(tx, &models.BounceServer{}, "id", bounceIDs); err != nil {
			return err
		}
	}

	for _, model := range []interface{}{&models.CampaignGroup{}, &models.CustomerQuotaMark{}, &models.DeliveryServerUsageLog{}} {
		if err := deleteIn(tx, model, "customer_id", ids); err != nil {
			return err
		}
	}
	return deleteIn(tx, &models.Customer{}, "id", ids)
}

func (s *HousekeepingServiceImpl) purgeLists(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	campaignIDs, err := pluckIDs(tx, &models.Campaign{}, "list_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeCampaigns(tx, campaignIDs); err != nil {
		return err
	}

	subscriberIDs, err := pluckIDs(tx, &models.ListSubscriber{}, "list_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeSubscribers(tx, subscriberIDs); err != nil {
		return err
	}

	fieldIDs, err := pluckIDs(tx, &models.ListField{}, "list_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := deleteIn(tx, &models.ListFieldValue{}, "field_id", fieldIDs); err != nil {
		return err
	}
	if err := deleteIn(tx, &models.ListField{}, "id", fieldIDs); err != nil {
		return err
	}

	err = tx.Unscoped().Where("source_list_id IN ? OR destination_list_id IN ?", ids, ids).Delete(&models.ListSubscriberListMove{}).Error
	if err != nil {
		return err
	}
	return deleteIn(tx, &models.List{}, "id", ids)
}

func (s *HousekeepingServiceImpl) purgeSubscribers(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	for _, model := range []interface{}{
		&models.ListFieldValue{},
		&models.CampaignDeliveryLog{},
		&models.CampaignBounceLog{},
		&models.CampaignTrackOpen{},
		&models.CampaignTrackURL{},
	} {
		if err := deleteIn(tx, model, "subscriber_id", ids); err != nil {
			return err
		}
	}
	// 调查回答保留，只解除关联
	err := tx.Model(&models.SurveyResponder{}).Where("subscriber_id IN ?", ids).UpdateColumn("subscriber_id", nil).Error
	if err != nil {
		return err
	}
	return deleteIn(tx, &models.ListSubscriber{}, "id", ids)
}

func (s *HousekeepingServiceImpl) purgeCampaigns(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	urlIDs, err := pluckIDs(tx, &models.CampaignURL{}, "campaign_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := deleteIn(tx, &models.CampaignTrackURL{}, "url_id", urlIDs); err != nil {
		return err
	}

	webhookIDs, err := pluckIDs(tx, &models.CampaignWebhook{}, "campaign_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := deleteIn(tx, &models.CampaignWebhookQueue{}, "webhook_id", webhookIDs); err != nil {
		return err
	}

	for _, model := range []interface{}{
		&models.CampaignWebhook{},
		&models.CampaignURL{},
		&models.CampaignOption{},
		&models.CampaignTemplate{},
		&models.CampaignDeliveryLog{},
		&models.CampaignBounceLog{},
		&models.CampaignTrackOpen{},
	} {
		if err := deleteIn(tx, model, "campaign_id", ids); err != nil {
			return err
		}
	}
	if err := tx.Exec("DELETE FROM campaign_share_code_to_campaign WHERE campaign_id IN ?", ids).Error; err != nil {
		return err
	}
	return deleteIn(tx, &models.Campaign{}, "id", ids)
}

func (s *HousekeepingServiceImpl) purgeSurveys(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	responderIDs, err := pluckIDs(tx, &models.SurveyResponder{}, "survey_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := s.purgeResponders(tx, responderIDs); err != nil {
		return err
	}

	fieldIDs, err := pluckIDs(tx, &models.SurveyField{}, "survey_id IN ?", ids)
	if err != nil {
		return err
	}
	if err := deleteIn(tx, &models.SurveyFieldOption{}, "field_id", fieldIDs); err != nil {
		return err
	}
	if err := deleteIn(tx, &models.SurveyFieldValue{}, "field_id", fieldIDs); err != nil {
		return err
	}
	if err := deleteIn(tx, &models.SurveyField{}, "id", fieldIDs); err != nil {
		return err
	}
	return deleteIn(tx, &models.Survey{}, "id", ids)
}

func (s *HousekeepingServiceImpl) purgeResponders(tx *gorm.DB, ids []uint) error {
	if err := deleteIn(tx, &models.SurveyFieldValue{}, "responder_id", ids); err != nil {
		return err
	}
	return deleteIn(tx, &models.SurveyResponder{}, "id", ids)
}
