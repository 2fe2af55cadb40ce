package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignService 活动管理、状态流转和分享码
type CampaignService struct {
	db        *gorm.DB
	publisher events.EventPublisher
	now       func() time.Time
}

// NewCampaignService 创建活动服务
func NewCampaignService(db *gorm.DB, publisher events.EventPublisher) *CampaignService {
	return &CampaignService{db: db, publisher: publisher, now: time.Now}
}

// CampaignFilter 活动列表过滤条件
type CampaignFilter struct {
	Pagination
	Status string `form:"status"`
	Type   string `form:"type"`
	ListID uint   `form:"list_id"`
}

// ListCampaigns 分页列出活动，customerID为0时列出所有客户的活动
func (s *CampaignService) ListCampaigns(ctx context.Context, customerID uint, filter CampaignFilter) (*Page[models.Campaign], error) {
	query := s.db.WithContext(ctx).Model(&models.Campaign{}).Preload("List")
	if customerID != 0 {
		query = query.Where("customer_id = ?", customerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	} else {
		query = query.Where("status <> ?", models.CampaignStatusPendingDelete)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ListID != 0 {
		query = query.Where("list_id = ?", filter.ListID)
	}

	page, err := paginate[models.Campaign](query.Order("id DESC"), filter.Pagination)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return page, nil
}

// GetCampaign 获取客户的活动（含选项和模板），customerID为0时不限制客户
func (s *CampaignService) GetCampaign(ctx context.Context, customerID uint, campaignUID string) (*models.Campaign, error) {
	var campaign models.Campaign
	query := s.db.WithContext(ctx).Preload("Option").Preload("Template").Preload("List").
		Where("campaign_uid = ? AND status <> ?", campaignUID, models.CampaignStatusPendingDelete)
	if customerID != 0 {
		query = query.Where("customer_id = ?", customerID)
	}
	if err := query.First(&campaign).Error; err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	return &campaign, nil
}

// CreateCampaign 创建活动，同时保存选项和模板
func (s *CampaignService) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.create(tx, campaign)
	})
}

func (s *CampaignService) create(tx *gorm.DB, campaign *models.Campaign) error {
	var list models.List
	err := tx.Where("id = ? AND customer_id = ? AND status <> ?", campaign.ListID, campaign.CustomerID, models.ListStatusPendingDelete).
		First(&list).Error
	if err != nil {
		return notFound(err, ErrListNotFound)
	}

	group, err := customerGroup(tx, campaign.CustomerID)
	if err != nil {
		return err
	}
	if group != nil && group.MaxCampaigns != models.Unlimited {
		var count int64
		err := tx.Model(&models.Campaign{}).
			Where("customer_id = ? AND status <> ?", campaign.CustomerID, models.CampaignStatusPendingDelete).
			Count(&count).Error
		if err != nil {
			return err
		}
		if !withinLimit(count, group.MaxCampaigns) {
			return ErrMaxCampaignsReached
		}
	}

	if campaign.FromName == "" {
		campaign.FromName = list.FromName
	}
	if campaign.FromEmail == "" {
		campaign.FromEmail = list.FromEmail
	}
	if campaign.ReplyTo == "" {
		campaign.ReplyTo = list.ReplyTo
	}
	if campaign.Subject == "" {
		campaign.Subject = list.Subject
	}

	option, template := campaign.Option, campaign.Template
	if option == nil {
		option = models.NewCampaignOption()
	}
	if err := tx.Omit(clause.Associations).Create(campaign).Error; err != nil {
		return err
	}

	option.CampaignID = campaign.ID
	if err := tx.Omit(clause.Associations).Create(option).Error; err != nil {
		return err
	}
	campaign.Option = option

	if template != nil {
		template.CampaignID = campaign.ID
		if err := tx.Omit(clause.Associations).Create(template).Error; err != nil {
			return err
		}
		campaign.Template = template
	}
	return nil
}

// UpdateCampaignRequest 更新活动请求，nil字段保持不变
type UpdateCampaignRequest struct {
	Name      *string                  `json:"name"`
	GroupID   *uint                    `json:"group_id"`
	FromName  *string                  `json:"from_name"`
	FromEmail *string                  `json:"from_email"`
	ReplyTo   *string                  `json:"reply_to"`
	ToName    *string                  `json:"to_name"`
	Subject   *string                  `json:"subject"`
	SendAt    *time.Time               `json:"send_at"`
	Option    *models.CampaignOption   `json:"option"`
	Template  *models.CampaignTemplate `json:"template"`
}

// UpdateCampaign 更新可编辑状态的活动
func (s *CampaignService) UpdateCampaign(ctx context.Context, campaign *models.Campaign, req *UpdateCampaignRequest) error {
	if !campaign.CanBeEdited() {
		return fmt.Errorf("%w: campaign is %s", ErrInvalidStatusTransition, campaign.Status)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&campaign.Name, req.Name)
	setString(&campaign.FromName, req.FromName)
	setString(&campaign.FromEmail, req.FromEmail)
	setString(&campaign.ReplyTo, req.ReplyTo)
	setString(&campaign.ToName, req.ToName)
	setString(&campaign.Subject, req.Subject)
	if req.GroupID != nil {
		campaign.GroupID = req.GroupID
	}
	if req.SendAt != nil {
		campaign.SendAt = req.SendAt
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if campaign.GroupID != nil {
			err := tx.Where("id = ? AND customer_id = ?", *campaign.GroupID, campaign.CustomerID).First(&models.CampaignGroup{}).Error
			if err != nil {
				return notFound(err, errors.New("campaign group not found"))
			}
		}
		if err := tx.Omit(clause.Associations).Save(campaign).Error; err != nil {
			return err
		}

		if req.Option != nil {
			option := req.Option
			if campaign.Option != nil {
				option.ID = campaign.Option.ID
				option.CreatedAt = campaign.Option.CreatedAt
			}
			option.CampaignID = campaign.ID
			if err := tx.Omit(clause.Associations).Save(option).Error; err != nil {
				return err
			}
			campaign.Option = option
		}
		if req.Template != nil {
			template := req.Template
			if campaign.Template != nil {
				template.ID = campaign.Template.ID
				template.CreatedAt = campaign.Template.CreatedAt
			}
			template.CampaignID = campaign.ID
			if err := tx.Omit(clause.Associations).Save(template).Error; err != nil {
				return err
			}
			campaign.Template = template
		}
		return nil
	})
}

// Schedule 安排发送，sendAt为空时立即发送
func (s *CampaignService) Schedule(ctx context.Context, campaign *models.Campaign, sendAt *time.Time) error {
	if !campaign.CanBeScheduled() {
		return s.invalidTransition(campaign, models.CampaignStatusPendingSending)
	}
	if sendAt != nil {
		campaign.SendAt = sendAt
	}
	return s.transition(ctx, campaign, models.CampaignStatusPendingSending)
}

// Pause 暂停
func (s *CampaignService) Pause(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.CanBePaused() {
		return s.invalidTransition(campaign, models.CampaignStatusPaused)
	}
	return s.transition(ctx, campaign, models.CampaignStatusPaused)
}

// Resume 恢复已暂停的活动
func (s *CampaignService) Resume(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.CanBeResumed() {
		return s.invalidTransition(campaign, models.CampaignStatusPendingSending)
	}
	return s.transition(ctx, campaign, models.CampaignStatusPendingSending)
}

// Block 封禁
func (s *CampaignService) Block(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.CanBeBlocked() {
		return s.invalidTransition(campaign, models.CampaignStatusBlocked)
	}
	return s.transition(ctx, campaign, models.CampaignStatusBlocked)
}

// Approve 审核通过，活动进入等待发送
func (s *CampaignService) Approve(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.CanBeApproved() {
		return s.invalidTransition(campaign, models.CampaignStatusPendingSending)
	}
	return s.transition(ctx, campaign, models.CampaignStatusPendingSending)
}

// MarkSending 开始发送
func (s *CampaignService) MarkSending(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.IsPendingSending() {
		return s.invalidTransition(campaign, models.CampaignStatusSending)
	}
	if campaign.StartedAt == nil {
		now := s.now()
		campaign.StartedAt = &now
	}
	return s.transition(ctx, campaign, models.CampaignStatusSending)
}

// MarkSent 发送完成
func (s *CampaignService) MarkSent(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.IsSending() {
		return s.invalidTransition(campaign, models.CampaignStatusSent)
	}
	now := s.now()
	campaign.FinishedAt = &now
	return s.transition(ctx, campaign, models.CampaignStatusSent)
}

// Delete 标记为待删除，由定时清理删除
func (s *CampaignService) Delete(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.CanBeDeleted() {
		return s.invalidTransition(campaign, models.CampaignStatusPendingDelete)
	}
	return s.transition(ctx, campaign, models.CampaignStatusPendingDelete)
}

func (s *CampaignService) invalidTransition(campaign *models.Campaign, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, campaign.Status, to)
}

// transition 保存新状态并发布状态变化事件
func (s *CampaignService) transition(ctx context.Context, campaign *models.Campaign, to string) error {
	from := campaign.Status
	campaign.Status = to
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(campaign).Error; err != nil {
		campaign.Status = from
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	events.PublishQuietly(ctx, s.publisher, events.NewEvent(events.EventCampaignStatusChanged, campaign.CustomerID,
		events.CampaignStatusEventData{CampaignUID: campaign.CampaignUID, From: from, To: to}))
	return nil
}

// Copy 复制活动为新的草稿，包括选项和模板
func (s *CampaignService) Copy(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error) {
	var clone *models.Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		clone, err = s.copyInto(tx, campaign, campaign.CustomerID, campaign.ListID, campaign.Name+" (copy)")
		return err
	})
	return clone, err
}

// copyInto 把活动复制到指定客户的列表
func (s *CampaignService) copyInto(tx *gorm.DB, campaign *models.Campaign, customerID, listID uint, name string) (*models.Campaign, error) {
	var option models.CampaignOption
	err := tx.Where("campaign_id = ?", campaign.ID).First(&option).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	var template models.CampaignTemplate
	hasTemplate := true
	if err := tx.Where("campaign_id = ?", campaign.ID).First(&template).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		hasTemplate = false
	}

	clone := models.NewCampaign(customerID, listID, name)
	clone.Type = campaign.Type
	clone.FromName = campaign.FromName
	clone.FromEmail = campaign.FromEmail
	clone.ReplyTo = campaign.ReplyTo
	clone.ToName = campaign.ToName
	clone.Subject = campaign.Subject
	if customerID == campaign.CustomerID {
		clone.GroupID = campaign.GroupID
	}
	if option.ID != 0 {
		clone.Option = option.Clone()
	}
	if hasTemplate {
		clone.Template = template.Clone()
	}

	if err := s.create(tx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// CampaignStats 活动统计
type CampaignStats struct {
	Delivered       int64 `json:"delivered"`
	DeliveryErrors  int64 `json:"delivery_errors"`
	Opens           int64 `json:"opens"`
	UniqueOpens     int64 `json:"unique_opens"`
	Clicks          int64 `json:"clicks"`
	UniqueClicks    int64 `json:"unique_clicks"`
	HardBounces     int64 `json:"hard_bounces"`
	SoftBounces     int64 `json:"soft_bounces"`
	InternalBounces int64 `json:"internal_bounces"`
}

// Stats 统计投递、打开、点击和退信
func (s *CampaignService) Stats(ctx context.Context, campaign *models.Campaign) (*CampaignStats, error) {
	db := s.db.WithContext(ctx)
	stats := &CampaignStats{}

	counts := []struct {
		target *int64
		query  *gorm.DB
	}{
		{&stats.Delivered, db.Model(&models.CampaignDeliveryLog{}).Where("campaign_id = ? AND status = ?", campaign.ID, models.DeliveryStatusSuccess)},
		{&stats.DeliveryErrors, db.Model(&models.CampaignDeliveryLog{}).Where("campaign_id = ? AND status <> ?", campaign.ID, models.DeliveryStatusSuccess)},
		{&stats.Opens, db.Model(&models.CampaignTrackOpen{}).Where("campaign_id = ?", campaign.ID)},
		{&stats.UniqueOpens, db.Model(&models.CampaignTrackOpen{}).Where("campaign_id = ?", campaign.ID).Distinct("subscriber_id")},
		{&stats.Clicks, db.Model(&models.CampaignTrackURL{}).Where("url_id IN (?)", db.Model(&models.CampaignURL{}).Select("id").Where("campaign_id = ?", campaign.ID))},
		{&stats.UniqueClicks, db.Model(&models.CampaignTrackURL{}).Where("url_id IN (?)", db.Model(&models.CampaignURL{}).Select("id").Where("campaign_id = ?", campaign.ID)).Distinct("subscriber_id")},
		{&stats.HardBounces, db.Model(&models.CampaignBounceLog{}).Where("campaign_id = ? AND bounce_type = ?", campaign.ID, models.BounceTypeHard)},
		{&stats.SoftBounces, db.Model(&models.CampaignBounceLog{}).Where("campaign_id = ? AND bounce_type = ?", campaign.ID, models.BounceTypeSoft)},
		{&stats.InternalBounces, db.Model(&models.CampaignBounceLog{}).Where("campaign_id = ? AND bounce_type = ?", campaign.ID, models.BounceTypeInternal)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.target).Error; err != nil {
			return nil, fmt.Errorf("failed to compute campaign stats: %w", err)
		}
	}
	return stats, nil
}

// RegisterURL 登记活动中的链接，同一链接返回已有记录
func (s *CampaignService) RegisterURL(ctx context.Context, campaign *models.Campaign, destination string) (*models.CampaignURL, error) {
	destination = strings.TrimSpace(destination)
	hash := models.HashURL(campaign.ID, destination)

	var url models.CampaignURL
	err := s.db.WithContext(ctx).Where("campaign_id = ? AND hash = ?", campaign.ID, hash).First(&url).Error
	if err == nil {
		return &url, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	url = models.CampaignURL{CampaignID: campaign.ID, Hash: hash, Destination: destination}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&url).Error; err != nil {
		return nil, err
	}
	return &url, nil
}

// ListURLs 活动中登记的链接
func (s *CampaignService) ListURLs(ctx context.Context, campaign *models.Campaign) ([]models.CampaignURL, error) {
	var urls []models.CampaignURL
	if err := s.db.WithContext(ctx).Where("campaign_id = ?", campaign.ID).Order("id ASC").Find(&urls).Error; err != nil {
		return nil, err
	}
	return urls, nil
}

// ListGroups 客户的活动分组
func (s *CampaignService) ListGroups(ctx context.Context, customerID uint) ([]models.CampaignGroup, error) {
	var groups []models.CampaignGroup
	if err := s.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("name ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// CreateGroup 创建活动分组
func (s *CampaignService) CreateGroup(ctx context.Context, customerID uint, name string) (*models.CampaignGroup, error) {
	group := &models.CampaignGroup{CustomerID: customerID, Name: strings.TrimSpace(name)}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(group).Error; err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup 删除活动分组，分组内的活动变为未分组
func (s *CampaignService) DeleteGroup(ctx context.Context, customerID uint, groupUID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CampaignGroup
		if err := tx.Where("group_uid = ? AND customer_id = ?", groupUID, customerID).First(&group).Error; err != nil {
			return notFound(err, errors.New("campaign group not found"))
		}
		if err := tx.Model(&models.Campaign{}).Where("group_id = ?", group.ID).UpdateColumn("group_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&group).Error
	})
}

// CreateShareCode 为客户的活动创建分享码
func (s *CampaignService) CreateShareCode(ctx context.Context, customerID uint, campaignUIDs []string) (*models.CampaignShareCode, error) {
	campaignUIDs = uniqueStrings(campaignUIDs)
	if len(campaignUIDs) == 0 {
		return nil, fmt.Errorf("at least one campaign is required")
	}

	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND campaign_uid IN ? AND status <> ?", customerID, campaignUIDs, models.CampaignStatusPendingDelete).
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	if len(campaigns) != len(campaignUIDs) {
		return nil, ErrCampaignNotFound
	}

	code := &models.CampaignShareCode{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(code).Error; err != nil {
			return err
		}
		return tx.Model(code).Omit("Campaigns.*").Association("Campaigns").Append(campaigns)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create share code: %w", err)
	}
	code.Campaigns = campaigns
	return code, nil
}

// ImportShareCode 把分享码中的活动复制到客户的列表，分享码只能使用一次
func (s *CampaignService) ImportShareCode(ctx context.Context, customerID uint, code, listUID string) ([]*models.Campaign, error) {
	var imported []*models.Campaign

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var shareCode models.CampaignShareCode
		if err := tx.Preload("Campaigns").Where("code = ?", strings.TrimSpace(code)).First(&shareCode).Error; err != nil {
			return notFound(err, ErrShareCodeNotFound)
		}
		if shareCode.Used {
			return ErrShareCodeUsed
		}

		var list models.List
		err := tx.Where("list_uid = ? AND customer_id = ? AND status <> ?", listUID, customerID, models.ListStatusPendingDelete).
			First(&list).Error
		if err != nil {
			return notFound(err, ErrListNotFound)
		}

		for i := range shareCode.Campaigns {
			clone, err := s.copyInto(tx, &shareCode.Campaigns[i], customerID, list.ID, shareCode.Campaigns[i].Name)
			if err != nil {
				return err
			}
			imported = append(imported, clone)
		}

		return tx.Model(&shareCode).UpdateColumn("used", true).Error
	})
	if err != nil {
		return nil, err
	}
	return imported, nil
}
