package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailwizz/internal/events"
	"mailwizz/internal/models"
	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// ListService 邮件列表、自定义字段和订阅者
type ListService struct {
	db        *gorm.DB
	publisher events.EventPublisher
}

// NewListService 创建列表服务
func NewListService(db *gorm.DB, publisher events.EventPublisher) *ListService {
	return &ListService{db: db, publisher: publisher}
}

// customerGroup 客户所在分组，没有分组时返回nil
func customerGroup(db *gorm.DB, customerID uint) (*models.CustomerGroup, error) {
	var customer models.Customer
	if err := db.Preload("Group").First(&customer, customerID).Error; err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return customer.Group, nil
}

// ListLists 分页列出客户的列表，附带订阅者数量
func (s *ListService) ListLists(ctx context.Context, customerID uint, p Pagination) (*Page[models.List], error) {
	query := s.db.WithContext(ctx).Model(&models.List{}).
		Where("customer_id = ? AND status <> ?", customerID, models.ListStatusPendingDelete).
		Order("id DESC")
	page, err := paginate[models.List](query, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}

	for i := range page.Items {
		err := s.db.WithContext(ctx).Model(&models.ListSubscriber{}).
			Where("list_id = ?", page.Items[i].ID).
			Count(&page.Items[i].SubscribersCount).Error
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

// GetList 按uid获取客户的列表
func (s *ListService) GetList(ctx context.Context, customerID uint, listUID string) (*models.List, error) {
	var list models.List
	err := s.db.WithContext(ctx).
		Where("list_uid = ? AND customer_id = ? AND status <> ?", listUID, customerID, models.ListStatusPendingDelete).
		First(&list).Error
	if err != nil {
		return nil, notFound(err, ErrListNotFound)
	}
	return &list, nil
}

// GetListByUID 按uid获取列表，用于公开的订阅表单
func (s *ListService) GetListByUID(ctx context.Context, listUID string) (*models.List, error) {
	var list models.List
	err := s.db.WithContext(ctx).
		Where("list_uid = ? AND status = ?", listUID, models.ListStatusActive).
		First(&list).Error
	if err != nil {
		return nil, notFound(err, ErrListNotFound)
	}
	return &list, nil
}

// CreateList 创建列表并添加EMAIL字段，检查分组的列表数量上限
func (s *ListService) CreateList(ctx context.Context, list *models.List) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := customerGroup(tx, list.CustomerID)
		if err != nil {
			return err
		}
		if group != nil {
			var count int64
			err := tx.Model(&models.List{}).
				Where("customer_id = ? AND status <> ?", list.CustomerID, models.ListStatusPendingDelete).
				Count(&count).Error
			if err != nil {
				return err
			}
			if !withinLimit(count, group.MaxLists) {
				return ErrMaxListsReached
			}
		}

		list.ID = 0
		list.ListUID = ""
		if err := tx.Omit("Fields", "Subscribers", "Campaigns", "Customer").Create(list).Error; err != nil {
			return err
		}

		emailField := &models.ListField{
			ListID:     list.ID,
			Type:       models.ListFieldTypeText,
			Label:      "Email",
			Tag:        models.ListFieldTagEmail,
			Required:   true,
			Visibility: models.FieldVisibilityVisible,
		}
		return tx.Create(emailField).Error
	})
}

// UpdateList 更新列表的可编辑属性
func (s *ListService) UpdateList(ctx context.Context, customerID uint, listUID string, changes *models.List) (*models.List, error) {
	list, err := s.GetList(ctx, customerID, listUID)
	if err != nil {
		return nil, err
	}

	list.Name = changes.Name
	list.DisplayName = changes.DisplayName
	list.Description = changes.Description
	list.Visibility = changes.Visibility
	list.OptIn = changes.OptIn
	list.OptOut = changes.OptOut
	list.WelcomeEmail = changes.WelcomeEmail
	list.SubscriberRequireApproval = changes.SubscriberRequireApproval
	list.FromName = changes.FromName
	list.FromEmail = changes.FromEmail
	list.ReplyTo = changes.ReplyTo
	list.Subject = changes.Subject
	if changes.Status == models.ListStatusActive || changes.Status == models.ListStatusArchived {
		list.Status = changes.Status
	}

	if err := s.db.WithContext(ctx).Save(list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteList 把列表标记为待删除，由定时清理删除
func (s *ListService) DeleteList(ctx context.Context, customerID uint, listUID string) error {
	list, err := s.GetList(ctx, customerID, listUID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(list).UpdateColumn("status", models.ListStatusPendingDelete).Error
}

// ListFields 列表字段，按排序值排列
func (s *ListService) ListFields(ctx context.Context, listID uint) ([]models.ListField, error) {
	var fields []models.ListField
	err := s.db.WithContext(ctx).Where("list_id = ?", listID).Order("sort_order ASC, id ASC").Find(&fields).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return fields, nil
}

// SaveField 创建或更新列表字段，EMAIL字段的标签不能修改
func (s *ListService) SaveField(ctx context.Context, listID uint, field *models.ListField) error {
	field.ListID = listID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if field.ID != 0 {
			var existing models.ListField
			if err := tx.Where("id = ? AND list_id = ?", field.ID, listID).First(&existing).Error; err != nil {
				return notFound(err, ErrListFieldNotFound)
			}
			if existing.IsEmailField() {
				field.Tag = models.ListFieldTagEmail
				field.Required = true
			}
		}
		return tx.Omit("List", "Values").Save(field).Error
	})
}

// DeleteField 删除字段及其值，EMAIL字段不能删除
func (s *ListService) DeleteField(ctx context.Context, listID, fieldID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var field models.ListField
		if err := tx.Where("id = ? AND list_id = ?", fieldID, listID).First(&field).Error; err != nil {
			return notFound(err, ErrListFieldNotFound)
		}
		if field.IsEmailField() {
			return ErrEmailFieldProtected
		}
		if err := tx.Where("field_id = ?", field.ID).Delete(&models.ListFieldValue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&field).Error
	})
}

// SubscriberFilter 订阅者列表过滤条件
type SubscriberFilter struct {
	Pagination
	Status string `form:"status"`
	Email  string `form:"email"`
}

// ListSubscribers 分页列出列表的订阅者
func (s *ListService) ListSubscribers(ctx context.Context, listID uint, filter SubscriberFilter) (*Page[models.ListSubscriber], error) {
	query := s.db.WithContext(ctx).Model(&models.ListSubscriber{}).Where("list_id = ?", listID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		query = query.Where("email LIKE ?", "%"+strings.ToLower(email)+"%")
	}

	page, err := paginate[models.ListSubscriber](query.Order("id DESC"), filter.Pagination)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	return page, nil
}

// GetSubscriber 按uid获取列表中的订阅者及其字段值
func (s *ListService) GetSubscriber(ctx context.Context, listID uint, subscriberUID string) (*models.ListSubscriber, error) {
	var subscriber models.ListSubscriber
	err := s.db.WithContext(ctx).Preload("FieldValues.Field").
		Where("list_id = ? AND subscriber_uid = ?", listID, subscriberUID).
		First(&subscriber).Error
	if err != nil {
		return nil, notFound(err, ErrSubscriberNotFound)
	}
	return &subscriber, nil
}

// SubscribeRequest 订阅请求，Fields以字段标签为键
type SubscribeRequest struct {
	Email     string            `json:"email" binding:"required"`
	Fields    map[string]string `json:"fields"`
	IPAddress string            `json:"-"`
	Source    string            `json:"source"`
}

// Subscribe 添加订阅者。状态由列表设置决定：需要审核为unapproved，双重确认为unconfirmed，否则confirmed
func (s *ListService) Subscribe(ctx context.Context, list *models.List, req *SubscribeRequest) (*models.ListSubscriber, error) {
	var subscriber *models.ListSubscriber

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := customerGroup(tx, list.CustomerID)
		if err != nil {
			return err
		}
		if group != nil && group.MaxSubscribers != models.Unlimited {
			count, err := s.countCustomerSubscribers(tx, list.CustomerID)
			if err != nil {
				return err
			}
			if !withinLimit(count, group.MaxSubscribers) {
				return ErrMaxSubscribersReached
			}
		}

		var fields []models.ListField
		if err := tx.Where("list_id = ?", list.ID).Order("sort_order ASC, id ASC").Find(&fields).Error; err != nil {
			return err
		}
		values, err := collectFieldValues(fields, req)
		if err != nil {
			return err
		}

		subscriber = &models.ListSubscriber{
			ListID:    list.ID,
			Email:     req.Email,
			IPAddress: req.IPAddress,
			Source:    req.Source,
			Status:    initialSubscriberStatus(list),
		}
		if err := tx.Omit("List", "FieldValues").Create(subscriber).Error; err != nil {
			return err
		}
		return saveFieldValues(tx, subscriber.ID, values)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventSubscriberSubscribed, list, subscriber)
	return subscriber, nil
}

func initialSubscriberStatus(list *models.List) string {
	if list.SubscriberRequireApproval {
		return models.SubscriberStatusUnapproved
	}
	if list.OptIn == models.OptInOutDouble {
		return models.SubscriberStatusUnconfirmed
	}
	return models.SubscriberStatusConfirmed
}

// collectFieldValues 按字段检查提交的值，缺省时使用默认值
func collectFieldValues(fields []models.ListField, req *SubscribeRequest) (map[uint]string, error) {
	submitted := make(map[string]string, len(req.Fields))
	for tag, value := range req.Fields {
		submitted[strings.ToUpper(strings.TrimSpace(tag))] = strings.TrimSpace(value)
	}
	submitted[models.ListFieldTagEmail] = strings.ToLower(strings.TrimSpace(req.Email))

	errs := validation.Errors{}
	values := make(map[uint]string, len(fields))
	for _, field := range fields {
		value, ok := submitted[field.Tag]
		if !ok || value == "" {
			value = field.DefaultValue
		}
		if value == "" {
			if field.Required {
				errs.Add(field.Tag, validation.Message("required", "", field.Label))
			}
			continue
		}
		if !validFieldValue(field.Type, value) {
			errs.Add(field.Tag, fmt.Sprintf("%s is invalid.", field.Label))
			continue
		}
		values[field.ID] = value
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return values, nil
}

func saveFieldValues(tx *gorm.DB, subscriberID uint, values map[uint]string) error {
	for fieldID, value := range values {
		item := &models.ListFieldValue{FieldID: fieldID, SubscriberID: subscriberID, Value: value}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
	}
	return nil
}

// countCustomerSubscribers 客户所有列表的订阅者数量
func (s *ListService) countCustomerSubscribers(db *gorm.DB, customerID uint) (int64, error) {
	var count int64
	err := db.Model(&models.ListSubscriber{}).
		Where("list_id IN (?)", db.Session(&gorm.Session{NewDB: true}).Model(&models.List{}).Select("id").Where("customer_id = ?", customerID)).
		Count(&count).Error
	return count, err
}

// Confirm 确认未确认的订阅
func (s *ListService) Confirm(ctx context.Context, list *models.List, subscriber *models.ListSubscriber) error {
	return s.changeStatus(ctx, list, subscriber, models.SubscriberStatusConfirmed, events.EventSubscriberConfirmed,
		models.SubscriberStatusUnconfirmed)
}

// Approve 审核通过等待审核的订阅
func (s *ListService) Approve(ctx context.Context, list *models.List, subscriber *models.ListSubscriber) error {
	return s.changeStatus(ctx, list, subscriber, models.SubscriberStatusConfirmed, events.EventSubscriberConfirmed,
		models.SubscriberStatusUnapproved)
}

// Unsubscribe 退订
func (s *ListService) Unsubscribe(ctx context.Context, list *models.List, subscriber *models.ListSubscriber) error {
	return s.changeStatus(ctx, list, subscriber, models.SubscriberStatusUnsubscribed, events.EventSubscriberUnsubscribed,
		models.SubscriberStatusConfirmed, models.SubscriberStatusUnconfirmed, models.SubscriberStatusUnapproved)
}

// Blacklist 加入黑名单，已移动的订阅者除外
func (s *ListService) Blacklist(ctx context.Context, list *models.List, subscriber *models.ListSubscriber) error {
	return s.changeStatus(ctx, list, subscriber, models.SubscriberStatusBlacklisted, events.EventSubscriberBlacklisted,
		models.SubscriberStatusConfirmed, models.SubscriberStatusUnconfirmed, models.SubscriberStatusUnapproved,
		models.SubscriberStatusUnsubscribed, models.SubscriberStatusDisabled)
}

func (s *ListService) changeStatus(ctx context.Context, list *models.List, subscriber *models.ListSubscriber, status string, eventType events.EventType, from ...string) error {
	if subscriber.Status == status {
		return nil
	}
	allowed := false
	for _, f := range from {
		if subscriber.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: subscriber is %s", ErrInvalidStatusTransition, subscriber.Status)
	}

	err := s.db.WithContext(ctx).Model(subscriber).UpdateColumn("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update subscriber status: %w", err)
	}
	subscriber.Status = status

	s.publish(ctx, eventType, list, subscriber)
	return nil
}

// DeleteSubscriber 删除订阅者及其字段值
func (s *ListService) DeleteSubscriber(ctx context.Context, subscriber *models.ListSubscriber) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscriber_id = ?", subscriber.ID).Delete(&models.ListFieldValue{}).Error; err != nil {
			return err
		}
		return tx.Delete(subscriber).Error
	})
}

// MoveSubscriber 把订阅者移动到客户的另一个列表，原订阅者标记为moved
func (s *ListService) MoveSubscriber(ctx context.Context, subscriber *models.ListSubscriber, destination *models.List) (*models.ListSubscriber, error) {
	return s.transfer(ctx, subscriber, destination, true)
}

// CopySubscriber 把订阅者复制到客户的另一个列表
func (s *ListService) CopySubscriber(ctx context.Context, subscriber *models.ListSubscriber, destination *models.List) (*models.ListSubscriber, error) {
	return s.transfer(ctx, subscriber, destination, false)
}

// transfer 目标列表已有相同邮箱时沿用该订阅者，字段值按标签复制
func (s *ListService) transfer(ctx context.Context, subscriber *models.ListSubscriber, destination *models.List, move bool) (*models.ListSubscriber, error) {
	if subscriber.ListID == destination.ID {
		return nil, ErrSameList
	}
	if subscriber.Status == models.SubscriberStatusMoved {
		return nil, fmt.Errorf("%w: subscriber has already been moved", ErrInvalidStatusTransition)
	}

	var source models.List
	if err := s.db.WithContext(ctx).First(&source, subscriber.ListID).Error; err != nil {
		return nil, notFound(err, ErrListNotFound)
	}
	if source.CustomerID != destination.CustomerID {
		return nil, ErrListNotFound
	}

	var target models.ListSubscriber
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("list_id = ? AND email = ?", destination.ID, subscriber.Email).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			target = models.ListSubscriber{
				ListID:    destination.ID,
				Email:     subscriber.Email,
				IPAddress: subscriber.IPAddress,
				Source:    subscriber.Source,
				Status:    subscriber.Status,
			}
			if err := tx.Omit("List", "FieldValues").Create(&target).Error; err != nil {
				return err
			}
			if err := copyFieldValues(tx, subscriber, &target); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if !move {
			return nil
		}
		record := &models.ListSubscriberListMove{
			SourceSubscriberID:      subscriber.ID,
			SourceListID:            subscriber.ListID,
			DestinationSubscriberID: target.ID,
			DestinationListID:       destination.ID,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return tx.Model(subscriber).UpdateColumn("status", models.SubscriberStatusMoved).Error
	})
	if err != nil {
		return nil, err
	}

	if move {
		subscriber.Status = models.SubscriberStatusMoved
		s.publish(ctx, events.EventSubscriberMoved, destination, &target)
	}
	return &target, nil
}

// copyFieldValues 按标签把字段值复制到目标列表的字段
func copyFieldValues(tx *gorm.DB, from, to *models.ListSubscriber) error {
	var values []models.ListFieldValue
	if err := tx.Preload("Field").Where("subscriber_id = ?", from.ID).Find(&values).Error; err != nil {
		return err
	}
	var fields []models.ListField
	if err := tx.Where("list_id = ?", to.ListID).Find(&fields).Error; err != nil {
		return err
	}
	byTag := make(map[string]uint, len(fields))
	for _, field := range fields {
		byTag[field.Tag] = field.ID
	}

	copied := make(map[uint]string)
	for _, value := range values {
		if value.Field == nil {
			continue
		}
		if fieldID, ok := byTag[value.Field.Tag]; ok {
			copied[fieldID] = value.Value
		}
	}
	return saveFieldValues(tx, to.ID, copied)
}

func (s *ListService) publish(ctx context.Context, eventType events.EventType, list *models.List, subscriber *models.ListSubscriber) {
	if s.publisher == nil {
		return
	}
	events.PublishQuietly(ctx, s.publisher, events.NewEvent(eventType, list.CustomerID, events.SubscriberEventData{
		ListUID:       list.ListUID,
		SubscriberUID: subscriber.SubscriberUID,
		Email:         subscriber.Email,
		Status:        subscriber.Status,
	}))
}
