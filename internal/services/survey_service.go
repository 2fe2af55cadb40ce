package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailwizz/internal/events"
	"mailwizz/internal/models"
	"mailwizz/internal/validation"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 评分字段的取值范围
const (
	minRating = 1
	maxRating = 5
)

// SurveyService 调查、字段和回答
type SurveyService struct {
	db        *gorm.DB
	publisher events.EventPublisher
	now       func() time.Time
}

// NewSurveyService 创建调查服务
func NewSurveyService(db *gorm.DB, publisher events.EventPublisher) *SurveyService {
	return &SurveyService{db: db, publisher: publisher, now: time.Now}
}

// ListSurveys 分页列出客户的调查
func (s *SurveyService) ListSurveys(ctx context.Context, customerID uint, p Pagination) (*Page[models.Survey], error) {
	query := s.db.WithContext(ctx).Model(&models.Survey{}).
		Where("customer_id = ? AND status <> ?", customerID, models.SurveyStatusPendingDelete).
		Order("id DESC")
	page, err := paginate[models.Survey](query, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list surveys: %w", err)
	}
	return page, nil
}

// GetSurvey 获取调查及字段和选项，customerID为0时不限制客户
func (s *SurveyService) GetSurvey(ctx context.Context, customerID uint, surveyUID string) (*models.Survey, error) {
	var survey models.Survey
	query := s.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, id ASC") }).
		Preload("Fields.Options").
		Where("survey_uid = ? AND status <> ?", surveyUID, models.SurveyStatusPendingDelete)
	if customerID != 0 {
		query = query.Where("customer_id = ?", customerID)
	}
	if err := query.First(&survey).Error; err != nil {
		return nil, notFound(err, ErrSurveyNotFound)
	}
	return &survey, nil
}

// SaveSurvey 创建或更新调查
func (s *SurveyService) SaveSurvey(ctx context.Context, survey *models.Survey) error {
	if survey.ID != 0 {
		var existing models.Survey
		err := s.db.WithContext(ctx).Where("id = ? AND customer_id = ?", survey.ID, survey.CustomerID).First(&existing).Error
		if err != nil {
			return notFound(err, ErrSurveyNotFound)
		}
		survey.SurveyUID = existing.SurveyUID
		survey.CreatedAt = existing.CreatedAt
	}
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(survey).Error
}

// DeleteSurvey 标记为待删除
func (s *SurveyService) DeleteSurvey(ctx context.Context, survey *models.Survey) error {
	return s.db.WithContext(ctx).Model(survey).UpdateColumn("status", models.SurveyStatusPendingDelete).Error
}

// SaveField 创建或更新字段，带选项的字段同时替换选项
func (s *SurveyService) SaveField(ctx context.Context, survey *models.Survey, field *models.SurveyField) error {
	field.SurveyID = survey.ID
	options := field.Options

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if field.ID != 0 {
			var existing models.SurveyField
			if err := tx.Where("id = ? AND survey_id = ?", field.ID, survey.ID).First(&existing).Error; err != nil {
				return notFound(err, ErrSurveyFieldNotFound)
			}
			field.CreatedAt = existing.CreatedAt
		}
		if err := tx.Omit(clause.Associations).Save(field).Error; err != nil {
			return err
		}
		if !field.HasOptions() {
			field.Options = nil
			return tx.Where("field_id = ?", field.ID).Delete(&models.SurveyFieldOption{}).Error
		}

		if err := tx.Where("field_id = ?", field.ID).Delete(&models.SurveyFieldOption{}).Error; err != nil {
			return err
		}
		saved := make([]models.SurveyFieldOption, 0, len(options))
		for _, option := range options {
			option.ID = 0
			option.FieldID = field.ID
			if err := tx.Omit(clause.Associations).Create(&option).Error; err != nil {
				return err
			}
			saved = append(saved, option)
		}
		field.Options = saved
		return nil
	})
}

// DeleteField 删除字段及其选项和回答值
func (s *SurveyService) DeleteField(ctx context.Context, survey *models.Survey, fieldID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var field models.SurveyField
		if err := tx.Where("id = ? AND survey_id = ?", fieldID, survey.ID).First(&field).Error; err != nil {
			return notFound(err, ErrSurveyFieldNotFound)
		}
		if err := tx.Where("field_id = ?", field.ID).Delete(&models.SurveyFieldOption{}).Error; err != nil {
			return err
		}
		if err := tx.Where("field_id = ?", field.ID).Delete(&models.SurveyFieldValue{}).Error; err != nil {
			return err
		}
		return tx.Delete(&field).Error
	})
}

// SurveyResponseRequest 回答请求，Values以字段ID为键，多选字段用逗号分隔
type SurveyResponseRequest struct {
	Values        map[uint]string `json:"values"`
	SubscriberUID string          `json:"subscriber_uid"`
	IPAddress     string          `json:"-"`
}

// SubmitResponse 检查调查是否开放和每个字段的值，在一个事务中保存回答者和字段值
func (s *SurveyService) SubmitResponse(ctx context.Context, survey *models.Survey, req *SurveyResponseRequest) (*models.SurveyResponder, error) {
	if !survey.IsOpenAt(s.now()) {
		return nil, ErrSurveyClosed
	}

	values, err := validateSurveyValues(survey.Fields, req.Values)
	if err != nil {
		return nil, err
	}

	responder := &models.SurveyResponder{
		SurveyID:  survey.ID,
		IPAddress: validIP(req.IPAddress),
		Status:    models.ResponderStatusActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.SubscriberUID != "" {
			// 只关联问卷所有者名单里的订阅者
			var subscriber models.ListSubscriber
			err := tx.Joins("JOIN lists ON lists.id = list_subscribers.list_id").
				Where("list_subscribers.subscriber_uid = ? AND lists.customer_id = ?", req.SubscriberUID, survey.CustomerID).
				First(&subscriber).Error
			if err != nil {
				return notFound(err, ErrSubscriberNotFound)
			}
			responder.SubscriberID = &subscriber.ID
		}
		if err := tx.Omit(clause.Associations).Create(responder).Error; err != nil {
			return err
		}
		for fieldID, value := range values {
			item := &models.SurveyFieldValue{FieldID: fieldID, ResponderID: responder.ID, Value: value}
			if err := tx.Omit(clause.Associations).Create(item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.PublishQuietly(ctx, s.publisher, events.NewEvent(events.EventSurveyResponded, survey.CustomerID, map[string]string{
		"survey_uid":    survey.SurveyUID,
		"responder_uid": responder.ResponderUID,
	}))
	return responder, nil
}

// validateSurveyValues 按字段规则检查回答，错误以字段ID为键
func validateSurveyValues(fields []models.SurveyField, submitted map[uint]string) (map[uint]string, error) {
	errs := validation.Errors{}
	values := make(map[uint]string, len(fields))

	for _, field := range fields {
		key := strconv.FormatUint(uint64(field.ID), 10)
		value := strings.TrimSpace(submitted[field.ID])
		if value == "" {
			value = field.DefaultValue
		}
		if value == "" {
			if field.Required {
				errs.Add(key, validation.Message("required", "", field.Label))
			}
			continue
		}
		if msg := checkSurveyValue(&field, value); msg != "" {
			errs.Add(key, msg)
			continue
		}
		values[field.ID] = value
	}

	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return values, nil
}

// checkSurveyValue 返回错误消息，合法时返回空字符串
func checkSurveyValue(field *models.SurveyField, value string) string {
	label := field.Label

	length := len([]rune(value))
	if field.MinLength > 0 && length < field.MinLength {
		return fmt.Sprintf("%s is too short (minimum is %d characters).", label, field.MinLength)
	}
	if field.MaxLength > 0 && length > field.MaxLength {
		return fmt.Sprintf("%s is too long (maximum is %d characters).", label, field.MaxLength)
	}

	switch field.Type {
	case models.SurveyFieldTypeRating:
		n, err := strconv.Atoi(value)
		if err != nil || n < minRating || n > maxRating {
			return fmt.Sprintf("%s must be between %d and %d.", label, minRating, maxRating)
		}
		return ""
	case models.SurveyFieldTypeConsentCheckbox, models.SurveyFieldTypeCheckbox:
		return ""
	}

	if field.HasOptions() {
		allowed := make(map[string]bool, len(field.Options))
		for _, option := range field.Options {
			allowed[option.Value] = true
		}
		choices := []string{value}
		if field.IsMultiValue() {
			choices = strings.Split(value, ",")
		}
		for _, choice := range choices {
			if !allowed[strings.TrimSpace(choice)] {
				return fmt.Sprintf("%s is invalid.", label)
			}
		}
		return ""
	}

	if !validFieldValue(field.Type, value) {
		return fmt.Sprintf("%s is invalid.", label)
	}
	return ""
}

// ResponderFilter 回答者列表过滤条件
type ResponderFilter struct {
	Pagination
	Status string `form:"status"`
}

// ListResponders 分页列出调查的回答者及其回答
func (s *SurveyService) ListResponders(ctx context.Context, survey *models.Survey, filter ResponderFilter) (*Page[models.SurveyResponder], error) {
	query := s.db.WithContext(ctx).Model(&models.SurveyResponder{}).
		Preload("Values").
		Where("survey_id = ?", survey.ID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	page, err := paginate[models.SurveyResponder](query.Order("id DESC"), filter.Pagination)
	if err != nil {
		return nil, fmt.Errorf("failed to list survey responders: %w", err)
	}
	return page, nil
}
