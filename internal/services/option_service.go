package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const optionCacheTTL = 10 * time.Minute

// OptionService 应用设置的读写，值以JSON存储并缓存
type OptionService struct {
	db    *gorm.DB
	cache cache.Cache
}

// NewOptionService 创建设置服务
func NewOptionService(db *gorm.DB, cacheManager *cache.CacheManager) *OptionService {
	if cacheManager == nil {
		cacheManager = cache.GlobalCacheManager
	}
	return &OptionService{db: db, cache: cacheManager.OptionCache()}
}

func optionCacheKey(category, key string) string {
	return category + "." + key
}

// key是保留字，用map条件让gorm按方言加引号
func optionCondition(category, key string) map[string]interface{} {
	return map[string]interface{}{"category": category, "key": key}
}

// Get 读取设置并解码到target，返回设置是否存在
func (s *OptionService) Get(ctx context.Context, category, key string, target interface{}) (bool, error) {
	cacheKey := optionCacheKey(category, key)

	var option models.Option
	if !cache.Fetch(s.cache, cacheKey, &option) {
		err := s.db.WithContext(ctx).Where(optionCondition(category, key)).First(&option).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to load option %s: %w", cacheKey, err)
		}
		cache.Store(s.cache, cacheKey, &option, optionCacheTTL)
	}

	if err := option.Decode(target); err != nil {
		return true, err
	}
	return true, nil
}

// GetInt 读取整数设置，不存在或无法解码时返回默认值
func (s *OptionService) GetInt(ctx context.Context, category, key string, defaultValue int) int {
	var value int
	found, err := s.Get(ctx, category, key, &value)
	if err != nil {
		log.Printf("Warning: failed to read option %s, using default %d: %v", optionCacheKey(category, key), defaultValue, err)
		return defaultValue
	}
	if !found {
		return defaultValue
	}
	return value
}

// Set 写入设置
func (s *OptionService) Set(ctx context.Context, category, key string, value interface{}) error {
	option := &models.Option{Category: category, Key: key}
	if err := option.Encode(value); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(option).Error
	if err != nil {
		return fmt.Errorf("failed to save option %s: %w", optionCacheKey(category, key), err)
	}

	s.cache.Delete(optionCacheKey(category, key))
	return nil
}

// Delete 删除设置
func (s *OptionService) Delete(ctx context.Context, category, key string) error {
	err := s.db.WithContext(ctx).Where(optionCondition(category, key)).Delete(&models.Option{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete option %s: %w", optionCacheKey(category, key), err)
	}
	s.cache.Delete(optionCacheKey(category, key))
	return nil
}

// List 列出一个分类下的所有设置
func (s *OptionService) List(ctx context.Context, category string) ([]models.Option, error) {
	var options []models.Option
	err := s.db.WithContext(ctx).Where("category = ?", category).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).Find(&options).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list options in %s: %w", category, err)
	}
	return options, nil
}
