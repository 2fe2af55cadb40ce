package services

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"mailwizz/internal/validation"

	"gorm.io/gorm"
)

// isUniqueConstraintError 检查是否为唯一约束错误
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	errStrLower := strings.ToLower(err.Error())
	uniqueKeywords := []string{
		"unique constraint",
		"duplicate key",
		"duplicate entry",
		"unique violation",
	}
	for _, keyword := range uniqueKeywords {
		if strings.Contains(errStrLower, keyword) {
			return true
		}
	}
	return false
}

// notFound 把gorm的记录不存在错误转换为业务错误
func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

// Pagination 分页参数
type Pagination struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

// normalize 默认第一页，每页20条，最多100条
func (p Pagination) normalize() Pagination {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// apply 为查询添加分页
func (p Pagination) apply(query *gorm.DB) *gorm.DB {
	p = p.normalize()
	return query.Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize)
}

// Page 分页结果
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// paginate 统计总数并查询当前页
func paginate[T any](query *gorm.DB, p Pagination) (*Page[T], error) {
	p = p.normalize()

	// Session后的查询可以重复使用
	base := query.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]T, 0)
	if err := p.apply(base).Find(&items).Error; err != nil {
		return nil, err
	}

	return &Page[T]{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}

// emailDomain 邮箱的域名部分
func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// withinLimit limit为-1时不限制
func withinLimit(count int64, limit int) bool {
	return limit < 0 || count < int64(limit)
}

// 日期字段接受的格式
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"}

// validFieldValue 按字段类型检查提交的值，空值由必填规则处理
func validFieldValue(fieldType, value string) bool {
	if value == "" {
		return true
	}
	switch fieldType {
	case "email":
		return validation.Validator().Var(value, "email") == nil
	case "url":
		return validation.Validator().Var(value, "url") == nil
	case "number":
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	case "date", "datetime":
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, value); err == nil {
				return true
			}
		}
		return false
	}
	return true
}

// uniqueStrings 去掉空值和重复值，保留原顺序
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok || value == "" {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
