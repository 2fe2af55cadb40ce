package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailwizz/internal/models"

	"gorm.io/gorm"
)

// CustomerService 客户和客户分组管理
type CustomerService struct {
	db *gorm.DB
}

// NewCustomerService 创建客户服务
func NewCustomerService(db *gorm.DB) *CustomerService {
	return &CustomerService{db: db}
}

// CreateCustomerRequest 创建客户请求
type CreateCustomerRequest struct {
	GroupID   *uint  `json:"group_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required,min=6"`
	Timezone  string `json:"timezone"`
	Status    string `json:"status"`
}

// UpdateCustomerRequest 更新客户请求，nil字段保持不变
type UpdateCustomerRequest struct {
	GroupID   *uint   `json:"group_id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	Timezone  *string `json:"timezone"`
	Status    *string `json:"status"`
}

// CustomerFilter 客户列表过滤条件
type CustomerFilter struct {
	Pagination
	Status  string `form:"status"`
	GroupID uint   `form:"group_id"`
	Search  string `form:"search"`
}

// ListCustomers 分页列出客户
func (s *CustomerService) ListCustomers(ctx context.Context, filter CustomerFilter) (*Page[models.Customer], error) {
	query := s.db.WithContext(ctx).Model(&models.Customer{}).Preload("Group")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.GroupID != 0 {
		query = query.Where("group_id = ?", filter.GroupID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("email LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like, like)
	}

	page, err := paginate[models.Customer](query.Order("id DESC"), filter.Pagination)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return page, nil
}

// GetCustomer 按ID获取客户（含分组）
func (s *CustomerService) GetCustomer(ctx context.Context, id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).Preload("Group").First(&customer, id).Error; err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

// GetCustomerByUID 按uid获取客户
func (s *CustomerService) GetCustomerByUID(ctx context.Context, uid string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).Preload("Group").Where("customer_uid = ?", uid).First(&customer).Error; err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

// CreateCustomer 创建客户，未指定分组时使用默认分组
func (s *CustomerService) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*models.Customer, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	customer := &models.Customer{
		GroupID:   req.GroupID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     req.Email,
		Password:  req.Password,
		Timezone:  req.Timezone,
		Status:    req.Status,
	}
	if customer.Timezone == "" {
		customer.Timezone = "UTC"
	}
	if customer.Status == "" {
		customer.Status = models.CustomerStatusActive
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if customer.GroupID == nil {
			group, err := s.defaultGroup(tx)
			if err != nil {
				return err
			}
			if group != nil {
				customer.GroupID = &group.ID
			}
		} else if err := tx.First(&models.CustomerGroup{}, *customer.GroupID).Error; err != nil {
			return notFound(err, ErrGroupNotFound)
		}
		return tx.Create(customer).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("customer with email %s already exists", customer.Email)
		}
		return nil, err
	}
	return customer, nil
}

// UpdateCustomer 更新客户
func (s *CustomerService) UpdateCustomer(ctx context.Context, id uint, req *UpdateCustomerRequest) (*models.Customer, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	var customer models.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&customer, id).Error; err != nil {
			return notFound(err, ErrCustomerNotFound)
		}
		if req.GroupID != nil {
			if err := tx.First(&models.CustomerGroup{}, *req.GroupID).Error; err != nil {
				return notFound(err, ErrGroupNotFound)
			}
			customer.GroupID = req.GroupID
			customer.Group = nil
		}
		if req.FirstName != nil {
			customer.FirstName = strings.TrimSpace(*req.FirstName)
		}
		if req.LastName != nil {
			customer.LastName = strings.TrimSpace(*req.LastName)
		}
		if req.Email != nil {
			customer.Email = *req.Email
		}
		if req.Password != nil && *req.Password != "" {
			customer.Password = *req.Password
		}
		if req.Timezone != nil {
			customer.Timezone = *req.Timezone
		}
		if req.Status != nil {
			customer.Status = *req.Status
		}
		return tx.Save(&customer).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("customer with email %s already exists", customer.Email)
		}
		return nil, err
	}
	return &customer, nil
}

// DeleteCustomer 把客户标记为待删除，数据由定时清理删除
func (s *CustomerService) DeleteCustomer(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", id).
		UpdateColumn("status", models.CustomerStatusPendingDelete)
	if result.Error != nil {
		return fmt.Errorf("failed to delete customer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// defaultGroup 默认分组，不存在时返回nil
func (s *CustomerService) defaultGroup(db *gorm.DB) (*models.CustomerGroup, error) {
	var group models.CustomerGroup
	err := db.Where("is_default = ?", true).Order("id ASC").First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups 列出所有客户分组
func (s *CustomerService) ListGroups(ctx context.Context) ([]models.CustomerGroup, error) {
	var groups []models.CustomerGroup
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("failed to list customer groups: %w", err)
	}
	return groups, nil
}

// GetGroup 获取分组及其可用的系统投递服务器
func (s *CustomerService) GetGroup(ctx context.Context, id uint) (*models.CustomerGroup, error) {
	var group models.CustomerGroup
	if err := s.db.WithContext(ctx).Preload("DeliveryServers").First(&group, id).Error; err != nil {
		return nil, notFound(err, ErrGroupNotFound)
	}
	return &group, nil
}

// SaveGroup 创建或更新分组；设为默认分组时取消其它分组的默认标记
func (s *CustomerService) SaveGroup(ctx context.Context, group *models.CustomerGroup) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if group.ID != 0 {
			if err := tx.First(&models.CustomerGroup{}, group.ID).Error; err != nil {
				return notFound(err, ErrGroupNotFound)
			}
		}
		if err := tx.Omit("DeliveryServers", "Customers").Save(group).Error; err != nil {
			return err
		}
		if group.IsDefault {
			return tx.Model(&models.CustomerGroup{}).
				Where("id <> ? AND is_default = ?", group.ID, true).
				UpdateColumn("is_default", false).Error
		}
		return nil
	})
}

// DeleteGroup 删除分组，分组下的客户变为无分组
func (s *CustomerService) DeleteGroup(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CustomerGroup
		if err := tx.First(&group, id).Error; err != nil {
			return notFound(err, ErrGroupNotFound)
		}
		if err := tx.Model(&models.Customer{}).Where("group_id = ?", id).UpdateColumn("group_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&group).Association("DeliveryServers").Clear(); err != nil {
			return err
		}
		return tx.Delete(&group).Error
	})
}

// AttachServersToGroup 设置分组可用的系统投递服务器，替换原有关联
func (s *CustomerService) AttachServersToGroup(ctx context.Context, groupID uint, serverIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CustomerGroup
		if err := tx.First(&group, groupID).Error; err != nil {
			return notFound(err, ErrGroupNotFound)
		}

		servers := make([]models.DeliveryServer, 0, len(serverIDs))
		if len(serverIDs) > 0 {
			if err := tx.Where("id IN ? AND customer_id IS NULL", serverIDs).Find(&servers).Error; err != nil {
				return err
			}
			if len(servers) != len(serverIDs) {
				return fmt.Errorf("only system delivery servers can be attached to a group: %w", ErrDeliveryServerNotFound)
			}
		}

		// 关联替换不需要重新保存服务器本身
		return tx.Model(&group).Omit("DeliveryServers.*").Association("DeliveryServers").Replace(servers)
	})
}
