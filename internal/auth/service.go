package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/models"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenCacheTTL = 15 * time.Minute

// Service 认证服务
type Service struct {
	db           *gorm.DB
	jwtManager   *JWTManager
	cacheManager *cache.CacheManager
}

// NewService 创建认证服务
func NewService(db *gorm.DB, jwtManager *JWTManager, cacheManager *cache.CacheManager) *Service {
	if cacheManager == nil {
		cacheManager = cache.GlobalCacheManager
	}
	return &Service{
		db:           db,
		jwtManager:   jwtManager,
		cacheManager: cacheManager,
	}
}

// LoginRequest 后台用户登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CustomerLoginRequest 客户登录请求
type CustomerLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Principal *Principal `json:"principal"`
}

// UserPrincipal 由后台用户生成主体
func UserPrincipal(u *models.User) *Principal {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return &Principal{
		ID:    u.ID,
		UID:   u.UserUID,
		Kind:  KindUser,
		Name:  name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// CustomerPrincipal 由客户生成主体
func CustomerPrincipal(c *models.Customer) *Principal {
	return &Principal{
		ID:    c.ID,
		UID:   c.CustomerUID,
		Kind:  KindCustomer,
		Name:  c.FullName(),
		Email: c.Email,
		Role:  RoleCustomer,
	}
}

// Login 后台用户登录
func (s *Service) Login(req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if !user.CheckPassword(req.Password) {
		return nil, ErrInvalidCredentials
	}

	// 更新登录信息，不触发模型钩子
	now := time.Now()
	s.db.Model(&user).UpdateColumns(map[string]interface{}{
		"last_login_at": now,
		"login_count":   gorm.Expr("login_count + 1"),
	})

	return s.issue(UserPrincipal(&user))
}

// LoginCustomer 客户登录
func (s *Service) LoginCustomer(req *CustomerLoginRequest) (*LoginResponse, error) {
	var customer models.Customer
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.db.Where("email = ?", email).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !customer.CheckPassword(req.Password) {
		return nil, ErrInvalidCredentials
	}

	if !customer.IsActive() {
		return nil, ErrUserInactive
	}

	s.db.Model(&customer).UpdateColumn("last_login_at", time.Now())

	return s.issue(CustomerPrincipal(&customer))
}

func (s *Service) issue(p *Principal) (*LoginResponse, error) {
	token, err := s.jwtManager.GenerateToken(p)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.jwtManager.Expiry()),
		Principal: p,
	}, nil
}

// ValidateToken 验证token并返回最新的主体信息
func (s *Service) ValidateToken(tokenString string) (*Principal, error) {
	cacheKey := fmt.Sprintf("token:%s", tokenString)

	var cached Principal
	if cache.Fetch(s.cacheManager.AuthCache(), cacheKey, &cached) {
		return &cached, nil
	}

	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var principal *Principal
	switch claims.Kind {
	case KindCustomer:
		var customer models.Customer
		if err := s.db.First(&customer, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		if !customer.IsActive() {
			return nil, ErrUserInactive
		}
		principal = CustomerPrincipal(&customer)
	case KindUser:
		var user models.User
		if err := s.db.First(&user, claims.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		if !user.IsActive {
			return nil, ErrUserInactive
		}
		principal = UserPrincipal(&user)
	default:
		return nil, ErrInvalidToken
	}

	cache.Store(s.cacheManager.AuthCache(), cacheKey, principal, tokenCacheTTL)
	return principal, nil
}

// RefreshToken 刷新token
func (s *Service) RefreshToken(tokenString string) (*LoginResponse, error) {
	principal, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	newToken, err := s.jwtManager.RefreshToken(tokenString)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token:     newToken,
		ExpiresAt: time.Now().Add(s.jwtManager.Expiry()),
		Principal: principal,
	}, nil
}

// Logout 使token的缓存失效
func (s *Service) Logout(tokenString string) {
	s.cacheManager.AuthCache().Delete(fmt.Sprintf("token:%s", tokenString))
}

// ChangePassword 修改后台用户密码
func (s *Service) ChangePassword(userID uint, oldPassword, newPassword string) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if !user.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}

	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	return s.db.Save(&user).Error
}

// ChangeCustomerPassword 修改客户密码
func (s *Service) ChangeCustomerPassword(customerID uint, oldPassword, newPassword string) error {
	var customer models.Customer
	if err := s.db.First(&customer, customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if !customer.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}

	// 明文密码会在BeforeUpdate钩子中加密
	customer.Password = newPassword
	return s.db.Save(&customer).Error
}
