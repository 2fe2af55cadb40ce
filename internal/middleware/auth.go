package middleware

import (
	"log"

	"mailwizz/internal/auth"

	"github.com/gin-gonic/gin"
)

// context键
const (
	ContextPrincipal = "principal"
	ContextUserID    = "userID"
	ContextRole      = "role"
	ContextKind      = "kind"
)

// AuthService 认证服务接口
type AuthService interface {
	ValidateToken(tokenString string) (*auth.Principal, error)
}

// AuthRequired 认证中间件
func AuthRequired(authService AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			HandleUnauthorizedError(c, "Authorization header is required")
			return
		}

		token := auth.ExtractTokenFromHeader(authHeader)
		if token == "" {
			HandleUnauthorizedError(c, "Invalid authorization header format")
			return
		}

		principal, err := authService.ValidateToken(token)
		if err != nil {
			log.Printf("Token validation failed for %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			HandleUnauthorizedError(c, "Invalid or expired token")
			return
		}

		setPrincipal(c, principal)
		c.Next()
	}
}

func setPrincipal(c *gin.Context, p *auth.Principal) {
	c.Set(ContextPrincipal, p)
	c.Set(ContextUserID, p.ID)
	c.Set(ContextRole, p.Role)
	c.Set(ContextKind, p.Kind)
}

// KindRequired 限制主体类型（后台用户或客户）
func KindRequired(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKind) != kind {
			HandleForbiddenError(c, "This area is not available for your account")
			return
		}
		c.Next()
	}
}

// RoleRequired 角色权限中间件
func RoleRequired(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			HandleUnauthorizedError(c, "User role not found")
			return
		}

		userRole, _ := role.(string)
		for _, requiredRole := range requiredRoles {
			if userRole == requiredRole {
				c.Next()
				return
			}
		}

		HandleForbiddenError(c, "Insufficient permissions")
	}
}

// AdminRequired 后台管理员
func AdminRequired() gin.HandlerFunc {
	return RoleRequired("admin")
}

// CustomerRequired 客户区域
func CustomerRequired() gin.HandlerFunc {
	return KindRequired(auth.KindCustomer)
}

// BackendRequired 后台区域（管理员和员工）
func BackendRequired() gin.HandlerFunc {
	return KindRequired(auth.KindUser)
}

// GetPrincipal 从context中获取当前主体
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	value, exists := c.Get(ContextPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := value.(*auth.Principal)
	return p, ok
}

// GetUserID 从context中获取当前主体ID
func GetUserID(c *gin.Context) uint {
	userID, exists := c.Get(ContextUserID)
	if !exists {
		return 0
	}
	id, _ := userID.(uint)
	return id
}

// GetCustomerID 当前客户ID，非客户返回0
func GetCustomerID(c *gin.Context) uint {
	if c.GetString(ContextKind) != auth.KindCustomer {
		return 0
	}
	return GetUserID(c)
}
