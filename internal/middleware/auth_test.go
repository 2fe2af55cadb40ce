package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailwizz/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubAuthService map[string]*auth.Principal

func (s stubAuthService) ValidateToken(token string) (*auth.Principal, error) {
	if p, ok := s[token]; ok {
		return p, nil
	}
	return nil, errors.New("invalid token")
}

func newTestRouter(guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := stubAuthService{
		"admin":    {ID: 1, Kind: auth.KindUser, Role: "admin"},
		"staff":    {ID: 2, Kind: auth.KindUser, Role: "staff"},
		"customer": {ID: 7, Kind: auth.KindCustomer, Role: auth.RoleCustomer},
	}

	router := gin.New()
	handlers := append([]gin.HandlerFunc{AuthRequired(tokens)}, guards...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "customer_id": GetCustomerID(c)})
	})
	router.GET("/", handlers...)
	return router
}

func request(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter()

	assert.Equal(t, http.StatusUnauthorized, request(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "Token admin").Code)
	assert.Equal(t, http.StatusUnauthorized, request(router, "Bearer unknown").Code)

	w := request(router, "Bearer customer")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"customer_id":7}`, w.Body.String())

	w = request(router, "Bearer admin")
	assert.JSONEq(t, `{"user_id":1,"customer_id":0}`, w.Body.String())
}

func TestAreaGuards(t *testing.T) {
	tests := []struct {
		name   string
		guard  gin.HandlerFunc
		token  string
		status int
	}{
		{"客户区域允许客户", CustomerRequired(), "customer", http.StatusOK},
		{"客户区域拒绝后台用户", CustomerRequired(), "admin", http.StatusForbidden},
		{"后台区域允许员工", BackendRequired(), "staff", http.StatusOK},
		{"后台区域拒绝客户", BackendRequired(), "customer", http.StatusForbidden},
		{"管理员功能拒绝员工", AdminRequired(), "staff", http.StatusForbidden},
		{"管理员功能允许管理员", AdminRequired(), "admin", http.StatusOK},
		{"多个角色", RoleRequired("admin", "staff"), "staff", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.guard)
			assert.Equal(t, tt.status, request(router, "Bearer "+tt.token).Code)
		})
	}
}

func TestRoleRequiredWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RoleRequired("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, request(router, "").Code)
}
