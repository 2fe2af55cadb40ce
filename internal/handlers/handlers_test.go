package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/config"
	"mailwizz/internal/database"
	"mailwizz/internal/events"
	"mailwizz/internal/mailer"
	"mailwizz/internal/middleware"
	"mailwizz/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	db        *gorm.DB
	router    *gin.Engine
	publisher *events.MemoryPublisher
	backupDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.InitializeInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	cfg := &config.Config{
		Auth:   config.AuthConfig{JWTSecret: "test-secret", JWTExpiry: time.Hour},
		Backup: config.BackupConfig{Dir: t.TempDir()},
	}
	publisher := events.NewMemoryPublisher(0)
	h := New(db, cfg, Dependencies{
		Cache:     cache.NewCacheManager(),
		Publisher: publisher,
		Sender:    mailer.NewMockSender(false),
	})

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	h.RegisterRoutes(router)

	for _, user := range []*models.User{
		{Username: "admin", Password: "admin123", Role: models.UserRoleAdmin, IsActive: true},
		{Username: "staff", Password: "staff123", Role: models.UserRoleStaff, IsActive: true},
	} {
		require.NoError(t, db.Create(user).Error)
	}
	return &testServer{db: db, router: router, publisher: publisher, backupDir: cfg.Backup.Dir}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// data 取出成功响应中的data
func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.True(t, resp.Success, w.Body.String())
	return resp.Data
}

func (s *testServer) login(t *testing.T, path string, body interface{}) string {
	t.Helper()
	w := s.do(t, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := data(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *testServer) adminToken(t *testing.T) string {
	return s.login(t, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "admin123"})
}

// customerToken 由管理员创建客户并登录
func (s *testServer) customerToken(t *testing.T, admin, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/admin/customers", admin, map[string]string{
		"email":    email,
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return s.login(t, "/api/v1/auth/customer/login", map[string]string{"email": email, "password": "secret123"})
}

func newListBody(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":       name,
		"visibility": models.ListVisibilityPublic,
		"opt_in":     models.OptInOutDouble,
		"opt_out":    models.OptInOutSingle,
		"from_name":  "Acme",
		"from_email": "news@acme.test",
		"status":     models.ListStatusActive,
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	t.Run("缺少令牌", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/customer/lists", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/customer/lists", "not-a-token", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("错误的密码", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	admin := s.adminToken(t)
	customer := s.customerToken(t, admin, "owner@example.com")

	t.Run("后台和客户区域分开", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/customer/lists", admin, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/admin/customers", customer, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/customer/lists", customer, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("当前主体", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/auth/me", customer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "owner@example.com", data(t, w)["email"])
		assert.NotContains(t, w.Body.String(), "password")
	})

	t.Run("设置只允许管理员", func(t *testing.T) {
		staff := s.login(t, "/api/v1/auth/login", map[string]string{"username": "staff", "password": "staff123"})
		w := s.do(t, http.MethodGet, "/api/v1/admin/options/system.common", staff, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/admin/customers", staff, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("修改密码后旧令牌失效", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/auth/change-password", customer, map[string]string{
			"old_password": "wrong-password",
			"new_password": "changed123",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/api/v1/auth/change-password", customer, map[string]string{
			"old_password": "secret123",
			"new_password": "changed123",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		s.login(t, "/api/v1/auth/customer/login", map[string]string{"email": "owner@example.com", "password": "changed123"})
	})
}

func TestListEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken(t)
	customer := s.customerToken(t, admin, "owner@example.com")

	w := s.do(t, http.MethodPost, "/api/v1/customer/lists", customer, newListBody("Newsletter"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	listUID, _ := data(t, w)["list_uid"].(string)
	require.Len(t, listUID, 13)

	t.Run("字段验证错误", func(t *testing.T) {
		body := newListBody("")
		body["from_email"] = "not-an-email"
		w := s.do(t, http.MethodPost, "/api/v1/customer/lists", customer, body)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		details, _ := resp.Details.(map[string]interface{})
		assert.Contains(t, details, "name")
		assert.Contains(t, details, "from_email")
	})

	t.Run("其他客户看不到列表", func(t *testing.T) {
		stranger := s.customerToken(t, admin, "stranger@example.com")
		w := s.do(t, http.MethodGet, "/api/v1/customer/lists/"+listUID, stranger, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("公开订阅和确认", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/lists/"+listUID+"/subscribe", "", map[string]interface{}{"email": "Reader@Example.com"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		result := data(t, w)
		assert.Equal(t, models.SubscriberStatusUnconfirmed, result["status"])
		subscriberUID, _ := result["subscriber_uid"].(string)

		path := "/lists/" + listUID + "/confirm-subscribe/" + subscriberUID
		w = s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "Subscription confirmed")

		w = s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "already confirmed")

		path = "/lists/" + listUID + "/unsubscribe/" + subscriberUID
		w = s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		w = s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Already unsubscribed")

		w = s.do(t, http.MethodPost, "/lists/"+listUID+"/subscribe", "", map[string]interface{}{"email": "reader@example.com"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		w = s.do(t, http.MethodGet, "/lists/missing/unsubscribe/"+subscriberUID, "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("EMAIL字段不能删除", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/customer/lists/"+listUID+"/fields", customer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data []models.ListField `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)

		w = s.do(t, http.MethodDelete, "/api/v1/customer/lists/"+listUID+"/fields/"+strconv.FormatUint(uint64(resp.Data[0].ID), 10), customer, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestCampaignEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken(t)
	customer := s.customerToken(t, admin, "owner@example.com")

	w := s.do(t, http.MethodPost, "/api/v1/customer/lists", customer, newListBody("Newsletter"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	listUID, _ := data(t, w)["list_uid"].(string)

	w = s.do(t, http.MethodPost, "/api/v1/customer/campaigns", customer, map[string]interface{}{
		"list_uid": listUID,
		"name":     "Launch",
		"subject":  "Hello",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	campaignUID, _ := data(t, w)["campaign_uid"].(string)
	require.NotEmpty(t, campaignUID)

	base := "/api/v1/customer/campaigns/" + campaignUID

	t.Run("状态流转", func(t *testing.T) {
		w := s.do(t, http.MethodPost, base+"/pause", customer, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = s.do(t, http.MethodPost, base+"/schedule", customer, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, models.CampaignStatusPendingSending, data(t, w)["status"])

		w = s.do(t, http.MethodPost, "/api/v1/admin/campaigns/"+campaignUID+"/block", admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, models.CampaignStatusBlocked, data(t, w)["status"])

		w = s.do(t, http.MethodPost, "/api/v1/admin/campaigns/"+campaignUID+"/approve", admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, s.publisher.Events(events.EventCampaignStatusChanged), 3)
	})

	t.Run("追踪", func(t *testing.T) {
		w := s.do(t, http.MethodPost, base+"/urls", customer, map[string]string{"destination": "https://example.com/offer"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		hash, _ := data(t, w)["hash"].(string)

		w = s.do(t, http.MethodPost, "/lists/"+listUID+"/subscribe", "", map[string]interface{}{"email": "reader@example.com"})
		require.Equal(t, http.StatusCreated, w.Code)
		subscriberUID, _ := data(t, w)["subscriber_uid"].(string)

		w = s.do(t, http.MethodGet, "/campaigns/"+campaignUID+"/track-opening/"+subscriberUID, "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
		assert.Equal(t, trackingPixel, w.Body.Bytes())

		// 未知的活动也返回像素
		w = s.do(t, http.MethodGet, "/campaigns/missing/track-opening/"+subscriberUID, "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, trackingPixel, w.Body.Bytes())

		w = s.do(t, http.MethodGet, "/campaigns/"+campaignUID+"/track-url/"+subscriberUID+"/"+hash, "", nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.com/offer", w.Header().Get("Location"))

		w = s.do(t, http.MethodGet, "/campaigns/"+campaignUID+"/track-url/"+subscriberUID+"/missing", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = s.do(t, http.MethodGet, base+"/stats", customer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		stats := data(t, w)
		assert.EqualValues(t, 1, stats["opens"])
		assert.EqualValues(t, 1, stats["clicks"])
	})

	t.Run("管理员可以查看所有活动", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/admin/campaigns", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, data(t, w)["total"])
	})
}

func TestOptionEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken(t)
	path := "/api/v1/admin/options/system.common/site_name"

	w := s.do(t, http.MethodGet, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, path, admin, map[string]interface{}{"value": "MailWizz"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MailWizz", data(t, w)["value"])

	w = s.do(t, http.MethodPut, "/api/v1/admin/options/System/bad%20key", admin, map[string]interface{}{"value": 1})
	assert.NotEqual(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetaEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken(t)

	w := s.do(t, http.MethodGet, "/api/v1/meta/models/list", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	labels, _ := data(t, w)["labels"].(map[string]interface{})
	assert.Equal(t, "Name", labels["name"])

	w = s.do(t, http.MethodGet, "/api/v1/meta/models/unknown", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/meta/server-presets?domain=gmail.com", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "smtp.gmail.com", data(t, w)["smtp_host"])

	w = s.do(t, http.MethodGet, "/api/v1/meta/server-presets?name=missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/maintenance/housekeeping", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "unconfirmed_subscribers")

	w = s.do(t, http.MethodGet, "/api/v1/admin/maintenance/webhooks", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/admin/maintenance/bounces", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/admin/maintenance/backups/missing.db/validate", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/maintenance/backups/mailwizz_backup_missing.db/validate", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("损坏的备份返回无效", func(t *testing.T) {
		name := "mailwizz_backup_broken.db"
		require.NoError(t, os.WriteFile(filepath.Join(s.backupDir, name), []byte("not a database"), 0644))

		w := s.do(t, http.MethodGet, "/api/v1/admin/maintenance/backups/"+name+"/validate", admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, false, data(t, w)["is_valid"])
	})
}
