package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"mailwizz/internal/auth"
	"mailwizz/internal/cache"
	"mailwizz/internal/config"
	"mailwizz/internal/events"
	"mailwizz/internal/mailer"
	"mailwizz/internal/middleware"
	"mailwizz/internal/proxy"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies 由启动程序创建的外部依赖，为空时使用默认实现
type Dependencies struct {
	Cache     *cache.CacheManager
	Publisher events.EventPublisher
	Sender    mailer.Sender
	Proxy     *proxy.ProxyConfig
}

// LoadDependencies 按配置创建缓存、事件发布器、发信器和出站代理
func LoadDependencies(cfg *config.Config) (Dependencies, error) {
	deps := Dependencies{Cache: cache.GlobalCacheManager}

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return deps, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Cache = cache.NewRedisCacheManager(client, cfg.Redis.Prefix)
		log.Printf("Using redis cache at %s", cfg.Redis.Addr)
	}

	if cfg.Outbound.ProxyURL != "" {
		proxyCfg, err := proxy.ParseURL(cfg.Outbound.ProxyURL)
		if err != nil {
			return deps, fmt.Errorf("invalid outbound proxy: %w", err)
		}
		deps.Proxy = proxyCfg
	}

	if config.Env.ShouldMockDelivery() {
		log.Println("Delivery is mocked, no email will leave this process")
		deps.Sender = mailer.NewMockSender(true)
	} else {
		deps.Sender = mailer.NewSMTPSender()
	}

	deps.Publisher = events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	return deps, nil
}

// Close 关闭事件发布器
func (d Dependencies) Close() error {
	if d.Publisher == nil {
		return nil
	}
	return d.Publisher.Close()
}

// Handler HTTP处理器
type Handler struct {
	db          *gorm.DB
	config      *config.Config
	authService *auth.Service
	cache       *cache.CacheManager
	publisher   events.EventPublisher

	customers     *services.CustomerService
	quota         *services.QuotaService
	servers       *services.DeliveryServerService
	bounceServers *services.BounceServerService
	lists         *services.ListService
	campaigns     *services.CampaignService
	tracking      *services.TrackingService
	surveys       *services.SurveyService
	options       *services.OptionService

	webhookService      services.WebhookService
	bounceProcessor     services.BounceProcessor
	housekeepingService services.HousekeepingService
	backupService       services.BackupService
}

// New 创建处理器实例
func New(db *gorm.DB, cfg *config.Config, deps Dependencies) *Handler {
	if deps.Cache == nil {
		deps.Cache = cache.GlobalCacheManager
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewMemoryPublisher(0)
	}
	if deps.Sender == nil {
		deps.Sender = mailer.NewSMTPSender()
	}

	// 创建JWT管理器和认证服务
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	authService := auth.NewService(db, jwtManager, deps.Cache)

	quota := services.NewQuotaService(db, deps.Cache, deps.Publisher, cfg.Quota.CacheTTL)
	lists := services.NewListService(db, deps.Publisher)
	webhooks := services.NewWebhookService(db, cfg.Webhooks)
	bounceServers := services.NewBounceServerService(db, deps.Proxy, cfg.Bounce.Timeout)
	options := services.NewOptionService(db, deps.Cache)

	return &Handler{
		db:          db,
		config:      cfg,
		authService: authService,
		cache:       deps.Cache,
		publisher:   deps.Publisher,

		customers:     services.NewCustomerService(db),
		quota:         quota,
		servers:       services.NewDeliveryServerService(db, deps.Sender, quota, deps.Cache, deps.Proxy),
		bounceServers: bounceServers,
		lists:         lists,
		campaigns:     services.NewCampaignService(db, deps.Publisher),
		tracking:      services.NewTrackingService(db, webhooks, deps.Publisher),
		surveys:       services.NewSurveyService(db, deps.Publisher),
		options:       options,

		webhookService:      webhooks,
		bounceProcessor:     services.NewBounceProcessor(db, cfg.Bounce, bounceServers, lists, deps.Publisher),
		housekeepingService: services.NewHousekeepingService(db, cfg.Housekeeping, options),
		backupService:       services.NewBackupService(db, cfg.Database.Path, cfg.Backup),
	}
}

// AuthRequired 返回认证中间件
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return middleware.AuthRequired(h.authService)
}

// GetAuthService 获取认证服务
func (h *Handler) GetAuthService() middleware.AuthService {
	return h.authService
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	status := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "MailWizz",
		"version":  "1.0.0",
		"features": config.Env.GetFeatureFlags(),
	})
}

// StartSchedulers 按配置启动后台调度器
func (h *Handler) StartSchedulers(ctx context.Context) {
	if !config.Env.ShouldRunSchedulers() {
		log.Println("Schedulers disabled for this environment")
		return
	}
	if h.config.Webhooks.Enabled {
		if err := h.webhookService.StartScheduler(ctx); err != nil {
			log.Printf("Warning: Failed to start webhook queue service: %v", err)
		}
	}
	if h.config.Bounce.Enabled {
		if err := h.bounceProcessor.StartScheduler(ctx); err != nil {
			log.Printf("Warning: Failed to start bounce processing service: %v", err)
		}
	}
	if h.config.Housekeeping.Enabled {
		if err := h.housekeepingService.StartScheduler(ctx); err != nil {
			log.Printf("Warning: Failed to start housekeeping service: %v", err)
		}
	}
	if h.config.Backup.Enabled {
		if err := h.backupService.StartScheduler(ctx); err != nil {
			log.Printf("Warning: Failed to start backup service: %v", err)
		}
	}
}

// StopSchedulers 停止已启动的调度器
func (h *Handler) StopSchedulers() {
	if !config.Env.ShouldRunSchedulers() {
		return
	}
	if h.config.Webhooks.Enabled {
		h.webhookService.StopScheduler()
	}
	if h.config.Bounce.Enabled {
		h.bounceProcessor.StopScheduler()
	}
	if h.config.Housekeeping.Enabled {
		h.housekeepingService.StopScheduler()
	}
	if h.config.Backup.Enabled {
		h.backupService.StopScheduler()
	}
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// respondWithError 返回错误响应
func (h *Handler) respondWithError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// respondWithSuccess 返回成功响应
func (h *Handler) respondWithSuccess(c *gin.Context, data interface{}, message ...string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// respondWithCreated 返回创建成功响应
func (h *Handler) respondWithCreated(c *gin.Context, data interface{}, message ...string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusCreated, response)
}

var notFoundErrors = []error{
	services.ErrCustomerNotFound,
	services.ErrGroupNotFound,
	services.ErrDeliveryServerNotFound,
	services.ErrBounceServerNotFound,
	services.ErrListNotFound,
	services.ErrListFieldNotFound,
	services.ErrSubscriberNotFound,
	services.ErrCampaignNotFound,
	services.ErrShareCodeNotFound,
	services.ErrWebhookNotFound,
	services.ErrSurveyNotFound,
	services.ErrSurveyFieldNotFound,
	services.ErrURLNotFound,
	services.ErrBackupNotFound,
}

var conflictErrors = []error{
	services.ErrInvalidStatusTransition,
	services.ErrMaxListsReached,
	services.ErrMaxSubscribersReached,
	services.ErrMaxCampaignsReached,
	services.ErrShareCodeUsed,
	services.ErrSameList,
}

// respondWithServiceError 按服务错误选择状态码
func (h *Handler) respondWithServiceError(c *gin.Context, err error) {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			middleware.HandleError(c, err, http.StatusNotFound)
			return
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			middleware.HandleConflictError(c, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, services.ErrOverQuota):
		middleware.HandleError(c, err, http.StatusTooManyRequests)
	case errors.Is(err, services.ErrServerLocked), errors.Is(err, services.ErrEmailFieldProtected), errors.Is(err, services.ErrSurveyClosed):
		middleware.HandleError(c, err, http.StatusForbidden)
	case errors.Is(err, services.ErrUnsupportedServerType), errors.Is(err, services.ErrBackupUnsupported):
		middleware.HandleError(c, err, http.StatusBadRequest)
	case errors.Is(err, services.ErrNoDeliveryServer):
		middleware.HandleServiceUnavailableError(c, "delivery", err.Error())
	default:
		middleware.HandleModelError(c, err)
	}
}

// bindJSON 绑定JSON请求体
func (h *Handler) bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.respondWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// bindQuery 绑定查询参数
func (h *Handler) bindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.respondWithError(c, http.StatusBadRequest, "Invalid query parameters: "+err.Error())
		return false
	}
	return true
}

// getPrincipal 获取当前主体
func (h *Handler) getPrincipal(c *gin.Context) (*auth.Principal, bool) {
	principal, exists := middleware.GetPrincipal(c)
	if !exists {
		h.respondWithError(c, http.StatusUnauthorized, "User not authenticated")
		return nil, false
	}
	return principal, true
}

// getCustomerID 获取当前客户ID
func (h *Handler) getCustomerID(c *gin.Context) (uint, bool) {
	id := middleware.GetCustomerID(c)
	if id == 0 {
		h.respondWithError(c, http.StatusUnauthorized, "Customer not authenticated")
		return 0, false
	}
	return id, true
}

// serverScope 客户只能访问自己的服务器
func (h *Handler) serverScope(c *gin.Context) services.ServerScope {
	if id := middleware.GetCustomerID(c); id != 0 {
		return services.ServerScope{CustomerID: &id}
	}
	return services.ServerScope{}
}

// parseUintParam 解析uint参数
func (h *Handler) parseUintParam(c *gin.Context, paramName string) (uint, bool) {
	paramStr := c.Param(paramName)
	if paramStr == "" {
		h.respondWithError(c, http.StatusBadRequest, "Missing parameter: "+paramName)
		return 0, false
	}

	var paramValue uint
	if _, err := fmt.Sscanf(paramStr, "%d", &paramValue); err != nil {
		middleware.HandleValidationError(c, paramName, "must be a positive integer")
		return 0, false
	}

	return paramValue, true
}
