package handlers

import (
	"mailwizz/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有路由
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", h.HealthCheck)

	// 订阅者和收件人访问的公开链接
	router.POST("/lists/:list_uid/subscribe", h.PublicSubscribe)
	router.GET("/lists/:list_uid/confirm-subscribe/:subscriber_uid", h.PublicConfirmSubscription)
	router.GET("/lists/:list_uid/unsubscribe/:subscriber_uid", h.PublicUnsubscribe)
	router.GET("/campaigns/:campaign_uid/track-opening/:subscriber_uid", h.TrackOpening)
	router.GET("/campaigns/:campaign_uid/track-url/:subscriber_uid/:hash", h.TrackURL)
	router.GET("/surveys/:survey_uid", h.PublicGetSurvey)
	router.POST("/surveys/:survey_uid/respond", h.PublicSubmitSurvey)

	api := router.Group("/api/v1")
	{
		// 认证路由
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Login)
			auth.POST("/customer/login", h.CustomerLogin)
			auth.POST("/logout", h.Logout)
			auth.POST("/refresh", h.RefreshToken)
			auth.GET("/me", h.AuthRequired(), h.GetCurrentUser)
			auth.POST("/change-password", h.AuthRequired(), h.ChangePassword)
		}

		meta := api.Group("/meta")
		meta.Use(h.AuthRequired())
		{
			meta.GET("/models", h.ListModelMeta)
			meta.GET("/models/:model", h.GetModelMeta)
			meta.GET("/server-presets", h.GetServerPresets)
		}

		h.registerAdminRoutes(api.Group("/admin", h.AuthRequired(), middleware.BackendRequired()))
		h.registerCustomerRoutes(api.Group("/customer", h.AuthRequired(), middleware.CustomerRequired()))
	}
}

func (h *Handler) registerAdminRoutes(admin *gin.RouterGroup) {
	customers := admin.Group("/customers")
	{
		customers.GET("", h.ListCustomers)
		customers.POST("", h.CreateCustomer)
		customers.GET("/:id", h.GetCustomer)
		customers.PUT("/:id", h.UpdateCustomer)
		customers.DELETE("/:id", h.DeleteCustomer)
		customers.GET("/:id/quota", h.GetCustomerQuota)
		customers.POST("/:id/quota/reset", h.ResetCustomerQuota)
	}

	groups := admin.Group("/customer-groups")
	{
		groups.GET("", h.ListCustomerGroups)
		groups.POST("", h.CreateCustomerGroup)
		groups.GET("/:id", h.GetCustomerGroup)
		groups.PUT("/:id", h.UpdateCustomerGroup)
		groups.DELETE("/:id", h.DeleteCustomerGroup)
		groups.PUT("/:id/delivery-servers", h.AttachGroupServers)
	}

	h.registerServerRoutes(admin)
	admin.PUT("/delivery-servers/:id/customer-groups", h.AttachServerGroups)

	campaigns := admin.Group("/campaigns")
	{
		campaigns.GET("", h.ListCampaigns)
		campaigns.GET("/:campaign_uid", h.GetCampaign)
		campaigns.GET("/:campaign_uid/stats", h.GetCampaignStats)
		campaigns.POST("/:campaign_uid/block", h.BlockCampaign())
		campaigns.POST("/:campaign_uid/approve", h.ApproveCampaign())
	}

	options := admin.Group("/options", middleware.AdminRequired())
	{
		options.GET("/:category", h.ListOptions)
		options.GET("/:category/:key", h.GetOption)
		options.PUT("/:category/:key", h.SetOption)
		options.DELETE("/:category/:key", h.DeleteOption)
	}

	maintenance := admin.Group("/maintenance", middleware.AdminRequired())
	{
		maintenance.POST("/housekeeping", h.RunHousekeeping)
		maintenance.POST("/webhooks", h.ProcessWebhookQueue)
		maintenance.GET("/webhooks", h.GetWebhookQueueSize)
		maintenance.POST("/bounces", h.ProcessBounces)

		// 恢复备份需要重启进程，只在 mwctl 中提供
		maintenance.GET("/backups", h.ListBackups)
		maintenance.POST("/backups", h.CreateBackup)
		maintenance.POST("/backups/cleanup", h.CleanupOldBackups)
		maintenance.GET("/backups/:filename/validate", h.ValidateBackup)
		maintenance.DELETE("/backups/:filename", h.DeleteBackup)
	}
}

func (h *Handler) registerCustomerRoutes(customer *gin.RouterGroup) {
	customer.GET("/quota", h.GetMyQuota)

	h.registerServerRoutes(customer)

	lists := customer.Group("/lists")
	{
		lists.GET("", h.ListLists)
		lists.POST("", h.CreateList)
		lists.GET("/:list_uid", h.GetList)
		lists.PUT("/:list_uid", h.UpdateList)
		lists.DELETE("/:list_uid", h.DeleteList)

		lists.GET("/:list_uid/fields", h.ListListFields)
		lists.POST("/:list_uid/fields", h.CreateListField)
		lists.PUT("/:list_uid/fields/:field_id", h.UpdateListField)
		lists.DELETE("/:list_uid/fields/:field_id", h.DeleteListField)

		lists.GET("/:list_uid/subscribers", h.ListSubscribers)
		lists.POST("/:list_uid/subscribers", h.CreateSubscriber)
		lists.GET("/:list_uid/subscribers/:subscriber_uid", h.GetSubscriber)
		lists.DELETE("/:list_uid/subscribers/:subscriber_uid", h.DeleteSubscriber)
		lists.POST("/:list_uid/subscribers/:subscriber_uid/confirm", h.ConfirmSubscriber())
		lists.POST("/:list_uid/subscribers/:subscriber_uid/approve", h.ApproveSubscriber())
		lists.POST("/:list_uid/subscribers/:subscriber_uid/unsubscribe", h.UnsubscribeSubscriber())
		lists.POST("/:list_uid/subscribers/:subscriber_uid/blacklist", h.BlacklistSubscriber())
		lists.POST("/:list_uid/subscribers/:subscriber_uid/move", h.MoveSubscriber)
		lists.POST("/:list_uid/subscribers/:subscriber_uid/copy", h.CopySubscriber)
	}

	campaigns := customer.Group("/campaigns")
	{
		campaigns.GET("", h.ListCampaigns)
		campaigns.POST("", h.CreateCampaign)
		campaigns.GET("/:campaign_uid", h.GetCampaign)
		campaigns.PUT("/:campaign_uid", h.UpdateCampaign)
		campaigns.DELETE("/:campaign_uid", h.DeleteCampaign)
		campaigns.POST("/:campaign_uid/schedule", h.ScheduleCampaign)
		campaigns.POST("/:campaign_uid/pause", h.PauseCampaign())
		campaigns.POST("/:campaign_uid/resume", h.ResumeCampaign())
		campaigns.POST("/:campaign_uid/copy", h.CopyCampaign)
		campaigns.GET("/:campaign_uid/stats", h.GetCampaignStats)
		campaigns.GET("/:campaign_uid/urls", h.ListCampaignURLs)
		campaigns.POST("/:campaign_uid/urls", h.RegisterCampaignURL)
		campaigns.GET("/:campaign_uid/webhooks", h.ListCampaignWebhooks)
		campaigns.POST("/:campaign_uid/webhooks", h.CreateCampaignWebhook)
		campaigns.DELETE("/:campaign_uid/webhooks/:webhook_id", h.DeleteCampaignWebhook)
	}

	campaignGroups := customer.Group("/campaign-groups")
	{
		campaignGroups.GET("", h.ListCampaignGroups)
		campaignGroups.POST("", h.CreateCampaignGroup)
		campaignGroups.DELETE("/:group_uid", h.DeleteCampaignGroup)
	}

	shareCodes := customer.Group("/share-codes")
	{
		shareCodes.POST("", h.CreateShareCode)
		shareCodes.POST("/import", h.ImportShareCode)
	}

	surveys := customer.Group("/surveys")
	{
		surveys.GET("", h.ListSurveys)
		surveys.POST("", h.CreateSurvey)
		surveys.GET("/:survey_uid", h.GetSurvey)
		surveys.PUT("/:survey_uid", h.UpdateSurvey)
		surveys.DELETE("/:survey_uid", h.DeleteSurvey)
		surveys.POST("/:survey_uid/fields", h.CreateSurveyField)
		surveys.PUT("/:survey_uid/fields/:field_id", h.UpdateSurveyField)
		surveys.DELETE("/:survey_uid/fields/:field_id", h.DeleteSurveyField)
		surveys.GET("/:survey_uid/responders", h.ListSurveyResponders)
	}
}

// registerServerRoutes 投递和退信服务器路由，后台和客户共用，访问范围由登录主体决定
func (h *Handler) registerServerRoutes(group *gin.RouterGroup) {
	delivery := group.Group("/delivery-servers")
	{
		delivery.GET("", h.ListDeliveryServers)
		delivery.POST("", h.CreateDeliveryServer)
		delivery.GET("/:id", h.GetDeliveryServer)
		delivery.PUT("/:id", h.UpdateDeliveryServer)
		delivery.DELETE("/:id", h.DeleteDeliveryServer)
		delivery.POST("/:id/domain-policies", h.AddDomainPolicy)
		delivery.DELETE("/:id/domain-policies/:policy_id", h.DeleteDomainPolicy)
		delivery.POST("/:id/test", h.TestDeliveryServer)
		delivery.POST("/:id/send-test", h.SendTestEmail)
	}

	bounce := group.Group("/bounce-servers")
	{
		bounce.GET("", h.ListBounceServers)
		bounce.POST("", h.CreateBounceServer)
		bounce.GET("/:id", h.GetBounceServer)
		bounce.PUT("/:id", h.UpdateBounceServer)
		bounce.DELETE("/:id", h.DeleteBounceServer)
		bounce.POST("/:id/test", h.TestBounceServer)
	}
}
