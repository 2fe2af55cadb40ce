package handlers

import (
	"net/http"
	"time"

	"mailwizz/internal/middleware"
	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// loadCampaign 后台用户可以访问所有客户的活动
func (h *Handler) loadCampaign(c *gin.Context) (*models.Campaign, bool) {
	campaign, err := h.campaigns.GetCampaign(c.Request.Context(), middleware.GetCustomerID(c), c.Param("campaign_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, false
	}
	return campaign, true
}

// ListCampaigns 分页列出活动
func (h *Handler) ListCampaigns(c *gin.Context) {
	var filter services.CampaignFilter
	if !h.bindQuery(c, &filter) {
		return
	}

	page, err := h.campaigns.ListCampaigns(c.Request.Context(), middleware.GetCustomerID(c), filter)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetCampaign 获取活动详情
func (h *Handler) GetCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	h.respondWithSuccess(c, campaign)
}

// CreateCampaignRequest 创建活动请求
type CreateCampaignRequest struct {
	models.Campaign
	ListUID string `json:"list_uid" binding:"required"`
}

// CreateCampaign 创建草稿活动
func (h *Handler) CreateCampaign(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if !h.bindJSON(c, &req) {
		return
	}

	list, err := h.lists.GetList(c.Request.Context(), customerID, req.ListUID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	campaign := req.Campaign
	campaign.ID = 0
	campaign.CampaignUID = ""
	campaign.CustomerID = customerID
	campaign.ListID = list.ID
	campaign.Status = models.CampaignStatusDraft
	if campaign.Type == "" {
		campaign.Type = models.CampaignTypeRegular
	}

	if err := h.campaigns.CreateCampaign(c.Request.Context(), &campaign); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, campaign, "Campaign created successfully")
}

// UpdateCampaign 更新活动
func (h *Handler) UpdateCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	var req services.UpdateCampaignRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.campaigns.UpdateCampaign(c.Request.Context(), campaign, &req); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, campaign, "Campaign updated successfully")
}

// ScheduleCampaignRequest 安排发送请求，SendAt为空时立即发送
type ScheduleCampaignRequest struct {
	SendAt *time.Time `json:"send_at"`
}

// ScheduleCampaign 安排活动发送
func (h *Handler) ScheduleCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	var req ScheduleCampaignRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}

	if err := h.campaigns.Schedule(c.Request.Context(), campaign, req.SendAt); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, campaign, "Campaign scheduled successfully")
}

// campaignTransition 活动状态变更
type campaignTransition func(s *services.CampaignService, c *gin.Context, campaign *models.Campaign) error

func (h *Handler) transitionCampaign(transition campaignTransition, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign, ok := h.loadCampaign(c)
		if !ok {
			return
		}
		if err := transition(h.campaigns, c, campaign); err != nil {
			h.respondWithServiceError(c, err)
			return
		}
		h.respondWithSuccess(c, campaign, message)
	}
}

// PauseCampaign 暂停发送
func (h *Handler) PauseCampaign() gin.HandlerFunc {
	return h.transitionCampaign(func(s *services.CampaignService, c *gin.Context, campaign *models.Campaign) error {
		return s.Pause(c.Request.Context(), campaign)
	}, "Campaign paused successfully")
}

// ResumeCampaign 恢复发送
func (h *Handler) ResumeCampaign() gin.HandlerFunc {
	return h.transitionCampaign(func(s *services.CampaignService, c *gin.Context, campaign *models.Campaign) error {
		return s.Resume(c.Request.Context(), campaign)
	}, "Campaign resumed successfully")
}

// BlockCampaign 后台阻止活动发送
func (h *Handler) BlockCampaign() gin.HandlerFunc {
	return h.transitionCampaign(func(s *services.CampaignService, c *gin.Context, campaign *models.Campaign) error {
		return s.Block(c.Request.Context(), campaign)
	}, "Campaign blocked successfully")
}

// ApproveCampaign 后台审核通过活动
func (h *Handler) ApproveCampaign() gin.HandlerFunc {
	return h.transitionCampaign(func(s *services.CampaignService, c *gin.Context, campaign *models.Campaign) error {
		return s.Approve(c.Request.Context(), campaign)
	}, "Campaign approved successfully")
}

// DeleteCampaign 将活动标记为待删除
func (h *Handler) DeleteCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	if err := h.campaigns.Delete(c.Request.Context(), campaign); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Campaign deleted successfully")
}

// CopyCampaign 复制活动为新的草稿
func (h *Handler) CopyCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	clone, err := h.campaigns.Copy(c.Request.Context(), campaign)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, clone, "Campaign copied successfully")
}

// GetCampaignStats 活动的投递和追踪统计
func (h *Handler) GetCampaignStats(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	stats, err := h.campaigns.Stats(c.Request.Context(), campaign)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, stats)
}

// ListCampaignURLs 列出活动登记的链接
func (h *Handler) ListCampaignURLs(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	urls, err := h.campaigns.ListURLs(c.Request.Context(), campaign)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, urls)
}

// RegisterURLRequest 登记链接请求
type RegisterURLRequest struct {
	Destination string `json:"destination" binding:"required,url"`
}

// RegisterCampaignURL 登记活动中的链接
func (h *Handler) RegisterCampaignURL(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	var req RegisterURLRequest
	if !h.bindJSON(c, &req) {
		return
	}

	url, err := h.campaigns.RegisterURL(c.Request.Context(), campaign, req.Destination)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, url)
}

// ListCampaignGroups 列出当前客户的活动分组
func (h *Handler) ListCampaignGroups(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	groups, err := h.campaigns.ListGroups(c.Request.Context(), customerID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, groups)
}

// CreateCampaignGroupRequest 创建活动分组请求
type CreateCampaignGroupRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

// CreateCampaignGroup 创建活动分组
func (h *Handler) CreateCampaignGroup(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var req CreateCampaignGroupRequest
	if !h.bindJSON(c, &req) {
		return
	}

	group, err := h.campaigns.CreateGroup(c.Request.Context(), customerID, req.Name)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, group, "Campaign group created successfully")
}

// DeleteCampaignGroup 删除活动分组
func (h *Handler) DeleteCampaignGroup(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	if err := h.campaigns.DeleteGroup(c.Request.Context(), customerID, c.Param("group_uid")); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Campaign group deleted successfully")
}

// CreateShareCodeRequest 创建分享码请求
type CreateShareCodeRequest struct {
	CampaignUIDs []string `json:"campaign_uids" binding:"required,min=1"`
}

// CreateShareCode 为活动创建分享码
func (h *Handler) CreateShareCode(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var req CreateShareCodeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	code, err := h.campaigns.CreateShareCode(c.Request.Context(), customerID, req.CampaignUIDs)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, code, "Share code created successfully")
}

// ImportShareCodeRequest 使用分享码请求
type ImportShareCodeRequest struct {
	Code    string `json:"code" binding:"required"`
	ListUID string `json:"list_uid" binding:"required"`
}

// ImportShareCode 把分享码中的活动复制到自己的列表
func (h *Handler) ImportShareCode(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var req ImportShareCodeRequest
	if !h.bindJSON(c, &req) {
		return
	}

	campaigns, err := h.campaigns.ImportShareCode(c.Request.Context(), customerID, req.Code, req.ListUID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, campaigns, "Campaigns imported successfully")
}

// ListCampaignWebhooks 列出活动的webhook
func (h *Handler) ListCampaignWebhooks(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	webhooks, err := h.webhookService.ListWebhooks(c.Request.Context(), campaign.ID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, webhooks)
}

// CreateCampaignWebhook 为活动添加webhook
func (h *Handler) CreateCampaignWebhook(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}

	var webhook models.CampaignWebhook
	if !h.bindJSON(c, &webhook) {
		return
	}
	webhook.ID = 0
	webhook.CampaignID = campaign.ID

	if err := h.webhookService.CreateWebhook(c.Request.Context(), &webhook); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, webhook, "Webhook created successfully")
}

// DeleteCampaignWebhook 删除webhook
func (h *Handler) DeleteCampaignWebhook(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	webhookID, ok := h.parseUintParam(c, "webhook_id")
	if !ok {
		return
	}

	if err := h.webhookService.DeleteWebhook(c.Request.Context(), campaign.ID, webhookID); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Webhook deleted successfully")
}

// GetWebhookQueueSize 待投递的webhook数量
func (h *Handler) GetWebhookQueueSize(c *gin.Context) {
	size, err := h.webhookService.QueueSize(c.Request.Context())
	if err != nil {
		h.respondWithError(c, http.StatusInternalServerError, "Failed to read webhook queue")
		return
	}
	h.respondWithSuccess(c, gin.H{"pending": size})
}
