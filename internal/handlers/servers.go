package handlers

import (
	"mailwizz/internal/config"
	"mailwizz/internal/middleware"
	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// DeliveryServerRequest 投递服务器请求，密码只写不读
type DeliveryServerRequest struct {
	*models.DeliveryServer
	Password string `json:"password"`
}

// BounceServerRequest 退信服务器请求
type BounceServerRequest struct {
	*models.BounceServer
	Password string `json:"password"`
}

// ListDeliveryServers 分页列出投递服务器
func (h *Handler) ListDeliveryServers(c *gin.Context) {
	var p services.Pagination
	if !h.bindQuery(c, &p) {
		return
	}

	page, err := h.servers.ListServers(c.Request.Context(), h.serverScope(c), p)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetDeliveryServer 获取投递服务器
func (h *Handler) GetDeliveryServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	server, err := h.servers.GetServer(c.Request.Context(), h.serverScope(c), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, server)
}

// CreateDeliveryServer 创建投递服务器
func (h *Handler) CreateDeliveryServer(c *gin.Context) {
	req := DeliveryServerRequest{DeliveryServer: &models.DeliveryServer{}}
	if !h.bindJSON(c, &req) {
		return
	}
	server := req.DeliveryServer
	server.ID = 0
	server.Password = req.Password

	if err := h.servers.SaveServer(c.Request.Context(), h.serverScope(c), server); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, server, "Delivery server created successfully")
}

// UpdateDeliveryServer 更新投递服务器，空密码保留原密码
func (h *Handler) UpdateDeliveryServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	scope := h.serverScope(c)
	existing, err := h.servers.GetServer(c.Request.Context(), scope, id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	req := DeliveryServerRequest{DeliveryServer: existing}
	if !h.bindJSON(c, &req) {
		return
	}
	existing.ID = id
	existing.Password = req.Password

	if err := h.servers.SaveServer(c.Request.Context(), scope, existing); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, existing, "Delivery server updated successfully")
}

// DeleteDeliveryServer 删除投递服务器
func (h *Handler) DeleteDeliveryServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.servers.DeleteServer(c.Request.Context(), h.serverScope(c), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Delivery server deleted successfully")
}

// DomainPolicyRequest 域名策略请求
type DomainPolicyRequest struct {
	Domain string `json:"domain" binding:"required"`
	Policy string `json:"policy" binding:"required,oneof=allow deny"`
}

// AddDomainPolicy 为投递服务器添加域名策略
func (h *Handler) AddDomainPolicy(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	var req DomainPolicyRequest
	if !h.bindJSON(c, &req) {
		return
	}

	policy, err := h.servers.AddDomainPolicy(c.Request.Context(), h.serverScope(c), id, req.Domain, req.Policy)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, policy, "Domain policy added successfully")
}

// DeleteDomainPolicy 删除域名策略
func (h *Handler) DeleteDomainPolicy(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}
	policyID, ok := h.parseUintParam(c, "policy_id")
	if !ok {
		return
	}

	if err := h.servers.DeleteDomainPolicy(c.Request.Context(), h.serverScope(c), id, policyID); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Domain policy deleted successfully")
}

// AttachServerGroups 设置系统投递服务器可用的客户分组
func (h *Handler) AttachServerGroups(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	var req AttachIDsRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.servers.AttachGroups(c.Request.Context(), id, req.IDs); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Customer groups attached successfully")
}

// TestDeliveryServer 测试投递服务器连接
func (h *Handler) TestDeliveryServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.servers.TestConnection(c.Request.Context(), h.serverScope(c), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Connection test successful")
}

// SendTestEmailRequest 测试邮件请求
type SendTestEmailRequest struct {
	To string `json:"to" binding:"required,email"`
}

// SendTestEmail 通过投递服务器发送测试邮件
func (h *Handler) SendTestEmail(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	var req SendTestEmailRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.servers.SendTestEmail(c.Request.Context(), h.serverScope(c), id, req.To); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Test email sent successfully")
}

// ListBounceServers 分页列出退信服务器
func (h *Handler) ListBounceServers(c *gin.Context) {
	var p services.Pagination
	if !h.bindQuery(c, &p) {
		return
	}

	page, err := h.bounceServers.ListServers(c.Request.Context(), h.serverScope(c), p)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetBounceServer 获取退信服务器
func (h *Handler) GetBounceServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	server, err := h.bounceServers.GetServer(c.Request.Context(), h.serverScope(c), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, server)
}

// CreateBounceServer 创建退信服务器
func (h *Handler) CreateBounceServer(c *gin.Context) {
	req := BounceServerRequest{BounceServer: &models.BounceServer{}}
	if !h.bindJSON(c, &req) {
		return
	}
	server := req.BounceServer
	server.ID = 0
	server.Password = req.Password

	if err := h.bounceServers.SaveServer(c.Request.Context(), h.serverScope(c), server); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, server, "Bounce server created successfully")
}

// UpdateBounceServer 更新退信服务器，空密码保留原密码
func (h *Handler) UpdateBounceServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	scope := h.serverScope(c)
	existing, err := h.bounceServers.GetServer(c.Request.Context(), scope, id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	req := BounceServerRequest{BounceServer: existing}
	if !h.bindJSON(c, &req) {
		return
	}
	existing.ID = id
	existing.Password = req.Password

	if err := h.bounceServers.SaveServer(c.Request.Context(), scope, existing); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, existing, "Bounce server updated successfully")
}

// DeleteBounceServer 删除退信服务器
func (h *Handler) DeleteBounceServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.bounceServers.DeleteServer(c.Request.Context(), h.serverScope(c), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Bounce server deleted successfully")
}

// TestBounceServer 测试退信服务器连接
func (h *Handler) TestBounceServer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.bounceServers.TestConnection(c.Request.Context(), h.serverScope(c), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Connection test successful")
}

// GetServerPresets 常见邮件服务商的连接预设，可按名称或邮箱域名查询
func (h *Handler) GetServerPresets(c *gin.Context) {
	if name := c.Query("name"); name != "" {
		preset := config.GetPresetByName(name)
		if preset == nil {
			middleware.HandleNotFoundError(c, "Preset", name)
			return
		}
		h.respondWithSuccess(c, preset)
		return
	}
	// 未知域名返回custom预设
	if domain := c.Query("domain"); domain != "" {
		h.respondWithSuccess(c, config.GetPresetByDomain(domain))
		return
	}
	h.respondWithSuccess(c, config.GetServerPresets())
}
