package handlers

import (
	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// ListCustomers 分页列出客户
func (h *Handler) ListCustomers(c *gin.Context) {
	var filter services.CustomerFilter
	if !h.bindQuery(c, &filter) {
		return
	}

	page, err := h.customers.ListCustomers(c.Request.Context(), filter)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetCustomer 获取客户详情
func (h *Handler) GetCustomer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	customer, err := h.customers.GetCustomer(c.Request.Context(), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, customer)
}

// CreateCustomer 创建客户
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req services.CreateCustomerRequest
	if !h.bindJSON(c, &req) {
		return
	}

	customer, err := h.customers.CreateCustomer(c.Request.Context(), &req)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, customer, "Customer created successfully")
}

// UpdateCustomer 更新客户
func (h *Handler) UpdateCustomer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateCustomerRequest
	if !h.bindJSON(c, &req) {
		return
	}

	customer, err := h.customers.UpdateCustomer(c.Request.Context(), id, &req)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, customer, "Customer updated successfully")
}

// DeleteCustomer 将客户标记为待删除
func (h *Handler) DeleteCustomer(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.customers.DeleteCustomer(c.Request.Context(), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Customer deleted successfully")
}

// GetCustomerQuota 查询客户的发送配额
func (h *Handler) GetCustomerQuota(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	status, err := h.quota.GetQuotaStatus(c.Request.Context(), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, status)
}

// ResetCustomerQuota 重置客户的配额周期
func (h *Handler) ResetCustomerQuota(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.quota.ResetQuota(c.Request.Context(), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Quota reset successfully")
}

// GetMyQuota 当前客户的发送配额
func (h *Handler) GetMyQuota(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	status, err := h.quota.GetQuotaStatus(c.Request.Context(), customerID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, status)
}

// ListCustomerGroups 列出客户分组
func (h *Handler) ListCustomerGroups(c *gin.Context) {
	groups, err := h.customers.ListGroups(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, groups)
}

// GetCustomerGroup 获取客户分组
func (h *Handler) GetCustomerGroup(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	group, err := h.customers.GetGroup(c.Request.Context(), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, group)
}

// CreateCustomerGroup 创建客户分组
func (h *Handler) CreateCustomerGroup(c *gin.Context) {
	var group models.CustomerGroup
	if !h.bindJSON(c, &group) {
		return
	}
	group.ID = 0

	if err := h.customers.SaveGroup(c.Request.Context(), &group); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, group, "Customer group created successfully")
}

// UpdateCustomerGroup 更新客户分组
func (h *Handler) UpdateCustomerGroup(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	existing, err := h.customers.GetGroup(c.Request.Context(), id)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	if !h.bindJSON(c, existing) {
		return
	}
	existing.ID = id

	if err := h.customers.SaveGroup(c.Request.Context(), existing); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, existing, "Customer group updated successfully")
}

// DeleteCustomerGroup 删除客户分组
func (h *Handler) DeleteCustomerGroup(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	if err := h.customers.DeleteGroup(c.Request.Context(), id); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Customer group deleted successfully")
}

// AttachIDsRequest 关联ID列表请求
type AttachIDsRequest struct {
	IDs []uint `json:"ids"`
}

// AttachGroupServers 设置分组可用的投递服务器
func (h *Handler) AttachGroupServers(c *gin.Context) {
	id, ok := h.parseUintParam(c, "id")
	if !ok {
		return
	}

	var req AttachIDsRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.customers.AttachServersToGroup(c.Request.Context(), id, req.IDs); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Delivery servers attached successfully")
}
