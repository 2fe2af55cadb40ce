package handlers

import (
	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// loadList 解析路径中的list_uid并加载当前客户的列表
func (h *Handler) loadList(c *gin.Context) (*models.List, bool) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return nil, false
	}

	list, err := h.lists.GetList(c.Request.Context(), customerID, c.Param("list_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, false
	}
	return list, true
}

// loadSubscriber 加载列表中的订阅者
func (h *Handler) loadSubscriber(c *gin.Context) (*models.List, *models.ListSubscriber, bool) {
	list, ok := h.loadList(c)
	if !ok {
		return nil, nil, false
	}

	subscriber, err := h.lists.GetSubscriber(c.Request.Context(), list.ID, c.Param("subscriber_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, nil, false
	}
	return list, subscriber, true
}

// ListLists 分页列出当前客户的列表
func (h *Handler) ListLists(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var p services.Pagination
	if !h.bindQuery(c, &p) {
		return
	}

	page, err := h.lists.ListLists(c.Request.Context(), customerID, p)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetList 获取列表详情
func (h *Handler) GetList(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}
	h.respondWithSuccess(c, list)
}

// CreateList 创建列表
func (h *Handler) CreateList(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var list models.List
	if !h.bindJSON(c, &list) {
		return
	}
	list.ID = 0
	list.ListUID = ""
	list.CustomerID = customerID

	if err := h.lists.CreateList(c.Request.Context(), &list); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, list, "List created successfully")
}

// UpdateList 更新列表
func (h *Handler) UpdateList(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var changes models.List
	if !h.bindJSON(c, &changes) {
		return
	}

	list, err := h.lists.UpdateList(c.Request.Context(), customerID, c.Param("list_uid"), &changes)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, list, "List updated successfully")
}

// DeleteList 将列表标记为待删除
func (h *Handler) DeleteList(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	if err := h.lists.DeleteList(c.Request.Context(), customerID, c.Param("list_uid")); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "List deleted successfully")
}

// ListListFields 列出列表的自定义字段
func (h *Handler) ListListFields(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}

	fields, err := h.lists.ListFields(c.Request.Context(), list.ID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, fields)
}

// CreateListField 添加自定义字段
func (h *Handler) CreateListField(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}

	var field models.ListField
	if !h.bindJSON(c, &field) {
		return
	}
	field.ID = 0

	if err := h.lists.SaveField(c.Request.Context(), list.ID, &field); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, field, "Field created successfully")
}

// UpdateListField 更新自定义字段
func (h *Handler) UpdateListField(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}
	fieldID, ok := h.parseUintParam(c, "field_id")
	if !ok {
		return
	}

	var field models.ListField
	if !h.bindJSON(c, &field) {
		return
	}
	field.ID = fieldID

	if err := h.lists.SaveField(c.Request.Context(), list.ID, &field); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, field, "Field updated successfully")
}

// DeleteListField 删除自定义字段，EMAIL字段不能删除
func (h *Handler) DeleteListField(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}
	fieldID, ok := h.parseUintParam(c, "field_id")
	if !ok {
		return
	}

	if err := h.lists.DeleteField(c.Request.Context(), list.ID, fieldID); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Field deleted successfully")
}

// ListSubscribers 分页列出订阅者
func (h *Handler) ListSubscribers(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}

	var filter services.SubscriberFilter
	if !h.bindQuery(c, &filter) {
		return
	}

	page, err := h.lists.ListSubscribers(c.Request.Context(), list.ID, filter)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetSubscriber 获取订阅者及其字段值
func (h *Handler) GetSubscriber(c *gin.Context) {
	_, subscriber, ok := h.loadSubscriber(c)
	if !ok {
		return
	}
	h.respondWithSuccess(c, subscriber)
}

// CreateSubscriber 客户在后台添加订阅者
func (h *Handler) CreateSubscriber(c *gin.Context) {
	list, ok := h.loadList(c)
	if !ok {
		return
	}

	var req services.SubscribeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.IPAddress = c.ClientIP()
	if req.Source == "" {
		req.Source = models.SubscriberSourceWeb
	}

	subscriber, err := h.lists.Subscribe(c.Request.Context(), list, &req)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, subscriber, "Subscriber created successfully")
}

// subscriberAction 订阅者状态变更操作
type subscriberAction func(h *Handler, c *gin.Context, list *models.List, subscriber *models.ListSubscriber) error

func (h *Handler) changeSubscriber(action subscriberAction, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, subscriber, ok := h.loadSubscriber(c)
		if !ok {
			return
		}
		if err := action(h, c, list, subscriber); err != nil {
			h.respondWithServiceError(c, err)
			return
		}
		h.respondWithSuccess(c, subscriber, message)
	}
}

// ConfirmSubscriber 确认订阅者
func (h *Handler) ConfirmSubscriber() gin.HandlerFunc {
	return h.changeSubscriber(func(h *Handler, c *gin.Context, list *models.List, s *models.ListSubscriber) error {
		return h.lists.Confirm(c.Request.Context(), list, s)
	}, "Subscriber confirmed successfully")
}

// ApproveSubscriber 审核通过订阅者
func (h *Handler) ApproveSubscriber() gin.HandlerFunc {
	return h.changeSubscriber(func(h *Handler, c *gin.Context, list *models.List, s *models.ListSubscriber) error {
		return h.lists.Approve(c.Request.Context(), list, s)
	}, "Subscriber approved successfully")
}

// UnsubscribeSubscriber 退订
func (h *Handler) UnsubscribeSubscriber() gin.HandlerFunc {
	return h.changeSubscriber(func(h *Handler, c *gin.Context, list *models.List, s *models.ListSubscriber) error {
		return h.lists.Unsubscribe(c.Request.Context(), list, s)
	}, "Subscriber unsubscribed successfully")
}

// BlacklistSubscriber 加入黑名单
func (h *Handler) BlacklistSubscriber() gin.HandlerFunc {
	return h.changeSubscriber(func(h *Handler, c *gin.Context, list *models.List, s *models.ListSubscriber) error {
		return h.lists.Blacklist(c.Request.Context(), list, s)
	}, "Subscriber blacklisted successfully")
}

// DeleteSubscriber 删除订阅者
func (h *Handler) DeleteSubscriber(c *gin.Context) {
	_, subscriber, ok := h.loadSubscriber(c)
	if !ok {
		return
	}

	if err := h.lists.DeleteSubscriber(c.Request.Context(), subscriber); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Subscriber deleted successfully")
}

// TransferSubscriberRequest 移动或复制订阅者请求
type TransferSubscriberRequest struct {
	ListUID string `json:"list_uid" binding:"required"`
}

// MoveSubscriber 把订阅者移动到另一个列表
func (h *Handler) MoveSubscriber(c *gin.Context) {
	h.transferSubscriber(c, true)
}

// CopySubscriber 把订阅者复制到另一个列表
func (h *Handler) CopySubscriber(c *gin.Context) {
	h.transferSubscriber(c, false)
}

func (h *Handler) transferSubscriber(c *gin.Context, move bool) {
	list, subscriber, ok := h.loadSubscriber(c)
	if !ok {
		return
	}

	var req TransferSubscriberRequest
	if !h.bindJSON(c, &req) {
		return
	}

	destination, err := h.lists.GetList(c.Request.Context(), list.CustomerID, req.ListUID)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	var result *models.ListSubscriber
	if move {
		result, err = h.lists.MoveSubscriber(c.Request.Context(), subscriber, destination)
	} else {
		result, err = h.lists.CopySubscriber(c.Request.Context(), subscriber, destination)
	}
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, result)
}
