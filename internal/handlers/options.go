package handlers

import (
	"encoding/json"

	"mailwizz/internal/middleware"
	"mailwizz/internal/models"

	"github.com/gin-gonic/gin"
)

// ListOptions 列出分类下的设置
func (h *Handler) ListOptions(c *gin.Context) {
	options, err := h.options.List(c.Request.Context(), c.Param("category"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, options)
}

// GetOption 读取单个设置
func (h *Handler) GetOption(c *gin.Context) {
	var value json.RawMessage
	found, err := h.options.Get(c.Request.Context(), c.Param("category"), c.Param("key"), &value)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	if !found {
		middleware.HandleNotFoundError(c, "Option", c.Param("category")+"."+c.Param("key"))
		return
	}
	h.respondWithSuccess(c, gin.H{
		"category": c.Param("category"),
		"key":      c.Param("key"),
		"value":    value,
	})
}

// SetOptionRequest 保存设置请求，值可以是任意JSON
type SetOptionRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// SetOption 保存设置
func (h *Handler) SetOption(c *gin.Context) {
	var req SetOptionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.options.Set(c.Request.Context(), c.Param("category"), c.Param("key"), req.Value); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Option saved successfully")
}

// DeleteOption 删除设置
func (h *Handler) DeleteOption(c *gin.Context) {
	if err := h.options.Delete(c.Request.Context(), c.Param("category"), c.Param("key")); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Option deleted successfully")
}

// ListModelMeta 可查询字段说明的模型名称
func (h *Handler) ListModelMeta(c *gin.Context) {
	h.respondWithSuccess(c, models.RegistryNames())
}

// GetModelMeta 模型的字段名称和帮助文本
func (h *Handler) GetModelMeta(c *gin.Context) {
	model, ok := models.Registry[c.Param("model")]
	if !ok {
		middleware.HandleNotFoundError(c, "Model", c.Param("model"))
		return
	}
	h.respondWithSuccess(c, gin.H{
		"labels":     model.AttributeLabels(),
		"help_texts": model.AttributeHelpTexts(),
	})
}

// RunHousekeeping 立即执行一次数据清理
func (h *Handler) RunHousekeeping(c *gin.Context) {
	result, err := h.housekeepingService.RunOnce(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, result, "Housekeeping completed")
}

// ProcessWebhookQueue 立即投递webhook队列
func (h *Handler) ProcessWebhookQueue(c *gin.Context) {
	result, err := h.webhookService.ProcessQueue(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, result, "Webhook queue processed")
}

// ProcessBounces 立即扫描所有退信服务器
func (h *Handler) ProcessBounces(c *gin.Context) {
	result, err := h.bounceProcessor.ProcessAll(c.Request.Context())
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, result, "Bounce servers processed")
}
