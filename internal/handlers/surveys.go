package handlers

import (
	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

func (h *Handler) loadSurvey(c *gin.Context) (*models.Survey, bool) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return nil, false
	}

	survey, err := h.surveys.GetSurvey(c.Request.Context(), customerID, c.Param("survey_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, false
	}
	return survey, true
}

// ListSurveys 分页列出当前客户的调查
func (h *Handler) ListSurveys(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var p services.Pagination
	if !h.bindQuery(c, &p) {
		return
	}

	page, err := h.surveys.ListSurveys(c.Request.Context(), customerID, p)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}

// GetSurvey 获取调查及其字段
func (h *Handler) GetSurvey(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}
	h.respondWithSuccess(c, survey)
}

// CreateSurvey 创建调查
func (h *Handler) CreateSurvey(c *gin.Context) {
	customerID, ok := h.getCustomerID(c)
	if !ok {
		return
	}

	var survey models.Survey
	if !h.bindJSON(c, &survey) {
		return
	}
	survey.ID = 0
	survey.SurveyUID = ""
	survey.CustomerID = customerID
	survey.Fields = nil
	if survey.Status == "" || survey.Status == models.SurveyStatusPendingDelete {
		survey.Status = models.SurveyStatusDraft
	}

	if err := h.surveys.SaveSurvey(c.Request.Context(), &survey); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, survey, "Survey created successfully")
}

// UpdateSurvey 更新调查
func (h *Handler) UpdateSurvey(c *gin.Context) {
	existing, ok := h.loadSurvey(c)
	if !ok {
		return
	}

	var survey models.Survey
	if !h.bindJSON(c, &survey) {
		return
	}
	survey.ID = existing.ID
	survey.CustomerID = existing.CustomerID
	survey.Fields = nil
	if survey.Status == models.SurveyStatusPendingDelete {
		survey.Status = existing.Status
	}

	if err := h.surveys.SaveSurvey(c.Request.Context(), &survey); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, survey, "Survey updated successfully")
}

// DeleteSurvey 将调查标记为待删除
func (h *Handler) DeleteSurvey(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}

	if err := h.surveys.DeleteSurvey(c.Request.Context(), survey); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Survey deleted successfully")
}

// CreateSurveyField 添加调查字段
func (h *Handler) CreateSurveyField(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}

	var field models.SurveyField
	if !h.bindJSON(c, &field) {
		return
	}
	field.ID = 0

	if err := h.surveys.SaveField(c.Request.Context(), survey, &field); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithCreated(c, field, "Field created successfully")
}

// UpdateSurveyField 更新调查字段
func (h *Handler) UpdateSurveyField(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}
	fieldID, ok := h.parseUintParam(c, "field_id")
	if !ok {
		return
	}

	var field models.SurveyField
	if !h.bindJSON(c, &field) {
		return
	}
	field.ID = fieldID

	if err := h.surveys.SaveField(c.Request.Context(), survey, &field); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, field, "Field updated successfully")
}

// DeleteSurveyField 删除调查字段
func (h *Handler) DeleteSurveyField(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}
	fieldID, ok := h.parseUintParam(c, "field_id")
	if !ok {
		return
	}

	if err := h.surveys.DeleteField(c.Request.Context(), survey, fieldID); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Field deleted successfully")
}

// ListSurveyResponders 分页列出回答者
func (h *Handler) ListSurveyResponders(c *gin.Context) {
	survey, ok := h.loadSurvey(c)
	if !ok {
		return
	}

	var filter services.ResponderFilter
	if !h.bindQuery(c, &filter) {
		return
	}

	page, err := h.surveys.ListResponders(c.Request.Context(), survey, filter)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, page)
}
