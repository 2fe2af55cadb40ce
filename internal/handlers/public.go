package handlers

import (
	"log"
	"net/http"
	"time"

	"mailwizz/internal/models"
	"mailwizz/internal/services"

	"github.com/gin-gonic/gin"
)

// 1x1透明GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (h *Handler) loadPublicSubscriber(c *gin.Context) (*models.List, *models.ListSubscriber, bool) {
	list, err := h.lists.GetListByUID(c.Request.Context(), c.Param("list_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, nil, false
	}
	subscriber, err := h.lists.GetSubscriber(c.Request.Context(), list.ID, c.Param("subscriber_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return nil, nil, false
	}
	return list, subscriber, true
}

// PublicSubscribe 公开的订阅表单
func (h *Handler) PublicSubscribe(c *gin.Context) {
	list, err := h.lists.GetListByUID(c.Request.Context(), c.Param("list_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	var req services.SubscribeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.IPAddress = c.ClientIP()
	req.Source = models.SubscriberSourceWeb

	subscriber, err := h.lists.Subscribe(c.Request.Context(), list, &req)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	h.respondWithCreated(c, gin.H{
		"subscriber_uid": subscriber.SubscriberUID,
		"status":         subscriber.Status,
	}, "Subscription received")
}

// PublicConfirmSubscription 订阅确认链接
func (h *Handler) PublicConfirmSubscription(c *gin.Context) {
	list, subscriber, ok := h.loadPublicSubscriber(c)
	if !ok {
		return
	}
	if subscriber.Status == models.SubscriberStatusConfirmed {
		h.respondWithSuccess(c, nil, "Subscription already confirmed")
		return
	}

	if err := h.lists.Confirm(c.Request.Context(), list, subscriber); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Subscription confirmed")
}

// PublicUnsubscribe 退订链接
func (h *Handler) PublicUnsubscribe(c *gin.Context) {
	list, subscriber, ok := h.loadPublicSubscriber(c)
	if !ok {
		return
	}
	if subscriber.Status == models.SubscriberStatusUnsubscribed {
		h.respondWithSuccess(c, nil, "Already unsubscribed")
		return
	}

	if err := h.lists.Unsubscribe(c.Request.Context(), list, subscriber); err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	h.respondWithSuccess(c, nil, "Unsubscribed successfully")
}

func trackRequest(c *gin.Context) *services.TrackRequest {
	return &services.TrackRequest{
		CampaignUID:   c.Param("campaign_uid"),
		SubscriberUID: c.Param("subscriber_uid"),
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	}
}

// TrackOpening 记录打开并返回追踪像素，记录失败时也返回像素
func (h *Handler) TrackOpening(c *gin.Context) {
	if err := h.tracking.TrackOpen(c.Request.Context(), trackRequest(c)); err != nil {
		log.Printf("Failed to track open for campaign %s: %v", c.Param("campaign_uid"), err)
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/gif", trackingPixel)
}

// TrackURL 记录点击并跳转到原链接
func (h *Handler) TrackURL(c *gin.Context) {
	destination, err := h.tracking.TrackClick(c.Request.Context(), trackRequest(c), c.Param("hash"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	c.Redirect(http.StatusFound, destination)
}

// PublicGetSurvey 获取开放中的调查
func (h *Handler) PublicGetSurvey(c *gin.Context) {
	survey, err := h.surveys.GetSurvey(c.Request.Context(), 0, c.Param("survey_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}
	if !survey.IsOpenAt(time.Now()) {
		h.respondWithServiceError(c, services.ErrSurveyClosed)
		return
	}
	h.respondWithSuccess(c, survey)
}

// PublicSubmitSurvey 提交调查回答
func (h *Handler) PublicSubmitSurvey(c *gin.Context) {
	survey, err := h.surveys.GetSurvey(c.Request.Context(), 0, c.Param("survey_uid"))
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	var req services.SurveyResponseRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.IPAddress = c.ClientIP()

	responder, err := h.surveys.SubmitResponse(c.Request.Context(), survey, &req)
	if err != nil {
		h.respondWithServiceError(c, err)
		return
	}

	data := gin.H{"responder_uid": responder.ResponderUID}
	if survey.FinishRedirect != "" {
		data["redirect"] = survey.FinishRedirect
	}
	h.respondWithCreated(c, data, "Thank you for your response")
}
