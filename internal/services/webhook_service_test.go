package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"mailwizz/internal/config"
	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// webhookReceiver 记录收到的webhook请求
type webhookReceiver struct {
	mutex    sync.Mutex
	payloads []WebhookPayload
}

func (r *webhookReceiver) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var payload WebhookPayload
		if json.Unmarshal(body, &payload) == nil {
			r.mutex.Lock()
			r.payloads = append(r.payloads, payload)
			r.mutex.Unlock()
		}
		w.WriteHeader(status)
	}
}

func (r *webhookReceiver) received() []WebhookPayload {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]WebhookPayload(nil), r.payloads...)
}

func TestWebhookQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ok := &webhookReceiver{}
	okServer := httptest.NewServer(ok.handler(http.StatusOK))
	defer okServer.Close()
	failing := &webhookReceiver{}
	failingServer := httptest.NewServer(failing.handler(http.StatusInternalServerError))
	defer failingServer.Close()

	svc := NewWebhookService(db, config.WebhookConfig{MaxRetries: 1, Timeout: 5 * time.Second})

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	require.NoError(t, svc.CreateWebhook(ctx, &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventOpen, WebhookURL: okServer.URL + "/hook",
	}))
	require.NoError(t, svc.CreateWebhook(ctx, &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventOpen, WebhookURL: failingServer.URL + "/hook",
	}))

	queued, err := svc.Enqueue(ctx, campaign.ID, models.WebhookEventOpen, "", WebhookPayload{Event: models.WebhookEventOpen})
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	size, err := svc.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	t.Run("成功的请求移出队列，失败的等待重试", func(t *testing.T) {
		result, err := svc.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Delivered)
		assert.Equal(t, 1, result.Retried)
		assert.Len(t, ok.received(), 1)
		assert.Equal(t, models.WebhookEventOpen, ok.received()[0].Event)

		var item models.CampaignWebhookQueue
		require.NoError(t, db.First(&item).Error)
		assert.Equal(t, 1, item.RetryCount)
		assert.Contains(t, item.LastError, "500")
		assert.True(t, item.NextRetry.After(time.Now()))

		// 还没到重试时间
		result, err = svc.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Retried+result.Delivered+result.Dropped)
	})

	t.Run("超过最大重试次数后丢弃", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		result, err := svc.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Dropped)
		assert.Len(t, failing.received(), 2)

		size, err := svc.QueueSize(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, retryDelay(1))
	assert.Equal(t, 4*time.Minute, retryDelay(2))
	assert.Equal(t, 9*time.Minute, retryDelay(3))
}

func TestClickWebhooks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewWebhookService(db, config.WebhookConfig{})
	campaigns := NewCampaignService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")
	offer, err := campaigns.RegisterURL(ctx, campaign, "https://example.com/offer")
	require.NoError(t, err)

	err = svc.CreateWebhook(ctx, &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventClick, WebhookURL: "https://hooks.example.com/click",
		TrackURLHash: models.HashURL(campaign.ID, "https://example.com/unknown"),
	})
	assert.ErrorIs(t, err, ErrURLNotFound)

	specific := &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventClick, WebhookURL: "https://hooks.example.com/offer",
		TrackURLHash: offer.Hash,
	}
	require.NoError(t, svc.CreateWebhook(ctx, specific))
	require.NoError(t, svc.CreateWebhook(ctx, &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventClick, WebhookURL: "https://hooks.example.com/any",
	}))

	queued, err := svc.Enqueue(ctx, campaign.ID, models.WebhookEventClick, offer.Hash, WebhookPayload{})
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	queued, err = svc.Enqueue(ctx, campaign.ID, models.WebhookEventClick, "other", WebhookPayload{})
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	webhooks, err := svc.ListWebhooks(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Len(t, webhooks, 2)

	require.NoError(t, svc.DeleteWebhook(ctx, campaign.ID, specific.ID))
	assert.ErrorIs(t, svc.DeleteWebhook(ctx, campaign.ID, specific.ID), ErrWebhookNotFound)

	var remaining int64
	require.NoError(t, db.Model(&models.CampaignWebhookQueue{}).Where("webhook_id = ?", specific.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestTracking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	webhooks := NewWebhookService(db, config.WebhookConfig{})
	campaigns := NewCampaignService(db, nil)
	tracking := NewTrackingService(db, webhooks, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")
	subscriber := createSubscriber(t, db, list, "reader@example.com", models.SubscriberStatusConfirmed)
	offer, err := campaigns.RegisterURL(ctx, campaign, "https://example.com/offer")
	require.NoError(t, err)

	require.NoError(t, webhooks.CreateWebhook(ctx, &models.CampaignWebhook{
		CampaignID: campaign.ID, Event: models.WebhookEventOpen, WebhookURL: "https://hooks.example.com/open",
	}))

	req := &TrackRequest{
		CampaignUID:   campaign.CampaignUID,
		SubscriberUID: subscriber.SubscriberUID,
		IPAddress:     "not-an-ip",
		UserAgent:     "Mail/1.0",
	}

	t.Run("打开", func(t *testing.T) {
		require.NoError(t, tracking.TrackOpen(ctx, req))
		require.NoError(t, tracking.TrackOpen(ctx, req))

		var open models.CampaignTrackOpen
		require.NoError(t, db.First(&open).Error)
		assert.Empty(t, open.IPAddress)
		assert.Equal(t, "Mail/1.0", open.UserAgent)

		size, err := webhooks.QueueSize(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), size)
		assert.Len(t, publisher.Events(events.EventCampaignOpened), 2)
	})

	t.Run("点击", func(t *testing.T) {
		req := *req
		req.IPAddress = "10.0.0.5"
		destination, err := tracking.TrackClick(ctx, &req, offer.Hash)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/offer", destination)

		_, err = tracking.TrackClick(ctx, &req, "missing")
		assert.ErrorIs(t, err, ErrURLNotFound)

		clicked := publisher.Events(events.EventCampaignClicked)
		require.Len(t, clicked, 1)
		assert.Equal(t, "10.0.0.5", clicked[0].Data.(events.TrackingEventData).IPAddress)
	})

	t.Run("订阅者不属于活动的列表", func(t *testing.T) {
		other := createList(t, db, customer, "Other")
		outsider := createSubscriber(t, db, other, "outsider@example.com", models.SubscriberStatusConfirmed)
		err := tracking.TrackOpen(ctx, &TrackRequest{CampaignUID: campaign.CampaignUID, SubscriberUID: outsider.SubscriberUID})
		assert.ErrorIs(t, err, ErrSubscriberNotFound)

		err = tracking.TrackOpen(ctx, &TrackRequest{CampaignUID: "missing", SubscriberUID: outsider.SubscriberUID})
		assert.ErrorIs(t, err, ErrCampaignNotFound)
	})

	t.Run("关闭追踪时不记录", func(t *testing.T) {
		require.NoError(t, db.Model(&models.CampaignOption{}).Where("campaign_id = ?", campaign.ID).
			UpdateColumns(map[string]interface{}{"open_tracking": false, "url_tracking": false}).Error)

		require.NoError(t, tracking.TrackOpen(ctx, req))
		destination, err := tracking.TrackClick(ctx, req, offer.Hash)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/offer", destination)

		var opens, clicks int64
		require.NoError(t, db.Model(&models.CampaignTrackOpen{}).Count(&opens).Error)
		require.NoError(t, db.Model(&models.CampaignTrackURL{}).Count(&clicks).Error)
		assert.Equal(t, int64(2), opens)
		assert.Equal(t, int64(1), clicks)
	})

	t.Run("统计", func(t *testing.T) {
		stats, err := campaigns.Stats(ctx, campaign)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Opens)
		assert.Equal(t, int64(1), stats.UniqueOpens)
		assert.Equal(t, int64(1), stats.Clicks)
		assert.Equal(t, int64(1), stats.UniqueClicks)
		assert.Zero(t, stats.HardBounces)
	})
}

func TestTruncateError(t *testing.T) {
	short := errors.New("connection refused")
	assert.Equal(t, "connection refused", truncateError(short))

	long := errors.New(strings.Repeat("连接超时", 100))
	msg := truncateError(long)
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, maxErrorLength, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasPrefix(long.Error(), msg))
}
