package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型，同时作为AMQP的routing key
type EventType string

const (
	// 订阅者事件
	EventSubscriberSubscribed   EventType = "subscriber.subscribed"
	EventSubscriberConfirmed    EventType = "subscriber.confirmed"
	EventSubscriberUnsubscribed EventType = "subscriber.unsubscribed"
	EventSubscriberBlacklisted  EventType = "subscriber.blacklisted"
	EventSubscriberMoved        EventType = "subscriber.moved"

	// 活动事件
	EventCampaignStatusChanged EventType = "campaign.status_changed"
	EventCampaignOpened        EventType = "campaign.opened"
	EventCampaignClicked       EventType = "campaign.clicked"
	EventCampaignBounced       EventType = "campaign.bounced"

	// 客户事件
	EventCustomerQuotaReached EventType = "customer.quota_reached"

	// 调查事件
	EventSurveyResponded EventType = "survey.responded"
)

// Event 领域事件
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	CustomerID uint        `json:"customer_id,omitempty"`
	Data       interface{} `json:"data"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewEvent 创建事件
func NewEvent(eventType EventType, customerID uint, data interface{}) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		CustomerID: customerID,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// Encode 编码为JSON
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}
	return data, nil
}

// SubscriberEventData 订阅者状态变化
type SubscriberEventData struct {
	ListUID       string `json:"list_uid"`
	SubscriberUID string `json:"subscriber_uid"`
	Email         string `json:"email"`
	Status        string `json:"status"`
}

// CampaignStatusEventData 活动状态变化
type CampaignStatusEventData struct {
	CampaignUID string `json:"campaign_uid"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// TrackingEventData 打开或点击
type TrackingEventData struct {
	CampaignUID   string `json:"campaign_uid"`
	SubscriberUID string `json:"subscriber_uid"`
	URL           string `json:"url,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
}

// BounceEventData 退信
type BounceEventData struct {
	CampaignUID   string `json:"campaign_uid"`
	SubscriberUID string `json:"subscriber_uid"`
	BounceType    string `json:"bounce_type"`
}
