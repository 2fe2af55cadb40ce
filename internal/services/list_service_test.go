package services

import (
	"context"
	"testing"

	"mailwizz/internal/events"
	"mailwizz/internal/models"
	"mailwizz/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewListService(db, nil)

	group := createGroup(t, db, func(g *models.CustomerGroup) { g.MaxLists = 1 })
	customer := createCustomer(t, db, "lists@example.com", group)

	list := createList(t, db, customer, "Newsletter")
	assert.Len(t, list.ListUID, 13)

	fields, err := svc.ListFields(ctx, list.ID)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.True(t, fields[0].IsEmailField())
	assert.True(t, fields[0].Required)

	t.Run("达到列表数量上限", func(t *testing.T) {
		second := models.NewList(customer.ID, "Second")
		second.FromName = "Acme"
		second.FromEmail = "news@acme.test"
		assert.ErrorIs(t, svc.CreateList(ctx, second), ErrMaxListsReached)
	})

	t.Run("删除后不再计入上限", func(t *testing.T) {
		require.NoError(t, svc.DeleteList(ctx, customer.ID, list.ListUID))
		_, err := svc.GetList(ctx, customer.ID, list.ListUID)
		assert.ErrorIs(t, err, ErrListNotFound)

		page, err := svc.ListLists(ctx, customer.ID, Pagination{})
		require.NoError(t, err)
		assert.Zero(t, page.Total)

		createList(t, db, customer, "Replacement")
	})
}

func TestUpdateList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewListService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	other := createCustomer(t, db, "other@example.com", nil)
	list := createList(t, db, customer, "Newsletter")

	changes := *list
	changes.Name = "Weekly"
	changes.OptIn = models.OptInOutSingle
	updated, err := svc.UpdateList(ctx, customer.ID, list.ListUID, &changes)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", updated.Name)
	assert.Equal(t, models.OptInOutSingle, updated.OptIn)

	_, err = svc.UpdateList(ctx, other.ID, list.ListUID, &changes)
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestSubscribe(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	svc := NewListService(db, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")

	t.Run("双重确认的列表", func(t *testing.T) {
		subscriber, err := svc.Subscribe(ctx, list, &SubscribeRequest{Email: " Jane@Example.com "})
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com", subscriber.Email)
		assert.Equal(t, models.SubscriberStatusUnconfirmed, subscriber.Status)
		assert.Len(t, publisher.Events(events.EventSubscriberSubscribed), 1)
	})

	t.Run("单次确认的列表", func(t *testing.T) {
		single := *list
		single.OptIn = models.OptInOutSingle
		subscriber, err := svc.Subscribe(ctx, &single, &SubscribeRequest{Email: "single@example.com"})
		require.NoError(t, err)
		assert.Equal(t, models.SubscriberStatusConfirmed, subscriber.Status)
	})

	t.Run("需要审核的列表", func(t *testing.T) {
		approval := *list
		approval.OptIn = models.OptInOutSingle
		approval.SubscriberRequireApproval = true
		subscriber, err := svc.Subscribe(ctx, &approval, &SubscribeRequest{Email: "review@example.com"})
		require.NoError(t, err)
		assert.Equal(t, models.SubscriberStatusUnapproved, subscriber.Status)
	})

	t.Run("重复的邮箱", func(t *testing.T) {
		_, err := svc.Subscribe(ctx, list, &SubscribeRequest{Email: "jane@example.com"})
		errs, ok := validation.AsErrors(err)
		require.True(t, ok)
		assert.Contains(t, errs, "email")
	})
}

func TestSubscribeFieldValues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewListService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")

	require.NoError(t, svc.SaveField(ctx, list.ID, &models.ListField{
		Type: models.ListFieldTypeText, Label: "First name", Tag: "fname", Required: true,
	}))
	require.NoError(t, svc.SaveField(ctx, list.ID, &models.ListField{
		Type: models.ListFieldTypeNumber, Label: "Age", Tag: "AGE",
	}))
	require.NoError(t, svc.SaveField(ctx, list.ID, &models.ListField{
		Type: models.ListFieldTypeText, Label: "Country", Tag: "COUNTRY", DefaultValue: "RO",
	}))

	t.Run("缺少必填字段", func(t *testing.T) {
		_, err := svc.Subscribe(ctx, list, &SubscribeRequest{Email: "a@example.com"})
		errs, ok := validation.AsErrors(err)
		require.True(t, ok)
		assert.Equal(t, "First name cannot be blank.", errs["FNAME"])
	})

	t.Run("字段值类型错误", func(t *testing.T) {
		_, err := svc.Subscribe(ctx, list, &SubscribeRequest{
			Email:  "a@example.com",
			Fields: map[string]string{"FNAME": "Ann", "AGE": "old"},
		})
		errs, ok := validation.AsErrors(err)
		require.True(t, ok)
		assert.Contains(t, errs, "AGE")
	})

	t.Run("保存字段值并使用默认值", func(t *testing.T) {
		created, err := svc.Subscribe(ctx, list, &SubscribeRequest{
			Email:  "a@example.com",
			Fields: map[string]string{"fname": " Ann ", "AGE": "42"},
		})
		require.NoError(t, err)

		subscriber, err := svc.GetSubscriber(ctx, list.ID, created.SubscriberUID)
		require.NoError(t, err)
		values := map[string]string{}
		for _, value := range subscriber.FieldValues {
			values[value.Field.Tag] = value.Value
		}
		assert.Equal(t, map[string]string{
			"EMAIL":   "a@example.com",
			"FNAME":   "Ann",
			"AGE":     "42",
			"COUNTRY": "RO",
		}, values)
	})

	t.Run("EMAIL字段不能删除", func(t *testing.T) {
		fields, err := svc.ListFields(ctx, list.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, svc.DeleteField(ctx, list.ID, fields[0].ID), ErrEmailFieldProtected)
		assert.ErrorIs(t, svc.DeleteField(ctx, list.ID, 9999), ErrListFieldNotFound)
	})
}

func TestSubscriberLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewListService(db, nil)

	group := createGroup(t, db, func(g *models.CustomerGroup) { g.MaxSubscribers = 2 })
	customer := createCustomer(t, db, "owner@example.com", group)
	first := createList(t, db, customer, "First")
	second := createList(t, db, customer, "Second")

	_, err := svc.Subscribe(ctx, first, &SubscribeRequest{Email: "one@example.com"})
	require.NoError(t, err)
	_, err = svc.Subscribe(ctx, second, &SubscribeRequest{Email: "two@example.com"})
	require.NoError(t, err)

	_, err = svc.Subscribe(ctx, second, &SubscribeRequest{Email: "three@example.com"})
	assert.ErrorIs(t, err, ErrMaxSubscribersReached)
}

func TestSubscriberStatusTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	svc := NewListService(db, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")

	t.Run("确认后退订", func(t *testing.T) {
		subscriber := createSubscriber(t, db, list, "a@example.com", models.SubscriberStatusUnconfirmed)
		require.NoError(t, svc.Confirm(ctx, list, subscriber))
		assert.Equal(t, models.SubscriberStatusConfirmed, subscriber.Status)

		// 重复确认不报错
		require.NoError(t, svc.Confirm(ctx, list, subscriber))
		assert.Len(t, publisher.Events(events.EventSubscriberConfirmed), 1)

		require.NoError(t, svc.Unsubscribe(ctx, list, subscriber))
		stored, err := svc.GetSubscriber(ctx, list.ID, subscriber.SubscriberUID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriberStatusUnsubscribed, stored.Status)
	})

	t.Run("只能审核等待审核的订阅者", func(t *testing.T) {
		subscriber := createSubscriber(t, db, list, "b@example.com", models.SubscriberStatusUnconfirmed)
		assert.ErrorIs(t, svc.Approve(ctx, list, subscriber), ErrInvalidStatusTransition)

		pending := createSubscriber(t, db, list, "c@example.com", models.SubscriberStatusUnapproved)
		require.NoError(t, svc.Approve(ctx, list, pending))
		assert.Equal(t, models.SubscriberStatusConfirmed, pending.Status)
	})

	t.Run("黑名单不能退订", func(t *testing.T) {
		subscriber := createSubscriber(t, db, list, "d@example.com", models.SubscriberStatusConfirmed)
		require.NoError(t, svc.Blacklist(ctx, list, subscriber))
		assert.ErrorIs(t, svc.Unsubscribe(ctx, list, subscriber), ErrInvalidStatusTransition)
		assert.Len(t, publisher.Events(events.EventSubscriberBlacklisted), 1)
	})

	t.Run("删除订阅者", func(t *testing.T) {
		subscriber := createSubscriber(t, db, list, "e@example.com", models.SubscriberStatusConfirmed)
		require.NoError(t, svc.DeleteSubscriber(ctx, subscriber))
		_, err := svc.GetSubscriber(ctx, list.ID, subscriber.SubscriberUID)
		assert.ErrorIs(t, err, ErrSubscriberNotFound)
	})
}

func TestMoveAndCopySubscriber(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	svc := NewListService(db, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	source := createList(t, db, customer, "Source")
	destination := createList(t, db, customer, "Destination")
	for _, list := range []*models.List{source, destination} {
		require.NoError(t, svc.SaveField(ctx, list.ID, &models.ListField{
			Type: models.ListFieldTypeText, Label: "City", Tag: "CITY",
		}))
	}

	single := *source
	single.OptIn = models.OptInOutSingle
	subscriber, err := svc.Subscribe(ctx, &single, &SubscribeRequest{
		Email:  "mover@example.com",
		Fields: map[string]string{"CITY": "Cluj"},
	})
	require.NoError(t, err)

	t.Run("同一个列表", func(t *testing.T) {
		_, err := svc.CopySubscriber(ctx, subscriber, source)
		assert.ErrorIs(t, err, ErrSameList)
	})

	t.Run("其他客户的列表", func(t *testing.T) {
		stranger := createCustomer(t, db, "stranger@example.com", nil)
		foreign := createList(t, db, stranger, "Foreign")
		_, err := svc.MoveSubscriber(ctx, subscriber, foreign)
		assert.ErrorIs(t, err, ErrListNotFound)
	})

	t.Run("复制保留原订阅者", func(t *testing.T) {
		copied, err := svc.CopySubscriber(ctx, subscriber, destination)
		require.NoError(t, err)
		assert.Equal(t, destination.ID, copied.ListID)
		assert.Equal(t, models.SubscriberStatusConfirmed, copied.Status)
		assert.Equal(t, models.SubscriberStatusConfirmed, subscriber.Status)

		stored, err := svc.GetSubscriber(ctx, destination.ID, copied.SubscriberUID)
		require.NoError(t, err)
		values := map[string]string{}
		for _, value := range stored.FieldValues {
			values[value.Field.Tag] = value.Value
		}
		assert.Equal(t, "Cluj", values["CITY"])
		assert.Equal(t, "mover@example.com", values["EMAIL"])
	})

	t.Run("移动时沿用目标列表已有的订阅者", func(t *testing.T) {
		existing, err := svc.ListSubscribers(ctx, destination.ID, SubscriberFilter{Email: "mover"})
		require.NoError(t, err)
		require.Len(t, existing.Items, 1)

		moved, err := svc.MoveSubscriber(ctx, subscriber, destination)
		require.NoError(t, err)
		assert.Equal(t, existing.Items[0].ID, moved.ID)
		assert.Equal(t, models.SubscriberStatusMoved, subscriber.Status)

		var record models.ListSubscriberListMove
		require.NoError(t, db.Where("source_subscriber_id = ?", subscriber.ID).First(&record).Error)
		assert.Equal(t, moved.ID, record.DestinationSubscriberID)
		assert.Len(t, publisher.Events(events.EventSubscriberMoved), 1)

		_, err = svc.MoveSubscriber(ctx, subscriber, destination)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}
