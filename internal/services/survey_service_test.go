package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"mailwizz/internal/events"
	"mailwizz/internal/models"
	"mailwizz/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveSurvey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewSurveyService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)

	survey := &models.Survey{CustomerID: customer.ID, Name: "Feedback"}
	require.NoError(t, svc.SaveSurvey(ctx, survey))
	assert.Equal(t, models.SurveyStatusDraft, survey.Status)
	assert.Equal(t, "Feedback", survey.DisplayName)
	uid := survey.SurveyUID

	t.Run("结束时间必须晚于开始时间", func(t *testing.T) {
		start := time.Now()
		end := start.Add(-time.Hour)
		invalid := &models.Survey{CustomerID: customer.ID, Name: "Broken", StartAt: &start, EndAt: &end}
		errs, ok := validation.AsErrors(svc.SaveSurvey(ctx, invalid))
		require.True(t, ok)
		assert.Contains(t, errs, "end_at")
	})

	t.Run("更新时保留uid", func(t *testing.T) {
		update := &models.Survey{CustomerID: customer.ID, Name: "Renamed", Status: models.SurveyStatusActive}
		update.ID = survey.ID
		require.NoError(t, svc.SaveSurvey(ctx, update))
		assert.Equal(t, uid, update.SurveyUID)

		stranger := createCustomer(t, db, "stranger@example.com", nil)
		update.CustomerID = stranger.ID
		assert.ErrorIs(t, svc.SaveSurvey(ctx, update), ErrSurveyNotFound)
	})

	t.Run("删除后不可见", func(t *testing.T) {
		require.NoError(t, svc.DeleteSurvey(ctx, survey))
		_, err := svc.GetSurvey(ctx, customer.ID, uid)
		assert.ErrorIs(t, err, ErrSurveyNotFound)

		page, err := svc.ListSurveys(ctx, customer.ID, Pagination{})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})
}

func TestSurveyFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewSurveyService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	survey := &models.Survey{CustomerID: customer.ID, Name: "Feedback"}
	require.NoError(t, svc.SaveSurvey(ctx, survey))

	field := &models.SurveyField{
		Type:  models.SurveyFieldTypeDropdown,
		Label: "Plan",
		Options: []models.SurveyFieldOption{
			{Name: "Free", Value: "free"},
			{Name: "Pro", Value: "pro"},
		},
	}
	require.NoError(t, svc.SaveField(ctx, survey, field))
	require.Len(t, field.Options, 2)

	t.Run("替换选项", func(t *testing.T) {
		field.Options = []models.SurveyFieldOption{{Name: "Team", Value: "team"}}
		require.NoError(t, svc.SaveField(ctx, survey, field))

		stored, err := svc.GetSurvey(ctx, customer.ID, survey.SurveyUID)
		require.NoError(t, err)
		require.Len(t, stored.Fields, 1)
		require.Len(t, stored.Fields[0].Options, 1)
		assert.Equal(t, "team", stored.Fields[0].Options[0].Value)
	})

	t.Run("改为文本字段时删除选项", func(t *testing.T) {
		field.Type = models.SurveyFieldTypeText
		require.NoError(t, svc.SaveField(ctx, survey, field))
		assert.Nil(t, field.Options)

		var count int64
		require.NoError(t, db.Model(&models.SurveyFieldOption{}).Where("field_id = ?", field.ID).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("删除字段", func(t *testing.T) {
		require.NoError(t, svc.DeleteField(ctx, survey, field.ID))
		assert.ErrorIs(t, svc.DeleteField(ctx, survey, field.ID), ErrSurveyFieldNotFound)
	})
}

func TestSubmitResponse(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	svc := NewSurveyService(db, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	subscriber := createSubscriber(t, db, list, "reader@example.com", models.SubscriberStatusConfirmed)

	draft := &models.Survey{CustomerID: customer.ID, Name: "Feedback"}
	require.NoError(t, svc.SaveSurvey(ctx, draft))

	name := &models.SurveyField{Type: models.SurveyFieldTypeText, Label: "Name", Required: true, MaxLength: 10}
	rating := &models.SurveyField{Type: models.SurveyFieldTypeRating, Label: "Rating"}
	topics := &models.SurveyField{
		Type:  models.SurveyFieldTypeMultiselect,
		Label: "Topics",
		Options: []models.SurveyFieldOption{
			{Name: "News", Value: "news"},
			{Name: "Offers", Value: "offers"},
		},
	}
	for _, field := range []*models.SurveyField{name, rating, topics} {
		require.NoError(t, svc.SaveField(ctx, draft, field))
	}

	survey, err := svc.GetSurvey(ctx, customer.ID, draft.SurveyUID)
	require.NoError(t, err)
	key := func(f *models.SurveyField) string { return strconv.FormatUint(uint64(f.ID), 10) }

	t.Run("草稿不接受回答", func(t *testing.T) {
		_, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{Values: map[uint]string{name.ID: "Ann"}})
		assert.ErrorIs(t, err, ErrSurveyClosed)
	})

	survey.Status = models.SurveyStatusActive
	require.NoError(t, svc.SaveSurvey(ctx, survey))

	t.Run("字段检查", func(t *testing.T) {
		_, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{Values: map[uint]string{
			rating.ID: "9",
			topics.ID: "news,spam",
		}})
		errs, ok := validation.AsErrors(err)
		require.True(t, ok)
		assert.Equal(t, "Name cannot be blank.", errs[key(name)])
		assert.Equal(t, "Rating must be between 1 and 5.", errs[key(rating)])
		assert.Equal(t, "Topics is invalid.", errs[key(topics)])

		_, err = svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{Values: map[uint]string{name.ID: "A very long name"}})
		errs, ok = validation.AsErrors(err)
		require.True(t, ok)
		assert.Contains(t, errs[key(name)], "too long")
	})

	t.Run("保存回答", func(t *testing.T) {
		responder, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{
			Values:        map[uint]string{name.ID: " Ann ", rating.ID: "5", topics.ID: "news, offers"},
			SubscriberUID: subscriber.SubscriberUID,
			IPAddress:     "192.168.1.10",
		})
		require.NoError(t, err)
		require.NotNil(t, responder.SubscriberID)
		assert.Equal(t, subscriber.ID, *responder.SubscriberID)
		assert.Equal(t, "192.168.1.10", responder.IPAddress)

		page, err := svc.ListResponders(ctx, survey, ResponderFilter{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		values := map[uint]string{}
		for _, value := range page.Items[0].Values {
			values[value.FieldID] = value.Value
		}
		assert.Equal(t, map[uint]string{name.ID: "Ann", rating.ID: "5", topics.ID: "news, offers"}, values)
		assert.Len(t, publisher.Events(events.EventSurveyResponded), 1)
	})

	t.Run("未知的订阅者", func(t *testing.T) {
		_, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{
			Values:        map[uint]string{name.ID: "Bob"},
			SubscriberUID: "missing",
		})
		assert.ErrorIs(t, err, ErrSubscriberNotFound)
	})

	t.Run("其他客户的订阅者", func(t *testing.T) {
		other := createCustomer(t, db, "other@example.com", nil)
		otherList := createList(t, db, other, "Other")
		foreign := createSubscriber(t, db, otherList, "foreign@example.com", models.SubscriberStatusConfirmed)

		_, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{
			Values:        map[uint]string{name.ID: "Eve"},
			SubscriberUID: foreign.SubscriberUID,
		})
		assert.ErrorIs(t, err, ErrSubscriberNotFound)
	})

	t.Run("结束后不接受回答", func(t *testing.T) {
		end := time.Now().Add(time.Hour)
		survey.EndAt = &end
		svc.now = func() time.Time { return end.Add(time.Minute) }
		defer func() { svc.now = time.Now }()

		_, err := svc.SubmitResponse(ctx, survey, &SurveyResponseRequest{Values: map[uint]string{name.ID: "Late"}})
		assert.ErrorIs(t, err, ErrSurveyClosed)
	})
}
