package services

import (
	"context"
	"testing"

	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createCampaign(t *testing.T, db *gorm.DB, list *models.List, name string) *models.Campaign {
	t.Helper()
	campaign := models.NewCampaign(list.CustomerID, list.ID, name)
	campaign.Template = &models.CampaignTemplate{Name: "Main", Content: "<p>Hello</p>"}
	require.NoError(t, NewCampaignService(db, nil).CreateCampaign(context.Background(), campaign))
	return campaign
}

func TestCreateCampaign(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	group := createGroup(t, db, func(g *models.CustomerGroup) { g.MaxCampaigns = 1 })
	customer := createCustomer(t, db, "owner@example.com", group)
	list := createList(t, db, customer, "Newsletter")

	campaign := createCampaign(t, db, list, "Launch")
	assert.Len(t, campaign.CampaignUID, 13)
	assert.Equal(t, "Acme", campaign.FromName)
	assert.Equal(t, "news@acme.test", campaign.FromEmail)
	require.NotNil(t, campaign.Option)
	assert.True(t, campaign.Option.OpenTracking)

	stored, err := svc.GetCampaign(ctx, customer.ID, campaign.CampaignUID)
	require.NoError(t, err)
	require.NotNil(t, stored.Template)
	assert.Equal(t, "<p>Hello</p>", stored.Template.Content)
	assert.Nil(t, stored.SendAt)

	t.Run("达到活动数量上限", func(t *testing.T) {
		second := models.NewCampaign(customer.ID, list.ID, "Second")
		assert.ErrorIs(t, svc.CreateCampaign(ctx, second), ErrMaxCampaignsReached)
	})

	t.Run("不能使用其他客户的列表", func(t *testing.T) {
		stranger := createCustomer(t, db, "stranger@example.com", nil)
		campaign := models.NewCampaign(stranger.ID, list.ID, "Borrowed")
		assert.ErrorIs(t, svc.CreateCampaign(ctx, campaign), ErrListNotFound)
	})

	t.Run("管理员可以看到所有活动", func(t *testing.T) {
		page, err := svc.ListCampaigns(ctx, 0, CampaignFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)

		_, err = svc.GetCampaign(ctx, 0, campaign.CampaignUID)
		assert.NoError(t, err)
	})
}

func TestCampaignLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	svc := NewCampaignService(db, publisher)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	require.NoError(t, svc.Schedule(ctx, campaign, nil))
	assert.Equal(t, models.CampaignStatusPendingSending, campaign.Status)
	assert.NotNil(t, campaign.SendAt)

	name := "Renamed"
	err := svc.UpdateCampaign(ctx, campaign, &UpdateCampaignRequest{Name: &name})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	require.NoError(t, svc.Pause(ctx, campaign))
	require.NoError(t, svc.UpdateCampaign(ctx, campaign, &UpdateCampaignRequest{Name: &name}))
	require.NoError(t, svc.Resume(ctx, campaign))

	require.NoError(t, svc.MarkSending(ctx, campaign))
	assert.NotNil(t, campaign.StartedAt)
	assert.ErrorIs(t, svc.Delete(ctx, campaign), ErrInvalidStatusTransition)

	require.NoError(t, svc.MarkSent(ctx, campaign))
	assert.NotNil(t, campaign.FinishedAt)
	assert.ErrorIs(t, svc.Schedule(ctx, campaign, nil), ErrInvalidStatusTransition)
	assert.ErrorIs(t, svc.Pause(ctx, campaign), ErrInvalidStatusTransition)

	stored, err := svc.GetCampaign(ctx, customer.ID, campaign.CampaignUID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, models.CampaignStatusSent, stored.Status)

	changes := publisher.Events(events.EventCampaignStatusChanged)
	require.Len(t, changes, 5)
	last := changes[len(changes)-1].Data.(events.CampaignStatusEventData)
	assert.Equal(t, models.CampaignStatusSending, last.From)
	assert.Equal(t, models.CampaignStatusSent, last.To)

	require.NoError(t, svc.Delete(ctx, campaign))
	_, err = svc.GetCampaign(ctx, customer.ID, campaign.CampaignUID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestCampaignBlockAndApprove(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	assert.ErrorIs(t, svc.Block(ctx, campaign), ErrInvalidStatusTransition)
	assert.ErrorIs(t, svc.Approve(ctx, campaign), ErrInvalidStatusTransition)

	require.NoError(t, svc.Schedule(ctx, campaign, nil))
	require.NoError(t, svc.Block(ctx, campaign))
	assert.True(t, campaign.IsBlocked())
	require.NoError(t, svc.Approve(ctx, campaign))
	assert.True(t, campaign.IsPendingSending())
}

func TestCopyCampaign(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	option := *campaign.Option
	option.OpenTracking = false
	option.EmailStats = "stats@example.com"
	require.NoError(t, svc.UpdateCampaign(ctx, campaign, &UpdateCampaignRequest{Option: &option}))
	require.NoError(t, svc.Schedule(ctx, campaign, nil))

	clone, err := svc.Copy(ctx, campaign)
	require.NoError(t, err)
	assert.NotEqual(t, campaign.ID, clone.ID)
	assert.Equal(t, "Launch (copy)", clone.Name)
	assert.True(t, clone.IsDraft())

	stored, err := svc.GetCampaign(ctx, customer.ID, clone.CampaignUID)
	require.NoError(t, err)
	require.NotNil(t, stored.Option)
	assert.False(t, stored.Option.OpenTracking)
	assert.Equal(t, "stats@example.com", stored.Option.EmailStats)
	require.NotNil(t, stored.Template)
	assert.Equal(t, "<p>Hello</p>", stored.Template.Content)
}

func TestCampaignGroups(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	group, err := svc.CreateGroup(ctx, customer.ID, " Promotions ")
	require.NoError(t, err)
	assert.Equal(t, "Promotions", group.Name)

	require.NoError(t, svc.UpdateCampaign(ctx, campaign, &UpdateCampaignRequest{GroupID: &group.ID}))

	groups, err := svc.ListGroups(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	require.NoError(t, svc.DeleteGroup(ctx, customer.ID, group.GroupUID))
	stored, err := svc.GetCampaign(ctx, customer.ID, campaign.CampaignUID)
	require.NoError(t, err)
	assert.Nil(t, stored.GroupID)

	t.Run("其他客户的分组", func(t *testing.T) {
		stranger := createCustomer(t, db, "stranger@example.com", nil)
		foreign, err := svc.CreateGroup(ctx, stranger.ID, "Theirs")
		require.NoError(t, err)
		assert.Error(t, svc.UpdateCampaign(ctx, stored, &UpdateCampaignRequest{GroupID: &foreign.ID}))
	})
}

func TestShareCodes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	owner := createCustomer(t, db, "owner@example.com", nil)
	ownerList := createList(t, db, owner, "Newsletter")
	first := createCampaign(t, db, ownerList, "First")
	second := createCampaign(t, db, ownerList, "Second")

	importer := createCustomer(t, db, "importer@example.com", nil)
	importerList := createList(t, db, importer, "Imported")

	_, err := svc.CreateShareCode(ctx, importer.ID, []string{first.CampaignUID})
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	code, err := svc.CreateShareCode(ctx, owner.ID, []string{first.CampaignUID, second.CampaignUID})
	require.NoError(t, err)
	assert.Len(t, code.Code, 40)

	t.Run("导入到自己的列表", func(t *testing.T) {
		_, err := svc.ImportShareCode(ctx, importer.ID, code.Code, ownerList.ListUID)
		assert.ErrorIs(t, err, ErrListNotFound)

		imported, err := svc.ImportShareCode(ctx, importer.ID, code.Code, importerList.ListUID)
		require.NoError(t, err)
		require.Len(t, imported, 2)
		for _, campaign := range imported {
			assert.Equal(t, importer.ID, campaign.CustomerID)
			assert.Equal(t, importerList.ID, campaign.ListID)
			assert.True(t, campaign.IsDraft())
			require.NotNil(t, campaign.Template)
		}
	})

	t.Run("分享码只能使用一次", func(t *testing.T) {
		_, err := svc.ImportShareCode(ctx, importer.ID, code.Code, importerList.ListUID)
		assert.ErrorIs(t, err, ErrShareCodeUsed)

		_, err = svc.ImportShareCode(ctx, importer.ID, "missing", importerList.ListUID)
		assert.ErrorIs(t, err, ErrShareCodeNotFound)
	})
	t.Run("重复的活动只分享一次", func(t *testing.T) {
		code, err := svc.CreateShareCode(ctx, owner.ID, []string{first.CampaignUID, first.CampaignUID, ""})
		require.NoError(t, err)
		assert.Len(t, code.Campaigns, 1)

		_, err = svc.CreateShareCode(ctx, owner.ID, []string{"", ""})
		assert.Error(t, err)
	})
}

func TestRegisterURL(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCampaignService(db, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")

	first, err := svc.RegisterURL(ctx, campaign, " https://example.com/offer ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/offer", first.Destination)
	assert.Equal(t, models.HashURL(campaign.ID, "https://example.com/offer"), first.Hash)

	again, err := svc.RegisterURL(ctx, campaign, "https://example.com/offer")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = svc.RegisterURL(ctx, campaign, "not a url")
	assert.Error(t, err)

	urls, err := svc.ListURLs(ctx, campaign)
	require.NoError(t, err)
	assert.Len(t, urls, 1)
}
