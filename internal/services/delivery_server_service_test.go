package services

import (
	"context"
	"errors"
	"testing"

	"mailwizz/internal/cache"
	"mailwizz/internal/mailer"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newDeliveryService(db *gorm.DB) (*DeliveryServerService, *mailer.MockSender) {
	manager := cache.NewCacheManager()
	sender := mailer.NewMockSender(false)
	quota := NewQuotaService(db, manager, nil, 0)
	return NewDeliveryServerService(db, sender, quota, manager, nil), sender
}

func TestDomainAllowed(t *testing.T) {
	policy := func(domain, p string) models.DeliveryServerDomainPolicy {
		return models.DeliveryServerDomainPolicy{Domain: domain, Policy: p}
	}

	tests := []struct {
		name     string
		policies []models.DeliveryServerDomainPolicy
		domain   string
		want     bool
	}{
		{"没有策略", nil, "example.com", true},
		{"拒绝精确域名", []models.DeliveryServerDomainPolicy{policy("example.com", models.DomainPolicyDeny)}, "example.com", false},
		{"拒绝其他域名不受影响", []models.DeliveryServerDomainPolicy{policy("example.com", models.DomainPolicyDeny)}, "other.com", true},
		{"只允许列出的域名", []models.DeliveryServerDomainPolicy{policy("example.com", models.DomainPolicyAllow)}, "other.com", false},
		{"精确域名优先于通配", []models.DeliveryServerDomainPolicy{
			policy("*", models.DomainPolicyDeny),
			policy("example.com", models.DomainPolicyAllow),
		}, "example.com", true},
		{"子域名通配", []models.DeliveryServerDomainPolicy{
			policy("*", models.DomainPolicyAllow),
			policy("*.example.com", models.DomainPolicyDeny),
		}, "mail.example.com", false},
		{"相同具体程度时拒绝优先", []models.DeliveryServerDomainPolicy{
			policy("example.com", models.DomainPolicyAllow),
			policy("example.com", models.DomainPolicyDeny),
		}, "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domainAllowed(tt.policies, tt.domain))
		})
	}
}

func TestPickServer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, _ := newDeliveryService(db)

	customer := createCustomer(t, db, "owner@example.com", nil)
	own := createDeliveryServer(t, db, &customer.ID, func(s *models.DeliveryServer) { s.Name = "own" })
	system := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) { s.Name = "system" })

	t.Run("优先使用客户自己的服务器", func(t *testing.T) {
		server, err := svc.PickServer(ctx, customer, "someone@gmail.com", models.DeliveryServerUseForCampaigns)
		require.NoError(t, err)
		assert.Equal(t, own.ID, server.ID)
	})

	t.Run("域名被拒绝时使用系统服务器", func(t *testing.T) {
		_, err := svc.AddDomainPolicy(ctx, ServerScope{CustomerID: &customer.ID}, own.ID, "gmail.com", models.DomainPolicyDeny)
		require.NoError(t, err)

		server, err := svc.PickServer(ctx, customer, "someone@gmail.com", models.DeliveryServerUseForCampaigns)
		require.NoError(t, err)
		assert.Equal(t, system.ID, server.ID)

		server, err = svc.PickServer(ctx, customer, "someone@yahoo.com", models.DeliveryServerUseForCampaigns)
		require.NoError(t, err)
		assert.Equal(t, own.ID, server.ID)
	})

	t.Run("用途不匹配", func(t *testing.T) {
		require.NoError(t, db.Model(system).UpdateColumn("use_for", models.DeliveryServerUseForTransactional).Error)

		_, err := svc.PickServer(ctx, customer, "someone@gmail.com", models.DeliveryServerUseForCampaigns)
		assert.ErrorIs(t, err, ErrNoDeliveryServer)
	})

	t.Run("未启用的服务器不参与选择", func(t *testing.T) {
		_, err := svc.PickServer(ctx, nil, "someone@gmail.com", models.DeliveryServerUseForCampaigns)
		assert.ErrorIs(t, err, ErrNoDeliveryServer)

		server, err := svc.PickServer(ctx, nil, "someone@gmail.com", models.DeliveryServerUseForTransactional)
		require.NoError(t, err)
		assert.Equal(t, system.ID, server.ID)

		require.NoError(t, db.Model(system).UpdateColumn("status", models.DeliveryServerStatusDisabled).Error)
		_, err = svc.PickServer(ctx, nil, "someone@gmail.com", models.DeliveryServerUseForTransactional)
		assert.ErrorIs(t, err, ErrNoDeliveryServer)
	})
}

func TestPickServerGroupServers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, _ := newDeliveryService(db)

	group := createGroup(t, db, nil)
	grouped := createCustomer(t, db, "grouped@example.com", group)
	other := createCustomer(t, db, "other@example.com", nil)

	first := createDeliveryServer(t, db, nil, nil)
	second := createDeliveryServer(t, db, nil, nil)
	require.NoError(t, svc.AttachGroups(ctx, second.ID, []uint{group.ID}))

	for i := 0; i < 20; i++ {
		server, err := svc.PickServer(ctx, grouped, "to@example.net", models.DeliveryServerUseForCampaigns)
		require.NoError(t, err)
		assert.Equal(t, second.ID, server.ID)
	}

	seen := map[uint]bool{}
	for i := 0; i < 200; i++ {
		server, err := svc.PickServer(ctx, other, "to@example.net", models.DeliveryServerUseForCampaigns)
		require.NoError(t, err)
		seen[server.ID] = true
	}
	assert.True(t, seen[first.ID])
	assert.True(t, seen[second.ID])

	t.Run("客户服务器不能关联分组", func(t *testing.T) {
		owned := createDeliveryServer(t, db, &other.ID, nil)
		assert.Error(t, svc.AttachGroups(ctx, owned.ID, []uint{group.ID}))
		assert.ErrorIs(t, svc.AttachGroups(ctx, first.ID, []uint{group.ID, 999}), ErrGroupNotFound)
	})
}

func TestServerHourlyQuota(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, _ := newDeliveryService(db)

	customer := createCustomer(t, db, "busy@example.com", nil)
	server := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) { s.HourlyQuota = 1 })

	picked, err := svc.PickServer(ctx, customer, "to@example.net", models.DeliveryServerUseForCampaigns)
	require.NoError(t, err)
	require.Equal(t, server.ID, picked.ID)

	require.NoError(t, svc.LogUsage(ctx, picked, &customer.ID, models.DeliveryForCampaign, true))

	_, err = svc.PickServer(ctx, customer, "to@example.net", models.DeliveryServerUseForCampaigns)
	assert.ErrorIs(t, err, ErrNoDeliveryServer)

	var entry models.DeliveryServerUsageLog
	require.NoError(t, db.First(&entry).Error)
	assert.True(t, entry.CustomerCountable)
	require.NotNil(t, entry.ServerID)
	assert.Equal(t, server.ID, *entry.ServerID)
}

func TestSaveServer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, _ := newDeliveryService(db)

	customer := createCustomer(t, db, "owner@example.com", nil)
	admin := ServerScope{}
	scope := ServerScope{CustomerID: &customer.ID}

	server := models.NewDeliveryServer(models.DeliveryServerTypeSMTP)
	server.Hostname = "smtp.example.com"
	server.FromEmail = "sender@example.com"
	server.Password = "secret"
	require.NoError(t, svc.SaveServer(ctx, scope, server))
	require.NotNil(t, server.CustomerID)
	assert.Equal(t, customer.ID, *server.CustomerID)

	t.Run("空密码保留原密码", func(t *testing.T) {
		update := *server
		update.Password = ""
		update.Name = "Renamed"
		require.NoError(t, svc.SaveServer(ctx, scope, &update))

		stored, err := svc.GetServer(ctx, admin, server.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Name)
		assert.Equal(t, "secret", stored.Password)
	})

	t.Run("客户不能修改锁定的服务器", func(t *testing.T) {
		locked := *server
		locked.Locked = true
		require.NoError(t, svc.SaveServer(ctx, admin, &locked))

		update := *server
		update.Name = "Mine"
		assert.ErrorIs(t, svc.SaveServer(ctx, scope, &update), ErrServerLocked)
		assert.ErrorIs(t, svc.DeleteServer(ctx, scope, server.ID), ErrServerLocked)
	})

	t.Run("其他客户看不到服务器", func(t *testing.T) {
		stranger := createCustomer(t, db, "stranger@example.com", nil)
		_, err := svc.GetServer(ctx, ServerScope{CustomerID: &stranger.ID}, server.ID)
		assert.ErrorIs(t, err, ErrDeliveryServerNotFound)
	})

	t.Run("管理员删除服务器", func(t *testing.T) {
		_, err := svc.AddDomainPolicy(ctx, admin, server.ID, "example.com", models.DomainPolicyAllow)
		require.NoError(t, err)
		require.NoError(t, svc.DeleteServer(ctx, admin, server.ID))

		var policies int64
		require.NoError(t, db.Model(&models.DeliveryServerDomainPolicy{}).Where("server_id = ?", server.ID).Count(&policies).Error)
		assert.Zero(t, policies)
		_, err = svc.GetServer(ctx, admin, server.ID)
		assert.ErrorIs(t, err, ErrDeliveryServerNotFound)
	})
}

func TestTestConnection(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, sender := newDeliveryService(db)

	server := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) {
		s.Status = models.DeliveryServerStatusInactive
		s.Port = 587
		s.Username = "user"
	})

	t.Run("连接失败时保持未启用", func(t *testing.T) {
		sender.Err = errors.New("connection refused")
		assert.Error(t, svc.TestConnection(ctx, ServerScope{}, server.ID))

		stored, err := svc.GetServer(ctx, ServerScope{}, server.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryServerStatusInactive, stored.Status)
	})

	t.Run("连接成功后启用", func(t *testing.T) {
		sender.Err = nil
		require.NoError(t, svc.TestConnection(ctx, ServerScope{}, server.ID))

		stored, err := svc.GetServer(ctx, ServerScope{}, server.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryServerStatusActive, stored.Status)

		require.NotEmpty(t, sender.Tested)
		last := sender.Tested[len(sender.Tested)-1]
		assert.Equal(t, "smtp.example.com", last.Host)
		assert.Equal(t, 587, last.Port)
		assert.Equal(t, "user", last.Username)
	})

	t.Run("sendmail不支持连接测试", func(t *testing.T) {
		sendmail := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) {
			s.Type = models.DeliveryServerTypeSendmail
		})
		assert.ErrorIs(t, svc.TestConnection(ctx, ServerScope{}, sendmail.ID), ErrUnsupportedServerType)
	})
}

func TestSendTestEmail(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc, sender := newDeliveryService(db)

	server := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) {
		s.FromName = "Sender"
		s.Headers = []models.DeliveryServerHeader{{Name: "X-Server", Value: "primary"}}
	})

	assert.Error(t, svc.SendTestEmail(ctx, ServerScope{}, server.ID, "not an address"))

	require.NoError(t, svc.SendTestEmail(ctx, ServerScope{}, server.ID, "to@example.net"))
	require.Len(t, sender.Sent, 1)
	message := sender.Sent[0]
	assert.Equal(t, "sender@example.com", message.From.Address)
	assert.Equal(t, "to@example.net", message.To[0].Address)
	require.Len(t, message.Headers, 1)
	assert.Equal(t, "X-Server", message.Headers[0].Name)

	var entry models.DeliveryServerUsageLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, models.DeliveryForTest, entry.DeliveryFor)
	assert.False(t, entry.CustomerCountable)
}
