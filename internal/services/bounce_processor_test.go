package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"mailwizz/internal/bounce"
	"mailwizz/internal/config"
	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeMailbox 内存中的退信邮箱
type fakeMailbox struct {
	messages map[uint32]string
	selected bool
	closed   bool
	seen     []uint32
	deleted  []uint32
}

func (m *fakeMailbox) Select() error { m.selected = true; return nil }

func (m *fakeMailbox) Unseen(limit int) ([]uint32, error) {
	uids := make([]uint32, 0, len(m.messages))
	for uid := range m.messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > limit {
		uids = uids[:limit]
	}
	return uids, nil
}

func (m *fakeMailbox) Fetch(uids []uint32, fn func(uid uint32, body io.Reader) error) error {
	for _, uid := range uids {
		if err := fn(uid, strings.NewReader(m.messages[uid])); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeMailbox) MarkSeen(uids []uint32) error {
	m.seen = append(m.seen, uids...)
	return nil
}

func (m *fakeMailbox) Delete(uids []uint32) error {
	m.deleted = append(m.deleted, uids...)
	return nil
}

func (m *fakeMailbox) Close() error { m.closed = true; return nil }

func dsnMessage(campaignUID, subscriberUID, status, diagnostic string) string {
	return strings.ReplaceAll(fmt.Sprintf(`From: MAILER-DAEMON@mx.example.com
Subject: Delivery Status Notification
MIME-Version: 1.0
Content-Type: multipart/report; report-type=delivery-status; boundary="B"

--B
Content-Type: message/delivery-status

Final-Recipient: rfc822; reader@example.com
Action: failed
Status: %s
Diagnostic-Code: smtp; %s

--B
Content-Type: text/rfc822-headers

%s: %s
%s: %s
Subject: Hello

--B--
`, status, diagnostic, bounce.HeaderCampaignUID, campaignUID, bounce.HeaderSubscriberUID, subscriberUID), "\n", "\r\n")
}

func createBounceServer(t *testing.T, db *gorm.DB, configure func(*models.BounceServer)) *models.BounceServer {
	t.Helper()
	server := models.NewBounceServer()
	server.Hostname = "imap.example.com"
	server.Username = "bounces"
	server.Password = "secret"
	server.Status = models.BounceServerStatusActive
	if configure != nil {
		configure(server)
	}
	require.NoError(t, db.Create(server).Error)
	return server
}

func TestProcessBounceServer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")
	hard := createSubscriber(t, db, list, "gone@example.com", models.SubscriberStatusConfirmed)
	soft := createSubscriber(t, db, list, "full@example.com", models.SubscriberStatusConfirmed)

	box := &fakeMailbox{messages: map[uint32]string{
		1: dsnMessage(campaign.CampaignUID, hard.SubscriberUID, "5.1.1", "550 5.1.1 User unknown"),
		2: "Subject: Out of office\r\n\r\nBack on Monday.\r\n",
		3: dsnMessage(campaign.CampaignUID, soft.SubscriberUID, "4.2.2", "452 4.2.2 Mailbox full"),
	}}
	var dialed bounce.MailboxConfig
	servers := NewBounceServerService(db, nil, 0)
	servers.dial = func(ctx context.Context, cfg bounce.MailboxConfig) (mailbox, error) {
		dialed = cfg
		return box, nil
	}
	processor := NewBounceProcessor(db, config.BounceConfig{}, servers, NewListService(db, nil), publisher)

	server := createBounceServer(t, db, nil)

	result, err := processor.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Servers)
	assert.Equal(t, 3, result.Messages)
	assert.Equal(t, 2, result.Recorded)
	assert.Equal(t, 1, result.Skipped)

	assert.Equal(t, "imap.example.com", dialed.Host)
	assert.Equal(t, "INBOX", dialed.Mailbox)
	assert.True(t, box.selected)
	assert.True(t, box.closed)
	assert.Equal(t, []uint32{1, 2, 3}, box.seen)
	assert.Empty(t, box.deleted)

	t.Run("硬退信加入黑名单", func(t *testing.T) {
		var logs []models.CampaignBounceLog
		require.NoError(t, db.Order("id ASC").Find(&logs).Error)
		require.Len(t, logs, 2)
		assert.Equal(t, models.BounceTypeHard, logs[0].BounceType)
		assert.Equal(t, "550 5.1.1 User unknown", logs[0].Message)
		assert.True(t, logs[0].Processed)
		assert.Equal(t, models.BounceTypeSoft, logs[1].BounceType)

		var hardStored, softStored models.ListSubscriber
		require.NoError(t, db.First(&hardStored, hard.ID).Error)
		assert.Equal(t, models.SubscriberStatusBlacklisted, hardStored.Status)
		require.NoError(t, db.First(&softStored, soft.ID).Error)
		assert.Equal(t, models.SubscriberStatusConfirmed, softStored.Status)

		assert.Len(t, publisher.Events(events.EventCampaignBounced), 2)
	})

	t.Run("扫描后恢复服务器状态", func(t *testing.T) {
		var stored models.BounceServer
		require.NoError(t, db.First(&stored, server.ID).Error)
		assert.Equal(t, models.BounceServerStatusActive, stored.Status)
	})

	t.Run("配置为删除邮件", func(t *testing.T) {
		require.NoError(t, db.Model(server).UpdateColumn("delete_all_messages", true).Error)
		box.seen = nil
		box.messages = map[uint32]string{7: "Subject: noise\r\n\r\nnothing\r\n"}

		result, err := processor.ProcessAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, []uint32{7}, box.deleted)
		assert.Empty(t, box.seen)
	})

	t.Run("不支持POP3", func(t *testing.T) {
		pop := createBounceServer(t, db, func(s *models.BounceServer) {
			s.Hostname = "pop.example.com"
			s.Service = models.BounceServicePOP3
			s.Port = 110
		})
		_, err := processor.ProcessServer(ctx, pop)
		assert.ErrorIs(t, err, ErrUnsupportedServerType)

		var stored models.BounceServer
		require.NoError(t, db.First(&stored, pop.ID).Error)
		assert.Equal(t, models.BounceServerStatusActive, stored.Status)
	})
}

func TestRecordBounce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	processor := NewBounceProcessor(db, config.BounceConfig{}, nil, nil, nil)

	customer := createCustomer(t, db, "owner@example.com", nil)
	list := createList(t, db, customer, "Newsletter")
	campaign := createCampaign(t, db, list, "Launch")
	subscriber := createSubscriber(t, db, list, "reader@example.com", models.SubscriberStatusConfirmed)

	_, err := processor.RecordBounce(ctx, &bounce.Bounce{CampaignUID: campaign.CampaignUID})
	assert.ErrorIs(t, err, bounce.ErrNotIdentified)

	_, err = processor.RecordBounce(ctx, &bounce.Bounce{CampaignUID: "missing", SubscriberUID: subscriber.SubscriberUID})
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	other := createList(t, db, customer, "Other")
	outsider := createSubscriber(t, db, other, "outsider@example.com", models.SubscriberStatusConfirmed)
	_, err = processor.RecordBounce(ctx, &bounce.Bounce{CampaignUID: campaign.CampaignUID, SubscriberUID: outsider.SubscriberUID})
	assert.ErrorIs(t, err, ErrSubscriberNotFound)

	// 没有列表服务时硬退信保持未处理
	entry, err := processor.RecordBounce(ctx, &bounce.Bounce{
		CampaignUID:   campaign.CampaignUID,
		SubscriberUID: subscriber.SubscriberUID,
		Status:        "5.1.1",
		Type:          models.BounceTypeHard,
	})
	require.NoError(t, err)
	assert.False(t, entry.Processed)
	assert.Equal(t, "5.1.1", entry.Message)
}

func TestBounceServerService(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewBounceServerService(db, nil, 0)

	owner := createCustomer(t, db, "owner@example.com", nil)
	stranger := createCustomer(t, db, "stranger@example.com", nil)
	ownerScope := ServerScope{CustomerID: &owner.ID}
	strangerScope := ServerScope{CustomerID: &stranger.ID}

	server := models.NewBounceServer()
	server.Hostname = "imap.example.com"
	server.Username = "bounces"
	server.Password = "secret"
	require.NoError(t, svc.SaveServer(ctx, ownerScope, server))
	require.NotNil(t, server.CustomerID)
	assert.Equal(t, owner.ID, *server.CustomerID)

	t.Run("空密码保留原密码", func(t *testing.T) {
		update := *server
		update.Password = ""
		update.Username = "renamed"
		require.NoError(t, svc.SaveServer(ctx, ownerScope, &update))

		stored, err := svc.GetServer(ctx, ownerScope, server.ID)
		require.NoError(t, err)
		assert.Equal(t, "secret", stored.Password)
		assert.Equal(t, "renamed", stored.Username)
	})

	t.Run("其他客户不可见", func(t *testing.T) {
		_, err := svc.GetServer(ctx, strangerScope, server.ID)
		assert.ErrorIs(t, err, ErrBounceServerNotFound)

		page, err := svc.ListServers(ctx, strangerScope, Pagination{})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})

	t.Run("测试连接", func(t *testing.T) {
		svc.dial = func(ctx context.Context, cfg bounce.MailboxConfig) (mailbox, error) {
			return nil, errors.New("connection refused")
		}
		err := svc.TestConnection(ctx, ownerScope, server.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "imap.example.com:143")

		box := &fakeMailbox{}
		svc.dial = func(ctx context.Context, cfg bounce.MailboxConfig) (mailbox, error) { return box, nil }
		require.NoError(t, svc.TestConnection(ctx, ownerScope, server.ID))
		assert.True(t, box.closed)

		stored, err := svc.GetServer(ctx, ownerScope, server.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BounceServerStatusActive, stored.Status)
	})

	t.Run("锁定后客户不能修改", func(t *testing.T) {
		require.NoError(t, db.Model(server).UpdateColumn("locked", true).Error)
		assert.ErrorIs(t, svc.SaveServer(ctx, ownerScope, server), ErrServerLocked)
		assert.ErrorIs(t, svc.DeleteServer(ctx, ownerScope, server.ID), ErrServerLocked)
	})

	t.Run("删除时解除投递服务器关联", func(t *testing.T) {
		delivery := createDeliveryServer(t, db, nil, func(s *models.DeliveryServer) { s.BounceServerID = &server.ID })
		require.NoError(t, svc.DeleteServer(ctx, ServerScope{}, server.ID))

		var stored models.DeliveryServer
		require.NoError(t, db.First(&stored, delivery.ID).Error)
		assert.Nil(t, stored.BounceServerID)
		_, err := svc.GetServer(ctx, ServerScope{}, server.ID)
		assert.ErrorIs(t, err, ErrBounceServerNotFound)
	})
}
