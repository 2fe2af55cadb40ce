package services

import (
	"context"
	"testing"
	"time"

	"mailwizz/internal/cache"
	"mailwizz/internal/events"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func logUsage(t *testing.T, db *gorm.DB, customerID uint, at time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		entry := &models.DeliveryServerUsageLog{
			CustomerID:        &customerID,
			DeliveryFor:       models.DeliveryForCampaign,
			CustomerCountable: true,
			CreatedAt:         at,
		}
		require.NoError(t, db.Create(entry).Error)
	}
}

func TestQuotaUnlimited(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	quota := NewQuotaService(db, cache.NewCacheManager(), nil, time.Minute)

	customer := createCustomer(t, db, "free@example.com", nil)
	status, err := quota.GetQuotaStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, status.Unlimited)
	assert.NoError(t, quota.CheckQuota(ctx, customer.ID, 1000))

	_, err = quota.GetQuotaStatus(ctx, 9999)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestQuotaWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	publisher := events.NewMemoryPublisher(0)
	quota := NewQuotaService(db, cache.NewCacheManager(), publisher, time.Minute)

	group := createGroup(t, db, func(g *models.CustomerGroup) {
		g.Quota = 2
		g.QuotaTimeValue = 1
		g.QuotaTimeUnit = models.QuotaTimeUnitHour
		g.QuotaWaitExpire = true
	})
	customer := createCustomer(t, db, "limited@example.com", group)

	base := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	quota.now = func() time.Time { return base }
	require.NoError(t, quota.ResetQuota(ctx, customer.ID))

	logUsage(t, db, customer.ID, base.Add(time.Minute), 2)
	quota.now = func() time.Time { return base.Add(10 * time.Minute) }

	t.Run("达到配额后等待周期结束", func(t *testing.T) {
		status, err := quota.GetQuotaStatus(ctx, customer.ID)
		require.NoError(t, err)
		assert.False(t, status.Unlimited)
		assert.Equal(t, int64(2), status.Usage)
		assert.Equal(t, int64(0), status.Remaining)
		assert.True(t, status.OverQuota)
		assert.True(t, status.WindowStart.Equal(base))
		require.NotNil(t, status.WindowEnd)
		assert.True(t, status.WindowEnd.Equal(base.Add(time.Hour)))

		err = quota.CheckQuota(ctx, customer.ID, 1)
		assert.ErrorIs(t, err, ErrOverQuota)
		assert.Len(t, publisher.Events(events.EventCustomerQuotaReached), 1)
	})

	t.Run("周期结束后开始新的周期", func(t *testing.T) {
		later := base.Add(61 * time.Minute)
		quota.now = func() time.Time { return later }

		status, err := quota.GetQuotaStatus(ctx, customer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.Usage)
		assert.Equal(t, int64(2), status.Remaining)
		assert.True(t, status.WindowStart.Equal(later))
		assert.NoError(t, quota.CheckQuota(ctx, customer.ID, 2))
		assert.Error(t, quota.CheckQuota(ctx, customer.ID, 3))
	})
}

func TestQuotaWithoutWaitExpire(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	quota := NewQuotaService(db, cache.NewCacheManager(), nil, time.Minute)

	group := createGroup(t, db, func(g *models.CustomerGroup) {
		g.Quota = 1
		g.QuotaTimeValue = 1
		g.QuotaTimeUnit = models.QuotaTimeUnitDay
		g.QuotaWaitExpire = false
	})
	customer := createCustomer(t, db, "eager@example.com", group)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	quota.now = func() time.Time { return base }
	require.NoError(t, quota.ResetQuota(ctx, customer.ID))
	logUsage(t, db, customer.ID, base.Add(time.Minute), 1)

	quota.now = func() time.Time { return base.Add(5 * time.Minute) }
	status, err := quota.GetQuotaStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Usage)
	assert.False(t, status.OverQuota)

	var marks int64
	require.NoError(t, db.Model(&models.CustomerQuotaMark{}).Where("customer_id = ?", customer.ID).Count(&marks).Error)
	assert.Equal(t, int64(2), marks)
}

func TestQuotaUsageCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	quota := NewQuotaService(db, cache.NewCacheManager(), nil, time.Hour)

	group := createGroup(t, db, func(g *models.CustomerGroup) {
		g.Quota = 10
		g.QuotaTimeValue = -1
	})
	customer := createCustomer(t, db, "cached@example.com", group)

	status, err := quota.GetQuotaStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, status.WindowEnd)
	assert.Equal(t, int64(0), status.Usage)

	logUsage(t, db, customer.ID, time.Now().UTC().Add(time.Minute), 3)

	status, err = quota.GetQuotaStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Usage, "用量来自缓存")

	quota.InvalidateUsage(customer.ID)
	status, err = quota.GetQuotaStatus(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), status.Usage)
	assert.Equal(t, int64(7), status.Remaining)
}
