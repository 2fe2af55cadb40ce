package services

import (
	"context"
	"testing"

	"mailwizz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCustomer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCustomerService(db)

	t.Run("没有默认分组", func(t *testing.T) {
		customer, err := svc.CreateCustomer(ctx, &CreateCustomerRequest{Email: "first@example.com", Password: "secret123"})
		require.NoError(t, err)
		assert.Nil(t, customer.GroupID)
		assert.Equal(t, "UTC", customer.Timezone)
		assert.Equal(t, models.CustomerStatusActive, customer.Status)
		assert.Len(t, customer.CustomerUID, 13)
		assert.NotEqual(t, "secret123", customer.Password)
		assert.True(t, customer.CheckPassword("secret123"))
	})

	t.Run("使用默认分组", func(t *testing.T) {
		group := createGroup(t, db, func(g *models.CustomerGroup) { g.IsDefault = true })
		customer, err := svc.CreateCustomer(ctx, &CreateCustomerRequest{
			Email:     "second@example.com",
			Password:  "secret123",
			FirstName: " Ann ",
		})
		require.NoError(t, err)
		require.NotNil(t, customer.GroupID)
		assert.Equal(t, group.ID, *customer.GroupID)
		assert.Equal(t, "Ann", customer.FirstName)
	})

	t.Run("邮箱已存在", func(t *testing.T) {
		_, err := svc.CreateCustomer(ctx, &CreateCustomerRequest{Email: "first@example.com", Password: "secret123"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("分组不存在", func(t *testing.T) {
		missing := uint(999)
		_, err := svc.CreateCustomer(ctx, &CreateCustomerRequest{Email: "third@example.com", Password: "secret123", GroupID: &missing})
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})
}

func TestUpdateAndDeleteCustomer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCustomerService(db)

	customer := createCustomer(t, db, "owner@example.com", nil)

	password := "changed123"
	empty := ""
	last := "Smith"
	updated, err := svc.UpdateCustomer(ctx, customer.ID, &UpdateCustomerRequest{Password: &password, LastName: &last})
	require.NoError(t, err)
	assert.True(t, updated.CheckPassword("changed123"))
	assert.Equal(t, "Smith", updated.LastName)

	// 空密码不修改
	updated, err = svc.UpdateCustomer(ctx, customer.ID, &UpdateCustomerRequest{Password: &empty})
	require.NoError(t, err)
	assert.True(t, updated.CheckPassword("changed123"))

	_, err = svc.UpdateCustomer(ctx, 999, &UpdateCustomerRequest{})
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	require.NoError(t, svc.DeleteCustomer(ctx, customer.ID))
	stored, err := svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CustomerStatusPendingDelete, stored.Status)
	assert.ErrorIs(t, svc.DeleteCustomer(ctx, 999), ErrCustomerNotFound)

	byUID, err := svc.GetCustomerByUID(ctx, customer.CustomerUID)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, byUID.ID)
}

func TestListCustomers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCustomerService(db)

	group := createGroup(t, db, nil)
	createCustomer(t, db, "ann@example.com", group)
	createCustomer(t, db, "bob@example.com", nil)

	page, err := svc.ListCustomers(ctx, CustomerFilter{Search: "ANN"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ann@example.com", page.Items[0].Email)

	page, err = svc.ListCustomers(ctx, CustomerFilter{GroupID: group.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = svc.ListCustomers(ctx, CustomerFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
}

func TestCustomerGroups(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewCustomerService(db)

	first := models.NewCustomerGroup("First")
	first.IsDefault = true
	require.NoError(t, svc.SaveGroup(ctx, first))

	second := models.NewCustomerGroup("Second")
	second.IsDefault = true
	require.NoError(t, svc.SaveGroup(ctx, second))

	t.Run("只有一个默认分组", func(t *testing.T) {
		stored, err := svc.GetGroup(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsDefault)

		stored, err = svc.GetGroup(ctx, second.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsDefault)

		groups, err := svc.ListGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "First", groups[0].Name)
	})

	t.Run("关联系统服务器", func(t *testing.T) {
		system := createDeliveryServer(t, db, nil, nil)
		owner := createCustomer(t, db, "owner@example.com", nil)
		private := createDeliveryServer(t, db, &owner.ID, nil)

		err := svc.AttachServersToGroup(ctx, second.ID, []uint{system.ID, private.ID})
		assert.ErrorIs(t, err, ErrDeliveryServerNotFound)

		require.NoError(t, svc.AttachServersToGroup(ctx, second.ID, []uint{system.ID}))
		stored, err := svc.GetGroup(ctx, second.ID)
		require.NoError(t, err)
		require.Len(t, stored.DeliveryServers, 1)
		assert.Equal(t, system.ID, stored.DeliveryServers[0].ID)

		require.NoError(t, svc.AttachServersToGroup(ctx, second.ID, nil))
		stored, err = svc.GetGroup(ctx, second.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.DeliveryServers)

		assert.ErrorIs(t, svc.AttachServersToGroup(ctx, 999, nil), ErrGroupNotFound)
	})

	t.Run("删除分组", func(t *testing.T) {
		member := createCustomer(t, db, "member@example.com", second)
		require.NoError(t, svc.DeleteGroup(ctx, second.ID))

		stored, err := svc.GetCustomer(ctx, member.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.GroupID)

		_, err = svc.GetGroup(ctx, second.ID)
		assert.ErrorIs(t, err, ErrGroupNotFound)
		assert.ErrorIs(t, svc.DeleteGroup(ctx, second.ID), ErrGroupNotFound)
	})
}
