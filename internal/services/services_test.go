package services

import (
	"context"
	"testing"

	"mailwizz/internal/database"
	"mailwizz/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitializeInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createGroup(t *testing.T, db *gorm.DB, configure func(*models.CustomerGroup)) *models.CustomerGroup {
	t.Helper()
	group := models.NewCustomerGroup("Default")
	if configure != nil {
		configure(group)
	}
	require.NoError(t, db.Create(group).Error)
	return group
}

func createCustomer(t *testing.T, db *gorm.DB, email string, group *models.CustomerGroup) *models.Customer {
	t.Helper()
	customer := &models.Customer{Email: email, Password: "secret123", Status: models.CustomerStatusActive}
	if group != nil {
		customer.GroupID = &group.ID
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func createList(t *testing.T, db *gorm.DB, customer *models.Customer, name string) *models.List {
	t.Helper()
	list := models.NewList(customer.ID, name)
	list.FromName = "Acme"
	list.FromEmail = "news@acme.test"
	require.NoError(t, NewListService(db, nil).CreateList(context.Background(), list))
	return list
}

func createSubscriber(t *testing.T, db *gorm.DB, list *models.List, email, status string) *models.ListSubscriber {
	t.Helper()
	subscriber := &models.ListSubscriber{ListID: list.ID, Email: email, Status: status}
	require.NoError(t, db.Create(subscriber).Error)
	return subscriber
}

func createDeliveryServer(t *testing.T, db *gorm.DB, customerID *uint, configure func(*models.DeliveryServer)) *models.DeliveryServer {
	t.Helper()
	server := models.NewDeliveryServer(models.DeliveryServerTypeSMTP)
	server.CustomerID = customerID
	server.Hostname = "smtp.example.com"
	server.FromEmail = "sender@example.com"
	server.Status = models.DeliveryServerStatusActive
	if configure != nil {
		configure(server)
	}
	require.NoError(t, db.Create(server).Error)
	return server
}
