package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/dealership/internal/core/domain"
)

var admin = domain.User{ID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin}

func TestSaleService_GetSaleAccess(t *testing.T) {
	store := newMemStore()
	seedSale(t, store, "sale-1", domain.SaleStatusCompleted)
	svc := NewSaleService(store, nil, nil, nil)

	sale, err := svc.GetSale(context.Background(), buyer, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)

	_, err = svc.GetSale(context.Background(), admin, "sale-1")
	assert.NoError(t, err)

	_, err = svc.GetSale(context.Background(), domain.User{ID: "stranger"}, "sale-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaleService_ListValidation(t *testing.T) {
	svc := NewSaleService(newMemStore(), nil, nil, nil)
	from := time.Now()
	to := from.Add(-time.Hour)

	_, _, err := svc.ListSales(context.Background(), domain.SaleFilter{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = svc.ListSales(context.Background(), domain.SaleFilter{PaymentStatus: "maybe"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = svc.ListSales(context.Background(), domain.SaleFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSaleService_ProfileDefaults(t *testing.T) {
	store := newMemStore()
	seedSale(t, store, "sale-1", domain.SaleStatusCompleted)
	svc := NewSaleService(store, nil, nil, nil)

	bundle, err := svc.Profile(context.Background(), buyer)
	require.NoError(t, err)
	assert.Len(t, bundle.Purchases, 1)
	assert.Empty(t, bundle.PaymentMethods)
	assert.Equal(t, domain.DefaultPrivacySettings(buyer.ID), bundle.Privacy)

	_, err = svc.UpdatePrivacy(context.Background(), buyer, domain.PrivacySettings{MarketingEmails: true})
	require.NoError(t, err)
	bundle, err = svc.Profile(context.Background(), buyer)
	require.NoError(t, err)
	assert.True(t, bundle.Privacy.MarketingEmails)
	assert.False(t, bundle.Privacy.ShowPurchaseHistory)
	assert.Equal(t, buyer.ID, bundle.Privacy.UserID)
}

func TestSaleService_CancelCompletedRestocks(t *testing.T) {
	store := newMemStore()
	store.addCar("car-a", "10000", false)
	seedSale(t, store, "sale-1", domain.SaleStatusCompleted)
	carCache := newFakeCarCache()
	pub := &fakePublisher{}
	svc := NewSaleService(store, carCache, pub, nil)

	sale, err := svc.UpdateStatus(context.Background(), "sale-1", domain.SaleStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, sale.Status)
	assert.True(t, store.car("car-a").InStock)
	assert.Contains(t, carCache.invalidated, "car-a")
	assert.Equal(t, []domain.SaleEventType{domain.SaleEventStatusChanged}, pub.types())

	_, err = svc.UpdateStatus(context.Background(), "sale-1", domain.SaleStatusDelivered)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = svc.UpdateStatus(context.Background(), "sale-1", "shipped")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.UpdateStatus(context.Background(), "missing", domain.SaleStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaleService_ResolveConfirmationTarget(t *testing.T) {
	store := newMemStore()
	seedSale(t, store, "sale-1", domain.SaleStatusCompleted)
	store.sales["sale-1"] = func() domain.Sale {
		s := store.sales["sale-1"]
		s.PaymentIntentID = "pi_1"
		return s
	}()
	svc := NewSaleService(store, nil, nil, nil)

	sale, err := svc.ResolveConfirmationTarget(context.Background(), buyer, "pi_1", "")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)

	sale, err = svc.ResolveConfirmationTarget(context.Background(), buyer, "", buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)

	_, err = svc.ResolveConfirmationTarget(context.Background(), buyer, "", "someone-else")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.ResolveConfirmationTarget(context.Background(), domain.User{ID: "stranger"}, "pi_1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ResolveConfirmationTarget(context.Background(), buyer, "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
