package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("CEMENT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set CEMENT_TEST_MONGO_URI to run mongo integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, uri, fmt.Sprintf("cement_it_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.salesOrders.Database().Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestSalesOrderLifecycleAgainstMongo(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	_, err := s.shops.InsertOne(ctx, domain.Shop{ID: "shop-it", Name: "IT Depot"})
	require.NoError(t, err)
	_, err = s.products.InsertOne(ctx, domain.Product{ID: "cem-it", Name: "IT Cement", Price: 500000, Active: true})
	require.NoError(t, err)
	require.NoError(t, s.SetStock(ctx, "shop-it", "cem-it", 4))

	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Ada Obi", Phone: "+2348030000100"})
	require.NoError(t, err)

	_, err = s.CreateCustomer(ctx, domain.Customer{Name: "Dup", Phone: "+2348030000100"})
	assert.ErrorIs(t, err, store.ErrConflict)

	items := []domain.SalesOrderItem{{ProductID: "cem-it", ProductName: "IT Cement", Quantity: 5, UnitPrice: 500000, TotalPrice: 2500000}}
	order := domain.SalesOrder{
		OrderNumber:   "SO-IT-1",
		CustomerID:    customer.ID,
		ShopID:        "shop-it",
		Items:         items,
		PaymentMethod: domain.PaymentCash,
		Status:        domain.StatusNotCollected,
		SalesPerson:   "sales.it",
	}
	order.RecomputeTotal()

	_, err = s.CreateSalesOrder(ctx, order)
	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr), "expected shortfall, got %v", err)
	assert.Equal(t, 4, stockErr.Shortfalls[0].Available)

	order.Items[0].Quantity = 2
	order.Items[0].TotalPrice = 1000000
	order.RecomputeTotal()
	created, err := s.CreateSalesOrder(ctx, order)
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Version)

	stock, err := s.GetStockMap(ctx, "shop-it", []string{"cem-it"})
	require.NoError(t, err)
	assert.Equal(t, 2, stock["cem-it"])

	next := created.Clone()
	next.Items[0].CollectedQuantity = 1
	saved, err := s.UpdateSalesOrder(ctx, next, created.Version)
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)
	assert.Equal(t, 1, saved.Items[0].CollectedQuantity)

	_, err = s.UpdateSalesOrder(ctx, next, created.Version)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	var raw bson.M
	require.NoError(t, s.customers.FindOne(ctx, bson.M{"_id": customer.ID}).Decode(&raw))
	assert.EqualValues(t, 1, raw["totalOrders"])
}
