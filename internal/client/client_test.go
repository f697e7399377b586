package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/cache"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/httpapi"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/service"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSettingsCache{}, time.Minute, nil)
	auth := httpapi.NewAuthManager("client-test-secret-client-test-secret", time.Hour, repo)
	server := httptest.NewServer(httpapi.New(svc, auth, httpapi.Options{AllowedOrigin: "*"}).Handler())
	t.Cleanup(server.Close)
	return server
}

func TestLoginStoresToken(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL+"/", server.Client())

	_, err := c.ListProducts(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	resp, err := c.Login(context.Background(), "sales.ikeja", "sales123")
	require.NoError(t, err)
	assert.Equal(t, "shop-ikeja", resp.ShopID)
	assert.Equal(t, resp.AccessToken, c.Token())

	products, err := c.ListProducts(context.Background(), "shop-ikeja")
	require.NoError(t, err)
	assert.NotEmpty(t, products)
}

func TestLoginFailureIsUnauthorized(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL, server.Client())

	_, err := c.Login(context.Background(), "admin", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, c.Token())
}

func TestEnsureCustomerConflict(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL, server.Client())
	ctx := context.Background()
	_, err := c.Login(ctx, "sales.ikeja", "sales123")
	require.NoError(t, err)

	first, err := c.EnsureCustomer(ctx, domain.CustomerRequest{Name: "Bola", Phone: "08030001111", Email: "bola@example.com"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := c.EnsureCustomer(ctx, domain.CustomerRequest{Name: "Bola", Phone: "08030001111"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Customer.ID, again.Customer.ID)

	_, err = c.EnsureCustomer(ctx, domain.CustomerRequest{Name: "Other", Phone: "08030002222", Email: "bola@example.com"})
	assert.ErrorIs(t, err, ErrCustomerConflict)
}

func TestCreateSalesOrderShortfall(t *testing.T) {
	server := newTestServer(t)
	c := New(server.URL, server.Client())
	ctx := context.Background()
	_, err := c.Login(ctx, "sales.lekki", "sales123")
	require.NoError(t, err)
	customer, err := c.EnsureCustomer(ctx, domain.CustomerRequest{Name: "Kemi", Phone: "08030003333"})
	require.NoError(t, err)

	_, err = c.CreateSalesOrder(ctx, domain.SalesOrderCreateRequest{
		CustomerID:    customer.Customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-bua-425", Quantity: 61}},
		PaymentMethod: domain.PaymentPOS,
	})
	var shortfall *ShortfallError
	require.ErrorAs(t, err, &shortfall)
	require.Len(t, shortfall.Shortfalls, 1)
	assert.Equal(t, 61, shortfall.Shortfalls[0].Requested)
	assert.Equal(t, 60, shortfall.Shortfalls[0].Available)
	assert.Contains(t, shortfall.Error(), "available 60")

	order, err := c.CreateSalesOrder(ctx, domain.SalesOrderCreateRequest{
		CustomerID:    customer.Customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-bua-425", Quantity: 2}},
		PaymentMethod: domain.PaymentPOS,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(960000), order.TotalAmount)
	assert.Equal(t, "shop-lekki", order.ShopID)
}

func TestNonJSONErrorFallsBackToStatusText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL, server.Client()).GetSettings(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
}

func TestContextCancellationStopsRequest(t *testing.T) {
	server := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(server.URL, server.Client()).Login(ctx, "admin", "admin123")
	assert.True(t, errors.Is(err, context.Canceled))
}
