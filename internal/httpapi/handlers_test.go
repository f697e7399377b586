package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/cache"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/service"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithOptions(t, Options{AllowedOrigin: "*"})
}

func newTestAPIWithOptions(t *testing.T, opts Options) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSettingsCache{}, time.Minute, nil)
	auth := NewAuthManager("test-secret-key-for-handler-tests", time.Hour, repo)

	return New(svc, auth, opts)
}

type orderEnvelope struct {
	Success     bool                      `json:"success"`
	Message     string                    `json:"message"`
	Code        string                    `json:"code"`
	OrderNumber string                    `json:"orderNumber"`
	SalesOrder  domain.SalesOrderResponse `json:"salesOrder"`
	Shortfalls  []domain.Shortfall        `json:"shortfalls"`
}

func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) orderEnvelope {
	t.Helper()
	var env orderEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return env
}

func createCustomer(t *testing.T, api *API, token, phone string) domain.Customer {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{Name: "Ngozi Eze", Phone: phone})
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("ensure customer: expected 200/201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode customer: %v", err)
	}
	return body.Customer
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_ReturnsTokenAndCookie(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "sales.ikeja", Password: "sales123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["accessToken"] == nil || body["accessToken"] == "" {
		t.Fatalf("expected accessToken in response, got %v", body)
	}
	if body["shopId"] != "shop-ikeja" || body["role"] != domain.RoleSalesPerson {
		t.Fatalf("unexpected login payload %v", body)
	}

	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookieName && c.HttpOnly && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected HttpOnly %s cookie", tokenCookieName)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_ScopedToSalesPersonShop(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.lekki", "sales123")

	rec := doJSON(t, api, http.MethodGet, "/api/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Products []domain.ProductStock `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected products in response")
	}
	for _, p := range body.Products {
		if p.AvailableStock != 60 {
			t.Fatalf("expected lekki stock 60 for %s, got %d", p.ID, p.AvailableStock)
		}
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products?shopId=shop-ikeja", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another shop, got %d", rec.Code)
	}
}

func TestHandleCreateSalesOrder_AdminForbidden(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/sales-orders", token, domain.SalesOrderCreateRequest{
		CustomerID:    "whatever",
		Items:         []domain.OrderItemRequest{{ProductID: "cem-dangote-425", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateSalesOrder_ComputesTotal(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")
	customer := createCustomer(t, api, token, "08031234567")

	rec := doJSON(t, api, http.MethodPost, "/api/sales-orders", token, domain.SalesOrderCreateRequest{
		CustomerID:    customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-dangote-425", Quantity: 3}},
		PaymentMethod: domain.PaymentTransfer,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	env := decodeOrder(t, rec)
	if env.SalesOrder.TotalAmount != 1500000 {
		t.Fatalf("expected total 1500000, got %d", env.SalesOrder.TotalAmount)
	}
	if env.OrderNumber == "" || env.OrderNumber != env.SalesOrder.OrderNumber {
		t.Fatalf("expected orderNumber to match, got %q vs %q", env.OrderNumber, env.SalesOrder.OrderNumber)
	}
	if env.SalesOrder.Status != domain.StatusNotCollected || env.SalesOrder.ShopID != "shop-ikeja" {
		t.Fatalf("unexpected order %+v", env.SalesOrder.SalesOrder)
	}
}

func TestHandleCreateSalesOrder_ShortfallReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")
	customer := createCustomer(t, api, token, "08031234568")

	rec := doJSON(t, api, http.MethodPost, "/api/sales-orders", token, domain.SalesOrderCreateRequest{
		CustomerID:    customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-bua-425", Quantity: 121}},
		PaymentMethod: domain.PaymentCash,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	env := decodeOrder(t, rec)
	if env.Code != "InsufficientStock" {
		t.Fatalf("expected InsufficientStock code, got %q", env.Code)
	}
	if len(env.Shortfalls) != 1 || env.Shortfalls[0].Requested != 121 || env.Shortfalls[0].Available != 120 {
		t.Fatalf("unexpected shortfalls %+v", env.Shortfalls)
	}
}

func TestHandleCreateSalesOrder_ValidationError(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")

	rec := doJSON(t, api, http.MethodPost, "/api/sales-orders", token, map[string]any{
		"customerId":    "",
		"items":         []any{},
		"paymentMethod": "cheque",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	env := decodeOrder(t, rec)
	if env.Code != "ValidationError" || env.Success {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHandleEnsureCustomer_Conflict(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")

	first := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{
		Name: "Tunde Bakare", Phone: "08035550001", Email: "tunde@example.com",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}

	again := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{
		Name: "Tunde Bakare", Phone: "0803 555 0001",
	})
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 on reuse, got %d (body: %s)", again.Code, again.Body.String())
	}

	clash := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{
		Name: "Someone Else", Phone: "08035550002", Email: "tunde@example.com",
	})
	if clash.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", clash.Code, clash.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(clash.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "CustomerConflict" {
		t.Fatalf("expected CustomerConflict code, got %v", body["code"])
	}
}

func TestHandleEnsureCustomerReportsKeptFields(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")

	first := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{
		Name: "Bola Ade", Phone: "08035550011", Email: "bola@example.com",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}

	again := doJSON(t, api, http.MethodPost, "/api/customers", token, domain.CustomerRequest{
		Name: "Bola Ade", Phone: "08035550011", Email: "bola.new@example.com",
	})
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 on reuse, got %d (body: %s)", again.Code, again.Body.String())
	}
	var body struct {
		Message    string          `json:"message"`
		Customer   domain.Customer `json:"customer"`
		KeptFields []string        `json:"keptFields"`
	}
	if err := json.NewDecoder(again.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Customer.Email != "bola@example.com" {
		t.Fatalf("expected stored email to win, got %q", body.Customer.Email)
	}
	if len(body.KeptFields) != 1 || body.KeptFields[0] != "email" {
		t.Fatalf("expected keptFields [email], got %v", body.KeptFields)
	}
	if !strings.Contains(body.Message, "email") {
		t.Fatalf("expected message to mention email, got %q", body.Message)
	}
}

func TestHandleOrderLifecycle_CollectionAndCorrection(t *testing.T) {
	api := newTestAPI(t)
	sales := login(t, api, "sales.ikeja", "sales123")
	admin := login(t, api, "admin", "admin123")
	customer := createCustomer(t, api, sales, "08039990000")

	created := doJSON(t, api, http.MethodPost, "/api/sales-orders", sales, domain.SalesOrderCreateRequest{
		CustomerID:    customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-dangote-425", Quantity: 3}},
		PaymentMethod: domain.PaymentCash,
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	order := decodeOrder(t, created).SalesOrder
	base := "/api/sales-orders/" + order.ID

	rec := doJSON(t, api, http.MethodPut, base+"/partial-collection", sales, domain.PartialCollectionRequest{
		Collections: []domain.CollectionEntry{{ProductID: "cem-dangote-425", QuantityCollected: 2}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("partial collection: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	collected := decodeOrder(t, rec).SalesOrder
	if collected.Items[0].CollectedQuantity != 2 || collected.Status != domain.StatusNotCollected || collected.FullyCollected {
		t.Fatalf("unexpected order after partial collection %+v", collected)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/sales-orders/not-collected", sales, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("not-collected: expected 200, got %d", rec.Code)
	}
	var listing struct {
		Count      int   `json:"count"`
		TotalBags  int   `json:"totalBags"`
		TotalValue int64 `json:"totalValue"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 || listing.TotalBags != 1 || listing.TotalValue != 1500000 {
		t.Fatalf("unexpected not-collected listing %+v", listing)
	}

	rec = doJSON(t, api, http.MethodPut, base+"/flag-correction", sales, domain.FlagCorrectionRequest{CorrectionNotes: "customer wanted 5 bags"})
	if rec.Code != http.StatusOK {
		t.Fatalf("flag: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	flagged := decodeOrder(t, rec).SalesOrder
	if flagged.Status != domain.StatusPendingCorrection || !flagged.NeedsCorrection {
		t.Fatalf("unexpected flagged order %+v", flagged)
	}

	rec = doJSON(t, api, http.MethodPut, base+"/status", sales, domain.StatusUpdateRequest{Status: domain.StatusCollected})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status on pending order: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/sales-orders/corrections", admin, nil)
	var corrections struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&corrections); err != nil {
		t.Fatalf("decode corrections: %v", err)
	}
	if corrections.Count != 1 {
		t.Fatalf("expected 1 correction, got %d", corrections.Count)
	}

	rec = doJSON(t, api, http.MethodPut, base+"/resolve-correction", sales, domain.ResolveCorrectionRequest{
		Items:  []domain.OrderItemRequest{{ProductID: "cem-dangote-425", Quantity: 5}},
		Status: domain.StatusNotCollected,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("resolve by sales person: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPut, base+"/resolve-correction", admin, domain.ResolveCorrectionRequest{
		Items:  []domain.OrderItemRequest{{ProductID: "cem-dangote-425", Quantity: 5}},
		Status: domain.StatusCollected,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resolved := decodeOrder(t, rec).SalesOrder
	if resolved.TotalAmount != 2500000 || resolved.Status != domain.StatusCollected || resolved.NeedsCorrection {
		t.Fatalf("unexpected resolved order %+v", resolved)
	}
	if resolved.CollectedDate == nil || resolved.CorrectionResolvedBy != "admin" {
		t.Fatalf("expected collectedDate and resolver to be set, got %+v", resolved)
	}
	if resolved.Items[0].CollectedQuantity != 2 {
		t.Fatalf("expected collected quantity carried over, got %d", resolved.Items[0].CollectedQuantity)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/products", sales, nil)
	var products struct {
		Products []domain.ProductStock `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&products); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	for _, p := range products.Products {
		if p.ID == "cem-dangote-425" && p.AvailableStock != 115 {
			t.Fatalf("expected stock 115 after resolve, got %d", p.AvailableStock)
		}
	}
}

func TestHandleUpdateStatus_StaleVersion(t *testing.T) {
	api := newTestAPI(t)
	sales := login(t, api, "sales.ikeja", "sales123")
	customer := createCustomer(t, api, sales, "08037770000")

	created := doJSON(t, api, http.MethodPost, "/api/sales-orders", sales, domain.SalesOrderCreateRequest{
		CustomerID:    customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-bua-425", Quantity: 1}},
		PaymentMethod: domain.PaymentPOS,
	})
	order := decodeOrder(t, created).SalesOrder

	stale := order.Version - 1
	rec := doJSON(t, api, http.MethodPut, "/api/sales-orders/"+order.ID+"/status", sales, domain.StatusUpdateRequest{
		Status:          domain.StatusCollected,
		ExpectedVersion: &stale,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", rec.Code)
	}
	if env := decodeOrder(t, rec); env.Code != "VersionConflict" {
		t.Fatalf("expected VersionConflict code, got %q", env.Code)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/sales-orders/"+order.ID+"/status", sales, domain.StatusUpdateRequest{
		Status:          "Lost",
		ExpectedVersion: &order.Version,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestHandleGetSalesOrder_NotFoundAndInvalid(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/sales-orders/so-doesnotexist", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodGet, "/api/sales-orders/$where", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestHandleSettings_AdminUpdatesSalesPersonReads(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	sales := login(t, api, "sales.ikeja", "sales123")

	rec := doJSON(t, api, http.MethodPut, "/api/settings", sales, domain.SettingsUpdateRequest{DeliveryRate: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for sales person update, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/settings", admin, domain.SettingsUpdateRequest{OnloadingRate: 1000, DeliveryRate: 30000, OffloadingRate: 2000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/settings", sales, nil)
	var body struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if body.Settings.DeliveryRate != 30000 || body.Settings.UpdatedBy != "admin" {
		t.Fatalf("unexpected settings %+v", body.Settings)
	}
}

func TestHandleSalesPersons_CreateAndList(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/users/sales-persons", admin, domain.SalesPersonCreateRequest{
		Username: "sales.new", Password: "pass1234", ShopID: "shop-lekki",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/users/sales-persons", admin, domain.SalesPersonCreateRequest{
		Username: "sales.new", Password: "pass1234", ShopID: "shop-lekki",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/users/sales-persons?shopId=shop-lekki", admin, nil)
	var body struct {
		SalesPersons []domain.SalesPersonUser `json:"salesPersons"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode sales persons: %v", err)
	}
	if len(body.SalesPersons) != 2 {
		t.Fatalf("expected 2 lekki sales persons, got %d", len(body.SalesPersons))
	}
}

func TestHandleAuditLogs_RecordsOrderCreation(t *testing.T) {
	api := newTestAPI(t)
	sales := login(t, api, "sales.ikeja", "sales123")
	admin := login(t, api, "admin", "admin123")
	customer := createCustomer(t, api, sales, "08036660000")

	doJSON(t, api, http.MethodPost, "/api/sales-orders", sales, domain.SalesOrderCreateRequest{
		CustomerID:    customer.ID,
		Items:         []domain.OrderItemRequest{{ProductID: "cem-lafarge-supaset", Quantity: 2}},
		PaymentMethod: domain.PaymentCash,
	})

	rec := doJSON(t, api, http.MethodGet, "/api/audit-logs?shopId=shop-ikeja&limit=10", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		AuditLogs []domain.AuditLog `json:"auditLogs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode audit logs: %v", err)
	}
	var found bool
	for _, entry := range body.AuditLogs {
		if entry.Action == "sales_order_create" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sales_order_create audit entry, got %+v", body.AuditLogs)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}
