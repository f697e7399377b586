package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	shops           map[string]domain.Shop
	inventory       map[string]map[string]int
	customersByID   map[string]domain.Customer
	ordersByID      map[string]domain.SalesOrder
	orderIDByNumber map[string]string
	settings        domain.Settings
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		shops:           make(map[string]domain.Shop),
		inventory:       make(map[string]map[string]int),
		customersByID:   make(map[string]domain.Customer),
		ordersByID:      make(map[string]domain.SalesOrder),
		orderIDByNumber: make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds dev/demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_SALES_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salesPwd := envOr("SEED_SALES_PASSWORD", "sales123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALES_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		shopID   string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"sales.ikeja", salesPwd, domain.RoleSalesPerson, "shop-ikeja"},
		{"sales.lekki", salesPwd, domain.RoleSalesPerson, "shop-lekki"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    u.shopID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with two shops, a cement catalog, stock,
// delivery rates and demo users.
func NewSeeded() *Store {
	s := New()

	for _, shop := range []domain.Shop{
		{ID: "shop-ikeja", Name: "Ikeja Depot", Address: "12 Oba Akran Ave, Ikeja"},
		{ID: "shop-lekki", Name: "Lekki Depot", Address: "KM 18 Lekki-Epe Expressway"},
	} {
		s.shops[shop.ID] = shop
		s.inventory[shop.ID] = make(map[string]int)
	}

	products := []domain.Product{
		{ID: "cem-dangote-425", Name: "Dangote 3X", Variant: "42.5R", Brand: "Dangote", Size: "50kg", Price: 500000, Active: true},
		{ID: "cem-dangote-325", Name: "Dangote Falcon", Variant: "32.5N", Brand: "Dangote", Size: "50kg", Price: 460000, Active: true},
		{ID: "cem-bua-425", Name: "BUA Cement", Variant: "42.5R", Brand: "BUA", Size: "50kg", Price: 480000, Active: true},
		{ID: "cem-lafarge-elephant", Name: "Elephant Classic", Variant: "42.5R", Brand: "Lafarge", Size: "50kg", Price: 520000, Active: true},
		{ID: "cem-lafarge-supaset", Name: "Supaset", Variant: "42.5R", Brand: "Lafarge", Size: "50kg", Price: 550000, Active: true},
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.inventory["shop-ikeja"][p.ID] = 120
		s.inventory["shop-lekki"][p.ID] = 60
	}

	s.settings = domain.Settings{
		OnloadingRate:  5000,
		DeliveryRate:   20000,
		OffloadingRate: 5000,
		UpdatedBy:      "system",
		UpdatedAt:      time.Now().UTC(),
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.ProductStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shopStock := s.inventory[shopID]
	products := make([]domain.ProductStock, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, domain.ProductStock{Product: p, AvailableStock: shopStock[p.ID]})
	}

	slices.SortFunc(products, func(a, b domain.ProductStock) int {
		if a.Brand == b.Brand {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Brand, b.Brand)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, shopID string, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(productIDs))
	shopStock := s.inventory[shopID]
	for _, id := range productIDs {
		stockMap[id] = shopStock[id]
	}
	return stockMap, nil
}

func (s *Store) SetStock(_ context.Context, shopID string, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	if _, exists := s.shops[shopID]; !exists {
		return fmt.Errorf("shop %s: %w", shopID, store.ErrNotFound)
	}
	shopStock, ok := s.inventory[shopID]
	if !ok {
		shopStock = make(map[string]int)
		s.inventory[shopID] = shopStock
	}
	shopStock[productID] = qty
	return nil
}

func (s *Store) GetShop(_ context.Context, id string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identityTakenLocked(customer.Phone, customer.Email, "") {
		return nil, store.ErrConflict
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	customer.IsActive = true
	s.customersByID[customer.ID] = customer
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customersByID {
		if customer.Phone == phone {
			found := customer
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindCustomerByEmail(_ context.Context, email string) (*domain.Customer, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customersByID {
		if customer.Email == email {
			found := customer
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customersByID[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.identityTakenLocked(customer.Phone, customer.Email, customer.ID) {
		return nil, store.ErrConflict
	}
	customer.CreatedAt = existing.CreatedAt
	customer.TotalOrders = existing.TotalOrders
	customer.TotalSpent = existing.TotalSpent
	customer.LastOrderDate = existing.LastOrderDate
	customer.UpdatedAt = time.Now().UTC()
	s.customersByID[customer.ID] = customer
	return &customer, nil
}

// identityTakenLocked reports whether another customer already owns phone or
// the non-empty email. Callers hold s.mu.
func (s *Store) identityTakenLocked(phone string, email string, exceptID string) bool {
	for id, c := range s.customersByID {
		if id == exceptID {
			continue
		}
		if c.Phone == phone || (email != "" && c.Email == email) {
			return true
		}
	}
	return false
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) error {
	if settings.OnloadingRate < 0 || settings.DeliveryRate < 0 || settings.OffloadingRate < 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	s.settings = settings
	return nil
}

func (s *Store) CreateSalesOrder(_ context.Context, order domain.SalesOrder) (*domain.SalesOrder, error) {
	if order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orderIDByNumber[order.OrderNumber]; exists {
		return nil, fmt.Errorf("order number %s: %w", order.OrderNumber, store.ErrConflict)
	}
	customer, ok := s.customersByID[order.CustomerID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", order.CustomerID, store.ErrNotFound)
	}
	shopStock, ok := s.inventory[order.ShopID]
	if !ok {
		return nil, fmt.Errorf("shop %s: %w", order.ShopID, store.ErrNotFound)
	}

	requested, ids := store.QuantitiesByProduct(order.Items)
	for _, id := range ids {
		if p, exists := s.products[id]; !exists || !p.Active {
			return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
		}
	}
	if err := store.CheckStock(requested, shopStock, s.products, ids); err != nil {
		return nil, err
	}

	for _, id := range ids {
		shopStock[id] -= requested[id]
	}

	if order.ID == "" {
		order.ID = xid.New("so")
	}
	now := time.Now().UTC()
	if order.OrderDate.IsZero() {
		order.OrderDate = now
	}
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1

	saved := order.Clone()
	s.ordersByID[order.ID] = saved
	s.orderIDByNumber[order.OrderNumber] = order.ID

	customer.TotalOrders++
	customer.TotalSpent += order.TotalAmount
	orderDate := order.OrderDate
	customer.LastOrderDate = &orderDate
	customer.UpdatedAt = now
	s.customersByID[customer.ID] = customer

	out := saved.Clone()
	return &out, nil
}

func (s *Store) GetSalesOrder(_ context.Context, id string) (*domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := order.Clone()
	return &out, nil
}

func (s *Store) UpdateSalesOrder(_ context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.casTargetLocked(order, expectedVersion)
	if err != nil {
		return nil, err
	}
	return s.replaceOrderLocked(existing, order), nil
}

func (s *Store) ResolveSalesOrder(_ context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.casTargetLocked(order, expectedVersion)
	if err != nil {
		return nil, err
	}
	shopStock := s.inventory[existing.ShopID]

	delta, ids := store.StockDelta(existing.Items, order.Items)
	for _, id := range ids {
		if delta[id] > 0 {
			if p, exists := s.products[id]; !exists || !p.Active {
				return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
			}
		}
	}
	if err := store.CheckStock(delta, shopStock, s.products, ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		shopStock[id] -= delta[id]
	}

	if customer, ok := s.customersByID[existing.CustomerID]; ok {
		customer.TotalSpent += order.TotalAmount - existing.TotalAmount
		customer.UpdatedAt = time.Now().UTC()
		s.customersByID[customer.ID] = customer
	}
	return s.replaceOrderLocked(existing, order), nil
}

func (s *Store) casTargetLocked(order domain.SalesOrder, expectedVersion int64) (domain.SalesOrder, error) {
	existing, ok := s.ordersByID[order.ID]
	if !ok {
		return domain.SalesOrder{}, store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return domain.SalesOrder{}, store.ErrVersionConflict
	}
	return existing, nil
}

func (s *Store) replaceOrderLocked(existing domain.SalesOrder, order domain.SalesOrder) *domain.SalesOrder {
	order.OrderNumber = existing.OrderNumber
	order.ShopID = existing.ShopID
	order.CustomerID = existing.CustomerID
	order.CreatedAt = existing.CreatedAt
	order.Version = existing.Version + 1
	order.UpdatedAt = time.Now().UTC()

	saved := order.Clone()
	s.ordersByID[order.ID] = saved
	out := saved.Clone()
	return &out
}

func (s *Store) ListSalesOrders(_ context.Context, filter store.OrderFilter) ([]domain.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesOrder, 0, 32)
	for _, order := range s.ordersByID {
		if filter.ShopID != "" && order.ShopID != filter.ShopID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.NeedsCorrection != nil && order.NeedsCorrection != *filter.NeedsCorrection {
			continue
		}
		result = append(result, order.Clone())
	}

	slices.SortFunc(result, func(a, b domain.SalesOrder) int {
		if a.OrderDate.Equal(b.OrderDate) {
			return strings.Compare(b.OrderNumber, a.OrderNumber)
		}
		if a.OrderDate.After(b.OrderDate) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleSalesPerson
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
