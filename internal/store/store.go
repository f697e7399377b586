package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError lists every item whose requested quantity exceeds
// the shop's stock. errors.Is(err, ErrInsufficientStock) matches it.
type InsufficientStockError struct {
	Shortfalls []domain.Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("product=%s available=%d requested=%d", s.ProductID, s.Available, s.Requested))
	}
	return fmt.Sprintf("insufficient stock: %s", strings.Join(parts, "; "))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// CheckStock compares requested quantities per product against stock and
// returns nil or an *InsufficientStockError covering every short item.
func CheckStock(requested map[string]int, stock map[string]int, products map[string]domain.Product, order []string) error {
	var shortfalls []domain.Shortfall
	for _, id := range order {
		qty := requested[id]
		if qty <= 0 {
			continue
		}
		if available := stock[id]; available < qty {
			shortfalls = append(shortfalls, domain.Shortfall{
				ProductID:   id,
				ProductName: products[id].Name,
				Requested:   qty,
				Available:   available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return &InsufficientStockError{Shortfalls: shortfalls}
	}
	return nil
}

// QuantitiesByProduct sums item quantities per product id, keeping first-seen order.
func QuantitiesByProduct(items []domain.SalesOrderItem) (map[string]int, []string) {
	qty := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := qty[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}
	return qty, order
}

// StockDelta returns the additional stock each product needs when an order's
// items change from before to after. Negative values are returned to stock.
func StockDelta(before []domain.SalesOrderItem, after []domain.SalesOrderItem) (map[string]int, []string) {
	prev, prevOrder := QuantitiesByProduct(before)
	next, order := QuantitiesByProduct(after)
	for _, id := range prevOrder {
		if _, ok := next[id]; !ok {
			order = append(order, id)
		}
	}
	delta := make(map[string]int, len(order))
	for _, id := range order {
		delta[id] = next[id] - prev[id]
	}
	return delta, order
}

type OrderFilter struct {
	ShopID          string
	Status          string
	NeedsCorrection *bool
	Limit           int
}

type Repository interface {
	ListProducts(ctx context.Context, shopID string) ([]domain.ProductStock, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, shopID string, productIDs []string) (map[string]int, error)
	SetStock(ctx context.Context, shopID string, productID string, qty int) error
	GetShop(ctx context.Context, id string) (*domain.Shop, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error

	// CreateSalesOrder checks stock for every item, decrements it, inserts the
	// order and updates customer stats in one unit of work.
	CreateSalesOrder(ctx context.Context, order domain.SalesOrder) (*domain.SalesOrder, error)
	GetSalesOrder(ctx context.Context, id string) (*domain.SalesOrder, error)
	// UpdateSalesOrder replaces the order when its stored version equals
	// expectedVersion and bumps the version; otherwise ErrVersionConflict.
	UpdateSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error)
	// ResolveSalesOrder is UpdateSalesOrder plus the stock and customer
	// totalSpent adjustments implied by the item change.
	ResolveSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error)
	ListSalesOrders(ctx context.Context, filter OrderFilter) ([]domain.SalesOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
