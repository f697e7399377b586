// Package cart holds the line items a sales person assembles before checkout.
// It is client-side state; nothing here is persisted.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

var (
	ErrBelowMinimum = errors.New("quantity cannot go below 1")
	ErrNotInCart    = errors.New("product is not in the cart")
	ErrOutOfStock   = errors.New("product is out of stock")
)

// ExceedsStockError is returned when a quantity change would pass the
// stock snapshotted when the product list was fetched.
type ExceedsStockError struct {
	ProductID string
	Available int
}

func (e *ExceedsStockError) Error() string {
	return fmt.Sprintf("only %d bags of %s available", e.Available, e.ProductID)
}

// ProductSnapshot is a product as listed for the cart's shop.
type ProductSnapshot = domain.ProductStock

type Item struct {
	ProductID      string
	Name           string
	Variant        string
	Brand          string
	Size           string
	ImageURL       string
	Price          int64
	Quantity       int
	AvailableStock int
}

func (i Item) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// Cart is safe for concurrent use. Items keep insertion order.
type Cart struct {
	mu    sync.Mutex
	order []string
	items map[string]*Item
}

func New() *Cart {
	return &Cart{items: make(map[string]*Item)}
}

// Add inserts the product with quantity 1. Adding a product already in the
// cart is a no-op; use UpdateQuantity to change it.
func (c *Cart) Add(product ProductSnapshot) error {
	if product.AvailableStock < 1 {
		return fmt.Errorf("%s: %w", product.ID, ErrOutOfStock)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[product.ID]; ok {
		return nil
	}
	c.items[product.ID] = &Item{
		ProductID:      product.ID,
		Name:           product.Name,
		Variant:        product.Variant,
		Brand:          product.Brand,
		Size:           product.Size,
		ImageURL:       product.ImageURL,
		Price:          product.Price,
		Quantity:       1,
		AvailableStock: product.AvailableStock,
	}
	c.order = append(c.order, product.ID)
	return nil
}

// UpdateQuantity moves a line's quantity by delta. The result must stay in
// [1, availableStock]; out-of-range changes are rejected and leave the line as is.
func (c *Cart) UpdateQuantity(productID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[productID]
	if !ok {
		return ErrNotInCart
	}
	return item.setQuantity(item.Quantity + delta)
}

func (c *Cart) SetQuantity(productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[productID]
	if !ok {
		return ErrNotInCart
	}
	return item.setQuantity(quantity)
}

func (i *Item) setQuantity(quantity int) error {
	if quantity < 1 {
		return ErrBelowMinimum
	}
	if quantity > i.AvailableStock {
		return &ExceedsStockError{ProductID: i.ProductID, Available: i.AvailableStock}
	}
	i.Quantity = quantity
	return nil
}

func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[productID]; !ok {
		return
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Item)
	c.order = nil
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.items[id])
	}
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// PreviewTotal is the item subtotal in kobo. The server recomputes totals
// and adds delivery costs.
func (c *Cart) PreviewTotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, item := range c.items {
		total += item.LineTotal()
	}
	return total
}

func (c *Cart) BagCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	bags := 0
	for _, item := range c.items {
		bags += item.Quantity
	}
	return bags
}

// CanCheckout requires a non-empty cart, a resolved shop and a sales person.
// Admins never create orders.
func (c *Cart) CanCheckout(shopID string, role string) bool {
	return c.Len() > 0 && shopID != "" && role == domain.RoleSalesPerson
}

// OrderItems converts the cart lines into order request items.
func (c *Cart) OrderItems() []domain.OrderItemRequest {
	items := c.Items()
	out := make([]domain.OrderItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
