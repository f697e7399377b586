// Package checkout turns a cart into a persisted sales order: validate,
// resolve the customer, then submit the order.
//
// The two server calls are not atomic. A failure after the customer step
// leaves the customer in place; Result.Stage reports how far a checkout got.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/cart"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/client"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/validation"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

var (
	ErrCannotCheckout = errors.New("checkout needs a non-empty cart, a shop and a sales person")
	ErrInvalidDetails = errors.New("invalid checkout details")
)

// ShortfallError is the per-item stock report returned by the server.
type ShortfallError = client.ShortfallError

type Stage int

const (
	StageNone Stage = iota
	StageValidated
	StageCustomerResolved
	StageOrderCreated
)

func (s Stage) String() string {
	switch s {
	case StageValidated:
		return "validated"
	case StageCustomerResolved:
		return "customer_resolved"
	case StageOrderCreated:
		return "order_created"
	default:
		return "none"
	}
}

// API is the part of the sales API a checkout needs. *client.Client
// satisfies it.
type API interface {
	EnsureCustomer(ctx context.Context, req domain.CustomerRequest) (domain.CustomerResponse, error)
	GetSettings(ctx context.Context) (domain.Settings, error)
	CreateSalesOrder(ctx context.Context, req domain.SalesOrderCreateRequest) (domain.SalesOrderResponse, error)
}

type CustomerDetails = domain.CustomerRequest

type Options struct {
	ShopID          string
	Role            string
	PaymentMethod   string
	IsDelivery      bool
	DeliveryAddress string
	DeliveryDate    *time.Time
	Notes           string
}

type Result struct {
	Stage           Stage
	Customer        domain.Customer
	CustomerCreated bool
	OrderNumber     string
	PreviewTotal    int64
	Order           *domain.SalesOrderResponse
}

type Orchestrator struct {
	api      API
	cart     *cart.Cart
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(api API, c *cart.Cart, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:      api,
		cart:     c,
		validate: validation.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessCheckout validates everything locally before the first request.
// The cart is cleared only once the order exists.
func (o *Orchestrator) ProcessCheckout(ctx context.Context, details CustomerDetails, opts Options) (Result, error) {
	var result Result

	if !o.cart.CanCheckout(opts.ShopID, opts.Role) {
		return result, ErrCannotCheckout
	}
	details = normalizeDetails(details)
	if err := o.validateCheckout(details, &opts); err != nil {
		return result, err
	}
	result.Stage = StageValidated

	customer, err := o.api.EnsureCustomer(ctx, details)
	if err != nil {
		return result, fmt.Errorf("resolve customer: %w", err)
	}
	result.Stage = StageCustomerResolved
	result.Customer = customer.Customer
	result.CustomerCreated = customer.Created

	preview := o.cart.PreviewTotal()
	if opts.IsDelivery {
		settings, err := o.api.GetSettings(ctx)
		if err != nil {
			return result, fmt.Errorf("load delivery rates: %w", err)
		}
		onloading, delivery, offloading := settings.DeliveryCosts(o.cart.BagCount())
		preview += onloading + delivery + offloading
	}
	result.PreviewTotal = preview
	result.OrderNumber = xid.OrderNumber(o.now())

	order, err := o.api.CreateSalesOrder(ctx, domain.SalesOrderCreateRequest{
		OrderNumber:     result.OrderNumber,
		CustomerID:      customer.Customer.ID,
		ShopID:          opts.ShopID,
		Items:           o.cart.OrderItems(),
		IsDelivery:      opts.IsDelivery,
		DeliveryAddress: opts.DeliveryAddress,
		DeliveryDate:    opts.DeliveryDate,
		PaymentMethod:   opts.PaymentMethod,
		Notes:           opts.Notes,
		TotalAmount:     &preview,
	})
	if err != nil {
		o.logger.Warn("checkout order not created",
			slog.String("orderNumber", result.OrderNumber),
			slog.String("customerId", customer.Customer.ID),
			slog.Bool("customerCreated", customer.Created),
			slog.Any("error", err),
		)
		return result, fmt.Errorf("create order %s: %w", result.OrderNumber, err)
	}

	result.Stage = StageOrderCreated
	result.Order = &order
	o.cart.Clear()
	if order.TotalAmount != preview {
		o.logger.Info("server total differs from preview",
			slog.String("orderNumber", order.OrderNumber),
			slog.Int64("preview", preview),
			slog.Int64("total", order.TotalAmount),
		)
	}
	return result, nil
}

func (o *Orchestrator) validateCheckout(details CustomerDetails, opts *Options) error {
	if err := o.validate.Struct(details); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDetails, validation.Message(err))
	}
	opts.PaymentMethod = strings.ToLower(strings.TrimSpace(opts.PaymentMethod))
	if !domain.ValidPaymentMethod(opts.PaymentMethod) {
		return fmt.Errorf("%w: paymentMethod must be one of [cash pos transfer]", ErrInvalidDetails)
	}
	opts.DeliveryAddress = strings.TrimSpace(opts.DeliveryAddress)
	if opts.IsDelivery && opts.DeliveryAddress == "" {
		return fmt.Errorf("%w: deliveryAddress is required for delivery orders", ErrInvalidDetails)
	}
	return nil
}

func normalizeDetails(details CustomerDetails) CustomerDetails {
	details.Name = strings.TrimSpace(details.Name)
	details.Phone = validation.NormalizePhone(details.Phone)
	details.Email = strings.ToLower(strings.TrimSpace(details.Email))
	return details
}
