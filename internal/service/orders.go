package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

// CreateSalesOrder prices the items from the catalog, snapshots delivery
// costs, and persists the order with its stock decrement.
func (s *Service) CreateSalesOrder(ctx context.Context, req domain.SalesOrderCreateRequest) (domain.SalesOrderResponse, error) {
	actor, err := requireRole(ctx, domain.RoleSalesPerson)
	if err != nil {
		return domain.SalesOrderResponse{}, fmt.Errorf("%w: only sales persons can create orders", ErrForbidden)
	}
	shopID, err := scopeShop(actor, req.ShopID, true)
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}

	req.OrderNumber = strings.TrimSpace(req.OrderNumber)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.validateStruct(req); err != nil {
		return domain.SalesOrderResponse{}, err
	}
	if !xid.Valid(req.CustomerID) {
		return domain.SalesOrderResponse{}, invalidf("invalid customer id")
	}
	if req.OrderNumber != "" && !xid.Valid(req.OrderNumber) {
		return domain.SalesOrderResponse{}, invalidf("invalid order number")
	}
	if req.IsDelivery && req.DeliveryAddress == "" {
		return domain.SalesOrderResponse{}, invalidf("deliveryAddress is required for delivery orders")
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}
	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return domain.SalesOrderResponse{}, fmt.Errorf("customer %s: %w", req.CustomerID, err)
	}

	now := time.Now().UTC()
	order := domain.SalesOrder{
		ID:              xid.New("so"),
		OrderNumber:     req.OrderNumber,
		CustomerID:      req.CustomerID,
		ShopID:          shopID,
		Items:           items,
		IsDelivery:      req.IsDelivery,
		PaymentMethod:   req.PaymentMethod,
		OrderDate:       now,
		DeliveryDate:    req.DeliveryDate,
		Status:          domain.StatusNotCollected,
		DeliveryAddress: req.DeliveryAddress,
		SalesPerson:     actor.Username,
		Notes:           req.Notes,
	}
	if order.OrderNumber == "" {
		order.OrderNumber = xid.OrderNumber(now)
	}
	if order.IsDelivery {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return domain.SalesOrderResponse{}, err
		}
		order.OnloadingCost, order.DeliveryCost, order.OffloadingCost = settings.DeliveryCosts(order.BagCount())
	}
	order.RecomputeTotal()

	if req.TotalAmount != nil && *req.TotalAmount != order.TotalAmount {
		s.logger.Warn("client total differs from computed total",
			slog.String("orderNumber", order.OrderNumber),
			slog.Int64("client", *req.TotalAmount),
			slog.Int64("computed", order.TotalAmount),
		)
	}

	created, err := s.repo.CreateSalesOrder(ctx, order)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SalesOrderResponse{}, fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
		}
		return domain.SalesOrderResponse{}, err
	}

	s.logAudit(ctx, shopID, "sales_order_create", "sales_order", created.ID,
		fmt.Sprintf("number=%s,total=%d,bags=%d,delivery=%t", created.OrderNumber, created.TotalAmount, created.BagCount(), created.IsDelivery))
	return domain.NewSalesOrderResponse(*created), nil
}

func (s *Service) GetSalesOrder(ctx context.Context, id string) (domain.SalesOrderResponse, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}
	return domain.NewSalesOrderResponse(*order), nil
}

// UpdateStatus marks a Not Collected order as Collected. Corrections go
// through FlagCorrection and ResolveCorrection instead.
func (s *Service) UpdateStatus(ctx context.Context, id string, req domain.StatusUpdateRequest) (domain.SalesOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson); err != nil {
		return domain.SalesOrderResponse{}, err
	}
	target := strings.TrimSpace(req.Status)
	if !domain.ValidStatus(target) {
		return domain.SalesOrderResponse{}, invalidf("unknown status %q", req.Status)
	}

	saved, err := s.mutateOrder(ctx, id, req.ExpectedVersion, s.repo.UpdateSalesOrder, func(order *domain.SalesOrder) error {
		if target == domain.StatusPendingCorrection {
			return fmt.Errorf("%w: use flag-correction to request a correction", ErrInvalidTransition)
		}
		if order.Status != domain.StatusNotCollected || target != domain.StatusCollected {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidTransition, order.Status, target)
		}
		now := time.Now().UTC()
		order.Status = domain.StatusCollected
		order.CollectedDate = &now
		if order.IsDelivery && order.DeliveredDate == nil {
			order.DeliveredDate = &now
		}
		return nil
	})
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}

	s.logAudit(ctx, saved.ShopID, "sales_order_status", "sales_order", saved.ID, fmt.Sprintf("status=%s", saved.Status))
	return domain.NewSalesOrderResponse(*saved), nil
}

// ApplyPartialCollection adds collected bags per product, capped at the
// ordered quantity. Status is left unchanged.
func (s *Service) ApplyPartialCollection(ctx context.Context, id string, req domain.PartialCollectionRequest) (domain.SalesOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson); err != nil {
		return domain.SalesOrderResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SalesOrderResponse{}, err
	}
	for _, entry := range req.Collections {
		if !xid.Valid(strings.TrimSpace(entry.ProductID)) {
			return domain.SalesOrderResponse{}, invalidf("invalid product id %q", entry.ProductID)
		}
	}

	saved, err := s.mutateOrder(ctx, id, req.ExpectedVersion, s.repo.UpdateSalesOrder, func(order *domain.SalesOrder) error {
		if order.Status != domain.StatusNotCollected {
			return fmt.Errorf("%w: partial collection requires status %s, order is %s", ErrInvalidTransition, domain.StatusNotCollected, order.Status)
		}
		for _, entry := range req.Collections {
			if !collect(order.Items, strings.TrimSpace(entry.ProductID), entry.QuantityCollected) {
				return invalidf("product %s is not on order %s", entry.ProductID, order.OrderNumber)
			}
		}
		return nil
	})
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}

	s.logAudit(ctx, saved.ShopID, "sales_order_partial_collection", "sales_order", saved.ID,
		fmt.Sprintf("outstanding=%d,entries=%d", saved.OutstandingBags(), len(req.Collections)))
	return domain.NewSalesOrderResponse(*saved), nil
}

// collect spreads qty over the item lines for productID in order, never
// exceeding a line's quantity. It reports whether any line matched.
func collect(items []domain.SalesOrderItem, productID string, qty int) bool {
	matched := false
	for i := range items {
		if items[i].ProductID != productID {
			continue
		}
		matched = true
		room := items[i].Quantity - items[i].CollectedQuantity
		if room <= 0 {
			continue
		}
		take := min(room, qty)
		items[i].CollectedQuantity += take
		qty -= take
		if qty == 0 {
			break
		}
	}
	return matched
}

func (s *Service) FlagCorrection(ctx context.Context, id string, req domain.FlagCorrectionRequest) (domain.SalesOrderResponse, error) {
	actor, err := requireRole(ctx, domain.RoleSalesPerson)
	if err != nil {
		return domain.SalesOrderResponse{}, fmt.Errorf("%w: only sales persons can flag corrections", ErrForbidden)
	}
	notes := strings.TrimSpace(req.CorrectionNotes)
	if notes == "" {
		return domain.SalesOrderResponse{}, invalidf("correctionNotes is required")
	}
	req.CorrectionNotes = notes
	if err := s.validateStruct(req); err != nil {
		return domain.SalesOrderResponse{}, err
	}

	saved, err := s.mutateOrder(ctx, id, req.ExpectedVersion, s.repo.UpdateSalesOrder, func(order *domain.SalesOrder) error {
		if order.Status != domain.StatusNotCollected {
			return fmt.Errorf("%w: only %s orders can be flagged, order is %s", ErrInvalidTransition, domain.StatusNotCollected, order.Status)
		}
		now := time.Now().UTC()
		order.Status = domain.StatusPendingCorrection
		order.NeedsCorrection = true
		order.CorrectionNotes = notes
		order.CorrectionRequestedAt = &now
		order.CorrectionRequestedBy = actor.Username
		order.CorrectionResolvedAt = nil
		order.CorrectionResolvedBy = ""
		return nil
	})
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}

	s.logAudit(ctx, saved.ShopID, "sales_order_flag_correction", "sales_order", saved.ID, fmt.Sprintf("notes=%q", notes))
	return domain.NewSalesOrderResponse(*saved), nil
}

// ResolveCorrection applies an admin's revision to a Pending Correction
// order: fresh catalog prices for the revised items, recomputed total and
// the target status. A failure leaves the order untouched. A customer
// revision is saved before the order write, so a later stock shortfall or
// version conflict leaves the customer revised while the order stays Pending
// Correction; retrying the same request is safe.
func (s *Service) ResolveCorrection(ctx context.Context, id string, req domain.ResolveCorrectionRequest) (domain.SalesOrderResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.SalesOrderResponse{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	req.Status = strings.TrimSpace(req.Status)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.Customer != nil {
		normalized := normalizeCustomerRequest(*req.Customer)
		req.Customer = &normalized
	}
	if err := s.validateStruct(req); err != nil {
		return domain.SalesOrderResponse{}, err
	}

	current, err := s.loadOrder(ctx, id)
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}
	if current.Status != domain.StatusPendingCorrection {
		return domain.SalesOrderResponse{}, fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, current.Status, domain.StatusPendingCorrection)
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return domain.SalesOrderResponse{}, store.ErrVersionConflict
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}
	if req.Customer != nil {
		if err := s.reviseCustomer(ctx, current.CustomerID, *req.Customer); err != nil {
			return domain.SalesOrderResponse{}, err
		}
	}

	saved, err := s.mutateOrder(ctx, id, req.ExpectedVersion, s.repo.ResolveSalesOrder, func(order *domain.SalesOrder) error {
		if order.Status != domain.StatusPendingCorrection {
			return fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, order.Status, domain.StatusPendingCorrection)
		}
		order.Items = carryCollected(order.Items, items)
		if req.PaymentMethod != "" {
			order.PaymentMethod = req.PaymentMethod
		}
		if req.DeliveryAddress != nil {
			order.DeliveryAddress = strings.TrimSpace(*req.DeliveryAddress)
		}
		if req.Notes != nil {
			order.Notes = strings.TrimSpace(*req.Notes)
		}

		now := time.Now().UTC()
		order.Status = req.Status
		if req.Status == domain.StatusCollected {
			order.CollectedDate = &now
		}
		order.NeedsCorrection = false
		order.CorrectionResolvedAt = &now
		order.CorrectionResolvedBy = actor.Username
		order.RecomputeTotal()
		return nil
	})
	if err != nil {
		return domain.SalesOrderResponse{}, err
	}

	s.logAudit(ctx, saved.ShopID, "sales_order_resolve_correction", "sales_order", saved.ID,
		fmt.Sprintf("status=%s,total_before=%d,total_after=%d", saved.Status, current.TotalAmount, saved.TotalAmount))
	return domain.NewSalesOrderResponse(*saved), nil
}

func (s *Service) reviseCustomer(ctx context.Context, customerID string, req domain.CustomerRequest) error {
	byPhone, err := s.findCustomer(ctx, s.repo.FindCustomerByPhone, req.Phone)
	if err != nil {
		return err
	}
	if byPhone != nil && byPhone.ID != customerID {
		return fmt.Errorf("%w: phone %s belongs to another customer", ErrCustomerConflict, req.Phone)
	}
	byEmail, err := s.findCustomer(ctx, s.repo.FindCustomerByEmail, req.Email)
	if err != nil {
		return err
	}
	if byEmail != nil && byEmail.ID != customerID {
		return fmt.Errorf("%w: email %s belongs to another customer", ErrCustomerConflict, req.Email)
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("customer %s: %w", customerID, err)
	}
	applyCustomerRevision(customer, req)
	if _, err := s.repo.UpdateCustomer(ctx, *customer); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: phone or email already registered", ErrCustomerConflict)
		}
		return err
	}
	return nil
}

// carryCollected keeps the bags already collected per product, capped at
// each revised line's quantity.
func carryCollected(before []domain.SalesOrderItem, after []domain.SalesOrderItem) []domain.SalesOrderItem {
	collected := make(map[string]int, len(before))
	for _, item := range before {
		collected[item.ProductID] += item.CollectedQuantity
	}
	out := make([]domain.SalesOrderItem, len(after))
	for i, item := range after {
		take := min(collected[item.ProductID], item.Quantity)
		item.CollectedQuantity = take
		collected[item.ProductID] -= take
		out[i] = item
	}
	return out
}

func (s *Service) ListNotCollected(ctx context.Context, shopID string) (domain.NotCollectedResponse, error) {
	orders, err := s.listOrders(ctx, shopID, store.OrderFilter{Status: domain.StatusNotCollected})
	if err != nil {
		return domain.NotCollectedResponse{}, err
	}

	resp := domain.NotCollectedResponse{Orders: make([]domain.SalesOrderResponse, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, domain.NewSalesOrderResponse(order))
		resp.TotalBags += order.OutstandingBags()
		resp.TotalValue += order.TotalAmount
	}
	resp.Count = len(resp.Orders)
	return resp, nil
}

func (s *Service) ListCorrections(ctx context.Context, shopID string) (domain.CorrectionsResponse, error) {
	needsCorrection := true
	orders, err := s.listOrders(ctx, shopID, store.OrderFilter{NeedsCorrection: &needsCorrection})
	if err != nil {
		return domain.CorrectionsResponse{}, err
	}

	resp := domain.CorrectionsResponse{Orders: make([]domain.SalesOrderResponse, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, domain.NewSalesOrderResponse(order))
	}
	resp.Count = len(resp.Orders)
	return resp, nil
}

func (s *Service) listOrders(ctx context.Context, shopID string, filter store.OrderFilter) ([]domain.SalesOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson)
	if err != nil {
		return nil, err
	}
	filter.ShopID, err = scopeShop(actor, shopID, false)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSalesOrders(ctx, filter)
}

// loadOrder fetches an order and enforces shop scoping for sales persons.
func (s *Service) loadOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if !xid.Valid(id) {
		return nil, invalidf("invalid sales order id")
	}

	order, err := s.repo.GetSalesOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sales order %s: %w", id, err)
	}
	if actor.Role == domain.RoleSalesPerson && order.ShopID != actor.ShopID {
		return nil, fmt.Errorf("%w: order belongs to another shop", ErrForbidden)
	}
	return order, nil
}

type orderWriter func(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error)

// mutateOrder runs a compare-and-swap read-modify-write. With an explicit
// expectedVersion a stale read fails at once; without one the loop retries
// on version conflicts.
func (s *Service) mutateOrder(ctx context.Context, id string, expectedVersion *int64, write orderWriter, apply func(order *domain.SalesOrder) error) (*domain.SalesOrder, error) {
	attempts := maxCASAttempts
	if expectedVersion != nil {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		current, err := s.loadOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if expectedVersion != nil && current.Version != *expectedVersion {
			return nil, store.ErrVersionConflict
		}

		next := current.Clone()
		if err := apply(&next); err != nil {
			return nil, err
		}

		saved, err := write(ctx, next, current.Version)
		if errors.Is(err, store.ErrVersionConflict) && attempt < attempts {
			s.logger.Debug("sales order version conflict, retrying", slog.String("id", id), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return saved, nil
	}
	return nil, store.ErrVersionConflict
}

// priceItems merges duplicate lines and prices each from the active catalog.
func (s *Service) priceItems(ctx context.Context, reqItems []domain.OrderItemRequest) ([]domain.SalesOrderItem, error) {
	merged := normalizeItems(reqItems)
	ids := make([]string, 0, len(merged))
	for _, item := range merged {
		if !xid.Valid(item.ProductID) {
			return nil, invalidf("invalid product id %q", item.ProductID)
		}
		if item.Quantity < 1 {
			return nil, invalidf("quantity for %s must be at least 1", item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SalesOrderItem, 0, len(merged))
	for _, item := range merged {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		items = append(items, domain.SalesOrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			TotalPrice:  int64(item.Quantity) * product.Price,
		})
	}
	return items, nil
}
