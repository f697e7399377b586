package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.ProductStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.variant, p.brand, p.size, p.image_url, p.price, p.active, COALESCE(i.qty, 0)
		FROM products p
		LEFT JOIN inventories i ON i.product_id = p.id AND i.shop_id = $1
		WHERE p.active = true
		ORDER BY p.brand, p.name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductStock, 0, 32)
	for rows.Next() {
		var p domain.ProductStock
		if err := rows.Scan(&p.ID, &p.Name, &p.Variant, &p.Brand, &p.Size, &p.ImageURL, &p.Price, &p.Active, &p.AvailableStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return loadProducts(ctx, s.db, ids)
}

func loadProducts(ctx context.Context, q queryer, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, variant, brand, size, image_url, price, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Variant, &p.Brand, &p.Size, &p.ImageURL, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) GetStockMap(ctx context.Context, shopID string, productIDs []string) (map[string]int, error) {
	return loadStock(ctx, s.db, shopID, productIDs, false)
}

func loadStock(ctx context.Context, q queryer, shopID string, productIDs []string, forUpdate bool) (map[string]int, error) {
	stockMap := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stockMap, nil
	}

	query := `
		SELECT product_id, qty
		FROM inventories
		WHERE shop_id = $1 AND product_id = ANY($2)
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, shopID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range productIDs {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}
	return stockMap, nil
}

func (s *Store) SetStock(ctx context.Context, shopID string, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventories (shop_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (shop_id, product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, shopID, productID, qty)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("shop %s or product %s: %w", shopID, productID, store.ErrNotFound)
	}
	return err
}

func (s *Store) GetShop(ctx context.Context, id string) (*domain.Shop, error) {
	var shop domain.Shop
	err := s.db.QueryRowContext(ctx, `SELECT id, name, address FROM shops WHERE id = $1`, id).
		Scan(&shop.ID, &shop.Name, &shop.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shop, nil
}

const customerColumns = `id, name, phone, email, address, company, customer_type,
	preferred_delivery_address, preferred_payment_method, total_orders, total_spent,
	last_order_date, is_active, created_at, updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	var lastOrder sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Company, &c.CustomerType,
		&c.PreferredDeliveryAddress, &c.PreferredPaymentMethod, &c.TotalOrders, &c.TotalSpent,
		&lastOrder, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.LastOrderDate = timePtr(lastOrder)
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, email, address, company, customer_type,
			preferred_delivery_address, preferred_payment_method, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true,now(),now())
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.Company,
		customer.CustomerType, customer.PreferredDeliveryAddress, customer.PreferredPaymentMethod)
	created, err := scanCustomer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone))
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email))
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, email = $4, address = $5, company = $6, customer_type = $7,
			preferred_delivery_address = $8, preferred_payment_method = $9, is_active = $10, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.Company,
		customer.CustomerType, customer.PreferredDeliveryAddress, customer.PreferredPaymentMethod, customer.IsActive)
	updated, err := scanCustomer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT onloading_rate, delivery_rate, offloading_rate, updated_by, updated_at
		FROM settings
		WHERE id = 1
	`).Scan(&settings.OnloadingRate, &settings.DeliveryRate, &settings.OffloadingRate, &settings.UpdatedBy, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, nil
	}
	return settings, err
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if settings.OnloadingRate < 0 || settings.DeliveryRate < 0 || settings.OffloadingRate < 0 {
		return store.ErrInvalidInput
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, onloading_rate, delivery_rate, offloading_rate, updated_by, updated_at)
		VALUES (1,$1,$2,$3,$4,$5)
		ON CONFLICT (id)
		DO UPDATE SET onloading_rate = EXCLUDED.onloading_rate, delivery_rate = EXCLUDED.delivery_rate,
			offloading_rate = EXCLUDED.offloading_rate, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, settings.OnloadingRate, settings.DeliveryRate, settings.OffloadingRate, settings.UpdatedBy, settings.UpdatedAt)
	return err
}

func (s *Store) CreateSalesOrder(ctx context.Context, order domain.SalesOrder) (*domain.SalesOrder, error) {
	if order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	requested, ids := store.QuantitiesByProduct(order.Items)
	products, err := loadProducts(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
		}
	}
	stock, err := loadStock(ctx, pgTx, order.ShopID, ids, true)
	if err != nil {
		return nil, err
	}
	if err := store.CheckStock(requested, stock, products, ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE inventories
			SET qty = qty - $3, updated_at = now()
			WHERE shop_id = $1 AND product_id = $2
		`, order.ShopID, id, requested[id]); err != nil {
			return nil, err
		}
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales_orders (
			id, order_number, customer_id, shop_id, is_delivery, onloading_cost, delivery_cost, offloading_cost,
			total_amount, payment_method, order_date, delivery_date, status, delivered_date, collected_date,
			delivery_address, sales_person, notes, needs_correction, correction_notes, correction_requested_at,
			correction_requested_by, correction_resolved_at, correction_resolved_by, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
	`, order.ID, order.OrderNumber, order.CustomerID, order.ShopID, order.IsDelivery, order.OnloadingCost,
		order.DeliveryCost, order.OffloadingCost, order.TotalAmount, order.PaymentMethod, order.OrderDate,
		nullTime(order.DeliveryDate), order.Status, nullTime(order.DeliveredDate), nullTime(order.CollectedDate),
		order.DeliveryAddress, order.SalesPerson, order.Notes, order.NeedsCorrection, order.CorrectionNotes,
		nullTime(order.CorrectionRequestedAt), order.CorrectionRequestedBy, nullTime(order.CorrectionResolvedAt),
		order.CorrectionResolvedBy, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("order number %s: %w", order.OrderNumber, store.ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("customer %s or shop %s: %w", order.CustomerID, order.ShopID, store.ErrNotFound)
		}
		return nil, err
	}
	if err := insertItems(ctx, pgTx, order.ID, order.Items); err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET total_orders = total_orders + 1, total_spent = total_spent + $2, last_order_date = $3, updated_at = now()
		WHERE id = $1
	`, order.CustomerID, order.TotalAmount, order.OrderDate); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := order.Clone()
	return &created, nil
}

func insertItems(ctx context.Context, q queryer, orderID string, items []domain.SalesOrderItem) error {
	for i, item := range items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO sales_order_items (order_id, line_no, product_id, product_name, quantity, unit_price, total_price, collected_quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, orderID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.TotalPrice, item.CollectedQuantity); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, order_number, customer_id, shop_id, is_delivery, onloading_cost, delivery_cost,
	offloading_cost, total_amount, payment_method, order_date, delivery_date, status, delivered_date,
	collected_date, delivery_address, sales_person, notes, needs_correction, correction_notes,
	correction_requested_at, correction_requested_by, correction_resolved_at, correction_resolved_by,
	version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.SalesOrder, error) {
	var o domain.SalesOrder
	var deliveryDate, deliveredDate, collectedDate, requestedAt, resolvedAt sql.NullTime
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.ShopID, &o.IsDelivery, &o.OnloadingCost,
		&o.DeliveryCost, &o.OffloadingCost, &o.TotalAmount, &o.PaymentMethod, &o.OrderDate, &deliveryDate,
		&o.Status, &deliveredDate, &collectedDate, &o.DeliveryAddress, &o.SalesPerson, &o.Notes,
		&o.NeedsCorrection, &o.CorrectionNotes, &requestedAt, &o.CorrectionRequestedBy, &resolvedAt,
		&o.CorrectionResolvedBy, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.DeliveryDate = timePtr(deliveryDate)
	o.DeliveredDate = timePtr(deliveredDate)
	o.CollectedDate = timePtr(collectedDate)
	o.CorrectionRequestedAt = timePtr(requestedAt)
	o.CorrectionResolvedAt = timePtr(resolvedAt)
	return &o, nil
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.SalesOrderItem, error) {
	result := make(map[string][]domain.SalesOrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price, total_price, collected_quantity
		FROM sales_order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.SalesOrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CollectedQuantity); err != nil {
			return nil, err
		}
		result[orderID] = append(result[orderID], item)
	}
	return result, rows.Err()
}

func getOrder(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.SalesOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (s *Store) GetSalesOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *Store) UpdateSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := lockForCAS(ctx, pgTx, order.ID, expectedVersion); err != nil {
		return nil, err
	}
	saved, err := replaceOrder(ctx, pgTx, order)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) ResolveSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := lockForCAS(ctx, pgTx, order.ID, expectedVersion)
	if err != nil {
		return nil, err
	}

	delta, ids := store.StockDelta(existing.Items, order.Items)
	products, err := loadProducts(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok && delta[id] > 0 {
			return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
		}
	}
	stock, err := loadStock(ctx, pgTx, existing.ShopID, ids, true)
	if err != nil {
		return nil, err
	}
	if err := store.CheckStock(delta, stock, products, ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if delta[id] == 0 {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO inventories (shop_id, product_id, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (shop_id, product_id)
			DO UPDATE SET qty = inventories.qty - $4, updated_at = now()
		`, existing.ShopID, id, -delta[id], delta[id]); err != nil {
			return nil, err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $2, updated_at = now()
		WHERE id = $1
	`, existing.CustomerID, order.TotalAmount-existing.TotalAmount); err != nil {
		return nil, err
	}

	saved, err := replaceOrder(ctx, pgTx, order)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// lockForCAS row-locks the order and confirms its version.
func lockForCAS(ctx context.Context, q queryer, id string, expectedVersion int64) (*domain.SalesOrder, error) {
	existing, err := getOrder(ctx, q, id, true)
	if err != nil {
		return nil, err
	}
	if existing.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	return existing, nil
}

func replaceOrder(ctx context.Context, q queryer, order domain.SalesOrder) (*domain.SalesOrder, error) {
	_, err := q.ExecContext(ctx, `
		UPDATE sales_orders
		SET is_delivery = $2, onloading_cost = $3, delivery_cost = $4, offloading_cost = $5, total_amount = $6,
			payment_method = $7, delivery_date = $8, status = $9, delivered_date = $10, collected_date = $11,
			delivery_address = $12, notes = $13, needs_correction = $14, correction_notes = $15,
			correction_requested_at = $16, correction_requested_by = $17, correction_resolved_at = $18,
			correction_resolved_by = $19, version = version + 1, updated_at = now()
		WHERE id = $1
	`, order.ID, order.IsDelivery, order.OnloadingCost, order.DeliveryCost, order.OffloadingCost, order.TotalAmount,
		order.PaymentMethod, nullTime(order.DeliveryDate), order.Status, nullTime(order.DeliveredDate),
		nullTime(order.CollectedDate), order.DeliveryAddress, order.Notes, order.NeedsCorrection, order.CorrectionNotes,
		nullTime(order.CorrectionRequestedAt), order.CorrectionRequestedBy, nullTime(order.CorrectionResolvedAt),
		order.CorrectionResolvedBy)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM sales_order_items WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertItems(ctx, q, order.ID, order.Items); err != nil {
		return nil, err
	}
	return getOrder(ctx, q, order.ID, false)
}

func (s *Store) ListSalesOrders(ctx context.Context, filter store.OrderFilter) ([]domain.SalesOrder, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.ShopID != "" {
		args = append(args, filter.ShopID)
		clauses = append(clauses, fmt.Sprintf("shop_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.NeedsCorrection != nil {
		args = append(args, *filter.NeedsCorrection)
		clauses = append(clauses, fmt.Sprintf("needs_correction = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM sales_orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY order_date DESC, order_number DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.SalesOrder, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR shop_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleSalesPerson
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, shop_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.ShopID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, shop_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.ShopID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
