// Package mongo stores the sales domain in MongoDB. Multi-document writes run
// in session transactions, so the deployment must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

const settingsID = "global"

type Store struct {
	client      *mongo.Client
	salesOrders *mongo.Collection
	customers   *mongo.Collection
	products    *mongo.Collection
	inventories *mongo.Collection
	shops       *mongo.Collection
	users       *mongo.Collection
	settings    *mongo.Collection
	auditLogs   *mongo.Collection
}

type inventoryDoc struct {
	ShopID    string    `bson:"shop"`
	ProductID string    `bson:"product"`
	Quantity  int       `bson:"quantity"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type settingsDoc struct {
	ID              string `bson:"_id"`
	domain.Settings `bson:",inline"`
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	return &Store{
		client:      client,
		salesOrders: db.Collection("salesorders"),
		customers:   db.Collection("customers"),
		products:    db.Collection("products"),
		inventories: db.Collection("inventories"),
		shops:       db.Collection("shops"),
		users:       db.Collection("users"),
		settings:    db.Collection("settings"),
		auditLogs:   db.Collection("auditlogs"),
	}, nil
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.salesOrders: {
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_order_number")},
			{Keys: bson.D{{Key: "shop", Value: 1}, {Key: "status", Value: 1}, {Key: "orderDate", Value: -1}}, Options: options.Index().SetName("shop_status_date")},
			{Keys: bson.D{{Key: "needsCorrection", Value: 1}}, Options: options.Index().SetName("needs_correction")},
		},
		s.customers: {
			{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_phone")},
			{
				Keys: bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_email").
					SetPartialFilterExpression(bson.M{"email": bson.M{"$exists": true}}),
			},
		},
		s.inventories: {
			{Keys: bson.D{{Key: "shop", Value: 1}, {Key: "product", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_shop_product")},
		},
		s.auditLogs: {
			{Keys: bson.D{{Key: "shop", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("shop_created")},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) (any, error)) (any, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(ctx)
	return session.WithTransaction(ctx, fn)
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.ProductStock, error) {
	cursor, err := s.products.Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "brand", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	stock, err := s.loadStock(ctx, shopID, ids)
	if err != nil {
		return nil, err
	}

	result := make([]domain.ProductStock, 0, len(products))
	for _, p := range products {
		result = append(result, domain.ProductStock{Product: p, AvailableStock: stock[p.ID]})
	}
	return result, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cursor, err := s.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "active": true})
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) GetStockMap(ctx context.Context, shopID string, productIDs []string) (map[string]int, error) {
	return s.loadStock(ctx, shopID, productIDs)
}

func (s *Store) loadStock(ctx context.Context, shopID string, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	cursor, err := s.inventories.Find(ctx, bson.M{"shop": shopID, "product": bson.M{"$in": productIDs}})
	if err != nil {
		return nil, err
	}
	var docs []inventoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		stock[id] = 0
	}
	for _, doc := range docs {
		stock[doc.ProductID] = doc.Quantity
	}
	return stock, nil
}

func (s *Store) SetStock(ctx context.Context, shopID string, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return store.ErrInvalidInput
	}
	if err := s.products.FindOne(ctx, bson.M{"_id": productID}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		return err
	}
	if _, err := s.GetShop(ctx, shopID); err != nil {
		return fmt.Errorf("shop %s: %w", shopID, err)
	}

	_, err := s.inventories.UpdateOne(ctx,
		bson.M{"shop": shopID, "product": productID},
		bson.M{"$set": bson.M{"quantity": qty, "updatedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) GetShop(ctx context.Context, id string) (*domain.Shop, error) {
	var shop domain.Shop
	if err := s.shops.FindOne(ctx, bson.M{"_id": id}).Decode(&shop); err != nil {
		return nil, notFound(err)
	}
	return &shop, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	customer.IsActive = true

	if _, err := s.customers.InsertOne(ctx, customer); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) findCustomer(ctx context.Context, filter bson.M) (*domain.Customer, error) {
	var customer domain.Customer
	if err := s.customers.FindOne(ctx, filter).Decode(&customer); err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.findCustomer(ctx, bson.M{"_id": id})
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return s.findCustomer(ctx, bson.M{"phone": phone})
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return s.findCustomer(ctx, bson.M{"email": email})
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	set := bson.M{
		"name":                     customer.Name,
		"phone":                    customer.Phone,
		"address":                  customer.Address,
		"company":                  customer.Company,
		"customerType":             customer.CustomerType,
		"preferredDeliveryAddress": customer.PreferredDeliveryAddress,
		"preferredPaymentMethod":   customer.PreferredPaymentMethod,
		"isActive":                 customer.IsActive,
		"updatedAt":                time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if customer.Email == "" {
		update["$unset"] = bson.M{"email": ""}
	} else {
		set["email"] = customer.Email
	}

	var updated domain.Customer
	err := s.customers.FindOneAndUpdate(ctx, bson.M{"_id": customer.ID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var doc settingsDoc
	err := s.settings.FindOne(ctx, bson.M{"_id": settingsID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Settings{}, nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	return doc.Settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if settings.OnloadingRate < 0 || settings.DeliveryRate < 0 || settings.OffloadingRate < 0 {
		return store.ErrInvalidInput
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.settings.ReplaceOne(ctx, bson.M{"_id": settingsID}, settingsDoc{ID: settingsID, Settings: settings},
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) CreateSalesOrder(ctx context.Context, order domain.SalesOrder) (*domain.SalesOrder, error) {
	if order.OrderNumber == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
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

	requested, ids := store.QuantitiesByProduct(order.Items)
	_, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		products, err := s.GetProductsByIDs(sc, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := products[id]; !ok {
				return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
			}
		}
		if err := s.applyStockDelta(sc, order.ShopID, requested, ids, products); err != nil {
			return nil, err
		}

		if _, err := s.salesOrders.InsertOne(sc, order); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("order number %s: %w", order.OrderNumber, store.ErrConflict)
			}
			return nil, err
		}

		res, err := s.customers.UpdateOne(sc, bson.M{"_id": order.CustomerID}, bson.M{
			"$inc": bson.M{"totalOrders": 1, "totalSpent": order.TotalAmount},
			"$set": bson.M{"lastOrderDate": order.OrderDate, "updatedAt": now},
		})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, fmt.Errorf("customer %s: %w", order.CustomerID, store.ErrNotFound)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	created := order.Clone()
	return &created, nil
}

// applyStockDelta checks every positive delta against stock, then applies all
// deltas. Positive values are taken from stock, negative values returned.
func (s *Store) applyStockDelta(ctx context.Context, shopID string, delta map[string]int, ids []string, products map[string]domain.Product) error {
	stock, err := s.loadStock(ctx, shopID, ids)
	if err != nil {
		return err
	}
	if err := store.CheckStock(delta, stock, products, ids); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		qty := delta[id]
		if qty == 0 {
			continue
		}
		filter := bson.M{"shop": shopID, "product": id}
		if qty > 0 {
			filter["quantity"] = bson.M{"$gte": qty}
		}
		res, err := s.inventories.UpdateOne(ctx, filter,
			bson.M{"$inc": bson.M{"quantity": -qty}, "$set": bson.M{"updatedAt": now}},
			options.Update().SetUpsert(qty < 0),
		)
		if err != nil {
			return err
		}
		if qty > 0 && res.MatchedCount == 0 {
			return &store.InsufficientStockError{Shortfalls: []domain.Shortfall{{
				ProductID:   id,
				ProductName: products[id].Name,
				Requested:   qty,
				Available:   stock[id],
			}}}
		}
	}
	return nil
}

func (s *Store) GetSalesOrder(ctx context.Context, id string) (*domain.SalesOrder, error) {
	var order domain.SalesOrder
	if err := s.salesOrders.FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (s *Store) UpdateSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	return s.swapOrder(ctx, order, expectedVersion)
}

func (s *Store) ResolveSalesOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	result, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		existing, err := s.GetSalesOrder(sc, order.ID)
		if err != nil {
			return nil, err
		}
		if existing.Version != expectedVersion {
			return nil, store.ErrVersionConflict
		}

		delta, ids := store.StockDelta(existing.Items, order.Items)
		products, err := s.GetProductsByIDs(sc, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := products[id]; !ok && delta[id] > 0 {
				return nil, fmt.Errorf("product %s unavailable: %w", id, store.ErrInvalidInput)
			}
		}
		if err := s.applyStockDelta(sc, existing.ShopID, delta, ids, products); err != nil {
			return nil, err
		}

		if _, err := s.customers.UpdateOne(sc, bson.M{"_id": existing.CustomerID}, bson.M{
			"$inc": bson.M{"totalSpent": order.TotalAmount - existing.TotalAmount},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		}); err != nil {
			return nil, err
		}
		return s.swapOrder(sc, order, expectedVersion)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SalesOrder), nil
}

// swapOrder writes the mutable order fields only while the stored version
// still equals expectedVersion.
func (s *Store) swapOrder(ctx context.Context, order domain.SalesOrder, expectedVersion int64) (*domain.SalesOrder, error) {
	update := bson.M{
		"$set": bson.M{
			"items":                 order.Items,
			"isDelivery":            order.IsDelivery,
			"onloadingCost":         order.OnloadingCost,
			"deliveryCost":          order.DeliveryCost,
			"offloadingCost":        order.OffloadingCost,
			"totalAmount":           order.TotalAmount,
			"paymentMethod":         order.PaymentMethod,
			"deliveryDate":          order.DeliveryDate,
			"status":                order.Status,
			"deliveredDate":         order.DeliveredDate,
			"collectedDate":         order.CollectedDate,
			"deliveryAddress":       order.DeliveryAddress,
			"notes":                 order.Notes,
			"needsCorrection":       order.NeedsCorrection,
			"correctionNotes":       order.CorrectionNotes,
			"correctionRequestedAt": order.CorrectionRequestedAt,
			"correctionRequestedBy": order.CorrectionRequestedBy,
			"correctionResolvedAt":  order.CorrectionResolvedAt,
			"correctionResolvedBy":  order.CorrectionResolvedBy,
			"updatedAt":             time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	var saved domain.SalesOrder
	err := s.salesOrders.FindOneAndUpdate(ctx,
		bson.M{"_id": order.ID, "version": expectedVersion},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&saved)
	if err == nil {
		return &saved, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if _, getErr := s.GetSalesOrder(ctx, order.ID); getErr != nil {
		return nil, getErr
	}
	return nil, store.ErrVersionConflict
}

func (s *Store) ListSalesOrders(ctx context.Context, filter store.OrderFilter) ([]domain.SalesOrder, error) {
	query := bson.M{}
	if filter.ShopID != "" {
		query["shop"] = filter.ShopID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.NeedsCorrection != nil {
		query["needsCorrection"] = *filter.NeedsCorrection
	}

	opts := options.Find().SetSort(bson.D{{Key: "orderDate", Value: -1}, {Key: "orderNumber", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.salesOrders.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.SalesOrder, 0, 32)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
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
	_, err := s.auditLogs.InsertOne(ctx, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	query := bson.M{}
	if shopID != "" {
		query["shop"] = shopID
	}
	cursor, err := s.auditLogs.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	logs := make([]domain.AuditLog, 0, limit)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
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
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var users []domain.UserAccount
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
