package domain

import "time"

const (
	RoleAdmin       = "admin"
	RoleSalesPerson = "salesPerson"
)

const (
	StatusNotCollected      = "Not Collected"
	StatusCollected         = "Collected"
	StatusPendingCorrection = "Pending Correction"
)

const (
	PaymentCash     = "cash"
	PaymentPOS      = "pos"
	PaymentTransfer = "transfer"
)

// Product is a catalog entry. Price is in kobo per bag.
type Product struct {
	ID       string `json:"id" bson:"_id"`
	Name     string `json:"name" bson:"name"`
	Variant  string `json:"variant,omitempty" bson:"variant,omitempty"`
	Brand    string `json:"brand,omitempty" bson:"brand,omitempty"`
	Size     string `json:"size,omitempty" bson:"size,omitempty"`
	ImageURL string `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Price    int64  `json:"price" bson:"price"`
	Active   bool   `json:"active" bson:"active"`
}

// ProductStock is a product as listed for a shop, with the shop's live stock.
type ProductStock struct {
	Product
	AvailableStock int `json:"availableStock"`
}

type Shop struct {
	ID      string `json:"id" bson:"_id"`
	Name    string `json:"name" bson:"name"`
	Address string `json:"address,omitempty" bson:"address,omitempty"`
}

type Customer struct {
	ID                       string     `json:"id" bson:"_id"`
	Name                     string     `json:"name" bson:"name"`
	Phone                    string     `json:"phone" bson:"phone"`
	Email                    string     `json:"email,omitempty" bson:"email,omitempty"`
	Address                  string     `json:"address,omitempty" bson:"address,omitempty"`
	Company                  string     `json:"company,omitempty" bson:"company,omitempty"`
	CustomerType             string     `json:"customerType,omitempty" bson:"customerType,omitempty"`
	PreferredDeliveryAddress string     `json:"preferredDeliveryAddress,omitempty" bson:"preferredDeliveryAddress,omitempty"`
	PreferredPaymentMethod   string     `json:"preferredPaymentMethod,omitempty" bson:"preferredPaymentMethod,omitempty"`
	TotalOrders              int        `json:"totalOrders" bson:"totalOrders"`
	TotalSpent               int64      `json:"totalSpent" bson:"totalSpent"`
	LastOrderDate            *time.Time `json:"lastOrderDate,omitempty" bson:"lastOrderDate,omitempty"`
	IsActive                 bool       `json:"isActive" bson:"isActive"`
	CreatedAt                time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt" bson:"updatedAt"`
}

type SalesOrderItem struct {
	ProductID         string `json:"productId" bson:"product"`
	ProductName       string `json:"productName,omitempty" bson:"productName,omitempty"`
	Quantity          int    `json:"quantity" bson:"quantity"`
	UnitPrice         int64  `json:"unitPrice" bson:"unitPrice"`
	TotalPrice        int64  `json:"totalPrice" bson:"totalPrice"`
	CollectedQuantity int    `json:"collectedQuantity" bson:"collectedQuantity"`
}

// SalesOrder amounts are kobo. Version increments on every persisted write.
type SalesOrder struct {
	ID                    string           `json:"id" bson:"_id"`
	OrderNumber           string           `json:"orderNumber" bson:"orderNumber"`
	CustomerID            string           `json:"customerId" bson:"customer"`
	ShopID                string           `json:"shopId" bson:"shop"`
	Items                 []SalesOrderItem `json:"items" bson:"items"`
	IsDelivery            bool             `json:"isDelivery" bson:"isDelivery"`
	OnloadingCost         int64            `json:"onloadingCost" bson:"onloadingCost"`
	DeliveryCost          int64            `json:"deliveryCost" bson:"deliveryCost"`
	OffloadingCost        int64            `json:"offloadingCost" bson:"offloadingCost"`
	TotalAmount           int64            `json:"totalAmount" bson:"totalAmount"`
	PaymentMethod         string           `json:"paymentMethod" bson:"paymentMethod"`
	OrderDate             time.Time        `json:"orderDate" bson:"orderDate"`
	DeliveryDate          *time.Time       `json:"deliveryDate,omitempty" bson:"deliveryDate,omitempty"`
	Status                string           `json:"status" bson:"status"`
	DeliveredDate         *time.Time       `json:"deliveredDate,omitempty" bson:"deliveredDate,omitempty"`
	CollectedDate         *time.Time       `json:"collectedDate,omitempty" bson:"collectedDate,omitempty"`
	DeliveryAddress       string           `json:"deliveryAddress,omitempty" bson:"deliveryAddress,omitempty"`
	SalesPerson           string           `json:"salesPerson" bson:"salesPerson"`
	Notes                 string           `json:"notes,omitempty" bson:"notes,omitempty"`
	NeedsCorrection       bool             `json:"needsCorrection" bson:"needsCorrection"`
	CorrectionNotes       string           `json:"correctionNotes,omitempty" bson:"correctionNotes,omitempty"`
	CorrectionRequestedAt *time.Time       `json:"correctionRequestedAt,omitempty" bson:"correctionRequestedAt,omitempty"`
	CorrectionRequestedBy string           `json:"correctionRequestedBy,omitempty" bson:"correctionRequestedBy,omitempty"`
	CorrectionResolvedAt  *time.Time       `json:"correctionResolvedAt,omitempty" bson:"correctionResolvedAt,omitempty"`
	CorrectionResolvedBy  string           `json:"correctionResolvedBy,omitempty" bson:"correctionResolvedBy,omitempty"`
	Version               int64            `json:"version" bson:"version"`
	CreatedAt             time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// BagCount is the total number of bags ordered across all items.
func (o SalesOrder) BagCount() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// OutstandingBags is the number of ordered bags not yet collected.
func (o SalesOrder) OutstandingBags() int {
	total := 0
	for _, item := range o.Items {
		if left := item.Quantity - item.CollectedQuantity; left > 0 {
			total += left
		}
	}
	return total
}

func (o SalesOrder) FullyCollected() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if item.CollectedQuantity < item.Quantity {
			return false
		}
	}
	return true
}

func (o SalesOrder) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.TotalPrice
	}
	return total
}

func (o SalesOrder) DeliveryTotal() int64 {
	if !o.IsDelivery {
		return 0
	}
	return o.OnloadingCost + o.DeliveryCost + o.OffloadingCost
}

// RecomputeTotal sets TotalAmount from the items and the order's delivery costs.
func (o *SalesOrder) RecomputeTotal() {
	o.TotalAmount = o.ItemsTotal() + o.DeliveryTotal()
}

// Clone returns a deep copy so callers can mutate items freely.
func (o SalesOrder) Clone() SalesOrder {
	out := o
	out.Items = append([]SalesOrderItem(nil), o.Items...)
	return out
}

// SalesOrderResponse adds read-only derived fields to an order.
type SalesOrderResponse struct {
	SalesOrder
	FullyCollected bool `json:"fullyCollected"`
}

func NewSalesOrderResponse(order SalesOrder) SalesOrderResponse {
	return SalesOrderResponse{SalesOrder: order, FullyCollected: order.FullyCollected()}
}

// Settings holds the global per-bag surcharge rates in kobo.
type Settings struct {
	OnloadingRate  int64     `json:"onloadingRate" bson:"onloadingRate"`
	DeliveryRate   int64     `json:"deliveryRate" bson:"deliveryRate"`
	OffloadingRate int64     `json:"offloadingRate" bson:"offloadingRate"`
	UpdatedBy      string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DeliveryCosts returns onloading, delivery and offloading costs for a bag count.
func (s Settings) DeliveryCosts(bags int) (int64, int64, int64) {
	n := int64(bags)
	return s.OnloadingRate * n, s.DeliveryRate * n, s.OffloadingRate * n
}

type Shortfall struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ShopID      string `json:"shopId,omitempty"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type CustomerRequest struct {
	Name                     string `json:"name" validate:"required,max=120"`
	Phone                    string `json:"phone" validate:"required,phone"`
	Email                    string `json:"email,omitempty" validate:"omitempty,email"`
	Address                  string `json:"address,omitempty" validate:"max=300"`
	Company                  string `json:"company,omitempty" validate:"max=120"`
	CustomerType             string `json:"customerType,omitempty" validate:"max=40"`
	PreferredDeliveryAddress string `json:"preferredDeliveryAddress,omitempty" validate:"max=300"`
	PreferredPaymentMethod   string `json:"preferredPaymentMethod,omitempty" validate:"omitempty,oneof=cash pos transfer"`
}

type CustomerResponse struct {
	Customer Customer `json:"customer"`
	Created  bool     `json:"created"`
	// KeptFields names request fields that differed from the stored profile
	// and were not applied.
	KeptFields []string `json:"keptFields,omitempty"`
}

type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type SalesOrderCreateRequest struct {
	OrderNumber     string             `json:"orderNumber,omitempty" validate:"omitempty,max=64"`
	CustomerID      string             `json:"customerId" validate:"required"`
	ShopID          string             `json:"shopId,omitempty"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	IsDelivery      bool               `json:"isDelivery"`
	DeliveryAddress string             `json:"deliveryAddress,omitempty" validate:"max=300"`
	DeliveryDate    *time.Time         `json:"deliveryDate,omitempty"`
	PaymentMethod   string             `json:"paymentMethod" validate:"required,oneof=cash pos transfer"`
	Notes           string             `json:"notes,omitempty" validate:"max=1000"`
	// TotalAmount is the client's preview; it is compared and never stored.
	TotalAmount *int64 `json:"totalAmount,omitempty"`
}

type StatusUpdateRequest struct {
	Status          string `json:"status" validate:"required"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type CollectionEntry struct {
	ProductID         string `json:"productId" validate:"required"`
	QuantityCollected int    `json:"quantityCollected" validate:"min=1"`
}

type PartialCollectionRequest struct {
	Collections     []CollectionEntry `json:"collections" validate:"required,min=1,dive"`
	ExpectedVersion *int64            `json:"expectedVersion,omitempty"`
}

type FlagCorrectionRequest struct {
	CorrectionNotes string `json:"correctionNotes" validate:"max=2000"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type ResolveCorrectionRequest struct {
	Customer        *CustomerRequest   `json:"customer,omitempty"`
	PaymentMethod   string             `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash pos transfer"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Status          string             `json:"status" validate:"required,oneof='Not Collected' Collected"`
	DeliveryAddress *string            `json:"deliveryAddress,omitempty"`
	Notes           *string            `json:"notes,omitempty"`
	ExpectedVersion *int64             `json:"expectedVersion,omitempty"`
}

type SettingsUpdateRequest struct {
	OnloadingRate  int64 `json:"onloadingRate" validate:"min=0"`
	DeliveryRate   int64 `json:"deliveryRate" validate:"min=0"`
	OffloadingRate int64 `json:"offloadingRate" validate:"min=0"`
}

type InventoryUpdateRequest struct {
	ShopID    string `json:"shopId" validate:"required"`
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0"`
}

type NotCollectedResponse struct {
	Orders     []SalesOrderResponse `json:"orders"`
	Count      int                  `json:"count"`
	TotalBags  int                  `json:"totalBags"`
	TotalValue int64                `json:"totalValue"`
}

type CorrectionsResponse struct {
	Orders []SalesOrderResponse `json:"orders"`
	Count  int                  `json:"count"`
}

type AuditLog struct {
	ID            string    `json:"id" bson:"_id"`
	ShopID        string    `json:"shopId,omitempty" bson:"shop,omitempty"`
	ActorUsername string    `json:"actorUsername" bson:"actorUsername"`
	ActorRole     string    `json:"actorRole" bson:"actorRole"`
	Action        string    `json:"action" bson:"action"`
	EntityType    string    `json:"entityType" bson:"entityType"`
	EntityID      string    `json:"entityId" bson:"entityId"`
	Detail        string    `json:"detail" bson:"detail"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	ShopID    string    `bson:"shop,omitempty"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

type SalesPersonCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=40"`
	Password string `json:"password" validate:"required,min=6"`
	ShopID   string `json:"shopId" validate:"required"`
}

type SalesPersonUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ShopID    string    `json:"shopId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func ValidStatus(status string) bool {
	switch status {
	case StatusNotCollected, StatusCollected, StatusPendingCorrection:
		return true
	default:
		return false
	}
}

func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentPOS, PaymentTransfer:
		return true
	default:
		return false
	}
}
