package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/cache"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/validation"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/xid"
)

var (
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrCustomerConflict     = errors.New("customer conflict")
	ErrDuplicateOrderNumber = errors.New("order number already exists")
)

// maxCASAttempts bounds read-modify-write retries when the caller sent no expectedVersion.
const maxCASAttempts = 3

const defaultSettingsTTL = 5 * time.Minute

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	settingsCache cache.SettingsCache
	settingsTTL   time.Duration
	validate      *validator.Validate
	logger        *slog.Logger
}

func New(repo store.Repository, settingsCache cache.SettingsCache, settingsTTL time.Duration, logger *slog.Logger) *Service {
	if settingsCache == nil {
		settingsCache = cache.NoopSettingsCache{}
	}
	if settingsTTL <= 0 {
		settingsTTL = defaultSettingsTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:          repo,
		settingsCache: settingsCache,
		settingsTTL:   settingsTTL,
		validate:      validation.New(),
		logger:        logger,
	}
}

func (s *Service) ListProducts(ctx context.Context, shopID string) ([]domain.ProductStock, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson)
	if err != nil {
		return nil, err
	}
	shopID, err = scopeShop(actor, shopID, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetShop(ctx, shopID); err != nil {
		return nil, fmt.Errorf("shop %s: %w", shopID, err)
	}
	return s.repo.ListProducts(ctx, shopID)
}

func (s *Service) SetStock(ctx context.Context, req domain.InventoryUpdateRequest) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.validateStruct(req); err != nil {
		return err
	}
	if !xid.Valid(req.ShopID) || !xid.Valid(req.ProductID) {
		return invalidf("invalid shop or product id")
	}

	if err := s.repo.SetStock(ctx, req.ShopID, req.ProductID, req.Quantity); err != nil {
		return err
	}
	s.logAudit(ctx, req.ShopID, "inventory_set", "product", req.ProductID, fmt.Sprintf("qty=%d", req.Quantity))
	return nil
}

// EnsureCustomer returns the existing customer for the request's phone, or
// creates one. A phone or email already held by a different customer is a
// conflict. For an existing customer the stored profile wins: request values
// only fill empty fields, and fields whose stored value differs are listed in
// KeptFields.
func (s *Service) EnsureCustomer(ctx context.Context, req domain.CustomerRequest) (domain.CustomerResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSalesPerson)
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	req = normalizeCustomerRequest(req)
	if err := s.validateStruct(req); err != nil {
		return domain.CustomerResponse{}, err
	}

	byPhone, err := s.findCustomer(ctx, s.repo.FindCustomerByPhone, req.Phone)
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	byEmail, err := s.findCustomer(ctx, s.repo.FindCustomerByEmail, req.Email)
	if err != nil {
		return domain.CustomerResponse{}, err
	}

	switch {
	case byEmail != nil && (byPhone == nil || byPhone.ID != byEmail.ID):
		return domain.CustomerResponse{}, fmt.Errorf("%w: email %s belongs to another customer", ErrCustomerConflict, req.Email)
	case byPhone != nil:
		existing := *byPhone
		kept := conflictingCustomerFields(existing, req)
		if fillCustomerBlanks(&existing, req) {
			updated, err := s.repo.UpdateCustomer(ctx, existing)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return domain.CustomerResponse{}, fmt.Errorf("%w: email %s belongs to another customer", ErrCustomerConflict, req.Email)
				}
				return domain.CustomerResponse{}, err
			}
			existing = *updated
		}
		return domain.CustomerResponse{Customer: existing, Created: false, KeptFields: kept}, nil
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:                     req.Name,
		Phone:                    req.Phone,
		Email:                    req.Email,
		Address:                  req.Address,
		Company:                  req.Company,
		CustomerType:             req.CustomerType,
		PreferredDeliveryAddress: req.PreferredDeliveryAddress,
		PreferredPaymentMethod:   req.PreferredPaymentMethod,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CustomerResponse{}, fmt.Errorf("%w: phone or email already registered", ErrCustomerConflict)
		}
		return domain.CustomerResponse{}, err
	}

	s.logAudit(ctx, actor.ShopID, "customer_create", "customer", created.ID, fmt.Sprintf("phone=%s", created.Phone))
	return domain.CustomerResponse{Customer: *created, Created: true}, nil
}

func (s *Service) findCustomer(ctx context.Context, find func(context.Context, string) (*domain.Customer, error), key string) (*domain.Customer, error) {
	if key == "" {
		return nil, nil
	}
	customer, err := find(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return customer, err
}

// GetSettings reads through the settings cache. Cache failures fall back to
// the repository.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	cached, ok, err := s.settingsCache.Get(ctx)
	if err != nil {
		s.logger.Warn("settings cache read failed", slog.Any("error", err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.settingsCache.Set(ctx, &settings, s.settingsTTL); err != nil {
		s.logger.Warn("settings cache write failed", slog.Any("error", err))
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Settings{}, err
	}

	settings := domain.Settings{
		OnloadingRate:  req.OnloadingRate,
		DeliveryRate:   req.DeliveryRate,
		OffloadingRate: req.OffloadingRate,
		UpdatedBy:      actor.Username,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	if err := s.settingsCache.Set(ctx, &settings, s.settingsTTL); err != nil {
		s.logger.Warn("settings cache write failed, invalidating", slog.Any("error", err))
		if err := s.settingsCache.Invalidate(ctx); err != nil {
			s.logger.Warn("settings cache invalidate failed", slog.Any("error", err))
		}
	}

	s.logAudit(ctx, "", "settings_update", "settings", "global", fmt.Sprintf("onloading=%d,delivery=%d,offloading=%d", settings.OnloadingRate, settings.DeliveryRate, settings.OffloadingRate))
	return settings, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	shopID = strings.TrimSpace(shopID)
	if shopID != "" && !xid.Valid(shopID) {
		return nil, invalidf("invalid shop id")
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, shopID, limit)
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return invalidf("%s", validation.Message(err))
	}
	return nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: missing actor", ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s not allowed", ErrForbidden, actor.Role)
}

// scopeShop resolves the shop a request operates on. Sales persons are pinned
// to their own shop; admins must name one when required is set.
func scopeShop(actor domain.Actor, requested string, required bool) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" && !xid.Valid(requested) {
		return "", invalidf("invalid shop id")
	}

	if actor.Role == domain.RoleSalesPerson {
		if actor.ShopID == "" {
			return "", fmt.Errorf("%w: no shop assigned to %s", ErrForbidden, actor.Username)
		}
		if requested != "" && requested != actor.ShopID {
			return "", fmt.Errorf("%w: shop %s is not assigned to %s", ErrForbidden, requested, actor.Username)
		}
		return actor.ShopID, nil
	}

	if requested == "" && required {
		return "", invalidf("shopId is required")
	}
	return requested, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func normalizeCustomerRequest(req domain.CustomerRequest) domain.CustomerRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = validation.NormalizePhone(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Address = strings.TrimSpace(req.Address)
	req.Company = strings.TrimSpace(req.Company)
	req.CustomerType = strings.TrimSpace(req.CustomerType)
	req.PreferredDeliveryAddress = strings.TrimSpace(req.PreferredDeliveryAddress)
	req.PreferredPaymentMethod = strings.ToLower(strings.TrimSpace(req.PreferredPaymentMethod))
	return req
}

// fillCustomerBlanks copies request fields into empty customer fields and
// reports whether anything changed.
func fillCustomerBlanks(customer *domain.Customer, req domain.CustomerRequest) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&customer.Email, req.Email)
	fill(&customer.Address, req.Address)
	fill(&customer.Company, req.Company)
	fill(&customer.CustomerType, req.CustomerType)
	fill(&customer.PreferredDeliveryAddress, req.PreferredDeliveryAddress)
	fill(&customer.PreferredPaymentMethod, req.PreferredPaymentMethod)
	return changed
}

// conflictingCustomerFields lists request fields that are set but differ from
// a non-empty stored value.
func conflictingCustomerFields(customer domain.Customer, req domain.CustomerRequest) []string {
	var kept []string
	check := func(field, stored, requested string) {
		if stored != "" && requested != "" && stored != requested {
			kept = append(kept, field)
		}
	}
	check("name", customer.Name, req.Name)
	check("email", customer.Email, req.Email)
	check("address", customer.Address, req.Address)
	check("company", customer.Company, req.Company)
	check("customerType", customer.CustomerType, req.CustomerType)
	check("preferredDeliveryAddress", customer.PreferredDeliveryAddress, req.PreferredDeliveryAddress)
	check("preferredPaymentMethod", customer.PreferredPaymentMethod, req.PreferredPaymentMethod)
	return kept
}

// applyCustomerRevision overwrites customer profile fields with a revision.
// Stats and identity are kept.
func applyCustomerRevision(customer *domain.Customer, req domain.CustomerRequest) {
	customer.Name = req.Name
	customer.Phone = req.Phone
	customer.Email = req.Email
	customer.Address = req.Address
	customer.Company = req.Company
	customer.CustomerType = req.CustomerType
	customer.PreferredDeliveryAddress = req.PreferredDeliveryAddress
	customer.PreferredPaymentMethod = req.PreferredPaymentMethod
}

// normalizeItems merges duplicate product lines, keeping first-seen order.
func normalizeItems(items []domain.OrderItemRequest) []domain.OrderItemRequest {
	index := make(map[string]int, len(items))
	out := make([]domain.OrderItemRequest, 0, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if i, ok := index[item.ProductID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}
