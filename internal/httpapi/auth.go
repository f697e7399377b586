package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrUsernameTaken      = errors.New("username already exists")
)

const bootstrapTimeout = 3 * time.Second

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	GetShop(ctx context.Context, id string) (*domain.Shop, error)
}

type credential struct {
	password string
	role     string
	shopID   string
	active   bool
	created  time.Time
}

type salesClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	ShopID string `json:"shopId,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

// EnsureAdmin creates the admin account when the user store has none, so a
// fresh database can be logged into.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) error {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	for _, cred := range a.users {
		if cred.role == domain.RoleAdmin {
			a.mu.RUnlock()
			return nil
		}
	}
	a.mu.RUnlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return errors.New("bootstrap admin username and password are required")
	}
	return a.addUser(ctx, username, password, domain.RoleAdmin, "")
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	a.bootstrapUsers(bootCtx)
	cancel()

	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, cred.shopID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Username:    username,
		Role:        cred.role,
		ShopID:      cred.shopID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &salesClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role, ShopID: claims.ShopID}, nil
}

func (a *AuthManager) TokenTTL() time.Duration {
	return a.tokenTTL
}

func (a *AuthManager) sign(username, role, shopID string, expiresAt time.Time) (string, error) {
	claims := salesClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "cement-sales",
		},
		Role:   role,
		ShopID: shopID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateSalesPerson(ctx context.Context, req domain.SalesPersonCreateRequest) (domain.SalesPersonUser, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	shopID := strings.TrimSpace(req.ShopID)
	if len(username) < 4 {
		return domain.SalesPersonUser{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.SalesPersonUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.SalesPersonUser{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}
	if shopID == "" {
		return domain.SalesPersonUser{}, fmt.Errorf("%w: shopId is required", store.ErrInvalidInput)
	}
	if a.userStore != nil {
		if _, err := a.userStore.GetShop(ctx, shopID); err != nil {
			return domain.SalesPersonUser{}, fmt.Errorf("shop %s: %w", shopID, err)
		}
	}

	if err := a.addUser(ctx, username, req.Password, domain.RoleSalesPerson, shopID); err != nil {
		return domain.SalesPersonUser{}, err
	}

	a.mu.RLock()
	cred := a.users[username]
	a.mu.RUnlock()
	return domain.SalesPersonUser{
		Username:  username,
		Role:      cred.role,
		ShopID:    cred.shopID,
		Active:    cred.active,
		CreatedAt: cred.created,
	}, nil
}

func (a *AuthManager) addUser(ctx context.Context, username, password, role, shopID string) error {
	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return ErrUsernameTaken
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if a.userStore != nil {
		err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  passwordHash,
			Role:      role,
			ShopID:    shopID,
			Active:    true,
			CreatedAt: now,
		})
		if errors.Is(err, store.ErrConflict) {
			return ErrUsernameTaken
		}
		if err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		role:     role,
		shopID:   shopID,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()
	return nil
}

func (a *AuthManager) ListSalesPersons(ctx context.Context, shopID string) []domain.SalesPersonUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.SalesPersonUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleSalesPerson {
			continue
		}
		if shopID != "" && user.shopID != shopID {
			continue
		}
		result = append(result, domain.SalesPersonUser{
			Username:  username,
			Role:      user.role,
			ShopID:    user.shopID,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache and upgrades legacy plain-text passwords to bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			shopID:   user.ShopID,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
