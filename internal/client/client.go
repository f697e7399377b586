// Package client talks to the sales API on behalf of a signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

var (
	ErrUnauthorized         = errors.New("not signed in")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrCustomerConflict     = errors.New("customer phone or email belongs to another customer")
	ErrDuplicateOrderNumber = errors.New("order number already used")
	ErrVersionConflict      = errors.New("order changed since it was read")
)

const maxResponseBytes = 4 << 20

// APIError is a non-2xx response. It matches the sentinel errors above via
// errors.Is using the response code and status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrValidation:
		return e.Code == "ValidationError"
	case ErrCustomerConflict:
		return e.Code == "CustomerConflict"
	case ErrDuplicateOrderNumber:
		return e.Code == "DuplicateOrderNumber"
	case ErrVersionConflict:
		return e.Code == "VersionConflict"
	}
	return false
}

// ShortfallError carries the per-item report for an order rejected for
// insufficient stock.
type ShortfallError struct {
	Shortfalls []domain.Shortfall
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		name := s.ProductName
		if name == "" {
			name = s.ProductID
		}
		parts = append(parts, fmt.Sprintf("%s requested %d, available %d", name, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Code       string             `json:"code"`
	Shortfalls []domain.Shortfall `json:"shortfalls"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for baseURL, e.g. http://localhost:8080. A nil
// httpClient gets one with a 30s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login signs in and keeps the access token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", domain.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) ListProducts(ctx context.Context, shopID string) ([]domain.ProductStock, error) {
	path := "/api/products"
	if shopID != "" {
		path += "?shopId=" + url.QueryEscape(shopID)
	}
	var resp struct {
		Products []domain.ProductStock `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

func (c *Client) GetSettings(ctx context.Context) (domain.Settings, error) {
	var resp struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &resp); err != nil {
		return domain.Settings{}, err
	}
	return resp.Settings, nil
}

// EnsureCustomer resolves the customer by phone or creates one.
func (c *Client) EnsureCustomer(ctx context.Context, req domain.CustomerRequest) (domain.CustomerResponse, error) {
	var resp domain.CustomerResponse
	if err := c.do(ctx, http.MethodPost, "/api/customers", req, &resp); err != nil {
		return domain.CustomerResponse{}, err
	}
	return resp, nil
}

// CreateSalesOrder submits an order. Stock shortfalls come back as
// *ShortfallError.
func (c *Client) CreateSalesOrder(ctx context.Context, req domain.SalesOrderCreateRequest) (domain.SalesOrderResponse, error) {
	var resp struct {
		SalesOrder domain.SalesOrderResponse `json:"salesOrder"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sales-orders", req, &resp); err != nil {
		return domain.SalesOrderResponse{}, err
	}
	return resp.SalesOrder, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Message == "" {
			env.Message = http.StatusText(resp.StatusCode)
		}
		if len(env.Shortfalls) > 0 {
			return &ShortfallError{Shortfalls: env.Shortfalls}
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
