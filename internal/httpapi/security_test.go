package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("X-Request-Id"); got == "" {
		t.Fatalf("expected X-Request-Id to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestLoginRateLimitIgnoresSpoofedClientIPHeaders(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.0.%d", i+1))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.0.%d", i+1))
		req.Header.Set("True-Client-IP", fmt.Sprintf("10.2.0.%d", i+1))
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 with rotated X-Real-IP expected 429, got %d", res.Code)
		}
	}
}

func TestLoginRateLimitUsesProxyHeadersWhenTrusted(t *testing.T) {
	api := newTestAPIWithOptions(t, Options{AllowedOrigin: "*", TrustProxyHeaders: true})
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.0.%d", i+1))
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d from distinct proxied client expected 401, got %d", i+1, res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for too large body, got %d", res.Code)
	}
}

func TestBodyTooLargeRejectedWithoutContentType(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", 3<<20)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for large body without Content-Type, got %d", res.Code)
	}
}

func TestAuthenticatedBodyTooLargeRejectedWithTextContentType(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")
	body := fmt.Sprintf(`{"name":"%s","phone":"08030000000"}`, strings.Repeat("a", (1<<20)+1024))

	req := httptest.NewRequest(http.MethodPost, "/api/customers", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for large text/plain body, got %d", res.Code)
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")

	res := doJSON(t, api, http.MethodPost, "/api/customers", token, map[string]any{
		"name":      "Ada",
		"phone":     "08030000000",
		"favourite": "blue",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestCookieMutationRequiresCSRF(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")
	body, _ := json.Marshal(domain.SettingsUpdateRequest{OnloadingRate: 1000, DeliveryRate: 2000, OffloadingRate: 3000})

	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfHeader, fetchCSRFToken(t, api))
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	res = httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with csrf token, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestCookieReadDoesNotNeedCSRF(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "sales.ikeja", "sales123")

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieName, Value: token})
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for cookie read, got %d", res.Code)
	}
}

func TestCSRFTokenRejectsForgery(t *testing.T) {
	api := newTestAPI(t)
	if api.validateCSRFToken("") {
		t.Fatalf("expected empty token to be rejected")
	}
	if api.validateCSRFToken(strings.Repeat("0", 64)) {
		t.Fatalf("expected forged token to be rejected")
	}
	if !api.validateCSRFToken(api.generateCSRFToken()) {
		t.Fatalf("expected freshly generated token to validate")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 100, 500); got != 500 {
		t.Fatalf("expected capped limit 500, got %d", got)
	}
	if got := parsePositiveLimit("", 100, 500); got != 100 {
		t.Fatalf("expected fallback limit 100, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 100, 500); got != 100 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
	if got := parsePositiveLimit("-3", 100, 500); got != 100 {
		t.Fatalf("expected fallback on negative input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok, _ := payload["csrfToken"].(string)
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrfToken in response")
	}
	return tok
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
