package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/service"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
)

const (
	tokenCookieName = "token"
	csrfHeader      = "X-CSRF-Token"
	maxBodyBytes    = 1 << 20
)

type Options struct {
	AllowedOrigin  string
	CookieSecure   bool
	RequestTimeout time.Duration
	// LoginAttempts per minute per client IP.
	LoginAttempts int
	// TrustProxyHeaders lets X-Real-IP, X-Forwarded-For and True-Client-IP
	// replace RemoteAddr. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	Logger            *slog.Logger
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	logger       *slog.Logger
	csrfSecret   []byte
	loginLimiter func(http.Handler) http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "http://localhost:5173"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.LoginAttempts < 1 {
		opts.LoginAttempts = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("httpapi: generate csrf secret: %v", err))
	}

	a := &API{
		service:    svc,
		auth:       auth,
		opts:       opts,
		logger:     logger,
		csrfSecret: csrfSecret,
	}
	// KeyByIP reads RemoteAddr, which RealIP only rewrites when proxy headers are trusted.
	a.loginLimiter = httprate.Limit(opts.LoginAttempts, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		}),
	)
	return a
}

// csrfTokenForHour computes a hex HMAC-SHA256 token for an hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(
		a.requestLogger,
		middleware.Recoverer,
		middleware.Timeout(a.opts.RequestTimeout),
		a.securityHeaders(),
		limitBody,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.With(a.loginLimiter).Post("/auth/login", a.handleLogin)
		r.Post("/auth/logout", a.handleLogout)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Get("/products", a.requireAuth(a.handleListProducts, domain.RoleAdmin, domain.RoleSalesPerson))
		r.Put("/inventory", a.requireAuth(a.handleSetStock, domain.RoleAdmin))
		r.Post("/customers", a.requireAuth(a.handleEnsureCustomer, domain.RoleAdmin, domain.RoleSalesPerson))
		r.Get("/settings", a.requireAuth(a.handleGetSettings, domain.RoleAdmin, domain.RoleSalesPerson))
		r.Put("/settings", a.requireAuth(a.handleUpdateSettings, domain.RoleAdmin))

		r.Route("/sales-orders", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateSalesOrder, domain.RoleSalesPerson))
			r.Get("/not-collected", a.requireAuth(a.handleNotCollected, domain.RoleAdmin, domain.RoleSalesPerson))
			r.Get("/corrections", a.requireAuth(a.handleCorrections, domain.RoleAdmin, domain.RoleSalesPerson))
			r.Get("/{id}", a.requireAuth(a.handleGetSalesOrder, domain.RoleAdmin, domain.RoleSalesPerson))
			r.Put("/{id}/status", a.requireAuth(a.handleUpdateStatus, domain.RoleAdmin, domain.RoleSalesPerson))
			r.Put("/{id}/partial-collection", a.requireAuth(a.handlePartialCollection, domain.RoleAdmin, domain.RoleSalesPerson))
			r.Put("/{id}/flag-correction", a.requireAuth(a.handleFlagCorrection, domain.RoleSalesPerson))
			r.Put("/{id}/resolve-correction", a.requireAuth(a.handleResolveCorrection, domain.RoleAdmin))
		})

		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
		r.Get("/users/sales-persons", a.requireAuth(a.handleListSalesPersons, domain.RoleAdmin))
		r.Post("/users/sales-persons", a.requireAuth(a.handleCreateSalesPerson, domain.RoleAdmin))
	})

	return cors.New(cors.Options{
		AllowedOrigins:   []string{a.opts.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", csrfHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(r)
}

// requireAuth accepts a bearer token or the session cookie. Cookie-authenticated
// mutations must also carry a valid CSRF token.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := bearerOrCookie(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		if fromCookie && isMutation(r.Method) && !a.validateCSRFToken(strings.TrimSpace(r.Header.Get(csrfHeader))) {
			a.logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.String("user", actor.Username))
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		next(w, r.WithContext(ctx))
	}
}

func bearerOrCookie(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):]), false
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func isMutation(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    resp.AccessToken,
		Path:     "/",
		MaxAge:   int(a.auth.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "logged in",
		"accessToken": resp.AccessToken,
		"username":    resp.Username,
		"role":        resp.Role,
		"shopId":      resp.ShopID,
		"expiresAt":   resp.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
// Cookie-authenticated clients send it in X-CSRF-Token on every mutation.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrfToken": a.generateCSRFToken(),
	})
}

// writeServiceError maps service and store errors onto status codes. Stock
// shortfalls carry their per-item report.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("requestId", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, status, err)
		return
	}

	payload := map[string]any{
		"success": false,
		"message": err.Error(),
	}
	if code != "" {
		payload["code"] = code
	}
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		payload["message"] = "insufficient stock"
		payload["shortfalls"] = stockErr.Shortfalls
	}
	writeJSON(w, status, payload)
}

func statusForError(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, ""
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "ValidationError"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "InsufficientStock"
	case errors.Is(err, service.ErrCustomerConflict):
		return http.StatusConflict, "CustomerConflict"
	case errors.Is(err, service.ErrDuplicateOrderNumber):
		return http.StatusConflict, "DuplicateOrderNumber"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VersionConflict"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, "InvalidTransition"
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "Conflict"
	default:
		return http.StatusInternalServerError, ""
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides 5xx details from clients; 4xx messages are user-facing.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
	})
}

// writeJSON sets success from the status unless the payload already has it.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if _, ok := payload["success"]; !ok {
		payload["success"] = status < http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
