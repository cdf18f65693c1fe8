package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/ledger"
	"fabricbill/backend/internal/service"
	"fabricbill/backend/internal/store"
)

const (
	headerCSRF       = "X-CSRF-Token"
	headerManagerPIN = "X-Manager-PIN"
	headerRequestID  = "X-Request-ID"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           logger,
	}
}

// csrfTokenForHour is the hex HMAC of an hour bucket (Unix seconds truncated
// to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(a.requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerCSRF, headerManagerPIN},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         300,
	}))
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)

	staff := []string{domain.RoleStaff, domain.RoleAdmin}
	admin := []string{domain.RoleAdmin}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateInvoice, staff...))
			r.Get("/next-number", a.requireAuth(a.handleNextInvoiceNo, staff...))
			r.Route("/{invoiceNo}", func(r chi.Router) {
				r.Get("/", a.requireAuth(a.handleGetInvoice, staff...))
				r.Put("/", a.requireAuth(a.handleEditInvoice, staff...))
				r.Delete("/", a.requireAuth(a.handleDeleteInvoice, admin...))
				r.Get("/availability", a.requireAuth(a.handleInvoiceAvailability, staff...))

				r.Get("/payments", a.requireAuth(a.handleListPayments, staff...))
				r.Post("/payments", a.requireAuth(a.handleAddPayment, staff...))
				r.Delete("/payments", a.requireAuth(a.handleUndoAllPayments, staff...))
				r.Delete("/payments/{paymentID}", a.requireAuth(a.handleUndoPayment, staff...))

				r.Get("/returns", a.requireAuth(a.handleListReturns, staff...))
				r.Post("/returns", a.requireAuth(a.handleAddReturns, staff...))
				r.Delete("/returns", a.requireAuth(a.handleUndoAllReturns, staff...))
				r.Delete("/returns/{returnID}", a.requireAuth(a.handleUndoReturn, staff...))
			})
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListCustomers, staff...))
			r.Post("/", a.requireAuth(a.handleSaveCustomer, staff...))
			r.Route("/{customerKey}", func(r chi.Router) {
				r.Get("/", a.requireAuth(a.handleGetCustomer, staff...))
				r.Delete("/", a.requireAuth(a.handleDeleteCustomer, admin...))
				r.Get("/balance", a.requireAuth(a.handleCustomerBalance, staff...))
				r.Get("/statement", a.requireAuth(a.handleCustomerStatement, staff...))
				r.Post("/recalculate", a.requireAuth(a.handleRecalculate, admin...))
				r.Get("/verify", a.requireAuth(a.handleVerify, admin...))
			})
		})

		r.Route("/recycle-bin", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleListRecycleBin, admin...))
			r.Delete("/", a.requireAuth(a.requireManagerPIN(a.handleEmptyRecycleBin), admin...))
			r.Post("/{entryID}/restore", a.requireAuth(a.handleRestoreInvoice, admin...))
			r.Delete("/{entryID}", a.requireAuth(a.requireManagerPIN(a.handlePurgeRecycleBinEntry), admin...))
		})

		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, admin...))
		r.Get("/users/staff", a.requireAuth(a.handleListStaff, admin...))
		r.Post("/users/staff", a.requireAuth(a.handleCreateStaff, admin...))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// requireManagerPIN gates irreversible actions behind the manager PIN header.
func (a *API) requireManagerPIN(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.pinLimiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get(headerManagerPIN)) {
			writeError(w, http.StatusForbidden, errors.New("manager pin required"))
			return
		}
		next(w, r)
	}
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
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get(headerCSRF))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := a.log.With().Str("request_id", id).Logger().WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if !a.checkCSRF(w, r) {
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
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

// statusFor maps ledger and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrPartialCascade),
		errors.Is(err, ledger.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrOverdraft):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeLedgerError reports a failed ledger call. A partial cascade keeps its
// resume point in the body so the operator can retry from it.
func writeLedgerError(w http.ResponseWriter, err error) {
	var partial *ledger.PartialCascadeError
	if errors.As(err, &partial) {
		log.Error().Err(err).
			Str("run_id", partial.RunID).
			Str("customer_key", partial.CustomerKey).
			Msg("partial cascade")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "ledger recalculation incomplete, retry from resume_after",
			"cascade": map[string]any{
				"run_id":            partial.RunID,
				"customer_key":      partial.CustomerKey,
				"updated":           partial.Updated,
				"failed_invoice_no": partial.FailedInvoiceNo,
				"resume_after":      partial.ResumeAfter,
			},
		})
		return
	}
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		log.Warn().Err(err).Msg("ledger busy")
		writeJSON(w, status, map[string]any{"error": "customer ledger busy, retry later"})
		return
	}
	writeError(w, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
