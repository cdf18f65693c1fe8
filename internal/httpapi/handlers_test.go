package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/logger"
	"fabricbill/backend/internal/service"
	"fabricbill/backend/internal/store/memory"
)

const testPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{DefaultRegion: "IN", Logger: logger.Nop()})
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, testPIN, repo)

	return New(svc, auth, "*", logger.Nop())
}

type client struct {
	t     *testing.T
	api   http.Handler
	token string
	csrf  string
}

func newAdminClient(t *testing.T) *client {
	t.Helper()
	api := newTestAPI(t)
	return &client{t: t, api: api.Handler(), token: loginAsAdmin(t, api), csrf: fetchCSRFToken(t, api)}
}

func (c *client) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	c.api.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func invoiceBody(no string, qty, rate string, cash string) domain.InvoiceSaveRequest {
	return domain.InvoiceSaveRequest{
		InvoiceNo:     no,
		InvoiceDate:   "2026-03-02",
		CustomerName:  "Ravi Textiles",
		CustomerPhone: "98200 12345",
		Products: []domain.ProductLineRequest{
			{Description: "Cotton", Qty: decimal.RequireFromString(qty), Rate: decimal.RequireFromString(rate)},
		},
		Payment: domain.PaymentAmounts{Cash: decimal.RequireFromString(cash)},
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	require.Equal(t, true, body["ok"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/next-number", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	c := newAdminClient(t)
	const key = "+919820012345"

	rec := c.do(http.MethodGet, "/api/v1/invoices/next-number", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeBody[domain.InvoiceNumberSuggestion](t, rec)
	require.Equal(t, "001", next.NextInvoiceNo)

	rec = c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "2", "500", "400"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.InvoiceSaveResponse](t, rec)
	require.Equal(t, key, created.Invoice.CustomerKey)
	require.True(t, decimal.NewFromInt(600).Equal(created.Invoice.AdjustedBalanceDue))

	rec = c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("002", "1", "300", "0"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decodeBody[domain.InvoiceSaveResponse](t, rec)
	require.True(t, decimal.NewFromInt(600).Equal(second.Invoice.PreviousBalance))

	rec = c.do(http.MethodGet, "/api/v1/invoices/002/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody[map[string]any](t, rec)["available"])

	rec = c.do(http.MethodPost, "/api/v1/invoices/001/returns", domain.ReturnRequest{Lines: []domain.ReturnLineRequest{
		{Description: "Cotton", Qty: decimal.NewFromInt(1), Rate: decimal.NewFromInt(100), ReturnDate: "2026-03-03"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ret := decodeBody[domain.LedgerMutationResponse](t, rec)
	require.Equal(t, []string{"002"}, ret.Cascade.Updated)

	rec = c.do(http.MethodGet, "/api/v1/customers/"+key+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[domain.CarriedBalance](t, rec)
	require.True(t, decimal.NewFromInt(800).Equal(balance.BalanceCarriedForward), balance.BalanceCarriedForward.String())

	rec = c.do(http.MethodGet, "/api/v1/customers/"+key+"/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stmt := decodeBody[domain.CustomerStatement](t, rec)
	require.Equal(t, 2, stmt.TotalInvoices)
	require.Equal(t, "002", stmt.Invoices[0].InvoiceNo)

	rec = c.do(http.MethodGet, "/api/v1/customers/"+key+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody[map[string]any](t, rec)["consistent"])

	rec = c.do(http.MethodDelete, "/api/v1/invoices/001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decodeBody[domain.DeleteInvoiceResponse](t, rec)
	require.Equal(t, "001", deleted.Entry.OriginalID)

	rec = c.do(http.MethodGet, "/api/v1/invoices/002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inv := decodeBody[map[string]domain.Invoice](t, rec)["invoice"]
	require.True(t, decimal.Zero.Equal(inv.PreviousBalance))

	rec = c.do(http.MethodPost, "/api/v1/recycle-bin/"+deleted.Entry.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/invoices/002", nil)
	inv = decodeBody[map[string]domain.Invoice](t, rec)["invoice"]
	require.True(t, decimal.NewFromInt(500).Equal(inv.PreviousBalance))
}

func TestLedgerErrorsMapToStatus(t *testing.T) {
	c := newAdminClient(t)

	rec := c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "1", "100", "0"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("duplicate number", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "1", "100", "0"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("invalid body", func(t *testing.T) {
		req := invoiceBody("002", "1", "100", "0")
		req.InvoiceDate = "tomorrow"
		rec := c.do(http.MethodPost, "/api/v1/invoices", req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unknown invoice", func(t *testing.T) {
		rec := c.do(http.MethodGet, "/api/v1/invoices/999", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("return overdraft", func(t *testing.T) {
		rec := c.do(http.MethodPost, "/api/v1/invoices/001/returns", domain.ReturnRequest{Lines: []domain.ReturnLineRequest{
			{Description: "Cotton", Qty: decimal.NewFromInt(2), Rate: decimal.NewFromInt(100), ReturnDate: "2026-03-03"},
		}})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	})
	t.Run("undo all without payments", func(t *testing.T) {
		rec := c.do(http.MethodDelete, "/api/v1/invoices/001/payments", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("restore onto reused number", func(t *testing.T) {
		rec := c.do(http.MethodDelete, "/api/v1/invoices/001", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decodeBody[domain.DeleteInvoiceResponse](t, rec).Entry

		rec = c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "1", "50", "0"))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = c.do(http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPaymentRoutes(t *testing.T) {
	c := newAdminClient(t)

	rec := c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "1", "1000", "100"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/api/v1/invoices/001/payments", map[string]any{
		"upi":          "250",
		"payment_date": "2026-03-04",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decodeBody[domain.LedgerMutationResponse](t, rec)
	require.True(t, decimal.NewFromInt(350).Equal(added.Invoice.AmountPaid))

	rec = c.do(http.MethodGet, "/api/v1/invoices/001/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decodeBody[map[string][]domain.Payment](t, rec)["payments"]
	require.Len(t, payments, 2)

	var upiID string
	for _, p := range payments {
		if p.PaymentMethod == domain.PaymentMethodUPI {
			upiID = p.ID
		}
	}
	require.NotEmpty(t, upiID)

	rec = c.do(http.MethodDelete, "/api/v1/invoices/001/payments/"+upiID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	undone := decodeBody[domain.LedgerMutationResponse](t, rec)
	require.True(t, decimal.NewFromInt(100).Equal(undone.Invoice.AmountPaid))
}

func TestRecycleBinNeedsManagerPIN(t *testing.T) {
	c := newAdminClient(t)

	rec := c.do(http.MethodPost, "/api/v1/invoices", invoiceBody("001", "1", "100", "0"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = c.do(http.MethodDelete, "/api/v1/invoices/001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodDelete, "/api/v1/recycle-bin", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = c.do(http.MethodDelete, "/api/v1/recycle-bin", nil, "X-Manager-PIN", testPIN)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decodeBody[domain.EmptyRecycleBinResponse](t, rec).Purged)

	rec = c.do(http.MethodGet, "/api/v1/recycle-bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[map[string][]domain.RecycleBinEntry](t, rec)["entries"])
}

func TestCustomerRoutes(t *testing.T) {
	c := newAdminClient(t)

	rec := c.do(http.MethodPost, "/api/v1/customers", domain.CustomerRequest{Name: "Meena", Phone: "98300 12345"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/api/v1/customers/+919830012345", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string]domain.Customer](t, rec)["customer"]
	require.Equal(t, "Meena", got.Name)

	rec = c.do(http.MethodGet, "/api/v1/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]domain.Customer](t, rec)["customers"], 1)

	rec = c.do(http.MethodDelete, "/api/v1/customers/+919830012345", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodGet, "/api/v1/customers/+919830012345", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodGet, "/api/v1/audit-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[map[string][]domain.AuditLog](t, rec)["audit_logs"], 2)
}
