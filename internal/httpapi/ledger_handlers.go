package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/ledger"
)

func invoiceNoParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "invoiceNo"))
}

func customerKeyParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "customerKey"))
}

func (a *API) handleNextInvoiceNo(w http.ResponseWriter, r *http.Request) {
	suggestion, err := a.service.SuggestNextInvoiceNo(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (a *API) handleInvoiceAvailability(w http.ResponseWriter, r *http.Request) {
	invoiceNo := invoiceNoParam(r)
	available, err := a.service.IsInvoiceNumberAvailable(r.Context(), invoiceNo)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice_no": invoiceNo, "available": available})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SaveInvoice(r.Context(), req, ledger.CreateInvoice)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleEditInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// The path names the invoice; a body number is ignored.
	req.InvoiceNo = invoiceNoParam(r)
	resp, err := a.service.SaveInvoice(r.Context(), req, ledger.EditInvoice)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetInvoice(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (a *API) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteInvoice(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListPayments(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AddPayment(r.Context(), invoiceNoParam(r), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleUndoPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.UndoPayment(r.Context(), invoiceNoParam(r), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUndoAllPayments(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.UndoAllPayments(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturns(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleAddReturns(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AddReturns(r.Context(), invoiceNoParam(r), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleUndoReturn(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.UndoReturn(r.Context(), invoiceNoParam(r), chi.URLParam(r, "returnID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUndoAllReturns(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.UndoAllReturns(r.Context(), invoiceNoParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleSaveCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := a.service.SaveCustomer(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.GetCustomer(r.Context(), customerKeyParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteCustomer(r.Context(), customerKeyParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCustomerBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.service.CarriedBalance(r.Context(), customerKeyParam(r), r.URL.Query().Get("invoice_no"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleCustomerStatement(w http.ResponseWriter, r *http.Request) {
	stmt, err := a.service.Statement(r.Context(), customerKeyParam(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (a *API) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Recalculate(r.Context(), customerKeyParam(r), r.URL.Query().Get("after"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	key := customerKeyParam(r)
	violations, err := a.service.Verify(r.Context(), key)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_key": key,
		"consistent":   len(violations) == 0,
		"violations":   violations,
	})
}

func (a *API) handleListRecycleBin(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListRecycleBin(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleRestoreInvoice(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.RestoreInvoice(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePurgeRecycleBinEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	if err := a.service.PurgeRecycleBinEntry(r.Context(), entryID); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": entryID})
}

func (a *API) handleEmptyRecycleBin(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.EmptyRecycleBin(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff(r.Context())})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateStaff(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
