package store

import (
	"context"
	"errors"
	"time"

	"fabricbill/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// LedgerStore is the document surface the ledger engine runs on: invoices,
// their payments and returns, and the recycle bin.
type LedgerStore interface {
	ListInvoicesByCustomer(ctx context.Context, customerKey string) ([]domain.Invoice, error)
	ListInvoiceNumbers(ctx context.Context) ([]string, error)
	GetInvoice(ctx context.Context, invoiceNo string) (*domain.Invoice, error)
	SaveInvoice(ctx context.Context, invoice domain.Invoice) error
	DeleteInvoice(ctx context.Context, invoiceNo string) error

	ListPaymentsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Payment, error)
	SavePayment(ctx context.Context, payment domain.Payment) (string, error)
	DeletePayment(ctx context.Context, id string) error

	ListReturnsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Return, error)
	SaveReturn(ctx context.Context, ret domain.Return) (string, error)
	DeleteReturn(ctx context.Context, id string) error

	// MoveToRecycleBin snapshots the invoice with its payments and returns
	// into a new entry and removes the live records in one unit.
	MoveToRecycleBin(ctx context.Context, invoiceNo string, deletedAt time.Time) (*domain.RecycleBinEntry, error)
	// RestoreFromRecycleBin re-inserts the snapshot and removes the entry.
	// ErrConflict is returned when the invoice number is taken again.
	RestoreFromRecycleBin(ctx context.Context, entryID string) (*domain.RecycleBinEntry, error)
	PurgeRecycleBinEntry(ctx context.Context, entryID string) error
	EmptyRecycleBin(ctx context.Context) (int, error)
	// ListRecycleBin returns entries newest first.
	ListRecycleBin(ctx context.Context) ([]domain.RecycleBinEntry, error)
}

type CustomerStore interface {
	SaveCustomer(ctx context.Context, customer domain.Customer) error
	GetCustomer(ctx context.Context, key string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, key string) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	LedgerStore
	CustomerStore
	AuditStore
	UserStore
}
