package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/store"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrOverdraft      = errors.New("overdraft")
	ErrPartialCascade = errors.New("partial cascade")
	ErrLockTimeout    = errors.New("customer ledger busy")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

const (
	OverdraftQty    = "qty"
	OverdraftAmount = "amount"
)

// OverdraftError rejects a return that would exceed what is returnable.
type OverdraftError struct {
	Kind        string
	InvoiceNo   string
	Description string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *OverdraftError) Error() string {
	if e.Kind == OverdraftQty {
		return fmt.Sprintf("return qty %s for %q exceeds returnable qty %s on invoice %s",
			e.Requested.String(), e.Description, e.Available.String(), e.InvoiceNo)
	}
	return fmt.Sprintf("return amount %s exceeds adjusted balance %s on invoice %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2), e.InvoiceNo)
}

func (e *OverdraftError) Unwrap() error { return ErrOverdraft }

// PartialCascadeError reports a recalculation that stopped part way. The
// invoices in Updated were persisted; Recalculate(CustomerKey, ResumeAfter)
// picks the chain up again.
type PartialCascadeError struct {
	CustomerKey     string
	RunID           string
	Updated         []string
	FailedInvoiceNo string
	ResumeAfter     string
	Err             error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("cascade %s for %s stopped at invoice %s after updating [%s]: %v",
		e.RunID, e.CustomerKey, e.FailedInvoiceNo, strings.Join(e.Updated, ","), e.Err)
}

func (e *PartialCascadeError) Unwrap() []error {
	return []error{ErrPartialCascade, e.Err}
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOverdraft) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict)
}

// IsRetryable reports errors after which re-running the same operation or
// cascade is expected to succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPartialCascade) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
