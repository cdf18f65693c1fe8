package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

type PaymentInput struct {
	Amounts domain.PaymentBreakdown
	Date    time.Time
}

// Result is what a ledger mutation returns: the mutated invoice as stored
// and the downstream cascade.
type Result struct {
	Invoice domain.Invoice
	Cascade domain.CascadeReport
	Count   int
}

var breakdownMethods = []string{domain.PaymentMethodCash, domain.PaymentMethodUPI, domain.PaymentMethodAccount}

func validatePayment(in PaymentInput) error {
	for _, method := range breakdownMethods {
		if in.Amounts.Bucket(method).IsNegative() {
			return invalid(method, "must not be negative")
		}
	}
	if !in.Amounts.Total().IsPositive() {
		return invalid("amount", "at least one payment amount must be greater than zero")
	}
	if in.Date.IsZero() {
		return invalid("payment_date", "is required")
	}
	return nil
}

// AddPayment records one payment per non-zero method on invoiceNo and
// cascades the customer's chain.
func (e *Engine) AddPayment(ctx context.Context, invoiceNo string, in PaymentInput) (Result, error) {
	if err := validatePayment(in); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		saved, err := e.savePayments(ctx, *inv, in.Amounts, in.Date, domain.PaymentTypeAdditional)
		if err != nil {
			return err
		}

		breakdown := effectiveBreakdown(*inv)
		for _, method := range breakdownMethods {
			breakdown = breakdown.WithBucket(method, breakdown.Bucket(method).Add(in.Amounts.Bucket(method)))
		}
		if err := e.persistReconciled(ctx, inv, breakdown); err != nil {
			e.deletePayments(ctx, saved)
			return err
		}

		res.Invoice = *inv
		res.Count = len(saved)
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

// savePayments stores one record per non-zero bucket of amounts. Nothing is
// left behind when a save fails.
func (e *Engine) savePayments(ctx context.Context, inv domain.Invoice, amounts domain.PaymentBreakdown, date time.Time, paymentType string) ([]string, error) {
	saved := make([]string, 0, len(breakdownMethods))
	for _, method := range breakdownMethods {
		amount := amounts.Bucket(method)
		if !amount.IsPositive() {
			continue
		}
		id, err := e.store.SavePayment(ctx, domain.Payment{
			ID:            xid.Payment(),
			InvoiceNo:     inv.InvoiceNo,
			CustomerKey:   inv.CustomerKey,
			PaymentDate:   date,
			Amount:        amount,
			PaymentMethod: method,
			PaymentType:   paymentType,
			CreatedAt:     e.now(),
		})
		if err != nil {
			e.deletePayments(ctx, saved)
			return nil, fmt.Errorf("save %s payment for %s: %w", method, inv.InvoiceNo, err)
		}
		saved = append(saved, id)
	}
	return saved, nil
}

func (e *Engine) deletePayments(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.store.DeletePayment(context.WithoutCancel(ctx), id); err != nil {
			e.log.Warn().Err(err).Str("payment_id", id).Msg("compensating payment delete failed")
		}
	}
}

// resavePayments puts back payments an undo deleted before its invoice
// save failed.
func (e *Engine) resavePayments(ctx context.Context, payments []domain.Payment) {
	for _, p := range payments {
		if _, err := e.store.SavePayment(context.WithoutCancel(ctx), p); err != nil {
			e.log.Warn().Err(err).Str("payment_id", p.ID).Msg("compensating payment restore failed")
		}
	}
}

// persistReconciled sets the breakdown, re-derives the money fields with
// live returns and saves inv.
func (e *Engine) persistReconciled(ctx context.Context, inv *domain.Invoice, breakdown domain.PaymentBreakdown) error {
	returns, _, err := e.liveReturns(ctx, inv.InvoiceNo)
	if err != nil {
		return err
	}
	inv.PaymentBreakdown = breakdown
	inv.AmountPaid = breakdown.Total()
	reconcile(inv, returns)
	inv.UpdatedAt = e.now()
	if err := e.store.SaveInvoice(ctx, *inv); err != nil {
		return fmt.Errorf("save invoice %s: %w", inv.InvoiceNo, err)
	}
	return nil
}

// UndoPayment deletes one payment and takes its amount back out of the
// bucket it was collected in. Legacy ids with or without the payment_
// prefix are matched.
func (e *Engine) UndoPayment(ctx context.Context, invoiceNo, paymentID string) (Result, error) {
	candidates := xid.PaymentIDCandidates(paymentID)
	if len(candidates) == 0 {
		return Result{}, invalid("payment_id", "is required")
	}

	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		payments, err := e.store.ListPaymentsByInvoice(ctx, invoiceNo)
		if err != nil {
			return fmt.Errorf("list payments of %s: %w", invoiceNo, err)
		}
		idx := slices.IndexFunc(payments, func(p domain.Payment) bool {
			return slices.Contains(candidates, p.ID)
		})
		if idx < 0 {
			return &NotFoundError{Kind: "payment", ID: paymentID}
		}
		payment := payments[idx]

		if err := e.store.DeletePayment(ctx, payment.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Kind: "payment", ID: paymentID}
			}
			return fmt.Errorf("delete payment %s: %w", payment.ID, err)
		}

		method := NormalizePaymentMethod(payment.PaymentMethod)
		breakdown := effectiveBreakdown(*inv)
		breakdown = breakdown.WithBucket(method, floorZero(breakdown.Bucket(method).Sub(payment.Amount)))
		if err := e.persistReconciled(ctx, inv, breakdown); err != nil {
			e.resavePayments(ctx, []domain.Payment{payment})
			return err
		}

		res.Invoice = *inv
		res.Count = 1
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

// UndoAllPayments deletes every payment of invoiceNo and zeroes its
// breakdown.
func (e *Engine) UndoAllPayments(ctx context.Context, invoiceNo string) (Result, error) {
	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		payments, err := e.store.ListPaymentsByInvoice(ctx, invoiceNo)
		if err != nil {
			return fmt.Errorf("list payments of %s: %w", invoiceNo, err)
		}
		if len(payments) == 0 {
			return &NotFoundError{Kind: "payments for invoice", ID: invoiceNo}
		}
		deleted := make([]domain.Payment, 0, len(payments))
		for _, p := range payments {
			if err := e.store.DeletePayment(ctx, p.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				e.resavePayments(ctx, deleted)
				return fmt.Errorf("delete payment %s: %w", p.ID, err)
			}
			deleted = append(deleted, p)
		}

		if err := e.persistReconciled(ctx, inv, domain.PaymentBreakdown{}); err != nil {
			e.resavePayments(ctx, deleted)
			return err
		}

		res.Invoice = *inv
		res.Count = len(payments)
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

// ListPayments returns the payments of invoiceNo with normalised methods.
func (e *Engine) ListPayments(ctx context.Context, invoiceNo string) ([]domain.Payment, error) {
	if _, err := e.getInvoice(ctx, invoiceNo); err != nil {
		return nil, err
	}
	payments, err := e.store.ListPaymentsByInvoice(ctx, invoiceNo)
	if err != nil {
		return nil, fmt.Errorf("list payments of %s: %w", invoiceNo, err)
	}
	for i := range payments {
		payments[i].PaymentMethod = NormalizePaymentMethod(payments[i].PaymentMethod)
	}
	return payments, nil
}
