package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"fabricbill/backend/internal/domain"
)

type SaveMode int

const (
	CreateInvoice SaveMode = iota + 1
	EditInvoice
)

func (m SaveMode) String() string {
	switch m {
	case CreateInvoice:
		return "create"
	case EditInvoice:
		return "edit"
	}
	return fmt.Sprintf("SaveMode(%d)", int(m))
}

// InvoiceInput is a bill as entered. Payment is only read on create; an
// edit keeps the payments, returns and breakdown already recorded.
type InvoiceInput struct {
	InvoiceNo       string
	CustomerKey     string
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	InvoiceDate     time.Time
	Products        []domain.ProductLine
	Payment         domain.PaymentBreakdown
}

func validateInvoice(in InvoiceInput, mode SaveMode) error {
	if mode != CreateInvoice && mode != EditInvoice {
		return invalid("mode", "unknown save mode %d", int(mode))
	}
	if strings.TrimSpace(in.InvoiceNo) == "" {
		return invalid("invoice_no", "is required")
	}
	if strings.TrimSpace(in.CustomerKey) == "" {
		return invalid("customer_key", "is required")
	}
	if in.InvoiceDate.IsZero() {
		return invalid("invoice_date", "is required")
	}
	if len(in.Products) == 0 {
		return invalid("products", "at least one product is required")
	}
	for i, p := range in.Products {
		field := fmt.Sprintf("products[%d]", i)
		if strings.TrimSpace(p.Description) == "" {
			return invalid(field+".description", "is required")
		}
		if !p.Qty.IsPositive() {
			return invalid(field+".qty", "must be greater than zero")
		}
		if p.Rate.IsNegative() {
			return invalid(field+".rate", "must not be negative")
		}
	}
	if mode == CreateInvoice {
		for _, method := range breakdownMethods {
			if in.Payment.Bucket(method).IsNegative() {
				return invalid("payment."+method, "must not be negative")
			}
		}
	}
	return nil
}

// invoiceNoLockKey keeps two customers from creating the same number at once.
func invoiceNoLockKey(invoiceNo string) string {
	return "invoice-no:" + invoiceNo
}

// SaveInvoice creates or edits a bill. The carried balance is derived from
// the invoice's position in the customer's chain and everything after it is
// recalculated.
func (e *Engine) SaveInvoice(ctx context.Context, in InvoiceInput, mode SaveMode) (Result, error) {
	in.InvoiceNo = strings.TrimSpace(in.InvoiceNo)
	in.CustomerKey = strings.TrimSpace(in.CustomerKey)
	if err := validateInvoice(in, mode); err != nil {
		return Result{}, err
	}
	if mode == CreateInvoice {
		return e.createInvoice(ctx, in)
	}
	return e.editInvoice(ctx, in)
}

func (e *Engine) createInvoice(ctx context.Context, in InvoiceInput) (Result, error) {
	var res Result
	keys := []string{in.CustomerKey, invoiceNoLockKey(in.InvoiceNo)}
	err := e.withCustomers(ctx, keys, func(ctx context.Context) error {
		available, err := e.IsInvoiceNumberAvailable(ctx, in.InvoiceNo)
		if err != nil {
			return err
		}
		if !available {
			return invalid("invoice_no", "invoice number %s already exists", in.InvoiceNo)
		}

		chain, err := e.chain(ctx, in.CustomerKey)
		if err != nil {
			return err
		}
		carried, err := e.carriedInto(ctx, chain, insertionIndex(chain, in.InvoiceNo))
		if err != nil {
			return err
		}

		now := e.now()
		inv := domain.Invoice{
			InvoiceNo: in.InvoiceNo,
			CreatedAt: now,
		}
		applyInput(&inv, in)
		inv.PreviousBalance = carried
		inv.GrandTotal = inv.Subtotal.Add(carried)

		saved, err := e.savePayments(ctx, inv, in.Payment, in.InvoiceDate, domain.PaymentTypeInitial)
		if err != nil {
			return err
		}
		if err := e.persistReconciled(ctx, &inv, in.Payment); err != nil {
			e.deletePayments(ctx, saved)
			return err
		}
		e.log.Info().
			Str("invoice_no", inv.InvoiceNo).
			Str("customer_key", inv.CustomerKey).
			Str("grand_total", inv.GrandTotal.StringFixed(2)).
			Msg("invoice created")

		res.Invoice = inv
		res.Count = len(saved)
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

func (e *Engine) editInvoice(ctx context.Context, in InvoiceInput) (Result, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		current, err := e.getInvoice(ctx, in.InvoiceNo)
		if err != nil {
			return Result{}, err
		}
		oldKey := current.CustomerKey

		var res Result
		moved := false
		err = e.withCustomers(ctx, []string{oldKey, in.CustomerKey}, func(ctx context.Context) error {
			fresh, err := e.getInvoice(ctx, in.InvoiceNo)
			if err != nil {
				return err
			}
			if fresh.CustomerKey != oldKey {
				moved = true
				return nil
			}
			res, err = e.applyEdit(ctx, *fresh, in)
			return err
		})
		if !moved {
			return res, err
		}
	}
	return Result{}, fmt.Errorf("%w: invoice %s keeps changing owner", ErrLockTimeout, in.InvoiceNo)
}

// applyEdit runs with the locks of both the old and the new customer held.
func (e *Engine) applyEdit(ctx context.Context, inv domain.Invoice, in InvoiceInput) (Result, error) {
	var res Result
	oldKey := inv.CustomerKey
	keyChanged := oldKey != in.CustomerKey

	formerIdx := -1
	if keyChanged {
		oldChain, err := e.chain(ctx, oldKey)
		if err != nil {
			return res, err
		}
		formerIdx = indexOf(oldChain, inv.InvoiceNo)
	}

	chain, err := e.chain(ctx, in.CustomerKey)
	if err != nil {
		return res, err
	}
	if idx := indexOf(chain, inv.InvoiceNo); idx >= 0 {
		chain = slices.Delete(chain, idx, idx+1)
	}
	carried, err := e.carriedInto(ctx, chain, insertionIndex(chain, inv.InvoiceNo))
	if err != nil {
		return res, err
	}

	applyInput(&inv, in)
	inv.PreviousBalance = carried
	inv.GrandTotal = inv.Subtotal.Add(carried)
	if err := e.persistReconciled(ctx, &inv, effectiveBreakdown(inv)); err != nil {
		return res, err
	}
	if keyChanged {
		if err := e.rehomeRecords(ctx, inv); err != nil {
			return res, err
		}
	}
	e.log.Info().
		Str("invoice_no", inv.InvoiceNo).
		Str("customer_key", inv.CustomerKey).
		Bool("customer_changed", keyChanged).
		Msg("invoice edited")

	res.Invoice = inv
	res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
	if err != nil || !keyChanged || formerIdx < 0 {
		return res, err
	}

	old, err := e.cascadeFrom(ctx, oldKey, formerIdx)
	res.Cascade.Updated = append(res.Cascade.Updated, old.Updated...)
	res.Cascade.Unchanged = append(res.Cascade.Unchanged, old.Unchanged...)
	return res, err
}

// rehomeRecords moves the payments and returns of inv to its new customer.
func (e *Engine) rehomeRecords(ctx context.Context, inv domain.Invoice) error {
	payments, err := e.store.ListPaymentsByInvoice(ctx, inv.InvoiceNo)
	if err != nil {
		return fmt.Errorf("list payments of %s: %w", inv.InvoiceNo, err)
	}
	for _, p := range payments {
		p.CustomerKey = inv.CustomerKey
		if _, err := e.store.SavePayment(ctx, p); err != nil {
			return fmt.Errorf("move payment %s: %w", p.ID, err)
		}
	}
	_, returns, err := e.liveReturns(ctx, inv.InvoiceNo)
	if err != nil {
		return err
	}
	for _, r := range returns {
		r.CustomerKey = inv.CustomerKey
		r.CustomerName = inv.CustomerName
		if _, err := e.store.SaveReturn(ctx, r); err != nil {
			return fmt.Errorf("move return %s: %w", r.ID, err)
		}
	}
	return nil
}

func applyInput(inv *domain.Invoice, in InvoiceInput) {
	inv.CustomerKey = in.CustomerKey
	inv.CustomerName = strings.TrimSpace(in.CustomerName)
	inv.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	inv.CustomerAddress = strings.TrimSpace(in.CustomerAddress)
	inv.InvoiceDate = in.InvoiceDate
	inv.Products = make([]domain.ProductLine, len(in.Products))
	for i, p := range in.Products {
		inv.Products[i] = domain.ProductLine{
			Description: strings.TrimSpace(p.Description),
			Qty:         p.Qty,
			Rate:        p.Rate,
			Amount:      LineAmount(p.Qty, p.Rate),
		}
	}
	inv.Subtotal = subtotalOf(inv.Products)
}
