package ledger

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// Recalculate re-derives every invoice after afterInvoiceNo in the
// customer's chain, or the whole chain when afterInvoiceNo is empty. It is
// the operator retry for a PartialCascadeError and is safe to repeat.
func (e *Engine) Recalculate(ctx context.Context, customerKey, afterInvoiceNo string) (domain.CascadeReport, error) {
	if strings.TrimSpace(customerKey) == "" {
		return domain.CascadeReport{}, invalid("customer_key", "is required")
	}

	var report domain.CascadeReport
	err := e.withCustomers(ctx, []string{customerKey}, func(ctx context.Context) error {
		chain, err := e.chain(ctx, customerKey)
		if err != nil {
			return err
		}
		start := 0
		if afterInvoiceNo != "" {
			idx := indexOf(chain, afterInvoiceNo)
			if idx < 0 {
				return &NotFoundError{Kind: "invoice", ID: afterInvoiceNo}
			}
			start = idx + 1
		}
		report, err = e.walk(ctx, customerKey, chain, start)
		return err
	})
	return report, err
}

// cascadeAfter recalculates everything downstream of invoiceNo. The caller
// holds the customer lock and has already persisted invoiceNo.
func (e *Engine) cascadeAfter(ctx context.Context, customerKey, invoiceNo string) (domain.CascadeReport, error) {
	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return e.emptyReport(customerKey), err
	}
	idx := indexOf(chain, invoiceNo)
	if idx < 0 {
		return e.walk(ctx, customerKey, chain, 0)
	}
	return e.walk(ctx, customerKey, chain, idx+1)
}

// cascadeFrom recalculates positions start..n of the customer's chain.
func (e *Engine) cascadeFrom(ctx context.Context, customerKey string, start int) (domain.CascadeReport, error) {
	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return e.emptyReport(customerKey), err
	}
	return e.walk(ctx, customerKey, chain, start)
}

func (e *Engine) emptyReport(customerKey string) domain.CascadeReport {
	return domain.CascadeReport{RunID: uuid.NewString(), CustomerKey: customerKey, Updated: []string{}, Unchanged: []string{}}
}

// walk recomputes chain[start:] in order, persisting each invoice before
// deriving the next one from it. Invoices whose money fields come out
// unchanged are not rewritten.
func (e *Engine) walk(ctx context.Context, customerKey string, chain []domain.Invoice, start int) (domain.CascadeReport, error) {
	report := e.emptyReport(customerKey)
	if start < 0 {
		start = 0
	}

	var prevReturns decimal.Decimal
	havePrev := false
	for i := start; i < len(chain); i++ {
		if err := ctx.Err(); err != nil {
			return report, e.partial(report, chain, i, err)
		}

		carried := decimal.Zero
		if i > 0 {
			if !havePrev {
				total, _, err := e.liveReturns(ctx, chain[i-1].InvoiceNo)
				if err != nil {
					return report, e.partial(report, chain, i, err)
				}
				prevReturns = total
			}
			carried = adjustedOf(chain[i-1], prevReturns)
		}

		inv := chain[i]
		inv.Products = slices.Clone(chain[i].Products)
		returns, _, err := e.liveReturns(ctx, inv.InvoiceNo)
		if err != nil {
			return report, e.partial(report, chain, i, err)
		}
		for j := range inv.Products {
			inv.Products[j].Amount = LineAmount(inv.Products[j].Qty, inv.Products[j].Rate)
		}
		inv.Subtotal = subtotalOf(inv.Products)
		inv.PreviousBalance = carried
		inv.GrandTotal = inv.Subtotal.Add(carried)
		reconcile(&inv, returns)
		prevReturns = returns
		havePrev = true

		if sameMoney(chain[i], inv) {
			report.Unchanged = append(report.Unchanged, inv.InvoiceNo)
			continue
		}
		inv.UpdatedAt = e.now()
		if err := e.store.SaveInvoice(ctx, inv); err != nil {
			return report, e.partial(report, chain, i, err)
		}
		chain[i] = inv
		report.Updated = append(report.Updated, inv.InvoiceNo)
	}

	if len(report.Updated) > 0 {
		e.log.Info().
			Str("run_id", report.RunID).
			Str("customer_key", customerKey).
			Strs("updated", report.Updated).
			Msg("cascade finished")
	}
	return report, nil
}

func (e *Engine) partial(report domain.CascadeReport, chain []domain.Invoice, failed int, err error) error {
	resume := ""
	if failed > 0 {
		resume = chain[failed-1].InvoiceNo
	}
	e.log.Error().Err(err).
		Str("run_id", report.RunID).
		Str("customer_key", report.CustomerKey).
		Strs("updated", report.Updated).
		Str("failed_invoice_no", chain[failed].InvoiceNo).
		Str("resume_after", resume).
		Msg("cascade stopped")
	return &PartialCascadeError{
		CustomerKey:     report.CustomerKey,
		RunID:           report.RunID,
		Updated:         append([]string(nil), report.Updated...),
		FailedInvoiceNo: chain[failed].InvoiceNo,
		ResumeAfter:     resume,
		Err:             err,
	}
}
